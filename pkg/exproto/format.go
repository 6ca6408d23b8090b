// Copyright 2023 The emqx-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package exproto

import (
	"crypto/x509"
	"encoding/hex"
	"net"
	"strconv"
	"strings"

	"github.com/turtacn/exproto-go/pkg/topic"
)

// SocketInfo is the descriptor sent to the backend with socket-created.
type SocketInfo struct {
	SocketKind SocketKind
	PeerName   Address
	SockName   Address
	PeerCert   *CertSummary
}

// Describe converts connection metadata into the descriptor the backend
// receives.
func Describe(meta ConnMeta) SocketInfo {
	return SocketInfo{
		SocketKind: meta.Kind,
		PeerName:   meta.Peer,
		SockName:   meta.Local,
		PeerCert:   meta.PeerCert,
	}
}

// AddressOf converts a net.Addr into an Address. Unknown address types are
// parsed from their string form; the port is 0 when it cannot be found.
func AddressOf(addr net.Addr) Address {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return Address{Host: a.IP.String(), Port: a.Port}
	case *net.UDPAddr:
		return Address{Host: a.IP.String(), Port: a.Port}
	case nil:
		return Address{}
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return Address{Host: addr.String()}
	}
	p, _ := strconv.Atoi(port)
	return Address{Host: host, Port: p}
}

// SummarizeCert extracts the common name and distinguished name of a peer
// certificate.
func SummarizeCert(cert *x509.Certificate) *CertSummary {
	if cert == nil {
		return nil
	}
	return &CertSummary{
		CN: cert.Subject.CommonName,
		DN: cert.Subject.String(),
	}
}

// HexID renders a message id as lowercase hex.
func HexID(id []byte) string {
	return hex.EncodeToString(id)
}

// FormatFrom renders the sender of a message. Messages without a sender
// render as the empty string.
func FormatFrom(from string) string {
	return strings.TrimSpace(from)
}

// ToDelivery converts a broker message into a delivery record. The
// mountpoint is stripped from the topic so that the backend sees topics in
// the same namespace it subscribed in.
func ToDelivery(node, mountpoint string, msg *Message) Delivery {
	return Delivery{
		Node:      node,
		ID:        HexID(msg.ID),
		QoS:       msg.QoS,
		From:      FormatFrom(msg.From),
		Topic:     topic.Unmount(mountpoint, msg.Topic),
		Payload:   msg.Payload,
		Timestamp: msg.Timestamp.UnixMilli(),
	}
}
