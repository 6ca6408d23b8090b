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

package connection

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"net"

	"github.com/turtacn/exproto-go/pkg/exproto"
)

const readBufferSize = 4096

// Transport is the byte stream of one client. Recv and Send are called from
// different goroutines; Close unblocks a pending Recv.
type Transport interface {
	// Recv blocks until bytes arrive. The returned slice is owned by the
	// caller.
	Recv() ([]byte, error)
	Send(data []byte) error
	Close() error
	Kind() exproto.SocketKind
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	// PeerCertificate returns the verified client certificate, if any.
	PeerCertificate() *x509.Certificate
}

// streamTransport adapts a stream connection such as TCP or TLS.
type streamTransport struct {
	conn net.Conn
	kind exproto.SocketKind
	buf  []byte
}

// NewStreamTransport wraps conn. A *tls.Conn should have completed its
// handshake so that the peer certificate is known.
func NewStreamTransport(conn net.Conn, kind exproto.SocketKind) Transport {
	return &streamTransport{conn: conn, kind: kind, buf: make([]byte, readBufferSize)}
}

func (t *streamTransport) Recv() ([]byte, error) {
	n, err := t.conn.Read(t.buf)
	if n > 0 {
		return bytes.Clone(t.buf[:n]), nil
	}
	return nil, err
}

func (t *streamTransport) Send(data []byte) error {
	_, err := t.conn.Write(data)
	return err
}

func (t *streamTransport) Close() error             { return t.conn.Close() }
func (t *streamTransport) Kind() exproto.SocketKind { return t.kind }
func (t *streamTransport) LocalAddr() net.Addr      { return t.conn.LocalAddr() }
func (t *streamTransport) RemoteAddr() net.Addr     { return t.conn.RemoteAddr() }

func (t *streamTransport) PeerCertificate() *x509.Certificate {
	tc, ok := t.conn.(*tls.Conn)
	if !ok {
		return nil
	}
	certs := tc.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil
	}
	return certs[0]
}

// metaOf describes a transport for a new channel.
func metaOf(id string, t Transport) exproto.ConnMeta {
	return exproto.ConnMeta{
		ID:       id,
		Kind:     t.Kind(),
		Peer:     exproto.AddressOf(t.RemoteAddr()),
		Local:    exproto.AddressOf(t.LocalAddr()),
		PeerCert: exproto.SummarizeCert(t.PeerCertificate()),
	}
}
