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

package handler

import (
	"fmt"

	"github.com/turtacn/exproto-go/pkg/exproto"
	"github.com/turtacn/exproto-go/pkg/rpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service the backend implements.
const ServiceName = "emqx.exproto.v1.ConnectionHandler"

const (
	methodSocketCreated    = "OnSocketCreated"
	methodReceivedBytes    = "OnReceivedBytes"
	methodReceivedMessages = "OnReceivedMessages"
	methodSocketClosed     = "OnSocketClosed"
)

func methodOf(call exproto.CallName) (string, error) {
	switch call {
	case exproto.CallSocketCreated:
		return methodSocketCreated, nil
	case exproto.CallReceivedBytes:
		return methodReceivedBytes, nil
	case exproto.CallReceivedMessages:
		return methodReceivedMessages, nil
	case exproto.CallSocketClosed:
		return methodSocketClosed, nil
	default:
		return "", fmt.Errorf("unknown call %q", call)
	}
}

func encodeAddress(a exproto.Address) map[string]any {
	return map[string]any{"host": a.Host, "port": a.Port}
}

// encodeRequest builds the wire form of req.
func encodeRequest(req exproto.Request) (*structpb.Struct, error) {
	obj := rpc.Object{"conn": req.ConnID()}
	switch r := req.(type) {
	case *exproto.SocketCreated:
		info := map[string]any{
			"socktype": string(r.Info.SocketKind),
			"peername": encodeAddress(r.Info.PeerName),
			"sockname": encodeAddress(r.Info.SockName),
		}
		if r.Info.PeerCert != nil {
			info["peercert"] = map[string]any{"cn": r.Info.PeerCert.CN, "dn": r.Info.PeerCert.DN}
		}
		obj["conninfo"] = info
	case *exproto.ReceivedBytes:
		obj["bytes"] = r.Bytes
	case *exproto.ReceivedMessages:
		msgs := make([]any, 0, len(r.Messages))
		for _, m := range r.Messages {
			msgs = append(msgs, map[string]any{
				"node":      m.Node,
				"id":        m.ID,
				"qos":       int(m.QoS),
				"from":      m.From,
				"topic":     m.Topic,
				"payload":   m.Payload,
				"timestamp": m.Timestamp,
			})
		}
		obj["messages"] = msgs
	case *exproto.SocketClosed:
		obj["reason"] = r.Reason
	default:
		return nil, fmt.Errorf("unknown request %T", req)
	}
	return obj.Struct()
}

func decodeAddress(f rpc.Fields, key string) (exproto.Address, error) {
	a, err := f.Struct(key)
	if err != nil {
		return exproto.Address{}, err
	}
	host, err := a.String("host")
	if err != nil {
		return exproto.Address{}, err
	}
	port, err := a.Int("port")
	if err != nil {
		return exproto.Address{}, err
	}
	return exproto.Address{Host: host, Port: int(port)}, nil
}

func decodeSocketCreated(s *structpb.Struct) (*exproto.SocketCreated, error) {
	f := rpc.Read(s)
	conn, err := f.String("conn")
	if err != nil {
		return nil, err
	}
	ci, err := f.Struct("conninfo")
	if err != nil {
		return nil, err
	}
	kind, err := ci.String("socktype")
	if err != nil {
		return nil, err
	}
	req := &exproto.SocketCreated{Conn: conn, Info: exproto.SocketInfo{SocketKind: exproto.SocketKind(kind)}}
	if req.Info.PeerName, err = decodeAddress(ci, "peername"); err != nil {
		return nil, err
	}
	if req.Info.SockName, err = decodeAddress(ci, "sockname"); err != nil {
		return nil, err
	}
	cert, ok, err := ci.OptStruct("peercert")
	if err != nil {
		return nil, err
	}
	if ok {
		cn, _ := cert.OptString("cn")
		dn, _ := cert.OptString("dn")
		req.Info.PeerCert = &exproto.CertSummary{CN: cn, DN: dn}
	}
	return req, nil
}

func decodeReceivedBytes(s *structpb.Struct) (*exproto.ReceivedBytes, error) {
	f := rpc.Read(s)
	conn, err := f.String("conn")
	if err != nil {
		return nil, err
	}
	b, err := f.Bytes("bytes")
	if err != nil {
		return nil, err
	}
	return &exproto.ReceivedBytes{Conn: conn, Bytes: b}, nil
}

func decodeReceivedMessages(s *structpb.Struct) (*exproto.ReceivedMessages, error) {
	f := rpc.Read(s)
	conn, err := f.String("conn")
	if err != nil {
		return nil, err
	}
	items, err := f.Structs("messages")
	if err != nil {
		return nil, err
	}
	req := &exproto.ReceivedMessages{Conn: conn, Messages: make([]exproto.Delivery, 0, len(items))}
	for _, m := range items {
		var d exproto.Delivery
		if d.Node, err = m.OptString("node"); err != nil {
			return nil, err
		}
		if d.ID, err = m.OptString("id"); err != nil {
			return nil, err
		}
		qos, err := m.OptInt("qos")
		if err != nil {
			return nil, err
		}
		d.QoS = byte(qos)
		if d.From, err = m.OptString("from"); err != nil {
			return nil, err
		}
		if d.Topic, err = m.String("topic"); err != nil {
			return nil, err
		}
		if d.Payload, err = m.OptBytes("payload"); err != nil {
			return nil, err
		}
		if d.Timestamp, err = m.OptInt("timestamp"); err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, d)
	}
	return req, nil
}

func decodeSocketClosed(s *structpb.Struct) (*exproto.SocketClosed, error) {
	f := rpc.Read(s)
	conn, err := f.String("conn")
	if err != nil {
		return nil, err
	}
	reason, err := f.OptString("reason")
	if err != nil {
		return nil, err
	}
	return &exproto.SocketClosed{Conn: conn, Reason: reason}, nil
}
