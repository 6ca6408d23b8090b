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

// Package adapter serves the ConnectionAdapter gRPC service, through which a
// protocol backend drives its connections: it sends bytes, authenticates
// clients, manages subscriptions and publishes messages.
package adapter

import (
	"context"
	"log/slog"

	"github.com/turtacn/exproto-go/pkg/exproto"
	"github.com/turtacn/exproto-go/pkg/metrics"
	"github.com/turtacn/exproto-go/pkg/rpc"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service the gateway exposes to backends.
const ServiceName = "emqx.exproto.v1.ConnectionAdapter"

const (
	methodSend         = "Send"
	methodClose        = "Close"
	methodAuthenticate = "Authenticate"
	methodStartTimer   = "StartTimer"
	methodSubscribe    = "Subscribe"
	methodUnsubscribe  = "Unsubscribe"
	methodPublish      = "Publish"
	methodKick         = "Kick"
)

// Connections routes a command to the connection identified by connID and
// returns the channel's answer.
type Connections interface {
	Call(ctx context.Context, connID string, cmd exproto.Command) error
}

// RegisterServer registers the ConnectionAdapter service of s, routing
// every request to conns.
func RegisterServer(s grpc.ServiceRegistrar, conns Connections) {
	s.RegisterService(serviceDesc, conns)
}

var serviceDesc = rpc.ServiceDesc(ServiceName, (*Connections)(nil),
	rpc.Method{Name: methodSend, Handler: serve(methodSend, decodeSend)},
	rpc.Method{Name: methodClose, Handler: serve(methodClose, decodeClose)},
	rpc.Method{Name: methodAuthenticate, Handler: serve(methodAuthenticate, decodeAuthenticate)},
	rpc.Method{Name: methodStartTimer, Handler: serve(methodStartTimer, decodeStartTimer)},
	rpc.Method{Name: methodSubscribe, Handler: serve(methodSubscribe, decodeSubscribe)},
	rpc.Method{Name: methodUnsubscribe, Handler: serve(methodUnsubscribe, decodeUnsubscribe)},
	rpc.Method{Name: methodPublish, Handler: serve(methodPublish, decodePublish)},
	rpc.Method{Name: methodKick, Handler: serve(methodKick, decodeKick)},
)

// serve builds the handler of one method. Command failures are reported
// through the response code; the gRPC status stays OK.
func serve(method string, decode func(rpc.Fields) (exproto.Command, error)) rpc.UnaryFunc {
	return func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		f := rpc.Read(in)
		conn, err := f.String("conn")
		var cmd exproto.Command
		if err == nil {
			cmd, err = decode(f)
		}
		if err == nil {
			err = srv.(Connections).Call(ctx, conn, cmd)
		}

		code := codeOf(err)
		metrics.AdapterRequestsTotal.WithLabelValues(method, code.String()).Inc()
		out := rpc.Object{"code": int(code)}
		if err != nil {
			slog.Debug("adapter request failed", "method", method, "conn", conn, "code", code, "err", err)
			out["message"] = err.Error()
		}
		return out.Struct()
	}
}
