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
	"context"

	"github.com/turtacn/exproto-go/pkg/exproto"
	"github.com/turtacn/exproto-go/pkg/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server is implemented by protocol backends written in Go. Returning an
// error fails the call, which terminates the gateway connection.
type Server interface {
	OnSocketCreated(ctx context.Context, req *exproto.SocketCreated) error
	OnReceivedBytes(ctx context.Context, req *exproto.ReceivedBytes) error
	OnReceivedMessages(ctx context.Context, req *exproto.ReceivedMessages) error
	OnSocketClosed(ctx context.Context, req *exproto.SocketClosed) error
}

// RegisterServer registers srv as the ConnectionHandler service of s.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(serviceDesc, srv)
}

var serviceDesc = rpc.ServiceDesc(ServiceName, (*Server)(nil),
	rpc.Method{Name: methodSocketCreated, Handler: serve(decodeSocketCreated, Server.OnSocketCreated)},
	rpc.Method{Name: methodReceivedBytes, Handler: serve(decodeReceivedBytes, Server.OnReceivedBytes)},
	rpc.Method{Name: methodReceivedMessages, Handler: serve(decodeReceivedMessages, Server.OnReceivedMessages)},
	rpc.Method{Name: methodSocketClosed, Handler: serve(decodeSocketClosed, Server.OnSocketClosed)},
)

func serve[R any](decode func(*structpb.Struct) (R, error), call func(Server, context.Context, R) error) rpc.UnaryFunc {
	return func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		req, err := decode(in)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if err := call(srv.(Server), ctx, req); err != nil {
			if _, ok := status.FromError(err); ok {
				return nil, err
			}
			return nil, status.Error(codes.Unknown, err.Error())
		}
		return &structpb.Struct{}, nil
	}
}
