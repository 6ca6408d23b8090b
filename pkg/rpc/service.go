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

package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// UnaryFunc serves one unary method of srv.
type UnaryFunc func(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// Method describes one unary method of a service.
type Method struct {
	Name    string
	Handler UnaryFunc
}

// ServiceDesc builds the descriptor of a service whose methods all take and
// return a Struct. handlerType is a pointer to the interface srv must
// implement, e.g. (*MyServer)(nil).
func ServiceDesc(service string, handlerType any, methods ...Method) *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: service,
		HandlerType: handlerType,
		Streams:     []grpc.StreamDesc{},
		Metadata:    "exproto.proto",
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.Name,
			Handler:    unaryHandler(FullMethod(service, m.Name), m.Handler),
		})
	}
	return desc
}

// FullMethod returns the /service/method path of a call.
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

func unaryHandler(fullMethod string, fn UnaryFunc) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return fn(srv, ctx, req.(*structpb.Struct))
		})
	}
}

// Invoke calls a unary method on conn.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, service, method string, req *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, FullMethod(service, method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}
