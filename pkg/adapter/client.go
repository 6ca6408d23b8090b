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

package adapter

import (
	"context"
	"fmt"

	"github.com/turtacn/exproto-go/pkg/exproto"
	"github.com/turtacn/exproto-go/pkg/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is used by Go backends to drive their gateway connections.
type Client struct {
	conn   grpc.ClientConnInterface
	closer func() error
}

// Dial creates a client for the gateway adapter at target.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapter client for %s: %w", target, err)
	}
	return &Client{conn: conn, closer: conn.Close}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close releases the connection if the client created it.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// call invokes method and turns a non-success code into a *CodeError.
func (c *Client) call(ctx context.Context, method string, req rpc.Object) error {
	in, err := req.Struct()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", method, err)
	}
	out, err := rpc.Invoke(ctx, c.conn, ServiceName, method, in)
	if err != nil {
		return err
	}
	f := rpc.Read(out)
	code, err := f.OptInt("code")
	if err != nil {
		return err
	}
	if Code(code) == Success {
		return nil
	}
	msg, _ := f.OptString("message")
	return &CodeError{Code: Code(code), Message: msg}
}

// Send writes data to the client of conn.
func (c *Client) Send(ctx context.Context, conn string, data []byte) error {
	return c.call(ctx, methodSend, rpc.Object{"conn": conn, "bytes": data})
}

// CloseConn closes conn normally.
func (c *Client) CloseConn(ctx context.Context, conn string) error {
	return c.call(ctx, methodClose, rpc.Object{"conn": conn})
}

// Authenticate authenticates the client of conn and opens its session.
func (c *Client) Authenticate(ctx context.Context, conn string, info exproto.Candidate, password string) error {
	return c.call(ctx, methodAuthenticate, rpc.Object{
		"conn": conn,
		"clientinfo": map[string]any{
			"proto_name": info.ProtoName,
			"proto_ver":  info.ProtoVer,
			"clientid":   info.ClientID,
			"username":   info.Username,
			"mountpoint": info.Mountpoint,
			"keepalive":  info.Keepalive,
		},
		"password": password,
	})
}

// StartTimer is accepted for compatibility; the gateway arms no timers.
func (c *Client) StartTimer(ctx context.Context, conn, kind string, interval int) error {
	return c.call(ctx, methodStartTimer, rpc.Object{"conn": conn, "type": kind, "interval": interval})
}

// Subscribe subscribes the client of conn to filter.
func (c *Client) Subscribe(ctx context.Context, conn, filter string, qos byte) error {
	return c.call(ctx, methodSubscribe, rpc.Object{"conn": conn, "topic": filter, "qos": int(qos)})
}

// Unsubscribe removes the subscription of the client of conn to filter.
func (c *Client) Unsubscribe(ctx context.Context, conn, filter string) error {
	return c.call(ctx, methodUnsubscribe, rpc.Object{"conn": conn, "topic": filter})
}

// Publish publishes a message on behalf of the client of conn.
func (c *Client) Publish(ctx context.Context, conn, topic string, qos byte, payload []byte) error {
	return c.call(ctx, methodPublish, rpc.Object{"conn": conn, "topic": topic, "qos": int(qos), "payload": payload})
}

// Kick terminates conn.
func (c *Client) Kick(ctx context.Context, conn string) error {
	return c.call(ctx, methodKick, rpc.Object{"conn": conn})
}
