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

// Package handler is the gateway side of the ConnectionHandler service: it
// delivers socket events to the protocol backend over gRPC.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/turtacn/exproto-go/pkg/exproto"
	"github.com/turtacn/exproto-go/pkg/metrics"
	"github.com/turtacn/exproto-go/pkg/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Client calls the backend's ConnectionHandler service.
type Client struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	timeout time.Duration
}

// Dial creates a client for the backend at target. The connection is
// established lazily on the first call. Extra options are appended to the
// defaults, which use plaintext credentials.
func Dial(target string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create handler client for %s: %w", target, err)
	}
	c := NewClient(conn, timeout)
	c.closer = conn.Close
	return c, nil
}

// NewClient wraps an existing connection. A zero timeout leaves calls
// unbounded.
func NewClient(conn grpc.ClientConnInterface, timeout time.Duration) *Client {
	return &Client{conn: conn, timeout: timeout}
}

// Close releases the connection if the client created it.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// Check reports whether the connection to the backend is usable. An idle
// connection is asked to connect and counts as healthy.
func (c *Client) Check(context.Context) error {
	cc, ok := c.conn.(*grpc.ClientConn)
	if !ok {
		return nil
	}
	switch state := cc.GetState(); state {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return fmt.Errorf("handler connection to %s is %s", cc.Target(), state)
	case connectivity.Idle:
		cc.Connect()
	}
	return nil
}

// Call delivers req and waits for the backend's answer.
func (c *Client) Call(ctx context.Context, req exproto.Request) error {
	method, err := methodOf(req.Call())
	if err != nil {
		return err
	}
	in, err := encodeRequest(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", req.Call(), err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	_, err = rpc.Invoke(ctx, c.conn, ServiceName, method, in)
	return err
}

// Backend returns an exproto.Backend for one connection. Every cast runs
// in its own goroutine and its outcome is handed to onReply.
func (c *Client) Backend(onReply func(exproto.BackendReply)) exproto.Backend {
	return &backend{client: c, onReply: onReply}
}

type backend struct {
	client  *Client
	onReply func(exproto.BackendReply)
}

func (b *backend) Cast(req exproto.Request) {
	go func() {
		call := req.Call()
		start := time.Now()
		err := b.client.Call(context.Background(), req)
		metrics.BackendCallDuration.WithLabelValues(string(call)).Observe(time.Since(start).Seconds())

		result := "ok"
		if err != nil {
			result = status.Code(err).String()
			slog.Debug("backend call failed", "conn", req.ConnID(), "call", call, "err", err)
		}
		metrics.BackendRepliesTotal.WithLabelValues(string(call), result).Inc()
		b.onReply(exproto.BackendReply{Call: call, Err: err})
	}()
}
