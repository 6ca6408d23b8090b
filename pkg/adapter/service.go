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
	"log/slog"
	"net"
	"sync"

	"github.com/turtacn/exproto-go/pkg/actor"
	"google.golang.org/grpc"
)

// Service runs the adapter gRPC server as a supervised actor.
type Service struct {
	bind  string
	conns Connections
	opts  []grpc.ServerOption

	mu   sync.Mutex
	addr net.Addr
}

// NewService creates the adapter service listening on bind.
func NewService(bind string, conns Connections, opts ...grpc.ServerOption) *Service {
	return &Service{bind: bind, conns: conns, opts: opts}
}

// Start serves until ctx is cancelled, then stops gracefully.
func (s *Service) Start(ctx context.Context, _ *actor.Mailbox) error {
	lis, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.bind, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *Service) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(s.opts...)
	RegisterServer(srv, s.conns)
	s.setAddr(lis.Addr())
	defer s.setAddr(nil)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()
	slog.Info("adapter server listening", "addr", lis.Addr().String())

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		<-errCh
		slog.Info("adapter server stopped", "addr", lis.Addr().String())
		return nil
	case err := <-errCh:
		return fmt.Errorf("adapter server failed: %w", err)
	}
}

func (s *Service) setAddr(addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addr = addr
}

// Addr returns the address the service is listening on, or nil.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
