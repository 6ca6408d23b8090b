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

// Package transport accepts client sockets for the gateway. Each accepted
// TCP or TLS connection, and each UDP peer, becomes a connection.Transport
// handed to an Opener.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	mbox "github.com/turtacn/exproto-go/pkg/actor"
	"github.com/turtacn/exproto-go/pkg/connection"
	"github.com/turtacn/exproto-go/pkg/exproto"
)

// handshakeTimeout bounds the TLS handshake of a new connection.
const handshakeTimeout = 10 * time.Second

// Opener starts serving a transport. connection.Manager implements it.
type Opener interface {
	Open(t connection.Transport) string
}

// Server accepts stream connections and opens a connection for each. It
// runs as a supervised actor.
type Server struct {
	name      string
	bind      string
	tlsConfig *tls.Config
	opener    Opener

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewTCPServer creates a plain TCP listener.
func NewTCPServer(name, bind string, opener Opener) *Server {
	return &Server{name: name, bind: bind, opener: opener}
}

// NewTLSServer creates a TLS listener. Connections are opened once their
// handshake has completed, so that the peer certificate is known.
func NewTLSServer(name, bind string, cfg *tls.Config, opener Opener) *Server {
	return &Server{name: name, bind: bind, tlsConfig: cfg, opener: opener}
}

func (s *Server) kind() exproto.SocketKind {
	if s.tlsConfig != nil {
		return exproto.SocketTLS
	}
	return exproto.SocketTCP
}

// Start listens and accepts until ctx is cancelled. An accept failure is
// returned so that the supervisor restarts the listener.
func (s *Server) Start(ctx context.Context, _ *mbox.Mailbox) error {
	ln, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("listener %s: failed to listen on %s: %w", s.name, s.bind, err)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.setListener(ln)
	defer s.setListener(nil)

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	slog.Info("listener started", "listener", s.name, "type", s.kind(), "addr", ln.Addr().String())
	err = s.acceptLoop(ctx, ln)
	ln.Close()
	s.wg.Wait()
	slog.Info("listener stopped", "listener", s.name)
	return err
}

// acceptLoop accepts connections until the listener is closed.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("listener %s: accept: %w", s.name, err)
		}
		if tc, ok := conn.(*tls.Conn); ok {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handshake(ctx, tc)
			}()
			continue
		}
		s.opener.Open(connection.NewStreamTransport(conn, exproto.SocketTCP))
	}
}

func (s *Server) handshake(ctx context.Context, conn *tls.Conn) {
	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(hctx); err != nil {
		slog.Debug("tls handshake failed", "listener", s.name, "peer", conn.RemoteAddr().String(), "err", err)
		conn.Close()
		return
	}
	s.opener.Open(connection.NewStreamTransport(conn, exproto.SocketTLS))
}

func (s *Server) setListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = ln
}

// Addr returns the network address that the server is listening on.
// It returns nil if the server is not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
