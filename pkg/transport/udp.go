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

package transport

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	mbox "github.com/turtacn/exproto-go/pkg/actor"
	"github.com/turtacn/exproto-go/pkg/exproto"
)

const (
	maxDatagramSize = 65535
	peerQueueSize   = 64
)

// ErrIdleTimeout is returned by a UDP peer that received nothing for the
// listener's idle timeout.
var ErrIdleTimeout = errors.New("idle timeout")

// UDPServer demultiplexes datagrams by source address. Every new source
// becomes a connection.
type UDPServer struct {
	name   string
	bind   string
	idle   time.Duration
	opener Opener

	mu    sync.Mutex
	conn  net.PacketConn
	peers map[string]*udpPeer
}

// NewUDPServer creates a UDP listener. Peers silent for idle are closed;
// zero keeps them until the gateway closes them.
func NewUDPServer(name, bind string, idle time.Duration, opener Opener) *UDPServer {
	return &UDPServer{name: name, bind: bind, idle: idle, opener: opener}
}

// Start reads datagrams until ctx is cancelled.
func (s *UDPServer) Start(ctx context.Context, _ *mbox.Mailbox) error {
	pc, err := net.ListenPacket("udp", s.bind)
	if err != nil {
		return fmt.Errorf("listener %s: failed to listen on %s: %w", s.name, s.bind, err)
	}
	s.mu.Lock()
	s.conn = pc
	s.peers = make(map[string]*udpPeer)
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { pc.Close() })
	defer stop()

	slog.Info("listener started", "listener", s.name, "type", exproto.SocketUDP, "addr", pc.LocalAddr().String())
	err = s.readLoop(ctx, pc)
	pc.Close()
	s.closePeers()
	slog.Info("listener stopped", "listener", s.name)
	return err
}

func (s *UDPServer) readLoop(ctx context.Context, pc net.PacketConn) error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("listener %s: read: %w", s.name, err)
		}
		peer, created := s.peer(pc, addr)
		if created {
			s.opener.Open(peer)
		}
		peer.deliver(bytes.Clone(buf[:n]))
	}
}

// peer returns the peer for addr, creating it if needed.
func (s *UDPServer) peer(pc net.PacketConn, addr net.Addr) (*udpPeer, bool) {
	key := addr.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[key]; ok {
		return p, false
	}
	p := &udpPeer{
		conn:    pc,
		addr:    addr,
		idle:    s.idle,
		inbound: make(chan []byte, peerQueueSize),
		done:    make(chan struct{}),
	}
	p.onClose = func() { s.remove(key, p) }
	s.peers[key] = p
	return p, true
}

func (s *UDPServer) remove(key string, p *udpPeer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers[key] == p {
		delete(s.peers, key)
	}
}

func (s *UDPServer) closePeers() {
	s.mu.Lock()
	peers := make([]*udpPeer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		p.Close()
	}
}

// Peers returns the number of open peers.
func (s *UDPServer) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Addr returns the local address, or nil if the server is not listening.
func (s *UDPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// udpPeer is the transport of one UDP source address.
type udpPeer struct {
	conn    net.PacketConn
	addr    net.Addr
	idle    time.Duration
	inbound chan []byte
	done    chan struct{}
	once    sync.Once
	onClose func()
}

// deliver queues a datagram, dropping it when the peer lags behind.
func (p *udpPeer) deliver(data []byte) {
	select {
	case p.inbound <- data:
	case <-p.done:
	default:
		slog.Debug("dropping datagram, peer queue full", "peer", p.addr.String())
	}
}

func (p *udpPeer) Recv() ([]byte, error) {
	var timeout <-chan time.Time
	if p.idle > 0 {
		t := time.NewTimer(p.idle)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case data := <-p.inbound:
		return data, nil
	case <-p.done:
		return nil, net.ErrClosed
	case <-timeout:
		return nil, ErrIdleTimeout
	}
}

func (p *udpPeer) Send(data []byte) error {
	select {
	case <-p.done:
		return net.ErrClosed
	default:
	}
	_, err := p.conn.WriteTo(data, p.addr)
	return err
}

func (p *udpPeer) Close() error {
	p.once.Do(func() {
		close(p.done)
		if p.onClose != nil {
			p.onClose()
		}
	})
	return nil
}

func (p *udpPeer) Kind() exproto.SocketKind           { return exproto.SocketUDP }
func (p *udpPeer) LocalAddr() net.Addr                { return p.conn.LocalAddr() }
func (p *udpPeer) RemoteAddr() net.Addr               { return p.addr }
func (p *udpPeer) PeerCertificate() *x509.Certificate { return nil }
