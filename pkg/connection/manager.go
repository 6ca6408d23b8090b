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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/turtacn/exproto-go/pkg/adapter"
	"github.com/turtacn/exproto-go/pkg/exproto"
	"github.com/turtacn/exproto-go/pkg/metrics"
	"github.com/turtacn/exproto-go/pkg/storage"
)

// ErrNoClient is returned when no connection serves a client id.
var ErrNoClient = errors.New("no connection for client")

// Backends creates the backend of each new channel. handler.Client
// implements it.
type Backends interface {
	Backend(onReply func(exproto.BackendReply)) exproto.Backend
}

// Options tunes the connections opened by a Manager.
type Options struct {
	Node       string
	Mountpoint string
	HighWater  int
	InboxSize  int
	// Linger bounds how long a terminated connection waits for the backend
	// to answer its last calls.
	Linger time.Duration
	// CallTimeout bounds a synchronous command when the caller's context
	// has no deadline.
	CallTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Node == "" {
		o.Node = "local"
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 1000
	}
	if o.Linger <= 0 {
		o.Linger = 5 * time.Second
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 5 * time.Second
	}
}

// Manager opens connections and routes adapter commands to them. It
// implements adapter.Connections.
type Manager struct {
	system   *actor.ActorSystem
	backends Backends
	auth     exproto.Authenticator
	sessions exproto.SessionRegistry
	bus      exproto.PubSub
	opts     Options
	logger   *slog.Logger

	// conns maps connection ids to actors, clients maps client ids to
	// connection ids.
	conns   *storage.MemStore[*actor.PID]
	clients *storage.MemStore[string]
}

// NewManager creates a Manager spawning connection actors on system.
func NewManager(system *actor.ActorSystem, backends Backends, auth exproto.Authenticator, sessions exproto.SessionRegistry, bus exproto.PubSub, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		system:   system,
		backends: backends,
		auth:     auth,
		sessions: sessions,
		bus:      bus,
		opts:     opts,
		logger:   slog.Default(),
		conns:    storage.NewMemStore[*actor.PID](),
		clients:  storage.NewMemStore[string](),
	}
}

// Open spawns the actor serving t and returns the connection id.
func (m *Manager) Open(t Transport) string {
	id := uuid.NewString()
	m.system.Root.Spawn(New(id, t, m))
	metrics.ConnectionsTotal.Inc()
	return id
}

// Call runs cmd on the channel of connID and returns its reply error.
func (m *Manager) Call(ctx context.Context, connID string, cmd exproto.Command) error {
	pid, err := m.conns.Get(connID)
	if err != nil {
		return fmt.Errorf("%w: %s", adapter.ErrConnNotAlive, connID)
	}
	timeout := m.opts.CallTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return ctx.Err()
	}

	res, err := m.system.Root.RequestFuture(pid, &commandRequest{ctx: ctx, cmd: cmd}, timeout).Result()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", adapter.ErrConnNotAlive, connID, err)
	}
	resp, ok := res.(*commandResponse)
	if !ok {
		return fmt.Errorf("unexpected response %T from %s", res, connID)
	}
	return resp.err
}

// Kick terminates the connection serving clientID.
func (m *Manager) Kick(clientID string) error {
	connID, err := m.clients.Get(clientID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNoClient, clientID)
	}
	pid, err := m.conns.Get(connID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNoClient, clientID)
	}
	m.system.Root.Send(pid, &castCommand{cmd: exproto.Kick{}})
	return nil
}

// Lookup returns the connection id serving clientID.
func (m *Manager) Lookup(clientID string) (string, error) {
	connID, err := m.clients.Get(clientID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoClient, clientID)
	}
	return connID, nil
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	return m.conns.Len()
}

// CloseAll closes every connection and waits until they have stopped or
// ctx ends.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.conns.Range(func(_ string, pid *actor.PID) bool {
		m.system.Root.Send(pid, &castCommand{cmd: exproto.Close{}})
		return true
	})
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for m.Count() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d connections still open: %w", m.Count(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (m *Manager) register(connID string, pid *actor.PID) {
	m.conns.Set(connID, pid)
}

func (m *Manager) bind(clientID, connID string) {
	m.clients.Set(clientID, connID)
}

func (m *Manager) unregister(connID, clientID string) {
	m.conns.Delete(connID)
	if clientID != "" {
		m.clients.CompareAndDelete(clientID, func(v string) bool { return v == connID })
	}
}
