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

package exproto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/turtacn/exproto-go/pkg/actor"
)

type fakeBackend struct {
	calls []Request
}

func (b *fakeBackend) Cast(req Request) { b.calls = append(b.calls, req) }

func (b *fakeBackend) names() []CallName {
	names := make([]CallName, 0, len(b.calls))
	for _, r := range b.calls {
		names = append(names, r.Call())
	}
	return names
}

func (b *fakeBackend) last() Request {
	if len(b.calls) == 0 {
		return nil
	}
	return b.calls[len(b.calls)-1]
}

type fakeAuth struct {
	result AuthResult
	err    error
	seen   []ClientInfo
}

func (a *fakeAuth) Authenticate(_ context.Context, info ClientInfo, _ string) (AuthResult, error) {
	a.seen = append(a.seen, info)
	return a.result, a.err
}

type fakeSessions struct {
	err    error
	opened []ClientInfo
	closed []string
}

func (s *fakeSessions) OpenSession(_ context.Context, _ bool, client ClientInfo, _ ConnInfo, _ *actor.Mailbox) error {
	if s.err != nil {
		return s.err
	}
	s.opened = append(s.opened, client)
	return nil
}

func (s *fakeSessions) CloseSession(clientID string, _ *actor.Mailbox) {
	s.closed = append(s.closed, clientID)
}

type fakeBus struct {
	subs      map[string]SubOpts
	published []*Message
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string]SubOpts)}
}

func (b *fakeBus) Subscribe(filter string, _ Subscriber, opts SubOpts) { b.subs[filter] = opts }

func (b *fakeBus) Unsubscribe(filter string, _ Subscriber) { delete(b.subs, filter) }

func (b *fakeBus) Publish(msg *Message) int {
	b.published = append(b.published, msg)
	return 1
}

type fixture struct {
	backend  *fakeBackend
	auth     *fakeAuth
	sessions *fakeSessions
	bus      *fakeBus
	inbox    *actor.Mailbox
	ch       *Channel
}

func testMeta() ConnMeta {
	return ConnMeta{
		ID:    "conn-1",
		Kind:  SocketTCP,
		Peer:  Address{Host: "10.0.0.2", Port: 52100},
		Local: Address{Host: "10.0.0.1", Port: 7993},
	}
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		backend:  &fakeBackend{},
		auth:     &fakeAuth{},
		sessions: &fakeSessions{},
		bus:      newFakeBus(),
		inbox:    actor.NewMailbox(8),
	}
	f.ch = New(testMeta(), Deps{
		Backend:  f.backend,
		Auth:     f.auth,
		Sessions: f.sessions,
		Bus:      f.bus,
		Inbox:    f.inbox,
	}, opts...)
	return f
}

// ack replies successfully to the inflight call.
func (f *fixture) ack(t *testing.T) Result {
	t.Helper()
	call, busy := f.ch.Inflight()
	require.True(t, busy, "no call inflight")
	return f.ch.HandleReply(BackendReply{Call: call})
}

// connected returns a fixture whose socket-created call has been
// acknowledged.
func connected(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := newFixture(t, opts...)
	f.ack(t)
	require.Equal(t, Connected, f.ch.ConnState())
	return f
}

func (f *fixture) login(t *testing.T, cand Candidate) {
	t.Helper()
	res := f.ch.HandleCommand(context.Background(), Authenticate{Info: cand, Password: "pw"})
	require.Equal(t, Reply{Actions: []Action{EmitEvent{Name: EventAuthorized}}}, res)
}
