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

// package session provides the registry of client sessions. A session binds
// a client id to the inbox of the connection currently serving it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/turtacn/exproto-go/pkg/actor"
	"github.com/turtacn/exproto-go/pkg/exproto"
	"github.com/turtacn/exproto-go/pkg/storage"
)

var (
	// ErrEmptyClientID is returned when a session is opened without a
	// client id.
	ErrEmptyClientID = errors.New("empty client id")
	// ErrNoSession is returned when no session exists for a client id.
	ErrNoSession = errors.New("no session")
)

// Session is the broker-side record of a client.
type Session struct {
	ClientID  string
	Client    exproto.ClientInfo
	Conn      exproto.ConnInfo
	Owner     *actor.Mailbox
	CreatedAt time.Time
}

// Registry tracks the open session of every client id. It is safe for
// concurrent use.
type Registry struct {
	sessions *storage.MemStore[*Session]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: storage.NewMemStore[*Session](),
	}
}

// OpenSession binds client.ClientID to owner. If another connection holds the
// session it is sent a Discard command on its control lane and loses it. Without cleanStart the
// creation time of the previous session is kept.
func (r *Registry) OpenSession(ctx context.Context, cleanStart bool, client exproto.ClientInfo, conn exproto.ConnInfo, owner *actor.Mailbox) error {
	if client.ClientID == "" {
		return ErrEmptyClientID
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("open session for %s: %w", client.ClientID, err)
	}

	sess := &Session{
		ClientID:  client.ClientID,
		Client:    client,
		Conn:      conn,
		Owner:     owner,
		CreatedAt: time.Now(),
	}
	prev, existed := r.sessions.Swap(client.ClientID, sess)
	if !existed {
		slog.Debug("session opened", "clientid", client.ClientID)
		return nil
	}
	if !cleanStart {
		sess.CreatedAt = prev.CreatedAt
	}
	if prev.Owner != nil && prev.Owner != owner {
		slog.Info("session taken over", "clientid", client.ClientID)
		// Deliveries may have filled the inbox; Discard skips the queue.
		prev.Owner.Notify(exproto.Discard{})
	}
	return nil
}

// CloseSession removes the session of clientID if owner still holds it.
func (r *Registry) CloseSession(clientID string, owner *actor.Mailbox) {
	if r.sessions.CompareAndDelete(clientID, func(s *Session) bool { return s.Owner == owner }) {
		slog.Debug("session closed", "clientid", clientID)
	}
}

// Lookup returns the session of clientID.
func (r *Registry) Lookup(clientID string) (*Session, error) {
	sess, err := r.sessions.Get(clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoSession
	}
	return sess, err
}

// Count returns the number of open sessions.
func (r *Registry) Count() int {
	return r.sessions.Len()
}
