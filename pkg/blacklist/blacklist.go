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

// Package blacklist keeps the list of banned clients. A client is refused at
// authentication when its client id, username or peer host matches an
// entry that has not expired.
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/turtacn/exproto-go/pkg/actor"
	"github.com/turtacn/exproto-go/pkg/storage"
)

// Kind is the client attribute an entry matches.
type Kind string

const (
	KindClientID Kind = "clientid"
	KindUsername Kind = "username"
	KindPeerHost Kind = "peerhost"
)

var (
	ErrInvalidKind    = errors.New("invalid blacklist kind")
	ErrInvalidPattern = errors.New("invalid blacklist pattern")
	ErrEmptyEntry     = errors.New("either value or pattern is required")
	ErrEntryNotFound  = errors.New("blacklist entry not found")
)

// Entry bans the clients whose attribute equals Value or, when Pattern is
// set, matches the regular expression. A peerhost Value may be a CIDR.
type Entry struct {
	Kind    Kind
	Value   string
	Pattern string
	Reason  string
	// ExpiresAt is zero for permanent bans.
	ExpiresAt time.Time

	re      *regexp.Regexp
	network *net.IPNet
}

// Key identifies the entry within its list.
func (e *Entry) Key() string {
	if e.Pattern != "" {
		return string(e.Kind) + ":~" + e.Pattern
	}
	return string(e.Kind) + ":" + e.Value
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

func (e *Entry) matches(value string) bool {
	switch {
	case e.re != nil:
		return e.re.MatchString(value)
	case e.network != nil:
		ip := net.ParseIP(value)
		return ip != nil && e.network.Contains(ip)
	default:
		return e.Value == value
	}
}

// List is a concurrent-safe set of entries.
type List struct {
	entries         *storage.MemStore[*Entry]
	cleanupInterval time.Duration
}

// New creates an empty list whose Start loop drops expired entries every
// cleanupInterval.
func New(cleanupInterval time.Duration) *List {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &List{
		entries:         storage.NewMemStore[*Entry](),
		cleanupInterval: cleanupInterval,
	}
}

// Add validates e and stores it, replacing an entry with the same key.
func (l *List) Add(e Entry) error {
	switch e.Kind {
	case KindClientID, KindUsername, KindPeerHost:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, e.Kind)
	}
	if e.Value == "" && e.Pattern == "" {
		return ErrEmptyEntry
	}
	if e.Pattern != "" {
		re, err := regexp.Compile(e.Pattern)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		e.re = re
	} else if e.Kind == KindPeerHost && strings.Contains(e.Value, "/") {
		_, network, err := net.ParseCIDR(e.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		e.network = network
	}
	return l.entries.Set(e.Key(), &e)
}

// Remove deletes the entry with key.
func (l *List) Remove(key string) error {
	if _, err := l.entries.Get(key); err != nil {
		return ErrEntryNotFound
	}
	return l.entries.Delete(key)
}

// Check returns the first live entry banning a client with the given
// attributes.
func (l *List) Check(clientID, username, peerHost string) (Entry, bool) {
	now := time.Now()
	var found *Entry
	l.entries.Range(func(_ string, e *Entry) bool {
		if e.expired(now) {
			return true
		}
		var value string
		switch e.Kind {
		case KindClientID:
			value = clientID
		case KindUsername:
			value = username
		case KindPeerHost:
			value = peerHost
		}
		if value != "" && e.matches(value) {
			found = e
			return false
		}
		return true
	})
	if found == nil {
		return Entry{}, false
	}
	return *found, true
}

// Entries returns the stored entries ordered by key.
func (l *List) Entries() []Entry {
	var out []Entry
	l.entries.Range(func(_ string, e *Entry) bool {
		out = append(out, *e)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Len returns the number of stored entries, expired ones included.
func (l *List) Len() int {
	return l.entries.Len()
}

// Cleanup removes the expired entries and returns how many it removed.
func (l *List) Cleanup() int {
	now := time.Now()
	var keys []string
	l.entries.Range(func(key string, e *Entry) bool {
		if e.expired(now) {
			keys = append(keys, key)
		}
		return true
	})
	removed := 0
	for _, key := range keys {
		if l.entries.CompareAndDelete(key, func(e *Entry) bool { return e.expired(now) }) {
			removed++
		}
	}
	return removed
}

// Start runs the cleanup loop until ctx is cancelled.
func (l *List) Start(ctx context.Context, _ *actor.Mailbox) error {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := l.Cleanup(); n > 0 {
				slog.Info("expired blacklist entries removed", "count", n)
			}
		}
	}
}
