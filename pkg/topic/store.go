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

// Package topic provides a thread-safe, in-memory index of topic filter
// subscriptions, keyed by the inbox of the subscribing connection, together
// with the helpers that move filters in and out of a client's mountpoint.
// Filters may use the + and # wildcards and the $share/<group>/ prefix.
package topic

import (
	"strings"
	"sync"

	"github.com/turtacn/exproto-go/pkg/actor"
)

const sharePrefix = "$share/"

// Subscription is one subscriber of a filter.
type Subscription struct {
	ClientID string
	Inbox    *actor.Mailbox
	QoS      byte
	NoLocal  bool
}

// Match is a subscription matched by a published topic, with the filter
// that matched it.
type Match struct {
	Filter string
	Subscription
}

// sharedGroup holds the members of one $share group for one filter.
type sharedGroup struct {
	filter  string
	members []*Subscription
	next    int
}

// Store maps topic filters to their subscribers.
type Store struct {
	subscriptions map[string][]*Subscription
	shared        map[string]*sharedGroup // key: the full $share/group/filter
	mu            sync.RWMutex
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		subscriptions: make(map[string][]*Subscription),
		shared:        make(map[string]*sharedGroup),
	}
}

// Subscribe adds sub under filter. A second subscription from the same inbox
// replaces the options of the first.
func (s *Store) Subscribe(filter string, sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, inner, ok := parseShared(filter); ok {
		g, exists := s.shared[filter]
		if !exists {
			g = &sharedGroup{filter: inner}
			s.shared[filter] = g
		}
		g.members = upsert(g.members, sub)
		return
	}
	s.subscriptions[filter] = upsert(s.subscriptions[filter], sub)
}

// Unsubscribe removes the subscription of inbox from filter. Unknown filters
// are ignored.
func (s *Store) Unsubscribe(filter string, inbox *actor.Mailbox) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, ok := parseShared(filter); ok {
		g, exists := s.shared[filter]
		if !exists {
			return
		}
		g.members = without(g.members, inbox)
		if len(g.members) == 0 {
			delete(s.shared, filter)
		} else if g.next >= len(g.members) {
			g.next = 0
		}
		return
	}
	if subs, ok := s.subscriptions[filter]; ok {
		if rest := without(subs, inbox); len(rest) > 0 {
			s.subscriptions[filter] = rest
		} else {
			delete(s.subscriptions, filter)
		}
	}
}

// Match returns every subscription whose filter matches topic. Each shared
// group contributes one member, picked round-robin.
func (s *Store) Match(topic string) []Match {
	// A write lock, since picking a shared member advances the group cursor.
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []Match
	for filter, subs := range s.subscriptions {
		if !Matches(topic, filter) {
			continue
		}
		for _, sub := range subs {
			matches = append(matches, Match{Filter: filter, Subscription: *sub})
		}
	}
	for key, g := range s.shared {
		if len(g.members) == 0 || !Matches(topic, g.filter) {
			continue
		}
		picked := g.members[g.next]
		g.next = (g.next + 1) % len(g.members)
		matches = append(matches, Match{Filter: key, Subscription: *picked})
	}
	return matches
}

// RemoveAll drops every subscription held by inbox and returns the filters
// it was removed from.
func (s *Store) RemoveAll(inbox *actor.Mailbox) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inbox == nil {
		return nil
	}
	var removed []string
	for filter, subs := range s.subscriptions {
		rest := without(subs, inbox)
		if len(rest) == len(subs) {
			continue
		}
		removed = append(removed, filter)
		if len(rest) > 0 {
			s.subscriptions[filter] = rest
		} else {
			delete(s.subscriptions, filter)
		}
	}
	for key, g := range s.shared {
		rest := without(g.members, inbox)
		if len(rest) == len(g.members) {
			continue
		}
		removed = append(removed, key)
		if len(rest) == 0 {
			delete(s.shared, key)
			continue
		}
		g.members = rest
		if g.next >= len(rest) {
			g.next = 0
		}
	}
	return removed
}

// Count returns the number of distinct filters with at least one subscriber.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscriptions) + len(s.shared)
}

func upsert(subs []*Subscription, sub Subscription) []*Subscription {
	for _, existing := range subs {
		if existing.Inbox == sub.Inbox {
			*existing = sub
			return subs
		}
	}
	return append(subs, &sub)
}

func without(subs []*Subscription, inbox *actor.Mailbox) []*Subscription {
	rest := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.Inbox != inbox {
			rest = append(rest, sub)
		}
	}
	return rest
}

// parseShared splits $share/<group>/<filter>.
func parseShared(filter string) (group, inner string, ok bool) {
	if !strings.HasPrefix(filter, sharePrefix) {
		return "", "", false
	}
	parts := strings.SplitN(filter, "/", 3)
	if len(parts) != 3 || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// Matches reports whether topic matches filter, honouring the + and #
// wildcards.
func Matches(topic, filter string) bool {
	topicSegments := strings.Split(topic, "/")
	filterSegments := strings.Split(filter, "/")

	topicLen := len(topicSegments)
	filterLen := len(filterSegments)

	for i := 0; i < filterLen; i++ {
		if i >= topicLen {
			// Only a trailing '#' may match a missing level.
			return filterSegments[i] == "#" && i == filterLen-1
		}
		if filterSegments[i] == "#" {
			return i == filterLen-1
		}
		if filterSegments[i] != "+" && filterSegments[i] != topicSegments[i] {
			return false
		}
	}
	return topicLen == filterLen
}
