// Copyright 2022 The emqx-go Authors
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

// Package actor provides the minimal actor primitives used by the gateway's
// long-running services: an Actor runs until its context is cancelled and
// reads its input from a Mailbox. Mailboxes double as the delivery inbox of
// a connection on the broker bus.
package actor

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// Actor is a long-running process driven by a mailbox.
type Actor interface {
	// Start runs the actor until ctx is cancelled or the actor fails. It
	// returns nil on an orderly stop.
	Start(ctx context.Context, mb *Mailbox) error
}

// Mailbox is a bounded FIFO of messages backed by a buffered channel. Next
// to it runs an unbounded control lane that is read first, so that control
// messages cannot be crowded out by a full mailbox.
type Mailbox struct {
	messages chan any

	mu      sync.Mutex
	control *queue.Queue
	signal  chan struct{}
}

// NewMailbox creates a mailbox holding at most size messages.
func NewMailbox(size int) *Mailbox {
	return &Mailbox{
		messages: make(chan any, size),
		control:  queue.New(),
		signal:   make(chan struct{}, 1),
	}
}

// Notify puts msg on the control lane. It never blocks and never drops.
func (mb *Mailbox) Notify(msg any) {
	mb.mu.Lock()
	mb.control.Add(msg)
	mb.mu.Unlock()
	select {
	case mb.signal <- struct{}{}:
	default:
	}
}

func (mb *Mailbox) popControl() (any, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.control.Length() == 0 {
		return nil, false
	}
	return mb.control.Remove(), true
}

// Send puts msg into the mailbox, blocking while it is full.
func (mb *Mailbox) Send(msg any) {
	mb.messages <- msg
}

// TrySend puts msg into the mailbox unless it is full. It reports whether
// the message was accepted.
func (mb *Mailbox) TrySend(msg any) bool {
	select {
	case mb.messages <- msg:
		return true
	default:
		return false
	}
}

// Receive blocks until a message arrives or ctx is cancelled, in which case
// it returns ctx.Err(). Control messages come first.
func (mb *Mailbox) Receive(ctx context.Context) (any, error) {
	for {
		if msg, ok := mb.popControl(); ok {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-mb.signal:
		case msg := <-mb.messages:
			return msg, nil
		}
	}
}

// Drain returns the messages already queued, up to limit, without blocking.
// Control messages come first.
func (mb *Mailbox) Drain(limit int) []any {
	var out []any
	for len(out) < limit {
		msg, ok := mb.popControl()
		if !ok {
			break
		}
		out = append(out, msg)
	}
	for len(out) < limit {
		select {
		case msg := <-mb.messages:
			out = append(out, msg)
		default:
			return out
		}
	}
	return out
}

// Len returns the number of queued messages, control messages included.
func (mb *Mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.messages) + mb.control.Length()
}
