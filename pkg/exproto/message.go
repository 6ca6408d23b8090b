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
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

// Message is a message routed by the broker bus.
type Message struct {
	ID        []byte
	QoS       byte
	From      string
	Topic     string
	Payload   []byte
	Timestamp time.Time
}

// NewMessage creates a message with a fresh id, stamped with the current
// time.
func NewMessage(from string, qos byte, topic string, payload []byte) *Message {
	id := uuid.New()
	return &Message{
		ID:        id[:],
		QoS:       qos,
		From:      from,
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Copy returns a shallow copy of m.
func (m *Message) Copy() *Message {
	c := *m
	return &c
}

// Deliver is what the bus drops into a subscriber's inbox.
type Deliver struct {
	// Filter is the subscription filter that matched.
	Filter  string
	Message *Message
}

// Delivery is the protocol-neutral form of a delivered message handed to
// the backend.
type Delivery struct {
	Node      string
	ID        string
	QoS       byte
	From      string
	Topic     string
	Payload   []byte
	Timestamp int64
}

// NewClientID generates a client id for clients that did not bring one.
func NewClientID() string {
	return shortuuid.New()
}
