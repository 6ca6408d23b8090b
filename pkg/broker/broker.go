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

// package broker contains the local publish/subscribe bus that connects
// gateway channels to each other.
package broker

import (
	"log/slog"

	"github.com/turtacn/exproto-go/pkg/actor"
	"github.com/turtacn/exproto-go/pkg/exproto"
	"github.com/turtacn/exproto-go/pkg/metrics"
	"github.com/turtacn/exproto-go/pkg/topic"
)

// Broker routes published messages to the inboxes of matching subscribers.
type Broker struct {
	topics *topic.Store
	nodeID string
}

// New creates a new Broker.
func New(nodeID string) *Broker {
	return &Broker{
		topics: topic.NewStore(),
		nodeID: nodeID,
	}
}

// NodeID returns the node name the broker was created with.
func (b *Broker) NodeID() string { return b.nodeID }

// Subscribe registers sub under filter.
func (b *Broker) Subscribe(filter string, sub exproto.Subscriber, opts exproto.SubOpts) {
	b.topics.Subscribe(filter, topic.Subscription{
		ClientID: sub.ClientID,
		Inbox:    sub.Inbox,
		QoS:      opts.QoS,
		NoLocal:  opts.NoLocal,
	})
}

// Unsubscribe removes sub from filter.
func (b *Broker) Unsubscribe(filter string, sub exproto.Subscriber) {
	b.topics.Unsubscribe(filter, sub.Inbox)
}

// Detach drops every subscription held by inbox.
func (b *Broker) Detach(inbox *actor.Mailbox) {
	if removed := b.topics.RemoveAll(inbox); len(removed) > 0 {
		slog.Debug("detached subscriber", "filters", len(removed))
	}
}

// Publish routes msg to every matching subscriber and returns how many
// accepted it. A subscriber whose inbox is full misses the message.
func (b *Broker) Publish(msg *exproto.Message) int {
	metrics.MessagesPublishedTotal.Inc()

	delivered := 0
	for _, m := range b.topics.Match(msg.Topic) {
		if m.NoLocal && m.ClientID == msg.From {
			continue
		}
		out := msg
		if m.QoS < msg.QoS {
			out = msg.Copy()
			out.QoS = m.QoS
		}
		if !m.Inbox.TrySend(exproto.Deliver{Filter: m.Filter, Message: out}) {
			metrics.MessagesDroppedTotal.Inc()
			slog.Warn("dropping message for slow subscriber", "clientid", m.ClientID, "topic", msg.Topic)
			continue
		}
		delivered++
	}
	metrics.MessagesDeliveredTotal.Add(float64(delivered))
	return delivered
}

// Subscriptions returns the number of distinct filters with subscribers.
func (b *Broker) Subscriptions() int {
	return b.topics.Count()
}
