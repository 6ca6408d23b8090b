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

package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/exproto-go/pkg/actor"
	"github.com/turtacn/exproto-go/pkg/exproto"
)

func subscriber(id string, size int) exproto.Subscriber {
	return exproto.Subscriber{ClientID: id, Inbox: actor.NewMailbox(size)}
}

func opts(qos byte) exproto.SubOpts {
	o := exproto.DefaultSubOpts()
	o.QoS = qos
	return o
}

func delivers(t *testing.T, mb *actor.Mailbox) []exproto.Deliver {
	t.Helper()
	var out []exproto.Deliver
	for _, m := range mb.Drain(100) {
		d, ok := m.(exproto.Deliver)
		require.True(t, ok, "unexpected inbox message %T", m)
		out = append(out, d)
	}
	return out
}

func TestPublishRoutesToMatchingSubscribers(t *testing.T) {
	b := New("node1")
	s1 := subscriber("c1", 10)
	s2 := subscriber("c2", 10)
	b.Subscribe("sensors/+/temp", s1, opts(1))
	b.Subscribe("sensors/#", s2, opts(1))
	b.Subscribe("other", s2, opts(1))

	n := b.Publish(exproto.NewMessage("p", 1, "sensors/a/temp", []byte("21")))
	assert.Equal(t, 2, n)

	got1 := delivers(t, s1.Inbox)
	require.Len(t, got1, 1)
	assert.Equal(t, "sensors/+/temp", got1[0].Filter)
	assert.Equal(t, []byte("21"), got1[0].Message.Payload)

	got2 := delivers(t, s2.Inbox)
	require.Len(t, got2, 1)
	assert.Equal(t, "sensors/#", got2[0].Filter)
}

func TestPublishDowngradesQoS(t *testing.T) {
	b := New("node1")
	s := subscriber("c1", 10)
	b.Subscribe("t", s, opts(0))

	msg := exproto.NewMessage("p", 2, "t", nil)
	b.Publish(msg)

	got := delivers(t, s.Inbox)
	require.Len(t, got, 1)
	assert.Equal(t, byte(0), got[0].Message.QoS)
	assert.Equal(t, byte(2), msg.QoS, "the published message must not be modified")
}

func TestPublishHonoursNoLocal(t *testing.T) {
	b := New("node1")
	s := subscriber("c1", 10)
	o := opts(1)
	o.NoLocal = true
	b.Subscribe("t", s, o)

	assert.Equal(t, 0, b.Publish(exproto.NewMessage("c1", 1, "t", nil)))
	assert.Equal(t, 1, b.Publish(exproto.NewMessage("c2", 1, "t", nil)))
}

func TestPublishDropsOnFullInbox(t *testing.T) {
	b := New("node1")
	s := subscriber("c1", 1)
	b.Subscribe("t", s, opts(0))

	assert.Equal(t, 1, b.Publish(exproto.NewMessage("p", 0, "t", []byte("a"))))
	assert.Equal(t, 0, b.Publish(exproto.NewMessage("p", 0, "t", []byte("b"))))
	got := delivers(t, s.Inbox)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("a"), got[0].Message.Payload)
}

func TestSharedSubscriptionRoundRobin(t *testing.T) {
	b := New("node1")
	s1 := subscriber("c1", 10)
	s2 := subscriber("c2", 10)
	b.Subscribe("$share/g/jobs", s1, opts(0))
	b.Subscribe("$share/g/jobs", s2, opts(0))

	for i := 0; i < 4; i++ {
		assert.Equal(t, 1, b.Publish(exproto.NewMessage("p", 0, "jobs", nil)))
	}
	assert.Len(t, delivers(t, s1.Inbox), 2)
	assert.Len(t, delivers(t, s2.Inbox), 2)
}

func TestUnsubscribeAndDetach(t *testing.T) {
	b := New("node1")
	s := subscriber("c1", 10)
	b.Subscribe("a", s, opts(0))
	b.Subscribe("b", s, opts(0))
	assert.Equal(t, 2, b.Subscriptions())

	b.Unsubscribe("a", s)
	assert.Equal(t, 0, b.Publish(exproto.NewMessage("p", 0, "a", nil)))
	assert.Equal(t, 1, b.Subscriptions())

	b.Detach(s.Inbox)
	assert.Equal(t, 0, b.Subscriptions())
	assert.Equal(t, 0, b.Publish(exproto.NewMessage("p", 0, "b", nil)))
}
