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
	"github.com/turtacn/exproto-go/pkg/topic"
)

func (c *Channel) subscriber() Subscriber {
	return Subscriber{ClientID: c.clientInfo.ClientID, Inbox: c.deps.Inbox}
}

// subscribe registers every filter on the bus under the client's
// mountpoint. A repeated filter overwrites the previous options.
func (c *Channel) subscribe(filters []TopicFilter) {
	sub := c.subscriber()
	for _, f := range filters {
		opts := DefaultSubOpts()
		opts.QoS = f.QoS
		mounted := topic.Mount(c.clientInfo.Mountpoint, f.Filter)
		c.deps.Bus.Subscribe(mounted, sub, opts)
		c.subscriptions[mounted] = opts
		c.logger.Debug("subscribed", "filter", mounted, "qos", opts.QoS)
	}
}

func (c *Channel) unsubscribe(filters []string) {
	sub := c.subscriber()
	for _, f := range filters {
		mounted := topic.Mount(c.clientInfo.Mountpoint, f)
		c.deps.Bus.Unsubscribe(mounted, sub)
		delete(c.subscriptions, mounted)
		c.logger.Debug("unsubscribed", "filter", mounted)
	}
}

func (c *Channel) publish(cmd Publish) {
	msg := NewMessage(c.clientInfo.ClientID, cmd.QoS, topic.Mount(c.clientInfo.Mountpoint, cmd.Topic), cmd.Payload)
	n := c.deps.Bus.Publish(msg)
	c.logger.Debug("published", "topic", msg.Topic, "qos", msg.QoS, "subscribers", n)
}
