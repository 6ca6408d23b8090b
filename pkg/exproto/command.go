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

// Command is a synchronous request addressed to a Channel, usually issued by
// the backend.
type Command interface {
	Name() string
}

// Send writes bytes to the client.
type Send struct {
	Data []byte
}

// Close closes the connection normally.
type Close struct{}

// Authenticate authenticates the client and opens its session.
type Authenticate struct {
	Info     Candidate
	Password string
}

// Subscribe subscribes the client to topic filters.
type Subscribe struct {
	Filters []TopicFilter
}

// Unsubscribe removes subscriptions.
type Unsubscribe struct {
	Filters []string
}

// Publish publishes a message on behalf of the client.
type Publish struct {
	Topic   string
	QoS     byte
	Payload []byte
}

// Kick terminates the channel on operator request.
type Kick struct{}

// Discard terminates the channel because its session was taken over by
// another connection.
type Discard struct{}

// Unknown is any command the channel does not recognise.
type Unknown struct {
	Command string
}

func (Send) Name() string         { return "send" }
func (Close) Name() string        { return "close" }
func (Authenticate) Name() string { return "authenticate" }
func (Subscribe) Name() string    { return "subscribe" }
func (Unsubscribe) Name() string  { return "unsubscribe" }
func (Publish) Name() string      { return "publish" }
func (Kick) Name() string         { return "kick" }
func (Discard) Name() string      { return "discard" }
func (u Unknown) Name() string    { return u.Command }
