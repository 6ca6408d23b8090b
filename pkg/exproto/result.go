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

// Result is what a Channel handler hands back to the owning actor. It is
// one of Continue, Reply or Shutdown.
type Result interface {
	result()
}

// Continue keeps the channel running and performs Actions.
type Continue struct {
	Actions []Action
}

// Reply answers a synchronous command. A nil Err means success.
type Reply struct {
	Err     error
	Actions []Action
}

// Shutdown terminates the channel with Reason. When Reply is set the
// pending synchronous command is answered first.
type Shutdown struct {
	Reason Reason
	Reply  *Reply
}

func (Continue) result() {}
func (Reply) result()    {}
func (Shutdown) result() {}

// Action is an instruction for the transport or the owning actor.
type Action interface {
	action()
}

// SendBytes writes Data to the transport.
type SendBytes struct {
	Data []byte
}

// CloseTransport closes the transport.
type CloseTransport struct {
	Reason string
}

// EmitEvent announces a named channel event.
type EmitEvent struct {
	Name string
}

// Throttle pauses or resumes reading from the transport.
type Throttle struct {
	Paused bool
}

// EventAuthorized is emitted once a client has been authenticated and its
// session opened.
const EventAuthorized = "authorized"

func (SendBytes) action()      {}
func (CloseTransport) action() {}
func (EmitEvent) action()      {}
func (Throttle) action()       {}
