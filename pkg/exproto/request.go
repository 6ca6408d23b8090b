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

// CallName names an asynchronous backend call. The backend correlates
// replies to calls by name only.
type CallName string

const (
	CallSocketCreated    CallName = "socket-created"
	CallReceivedBytes    CallName = "received-bytes"
	CallReceivedMessages CallName = "received-messages"
	CallSocketClosed     CallName = "socket-closed"
)

// Request is the payload of one asynchronous backend call.
type Request interface {
	Call() CallName
	// ConnID is the connection the call is about.
	ConnID() string
}

// SocketCreated announces a new connection.
type SocketCreated struct {
	Conn string
	Info SocketInfo
}

// ReceivedBytes carries raw bytes read from the transport.
type ReceivedBytes struct {
	Conn  string
	Bytes []byte
}

// ReceivedMessages carries a batch of broker deliveries.
type ReceivedMessages struct {
	Conn     string
	Messages []Delivery
}

// SocketClosed announces the end of a connection.
type SocketClosed struct {
	Conn   string
	Reason string
}

func (r *SocketCreated) Call() CallName    { return CallSocketCreated }
func (r *ReceivedBytes) Call() CallName    { return CallReceivedBytes }
func (r *ReceivedMessages) Call() CallName { return CallReceivedMessages }
func (r *SocketClosed) Call() CallName     { return CallSocketClosed }

func (r *SocketCreated) ConnID() string    { return r.Conn }
func (r *ReceivedBytes) ConnID() string    { return r.Conn }
func (r *ReceivedMessages) ConnID() string { return r.Conn }
func (r *SocketClosed) ConnID() string     { return r.Conn }

// Backend issues asynchronous calls to the protocol backend. Cast must not
// block; exactly one BackendReply for the call is later handed to the
// owning Channel through HandleReply.
//
// Replies carry the call name only, so the backend transport must deliver
// them in order. The Dispatcher guarantees it never has more than one call
// outstanding.
type Backend interface {
	Cast(req Request)
}

// BackendReply is the outcome of one asynchronous backend call. A nil Err
// means success; Value is opaque and ignored by the channel.
type BackendReply struct {
	Call  CallName
	Value any
	Err   error
}
