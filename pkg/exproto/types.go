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

// Package exproto implements the per-connection control plane of the
// extension-protocol gateway. A Channel represents one network connection:
// it forwards socket events and broker deliveries to an external backend
// over an asynchronous RPC interface, and executes the synchronous commands
// (authenticate, subscribe, publish, send, close) the backend issues back.
//
// The package has no goroutines of its own. A Channel is owned by exactly one
// connection actor, which feeds it events and interprets the Results it
// returns.
package exproto

import (
	"context"
	"strconv"
	"time"

	"github.com/turtacn/exproto-go/pkg/actor"
)

// SocketKind is the kind of socket a connection was accepted on.
type SocketKind string

const (
	SocketTCP  SocketKind = "tcp"
	SocketTLS  SocketKind = "tls"
	SocketUDP  SocketKind = "udp"
	SocketDTLS SocketKind = "dtls"
)

// ConnState is the lifecycle state of a Channel.
type ConnState int

const (
	// Connecting is the initial state, until the backend acknowledges the
	// socket-created notification.
	Connecting ConnState = iota
	// Connected is entered once socket-created has been acknowledged.
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// DefaultZone is the zone assigned to every client of the gateway.
const DefaultZone = "external"

// Address is a host/port pair.
type Address struct {
	Host string
	Port int
}

func (a Address) String() string {
	return a.Host + ":" + strconv.Itoa(a.Port)
}

// CertSummary is the part of a peer certificate the backend gets to see.
type CertSummary struct {
	CN string
	DN string
}

// ConnMeta is the metadata a transport supplies when a connection is
// accepted.
type ConnMeta struct {
	// ID identifies the connection towards the backend.
	ID       string
	Kind     SocketKind
	Peer     Address
	Local    Address
	PeerCert *CertSummary
}

// ConnInfo describes the connection. It may change until the client is
// authorized and is stable afterwards.
type ConnInfo struct {
	SocketKind  SocketKind
	PeerName    Address
	SockName    Address
	PeerCert    *CertSummary
	ProtoName   string
	ProtoVer    string
	ClientID    string
	Username    string
	Keepalive   int
	ConnectedAt time.Time
	CleanStart  bool
}

// ClientInfo describes the client as the broker sees it.
type ClientInfo struct {
	Zone        string
	Protocol    string
	PeerHost    string
	SockPort    int
	ClientID    string
	Username    string
	IsBridge    bool
	IsSuperuser bool
	Anonymous   bool
	Mountpoint  string
	Attrs       map[string]string
}

// Candidate is the client information a backend submits with an
// authenticate command.
type Candidate struct {
	ProtoName  string
	ProtoVer   string
	ClientID   string
	Username   string
	Mountpoint string
	Keepalive  int
}

// SubOpts are the options of one subscription.
type SubOpts struct {
	QoS               byte
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    byte
}

// DefaultSubOpts returns the options applied when a caller sets none.
func DefaultSubOpts() SubOpts {
	return SubOpts{}
}

// TopicFilter is a filter with the QoS requested for it.
type TopicFilter struct {
	Filter string
	QoS    byte
}

// AuthResult carries what the authentication service learned about a client.
type AuthResult struct {
	Anonymous   bool
	IsSuperuser bool
	Attrs       map[string]string
}

// Authenticator is the broker's authentication service.
type Authenticator interface {
	Authenticate(ctx context.Context, info ClientInfo, password string) (AuthResult, error)
}

// SessionRegistry is the broker's session registry. The owner mailbox is the
// inbox of the connection the session is bound to.
type SessionRegistry interface {
	OpenSession(ctx context.Context, cleanStart bool, client ClientInfo, conn ConnInfo, owner *actor.Mailbox) error
	CloseSession(clientID string, owner *actor.Mailbox)
}

// Subscriber identifies a subscription holder on the bus.
type Subscriber struct {
	ClientID string
	Inbox    *actor.Mailbox
}

// PubSub is the broker's publish/subscribe bus. Implementations must be safe
// for concurrent use.
type PubSub interface {
	Subscribe(filter string, sub Subscriber, opts SubOpts)
	Unsubscribe(filter string, sub Subscriber)
	// Publish routes msg and returns the number of subscribers it reached.
	Publish(msg *Message) int
}

// Deps bundles the collaborators a Channel talks to.
type Deps struct {
	Backend  Backend
	Auth     Authenticator
	Sessions SessionRegistry
	Bus      PubSub
	// Inbox receives the Deliver values routed to this connection.
	Inbox *actor.Mailbox
}
