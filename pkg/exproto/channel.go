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
	"context"
	"log/slog"
	"maps"
	"time"
)

// Channel is the state of one connection. All methods must be called from
// the single goroutine that owns the connection.
type Channel struct {
	meta       ConnMeta
	deps       Deps
	node       string
	connInfo   ConnInfo
	clientInfo ClientInfo
	authorized bool
	connState  ConnState

	// subscriptions maps mounted topic filters to their options.
	subscriptions map[string]SubOpts
	sessionOpen   bool
	terminated    bool

	dispatcher *Dispatcher
	highWater  int
	logger     *slog.Logger
}

// Option configures a Channel.
type Option func(*Channel)

// WithNode sets the node name reported in delivery records.
func WithNode(node string) Option {
	return func(c *Channel) { c.node = node }
}

// WithMountpoint sets the mountpoint used until a client brings its own.
func WithMountpoint(mountpoint string) Option {
	return func(c *Channel) { c.clientInfo.Mountpoint = mountpoint }
}

// WithHighWater sets the pending-call depth above which the channel asks
// the transport to pause reading. Zero, the default, never pauses.
func WithHighWater(n int) Option {
	return func(c *Channel) { c.highWater = n }
}

// WithLogger sets the logger. The connection id is attached to it.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// New creates the channel for an accepted connection and dispatches the
// socket-created notification.
func New(meta ConnMeta, deps Deps, opts ...Option) *Channel {
	c := &Channel{
		meta:          meta,
		deps:          deps,
		node:          "local",
		connInfo:      defaultConnInfo(meta),
		clientInfo:    defaultClientInfo(meta),
		connState:     Connecting,
		subscriptions: make(map[string]SubOpts),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("conn", meta.ID)
	c.dispatcher = NewDispatcher(deps.Backend, c.highWater)
	c.dispatcher.Submit(&SocketCreated{Conn: meta.ID, Info: Describe(meta)})
	return c
}

func defaultConnInfo(meta ConnMeta) ConnInfo {
	return ConnInfo{
		SocketKind:  meta.Kind,
		PeerName:    meta.Peer,
		SockName:    meta.Local,
		PeerCert:    meta.PeerCert,
		ConnectedAt: time.Now(),
		CleanStart:  true,
	}
}

func defaultClientInfo(meta ConnMeta) ClientInfo {
	return ClientInfo{
		Zone:     DefaultZone,
		PeerHost: meta.Peer.Host,
		SockPort: meta.Local.Port,
	}
}

// HandleBytes forwards bytes read from the transport to the backend.
func (c *Channel) HandleBytes(data []byte) Result {
	c.logger.Debug("received bytes", "size", len(data))
	c.dispatcher.Submit(&ReceivedBytes{Conn: c.meta.ID, Bytes: data})
	return c.proceed(nil)
}

// HandleDeliver forwards a batch of broker deliveries to the backend as a
// single received-messages call.
func (c *Channel) HandleDeliver(delivers []Deliver) Result {
	if len(delivers) == 0 {
		return Continue{}
	}
	msgs := make([]Delivery, 0, len(delivers))
	for _, d := range delivers {
		if d.Message == nil {
			continue
		}
		msgs = append(msgs, ToDelivery(c.node, c.clientInfo.Mountpoint, d.Message))
	}
	if len(msgs) == 0 {
		return Continue{}
	}
	c.logger.Debug("received messages", "count", len(msgs))
	c.dispatcher.Submit(&ReceivedMessages{Conn: c.meta.ID, Messages: msgs})
	return c.proceed(nil)
}

// HandleTimeout handles a fired timer. The channel arms none, so this only
// logs.
func (c *Channel) HandleTimeout(name string) Result {
	c.logger.Warn("unexpected timeout", "timer", name)
	return Continue{}
}

// HandleReply handles the reply to the inflight backend call. A failure is
// fatal whichever call it names; a stray success is ignored.
func (c *Channel) HandleReply(r BackendReply) Result {
	inflight, busy := c.dispatcher.Inflight()
	if r.Err != nil {
		c.logger.Error("backend call failed", "call", r.Call, "inflight", inflight, "err", r.Err)
		c.dispatcher.Abort()
		return Shutdown{Reason: BackendError(r.Call, r.Err)}
	}
	if !busy || inflight != r.Call {
		c.logger.Warn("unexpected backend reply", "call", r.Call, "inflight", inflight)
		return Continue{}
	}
	switch r.Call {
	case CallSocketCreated:
		c.connState = Connected
	case CallSocketClosed, CallReceivedBytes, CallReceivedMessages:
	default:
		c.logger.Warn("unexpected backend reply", "call", r.Call)
		return Continue{}
	}
	c.dispatcher.Cleared()
	return c.proceed(nil)
}

// HandleTransportClosed terminates the channel once the transport is gone.
func (c *Channel) HandleTransportClosed(err error) Result {
	return Shutdown{Reason: TransportClosed(err)}
}

// HandleInfo handles any other message reaching the connection.
func (c *Channel) HandleInfo(msg any) Result {
	c.logger.Warn("unexpected info", "msg", msg)
	return Continue{}
}

// HandleCommand executes a synchronous command.
func (c *Channel) HandleCommand(ctx context.Context, cmd Command) Result {
	switch cmd := cmd.(type) {
	case Send:
		return Reply{Actions: []Action{SendBytes{Data: cmd.Data}}}
	case Close:
		return Reply{Actions: []Action{CloseTransport{Reason: string(ReasonNormal)}}}
	case Authenticate:
		return c.authenticate(ctx, cmd)
	case Subscribe:
		c.subscribe(cmd.Filters)
		return Reply{}
	case Unsubscribe:
		c.unsubscribe(cmd.Filters)
		return Reply{}
	case Publish:
		c.publish(cmd)
		return Reply{}
	case Kick:
		return Shutdown{Reason: Reason{Kind: ReasonKicked}, Reply: &Reply{}}
	case Discard:
		return Shutdown{Reason: Reason{Kind: ReasonDiscarded}, Reply: &Reply{}}
	default:
		c.logger.Warn("unexpected command", "command", cmd.Name())
		return Reply{}
	}
}

// Terminate tears the channel down: it drops its subscriptions and session
// and queues socket-closed behind the calls already pending, so the backend
// sees them in order. Calls after the first are no-ops.
func (c *Channel) Terminate(reason Reason) {
	if c.terminated {
		return
	}
	c.terminated = true
	if reason.Abnormal() {
		c.logger.Warn("channel terminated", "reason", reason.String())
	} else {
		c.logger.Info("channel terminated", "reason", reason.String())
	}
	c.cleanup()
	c.dispatcher.Submit(&SocketClosed{Conn: c.meta.ID, Reason: reason.String()})
}

func (c *Channel) cleanup() {
	sub := c.subscriber()
	for filter := range c.subscriptions {
		c.deps.Bus.Unsubscribe(filter, sub)
	}
	clear(c.subscriptions)
	if c.sessionOpen {
		c.deps.Sessions.CloseSession(c.clientInfo.ClientID, c.deps.Inbox)
		c.sessionOpen = false
	}
}

// proceed wraps actions into a Continue, adding a throttle change if the
// pending depth crossed a water mark.
func (c *Channel) proceed(actions []Action) Result {
	if t, changed := c.dispatcher.throttle(); changed {
		actions = append(actions, t)
	}
	return Continue{Actions: actions}
}

// Abandon drops the calls still waiting for dispatch. The owner calls it
// when it stops before the backend has drained them.
func (c *Channel) Abandon() {
	if n := c.dispatcher.Pending(); n > 0 {
		c.logger.Warn("dropping undelivered backend calls", "count", n)
	}
	c.dispatcher.Discard()
}

// Idle reports whether no backend call is inflight.
func (c *Channel) Idle() bool {
	_, busy := c.dispatcher.Inflight()
	return !busy
}

// ID returns the connection id.
func (c *Channel) ID() string { return c.meta.ID }

// ConnState returns the lifecycle state.
func (c *Channel) ConnState() ConnState { return c.connState }

// Authorized reports whether authenticate has succeeded.
func (c *Channel) Authorized() bool { return c.authorized }

// Terminated reports whether Terminate has run.
func (c *Channel) Terminated() bool { return c.terminated }

// ConnInfo returns a copy of the connection info.
func (c *Channel) ConnInfo() ConnInfo { return c.connInfo }

// ClientInfo returns a copy of the client info.
func (c *Channel) ClientInfo() ClientInfo {
	ci := c.clientInfo
	ci.Attrs = maps.Clone(c.clientInfo.Attrs)
	return ci
}

// Subscriptions returns a copy of the mounted filter to options mapping.
func (c *Channel) Subscriptions() map[string]SubOpts {
	return maps.Clone(c.subscriptions)
}

// Inflight returns the outstanding backend call, if any.
func (c *Channel) Inflight() (CallName, bool) { return c.dispatcher.Inflight() }

// Pending returns the number of queued backend calls.
func (c *Channel) Pending() int { return c.dispatcher.Pending() }
