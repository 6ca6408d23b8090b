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

// Package connection runs one actor per client connection. The actor owns
// the connection's exproto.Channel: it feeds it transport bytes, broker
// deliveries, backend replies and adapter commands, one at a time, and
// carries out the actions the channel returns.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	mbox "github.com/turtacn/exproto-go/pkg/actor"
	"github.com/turtacn/exproto-go/pkg/adapter"
	"github.com/turtacn/exproto-go/pkg/exproto"
	"github.com/turtacn/exproto-go/pkg/metrics"
)

// maxDeliverBatch bounds the number of inbox messages folded into one
// received-messages call.
const maxDeliverBatch = 100

// detacher is implemented by buses that can drop every subscription of an
// inbox at once.
type detacher interface {
	Detach(inbox *mbox.Mailbox)
}

// Connection is the actor serving one client.
type Connection struct {
	id        string
	transport Transport
	manager   *Manager

	inbox   *mbox.Mailbox
	channel *exproto.Channel
	gate    *gate
	cancel  context.CancelFunc
	linger  *time.Timer
	logger  *slog.Logger
	closing bool
}

// New creates the props of a Connection actor serving t under id.
func New(id string, t Transport, m *Manager) *actor.Props {
	return actor.PropsFromProducer(func() actor.Actor {
		return &Connection{
			id:        id,
			transport: t,
			manager:   m,
			gate:      newGate(),
			logger:    m.logger.With("conn", id),
		}
	})
}

// Receive is the message handler for the Connection actor.
func (c *Connection) Receive(ctx actor.Context) {
	defer c.recover(ctx)

	switch msg := ctx.Message().(type) {
	case *actor.Started:
		c.start(ctx)
	case *incoming:
		if !c.closing {
			c.handle(ctx, c.channel.HandleBytes(msg.data))
		}
	case *deliveries:
		if !c.closing {
			c.handle(ctx, c.channel.HandleDeliver(msg.items))
		}
	case *inboxInfo:
		if !c.closing {
			c.handle(ctx, c.channel.HandleInfo(msg.msg))
		}
	case exproto.BackendReply:
		c.handle(ctx, c.channel.HandleReply(msg))
		if c.closing && c.channel.Idle() {
			ctx.Stop(ctx.Self())
		}
	case *commandRequest:
		if c.closing {
			ctx.Respond(&commandResponse{err: adapter.ErrConnNotAlive})
			return
		}
		err := c.handle(ctx, c.channel.HandleCommand(msg.ctx, msg.cmd))
		ctx.Respond(&commandResponse{err: err})
	case *castCommand:
		if !c.closing {
			c.handle(ctx, c.channel.HandleCommand(context.Background(), msg.cmd))
		}
	case *transportClosed:
		if !c.closing {
			c.handle(ctx, c.channel.HandleTransportClosed(msg.err))
		}
	case *lingerExpired:
		c.logger.Warn("backend did not answer before stop", "pending", c.channel.Pending())
		ctx.Stop(ctx.Self())
	case *actor.Stopping:
		if c.channel != nil && !c.closing {
			c.terminate(exproto.NormalReason)
		}
	case *actor.Stopped:
		c.stopped()
	}
}

func (c *Connection) start(ctx actor.Context) {
	root, self := ctx.ActorSystem().Root, ctx.Self()
	m := c.manager

	// The backend may call back as soon as socket-created is out.
	m.register(c.id, self)
	c.inbox = mbox.NewMailbox(m.opts.InboxSize)
	backend := m.backends.Backend(func(r exproto.BackendReply) { root.Send(self, r) })
	c.channel = exproto.New(metaOf(c.id, c.transport), exproto.Deps{
		Backend:  backend,
		Auth:     m.auth,
		Sessions: m.sessions,
		Bus:      m.bus,
		Inbox:    c.inbox,
	},
		exproto.WithNode(m.opts.Node),
		exproto.WithMountpoint(m.opts.Mountpoint),
		exproto.WithHighWater(m.opts.HighWater),
		exproto.WithLogger(m.logger),
	)
	metrics.ConnectionsActive.Inc()

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.read(runCtx, root, self)
	go c.pump(runCtx, root, self)
	c.logger.Debug("connection started", "peer", c.transport.RemoteAddr())
}

// read forwards transport bytes until the transport fails or ctx ends.
func (c *Connection) read(ctx context.Context, root *actor.RootContext, self *actor.PID) {
	for c.gate.wait(ctx) {
		data, err := c.transport.Recv()
		if err != nil {
			if ctx.Err() == nil {
				root.Send(self, &transportClosed{err: err})
			}
			return
		}
		root.Send(self, &incoming{data: data})
	}
}

// pump moves inbox messages to the actor, batching consecutive deliveries.
func (c *Connection) pump(ctx context.Context, root *actor.RootContext, self *actor.PID) {
	for {
		first, err := c.inbox.Receive(ctx)
		if err != nil {
			return
		}
		batch := append([]any{first}, c.inbox.Drain(maxDeliverBatch-1)...)

		var delivers []exproto.Deliver
		flush := func() {
			if len(delivers) > 0 {
				root.Send(self, &deliveries{items: delivers})
				delivers = nil
			}
		}
		for _, msg := range batch {
			switch msg := msg.(type) {
			case exproto.Deliver:
				delivers = append(delivers, msg)
			case exproto.Command:
				flush()
				root.Send(self, &castCommand{cmd: msg})
			default:
				flush()
				root.Send(self, &inboxInfo{msg: msg})
			}
		}
		flush()
	}
}

// handle carries out a channel result and returns the error of the reply,
// if the result answers a command.
func (c *Connection) handle(ctx actor.Context, res exproto.Result) error {
	switch r := res.(type) {
	case exproto.Continue:
		c.perform(ctx, r.Actions)
	case exproto.Reply:
		c.perform(ctx, r.Actions)
		return r.Err
	case exproto.Shutdown:
		var err error
		if r.Reply != nil {
			c.perform(ctx, r.Reply.Actions)
			err = r.Reply.Err
		}
		c.shutdown(ctx, r.Reason)
		return err
	}
	return nil
}

func (c *Connection) perform(ctx actor.Context, actions []exproto.Action) {
	for _, a := range actions {
		if c.closing {
			return
		}
		switch a := a.(type) {
		case exproto.SendBytes:
			if err := c.transport.Send(a.Data); err != nil {
				c.logger.Debug("failed to write to transport", "err", err)
				c.shutdown(ctx, exproto.TransportClosed(err))
			}
		case exproto.CloseTransport:
			c.shutdown(ctx, exproto.NormalReason)
		case exproto.EmitEvent:
			if a.Name == exproto.EventAuthorized {
				c.manager.bind(c.channel.ClientInfo().ClientID, c.id)
			}
		case exproto.Throttle:
			c.logger.Debug("transport throttled", "paused", a.Paused)
			c.gate.set(a.Paused)
		}
	}
}

// shutdown terminates the channel, closes the transport and stops the actor
// once the backend has answered the calls still inflight, or when the
// linger time runs out. The channel keeps its pending calls on termination
// so that socket-closed reaches the backend last; whatever the linger cuts
// off is dropped by Abandon in stopped.
func (c *Connection) shutdown(ctx actor.Context, reason exproto.Reason) {
	if c.closing {
		return
	}
	c.terminate(reason)
	if c.channel.Idle() {
		ctx.Stop(ctx.Self())
		return
	}
	root, self := ctx.ActorSystem().Root, ctx.Self()
	c.linger = time.AfterFunc(c.manager.opts.Linger, func() { root.Send(self, &lingerExpired{}) })
}

func (c *Connection) terminate(reason exproto.Reason) {
	c.closing = true
	metrics.ChannelTerminationsTotal.WithLabelValues(string(reason.Kind)).Inc()

	c.channel.Terminate(reason)
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.transport.Close(); err != nil {
		c.logger.Debug("failed to close transport", "err", err)
	}
}

func (c *Connection) stopped() {
	if c.linger != nil {
		c.linger.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.channel == nil {
		c.manager.unregister(c.id, "")
		return
	}
	c.channel.Abandon()
	// Catches subscriptions left behind when terminate did not run.
	if d, ok := c.manager.bus.(detacher); ok {
		d.Detach(c.inbox)
	}
	c.manager.unregister(c.id, c.channel.ClientInfo().ClientID)
	metrics.ConnectionsActive.Dec()
	c.logger.Debug("connection stopped")
}

// recover turns a panic in the handler into an orderly shutdown so that the
// actor is not restarted with a fresh channel.
func (c *Connection) recover(ctx actor.Context) {
	r := recover()
	if r == nil {
		return
	}
	c.logger.Error("connection panicked", "panic", r, "stack", string(debug.Stack()))
	if c.channel == nil {
		_ = c.transport.Close()
		ctx.Stop(ctx.Self())
		return
	}
	if c.closing {
		ctx.Stop(ctx.Self())
		return
	}
	c.shutdown(ctx, exproto.Reason{Kind: exproto.ReasonInternalError, Err: fmt.Errorf("panic: %v", r)})
}
