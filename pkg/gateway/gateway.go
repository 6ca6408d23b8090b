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

// Package gateway assembles a running exproto gateway from its
// configuration.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	mbox "github.com/turtacn/exproto-go/pkg/actor"
	"github.com/turtacn/exproto-go/pkg/adapter"
	"github.com/turtacn/exproto-go/pkg/admin"
	"github.com/turtacn/exproto-go/pkg/auth"
	"github.com/turtacn/exproto-go/pkg/blacklist"
	"github.com/turtacn/exproto-go/pkg/broker"
	"github.com/turtacn/exproto-go/pkg/config"
	"github.com/turtacn/exproto-go/pkg/connection"
	"github.com/turtacn/exproto-go/pkg/handler"
	"github.com/turtacn/exproto-go/pkg/metrics"
	"github.com/turtacn/exproto-go/pkg/monitor"
	"github.com/turtacn/exproto-go/pkg/session"
	"github.com/turtacn/exproto-go/pkg/supervisor"
	gwtls "github.com/turtacn/exproto-go/pkg/tls"
	"github.com/turtacn/exproto-go/pkg/transport"
)

// closeTimeout bounds how long Run waits for connections to close on
// shutdown.
const closeTimeout = 10 * time.Second

// addressable is a running listener.
type addressable interface {
	Addr() net.Addr
}

// Gateway owns every component of a running gateway.
type Gateway struct {
	cfg       *config.Config
	system    *actor.ActorSystem
	authChain *auth.AuthChain
	sessions  *session.Registry
	bus       *broker.Broker
	handler   *handler.Client
	manager   *connection.Manager
	adapter   *adapter.Service
	banned    *blacklist.List
	health    *monitor.Checker
	listeners map[string]addressable
	specs     []supervisor.Spec
}

// New builds a gateway from cfg. Nothing listens until Run.
func New(cfg *config.Config) (*Gateway, error) {
	g := &Gateway{
		cfg:       cfg,
		system:    actor.NewActorSystem(),
		authChain: auth.NewAuthChain(),
		sessions:  session.NewRegistry(),
		bus:       broker.New(cfg.Gateway.NodeID),
		listeners: make(map[string]addressable),
		health:    monitor.NewChecker(cfg.Gateway.NodeID),
	}
	if err := cfg.ConfigureAuth(g.authChain); err != nil {
		return nil, fmt.Errorf("failed to configure authentication: %w", err)
	}

	banned, err := cfg.Blacklist()
	if err != nil {
		return nil, fmt.Errorf("failed to build ban list: %w", err)
	}
	g.banned = banned

	timeout, err := cfg.Gateway.Handler.TimeoutDuration()
	if err != nil {
		return nil, fmt.Errorf("invalid handler timeout: %w", err)
	}
	g.handler, err = handler.Dial(cfg.Gateway.Handler.Address, timeout)
	if err != nil {
		return nil, err
	}

	g.manager = connection.NewManager(g.system, g.handler,
		auth.NewClientAuthenticator(g.authChain, cfg.Gateway.Auth.AllowAnonymous).WithBanlist(banned),
		g.sessions, g.bus,
		connection.Options{
			Node:       cfg.Gateway.NodeID,
			Mountpoint: cfg.Gateway.Mountpoint,
			HighWater:  cfg.Gateway.MaxPending,
			InboxSize:  cfg.Gateway.InboxSize,
			Linger:     timeout + time.Second,
		})

	for _, l := range cfg.Gateway.Listeners {
		server, err := g.newListener(l)
		if err != nil {
			g.handler.Close()
			return nil, err
		}
		g.listeners[l.Name] = server
		g.specs = append(g.specs, supervisor.Spec{
			ID:      "listener-" + l.Name,
			Actor:   server,
			Restart: supervisor.RestartPermanent,
		})
	}

	g.adapter = adapter.NewService(cfg.Gateway.Adapter.Bind, g.manager)
	g.specs = append(g.specs, supervisor.Spec{
		ID:      "adapter",
		Actor:   g.adapter,
		Restart: supervisor.RestartPermanent,
	})

	g.registerChecks()

	g.specs = append(g.specs, supervisor.Spec{
		ID:      "blacklist",
		Actor:   banned,
		Restart: supervisor.RestartTransient,
	})

	if cfg.Gateway.MetricsPort != "" {
		routes := []metrics.Routes{g.health, admin.NewAPIServer(g.manager, g.sessions, g.bus)}
		g.specs = append(g.specs, supervisor.Spec{
			ID:      "metrics",
			Actor:   metricsServer{addr: cfg.Gateway.MetricsPort, routes: routes},
			Restart: supervisor.RestartTransient,
		})
	}
	return g, nil
}

type listenerActor interface {
	mbox.Actor
	addressable
}

func (g *Gateway) newListener(l config.ListenerConfig) (listenerActor, error) {
	switch l.Type {
	case config.ListenerTCP:
		return transport.NewTCPServer(l.Name, l.Bind, g.manager), nil
	case config.ListenerTLS:
		verify := gwtls.VerifyNone
		if l.VerifyPeer {
			verify = gwtls.VerifyPeer
			if l.FailIfNoPeerCert {
				verify = gwtls.VerifyPeerFailIfNoCert
			}
		}
		tlsConfig, err := gwtls.ServerConfig(gwtls.Options{
			CertFile:   l.CertFile,
			KeyFile:    l.KeyFile,
			CACertFile: l.CACertFile,
			Verify:     verify,
		})
		if err != nil {
			return nil, fmt.Errorf("listener %s: %w", l.Name, err)
		}
		return transport.NewTLSServer(l.Name, l.Bind, tlsConfig, g.manager), nil
	case config.ListenerUDP:
		idle, err := l.IdleTimeoutDuration()
		if err != nil {
			return nil, fmt.Errorf("listener %s: %w", l.Name, err)
		}
		return transport.NewUDPServer(l.Name, l.Bind, idle, g.manager), nil
	default:
		return nil, fmt.Errorf("listener %s: unsupported type: %s", l.Name, l.Type)
	}
}

// Run starts every component and blocks until ctx is cancelled. On the
// way out it closes all connections before stopping the listeners.
func (g *Gateway) Run(ctx context.Context) error {
	defer g.handler.Close()

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	sup := supervisor.NewOneForOneSupervisor()
	if err := sup.Start(runCtx, g.specs); err != nil {
		return err
	}
	slog.Info("gateway started", "node", g.cfg.Gateway.NodeID, "listeners", len(g.listeners))

	<-ctx.Done()
	slog.Info("gateway stopping", "connections", g.manager.Count())

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := g.manager.CloseAll(closeCtx); err != nil {
		slog.Warn("connections did not close in time", "err", err)
	}

	stop()
	sup.Wait()
	slog.Info("gateway stopped")
	return nil
}

// Manager returns the connection manager.
func (g *Gateway) Manager() *connection.Manager { return g.manager }

// Sessions returns the session registry.
func (g *Gateway) Sessions() *session.Registry { return g.sessions }

// ListenerAddr returns the bound address of a listener, or nil while it is
// not listening.
func (g *Gateway) ListenerAddr(name string) net.Addr {
	l, ok := g.listeners[name]
	if !ok {
		return nil
	}
	return l.Addr()
}

// AdapterAddr returns the bound address of the adapter service, or nil.
func (g *Gateway) AdapterAddr() net.Addr {
	return g.adapter.Addr()
}

// Health returns the health checker served next to the metrics.
func (g *Gateway) Health() *monitor.Checker { return g.health }

func (g *Gateway) registerChecks() {
	g.health.Register("handler", g.handler.Check, true)
	g.health.Register("adapter", func(context.Context) error {
		if g.AdapterAddr() == nil {
			return errors.New("adapter is not listening")
		}
		return nil
	}, true)
	for name := range g.listeners {
		g.health.Register("listener-"+name, func(context.Context) error {
			if g.ListenerAddr(name) == nil {
				return fmt.Errorf("listener %s is not listening", name)
			}
			return nil
		}, true)
	}
}

// metricsServer runs the Prometheus, health and admin endpoints as a
// supervised actor.
type metricsServer struct {
	addr   string
	routes []metrics.Routes
}

func (m metricsServer) Start(ctx context.Context, _ *mbox.Mailbox) error {
	return metrics.Serve(ctx, m.addr, m.routes...)
}
