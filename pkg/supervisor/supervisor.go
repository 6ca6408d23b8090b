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

// package supervisor provides an OTP-style supervisor for the gateway's
// long-running actors: listeners and the adapter server.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/turtacn/exproto-go/pkg/actor"
	"github.com/turtacn/exproto-go/pkg/metrics"
)

// RestartStrategy defines the restart behavior for a supervised child actor.
type RestartStrategy int

const (
	// RestartPermanent always restarts the child.
	RestartPermanent RestartStrategy = iota
	// RestartTransient restarts the child only after an error or a panic.
	RestartTransient
	// RestartTemporary never restarts the child.
	RestartTemporary
)

func (r RestartStrategy) String() string {
	switch r {
	case RestartPermanent:
		return "permanent"
	case RestartTransient:
		return "transient"
	case RestartTemporary:
		return "temporary"
	default:
		return "unknown"
	}
}

// Spec defines a child actor managed by a supervisor.
type Spec struct {
	// ID is a unique identifier for the child actor, used for logging.
	ID      string
	Actor   actor.Actor
	Restart RestartStrategy
	Mailbox *actor.Mailbox
}

// Supervisor defines the interface for a supervisor process.
type Supervisor interface {
	// Start begins the supervision of a set of child actors.
	Start(ctx context.Context, specs []Spec) error
	// StartChild starts and supervises a single child actor dynamically.
	StartChild(ctx context.Context, spec Spec)
	// Wait blocks until every child has stopped for good.
	Wait()
}

// Option configures a OneForOneSupervisor.
type Option func(*OneForOneSupervisor)

// WithBackoff sets the bounds of the delay between restarts.
func WithBackoff(minDelay, maxDelay time.Duration) Option {
	return func(s *OneForOneSupervisor) {
		s.minDelay = minDelay
		s.maxDelay = maxDelay
	}
}

// OneForOneSupervisor restarts only the child that terminated. Restart
// delays grow exponentially while a child keeps failing and reset once it
// has run for longer than the maximum delay.
type OneForOneSupervisor struct {
	minDelay time.Duration
	maxDelay time.Duration
	wg       sync.WaitGroup
}

// NewOneForOneSupervisor creates a new one-for-one supervisor.
func NewOneForOneSupervisor(opts ...Option) *OneForOneSupervisor {
	s := &OneForOneSupervisor{
		minDelay: 100 * time.Millisecond,
		maxDelay: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the initial set of supervised children. This method is non-blocking.
func (s *OneForOneSupervisor) Start(ctx context.Context, specs []Spec) error {
	if len(specs) == 0 {
		return fmt.Errorf("no child specs provided")
	}
	for _, spec := range specs {
		s.StartChild(ctx, spec)
	}
	return nil
}

// StartChild launches and monitors a single new child actor in its own goroutine.
func (s *OneForOneSupervisor) StartChild(ctx context.Context, spec Spec) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitorChild(ctx, spec)
	}()
}

// Wait blocks until all children have stopped.
func (s *OneForOneSupervisor) Wait() {
	s.wg.Wait()
}

func (s *OneForOneSupervisor) monitorChild(ctx context.Context, spec Spec) {
	logger := slog.With("actor_id", spec.ID)
	delay := &backoff.Backoff{
		Min:    s.minDelay,
		Max:    s.maxDelay,
		Factor: 2,
		Jitter: true,
	}

	for {
		started := time.Now()
		err := s.runChild(ctx, spec, logger)

		if ctx.Err() != nil {
			logger.Debug("supervisor stopping, child not restarted")
			return
		}
		if err != nil {
			logger.Warn("actor terminated", "err", err)
		} else {
			logger.Info("actor terminated")
		}

		if !shouldRestart(spec.Restart, err) {
			logger.Info("actor will not be restarted", "strategy", spec.Restart)
			return
		}
		if time.Since(started) > s.maxDelay {
			delay.Reset()
		}

		metrics.SupervisorRestartsTotal.WithLabelValues(spec.ID).Inc()
		wait := delay.Duration()
		logger.Info("restarting actor", "delay", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// runChild runs the actor, converting a panic into an error.
func (s *OneForOneSupervisor) runChild(ctx context.Context, spec Spec, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("actor %s panicked: %v", spec.ID, r)
		}
	}()
	logger.Debug("starting actor")
	return spec.Actor.Start(ctx, spec.Mailbox)
}

func shouldRestart(strategy RestartStrategy, err error) bool {
	switch strategy {
	case RestartPermanent:
		return true
	case RestartTransient:
		return err != nil
	default:
		return false
	}
}
