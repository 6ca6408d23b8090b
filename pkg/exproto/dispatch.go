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
	"github.com/eapache/queue"
	"github.com/turtacn/exproto-go/pkg/metrics"
)

// Dispatcher enforces at most one outstanding backend call per channel.
// Calls submitted while another is inflight wait in a FIFO and are issued
// in submission order as replies clear the inflight slot.
//
// A Dispatcher is not safe for concurrent use; it belongs to its Channel.
type Dispatcher struct {
	backend  Backend
	pending  *queue.Queue
	inflight CallName
	busy     bool

	// highWater is the pending depth above which the transport is asked to
	// pause reading. Zero disables throttling.
	highWater int
	throttled bool
}

// NewDispatcher creates a Dispatcher issuing calls to backend.
func NewDispatcher(backend Backend, highWater int) *Dispatcher {
	return &Dispatcher{
		backend:   backend,
		pending:   queue.New(),
		highWater: highWater,
	}
}

// Submit issues req immediately when nothing is inflight, otherwise appends
// it to the pending queue. It never fails.
func (d *Dispatcher) Submit(req Request) {
	if !d.busy {
		d.issue(req)
		return
	}
	d.pending.Add(req)
	metrics.DispatchPending.Inc()
}

// Cleared is called once the reply for the inflight call has been handled.
// It issues the head of the pending queue, if any, and otherwise leaves the
// dispatcher idle.
func (d *Dispatcher) Cleared() {
	d.busy = false
	d.inflight = ""
	if d.pending.Length() == 0 {
		return
	}
	req := d.pending.Remove().(Request)
	metrics.DispatchPending.Dec()
	d.issue(req)
}

func (d *Dispatcher) issue(req Request) {
	d.busy = true
	d.inflight = req.Call()
	metrics.BackendCallsTotal.WithLabelValues(string(req.Call())).Inc()
	d.backend.Cast(req)
}

// Inflight returns the name of the outstanding call, if there is one.
func (d *Dispatcher) Inflight() (CallName, bool) {
	return d.inflight, d.busy
}

// Pending returns the number of calls waiting behind the inflight one.
func (d *Dispatcher) Pending() int {
	return d.pending.Length()
}

// Discard drops every pending call. The inflight call, if any, is left
// alone since it cannot be cancelled.
func (d *Dispatcher) Discard() {
	n := d.pending.Length()
	for d.pending.Length() > 0 {
		d.pending.Remove()
	}
	metrics.DispatchPending.Sub(float64(n))
}

// Abort clears the inflight slot without issuing anything and drops the
// pending calls. It is used once the backend has failed a call.
func (d *Dispatcher) Abort() {
	d.busy = false
	d.inflight = ""
	d.Discard()
}

// throttle reports a change of the backpressure state, if any, after the
// pending depth changed.
func (d *Dispatcher) throttle() (Throttle, bool) {
	if d.highWater <= 0 {
		return Throttle{}, false
	}
	depth := d.pending.Length()
	switch {
	case !d.throttled && depth > d.highWater:
		d.throttled = true
		return Throttle{Paused: true}, true
	case d.throttled && depth <= d.highWater/2:
		d.throttled = false
		return Throttle{Paused: false}, true
	}
	return Throttle{}, false
}
