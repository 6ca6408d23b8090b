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

// Package monitor provides the health checks of a running gateway and the
// HTTP endpoints that expose them.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"runtime"
	"slices"
	"sync"
	"time"
)

// checkTimeout bounds a single check.
const checkTimeout = 2 * time.Second

// CheckFunc reports an unhealthy component by returning an error.
type CheckFunc func(ctx context.Context) error

type check struct {
	fn       CheckFunc
	critical bool
}

// Checker runs named health checks. A failing critical check makes the
// whole node unhealthy.
type Checker struct {
	node    string
	started time.Time

	mu     sync.RWMutex
	checks map[string]check
}

// Status is the outcome of one round of checks.
type Status struct {
	Status     string                 `json:"status"`
	Node       string                 `json:"node"`
	Timestamp  time.Time              `json:"timestamp"`
	Uptime     int64                  `json:"uptime"`
	Checks     map[string]CheckResult `json:"checks"`
	Goroutines int                    `json:"goroutines"`
	MemoryUsed uint64                 `json:"memory_used"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Critical bool   `json:"critical"`
}

// Healthy reports whether no critical check failed.
func (s Status) Healthy() bool {
	return s.Status == "healthy"
}

// NewChecker creates a Checker for node with no checks registered.
func NewChecker(node string) *Checker {
	return &Checker{
		node:    node,
		started: time.Now(),
		checks:  make(map[string]check),
	}
}

// Register adds or replaces the check called name.
func (c *Checker) Register(name string, fn CheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check{fn: fn, critical: critical}
}

// Run executes every check and summarizes the results.
func (c *Checker) Run(ctx context.Context) Status {
	c.mu.RLock()
	checks := maps.Clone(c.checks)
	c.mu.RUnlock()
	names := slices.Sorted(maps.Keys(checks))

	status := Status{
		Status:     "healthy",
		Node:       c.node,
		Timestamp:  time.Now(),
		Uptime:     int64(time.Since(c.started).Seconds()),
		Checks:     make(map[string]CheckResult, len(names)),
		Goroutines: runtime.NumGoroutine(),
	}
	for _, name := range names {
		chk := checks[name]
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := chk.fn(cctx)
		cancel()

		res := CheckResult{Status: "passed", Critical: chk.critical}
		if err != nil {
			res.Status = "failed"
			res.Message = err.Error()
			if chk.critical {
				status.Status = "unhealthy"
			}
			slog.Warn("health check failed", "check", name, "critical", chk.critical, "err", err)
		}
		status.Checks[name] = res
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	status.MemoryUsed = mem.Alloc
	return status
}

// RegisterRoutes adds the health endpoints to mux:
//
//	/health/live   always 200 while the process serves HTTP
//	/health/ready  200 when healthy, 503 otherwise
//	/health        the detailed JSON status
func (c *Checker) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /health/ready", func(w http.ResponseWriter, r *http.Request) {
		if c.Run(r.Context()).Healthy() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Service Unavailable"))
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := c.Run(r.Context())
		code := http.StatusOK
		if !status.Healthy() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode health status", "err", err)
	}
}
