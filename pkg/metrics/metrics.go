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

// package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exproto_go"

var (
	// ConnectionsTotal counts accepted connections.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_total",
		Help:      "The total number of connections accepted by the gateway.",
	})

	// ConnectionsActive is the number of live connection actors.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "The number of connections currently open.",
	})

	// ChannelTerminationsTotal counts channel terminations by reason kind.
	ChannelTerminationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_terminations_total",
		Help:      "The total number of terminated channels, by reason.",
	}, []string{"reason"})

	// BackendCallsTotal counts asynchronous calls issued to the backend.
	BackendCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_calls_total",
		Help:      "The total number of asynchronous backend calls issued.",
	}, []string{"call"})

	// BackendRepliesTotal counts backend replies by outcome.
	BackendRepliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_replies_total",
		Help:      "The total number of backend replies, by call and result.",
	}, []string{"call", "result"})

	// BackendCallDuration observes the latency of backend calls.
	BackendCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backend_call_duration_seconds",
		Help:      "Latency of asynchronous backend calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"call"})

	// DispatchPending is the number of backend calls waiting behind an
	// inflight call, summed over all channels.
	DispatchPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_pending",
		Help:      "The number of queued backend calls across all channels.",
	})

	// AuthTotal counts authentication outcomes.
	AuthTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_total",
		Help:      "The total number of authentication attempts, by result.",
	}, []string{"result"})

	// AdapterRequestsTotal counts backend commands received by the adapter.
	AdapterRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "adapter_requests_total",
		Help:      "The total number of adapter requests, by method and result code.",
	}, []string{"method", "code"})

	// MessagesPublishedTotal counts messages published onto the bus.
	MessagesPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_published_total",
		Help:      "The total number of messages published onto the bus.",
	})

	// MessagesDeliveredTotal counts deliveries accepted by subscriber inboxes.
	MessagesDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_delivered_total",
		Help:      "The total number of deliveries queued to subscribers.",
	})

	// MessagesDroppedTotal counts deliveries dropped because an inbox was full.
	MessagesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_dropped_total",
		Help:      "The total number of deliveries dropped on full inboxes.",
	})

	// SupervisorRestartsTotal counts restarts of supervised actors.
	SupervisorRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "supervisor_restarts_total",
		Help:      "The total number of times a supervised actor has been restarted.",
	}, []string{"actor_id"})
)

// Routes registers extra endpoints next to /metrics.
type Routes interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Handler returns the HTTP handler exposing the metrics and any extra
// routes.
func Handler(extra ...Routes) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	for _, r := range extra {
		r.RegisterRoutes(mux)
	}
	return mux
}

// Serve exposes the metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, extra ...Routes) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(extra...),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
