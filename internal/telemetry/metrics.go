/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueOperationsTotal counts queue store mutations by operation.
	QueueOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_queue_operations_total",
		Help: "Queue store operations by type",
	}, []string{"op"})

	// StorageTransientFailuresTotal counts storage faults that triggered a retry.
	StorageTransientFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_storage_transient_failures_total",
		Help: "Transient storage failures by category",
	}, []string{"category"})

	// StorageRetriesExhaustedTotal counts calls that gave up after the full backoff schedule.
	StorageRetriesExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearth_storage_retries_exhausted_total",
		Help: "Storage calls that failed after all retries",
	})

	// StorageQueryDuration tracks gorm statement latency.
	StorageQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hearth_storage_query_duration_seconds",
		Help:    "Database statement duration",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"operation", "table"})

	// PlaybackOutcomesTotal counts classified play results.
	PlaybackOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_playback_outcomes_total",
		Help: "Playback outcomes after cascade classification",
	}, []string{"outcome"})

	// PlayerIPCFailuresTotal counts control channel teardowns.
	PlayerIPCFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearth_player_ipc_failures_total",
		Help: "Player control channel failures (timeouts, closed sockets, bad replies)",
	})

	// EventsEmittedTotal counts events by kind.
	EventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_events_emitted_total",
		Help: "Emitted notification events by kind",
	}, []string{"kind"})

	// EventSubscribers is the number of live push subscribers.
	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hearth_event_subscribers",
		Help: "Live push-notification subscribers",
	})

	// EventSubscribersDroppedTotal counts subscribers removed for a full mailbox.
	EventSubscribersDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearth_event_subscribers_dropped_total",
		Help: "Subscribers dropped because their mailbox was full",
	})

	// APIRequestsTotal counts HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_api_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration tracks HTTP latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hearth_api_request_duration_seconds",
		Help:    "HTTP request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections is the number of in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hearth_api_active_connections",
		Help: "In-flight HTTP requests",
	})
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
