// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package metrics registers the Prometheus collectors for the lifecycle
// engine, the observers, and the adapters. Exposed at /metrics by the ops
// API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poller.

	PollTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsentry_poll_ticks_total",
			Help: "Poll ticks per server, by outcome",
		},
		[]string{"server", "outcome"}, // outcome: ok, adapter_error, process_error
	)

	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamsentry_poll_duration_seconds",
			Help:    "Duration of one server poll",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server"},
	)

	// Lifecycle.

	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsentry_sessions_started_total",
			Help: "Sessions created, by origin (poll or push)",
		},
		[]string{"origin"},
	)

	SessionsStopped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsentry_sessions_stopped_total",
			Help: "Sessions stopped, by kind (observed, quality_change, media_change, forced)",
		},
		[]string{"kind"},
	)

	SessionsUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamsentry_sessions_updated_total",
			Help: "Live session updates applied",
		},
	)

	StopRaces = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamsentry_stop_races_total",
			Help: "Stop or update attempts that lost to a concurrent stop (wasUpdated=false)",
		},
	)

	SerializationRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamsentry_serialization_retries_total",
			Help: "SERIALIZABLE transaction retries",
		},
	)

	CreateLockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamsentry_create_lock_contention_total",
			Help: "Session create-lock acquisitions refused to the slower producer",
		},
	)

	// Violations.

	ViolationsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsentry_violations_recorded_total",
			Help: "Violations recorded, by rule type and severity",
		},
		[]string{"rule_type", "severity"},
	)

	ViolationsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsentry_violations_deduplicated_total",
			Help: "Rule results suppressed by the dedup window",
		},
		[]string{"rule_type"},
	)

	// Adapters.

	AdapterRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsentry_adapter_requests_total",
			Help: "Outbound media server requests, by variant and outcome",
		},
		[]string{"variant", "operation", "outcome"},
	)

	AdapterRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamsentry_adapter_request_duration_seconds",
			Help:    "Outbound media server request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"variant", "operation"},
	)

	PushEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsentry_push_events_total",
			Help: "Server-push events consumed, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ReconciliationsTriggered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamsentry_reconciliations_triggered_total",
			Help: "One-shot reconciliation polls requested by the push processor",
		},
	)

	// Cache.

	ActiveSessionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamsentry_active_sessions",
			Help: "Live sessions currently projected in the cache",
		},
	)
)
