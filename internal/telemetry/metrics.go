/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics for the conductor.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConductorTicksTotal counts tick loop iterations.
	ConductorTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_ticks_total",
		Help: "Number of conductor tick iterations.",
	})

	// TransitionsTotal counts playback transitions by kind.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_transitions_total",
		Help: "Number of playback transitions.",
	}, []string{"kind"})

	// ResolutionsTotal counts committed resolutions by origin.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_resolutions_total",
		Help: "Number of committed content resolutions.",
	}, []string{"origin"})

	// CatalogLookupFailuresTotal counts dropped ids after failed metadata fetches.
	CatalogLookupFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_catalog_lookup_failures_total",
		Help: "Number of track ids dropped after catalog lookup failures.",
	})

	// SilenceEpisodesTotal counts transitions into silence.
	SilenceEpisodesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_silence_episodes_total",
		Help: "Number of times playback stopped with nothing resolvable.",
	})

	// ScheduleChecksTotal counts slot boundary checks by outcome.
	ScheduleChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_schedule_checks_total",
		Help: "Number of calendar slot checks.",
	}, []string{"outcome"})

	// ConnectedClients tracks currently connected playback clients.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conductor_connected_clients",
		Help: "Number of connected playback clients.",
	})

	// RequestsRejectedTotal counts request enqueues rejected by the dedup guard.
	RequestsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_requests_rejected_total",
		Help: "Number of listener requests rejected as duplicates.",
	})

	// DatabaseQueryDuration observes snapshot store operation latency.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conductor_database_query_duration_seconds",
		Help:    "Database operation duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts failed database operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_database_errors_total",
		Help: "Number of database operation errors.",
	}, []string{"operation", "kind"})

	// DatabaseConnectionsActive tracks open database connections.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conductor_database_connections_active",
		Help: "Number of open database connections.",
	})

	// HTTPRequestsTotal counts HTTP requests by method, endpoint and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_http_requests_total",
		Help: "Number of HTTP requests.",
	}, []string{"method", "endpoint", "status"})

	// HTTPRequestDuration observes HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conductor_http_request_duration_seconds",
		Help:    "HTTP request duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	// HTTPActiveConnections tracks in-flight HTTP requests.
	HTTPActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conductor_http_active_connections",
		Help: "Number of in-flight HTTP requests.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
