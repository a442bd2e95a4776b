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
	// BookingRequestsTotal counts booking requests by final outcome.
	BookingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skuld",
		Subsystem: "engine",
		Name:      "booking_requests_total",
		Help:      "Booking requests processed, by outcome (approved, rejected, error).",
	}, []string{"outcome"})

	// BookingRejectionsTotal counts rejections by reason code.
	BookingRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skuld",
		Subsystem: "engine",
		Name:      "booking_rejections_total",
		Help:      "Rejected booking requests, by reason.",
	}, []string{"reason"})

	// LockWaitDuration observes time spent waiting for a resource's lock.
	LockWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "skuld",
		Subsystem: "engine",
		Name:      "lock_wait_seconds",
		Help:      "Time spent waiting to acquire a resource lock.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5},
	})

	// LockTimeoutsTotal counts lock acquisitions that timed out.
	LockTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skuld",
		Subsystem: "engine",
		Name:      "lock_timeouts_total",
		Help:      "Resource lock acquisitions abandoned after the wait timeout.",
	})

	// SweepRunsTotal counts completion sweep executions.
	SweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skuld",
		Subsystem: "sweeper",
		Name:      "runs_total",
		Help:      "Completion sweep executions.",
	})

	// SweepCompletionsTotal counts bookings transitioned by the sweep.
	SweepCompletionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skuld",
		Subsystem: "sweeper",
		Name:      "completions_total",
		Help:      "Bookings transitioned to completed by the sweep.",
	})

	// APIRequestsTotal counts HTTP API requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skuld",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP API requests, by method, endpoint and status code.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP API request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "skuld",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP API request latency, by method, endpoint and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "skuld",
		Subsystem: "api",
		Name:      "active_connections",
		Help:      "In-flight HTTP API requests.",
	})

	// LeaderStatus reports whether this instance holds the sweeper lease.
	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "skuld",
		Subsystem: "leadership",
		Name:      "is_leader",
		Help:      "1 when this instance holds the sweeper lease, 0 otherwise.",
	})

	// EventsPublishedTotal counts events published on the bus.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skuld",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events published on the internal bus, by type.",
	}, []string{"type"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
