// Package metrics registers the Prometheus collectors for the auth core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration observes handler latency by route and status.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "auth",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	// AuthOutcomes counts auth operations by route and outcome.
	AuthOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "outcomes_total",
		Help:      "Auth operations by route and outcome.",
	}, []string{"route", "outcome"})

	// ThreatsDetected counts threat reports by type and severity.
	ThreatsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "threats_detected_total",
		Help:      "Threat reports raised by type and severity.",
	}, []string{"type", "severity"})

	// RequestsBlocked counts requests rejected pre-handler.
	RequestsBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "requests_blocked_total",
		Help:      "Requests rejected before reaching a handler.",
	}, []string{"reason"})

	// ActiveSessions tracks the live session count.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "auth",
		Name:      "active_sessions",
		Help:      "Sessions currently live.",
	})
)
