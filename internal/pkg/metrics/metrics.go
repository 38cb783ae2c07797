// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptochat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cryptochat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptochat_rate_limit_hits_total",
			Help: "Requests rejected by a rate limiter",
		},
		[]string{"limiter"},
	)

	// Relay metrics
	OpenSockets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cryptochat_ws_open_sockets",
			Help: "WebSocket connections currently open, authenticated or not",
		},
	)

	RegisteredConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cryptochat_ws_registered_connections",
			Help: "Connections bound to a wallet address in the registry",
		},
	)

	Handshakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptochat_handshakes_total",
			Help: "Handshake outcomes",
		},
		[]string{"result"}, // "user", "created", "guest", "fallback", "ignored", "rejected"
	)

	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptochat_messages_routed_total",
			Help: "Messages persisted and routed, by chat kind and receipt status",
		},
		[]string{"chat", "status"},
	)

	FramesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptochat_frames_rejected_total",
			Help: "Inbound frames dropped silently or answered with an error frame",
		},
		[]string{"reason"},
	)

	LivenessEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cryptochat_liveness_evictions_total",
			Help: "Sockets closed after missing consecutive liveness probes",
		},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cryptochat_store_latency_seconds",
			Help:    "Directory and message store call latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5},
		},
		[]string{"op"},
	)
)
