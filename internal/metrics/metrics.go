// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OverlayRefreshes counts refresh attempts by outcome (issued, skipped, deduped).
	OverlayRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ags_overlay_refresh_total",
		Help: "Overlay refresh attempts by outcome",
	}, []string{"outcome"})

	// OverlayLoads counts completed image loads by result (swap, stale, failed).
	OverlayLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ags_overlay_load_total",
		Help: "Overlay image load completions by result",
	}, []string{"result"})

	// LoadDuration tracks image fetch and decode latency.
	LoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ags_overlay_load_duration_seconds",
		Help:    "Overlay image fetch and decode duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	// Requests counts request manager dispatches by result (ok, error, abandoned).
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ags_request_total",
		Help: "Async requests dispatched by result",
	}, []string{"result"})

	// RequestsPending is the number of registered requests awaiting a response.
	RequestsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ags_request_pending",
		Help: "Async requests awaiting a response",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
