package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SniffSessions counts finished sniff sessions by outcome ("found", "exhausted", "cached", "cancelled").
var SniffSessions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidsniff_sessions_total",
	Help: "Number of finished sniff sessions",
}, []string{"media_type", "outcome"})

// SniffDuration observes how long a session took from catalog build to result.
var SniffDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "vidsniff_session_duration_seconds",
	Help:    "Duration of sniff sessions",
	Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
}, []string{"outcome"})

// ProviderAttempts counts per-provider probe results. The "result" label is
// "completed" or "error".
var ProviderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidsniff_provider_attempts_total",
	Help: "Number of provider probe attempts",
}, []string{"provider", "strategy", "result"})

// ProviderDuration observes single probe durations per provider.
var ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "vidsniff_provider_duration_seconds",
	Help:    "Duration of provider probes",
	Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
}, []string{"provider"})

// ActiveSessions tracks sniff sessions currently running.
var ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "vidsniff_active_sessions",
	Help: "Number of sniff sessions in progress",
})

// ProgressViewers tracks connected progress event streams.
var ProgressViewers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "vidsniff_progress_viewers",
	Help: "Number of connected progress event streams",
})

// BytesTransferred counts bytes relayed by the stream proxy.
var BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidsniff_proxy_bytes_transferred",
	Help: "Total bytes relayed by the stream proxy",
}, []string{"kind"})

// ProxyErrors counts stream proxy failures by type.
var ProxyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidsniff_proxy_errors",
	Help: "Number of stream proxy errors",
}, []string{"error_type"})
