package daemon

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records sync outcomes for Prometheus scraping.
type Metrics struct {
	syncTotal    *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	errorStreak  *prometheus.GaugeVec
}

// NewMetrics registers the daemon metrics with the given registerer. Passing
// nil uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		syncTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codespaces_sync_total",
				Help: "Total number of sync operations by workspace, path, direction, and status",
			},
			[]string{"workspace", "path", "direction", "status"},
		),
		syncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codespaces_sync_duration_seconds",
				Help:    "Duration of sync operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"workspace", "path"},
		),
		errorStreak: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "codespaces_sync_error_streak",
				Help: "Consecutive failures per sync path",
			},
			[]string{"workspace", "path"},
		),
	}
}

// ObserveSync records one completed sync attempt.
func (m *Metrics) ObserveSync(workspace, path, direction string, success bool, errorStreak int, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.syncTotal.WithLabelValues(workspace, path, direction, status).Inc()
	m.syncDuration.WithLabelValues(workspace, path).Observe(duration.Seconds())
	m.errorStreak.WithLabelValues(workspace, path).Set(float64(errorStreak))
}

// Handler returns the /metrics HTTP handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ServeMetrics starts a metrics listener on addr. It blocks, so callers run
// it in a goroutine; errors after shutdown are ignored by the caller.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
