// Package metrics exposes Prometheus instrumentation for catalog fetches and
// the plugin update pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "plugman"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the collectors registered by New.
type Metrics struct {
	CatalogFetches  *prometheus.CounterVec
	ManifestFetches *prometheus.CounterVec
	Updates         *prometheus.CounterVec
	UpdateDuration  prometheus.Histogram
	DownloadedBytes prometheus.Counter
	Removals        *prometheus.CounterVec
	Installed       prometheus.Gauge
}

// New registers the collectors on reg. A nil reg uses a private registry,
// which keeps tests free of duplicate registration panics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		CatalogFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_fetches_total",
			Help:      "Registry catalog fetches by result",
		}, []string{"result"}),

		ManifestFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_fetches_total",
			Help:      "Remote manifest fetches by result",
		}, []string{"result"}),

		Updates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Plugin download and install pipelines by result",
		}, []string{"result"}),

		UpdateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_duration_seconds",
			Help:      "Duration of the plugin download and install pipeline",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		DownloadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes of plugin archives downloaded",
		}),

		Removals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removals_total",
			Help:      "Plugin removals by result",
		}, []string{"result"}),

		Installed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "installed_plugins",
			Help:      "Plugins currently held by the runtime registry",
		}),
	}
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
