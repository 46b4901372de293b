// Package metrics exposes Prometheus counters for scheduling, the pipeline
// and the reconciler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stages used as the "stage" label of FailuresTotal.
const (
	StageFetch     = "fetch"
	StageNormalize = "normalize"
	StageFilter    = "filter"
	StageProcess   = "process"
	StagePersist   = "persist"
	StageNotify    = "notify"
	StageStats     = "stats"
)

// Metrics holds every collector on a private registry, so tests can build
// as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	NewListings      *prometheus.CounterVec
	Failures         *prometheus.CounterVec
	Runs             *prometheus.CounterVec
	Rejected         *prometheus.CounterVec
	Probes           *prometheus.CounterVec
	Deactivated      prometheus.Counter
	ProviderDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		NewListings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_pipeline_new_total",
			Help: "New listings persisted, by provider",
		}, []string{"provider"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_pipeline_failures_total",
			Help: "Isolated pipeline failures, by stage",
		}, []string{"stage"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_scheduler_runs_total",
			Help: "Job fan-outs started, by trigger (scheduled, manual)",
		}, []string{"trigger"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_scheduler_rejected_total",
			Help: "Run requests refused, by reason",
		}, []string{"reason"}),
		Probes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_reconciler_probes_total",
			Help: "Liveness probe outcomes",
		}, []string{"signal"}),
		Deactivated: f.NewCounter(prometheus.CounterOpts{
			Name: "listing_reconciler_deactivated_total",
			Help: "Listings marked inactive by the reconciler",
		}),
		ProviderDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "listing_pipeline_provider_duration_seconds",
			Help:    "Wall time of one (job, provider) run",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider"}),
	}
}

// Registry returns the underlying registry, for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
