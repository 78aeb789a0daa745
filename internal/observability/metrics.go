package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "covid_deaths"

// Metrics holds the Prometheus counters, histograms, and gauges for a forecast run.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	StageDuration   *prometheus.HistogramVec // labels: stage={backcast,threshold,submit,wait,compile,average}

	// Back-casting.
	BackcastLocations *prometheus.CounterVec // labels: outcome={success,empty,error}

	// Curve-fit dispatch and collection.
	JobsDispatched *prometheus.CounterVec // labels: outcome={success,error}
	JobsPending    prometheus.Gauge
	ModelsUsed     *prometheus.CounterVec // labels: model={location,national,none}

	// Hierarchy cache.
	HierarchyCache *prometheus.CounterVec // labels: result={hit,miss,error}
}

// NewMetrics creates and registers all run metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.StageDuration,
		m.BackcastLocations,
		m.JobsDispatched,
		m.JobsPending,
		m.ModelsUsed,
		m.HierarchyCache,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a forecast run is active, 0 otherwise.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600, 21600},
		}, []string{"stage"}),
		BackcastLocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backcast_locations_total",
			Help:      "Locations back-cast, by outcome.",
		}, []string{"outcome"}),
		JobsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dispatched_total",
			Help:      "Curve-fit jobs dispatched, by outcome.",
		}, []string{"outcome"}),
		JobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_pending",
			Help:      "Dispatched curve-fit jobs that have not produced draws yet.",
		}),
		ModelsUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "models_used_total",
			Help:      "Locations compiled, by the model variant of their accepted draws.",
		}, []string{"model"}),
		HierarchyCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hierarchy_cache_total",
			Help:      "Location hierarchy cache lookups by result.",
		}, []string{"result"}),
	}
}
