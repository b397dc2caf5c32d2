// Package health monitors provider availability and owns the process's
// Prometheus metrics and the optional diagnostics HTTP listener.
package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mnemo-ai/mnemo-go/internal/provider"
)

// Metrics holds every Prometheus metric the process exports. A single
// instance is created at wiring time and registered against an injected
// prometheus.Registry so unit tests stay hermetic.
type Metrics struct {
	// providerStatus encodes the last observed health of each provider.
	// Values: 3 ready, 2 initializing, 1 needs-download, 0 unavailable,
	// -1 error.
	providerStatus *prometheus.GaugeVec

	// embedDurationSeconds records backend embedding computations. Cache
	// hits are not included.
	embedDurationSeconds prometheus.Histogram

	// modelLoadDurationSeconds records completed lazy model loads.
	modelLoadDurationSeconds prometheus.Histogram

	// cacheLookupsTotal counts embedding cache consultations, partitioned
	// by result: "hit" or "miss".
	cacheLookupsTotal *prometheus.CounterVec

	// conflictVerdictsTotal counts detector classifications by kind.
	conflictVerdictsTotal *prometheus.CounterVec
}

// NewMetrics registers all metrics against reg. promauto.With(reg) is used
// so each call registers into the provided registry rather than the global
// default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		providerStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mnemo",
			Subsystem: "provider",
			Name:      "status",
			Help:      "Last observed provider health: 3 ready, 2 initializing, 1 needs-download, 0 unavailable, -1 error.",
		}, []string{"provider"}),

		embedDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mnemo",
			Subsystem: "embedding",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of backend embedding computations, cache hits excluded.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		modelLoadDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mnemo",
			Subsystem: "embedding",
			Name:      "model_load_duration_seconds",
			Help:      "Duration of lazy embedding-model loads, including any model download.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		}),

		cacheLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mnemo",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Embedding cache consultations, partitioned by result.",
		}, []string{"result"}),

		conflictVerdictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mnemo",
			Subsystem: "conflict",
			Name:      "verdicts_total",
			Help:      "Conflict detector classifications, partitioned by verdict kind.",
		}, []string{"kind"}),
	}
}

// SetProviderStatus records the latest health classification for a provider.
func (m *Metrics) SetProviderStatus(name string, status provider.Status) {
	m.providerStatus.WithLabelValues(name).Set(statusValue(status))
}

// ObserveEmbed records one backend embedding computation.
func (m *Metrics) ObserveEmbed(d time.Duration) {
	m.embedDurationSeconds.Observe(d.Seconds())
}

// ObserveModelLoad records a completed lazy model load.
func (m *Metrics) ObserveModelLoad(d time.Duration) {
	m.modelLoadDurationSeconds.Observe(d.Seconds())
}

// ObserveCacheLookup records an embedding cache consultation outcome.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(result).Inc()
}

// CountVerdict records one conflict detector classification.
func (m *Metrics) CountVerdict(kind string) {
	m.conflictVerdictsTotal.WithLabelValues(kind).Inc()
}

func statusValue(status provider.Status) float64 {
	switch status {
	case provider.StatusReady:
		return 3
	case provider.StatusInitializing:
		return 2
	case provider.StatusNeedsDownload:
		return 1
	case provider.StatusUnavailable:
		return 0
	case provider.StatusError:
		return -1
	default:
		return 0
	}
}
