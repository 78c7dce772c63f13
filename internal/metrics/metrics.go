// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kestrel"

// Metrics is a set of collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	corpusRuns        prometheus.Counter
	corpusDuration    prometheus.Histogram
	unitsGenerated    *prometheus.CounterVec
	unitsRegenerated  prometheus.Counter
	repairs           prometheus.Counter
	interactions      prometheus.Counter
	violations        *prometheus.CounterVec
	vectorsExtracted  prometheus.Counter
	assessments       *prometheus.CounterVec
	scoreDuration     prometheus.Histogram
	timelinesIngested prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		corpusRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "corpus", Name: "runs_total",
			Help: "Corpus generation runs completed.",
		}),
		corpusDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "corpus", Name: "duration_seconds",
			Help:    "Wall time of corpus generation runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		unitsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "corpus", Name: "units_total",
			Help: "Pattern units generated, by pattern.",
		}, []string{"pattern"}),
		unitsRegenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "corpus", Name: "units_regenerated_total",
			Help: "Units regenerated after an invariant violation.",
		}),
		repairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "corpus", Name: "repairs_total",
			Help: "Timelines repaired in place.",
		}),
		interactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "corpus", Name: "interactions_total",
			Help: "Interactions generated.",
		}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "validate", Name: "violations_total",
			Help: "Invariant violations found in submitted timelines, by invariant.",
		}, []string{"invariant"}),
		vectorsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "features", Name: "vectors_total",
			Help: "Feature vectors extracted.",
		}),
		assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scoring", Name: "assessments_total",
			Help: "Assessments produced, by status.",
		}, []string{"status"}),
		scoreDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scoring", Name: "duration_seconds",
			Help:    "Time to score one feature vector.",
			Buckets: prometheus.DefBuckets,
		}),
		timelinesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "timelines_total",
			Help: "Ingested timelines processed by the worker.",
		}),
	}
	m.registry.MustRegister(
		m.corpusRuns, m.corpusDuration, m.unitsGenerated, m.unitsRegenerated,
		m.repairs, m.interactions, m.violations, m.vectorsExtracted,
		m.assessments, m.scoreDuration, m.timelinesIngested,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// CorpusRun records one generation run.
type CorpusRun struct {
	Duration         time.Duration
	PatternCounts    map[string]int
	RegeneratedUnits int
	Repairs          int
	Interactions     int
}

// ObserveCorpus records a finished generation run.
func (m *Metrics) ObserveCorpus(run CorpusRun) {
	if m == nil {
		return
	}
	m.corpusRuns.Inc()
	m.corpusDuration.Observe(run.Duration.Seconds())
	for pattern, n := range run.PatternCounts {
		m.unitsGenerated.WithLabelValues(pattern).Add(float64(n))
	}
	m.unitsRegenerated.Add(float64(run.RegeneratedUnits))
	m.repairs.Add(float64(run.Repairs))
	m.interactions.Add(float64(run.Interactions))
}

// ObserveViolation counts one violation of invariant.
func (m *Metrics) ObserveViolation(invariant string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(invariant).Inc()
}

// ObserveVectors counts n extracted vectors.
func (m *Metrics) ObserveVectors(n int) {
	if m == nil {
		return
	}
	m.vectorsExtracted.Add(float64(n))
}

// ObserveAssessment records one scored vector.
func (m *Metrics) ObserveAssessment(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.assessments.WithLabelValues(status).Inc()
	m.scoreDuration.Observe(took.Seconds())
}

// ObserveIngest counts one worker-processed timeline.
func (m *Metrics) ObserveIngest() {
	if m == nil {
		return
	}
	m.timelinesIngested.Inc()
}
