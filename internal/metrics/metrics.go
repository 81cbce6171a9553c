// Package metrics exposes Prometheus instrumentation for the linking pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ansuz"

var (
	plansBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "planner",
		Name:      "plans_total",
		Help:      "Number of scan plans built.",
	})
	plannedFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "planner",
		Name:      "files_total",
		Help:      "Files seen by the planner, by decision.",
	}, []string{"decision"})

	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "duration_seconds",
		Help:      "Wall time of scan passes.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	})
	scanSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "steps_total",
		Help:      "Per-file scan steps, by stage and outcome.",
	}, []string{"stage", "outcome"})

	suggestionsServed = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "suggest",
		Name:      "candidates",
		Help:      "Number of candidates returned per suggestion request.",
		Buckets:   prometheus.LinearBuckets(0, 2, 11),
	})
	rerankOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "suggest",
		Name:      "rerank_total",
		Help:      "Rerank attempts, by outcome.",
	}, []string{"outcome"})

	cacheLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "loads_total",
		Help:      "Persisted blob loads, by result.",
	}, []string{"result"})
	documents = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "documents",
		Help:      "Documents with a stored embedding.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPlan counts one plan and its process/skip split.
func RecordPlan(toProcess, toSkip int) {
	plansBuilt.Inc()
	plannedFiles.WithLabelValues("process").Add(float64(toProcess))
	plannedFiles.WithLabelValues("skip").Add(float64(toSkip))
}

// RecordScan observes the duration of one scan pass.
func RecordScan(d time.Duration) {
	scanDuration.Observe(d.Seconds())
}

// RecordStep counts one per-file step. outcome is "ok" or "error".
func RecordStep(stage string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	scanSteps.WithLabelValues(stage, outcome).Inc()
}

// RecordSuggestions observes the size of one suggestion response.
func RecordSuggestions(n int) {
	suggestionsServed.Observe(float64(n))
}

// RecordRerank counts one rerank outcome.
func RecordRerank(outcome string) {
	rerankOutcomes.WithLabelValues(outcome).Inc()
}

// RecordCacheLoad counts one blob load result: "ok", "missing", "legacy" or "corrupt".
func RecordCacheLoad(result string, n int) {
	if n > 0 {
		cacheLoads.WithLabelValues(result).Add(float64(n))
	}
}

// SetDocuments sets the stored document gauge.
func SetDocuments(n int) {
	documents.Set(float64(n))
}
