// Package observe exposes Prometheus collectors for grading activity.
package observe

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"call-grader-go/internal/grading"
)

const namespace = "call_grader"

type Metrics struct {
	grades       *prometheus.CounterVec
	gradeLatency *prometheus.HistogramVec
	scores       *prometheus.HistogramVec
	failures     *prometheus.CounterVec
	batchActive  prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// Default returns the metrics registered with the global registry.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the collectors with reg, reusing collectors that
// are already registered. Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		grades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grades_total",
			Help:      "Grade codes assigned, by question and code.",
		}, []string{"grader", "question", "code"}),
		gradeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grade_duration_seconds",
			Help:      "Time spent grading one call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"grader"}),
		scores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grade_percentage",
			Help:      "Distribution of call scores.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}, []string{"grader"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grade_failures_total",
			Help:      "Calls that could not be graded.",
		}, []string{"grader", "reason"}),
		batchActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_calls_in_flight",
			Help:      "Calls currently being graded by a batch run.",
		}),
	}

	register := func(c prometheus.Collector) prometheus.Collector {
		if err := reg.Register(c); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return already.ExistingCollector
			}
			panic(err)
		}
		return c
	}
	m.grades = register(m.grades).(*prometheus.CounterVec)
	m.gradeLatency = register(m.gradeLatency).(*prometheus.HistogramVec)
	m.scores = register(m.scores).(*prometheus.HistogramVec)
	m.failures = register(m.failures).(*prometheus.CounterVec)
	m.batchActive = register(m.batchActive).(prometheus.Gauge)
	return m
}

// ObserveReport records every code of r plus the score and grading time.
func (m *Metrics) ObserveReport(grader string, r grading.Report, percentage float64, d time.Duration) {
	if m == nil {
		return
	}
	for _, g := range r.Items {
		m.grades.WithLabelValues(grader, g.ID, string(g.Code)).Inc()
	}
	m.scores.WithLabelValues(grader).Observe(percentage)
	m.gradeLatency.WithLabelValues(grader).Observe(d.Seconds())
}

func (m *Metrics) IncFailure(grader, reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(grader, reason).Inc()
}

// TrackBatchCall marks one batch call in flight until the returned func runs.
func (m *Metrics) TrackBatchCall() func() {
	if m == nil {
		return func() {}
	}
	m.batchActive.Inc()
	return m.batchActive.Dec
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
