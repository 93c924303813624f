// Package metrics exposes prometheus instruments for the STK push flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the payment flow instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	SubmissionsTotal *prometheus.CounterVec
	PollQueriesTotal *prometheus.CounterVec
	OutcomesTotal    *prometheus.CounterVec
	PollAttempts     prometheus.Histogram
}

// New creates the instruments and registers them with reg. A nil reg uses
// the default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "stk"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "STK push submissions by result",
			},
			[]string{"result"},
		),
		PollQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_queries_total",
				Help:      "Payment status queries by result",
			},
			[]string{"result"},
		),
		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Terminal payment outcomes by status",
			},
			[]string{"status"},
		),
		PollAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_attempts",
				Help:      "Status queries issued before a payment resolved",
				Buckets:   []float64{1, 2, 3, 5, 10, 15, 20, 25, 30},
			},
		),
	}

	reg.MustRegister(m.SubmissionsTotal, m.PollQueriesTotal, m.OutcomesTotal, m.PollAttempts)
	return m
}

// RecordSubmission counts one stk-push call ("accepted" or "rejected").
func (m *Metrics) RecordSubmission(result string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(result).Inc()
}

// RecordPollQuery counts one status query ("ok" or "error").
func (m *Metrics) RecordPollQuery(result string) {
	if m == nil {
		return
	}
	m.PollQueriesTotal.WithLabelValues(result).Inc()
}

// RecordOutcome counts a terminal outcome and the attempts it took.
func (m *Metrics) RecordOutcome(status string, attempts int) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(status).Inc()
	m.PollAttempts.Observe(float64(attempts))
}
