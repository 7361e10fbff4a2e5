package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects engine counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	transactionsTotal   *prometheus.CounterVec
	ruleMatchesTotal    *prometheus.CounterVec
	operatorAbortsTotal *prometheus.CounterVec
	phaseDuration       *prometheus.HistogramVec
	anomalyScore        *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "veil_transactions_total", Help: "Total finalized transactions"},
			[]string{"verdict"},
		),
		ruleMatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "veil_rule_matches_total", Help: "Total rule matches"},
			[]string{"rule_id", "phase"},
		),
		operatorAbortsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "veil_operator_aborts_total", Help: "Total operator evaluations aborted"},
			[]string{"rule_id"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "veil_phase_duration_seconds",
				Help:    "Phase evaluation duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
			},
			[]string{"phase"},
		),
		anomalyScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "veil_anomaly_score",
				Help:    "Anomaly score at the end of a transaction",
				Buckets: []float64{0, 2, 5, 10, 20, 50},
			},
			[]string{"direction"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.transactionsTotal,
		m.ruleMatchesTotal,
		m.operatorAbortsTotal,
		m.phaseDuration,
		m.anomalyScore,
	)

	return m
}

func (m *Metrics) Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveTransaction records the final verdict and scores of a transaction.
func (m *Metrics) ObserveTransaction(verdict string, inbound, outbound int) {
	if m == nil {
		return
	}
	m.transactionsTotal.WithLabelValues(verdict).Inc()
	m.anomalyScore.WithLabelValues("inbound").Observe(float64(inbound))
	m.anomalyScore.WithLabelValues("outbound").Observe(float64(outbound))
}

func (m *Metrics) ObserveRuleMatch(ruleID int, phase string) {
	if m == nil {
		return
	}
	m.ruleMatchesTotal.WithLabelValues(strconv.Itoa(ruleID), phase).Inc()
}

func (m *Metrics) ObserveOperatorAbort(ruleID int) {
	if m == nil {
		return
	}
	m.operatorAbortsTotal.WithLabelValues(strconv.Itoa(ruleID)).Inc()
}

func (m *Metrics) ObservePhase(phase string, took time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(took.Seconds())
}
