// Package metrics exposes Prometheus instrumentation for trials, alerts and monitoring rounds.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "otcshield"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	TrialsTotal     *prometheus.CounterVec
	TrialDuration   *prometheus.HistogramVec
	RiskScore       *prometheus.HistogramVec
	MEVProfit       *prometheus.CounterVec
	SamplesPerTrial prometheus.Histogram
	AlertsFired     *prometheus.CounterVec
	RoundsTotal     *prometheus.CounterVec
	LastRound       prometheus.Gauge
	TrialsPersisted prometheus.Counter
	PersistErrors   prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		TrialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "trials_total",
			Help:      "Simulated OTC trials by token and outcome",
		}, []string{"token", "outcome"}),
		TrialDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "trial_duration_seconds",
			Help:      "Wall time of a single trial including the sampling window",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"token"}),
		RiskScore: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "score",
			Help:      "Composite front-running risk score",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}, []string{"token"}),
		MEVProfit: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mev",
			Name:      "net_profit_usd_total",
			Help:      "Cumulative estimated net MEV profit in USD",
		}, []string{"token"}),
		SamplesPerTrial: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "samples_per_trial",
			Help:      "Price points collected per sampling window",
			Buckets:   prometheus.LinearBuckets(1, 5, 10),
		}),
		AlertsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "fired_total",
			Help:      "Alerts fired by token, direction and severity",
		}, []string{"token", "direction", "severity"}),
		RoundsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "rounds_total",
			Help:      "Monitoring rounds by status",
		}, []string{"status"}),
		LastRound: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "last_round_timestamp_seconds",
			Help:      "Unix time of the last completed monitoring round",
		}),
		TrialsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "trials_persisted_total",
			Help:      "Trials written to the database",
		}),
		PersistErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "persist_errors_total",
			Help:      "Failed database writes",
		}),
	}
}

// Outcome labels for TrialsTotal.
const (
	OutcomeRisk   = "risk"
	OutcomeClear  = "clear"
	OutcomeFailed = "failed"
)

// ObserveTrial records one finished trial.
func (m *Metrics) ObserveTrial(token, outcome string, riskScore, mevProfit float64, samples int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TrialsTotal.WithLabelValues(token, outcome).Inc()
	m.TrialDuration.WithLabelValues(token).Observe(elapsed.Seconds())
	if outcome == OutcomeFailed {
		return
	}
	m.RiskScore.WithLabelValues(token).Observe(riskScore)
	if mevProfit > 0 {
		m.MEVProfit.WithLabelValues(token).Add(mevProfit)
	}
	m.SamplesPerTrial.Observe(float64(samples))
}

// ObserveAlert records a fired alert.
func (m *Metrics) ObserveAlert(token, direction, severity string) {
	if m == nil {
		return
	}
	m.AlertsFired.WithLabelValues(token, direction, severity).Inc()
}

// ObserveRound records the outcome of a monitoring round.
func (m *Metrics) ObserveRound(at time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RoundsTotal.WithLabelValues(status).Inc()
	if err == nil {
		m.LastRound.Set(float64(at.Unix()))
	}
}

// ObservePersist records a batch of database writes.
func (m *Metrics) ObservePersist(written, failed int) {
	if m == nil {
		return
	}
	m.TrialsPersisted.Add(float64(written))
	m.PersistErrors.Add(float64(failed))
}

// OutcomeOf maps a trial verdict to its label.
func OutcomeOf(detected, failed bool) string {
	switch {
	case failed:
		return OutcomeFailed
	case detected:
		return OutcomeRisk
	default:
		return OutcomeClear
	}
}
