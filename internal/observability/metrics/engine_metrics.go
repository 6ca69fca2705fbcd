// Package metrics exposes Prometheus instruments for the points engine
// and the reconciliation loop.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Config labels every instrument with service identity.
type Config struct {
	ServiceName string
	Environment string
}

// EngineMetrics counts ledger writes and reconciliation outcomes.
type EngineMetrics struct {
	awardsTotal        *prometheus.CounterVec
	awardAmount        *prometheus.HistogramVec
	reversalsTotal     *prometheus.CounterVec
	reconcileChecked   prometheus.Counter
	reconcileDrift     *prometheus.CounterVec
	reconcileDriftLast prometheus.Gauge
}

var (
	engineMetricsOnce sync.Once
	engineMetrics     *EngineMetrics
)

// Engine returns the process-wide engine metrics.
func Engine() *EngineMetrics {
	return EngineWithConfig(Config{})
}

// EngineWithConfig returns the process-wide engine metrics, registering
// them on first use.
func EngineWithConfig(cfg Config) *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineMetrics = newEngineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return engineMetrics
}

// ResetEngineMetricsForTest clears the singleton between test registries.
func ResetEngineMetricsForTest() {
	engineMetricsOnce = sync.Once{}
	engineMetrics = nil
}

func newEngineMetrics(registerer prometheus.Registerer, cfg Config) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "pointsd"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	awardsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "pointsd_awards_total",
			Help:        "Point award attempts by source and outcome.",
			ConstLabels: constLabels,
		},
		[]string{"source", "result"}, // applied | duplicate | capped | rejected | failed
	)

	awardAmount := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "pointsd_award_amount",
			Help:        "Absolute XP amount per applied award.",
			Buckets:     []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			ConstLabels: constLabels,
		},
		[]string{"source"},
	)

	reversalsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "pointsd_reversals_total",
			Help:        "Ledger entry reversals by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // reversed | conflict | not_found | failed
	)

	reconcileChecked := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "pointsd_reconcile_checked_total",
			Help:        "User balances validated by the reconciler.",
			ConstLabels: constLabels,
		},
	)

	reconcileDrift := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "pointsd_reconcile_drift_total",
			Help:        "Balance discrepancies found, by action taken.",
			ConstLabels: constLabels,
		},
		[]string{"action"}, // auto_corrected | manual_review
	)

	reconcileDriftLast := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "pointsd_reconcile_last_drift_abs",
			Help:        "Largest absolute drift observed in the last batch run.",
			ConstLabels: constLabels,
		},
	)

	registerer.MustRegister(
		awardsTotal,
		awardAmount,
		reversalsTotal,
		reconcileChecked,
		reconcileDrift,
		reconcileDriftLast,
	)

	return &EngineMetrics{
		awardsTotal:        awardsTotal,
		awardAmount:        awardAmount,
		reversalsTotal:     reversalsTotal,
		reconcileChecked:   reconcileChecked,
		reconcileDrift:     reconcileDrift,
		reconcileDriftLast: reconcileDriftLast,
	}
}

func (m *EngineMetrics) IncAward(source, result string) {
	if m == nil {
		return
	}
	m.awardsTotal.WithLabelValues(source, result).Inc()
}

func (m *EngineMetrics) ObserveAwardAmount(source string, amount int64) {
	if m == nil {
		return
	}
	if amount < 0 {
		amount = -amount
	}
	m.awardAmount.WithLabelValues(source).Observe(float64(amount))
}

func (m *EngineMetrics) IncReversal(result string) {
	if m == nil {
		return
	}
	m.reversalsTotal.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) IncReconcileChecked() {
	if m == nil {
		return
	}
	m.reconcileChecked.Inc()
}

func (m *EngineMetrics) IncReconcileDrift(action string) {
	if m == nil {
		return
	}
	m.reconcileDrift.WithLabelValues(action).Inc()
}

func (m *EngineMetrics) SetLastDrift(drift int64) {
	if m == nil {
		return
	}
	if drift < 0 {
		drift = -drift
	}
	m.reconcileDriftLast.Set(float64(drift))
}
