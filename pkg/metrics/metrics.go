package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MonitoringTicks counts completed monitoring-loop ticks by outcome
// ("ok", "skipped_overlap", "insufficient_data", "error").
var MonitoringTicks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sentry_monitoring_ticks_total",
		Help: "Total number of monitoring loop ticks by outcome",
	},
	[]string{"outcome"},
)

// MonitoringTickDuration records how long a monitoring tick's drift
// analysis takes.
var MonitoringTickDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "sentry_monitoring_tick_duration_seconds",
		Help:    "Duration in seconds of a single monitoring tick",
		Buckets: prometheus.DefBuckets,
	},
)

// DriftRatio is the last-observed fraction of monitored features flagged
// as drifted, per model.
var DriftRatio = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "sentry_drift_ratio",
		Help: "Fraction of monitored features flagged as drifted on the most recent tick",
	},
	[]string{"model_name"},
)

// GateDecisions counts six-gate evaluation outcomes. Rejections are a
// successful, expected operation, not an error — they are counted here,
// never in an error counter, labeled with the gate that stopped
// evaluation when the action is "reject".
var GateDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sentry_gate_decisions_total",
		Help: "Total number of promotion-gate evaluations by action and failing gate",
	},
	[]string{"action", "failed_gate"},
)

// RetrainingRuns counts orchestrator pipeline runs by trigger reason and
// terminal outcome.
var RetrainingRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sentry_retraining_runs_total",
		Help: "Total number of retraining pipeline runs by trigger reason and outcome",
	},
	[]string{"trigger_reason", "outcome"},
)

// PromotionState reports the current production model version as a
// constant gauge of 1, labeled by model name and version, so
// "which version is live" can be read off metrics directly.
var PromotionState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "sentry_production_model_version",
		Help: "Set to 1 for the (model_name, version) pair currently in production",
	},
	[]string{"model_name", "version"},
)

// DBOpenConns, DBIdleConns, DBInUseConns track the storage connection
// pool, following the teacher's database-pool gauge pattern.
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentry_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBIdleConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentry_db_idle_connections",
			Help: "Number of idle connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentry_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(
		MonitoringTicks,
		MonitoringTickDuration,
		DriftRatio,
		GateDecisions,
		RetrainingRuns,
		PromotionState,
		DBOpenConns,
		DBIdleConns,
		DBInUseConns,
	)
}
