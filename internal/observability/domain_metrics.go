package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmsinsight_questions_total",
			Help: "Questions answered or failed, by outcome and error kind.",
		},
		[]string{"outcome", "error_kind"},
	)
	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wmsinsight_stage_duration_seconds",
			Help:    "Latency of each query pipeline stage.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)
	policyViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmsinsight_policy_violations_total",
			Help: "Generated statements rejected by the validator, by rule.",
		},
		[]string{"rule"},
	)
	resultRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wmsinsight_result_rows",
			Help:    "Rows returned per executed query.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)
	resultTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wmsinsight_result_truncated_total",
			Help: "Results cut off at the row limit.",
		},
	)
	chartSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wmsinsight_chart_skipped_total",
			Help: "Requested charts that could not be shaped from the result.",
		},
	)
	auditFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wmsinsight_audit_failures_total",
			Help: "Audit records that could not be written.",
		},
	)
	warehouseViews = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wmsinsight_warehouse_views",
			Help: "Catalog tables exposed as warehouse views at startup, by state.",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		stageDurationSeconds,
		policyViolationsTotal,
		resultRows,
		resultTruncatedTotal,
		chartSkippedTotal,
		auditFailuresTotal,
		warehouseViews,
	)
}

func ObserveQuestion(outcome, errorKind string) {
	questionsTotal.WithLabelValues(outcome, errorKind).Inc()
}

func ObserveStage(stage string, elapsed time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func IncrementPolicyViolation(rule string) {
	policyViolationsTotal.WithLabelValues(rule).Inc()
}

func ObserveResult(rows int, truncated bool) {
	resultRows.Observe(float64(rows))
	if truncated {
		resultTruncatedTotal.Inc()
	}
}

func IncrementChartSkipped() {
	chartSkippedTotal.Inc()
}

func IncrementAuditFailure() {
	auditFailuresTotal.Inc()
}

func SetWarehouseViews(loaded, missing int) {
	warehouseViews.WithLabelValues("loaded").Set(float64(loaded))
	warehouseViews.WithLabelValues("missing").Set(float64(missing))
}
