// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Simulation metrics
	BarsProcessed         prometheus.Counter
	OrdersSubmitted       *prometheus.CounterVec
	OrdersCancelled       *prometheus.CounterVec
	FillsTotal            *prometheus.CounterVec
	RiskRejections        *prometheus.CounterVec
	MarginRejections      prometheus.Counter
	RiskViolations        *prometheus.CounterVec
	KillSwitchActivations prometheus.Counter
	InstanceEquity        *prometheus.GaugeVec

	// Run metrics
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	ReportsGenerated prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
	UptimeSeconds     prometheus.Counter
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil reg uses the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "trading_sim"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Simulation metrics
		BarsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "bars_processed_total",
			Help:      "Total number of bars processed by simulation loops",
		}),
		OrdersSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "orders_submitted_total",
			Help:      "Total number of orders accepted by order type",
		}, []string{"order_type"}),
		OrdersCancelled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "orders_cancelled_total",
			Help:      "Total number of orders cancelled or rejected by final status",
		}, []string{"status"}),
		FillsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "fills_total",
			Help:      "Total number of fills by liquidity flag",
		}, []string{"liquidity"}),
		RiskRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "rejections_total",
			Help:      "Total number of pre-trade rejections by rule",
		}, []string{"rule"}),
		MarginRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "margin_rejections_total",
			Help:      "Total number of fills refused for insufficient margin",
		}),
		RiskViolations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "violations_total",
			Help:      "Total number of post-trade rule violations by rule",
		}, []string{"rule"}),
		KillSwitchActivations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "kill_switch_activations_total",
			Help:      "Total number of kill-switch activations",
		}),
		InstanceEquity: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "instance_equity",
			Help:      "Latest equity of a running instance",
		}, []string{"instance"}),

		// Run metrics
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "runs_total",
			Help:      "Total number of finished runs by terminal state",
		}, []string{"state"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall-clock run duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
		ReportsGenerated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "reports_generated_total",
			Help:      "Total number of reports generated",
		}),

		// Database metrics
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last completed run",
		}),
		UptimeSeconds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordBarProcessed increments the bars processed counter.
func RecordBarProcessed() {
	DefaultMetrics.BarsProcessed.Inc()
}

// RecordOrderSubmitted increments the accepted orders counter.
func RecordOrderSubmitted(orderType string) {
	DefaultMetrics.OrdersSubmitted.WithLabelValues(orderType).Inc()
}

// RecordOrderCancelled increments the cancelled/rejected orders counter.
func RecordOrderCancelled(status string) {
	DefaultMetrics.OrdersCancelled.WithLabelValues(status).Inc()
}

// RecordFill increments the fills counter.
func RecordFill(liquidity string) {
	DefaultMetrics.FillsTotal.WithLabelValues(liquidity).Inc()
}

// RecordRiskRejection records a pre-trade rejection.
func RecordRiskRejection(rule string) {
	DefaultMetrics.RiskRejections.WithLabelValues(rule).Inc()
}

// RecordMarginRejection records a fill refused by the ledger.
func RecordMarginRejection() {
	DefaultMetrics.MarginRejections.Inc()
}

// RecordRiskViolation records a post-trade violation.
func RecordRiskViolation(rule string) {
	DefaultMetrics.RiskViolations.WithLabelValues(rule).Inc()
}

// RecordKillSwitch records a kill-switch activation.
func RecordKillSwitch() {
	DefaultMetrics.KillSwitchActivations.Inc()
}

// UpdateInstanceEquity sets the equity gauge for a running instance.
func UpdateInstanceEquity(instance string, equity float64) {
	DefaultMetrics.InstanceEquity.WithLabelValues(instance).Set(equity)
}

// RecordRun records a finished run.
func RecordRun(state string, durationSeconds float64) {
	DefaultMetrics.RunsTotal.WithLabelValues(state).Inc()
	DefaultMetrics.RunDuration.Observe(durationSeconds)
}

// RecordReportGenerated increments the reports counter.
func RecordReportGenerated() {
	DefaultMetrics.ReportsGenerated.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// MarkRunSuccess sets the last successful run gauge.
func MarkRunSuccess(unixSeconds int64) {
	DefaultMetrics.LastSuccessfulRun.Set(float64(unixSeconds))
}
