package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Verification metrics
	VerificationsTotal   *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec
	ReplaysTotal         *prometheus.CounterVec
	AmountVerifiedTotal  *prometheus.CounterVec
	DevModeBypassTotal   prometheus.Counter

	// Chain RPC metrics
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec

	// Ledger metrics
	DBQueryDuration *prometheus.HistogramVec

	// Query serving metrics
	QueriesServedTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querygate_verifications_total",
				Help: "Total number of payment verification attempts by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		VerificationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "querygate_verification_duration_seconds",
				Help:    "Time taken to verify a payment signature",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		ReplaysTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querygate_replays_total",
				Help: "Total number of replayed signature presentations",
			},
			[]string{"endpoint"},
		),
		AmountVerifiedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querygate_amount_verified_total",
				Help: "Total verified payment amount in smallest units",
			},
			[]string{"asset"},
		),
		DevModeBypassTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "querygate_dev_mode_bypass_total",
				Help: "Requests accepted by the dev-mode verification bypass",
			},
		),
		RPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querygate_rpc_calls_total",
				Help: "Total chain RPC calls by method and status",
			},
			[]string{"method", "network", "status"},
		),
		RPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "querygate_rpc_call_duration_seconds",
				Help:    "Chain RPC call latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "network"},
		),
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "querygate_db_query_duration_seconds",
				Help:    "Signature ledger query latency by operation",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "backend"},
		),
		QueriesServedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querygate_queries_served_total",
				Help: "Datasets served after successful payment verification",
			},
			[]string{"dataset"},
		),
	}
}

// ObserveRPCCall records a chain RPC call with its duration and outcome.
func (m *Metrics) ObserveRPCCall(method, network string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RPCCallsTotal.WithLabelValues(method, network, status).Inc()
	m.RPCCallDuration.WithLabelValues(method, network).Observe(duration.Seconds())
}

// ObserveDBQuery records a ledger operation duration.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// RecordVerification records the outcome of a verification attempt.
func (m *Metrics) RecordVerification(outcome, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(outcome, reason).Inc()
	m.VerificationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordReplay records a replayed signature presentation.
func (m *Metrics) RecordReplay(endpoint string) {
	if m == nil {
		return
	}
	m.ReplaysTotal.WithLabelValues(endpoint).Inc()
}

// RecordAmountVerified adds a verified amount to the running per-asset total.
func (m *Metrics) RecordAmountVerified(asset string, amount int64) {
	if m == nil {
		return
	}
	m.AmountVerifiedTotal.WithLabelValues(asset).Add(float64(amount))
}

// RecordDevModeBypass counts a request accepted without verification.
func (m *Metrics) RecordDevModeBypass() {
	if m == nil {
		return
	}
	m.DevModeBypassTotal.Inc()
}

// RecordQueryServed counts a dataset response delivered downstream.
func (m *Metrics) RecordQueryServed(dataset string) {
	if m == nil {
		return
	}
	m.QueriesServedTotal.WithLabelValues(dataset).Inc()
}
