package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the policy engine, model router,
// and message queue.
//
// All metrics register with the default registry and are exposed through the
// standard promhttp handler. A nil *Metrics is safe; every recording method
// no-ops so tests and embedded callers can skip metrics wiring.
type Metrics struct {
	// PolicyDecisions counts policy evaluations.
	// Labels: policy_type, outcome (allow|deny)
	PolicyDecisions *prometheus.CounterVec

	// PolicyForwards counts forward dispatches triggered by a decision.
	// Labels: policy_type, status (sent|error)
	PolicyForwards *prometheus.CounterVec

	// RouterSelections counts account selections.
	// Labels: agent, mode (manual|smart), reason (manual|pinned|scored|failsafe)
	RouterSelections *prometheus.CounterVec

	// RouterFailsafe counts smart-mode fail-safe fallbacks, the signal that a
	// whole account pool scored unavailable.
	RouterFailsafe prometheus.Counter

	// AccountScore reports the latest total score per account.
	// Labels: agent, account
	AccountScore *prometheus.GaugeVec

	// QueueDepth tracks pending messages per queue.
	// Labels: queue
	QueueDepth *prometheus.GaugeVec

	// QueueEnqueued counts accepted and dropped enqueues.
	// Labels: queue, status (accepted|expired)
	QueueEnqueued *prometheus.CounterVec

	// QueueBatchDuration measures handler execution time in seconds.
	// Labels: queue
	QueueBatchDuration *prometheus.HistogramVec

	// QueueOutcomes counts terminal message outcomes.
	// Labels: queue, outcome (completed|retried|failed)
	QueueOutcomes *prometheus.CounterVec
}

// NewMetrics creates and registers all switchboard metrics. Call once at
// startup; duplicate registration panics by Prometheus convention.
func NewMetrics() *Metrics {
	return &Metrics{
		PolicyDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_policy_decisions_total",
				Help: "Policy evaluations by policy type and outcome.",
			},
			[]string{"policy_type", "outcome"},
		),
		PolicyForwards: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_policy_forwards_total",
				Help: "Forward dispatches triggered by policy decisions.",
			},
			[]string{"policy_type", "status"},
		),
		RouterSelections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_router_selections_total",
				Help: "Model account selections by agent, mode, and reason.",
			},
			[]string{"agent", "mode", "reason"},
		),
		RouterFailsafe: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "switchboard_router_failsafe_total",
				Help: "Smart-routing selections that fell back to the first configured account.",
			},
		),
		AccountScore: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "switchboard_router_account_score",
				Help: "Latest composite score per model account.",
			},
			[]string{"agent", "account"},
		),
		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "switchboard_queue_depth",
				Help: "Pending messages per queue.",
			},
			[]string{"queue"},
		),
		QueueEnqueued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_queue_enqueued_total",
				Help: "Enqueue attempts by queue and status.",
			},
			[]string{"queue", "status"},
		),
		QueueBatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_queue_batch_duration_seconds",
				Help:    "Batch handler execution time in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"queue"},
		),
		QueueOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_queue_outcomes_total",
				Help: "Terminal message outcomes by queue.",
			},
			[]string{"queue", "outcome"},
		),
	}
}

// RecordDecision records one policy evaluation outcome.
func (m *Metrics) RecordDecision(policyType string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.PolicyDecisions.WithLabelValues(policyType, outcome).Inc()
}

// RecordForward records one forward dispatch attempt.
func (m *Metrics) RecordForward(policyType string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "error"
	}
	m.PolicyForwards.WithLabelValues(policyType, status).Inc()
}

// RecordSelection records one router selection.
func (m *Metrics) RecordSelection(agent, mode, reason string) {
	if m == nil {
		return
	}
	m.RouterSelections.WithLabelValues(agent, mode, reason).Inc()
}

// RecordFailsafe records a fail-safe fallback selection.
func (m *Metrics) RecordFailsafe() {
	if m == nil {
		return
	}
	m.RouterFailsafe.Inc()
}

// RecordAccountScore publishes the latest total score for an account.
func (m *Metrics) RecordAccountScore(agent, account string, score float64) {
	if m == nil {
		return
	}
	m.AccountScore.WithLabelValues(agent, account).Set(score)
}

// SetQueueDepth publishes the pending count for a queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordEnqueue records an enqueue attempt.
func (m *Metrics) RecordEnqueue(queue, status string) {
	if m == nil {
		return
	}
	m.QueueEnqueued.WithLabelValues(queue, status).Inc()
}

// ObserveBatch records one batch handler execution.
func (m *Metrics) ObserveBatch(queue string, seconds float64) {
	if m == nil {
		return
	}
	m.QueueBatchDuration.WithLabelValues(queue).Observe(seconds)
}

// RecordQueueOutcome records a terminal message outcome.
func (m *Metrics) RecordQueueOutcome(queue, outcome string) {
	if m == nil {
		return
	}
	m.QueueOutcomes.WithLabelValues(queue, outcome).Inc()
}
