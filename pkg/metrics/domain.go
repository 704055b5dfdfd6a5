package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// LedgerMetrics counts wallet mutations by operation and outcome.
type LedgerMetrics struct {
	mutations *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger counters on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2p_ledger_mutations_total",
		Help: "Wallet mutations grouped by operation and result.",
	}, []string{"op", "result"})
	reg.MustRegister(mutations)
	return &LedgerMetrics{mutations: mutations}
}

// ObserveMutation records one ledger operation outcome.
func (m *LedgerMetrics) ObserveMutation(op, result string) {
	if m == nil || m.mutations == nil {
		return
	}
	m.mutations.WithLabelValues(normalizeLabel(op), normalizeLabel(result)).Inc()
}

// OrderMetrics counts order lifecycle transitions.
type OrderMetrics struct {
	transitions *prometheus.CounterVec
}

// NewOrderMetrics registers the order counters on the provided registerer.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2p_order_transitions_total",
		Help: "Order state transitions grouped by target status and result.",
	}, []string{"to", "result"})
	reg.MustRegister(transitions)
	return &OrderMetrics{transitions: transitions}
}

// ObserveTransition records one transition attempt.
func (m *OrderMetrics) ObserveTransition(to, result string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(to), normalizeLabel(result)).Inc()
}

// TaskMetrics counts reward payouts.
type TaskMetrics struct {
	completions *prometheus.CounterVec
}

// NewTaskMetrics registers the task counters on the provided registerer.
func NewTaskMetrics(reg prometheus.Registerer) *TaskMetrics {
	if reg == nil {
		return &TaskMetrics{}
	}
	completions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2p_task_completions_total",
		Help: "Task completion attempts grouped by task type and result.",
	}, []string{"task_type", "result"})
	reg.MustRegister(completions)
	return &TaskMetrics{completions: completions}
}

// ObserveCompletion records one completion attempt.
func (m *TaskMetrics) ObserveCompletion(taskType, result string) {
	if m == nil || m.completions == nil {
		return
	}
	m.completions.WithLabelValues(normalizeLabel(taskType), normalizeLabel(result)).Inc()
}
