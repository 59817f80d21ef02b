package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	providerCalls        *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec
	providerTokens       *prometheus.CounterVec

	keyExhausted   *prometheus.CounterVec
	keyRateLimited *prometheus.CounterVec

	agentDispatch *prometheus.CounterVec
	agentsByState *prometheus.GaugeVec

	taskTransitions *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	tasksReaped     prometheus.Counter

	workflowRuns  *prometheus.CounterVec
	workflowSteps *prometheus.CounterVec

	sessionTransitions *prometheus.CounterVec
	activeSessions     prometheus.Gauge

	eventsDropped   prometheus.Counter
	eventDeliveries *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			providerCalls: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_calls_total",
					Help: "Total upstream model calls by provider, model and status.",
				},
				[]string{"provider", "model", "status"},
			),
			providerCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "provider_call_duration_seconds",
					Help:    "Upstream model call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			providerTokens: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_tokens_total",
					Help: "Total tokens consumed by model.",
				},
				[]string{"model"},
			),
			keyExhausted: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "key_exhausted_total",
					Help: "Keys taken out of rotation after auth or quota rejection, by provider.",
				},
				[]string{"provider"},
			),
			keyRateLimited: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "key_rate_limited_total",
					Help: "Key acquisitions rejected because every key was saturated, by model.",
				},
				[]string{"model"},
			),
			agentDispatch: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_dispatch_total",
					Help: "Agent dispatch attempts by agent type and status.",
				},
				[]string{"agent_type", "status"},
			),
			agentsByState: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "agents",
					Help: "Current number of agents by state.",
				},
				[]string{"state"},
			),
			taskTransitions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "task_transitions_total",
					Help: "Task state transitions by target state.",
				},
				[]string{"state"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by agent type.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"agent_type"},
			),
			tasksReaped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "tasks_reaped_total",
					Help: "Running tasks failed by the stale task reaper.",
				},
			),
			workflowRuns: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "workflow_runs_total",
					Help: "Workflow runs by status.",
				},
				[]string{"status"},
			),
			workflowSteps: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "workflow_steps_total",
					Help: "Workflow steps by agent type and status.",
				},
				[]string{"agent_type", "status"},
			),
			sessionTransitions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vsession_transitions_total",
					Help: "Virtual session transitions by target state.",
				},
				[]string{"state"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "vsessions_active",
					Help: "Current number of non-terminal virtual sessions.",
				},
			),
			eventsDropped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "events_dropped_total",
					Help: "Change events dropped because the bus buffer was full.",
				},
			),
			eventDeliveries: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "event_deliveries_total",
					Help: "Change event deliveries by sink and status.",
				},
				[]string{"sink", "status"},
			),
		}

		prometheus.MustRegister(
			m.providerCalls,
			m.providerCallDuration,
			m.providerTokens,
			m.keyExhausted,
			m.keyRateLimited,
			m.agentDispatch,
			m.agentsByState,
			m.taskTransitions,
			m.taskDuration,
			m.tasksReaped,
			m.workflowRuns,
			m.workflowSteps,
			m.sessionTransitions,
			m.activeSessions,
			m.eventsDropped,
			m.eventDeliveries,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordProviderCall(provider, model string, duration time.Duration, success bool, tokens int64) {
	m := getMetrics()
	m.providerCalls.WithLabelValues(provider, model, statusLabel(success)).Inc()
	m.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if tokens > 0 {
		m.providerTokens.WithLabelValues(model).Add(float64(tokens))
	}
}

func RecordKeyExhausted(provider string) {
	getMetrics().keyExhausted.WithLabelValues(provider).Inc()
}

func RecordKeyRateLimited(model string) {
	getMetrics().keyRateLimited.WithLabelValues(model).Inc()
}

// RecordAgentDispatch counts a dispatch attempt. status is "dispatched",
// "busy" or "not_found".
func RecordAgentDispatch(agentType, status string) {
	getMetrics().agentDispatch.WithLabelValues(agentType, status).Inc()
}

func SetAgentsByState(counts map[string]int) {
	m := getMetrics()
	for state, n := range counts {
		m.agentsByState.WithLabelValues(state).Set(float64(n))
	}
}

func RecordTaskTransition(state string) {
	getMetrics().taskTransitions.WithLabelValues(state).Inc()
}

func RecordTaskDuration(agentType string, duration time.Duration) {
	getMetrics().taskDuration.WithLabelValues(agentType).Observe(duration.Seconds())
}

func RecordTasksReaped(n int) {
	if n > 0 {
		getMetrics().tasksReaped.Add(float64(n))
	}
}

func RecordWorkflowRun(success bool) {
	getMetrics().workflowRuns.WithLabelValues(statusLabel(success)).Inc()
}

func RecordWorkflowStep(agentType string, success bool) {
	getMetrics().workflowSteps.WithLabelValues(agentType, statusLabel(success)).Inc()
}

func RecordSessionTransition(state string) {
	getMetrics().sessionTransitions.WithLabelValues(state).Inc()
}

func SetActiveSessions(n int) {
	getMetrics().activeSessions.Set(float64(n))
}

func RecordEventDropped() {
	getMetrics().eventsDropped.Inc()
}

func RecordEventDelivery(sink string, success bool) {
	getMetrics().eventDeliveries.WithLabelValues(sink, statusLabel(success)).Inc()
}
