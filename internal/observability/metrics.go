package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	admissionsTotal *prometheus.CounterVec
	activeLeases    *prometheus.GaugeVec
	leaseCapacity   *prometheus.GaugeVec

	routeDecisionsTotal *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	reactSessionsTotal *prometheus.CounterVec
	reactIterations    prometheus.Histogram

	workflowStepsTotal *prometheus.CounterVec
	workflowDuration   *prometheus.HistogramVec

	generatorCallsTotal   *prometheus.CounterVec
	generatorCallDuration *prometheus.HistogramVec
	providerCooldown      *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			admissionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sigap_admissions_total",
					Help: "Admission attempts by budget kind and outcome.",
				},
				[]string{"kind", "outcome"},
			),
			activeLeases: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "sigap_active_leases",
					Help: "Currently held resource leases by budget kind.",
				},
				[]string{"kind"},
			),
			leaseCapacity: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "sigap_lease_capacity",
					Help: "Configured budget by kind.",
				},
				[]string{"kind"},
			),
			routeDecisionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sigap_route_decisions_total",
					Help: "Routing decisions by mode and classifier.",
				},
				[]string{"mode", "classifier"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sigap_tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "sigap_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sigap_tool_errors_total",
					Help: "Total tool execution errors by tool and error kind.",
				},
				[]string{"tool", "kind"},
			),
			reactSessionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sigap_react_sessions_total",
					Help: "Finished ReAct sessions by terminal state.",
				},
				[]string{"state"},
			),
			reactIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "sigap_react_iterations",
					Help:    "Iterations used per ReAct session.",
					Buckets: []float64{0, 1, 2, 3, 4, 5},
				},
			),
			workflowStepsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sigap_workflow_steps_total",
					Help: "Workflow agent steps by workflow type and final status.",
				},
				[]string{"type", "status"},
			),
			workflowDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "sigap_workflow_duration_seconds",
					Help:    "Workflow wall clock duration by type.",
					Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
				},
				[]string{"type", "partial"},
			),
			generatorCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sigap_generator_calls_total",
					Help: "Generator calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			generatorCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "sigap_generator_call_duration_seconds",
					Help:    "Generator call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "sigap_provider_cooldown_active",
					Help: "Provider cooldown active state (1 active, 0 inactive).",
				},
				[]string{"provider"},
			),
		}

		prometheus.MustRegister(
			m.admissionsTotal,
			m.activeLeases,
			m.leaseCapacity,
			m.routeDecisionsTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.reactSessionsTotal,
			m.reactIterations,
			m.workflowStepsTotal,
			m.workflowDuration,
			m.generatorCallsTotal,
			m.generatorCallDuration,
			m.providerCooldown,
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

func RecordAdmission(kind string, admitted bool, active int) {
	m := getMetrics()
	outcome := "rejected"
	if admitted {
		outcome = "admitted"
	}
	m.admissionsTotal.WithLabelValues(kind, outcome).Inc()
	m.activeLeases.WithLabelValues(kind).Set(float64(active))
}

func SetActiveLeases(kind string, active int) {
	getMetrics().activeLeases.WithLabelValues(kind).Set(float64(active))
}

func SetLeaseCapacity(kind string, capacity int) {
	getMetrics().leaseCapacity.WithLabelValues(kind).Set(float64(capacity))
}

func RecordRouteDecision(mode, classifier string) {
	getMetrics().routeDecisionsTotal.WithLabelValues(mode, classifier).Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool, errorKind string) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool, errorKind).Inc()
	}
}

func RecordReActSession(state string, iterations int) {
	m := getMetrics()
	m.reactSessionsTotal.WithLabelValues(state).Inc()
	m.reactIterations.Observe(float64(iterations))
}

func RecordWorkflowStep(workflowType, status string) {
	getMetrics().workflowStepsTotal.WithLabelValues(workflowType, status).Inc()
}

func RecordWorkflow(workflowType string, duration time.Duration, partial bool) {
	p := "false"
	if partial {
		p = "true"
	}
	getMetrics().workflowDuration.WithLabelValues(workflowType, p).Observe(duration.Seconds())
}

func RecordGeneratorCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.generatorCallsTotal.WithLabelValues(provider, status).Inc()
	m.generatorCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func SetProviderCooldown(provider string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().providerCooldown.WithLabelValues(provider).Set(value)
}
