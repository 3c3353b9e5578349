package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Orchestration metrics
	OrchestrationsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voyplan_orchestrations_started_total",
			Help: "Total number of orchestrations started",
		},
	)

	OrchestrationsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voyplan_orchestrations_completed_total",
			Help: "Total number of orchestrations finished, by terminal status",
		},
		[]string{"status"},
	)

	OrchestrationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voyplan_orchestration_duration_seconds",
			Help:    "Orchestration wall time from start to terminal state",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Saga step metrics
	StepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voyplan_saga_steps_executed_total",
			Help: "Total saga step executions, by step and outcome",
		},
		[]string{"step", "outcome"},
	)

	StepRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voyplan_saga_step_retries_total",
			Help: "Total saga step retries, by step",
		},
		[]string{"step"},
	)

	StepFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voyplan_saga_step_failovers_total",
			Help: "Total saga step failovers, by step and failover target",
		},
		[]string{"step", "target"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voyplan_saga_step_duration_seconds",
			Help:    "Saga step execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	// Agent metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voyplan_agent_executions_total",
			Help: "Total number of agent invocations",
		},
		[]string{"agent_id", "outcome"},
	)

	// Reevaluation metrics
	PreferenceEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voyplan_preference_events_total",
			Help: "Total preference-added events consumed",
		},
	)

	Reevaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voyplan_reevaluations_total",
			Help: "Total session reevaluations, by verdict",
		},
		[]string{"verdict"},
	)

	// Projection metrics
	ProjectionUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voyplan_projection_updates_total",
			Help: "Total plan view projection writes, by operation",
		},
		[]string{"op"},
	)

	// Session state store metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voyplan_active_sessions",
			Help: "Number of sessions with a non-terminal committed step",
		},
	)
)
