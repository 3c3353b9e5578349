package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/voyplan/orchestrator/internal/metrics"
)

// Step names of the orchestration saga.
const (
	StepSelectAgents = "select-agents"
	StepCreatePlan   = "create-plan"
	StepExecutePlan  = "execute-plan"
	StepSummarize    = "summarize"
	StepInterrupt    = "interrupt"
)

// Orchestrator is the durable state machine for one-request-one-answer
// orchestrations: select-agents -> create-plan -> execute-plan (loop) ->
// summarize, with interrupt as the absorbing failure step.
type Orchestrator struct {
	runtime    *Runtime
	store      StateStore
	selector   *Selector
	planner    *Planner
	executor   *Executor
	summarizer *Summarizer
	logger     *zap.Logger
}

// NewOrchestrator wires the saga steps into the runtime. Every step gets the
// default retry-then-failover policy; select-agents fails over to summarize
// so the run still produces some answer when selection cannot complete.
func NewOrchestrator(
	runtime *Runtime,
	store StateStore,
	selector *Selector,
	planner *Planner,
	executor *Executor,
	summarizer *Summarizer,
	logger *zap.Logger,
) *Orchestrator {
	o := &Orchestrator{
		runtime:    runtime,
		store:      store,
		selector:   selector,
		planner:    planner,
		executor:   executor,
		summarizer: summarizer,
		logger:     logger,
	}

	runtime.RegisterStep(StepSelectAgents, o.selectAgentsStep, WithFailover(StepSummarize))
	runtime.RegisterStep(StepCreatePlan, o.createPlanStep, WithFailover(StepInterrupt))
	runtime.RegisterStep(StepExecutePlan, o.executePlanStep, WithFailover(StepInterrupt))
	runtime.RegisterStep(StepSummarize, o.summarizeStep, WithFailover(StepInterrupt))
	runtime.RegisterStep(StepInterrupt, o.interruptStep, WithMaxRetries(0), WithFailover(""))

	return o
}

// Start begins a new orchestration for the session. The initial state is
// durably committed before Start returns; the saga then runs asynchronously.
func (o *Orchestrator) Start(ctx context.Context, sessionID, userID, message string) error {
	if err := o.runtime.Begin(ctx, sessionID, StepSelectAgents, NewState(userID, message)); err != nil {
		return err
	}
	metrics.OrchestrationsStarted.Inc()
	o.logger.Info("Orchestration started",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID))
	return nil
}

// RunAgain re-initializes an existing session (same user and original query,
// cleared plan/responses/answer) and drives it from select-agents again.
func (o *Orchestrator) RunAgain(ctx context.Context, sessionID string) error {
	err := o.runtime.Restart(ctx, sessionID, StepSelectAgents, func(prev State) State {
		return NewState(prev.UserID, prev.Query)
	})
	if err != nil {
		return err
	}
	o.logger.Info("Orchestration restarted", zap.String("session_id", sessionID))
	return nil
}

// GetAnswer returns the current final answer for the session; empty until
// the summarize step has committed.
func (o *Orchestrator) GetAnswer(ctx context.Context, sessionID string) (string, error) {
	rec, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return rec.State.FinalAnswer, nil
}

// GetStatus returns the session's lifecycle status.
func (o *Orchestrator) GetStatus(ctx context.Context, sessionID string) (Status, error) {
	rec, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return rec.State.Status, nil
}

// Resume restarts every session with a non-terminal committed step.
func (o *Orchestrator) Resume(ctx context.Context) error {
	return o.runtime.Resume(ctx)
}

func (o *Orchestrator) selectAgentsStep(ctx context.Context, st *State) (string, error) {
	selection, err := o.selector.SelectAgents(ctx, st.Query)
	if err != nil {
		return "", err
	}
	if len(selection) == 0 {
		// No agent fits: a legitimate terminal outcome, not a retryable failure.
		st.FinalAnswer = NoAgentsAnswer
		st.Status = StatusFailed
		return "", nil
	}
	st.Selection = selection
	return StepCreatePlan, nil
}

func (o *Orchestrator) createPlanStep(ctx context.Context, st *State) (string, error) {
	plan, err := o.planner.BuildPlan(ctx, st.Query, st.Selection)
	if err != nil {
		return "", err
	}
	st.Plan = plan
	st.Status = StatusStarted
	return StepExecutePlan, nil
}

func (o *Orchestrator) executePlanStep(ctx context.Context, st *State) (string, error) {
	step := st.Plan.Head()
	response, err := o.executor.Execute(ctx, step.AgentID, step.Query, st.UserID)
	if err != nil {
		return "", err
	}
	st.AddAgentResponse(response)

	if !st.Plan.IsEmpty() {
		o.logger.Info("Plan steps remaining", zap.Int("steps", len(st.Plan.Steps)))
		return StepExecutePlan, nil
	}
	return StepSummarize, nil
}

func (o *Orchestrator) summarizeStep(ctx context.Context, st *State) (string, error) {
	responses := make([]string, 0, len(st.AgentResponses))
	for _, r := range st.AgentResponses {
		responses = append(responses, r)
	}

	answer, err := o.summarizer.Summarize(ctx, st.Query, responses)
	if err != nil {
		return "", err
	}
	st.FinalAnswer = answer
	st.Status = StatusCompleted
	return "", nil
}

func (o *Orchestrator) interruptStep(ctx context.Context, st *State) (string, error) {
	o.logger.Info("Interrupting orchestration")
	st.Status = StatusFailed
	if st.FinalAnswer == "" {
		st.FinalAnswer = InterruptedAnswer
	}
	return "", nil
}
