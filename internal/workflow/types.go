// Package workflow implements the durable saga that turns one user request
// into one aggregated answer: agent selection, plan construction, sequential
// plan execution and final summarization, with per-step retry/failover and
// crash resumption backed by a durable state store.
package workflow

import (
	"errors"
	"time"
)

var (
	// ErrAlreadyStarted is returned when starting a session that already exists.
	ErrAlreadyStarted = errors.New("orchestration already started")

	// ErrNotStarted is returned when operating on a session that was never started.
	ErrNotStarted = errors.New("orchestration not started")
)

// NoAgentsAnswer is the terminal answer when no agent matches the query.
const NoAgentsAnswer = "Couldn't find any agent(s) able to respond to the original query."

// InterruptedAnswer is the terminal answer when a run is abandoned after
// exhausted retries. Failures always surface as a readable answer, never as
// an opaque error code.
const InterruptedAnswer = "The request could not be completed because the agents kept failing. Please try again later."

// Status is the lifecycle state of one orchestration.
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// PlanStep is one ordered unit of work: an agent id plus the query tailored
// to that agent's domain.
type PlanStep struct {
	AgentID string `json:"agentId"`
	Query   string `json:"query"`
}

// Plan is the ordered sequence of steps for one session. It is consumed in
// strict FIFO order and never re-ordered after creation.
type Plan struct {
	Steps []PlanStep `json:"steps"`
}

// IsEmpty reports whether the plan has no remaining steps.
func (p Plan) IsEmpty() bool { return len(p.Steps) == 0 }

// Head returns the next step to execute.
func (p Plan) Head() PlanStep { return p.Steps[0] }

// State is the durable record of one session.
type State struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	// Selection carries the chosen agent ids between the select-agents and
	// create-plan steps so a crash between them resumes with the same input.
	Selection      []string          `json:"selection,omitempty"`
	Plan           Plan              `json:"plan"`
	AgentResponses map[string]string `json:"agent_responses"`
	FinalAnswer    string            `json:"final_answer"`
	Status         Status            `json:"status"`
}

// NewState initializes the state for a fresh run.
func NewState(userID, query string) State {
	return State{
		UserID:         userID,
		Query:          query,
		AgentResponses: make(map[string]string),
		Status:         StatusStarted,
	}
}

// AddAgentResponse records a response for the agent at the head of the plan
// queue and removes that step from the queue.
func (s *State) AddAgentResponse(response string) {
	head := s.Plan.Steps[0]
	s.Plan.Steps = s.Plan.Steps[1:]
	if s.AgentResponses == nil {
		s.AgentResponses = make(map[string]string)
	}
	s.AgentResponses[head.AgentID] = response
}

// Record is one committed (session, step, state) tuple in the state store.
// The driver reloads the latest committed record before every step, so a
// crash mid-run resumes exactly at the last committed step.
type Record struct {
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	NextStep  string    `json:"next_step"` // empty once the run has ended
	Attempts  int       `json:"attempts"`  // failures consumed on NextStep
	Epoch     int64     `json:"epoch"`     // bumped by RunAgain; stale step results are discarded
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the run has ended.
func (r *Record) Terminal() bool { return r.NextStep == "" }
