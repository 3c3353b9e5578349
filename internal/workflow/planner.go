package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/voyplan/orchestrator/internal/agents"
	"github.com/voyplan/orchestrator/internal/llm"
)

const plannerSystemMessage = `Your job is to analyse the user request and the list of agents and devise the
best order in which the agents should be called in order to produce a
suitable answer to the user.

You can find the list of existing agents below (in JSON format):
%s

Note that each agent has a description of its capabilities.
Given the user request, you must define the right ordering.

Moreover, you must generate a concise request to be sent to each agent.
This agent request is of course based on the user original request,
but is tailored to the specific agent. Each individual agent should not
receive requests or any text that is not related with its domain of expertise.

Your response should follow a strict JSON schema as defined below.
  {
    "steps": [
      {
        "agentId": "<the id of the agent>",
        "query": "<agent tailored query>"
      }
    ]
  }

The order of the items inside the "steps" array should be the order of execution.
Do not include any explanations or text outside of the JSON structure.`

var planSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "agentId": {"type": "string"},
          "query": {"type": "string"}
        },
        "required": ["agentId", "query"]
      }
    }
  },
  "required": ["steps"]
}`)

// Planner builds the ordered execution plan for a selection of agents.
type Planner struct {
	client   llm.CompletionClient
	registry *agents.Registry
	logger   *zap.Logger
}

// NewPlanner creates a plan builder over the registry.
func NewPlanner(client llm.CompletionClient, registry *agents.Registry, logger *zap.Logger) *Planner {
	return &Planner{client: client, registry: registry, logger: logger}
}

// BuildPlan returns the ordered plan for the query. A single-agent selection
// short-circuits to a one-step plan carrying the original query verbatim; no
// planning call is made.
func (p *Planner) BuildPlan(ctx context.Context, query string, selection []string) (Plan, error) {
	if len(selection) == 0 {
		return Plan{}, fmt.Errorf("cannot build a plan from an empty selection")
	}
	if len(selection) == 1 {
		return Plan{Steps: []PlanStep{{AgentID: selection[0], Query: query}}}, nil
	}

	catalog, err := json.Marshal(p.registry.Describe(selection))
	if err != nil {
		return Plan{}, fmt.Errorf("encode agent catalog: %w", err)
	}

	p.logger.Info("Calling planner",
		zap.String("query", query),
		zap.Strings("agents", selection))

	resp, err := p.client.Complete(ctx, llm.Request{
		AgentID:        "planner",
		SystemMessage:  fmt.Sprintf(plannerSystemMessage, catalog),
		UserMessage:    query,
		ResponseSchema: planSchema,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("plan creation: %w", err)
	}

	var plan Plan
	if err := json.Unmarshal([]byte(resp), &plan); err != nil {
		return Plan{}, fmt.Errorf("parse plan %q: %w", resp, err)
	}
	if plan.IsEmpty() {
		return Plan{}, fmt.Errorf("planner returned an empty plan")
	}

	// A plan may only reference agents from the selection. A step naming
	// anything else fails the plan outright rather than being skipped.
	allowed := make(map[string]struct{}, len(selection))
	for _, id := range selection {
		allowed[id] = struct{}{}
	}
	for _, step := range plan.Steps {
		if _, ok := allowed[step.AgentID]; !ok {
			return Plan{}, fmt.Errorf("plan references agent %q outside the selection", step.AgentID)
		}
	}

	p.logger.Info("Execution plan created", zap.Int("steps", len(plan.Steps)))
	return plan, nil
}
