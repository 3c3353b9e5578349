package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/voyplan/orchestrator/internal/agents"
	"github.com/voyplan/orchestrator/internal/metrics"
)

// domainErrorPrefix marks a response the agent itself flags as a failure,
// as opposed to a transport failure. Both fail the step the same way.
const domainErrorPrefix = "ERROR"

// Executor invokes a single named agent with a tailored query.
type Executor struct {
	registry *agents.Registry
	logger   *zap.Logger
}

// NewExecutor creates a plan step executor over the registry.
func NewExecutor(registry *agents.Registry, logger *zap.Logger) *Executor {
	return &Executor{registry: registry, logger: logger}
}

// Execute runs one plan step and returns the raw agent response.
func (e *Executor) Execute(ctx context.Context, agentID, query, userID string) (string, error) {
	agent, err := e.registry.Get(agentID)
	if err != nil {
		metrics.AgentExecutions.WithLabelValues(agentID, "unknown").Inc()
		return "", err
	}

	e.logger.Info("Executing plan step",
		zap.String("agent_id", agentID),
		zap.String("query", query))

	response, err := agent.Respond(ctx, agents.Request{UserID: userID, Message: query})
	if err != nil {
		metrics.AgentExecutions.WithLabelValues(agentID, "failure").Inc()
		return "", fmt.Errorf("agent %q invocation failed: %w", agentID, err)
	}
	if strings.HasPrefix(response, domainErrorPrefix) {
		metrics.AgentExecutions.WithLabelValues(agentID, "domain_error").Inc()
		return "", fmt.Errorf("agent %q responded with error: %s", agentID, response)
	}

	metrics.AgentExecutions.WithLabelValues(agentID, "success").Inc()
	e.logger.Info("Agent responded",
		zap.String("agent_id", agentID),
		zap.Int("response_len", len(response)))
	return response, nil
}
