package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/voyplan/orchestrator/internal/agents"
	"github.com/voyplan/orchestrator/internal/llm"
)

const selectorSystemMessage = `Your job is to analyse the user request and select the agents
best suited to answer it.

You can find the list of existing agents below (in JSON format):
%s

Note that each agent has a description of its capabilities.
Select every agent whose capabilities are relevant to the user request.
If no agent is relevant, return an empty list.

Your response must follow this strict JSON schema:
  {
    "agents": ["<agent id>", ...]
  }

Do not include any explanations or text outside of the JSON structure.`

var selectionSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "agents": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["agents"]
}`)

// Selector chooses the set of agents capable of answering a query.
// An empty selection is a legitimate outcome, never an error.
type Selector struct {
	client   llm.CompletionClient
	registry *agents.Registry
	logger   *zap.Logger
}

// NewSelector creates an agent selector over the registry.
func NewSelector(client llm.CompletionClient, registry *agents.Registry, logger *zap.Logger) *Selector {
	return &Selector{client: client, registry: registry, logger: logger}
}

// SelectAgents returns the ids of the agents relevant to the query. Ids the
// model invents are filtered out against the registry.
func (s *Selector) SelectAgents(ctx context.Context, query string) ([]string, error) {
	infos := s.registry.Infos()
	if len(infos) == 0 {
		return nil, nil
	}

	catalog, err := json.Marshal(infos)
	if err != nil {
		return nil, fmt.Errorf("encode agent catalog: %w", err)
	}

	resp, err := s.client.Complete(ctx, llm.Request{
		AgentID:        "selector",
		SystemMessage:  fmt.Sprintf(selectorSystemMessage, catalog),
		UserMessage:    query,
		ResponseSchema: selectionSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("agent selection: %w", err)
	}

	var out struct {
		Agents []string `json:"agents"`
	}
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		return nil, fmt.Errorf("parse agent selection %q: %w", resp, err)
	}

	seen := make(map[string]struct{}, len(out.Agents))
	selection := make([]string, 0, len(out.Agents))
	for _, id := range out.Agents {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if !s.registry.Has(id) {
			s.logger.Warn("Selection named an unregistered agent; dropping it",
				zap.String("agent_id", id))
			continue
		}
		selection = append(selection, id)
	}

	s.logger.Info("Selected agents", zap.Strings("agents", selection))
	return selection, nil
}
