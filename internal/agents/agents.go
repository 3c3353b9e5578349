// Package agents holds the open set of worker agents the orchestrator can
// dispatch to. Each agent turns a text request into a text response; the
// registry maps stable agent ids to implementations and human-readable
// capability descriptions used for selection and planning.
package agents

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/voyplan/orchestrator/internal/llm"
)

// Request is the payload sent to an agent.
type Request struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// Agent is a single remote capability: text request in, text response out.
type Agent interface {
	Respond(ctx context.Context, req Request) (string, error)
}

// PreferenceReader supplies the stored preferences for a user. Agents that
// personalize their answers consume it; the event-sourced store implements it.
type PreferenceReader interface {
	List(ctx context.Context, userID string) ([]string, error)
}

// LLMAgent answers requests with a single LLM completion under a fixed
// system prompt. When a PreferenceReader is attached, the user's stored
// preferences are appended to the prompt.
type LLMAgent struct {
	id           string
	systemPrompt string
	client       llm.CompletionClient
	prefs        PreferenceReader
	logger       *zap.Logger
}

// NewLLMAgent creates an agent backed by the completion client.
func NewLLMAgent(id, systemPrompt string, client llm.CompletionClient, logger *zap.Logger) *LLMAgent {
	return &LLMAgent{id: id, systemPrompt: systemPrompt, client: client, logger: logger}
}

// WithPreferences attaches a preference source; the agent then folds the
// user's current preferences into every request.
func (a *LLMAgent) WithPreferences(prefs PreferenceReader) *LLMAgent {
	a.prefs = prefs
	return a
}

// Respond implements Agent.
func (a *LLMAgent) Respond(ctx context.Context, req Request) (string, error) {
	message := req.Message
	if a.prefs != nil {
		entries, err := a.prefs.List(ctx, req.UserID)
		if err != nil {
			// Preferences are an enrichment, not a dependency; answer without them.
			a.logger.Warn("Failed to load user preferences",
				zap.String("agent_id", a.id),
				zap.String("user_id", req.UserID),
				zap.Error(err),
			)
		} else if len(entries) > 0 {
			var b strings.Builder
			b.WriteString(message)
			b.WriteString("\nPreferences:\n")
			for _, e := range entries {
				b.WriteString("- ")
				b.WriteString(e)
				b.WriteString("\n")
			}
			message = b.String()
		}
	}

	return a.client.Complete(ctx, llm.Request{
		AgentID:       a.id,
		SystemMessage: a.systemPrompt,
		UserMessage:   message,
	})
}
