package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/voyplan/orchestrator/internal/agents"
	"github.com/voyplan/orchestrator/internal/llm"
)

const evaluatorSystemMessage = `Your job is to judge whether a previously produced answer still
satisfies the user, taking the user's current preferences into account.

You will receive the user's preferences, the original question and the
final answer that was given.

Score the answer: a positive score means the answer is still satisfactory,
a score of zero or below means the answer should be produced again.

Your response must follow this strict JSON schema:
  {
    "score": <integer>,
    "feedback": "<short explanation>"
  }

Do not include any explanations or text outside of the JSON structure.`

var evaluationSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "score": {"type": "integer"},
    "feedback": {"type": "string"}
  },
  "required": ["score", "feedback"]
}`)

// EvaluationResult is the verdict on a previously produced answer.
// A score of zero or below means "redo".
type EvaluationResult struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// Evaluator re-scores completed answers against the user's current preferences.
type Evaluator struct {
	client llm.CompletionClient
	prefs  agents.PreferenceReader
	logger *zap.Logger
}

// NewEvaluator creates an evaluator backed by the completion client.
func NewEvaluator(client llm.CompletionClient, logger *zap.Logger) *Evaluator {
	return &Evaluator{client: client, logger: logger}
}

// WithPreferences attaches a preference source; every evaluation then folds
// the user's current preferences into the request.
func (e *Evaluator) WithPreferences(prefs agents.PreferenceReader) *Evaluator {
	e.prefs = prefs
	return e
}

// Evaluate scores the final answer previously produced for the question.
func (e *Evaluator) Evaluate(ctx context.Context, userID, question, answer string) (EvaluationResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "User id: %s\nOriginal question: %s\nFinal answer: %s", userID, question, answer)
	if e.prefs != nil {
		entries, err := e.prefs.List(ctx, userID)
		if err != nil {
			// Preferences are an enrichment, not a dependency; score without them.
			e.logger.Warn("Failed to load user preferences for evaluation",
				zap.String("user_id", userID), zap.Error(err))
		} else if len(entries) > 0 {
			b.WriteString("\nPreferences:\n")
			for _, p := range entries {
				b.WriteString("- ")
				b.WriteString(p)
				b.WriteString("\n")
			}
		}
	}

	resp, err := e.client.Complete(ctx, llm.Request{
		AgentID:        "evaluator",
		SystemMessage:  evaluatorSystemMessage,
		UserMessage:    b.String(),
		ResponseSchema: evaluationSchema,
	})
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("evaluation: %w", err)
	}

	var result EvaluationResult
	if err := json.Unmarshal([]byte(resp), &result); err != nil {
		return EvaluationResult{}, fmt.Errorf("parse evaluation %q: %w", resp, err)
	}

	e.logger.Info("Evaluation completed",
		zap.String("user_id", userID),
		zap.Int("score", result.Score),
		zap.String("feedback", result.Feedback))
	return result, nil
}
