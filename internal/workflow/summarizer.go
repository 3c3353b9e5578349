package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/voyplan/orchestrator/internal/llm"
)

const summarizerSystemMessage = `You will receive the original query and a message generated by
different other agents. Your job is to compile a single answer that
addresses the original query using the responses from the other agents.`

// Summarizer folds all accumulated agent responses into one final answer.
type Summarizer struct {
	client llm.CompletionClient
	logger *zap.Logger
}

// NewSummarizer creates a summarizer backed by the completion client.
func NewSummarizer(client llm.CompletionClient, logger *zap.Logger) *Summarizer {
	return &Summarizer{client: client, logger: logger}
}

// Summarize produces one answer from the original query and the unordered
// collection of agent responses.
func (s *Summarizer) Summarize(ctx context.Context, query string, responses []string) (string, error) {
	var b strings.Builder
	b.WriteString("The original query is: ")
	b.WriteString(query)
	b.WriteString("\n\nThe agent responses are:\n")
	for _, r := range responses {
		b.WriteString("- ")
		b.WriteString(r)
		b.WriteString("\n")
	}

	answer, err := s.client.Complete(ctx, llm.Request{
		AgentID:       "summarizer",
		SystemMessage: summarizerSystemMessage,
		UserMessage:   b.String(),
	})
	if err != nil {
		return "", fmt.Errorf("summarization: %w", err)
	}
	return answer, nil
}
