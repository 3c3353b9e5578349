package reevaluator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voyplan/orchestrator/internal/preferences"
	"github.com/voyplan/orchestrator/internal/projection"
	"github.com/voyplan/orchestrator/internal/workflow"
)

type fakeLister struct {
	entries []projection.Entry
	err     error
}

func (f *fakeLister) ListByUser(ctx context.Context, userID string) ([]projection.Entry, error) {
	return f.entries, f.err
}

type fakeEvaluator struct {
	fn func(sessionID string) (workflow.EvaluationResult, error)
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, userID, question, answer string) (workflow.EvaluationResult, error) {
	// The answer doubles as a session marker in these tests.
	return f.fn(answer)
}

type fakeRestarter struct {
	mu       sync.Mutex
	sessions []string
	err      error
}

func (f *fakeRestarter) RunAgain(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sessionID)
	return f.err
}

func (f *fakeRestarter) restarted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sessions...)
}

func entry(sessionID, answer string) projection.Entry {
	return projection.Entry{
		SessionID:    sessionID,
		UserID:       "u1",
		UserQuestion: "plan a trip",
		FinalAnswer:  answer,
	}
}

func TestNegativeScoreRestartsExactlyOnce(t *testing.T) {
	restarter := &fakeRestarter{}
	r := New(
		&fakeLister{entries: []projection.Entry{entry("s1", "go to Porto")}},
		&fakeEvaluator{fn: func(string) (workflow.EvaluationResult, error) {
			return workflow.EvaluationResult{Score: -1, Feedback: "stale"}, nil
		}},
		restarter,
		zap.NewNop(),
	)

	r.HandlePreferenceAdded(context.Background(), preferences.Event{UserID: "u1", Preference: "vegan food"})
	r.Wait()

	assert.Equal(t, []string{"s1"}, restarter.restarted())
}

func TestPositiveScoreKeepsAnswer(t *testing.T) {
	restarter := &fakeRestarter{}
	r := New(
		&fakeLister{entries: []projection.Entry{entry("s1", "go to Porto")}},
		&fakeEvaluator{fn: func(string) (workflow.EvaluationResult, error) {
			return workflow.EvaluationResult{Score: 1, Feedback: "still good"}, nil
		}},
		restarter,
		zap.NewNop(),
	)

	r.HandlePreferenceAdded(context.Background(), preferences.Event{UserID: "u1", Preference: "vegan food"})
	r.Wait()

	assert.Empty(t, restarter.restarted())
}

func TestUnansweredSessionsAreSkipped(t *testing.T) {
	evaluated := false
	r := New(
		&fakeLister{entries: []projection.Entry{entry("s1", "")}},
		&fakeEvaluator{fn: func(string) (workflow.EvaluationResult, error) {
			evaluated = true
			return workflow.EvaluationResult{Score: 1}, nil
		}},
		&fakeRestarter{},
		zap.NewNop(),
	)

	r.HandlePreferenceAdded(context.Background(), preferences.Event{UserID: "u1"})
	r.Wait()

	assert.False(t, evaluated, "a session without a final answer must not be evaluated")
}

func TestOneFailingEvaluationDoesNotBlockOthers(t *testing.T) {
	restarter := &fakeRestarter{}
	r := New(
		&fakeLister{entries: []projection.Entry{
			entry("s1", "broken"),
			entry("s2", "stale"),
			entry("s3", "fresh"),
		}},
		&fakeEvaluator{fn: func(answer string) (workflow.EvaluationResult, error) {
			switch answer {
			case "broken":
				return workflow.EvaluationResult{}, fmt.Errorf("evaluation backend down")
			case "stale":
				return workflow.EvaluationResult{Score: 0}, nil
			default:
				return workflow.EvaluationResult{Score: 2}, nil
			}
		}},
		restarter,
		zap.NewNop(),
	)

	r.HandlePreferenceAdded(context.Background(), preferences.Event{UserID: "u1"})
	r.Wait()

	// Only the zero-scored session restarts; the failed evaluation is logged
	// and dropped.
	assert.Equal(t, []string{"s2"}, restarter.restarted())
}

func TestListerFailureIsSwallowed(t *testing.T) {
	restarter := &fakeRestarter{}
	r := New(
		&fakeLister{err: fmt.Errorf("projection unavailable")},
		&fakeEvaluator{fn: func(string) (workflow.EvaluationResult, error) {
			t.Error("no evaluation expected when listing fails")
			return workflow.EvaluationResult{}, nil
		}},
		restarter,
		zap.NewNop(),
	)

	require.NotPanics(t, func() {
		r.HandlePreferenceAdded(context.Background(), preferences.Event{UserID: "u1"})
	})
	r.Wait()
	assert.Empty(t, restarter.restarted())
}
