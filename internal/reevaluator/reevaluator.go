// Package reevaluator reacts to preference-added events: every completed
// answer belonging to the user is re-scored, and unsatisfactory ones trigger
// a fresh orchestration run.
package reevaluator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/voyplan/orchestrator/internal/metrics"
	"github.com/voyplan/orchestrator/internal/preferences"
	"github.com/voyplan/orchestrator/internal/projection"
	"github.com/voyplan/orchestrator/internal/workflow"
)

// PlanLister supplies the sessions known for a user. The plan view
// projection implements it.
type PlanLister interface {
	ListByUser(ctx context.Context, userID string) ([]projection.Entry, error)
}

// Evaluator scores a previously produced answer.
type Evaluator interface {
	Evaluate(ctx context.Context, userID, question, answer string) (workflow.EvaluationResult, error)
}

// Restarter re-runs an existing session.
type Restarter interface {
	RunAgain(ctx context.Context, sessionID string) error
}

// Reevaluator processes one preference-added event at a time, evaluating
// each of the user's answered sessions in its own goroutine so one session's
// failure never blocks its siblings.
type Reevaluator struct {
	plans     PlanLister
	evaluator Evaluator
	restarter Restarter
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// New creates a reevaluator.
func New(plans PlanLister, evaluator Evaluator, restarter Restarter, logger *zap.Logger) *Reevaluator {
	return &Reevaluator{
		plans:     plans,
		evaluator: evaluator,
		restarter: restarter,
		logger:    logger,
	}
}

// HandlePreferenceAdded is the preference feed handler. It returns without
// waiting for evaluations or restarted runs to finish.
func (r *Reevaluator) HandlePreferenceAdded(ctx context.Context, evt preferences.Event) {
	entries, err := r.plans.ListByUser(ctx, evt.UserID)
	if err != nil {
		r.logger.Error("Failed to list sessions for reevaluation",
			zap.String("user_id", evt.UserID), zap.Error(err))
		return
	}

	for _, entry := range entries {
		if entry.FinalAnswer == "" {
			continue
		}
		r.wg.Add(1)
		go r.evaluateSession(ctx, entry)
	}
}

// Wait blocks until all in-flight evaluations have finished.
func (r *Reevaluator) Wait() { r.wg.Wait() }

func (r *Reevaluator) evaluateSession(ctx context.Context, entry projection.Entry) {
	defer r.wg.Done()

	result, err := r.evaluator.Evaluate(ctx, entry.UserID, entry.UserQuestion, entry.FinalAnswer)
	if err != nil {
		r.logger.Error("Session evaluation failed",
			zap.String("session_id", entry.SessionID),
			zap.String("user_id", entry.UserID),
			zap.Error(err))
		return
	}

	r.logger.Info("Evaluation completed",
		zap.String("session_id", entry.SessionID),
		zap.Int("score", result.Score),
		zap.String("feedback", result.Feedback))

	if result.Score > 0 {
		metrics.Reevaluations.WithLabelValues("keep").Inc()
		return
	}
	metrics.Reevaluations.WithLabelValues("redo").Inc()

	if err := r.restarter.RunAgain(ctx, entry.SessionID); err != nil {
		r.logger.Error("Failed to restart session after reevaluation",
			zap.String("session_id", entry.SessionID),
			zap.Error(err))
		return
	}
	r.logger.Info("Session restarted to re-answer question",
		zap.String("session_id", entry.SessionID),
		zap.String("user_id", entry.UserID),
		zap.String("question", entry.UserQuestion))
}
