// Package httpapi exposes the service's HTTP surface: starting an
// orchestration, polling its answer, appending preferences and listing a
// user's plans from the read-side projection.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voyplan/orchestrator/internal/projection"
	"github.com/voyplan/orchestrator/internal/workflow"
)

// Orchestrator is the command/query surface the handlers need.
type Orchestrator interface {
	Start(ctx context.Context, sessionID, userID, message string) error
	GetAnswer(ctx context.Context, sessionID string) (string, error)
}

// PreferenceAppender appends to a user's preference log.
type PreferenceAppender interface {
	Append(ctx context.Context, userID, preference string) error
}

// PlanLister reads the plan view projection.
type PlanLister interface {
	ListByUser(ctx context.Context, userID string) ([]projection.Entry, error)
}

// Handler serves the public API.
type Handler struct {
	orch    Orchestrator
	prefs   PreferenceAppender
	plans   PlanLister
	limiter *RateLimiter
	logger  *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(orch Orchestrator, prefs PreferenceAppender, plans PlanLister, logger *zap.Logger) *Handler {
	return &Handler{orch: orch, prefs: prefs, plans: plans, logger: logger}
}

// WithRateLimiter applies a per-user rate limit to every registered route.
func (h *Handler) WithRateLimiter(rl *RateLimiter) *Handler {
	h.limiter = rl
	return h
}

// RegisterRoutes attaches the API routes to the mux. The rate limiter wraps
// each route inside the mux match so it sees the userId path value.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /plans/{userId}", h.wrap(h.startPlan))
	mux.Handle("GET /plans/{userId}/{sessionId}", h.wrap(h.getAnswer))
	mux.Handle("GET /plans/{userId}", h.wrap(h.listPlans))
	mux.Handle("POST /preferences/{userId}", h.wrap(h.addPreference))
}

func (h *Handler) wrap(fn http.HandlerFunc) http.Handler {
	if h.limiter == nil {
		return fn
	}
	return h.limiter.Middleware(fn)
}

type startPlanRequest struct {
	Message string `json:"message"`
}

type startPlanResponse struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// startPlan allocates a new session and starts its orchestration. Each call
// creates a new session; idempotency is not offered.
func (h *Handler) startPlan(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	var req startPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := uuid.New().String()
	if err := h.orch.Start(r.Context(), sessionID, userID, req.Message); err != nil {
		if errors.Is(err, workflow.ErrAlreadyStarted) {
			writeError(w, http.StatusConflict, "session already started")
			return
		}
		h.logger.Error("Failed to start orchestration",
			zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start orchestration")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", fmt.Sprintf("/plans/%s/%s", userID, sessionID))
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(startPlanResponse{UserID: userID, SessionID: sessionID})
}

// getAnswer polls the session's final answer. An existing but unfinished
// session answers 404 "not available (yet)" so callers can distinguish
// not-ready from done.
func (h *Handler) getAnswer(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")

	answer, err := h.orch.GetAnswer(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotStarted) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("Failed to read answer",
			zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read answer")
		return
	}
	if answer == "" {
		writeError(w, http.StatusNotFound,
			fmt.Sprintf("Answer for '%s' not available (yet)", sessionID))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(answer))
}

type addPreferenceRequest struct {
	Preference string `json:"preference"`
}

func (h *Handler) addPreference(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	var req addPreferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Preference == "" {
		writeError(w, http.StatusBadRequest, "preference is required")
		return
	}

	if err := h.prefs.Append(r.Context(), userID, req.Preference); err != nil {
		h.logger.Error("Failed to append preference",
			zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to append preference")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type suggestion struct {
	UserQuestion string `json:"userQuestion"`
	Answer       string `json:"answer"`
}

type plansList struct {
	Suggestions []suggestion `json:"suggestions"`
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	entries, err := h.plans.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list plans",
			zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list plans")
		return
	}

	out := plansList{Suggestions: make([]suggestion, 0, len(entries))}
	for _, e := range entries {
		out.Suggestions = append(out.Suggestions, suggestion{
			UserQuestion: e.UserQuestion,
			Answer:       e.FinalAnswer,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
