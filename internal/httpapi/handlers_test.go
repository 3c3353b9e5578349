package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voyplan/orchestrator/internal/projection"
	"github.com/voyplan/orchestrator/internal/workflow"
)

type fakeOrchestrator struct {
	mu      sync.Mutex
	started map[string]string // sessionID -> message
	answers map[string]string
	err     error
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		started: make(map[string]string),
		answers: make(map[string]string),
	}
}

func (f *fakeOrchestrator) Start(ctx context.Context, sessionID, userID, message string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started[sessionID] = message
	return nil
}

func (f *fakeOrchestrator) GetAnswer(ctx context.Context, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.started[sessionID]; !ok {
		return "", workflow.ErrNotStarted
	}
	return f.answers[sessionID], nil
}

type fakePrefs struct {
	mu    sync.Mutex
	added []string
	err   error
}

func (f *fakePrefs) Append(ctx context.Context, userID, preference string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, userID+":"+preference)
	return nil
}

type fakePlans struct {
	entries []projection.Entry
	err     error
}

func (f *fakePlans) ListByUser(ctx context.Context, userID string) ([]projection.Entry, error) {
	return f.entries, f.err
}

func newTestServer(t *testing.T, orch *fakeOrchestrator, prefs *fakePrefs, plans *fakePlans, rl *RateLimiter) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	h := NewHandler(orch, prefs, plans, zap.NewNop())
	if rl != nil {
		h = h.WithRateLimiter(rl)
	}
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStartPlanCreatesSession(t *testing.T) {
	orch := newFakeOrchestrator()
	srv := newTestServer(t, orch, &fakePrefs{}, &fakePlans{}, nil)

	resp, err := http.Post(srv.URL+"/plans/u1", "application/json",
		strings.NewReader(`{"message":"plan a weekend trip"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		UserID    string `json:"user_id"`
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "u1", body.UserID)
	assert.NotEmpty(t, body.SessionID)
	assert.Equal(t, "/plans/u1/"+body.SessionID, resp.Header.Get("Location"))

	orch.mu.Lock()
	defer orch.mu.Unlock()
	assert.Equal(t, "plan a weekend trip", orch.started[body.SessionID])
}

func TestStartPlanRequiresMessage(t *testing.T) {
	srv := newTestServer(t, newFakeOrchestrator(), &fakePrefs{}, &fakePlans{}, nil)

	resp, err := http.Post(srv.URL+"/plans/u1", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetAnswerStates(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.started["ready"] = "q"
	orch.started["pending"] = "q"
	orch.answers["ready"] = "Weekend trip plan: pack light"
	srv := newTestServer(t, orch, &fakePrefs{}, &fakePlans{}, nil)

	t.Run("unknown session", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/plans/u1/missing")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("not ready yet", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/plans/u1/pending")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "Answer for 'pending' not available (yet)", body["error"])
	})

	t.Run("ready", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/plans/u1/ready")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Weekend trip plan: pack light", readAll(t, resp))
	})
}

func TestAddPreference(t *testing.T) {
	prefs := &fakePrefs{}
	srv := newTestServer(t, newFakeOrchestrator(), prefs, &fakePlans{}, nil)

	resp, err := http.Post(srv.URL+"/preferences/u1", "application/json",
		strings.NewReader(`{"preference":"vegan food"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	prefs.mu.Lock()
	defer prefs.mu.Unlock()
	assert.Equal(t, []string{"u1:vegan food"}, prefs.added)
}

func TestAddPreferenceRequiresBody(t *testing.T) {
	srv := newTestServer(t, newFakeOrchestrator(), &fakePrefs{}, &fakePlans{}, nil)

	resp, err := http.Post(srv.URL+"/preferences/u1", "application/json",
		strings.NewReader(`{"preference":""}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListPlansReturnsSuggestions(t *testing.T) {
	plans := &fakePlans{entries: []projection.Entry{
		{SessionID: "s1", UserID: "u1", UserQuestion: "plan a trip", FinalAnswer: "go to Porto"},
		{SessionID: "s2", UserID: "u1", UserQuestion: "weather?", FinalAnswer: ""},
	}}
	srv := newTestServer(t, newFakeOrchestrator(), &fakePrefs{}, plans, nil)

	resp, err := http.Get(srv.URL + "/plans/u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Suggestions []struct {
			UserQuestion string `json:"userQuestion"`
			Answer       string `json:"answer"`
		} `json:"suggestions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Suggestions, 2)
	assert.Equal(t, "plan a trip", body.Suggestions[0].UserQuestion)
	assert.Equal(t, "go to Porto", body.Suggestions[0].Answer)
	assert.Empty(t, body.Suggestions[1].Answer)
}

func TestListPlansEmptyIsAnEmptyList(t *testing.T) {
	srv := newTestServer(t, newFakeOrchestrator(), &fakePrefs{}, &fakePlans{}, nil)

	resp, err := http.Get(srv.URL + "/plans/u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"suggestions":[]}`, readAll(t, resp))
}

func TestRateLimitPerUser(t *testing.T) {
	rl := NewRateLimiter(60, 2, zap.NewNop())
	srv := newTestServer(t, newFakeOrchestrator(), &fakePrefs{}, &fakePlans{}, rl)

	status := func(userID string) int {
		resp, err := http.Get(srv.URL + "/plans/" + userID)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	// Burst of 2 for u1, then throttled.
	assert.Equal(t, http.StatusOK, status("u1"))
	assert.Equal(t, http.StatusOK, status("u1"))
	throttled := status("u1")
	assert.Equal(t, http.StatusTooManyRequests, throttled)

	// A different user has its own bucket.
	assert.Equal(t, http.StatusOK, status("u2"))
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}
