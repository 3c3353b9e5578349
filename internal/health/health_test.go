package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunAggregatesResults(t *testing.T) {
	c := NewChecker(zap.NewNop())
	c.Register("redis", func(ctx context.Context) error { return nil })
	c.Register("postgres", func(ctx context.Context) error { return fmt.Errorf("connection refused") })

	report := c.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, StatusHealthy, report.Components["redis"].Status)
	assert.Equal(t, StatusUnhealthy, report.Components["postgres"].Status)
	assert.Contains(t, report.Components["postgres"].Error, "connection refused")
}

func TestRunWithNoChecksIsHealthy(t *testing.T) {
	report := NewChecker(zap.NewNop()).Run(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
}

func TestReadinessHandlerStatusCodes(t *testing.T) {
	c := NewChecker(zap.NewNop())
	c.Register("redis", func(ctx context.Context) error { return nil })

	rr := httptest.NewRecorder()
	c.ReadinessHandler()(rr, httptest.NewRequest("GET", "/readiness", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	c.Register("postgres", func(ctx context.Context) error { return fmt.Errorf("down") })
	rr = httptest.NewRecorder()
	c.ReadinessHandler()(rr, httptest.NewRequest("GET", "/readiness", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, StatusUnhealthy, report.Status)
}

func TestLivenessHandlerAlwaysOK(t *testing.T) {
	c := NewChecker(zap.NewNop())
	c.Register("postgres", func(ctx context.Context) error { return fmt.Errorf("down") })

	rr := httptest.NewRecorder()
	c.LivenessHandler()(rr, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
