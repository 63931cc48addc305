package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loomrender/renderworker/jobcache"
	"github.com/stretchr/testify/require"
)

func TestHandleHealthReturnsHealthyWithRecentHeartbeat(t *testing.T) {
	tracker := jobcache.NewTracker()
	tracker.Heartbeat()
	s := New(tracker, func() int { return 3 })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req, nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp.Status)
	require.Equal(t, 3, resp.Concurrency.Limit)
	require.Nil(t, resp.CurrentJob)
}

func TestHandleHealthReportsUptimeSinceStart(t *testing.T) {
	tracker := jobcache.NewTracker()
	tracker.Heartbeat()
	s := New(tracker, func() int { return 1 })
	s.StartedAt = time.Now().Add(-2 * time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req, nil)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.GreaterOrEqual(t, resp.UptimeSec, 119.0)
}

func TestHandleHealthReturnsServiceUnavailableWhileDraining(t *testing.T) {
	tracker := jobcache.NewTracker()
	tracker.Heartbeat()
	tracker.SetShuttingDown(true)
	s := New(tracker, func() int { return 3 })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req, nil)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body["error"], "draining")
}

func TestRouterReturns404ForUnknownRoute(t *testing.T) {
	tracker := jobcache.NewTracker()
	s := New(tracker, func() int { return 3 })

	req := httptest.NewRequest(http.MethodGet, "/no-such-route", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body["error"], "no such route")
}

func TestCurrentJobSurfacedWhenSet(t *testing.T) {
	tracker := jobcache.NewTracker()
	tracker.SetCurrent(&jobcache.CurrentJob{JobID: "job-1", RenderID: "render-1", Stage: "recording", Progress: 20})
	tracker.Heartbeat()
	s := New(tracker, func() int { return 3 })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req, nil)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.CurrentJob)
	require.Equal(t, "job-1", resp.CurrentJob.JobID)
	require.Equal(t, 1, resp.Concurrency.Active)
}
