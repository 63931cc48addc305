// Package health is the process-local HTTP surface exposing liveness,
// current job, concurrency snapshot, and Prometheus metrics (§4.8).
package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/loomrender/renderworker/config"
	renderworkererrors "github.com/loomrender/renderworker/errors"
	"github.com/loomrender/renderworker/jobcache"
	"github.com/loomrender/renderworker/log"
	"github.com/loomrender/renderworker/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unhealthyAfter = 60 * time.Second

// Concurrency is the live snapshot surfaced under /health.concurrency.
type Concurrency struct {
	Active    int `json:"active"`
	Limit     int `json:"limit"`
	Available int `json:"available"`
}

type currentJobSummary struct {
	JobID      string `json:"jobId"`
	RenderID   string `json:"renderId"`
	CampaignID string `json:"campaignId"`
	Stage      string `json:"stage"`
	Progress   int    `json:"progress"`
}

type response struct {
	Status          string             `json:"status"`
	UptimeSec       float64            `json:"uptime"`
	LastHeartbeat   string             `json:"lastHeartbeat"`
	CurrentJob      *currentJobSummary `json:"currentJob"`
	Concurrency     Concurrency        `json:"concurrency"`
	MemoryUsedBytes uint64             `json:"memoryUsedBytes"`
	IsShuttingDown  bool               `json:"isShuttingDown"`
}

// Server is the health/metrics HTTP surface. ConcurrencyLimit is read by
// the caller from the live ConcurrencyCap snapshot at request time.
type Server struct {
	Tracker          *jobcache.Tracker
	ConcurrencyLimit func() int
	StartedAt        time.Time
}

func New(tracker *jobcache.Tracker, concurrencyLimit func() int) *Server {
	return &Server{Tracker: tracker, ConcurrencyLimit: concurrencyLimit, StartedAt: time.Now()}
}

func (s *Server) router() *httprouter.Router {
	router := httprouter.New()
	router.GET("/health", s.handleHealth)
	router.GET("/metrics", s.handleMetrics)
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = renderworkererrors.WriteHTTPNotFound(w, fmt.Sprintf("no such route: %s", r.URL.Path), nil)
	})
	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.Tracker.IsShuttingDown() {
		_ = renderworkererrors.WriteHTTPServiceUnavailable(w, "worker is draining and not accepting new work", nil)
		return
	}

	lastHeartbeat := s.Tracker.LastHeartbeat()
	healthy := time.Since(lastHeartbeat) < unhealthyAfter

	var job *currentJobSummary
	if current := s.Tracker.Current(); current != nil {
		job = &currentJobSummary{
			JobID:      current.JobID,
			RenderID:   current.RenderID,
			CampaignID: current.CampaignID,
			Stage:      current.Stage,
			Progress:   current.Progress,
		}
	}

	limit := s.ConcurrencyLimit()
	active := 0
	if job != nil {
		active = 1
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := response{
		Status:          status,
		UptimeSec:       time.Since(s.StartedAt).Seconds(),
		LastHeartbeat:   lastHeartbeat.UTC().Format(time.RFC3339),
		CurrentJob:      job,
		Concurrency:     Concurrency{Active: active, Limit: limit, Available: limit - active},
		MemoryUsedBytes: mem.Alloc,
		IsShuttingDown:  s.Tracker.IsShuttingDown(),
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(resp); err != nil {
		_ = renderworkererrors.WriteHTTPInternalServerError(w, "failed to encode health response", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.Metrics.HeartbeatAgeSec.Set(time.Since(s.Tracker.LastHeartbeat()).Seconds())
	promhttp.Handler().ServeHTTP(w, r)
}

// ListenAndServe binds to the preferred port, falling back to the next
// free port if it's taken, and serves until ctx is cancelled (§4.8: "port
// with automatic next-free-port fallback"). The actually-bound port is
// returned so the caller can publish it via HEALTH_PORT_ACTIVE.
func (s *Server) ListenAndServe(ctx context.Context, preferredPort int) (actualPort int, err error) {
	listener, actualPort, err := listenWithFallback(preferredPort)
	if err != nil {
		return 0, fmt.Errorf("binding health server: %w", err)
	}

	server := &http.Server{Handler: s.router()}

	log.LogNoRequestID("starting health server", "port", actualPort, "version", config.Version)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return actualPort, nil
}

func listenWithFallback(preferredPort int) (net.Listener, int, error) {
	for port := preferredPort; port < preferredPort+20; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return l, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no free port found starting from %d", preferredPort)
}
