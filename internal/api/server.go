// Package api exposes the operational HTTP interface served alongside the
// worker pool: health probes, queue statistics and Prometheus metrics, plus
// a small task-submission endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/crawler"
	"github.com/pricesense/crawler/internal/worker"
)

const probeTimeout = 3 * time.Second

// Pinger reports reachability of a downstream dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Broker is the queue surface the server needs: submission and stats on top
// of liveness.
type Broker interface {
	Pinger
	Enqueue(ctx context.Context, task crawler.Task, priority crawler.Priority) error
	Stats(ctx context.Context) (crawler.QueueStats, error)
}

// PoolStats returns the worker pool counters at call time.
type PoolStats func() worker.Stats

// Server wires the ops handlers to the broker, database and pool.
type Server struct {
	router chi.Router
	broker Broker
	db     Pinger
	pool   PoolStats
	idGen  crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(broker Broker, db Pinger, pool PoolStats, idGen crawler.IDGenerator, clock crawler.Clock, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		broker: broker,
		db:     db,
		pool:   pool,
		idGen:  idGen,
		clock:  clock,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/stats", s.stats)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/tasks", s.submitTask)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz checks the broker and, when configured, the database. A worker
// without either cannot make progress, so failures report 503.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	checks := map[string]string{"broker": "ok", "database": "ok"}
	ready := true

	if err := s.broker.Ping(ctx); err != nil {
		checks["broker"] = err.Error()
		ready = false
	}
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			ready = false
		}
	} else {
		checks["database"] = "not configured"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	qs, err := s.broker.Stats(ctx)
	if err != nil {
		s.logger.Error("queue stats failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "queue stats unavailable")
		return
	}

	payload := map[string]any{"queues": qs}
	if s.pool != nil {
		ps := s.pool()
		payload["workers"] = map[string]int64{
			"processed": ps.Processed,
			"succeeded": ps.Succeeded,
			"failed":    ps.Failed,
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

type submitTaskRequest struct {
	ProductID string `json:"product_id"`
	URL       string `json:"url"`
	Platform  string `json:"platform"`
	Priority  string `json:"priority"`
	UserID    string `json:"user_id"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ProductID == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "product_id and url are required")
		return
	}

	platform := crawler.Platform(req.Platform)
	if req.Platform == "" {
		detected, err := crawler.PlatformForURL(req.URL)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		platform = detected
	} else if !platform.Valid() {
		writeError(w, http.StatusBadRequest, "unsupported platform")
		return
	}

	priority := crawler.PriorityNormal
	if strings.EqualFold(req.Priority, string(crawler.PriorityHigh)) {
		priority = crawler.PriorityHigh
	}

	taskID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "id generation failed")
		return
	}
	task := crawler.Task{
		TaskID:    taskID,
		ProductID: req.ProductID,
		URL:       req.URL,
		Platform:  platform,
		UserID:    req.UserID,
		CreatedAt: s.clock.Now(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()
	if err := s.broker.Enqueue(ctx, task, priority); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.logger.Error("enqueue via api failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, status, "enqueue failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id":  taskID,
		"priority": string(priority),
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
