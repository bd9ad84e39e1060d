// Package api exposes the HTTP surface: job submission, job status, breaker
// status, health, and the websocket endpoint.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-service/internal/gateway"
	"github.com/sells-group/enrichment-service/internal/queue"
	"github.com/sells-group/enrichment-service/internal/resilience"
	"github.com/sells-group/enrichment-service/pkg/campaign"
)

// Server wires handlers over the queue, guards, breaker, and gateway.
type Server struct {
	queue   *queue.Queue
	guards  *queue.Guards
	breaker *resilience.CircuitBreaker
	gateway *gateway.Gateway

	allowedOrigins []string
}

// NewServer creates the HTTP server facade. gateway may be nil when the
// websocket endpoint is hosted elsewhere.
func NewServer(q *queue.Queue, guards *queue.Guards, breaker *resilience.CircuitBreaker, gw *gateway.Gateway, allowedOrigins []string) *Server {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Server{
		queue:          q,
		guards:         guards,
		breaker:        breaker,
		gateway:        gw,
		allowedOrigins: allowedOrigins,
	}
}

// Router assembles the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "x-user-id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/people/{id}/enrich", s.handleEnrich)
		r.Get("/jobs/{jobId}/status", s.handleJobStatus)
		r.Get("/circuit-breaker/status", s.handleBreakerStatus)
	})
	if s.gateway != nil {
		r.Get("/ws", s.gateway.ServeWS)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "id")
	userID := r.Header.Get("x-user-id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user", "x-user-id header is required")
		return
	}

	retryAfter, err := s.guards.CheckRateLimit(r.Context(), userID)
	if errors.Is(err, queue.ErrRateLimited) {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		writeError(w, http.StatusTooManyRequests, "rate_limited",
			fmt.Sprintf("enrichment limit reached, retry in %s", retryAfter))
		return
	}

	if backoff, err := s.guards.CheckAdmission(r.Context()); errors.Is(err, queue.ErrTooBusy) {
		w.Header().Set("Retry-After", strconv.Itoa(int(backoff.Seconds())))
		writeError(w, http.StatusServiceUnavailable, "too_busy",
			"system is at capacity, try again shortly")
		return
	}

	job, err := s.queue.Enqueue(r.Context(), personID, userID)
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		writeError(w, http.StatusNotFound, "person_not_found", "person not found")
		return
	case errors.Is(err, queue.ErrDuplicateJob):
		writeError(w, http.StatusConflict, "duplicate_job",
			"person already has an enrichment in flight")
		return
	case err != nil:
		zap.L().Error("enqueue failed",
			zap.String("person_id", personID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue_failed", "could not enqueue job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  job.ID,
		"status": job.State,
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	job, err := s.queue.Status(r.Context(), jobID)
	if errors.Is(err, queue.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job_not_found", "job not found")
		return
	}
	if err != nil {
		zap.L().Error("job status lookup failed",
			zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "status_failed", "could not load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleBreakerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.breaker.Status(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
