// Package api is the admin and query HTTP surface over a job store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/SirClappington/jobexec/internal/clock"
	"github.com/SirClappington/jobexec/internal/domain"
)

// Server serves the /v1 routes.
type Server struct {
	store          domain.Store
	clock          clock.Clock
	logger         *zap.Logger
	defaultRetries int
	hint           func(domain.Kind)
}

// Option configures a Server.
type Option func(*Server)

func WithClock(c clock.Clock) Option { return func(s *Server) { s.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

// WithDefaultRetries sets the retries of jobs created without an explicit
// value.
func WithDefaultRetries(n int) Option { return func(s *Server) { s.defaultRetries = n } }

// WithHint is called with the job kind after a job is created or
// resubmitted, typically Engine.Hint when the engine runs in-process.
func WithHint(fn func(domain.Kind)) Option { return func(s *Server) { s.hint = fn } }

func New(store domain.Store, opts ...Option) *Server {
	s := &Server{
		store:          store,
		clock:          clock.System{},
		logger:         zap.NewNop(),
		defaultRetries: 3,
		hint:           func(domain.Kind) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID, s.requestLog, middleware.Recoverer)

	rtr.Get("/healthz", s.health)
	rtr.Route("/v1", func(rtr chi.Router) {
		rtr.Post("/jobs", s.createJob)
		rtr.Get("/jobs", s.listJobs)
		rtr.Get("/jobs/count", s.countJobs)
		rtr.Get("/jobs/{kind}/{id}", s.getJob)

		rtr.Get("/deadletters", s.listDeadLetters)
		rtr.Get("/deadletters/count", s.countDeadLetters)
		rtr.Post("/deadletters/{id}/resubmit", s.resubmit)

		rtr.Get("/historic", s.listHistoric)
		rtr.Get("/historic/count", s.countHistoric)
	})
	return rtr
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps store and validation errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidJob),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInvalidFilter):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrDeadLetterNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrJobAlreadyExists):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

type countBody struct {
	Count int64 `json:"count"`
}
