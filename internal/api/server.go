// Package api exposes the HTTP interface for the archiver.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-archiver/internal/archive"
	"github.com/JakeFAU/serp-archiver/internal/config"
	"github.com/JakeFAU/serp-archiver/internal/metrics"
	"github.com/JakeFAU/serp-archiver/internal/pipeline"
)

const (
	probeTimeout   = 10 * time.Second
	maxRequestBody = 1 << 20
)

// Runner archives one keyword.
type Runner interface {
	Run(ctx context.Context, keyword string) (archive.RunSummary, error)
}

// StateReader reports the persisted counter and ledger.
type StateReader interface {
	State() (State, error)
}

// State is the body of GET /v1/state. LastID is null before the first run.
type State struct {
	LastID  *string `json:"last_id"`
	NextID  string  `json:"next_id"`
	Domains int     `json:"domains"`
}

// Server wires HTTP handlers to the pipeline. Runs are serialized because the
// counter and ledger files are shared by the whole process.
type Server struct {
	router chi.Router
	runner Runner
	state  StateReader
	cfg    config.Config
	logger *zap.Logger
	runMu  sync.Mutex
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, state StateReader, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner: runner,
		state:  state,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(probeTimeout))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
		r.Get("/v1/state", s.getState)
	})

	// A run lasts as long as its captures, so it is not wrapped in a timeout.
	r.Post("/v1/runs", s.createRun)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if _, err := s.state.State(); err != nil {
		s.logger.Warn("state not readable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "state not readable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getState(w http.ResponseWriter, _ *http.Request) {
	st, err := s.state.State()
	if err != nil {
		s.logger.Error("read state failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read state")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type runRequest struct {
	Keyword string `json:"keyword"`
}

type runFailure struct {
	Error   string             `json:"error"`
	Summary archive.RunSummary `json:"summary"`
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		writeError(w, http.StatusBadRequest, "keyword required")
		return
	}
	if !s.runMu.TryLock() {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	defer s.runMu.Unlock()

	// The run outlives the caller; its IDs and domains are committed either way.
	summary, err := s.runner.Run(context.WithoutCancel(r.Context()), keyword)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, summary)
	case errors.Is(err, pipeline.ErrNoCandidates):
		writeJSON(w, http.StatusUnprocessableEntity, runFailure{Error: err.Error(), Summary: summary})
	default:
		s.logger.Error("run failed", zap.String("keyword", keyword), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, runFailure{Error: err.Error(), Summary: summary})
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the identifier assigned by the request ID middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
