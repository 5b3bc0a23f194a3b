// Package api serves the prosecheck HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/felixgeelhaar/prosecheck/pkg/observability"
)

// CorrelationHeader carries the caller's correlation ID.
const CorrelationHeader = "X-Correlation-ID"

// Server is the HTTP API server.
type Server struct {
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	handler *Handler
	limiter *rate.Limiter
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestsPerSecond and Burst bound the global request rate. Zero
	// disables limiting.
	RequestsPerSecond float64
	Burst             int

	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:              "127.0.0.1:8080",
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		RequestsPerSecond: 50,
		Burst:             100,
		MaxBodyBytes:      1 << 20,
	}
}

// NewServer creates the API server.
func NewServer(cfg ServerConfig, handler *Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mux:     http.NewServeMux(),
		logger:  logger,
		handler: handler,
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}
	s.registerRoutes()

	var h http.Handler = s.mux
	if cfg.MaxBodyBytes > 0 {
		h = limitBody(h, cfg.MaxBodyBytes)
	}
	h = s.rateLimit(h)
	h = s.correlate(h)

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleLiveness)
	s.mux.HandleFunc("GET /readyz", s.handler.Ready)

	s.mux.HandleFunc("POST /api/v1/check", s.handler.Check)
	s.mux.HandleFunc("GET /api/v1/health", s.handler.HealthReport)
	s.mux.HandleFunc("POST /api/v1/health/reset", s.handler.ResetHealth)
	s.mux.HandleFunc("GET /api/v1/stats", s.handler.Stats)
	s.mux.HandleFunc("GET /api/v1/status", s.handler.Status)
	s.mux.HandleFunc("DELETE /api/v1/cache", s.handler.ClearCache)
	s.mux.HandleFunc("POST /api/v1/module/reset", s.handler.ResetModule)

	s.mux.HandleFunc("POST /api/v1/feedback", s.handler.SubmitFeedback)
	s.mux.HandleFunc("GET /api/v1/feedback", s.handler.RecentFeedback)
	s.mux.HandleFunc("POST /api/v1/feedback/learn", s.handler.Learn)
	s.mux.HandleFunc("GET /api/v1/feedback/rules", s.handler.Rules)
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.NewRequestContext(r.Context(), r.Header.Get(CorrelationHeader))
		w.Header().Set(CorrelationHeader, observability.CorrelationIDFromContext(ctx))

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		s.logger.DebugContext(ctx, "request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler, n int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, n)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, err *APIError) {
	writeJSON(w, err.Status, err)
}

// APIError represents an API error.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithMessage returns a copy carrying msg.
func (e *APIError) WithMessage(msg string) *APIError {
	c := *e
	c.Message = msg
	return &c
}

// Common API errors
var (
	ErrBadRequest = &APIError{
		Status:  http.StatusBadRequest,
		Code:    "bad_request",
		Message: "Invalid request",
	}
	ErrNotFound = &APIError{
		Status:  http.StatusNotFound,
		Code:    "not_found",
		Message: "Resource not found",
	}
	ErrRateLimited = &APIError{
		Status:  http.StatusTooManyRequests,
		Code:    "rate_limited",
		Message: "Too many requests",
	}
	ErrUnavailable = &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "unavailable",
		Message: "Service unavailable",
	}
	ErrTimeout = &APIError{
		Status:  http.StatusGatewayTimeout,
		Code:    "timeout",
		Message: "Check timed out",
	}
	ErrConflict = &APIError{
		Status:  http.StatusConflict,
		Code:    "conflict",
		Message: "Operation already in progress",
	}
	ErrInternalServer = &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: "Internal server error",
	}
)
