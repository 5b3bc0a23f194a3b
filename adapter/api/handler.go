package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/felixgeelhaar/prosecheck/internal/checker/health"
	"github.com/felixgeelhaar/prosecheck/internal/checker/module"
	"github.com/felixgeelhaar/prosecheck/internal/checker/sdk"
	"github.com/felixgeelhaar/prosecheck/internal/checker/service"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
	"github.com/felixgeelhaar/prosecheck/internal/feedback"
	"github.com/felixgeelhaar/prosecheck/pkg/observability"
)

// Checker is the checking surface used by the API.
type Checker interface {
	Check(ctx context.Context, text string, opts *types.Options) (*types.CheckResult, error)
	GetHealthReport() health.Report
	ResetHealthMonitoring()
	GetStats(ctx context.Context) service.Stats
	GetSystemStatus(ctx context.Context) service.SystemStatus
	ClearCache(ctx context.Context) error
	ResetModule(ctx context.Context) (module.LoadStatus, error)
}

// FeedbackService ingests feedback and runs learning cycles.
type FeedbackService interface {
	ProcessFeedback(ctx context.Context, sub feedback.Submission) (*feedback.Record, error)
	RunLearningCycle(ctx context.Context) (feedback.CycleReport, error)
	Recent(ctx context.Context, limit int) ([]feedback.Record, error)
}

// LearnerStatus reports learned rules.
type LearnerStatus interface {
	Status() feedback.LearnerStatus
}

// Readiness checks infrastructure dependencies.
type Readiness interface {
	Check(ctx context.Context) observability.Readiness
}

// HandlerConfig holds dependencies for the handler. Feedback, Learner and
// Probes are optional.
type HandlerConfig struct {
	Checker  Checker
	Feedback FeedbackService
	Learner  LearnerStatus
	Probes   Readiness
	Logger   *slog.Logger
}

// Handler handles API requests.
type Handler struct {
	checker  Checker
	feedback FeedbackService
	learner  LearnerStatus
	probes   Readiness
	logger   *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		checker:  cfg.Checker,
		feedback: cfg.Feedback,
		learner:  cfg.Learner,
		probes:   cfg.Probes,
		logger:   cfg.Logger,
	}
}

// CheckRequest is the body of POST /api/v1/check.
type CheckRequest struct {
	Text    string         `json:"text"`
	Options *types.Options `json:"options,omitempty"`
}

// Check handles POST /api/v1/check
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ErrBadRequest.WithMessage("invalid JSON body"))
		return
	}
	if err := req.Options.Validate(); err != nil {
		writeError(w, ErrBadRequest.WithMessage(err.Error()))
		return
	}

	result, err := h.checker.Check(r.Context(), req.Text, req.Options)
	if err != nil {
		h.logger.WarnContext(r.Context(), "check failed", "error", err)
		writeError(w, checkError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func checkError(err error) *APIError {
	switch {
	case errors.Is(err, sdk.ErrNoCheckers):
		return ErrUnavailable.WithMessage(err.Error())
	case sdk.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return ErrUnavailable.WithMessage("request cancelled")
	default:
		return ErrInternalServer
	}
}

// HealthReport handles GET /api/v1/health
func (h *Handler) HealthReport(w http.ResponseWriter, r *http.Request) {
	report := h.checker.GetHealthReport()
	status := http.StatusOK
	if report.Overall == health.OverallCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// ResetHealth handles POST /api/v1/health/reset
func (h *Handler) ResetHealth(w http.ResponseWriter, r *http.Request) {
	h.checker.ResetHealthMonitoring()
	writeJSON(w, http.StatusOK, h.checker.GetHealthReport())
}

// ResetModule handles POST /api/v1/module/reset. It reloads the analysis
// module and answers with the loader status; a failed reload is 503.
func (h *Handler) ResetModule(w http.ResponseWriter, r *http.Request) {
	status, err := h.checker.ResetModule(r.Context())
	switch {
	case errors.Is(err, sdk.ErrNoModule):
		writeError(w, ErrNotFound.WithMessage(err.Error()))
	case err != nil:
		h.logger.WarnContext(r.Context(), "module reset failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, status)
	default:
		writeJSON(w, http.StatusOK, status)
	}
}

// Stats handles GET /api/v1/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.checker.GetStats(r.Context()))
}

// Status handles GET /api/v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.checker.GetSystemStatus(r.Context()))
}

// ClearCache handles DELETE /api/v1/cache
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.checker.ClearCache(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "cache clear failed", "error", err)
		writeError(w, ErrInternalServer.WithMessage("cache clear incomplete"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Ready handles GET /readyz
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.probes == nil {
		writeJSON(w, http.StatusOK, observability.Readiness{Ready: true})
		return
	}
	res := h.probes.Check(r.Context())
	status := http.StatusOK
	if !res.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// SubmitFeedback handles POST /api/v1/feedback
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	if h.feedback == nil {
		writeError(w, ErrNotFound.WithMessage("feedback is disabled"))
		return
	}
	var sub feedback.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, ErrBadRequest.WithMessage("invalid JSON body"))
		return
	}

	rec, err := h.feedback.ProcessFeedback(r.Context(), sub)
	switch {
	case errors.Is(err, feedback.ErrInvalidAction),
		errors.Is(err, feedback.ErrMissingIssue),
		errors.Is(err, feedback.ErrMissingCorrection):
		writeError(w, ErrBadRequest.WithMessage(err.Error()))
	case err != nil:
		h.logger.ErrorContext(r.Context(), "feedback failed", "error", err)
		writeError(w, ErrInternalServer)
	default:
		writeJSON(w, http.StatusAccepted, rec)
	}
}

// RecentFeedback handles GET /api/v1/feedback
func (h *Handler) RecentFeedback(w http.ResponseWriter, r *http.Request) {
	if h.feedback == nil {
		writeError(w, ErrNotFound.WithMessage("feedback is disabled"))
		return
	}
	records, err := h.feedback.Recent(r.Context(), parseIntParam(r, "limit", 20))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list feedback failed", "error", err)
		writeError(w, ErrInternalServer)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// Learn handles POST /api/v1/feedback/learn
func (h *Handler) Learn(w http.ResponseWriter, r *http.Request) {
	if h.feedback == nil {
		writeError(w, ErrNotFound.WithMessage("feedback is disabled"))
		return
	}
	report, err := h.feedback.RunLearningCycle(r.Context())
	switch {
	case errors.Is(err, feedback.ErrCycleRunning):
		writeError(w, ErrConflict.WithMessage(err.Error()))
	case err != nil:
		h.logger.ErrorContext(r.Context(), "learning cycle failed", "error", err)
		writeError(w, ErrInternalServer)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

// Rules handles GET /api/v1/feedback/rules
func (h *Handler) Rules(w http.ResponseWriter, r *http.Request) {
	if h.learner == nil {
		writeError(w, ErrNotFound.WithMessage("feedback is disabled"))
		return
	}
	writeJSON(w, http.StatusOK, h.learner.Status())
}

func parseIntParam(r *http.Request, name string, defaultValue int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return defaultValue
}
