package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/robertcoach/assess/internal/config"
	"github.com/robertcoach/assess/internal/domain"
	"github.com/robertcoach/assess/internal/flow"
	"github.com/robertcoach/assess/internal/identity"
	"github.com/robertcoach/assess/internal/session"
	"github.com/robertcoach/assess/internal/store"
	"github.com/robertcoach/assess/internal/webhook"
)

// emailPattern mirrors the client-side check: one @, no whitespace, a dot
// in the domain part.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// AssessmentHandler handles the assessment conversation endpoints.
type AssessmentHandler struct {
	flow    *flow.Controller
	limiter *RateLimiter
	cfg     *config.Config
	logger  *slog.Logger
}

// NewAssessmentHandler creates the assessment handler.
func NewAssessmentHandler(fc *flow.Controller, cfg *config.Config, logger *slog.Logger) *AssessmentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssessmentHandler{
		flow:    fc,
		limiter: NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		cfg:     cfg,
		logger:  logger,
	}
}

// RegisterRoutes registers assessment routes.
func (h *AssessmentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/assessment", func(r chi.Router) {
		r.Get("/", h.GetState)
		r.Post("/start", h.Start)
		r.Post("/answer", h.Answer)
		r.Post("/complete", h.Complete)
		r.Post("/reset", h.Reset)
		r.Get("/stream", h.Stream)
	})
}

type startRequest struct {
	Email       string `json:"email"`
	PersonaHint string `json:"persona_hint"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

type completeRequest struct {
	OptIn bool `json:"opt_in"`
}

// GetState returns the saved conversation for the current profile so a
// returning visitor resumes mid-assessment.
func (h *AssessmentHandler) GetState(w http.ResponseWriter, r *http.Request) {
	profileID := identity.ProfileIDFromContext(r.Context())
	if profileID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	snap, err := h.flow.EnsureInitialized(r.Context(), profileID)
	if err != nil {
		h.logger.Error("failed to restore session", "profile_id", profileID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to restore session")
		return
	}
	JSON(w, http.StatusOK, snap)
}

// Start begins a new assessment session.
func (h *AssessmentHandler) Start(w http.ResponseWriter, r *http.Request) {
	profileID, ok := h.admit(w, r)
	if !ok {
		return
	}

	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.PersonaHint = strings.TrimSpace(req.PersonaHint)
	if !emailPattern.MatchString(req.Email) {
		Error(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	if len(req.PersonaHint) < 2 {
		Error(w, http.StatusBadRequest, "tell us a little about your role first")
		return
	}

	if _, err := h.flow.EnsureInitialized(r.Context(), profileID); err != nil {
		Error(w, http.StatusInternalServerError, "failed to restore session")
		return
	}

	snap, err := h.flow.Start(r.Context(), profileID, req.Email, req.PersonaHint)
	if err != nil {
		h.writeFlowError(w, profileID, "start", err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// Answer relays one answer to the remote service.
func (h *AssessmentHandler) Answer(w http.ResponseWriter, r *http.Request) {
	profileID, ok := h.admit(w, r)
	if !ok {
		return
	}

	var req answerRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, err := h.flow.EnsureInitialized(r.Context(), profileID); err != nil {
		Error(w, http.StatusInternalServerError, "failed to restore session")
		return
	}

	snap, err := h.flow.Submit(r.Context(), profileID, req.Answer)
	if err != nil {
		h.writeFlowError(w, profileID, "answer", err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// Complete fetches the readiness result for a finished assessment.
func (h *AssessmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	profileID, ok := h.admit(w, r)
	if !ok {
		return
	}

	var req completeRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, err := h.flow.EnsureInitialized(r.Context(), profileID); err != nil {
		Error(w, http.StatusInternalServerError, "failed to restore session")
		return
	}

	snap, err := h.flow.Finish(r.Context(), profileID, req.OptIn)
	if err != nil {
		h.writeFlowError(w, profileID, "complete", err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// Reset abandons the current assessment and clears the saved record.
func (h *AssessmentHandler) Reset(w http.ResponseWriter, r *http.Request) {
	profileID, ok := h.admit(w, r)
	if !ok {
		return
	}

	if _, err := h.flow.EnsureInitialized(r.Context(), profileID); err != nil {
		Error(w, http.StatusInternalServerError, "failed to restore session")
		return
	}

	if err := h.flow.Reset(r.Context(), profileID); err != nil {
		h.logger.Error("failed to reset session", "profile_id", profileID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	JSON(w, http.StatusOK, h.flow.State(profileID))
}

// admit runs the shared per-request checks: identity and rate limit.
func (h *AssessmentHandler) admit(w http.ResponseWriter, r *http.Request) (string, bool) {
	profileID := identity.ProfileIDFromContext(r.Context())
	if profileID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	if !h.limiter.Allow(profileID) {
		h.logger.Warn("rate limit exceeded", "profile_id", profileID)
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return "", false
	}
	return profileID, true
}

// decode reads a size-capped JSON body into v.
func (h *AssessmentHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeFlowError maps flow and webhook errors onto HTTP statuses.
func (h *AssessmentHandler) writeFlowError(w http.ResponseWriter, profileID, op string, err error) {
	var (
		validationErr *webhook.ValidationError
		transportErr  *webhook.TransportError
		formatErr     *webhook.FormatError
		missingErr    *webhook.IncompleteResponseError
	)

	switch {
	case errors.Is(err, flow.ErrEmptyAnswer):
		Error(w, http.StatusBadRequest, "answer cannot be empty")
	case errors.Is(err, flow.ErrBusy):
		Error(w, http.StatusConflict, "another request is already in flight")
	case errors.Is(err, flow.ErrAbandoned):
		Error(w, http.StatusConflict, "session was reset")
	case errors.Is(err, flow.ErrNotComplete):
		Error(w, http.StatusConflict, "assessment is not complete yet")
	case errors.Is(err, domain.ErrSessionComplete):
		Error(w, http.StatusConflict, "assessment is already complete")
	case errors.Is(err, session.ErrNoActiveSession):
		Error(w, http.StatusNotFound, "no active assessment")
	case errors.As(err, &validationErr):
		Error(w, http.StatusUnprocessableEntity, validationErr.Error())
	case errors.As(err, &transportErr):
		h.logger.Warn("remote service unreachable", "profile_id", profileID, "op", op, "error", err)
		Error(w, http.StatusBadGateway, "the assessment service is unavailable, please try again")
	case errors.As(err, &formatErr), errors.As(err, &missingErr):
		h.logger.Error("remote response unusable", "profile_id", profileID, "op", op, "error", err)
		Error(w, http.StatusBadGateway, "the assessment service returned an unexpected response")
	default:
		h.logger.Error("assessment request failed", "profile_id", profileID, "op", op, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo store.Repository
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
