package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/robertcoach/assess/internal/domain"
)

// maxResponseBodySize caps how much of a webhook response is read (1MB).
const maxResponseBodySize = 1 << 20

// statusAnswered marks a finished assessment inside current_state.
const statusAnswered = "answered"

var errMissingBaseURL = errors.New("webhook base URL is required")

// Client talks to the external assessment automation backend.
type Client struct {
	baseURL      string
	answerHookID string
	httpc        *http.Client
	logger       *slog.Logger
}

// ClientConfig holds configuration for the webhook client.
type ClientConfig struct {
	BaseURL      string
	AnswerHookID string
	Timeout      time.Duration
}

// NewClient creates a webhook client.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		return nil, errMissingBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse webhook base URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		answerHookID: cfg.AnswerHookID,
		httpc:        &http.Client{Timeout: timeout},
		logger:       logger,
	}, nil
}

// Start opens a new assessment session for the given identity.
func (c *Client) Start(ctx context.Context, email, personaHint string) (StartResult, error) {
	const op = "start"

	body := startRequest{
		Email:       email,
		PersonaHint: personaHint,
		Metadata:    map[string]string{"source": "console"},
	}
	raw, err := c.post(ctx, op, c.baseURL+"/webhook/session/start", body)
	if err != nil {
		return StartResult{}, err
	}

	payload, envelope, ok := unwrapEnvelope(raw)
	if !ok {
		return StartResult{}, &FormatError{Op: op, Detail: "no known envelope matched"}
	}

	var decoded startPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return StartResult{}, &FormatError{Op: op, Detail: fmt.Sprintf("decode payload: %v", err)}
	}
	if decoded.Status == "error" {
		return StartResult{}, &ValidationError{Op: op, Fields: decoded.Errors}
	}

	result := StartResult{
		SessionID:     decoded.sessionID(),
		OpeningPrompt: decoded.FirstPrompt,
	}
	if result.SessionID == "" {
		return StartResult{}, &FormatError{Op: op, Detail: "response carries no session id"}
	}
	if result.OpeningPrompt == "" {
		return StartResult{}, &FormatError{Op: op, Detail: "response carries no first prompt"}
	}

	c.logger.Info("webhook session started",
		"session_id", result.SessionID,
		"envelope", envelope,
	)
	return result, nil
}

// SubmitAnswer relays one answer and returns the next prompt or the
// completion signal.
func (c *Client) SubmitAnswer(ctx context.Context, sessionID, answer string) (AnswerResult, error) {
	const op = "answer"

	endpoint := c.baseURL
	if c.answerHookID != "" {
		endpoint += "/webhook/" + c.answerHookID + "/session/" + url.PathEscape(sessionID) + "/answer"
	} else {
		endpoint += "/webhook/session/" + url.PathEscape(sessionID) + "/answer"
	}

	raw, err := c.post(ctx, op, endpoint, answerRequest{Answer: answer})
	if err != nil {
		return AnswerResult{}, err
	}

	payload, envelope, ok := unwrapEnvelope(raw)
	if !ok {
		return AnswerResult{}, &FormatError{Op: op, Detail: "no known envelope matched"}
	}

	var decoded answerPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return AnswerResult{}, &FormatError{Op: op, Detail: fmt.Sprintf("decode payload: %v", err)}
	}

	result := AnswerResult{
		NextPrompt: decoded.prompt(),
		IsComplete: c.resolveCompletion(&decoded),
	}

	c.logger.Info("webhook answer submitted",
		"session_id", sessionID,
		"is_complete", result.IsComplete,
		"envelope", envelope,
	)
	return result, nil
}

// Complete fetches the final readiness result for a finished session.
func (c *Client) Complete(ctx context.Context, sessionID string, optIn bool) (domain.Result, error) {
	const op = "complete"

	body := completeRequest{SessionID: sessionID, OptIn: optIn}
	raw, err := c.post(ctx, op, c.baseURL+"/webhook/session/complete", body)
	if err != nil {
		return domain.Result{}, err
	}

	payload, envelope, ok := unwrapEnvelope(raw)
	if !ok {
		return domain.Result{}, &FormatError{Op: op, Detail: "no known envelope matched"}
	}

	var decoded completePayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return domain.Result{}, &FormatError{Op: op, Detail: fmt.Sprintf("decode payload: %v", err)}
	}

	var missing []string
	if decoded.ReadinessScore == nil {
		missing = append(missing, "readiness_score")
	}
	if len(decoded.ROIEstimate) == 0 {
		missing = append(missing, "roi_estimate")
	}
	if decoded.SummaryHTML == nil || *decoded.SummaryHTML == "" {
		missing = append(missing, "summary_html")
	}
	if len(missing) > 0 {
		return domain.Result{}, &IncompleteResponseError{Op: op, Missing: missing}
	}

	var roi domain.ROIEstimate
	if err := json.Unmarshal(decoded.ROIEstimate, &roi); err != nil {
		return domain.Result{}, &FormatError{Op: op, Detail: fmt.Sprintf("decode roi_estimate: %v", err)}
	}

	c.logger.Info("webhook session completed",
		"session_id", sessionID,
		"readiness_score", *decoded.ReadinessScore,
		"envelope", envelope,
	)
	return domain.Result{
		ReadinessScore: *decoded.ReadinessScore,
		ROIEstimate:    roi,
		SummaryHTML:    *decoded.SummaryHTML,
	}, nil
}

// resolveCompletion extracts the completion flag from whichever field the
// service used. The nested current_state value is a separately JSON-encoded
// string; an unreadable inner payload defaults to "not complete" so one
// malformed field cannot fail the whole exchange.
func (c *Client) resolveCompletion(p *answerPayload) bool {
	if p.IsComplete != nil {
		return *p.IsComplete
	}
	if p.SessionStatus == statusAnswered {
		return true
	}
	if len(p.CurrentState) == 0 {
		return false
	}

	inner := p.CurrentState
	var encoded string
	if err := json.Unmarshal(p.CurrentState, &encoded); err == nil {
		inner = []byte(encoded)
	}

	var state innerState
	if err := json.Unmarshal(inner, &state); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(string(inner))
		if repairErr != nil {
			c.logger.Warn("unreadable current_state, treating as not complete", "error", err)
			return false
		}
		if err := json.Unmarshal([]byte(repaired), &state); err != nil {
			c.logger.Warn("unreadable current_state after repair, treating as not complete", "error", err)
			return false
		}
	}

	switch state.Status {
	case statusAnswered, "complete", "completed":
		return true
	}
	return false
}

// post sends a JSON body and returns the raw response bytes, normalizing
// transport failures and non-2xx statuses into TransportError.
func (c *Client) post(ctx context.Context, op, endpoint string, body any) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close webhook response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("webhook call failed",
			"op", op,
			"status", resp.StatusCode,
			"body_length", len(raw),
		)
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	return raw, nil
}
