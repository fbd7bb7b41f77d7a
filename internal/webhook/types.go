// Package webhook implements the client for the external assessment
// automation backend. The service's response contract is informally
// versioned across its own deployments; this package absorbs that
// instability behind one stable internal shape so upstream components
// never branch on envelope details.
package webhook

import "encoding/json"

// StartResult is the normalized outcome of a session start.
type StartResult struct {
	SessionID     string
	OpeningPrompt string
}

// AnswerResult is the normalized outcome of an answer submission.
type AnswerResult struct {
	NextPrompt string
	IsComplete bool
}

// startRequest is the start endpoint's request body.
type startRequest struct {
	Email       string            `json:"email"`
	PersonaHint string            `json:"persona_hint"`
	Metadata    map[string]string `json:"metadata"`
}

// answerRequest is the answer endpoint's request body.
type answerRequest struct {
	Answer string `json:"answer"`
}

// completeRequest is the completion endpoint's request body.
type completeRequest struct {
	SessionID string `json:"session_id"`
	OptIn     bool   `json:"opt_in"`
}

// startPayload covers both observed start shapes: the nested session
// object and the flattened session_id field.
type startPayload struct {
	Session *struct {
		ID string `json:"id"`
	} `json:"session"`
	SessionID   string          `json:"session_id"`
	FirstPrompt string          `json:"first_prompt"`
	Status      string          `json:"status"`
	Errors      fieldComplaints `json:"errors"`
}

func (p *startPayload) sessionID() string {
	if p.Session != nil && p.Session.ID != "" {
		return p.Session.ID
	}
	return p.SessionID
}

// answerPayload covers the observed answer shapes: next_prompt vs
// reply_text, an explicit is_complete flag, a session_status string, and
// the nested separately-encoded current_state field.
type answerPayload struct {
	NextPrompt    string          `json:"next_prompt"`
	ReplyText     string          `json:"reply_text"`
	IsComplete    *bool           `json:"is_complete"`
	SessionStatus string          `json:"session_status"`
	CurrentState  json.RawMessage `json:"current_state"`
}

func (p *answerPayload) prompt() string {
	if p.NextPrompt != "" {
		return p.NextPrompt
	}
	return p.ReplyText
}

// innerState is the payload embedded in current_state.
type innerState struct {
	Status string `json:"status"`
}

// completePayload is the completion response before field validation.
// Pointers distinguish absent fields from zero values.
type completePayload struct {
	ReadinessScore *float64        `json:"readiness_score"`
	ROIEstimate    json.RawMessage `json:"roi_estimate"`
	SummaryHTML    *string         `json:"summary_html"`
}
