// Package domain contains core domain types for the assessment console.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies the author of a transcript turn.
type Speaker string

const (
	// SpeakerUser marks a turn typed by the person taking the assessment.
	SpeakerUser Speaker = "user"
	// SpeakerAssistant marks a turn produced by the remote assessment service.
	SpeakerAssistant Speaker = "assistant"
)

// Valid reports whether the speaker is one of the two known values.
func (s Speaker) Valid() bool {
	return s == SpeakerUser || s == SpeakerAssistant
}

// Status is the lifecycle state of a session. Transitions are monotonic:
// not_started -> awaiting_answer -> complete, never backward.
type Status string

const (
	StatusNotStarted     Status = "not_started"
	StatusAwaitingAnswer Status = "awaiting_answer"
	StatusComplete       Status = "complete"
)

// Valid reports whether the status is a known lifecycle value.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusAwaitingAnswer, StatusComplete:
		return true
	}
	return false
}

var (
	// ErrSessionComplete is returned when a mutation is attempted on a
	// completed session.
	ErrSessionComplete = errors.New("session is complete")
	// ErrUserTurnFirst is returned when a user turn would become the first
	// entry of a transcript.
	ErrUserTurnFirst = errors.New("transcript cannot start with a user turn")
	// ErrTurnNotFound is returned when a turn ID does not exist in the
	// transcript.
	ErrTurnNotFound = errors.New("turn not found in transcript")
)

// Turn is one message unit in the conversational transcript.
type Turn struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Provisional marks an optimistic user turn that has not yet been
	// confirmed by the remote service. Never persisted.
	Provisional bool `json:"-"`
}

// NewTurn creates a turn with a random unique ID.
func NewTurn(speaker Speaker, content string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Session is one complete assessment run from start to completion or
// abandonment. SessionID is assigned by the remote service and immutable
// once set.
type Session struct {
	SessionID   string    `json:"session_id"`
	Email       string    `json:"email"`
	PersonaHint string    `json:"persona_hint"`
	FirstPrompt string    `json:"first_prompt"`
	Transcript  []Turn    `json:"transcript"`
	Status      Status    `json:"status"`
	Result      *Result   `json:"result,omitempty"`
	SavedAt     time.Time `json:"saved_at"`
}

// NewSession creates a session opened by the given assistant prompt. The
// transcript always starts with the assistant's opening turn.
func NewSession(sessionID, email, personaHint, openingPrompt string) *Session {
	return &Session{
		SessionID:   sessionID,
		Email:       email,
		PersonaHint: personaHint,
		FirstPrompt: openingPrompt,
		Transcript:  []Turn{NewTurn(SpeakerAssistant, openingPrompt)},
		Status:      StatusAwaitingAnswer,
	}
}

// AppendTurn adds a turn to the transcript, enforcing the ordering
// invariants: no appends after completion, and a user turn can never be
// the first entry.
func (s *Session) AppendTurn(t Turn) error {
	if s.Status == StatusComplete {
		return ErrSessionComplete
	}
	if len(s.Transcript) == 0 && t.Speaker == SpeakerUser {
		return ErrUserTurnFirst
	}
	s.Transcript = append(s.Transcript, t)
	return nil
}

// ConfirmTurn clears the provisional flag on the turn with the given ID.
func (s *Session) ConfirmTurn(turnID string) error {
	for i := range s.Transcript {
		if s.Transcript[i].ID == turnID {
			s.Transcript[i].Provisional = false
			return nil
		}
	}
	return ErrTurnNotFound
}

// MarkComplete flips the session to its terminal status.
func (s *Session) MarkComplete() {
	s.Status = StatusComplete
}

// LastTurn returns the most recent turn, or nil for an empty transcript.
func (s *Session) LastTurn() *Turn {
	if len(s.Transcript) == 0 {
		return nil
	}
	return &s.Transcript[len(s.Transcript)-1]
}

// Active reports whether the session has been assigned a remote session ID.
func (s *Session) Active() bool {
	return s != nil && s.SessionID != ""
}

// Validate checks the shape invariants a persisted record must satisfy
// before it can be adopted as the active session.
func (s *Session) Validate() error {
	if s.SessionID == "" {
		return errors.New("missing session id")
	}
	if !s.Status.Valid() {
		return errors.New("unknown status " + string(s.Status))
	}
	for i, t := range s.Transcript {
		if !t.Speaker.Valid() {
			return errors.New("unknown speaker " + string(t.Speaker))
		}
		if i == 0 && t.Speaker != SpeakerAssistant {
			return ErrUserTurnFirst
		}
	}
	return nil
}
