// Package session owns the canonical in-memory assessment session per
// browser profile and keeps it synchronized with the persistent store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robertcoach/assess/internal/domain"
	"github.com/robertcoach/assess/internal/store"
)

// ErrNoActiveSession is returned when an operation requires an active
// session and the profile has none.
var ErrNoActiveSession = errors.New("no active session")

// Manager is the single writer to the session store. All mutations go
// through it and are persisted write-through: every successful mutation
// is followed by one full-record save.
type Manager struct {
	repo   store.Repository
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*domain.Session // profileID -> active session
	loaded   map[string]bool            // profileID -> Initialize resolved once
}

// NewManager creates a session manager backed by the given repository.
func NewManager(repo store.Repository, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:     repo,
		logger:   logger,
		sessions: make(map[string]*domain.Session),
		loaded:   make(map[string]bool),
	}
}

// Initialize loads the persisted session for a profile, once. A corrupt
// record is treated as "no session": the record is cleared and the profile
// starts fresh, never with a half-populated session. Subsequent calls for
// the same profile are no-ops.
func (m *Manager) Initialize(ctx context.Context, profileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded[profileID] {
		return nil
	}

	loaded, err := m.repo.LoadSession(ctx, profileID)
	if err != nil {
		if errors.Is(err, store.ErrCorruptRecord) {
			m.logger.Warn("discarding corrupt session record", "profile_id", profileID, "error", err)
			if clearErr := m.repo.ClearSession(ctx, profileID); clearErr != nil {
				m.logger.Warn("failed to clear corrupt session record", "profile_id", profileID, "error", clearErr)
			}
			m.loaded[profileID] = true
			return nil
		}
		return fmt.Errorf("load session: %w", err)
	}

	if loaded != nil {
		normalizeStatus(loaded)
		m.sessions[profileID] = loaded
		m.logger.Info("restored persisted session",
			"profile_id", profileID,
			"session_id", loaded.SessionID,
			"turns", len(loaded.Transcript),
			"status", loaded.Status,
		)
	}
	m.loaded[profileID] = true
	return nil
}

// normalizeStatus infers the lifecycle status from record content where the
// stored value alone would be misleading: a session with a result is
// complete, a session with a transcript is at least awaiting an answer.
func normalizeStatus(s *domain.Session) {
	if s.Result != nil {
		s.Status = domain.StatusComplete
		return
	}
	if s.Status == domain.StatusNotStarted && len(s.Transcript) > 0 {
		s.Status = domain.StatusAwaitingAnswer
	}
}

// Begin creates a fresh session for the profile, replacing any previous
// session entirely, and persists it immediately.
func (m *Manager) Begin(ctx context.Context, profileID, sessionID, email, personaHint, openingPrompt string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := domain.NewSession(sessionID, email, personaHint, openingPrompt)
	if err := m.repo.SaveSession(ctx, profileID, session); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}

	m.sessions[profileID] = session
	m.loaded[profileID] = true
	m.logger.Info("session started", "profile_id", profileID, "session_id", sessionID)
	return snapshot(session), nil
}

// AppendProvisionalAnswer appends the user's answer as a provisional turn
// ahead of remote confirmation and persists it, so the answer survives a
// failed exchange. Returns the new turn's ID for later reconciliation.
func (m *Manager) AppendProvisionalAnswer(ctx context.Context, profileID, answer string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[profileID]
	if !ok || !session.Active() {
		return "", ErrNoActiveSession
	}

	turn := domain.NewTurn(domain.SpeakerUser, answer)
	turn.Provisional = true
	if err := session.AppendTurn(turn); err != nil {
		return "", err
	}

	if err := m.repo.SaveSession(ctx, profileID, session); err != nil {
		return "", fmt.Errorf("persist provisional answer: %w", err)
	}
	return turn.ID, nil
}

// ConfirmExchange reconciles the provisional user turn after a successful
// remote round. When the round continues, the assistant's next prompt is
// appended and the session stays awaiting_answer; when it signals
// completion, no assistant turn is added and the status flips to complete.
func (m *Manager) ConfirmExchange(ctx context.Context, profileID, turnID, nextPrompt string, isComplete bool) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[profileID]
	if !ok || !session.Active() {
		return nil, ErrNoActiveSession
	}

	if err := session.ConfirmTurn(turnID); err != nil {
		return nil, err
	}

	if isComplete {
		session.MarkComplete()
	} else {
		if err := session.AppendTurn(domain.NewTurn(domain.SpeakerAssistant, nextPrompt)); err != nil {
			return nil, err
		}
	}

	if err := m.repo.SaveSession(ctx, profileID, session); err != nil {
		return nil, fmt.Errorf("persist exchange: %w", err)
	}
	return snapshot(session), nil
}

// RetainAnswer keeps the optimistic user turn after a failed exchange so
// the typed answer is not lost, clearing only the provisional flag.
func (m *Manager) RetainAnswer(ctx context.Context, profileID, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[profileID]
	if !ok || !session.Active() {
		return ErrNoActiveSession
	}

	if err := session.ConfirmTurn(turnID); err != nil {
		return err
	}
	if err := m.repo.SaveSession(ctx, profileID, session); err != nil {
		return fmt.Errorf("persist retained answer: %w", err)
	}
	return nil
}

// SetResult attaches the final readiness result to a completed session
// and persists it.
func (m *Manager) SetResult(ctx context.Context, profileID string, result domain.Result) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[profileID]
	if !ok || !session.Active() {
		return nil, ErrNoActiveSession
	}
	if session.Status != domain.StatusComplete {
		return nil, fmt.Errorf("session %s is not complete", session.SessionID)
	}

	session.Result = &result
	if err := m.repo.SaveSession(ctx, profileID, session); err != nil {
		return nil, fmt.Errorf("persist result: %w", err)
	}
	return snapshot(session), nil
}

// Reset drops the in-memory session and clears the persisted record.
func (m *Manager) Reset(ctx context.Context, profileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, profileID)
	m.loaded[profileID] = true
	if err := m.repo.ClearSession(ctx, profileID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	m.logger.Info("session reset", "profile_id", profileID)
	return nil
}

// IsActive reports whether the profile has a session with a remote ID.
func (m *Manager) IsActive(profileID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[profileID].Active()
}

// Session returns a copy of the profile's current session, or nil.
func (m *Manager) Session(profileID string) *domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[profileID]
	if !ok {
		return nil
	}
	return snapshot(session)
}

// snapshot copies a session so callers cannot mutate manager state.
func snapshot(s *domain.Session) *domain.Session {
	out := *s
	out.Transcript = make([]domain.Turn, len(s.Transcript))
	copy(out.Transcript, s.Transcript)
	if s.Result != nil {
		result := *s.Result
		out.Result = &result
	}
	return &out
}
