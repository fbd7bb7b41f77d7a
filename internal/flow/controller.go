// Package flow drives the visible conversation sequence of an assessment:
// it decides, given the current session and a new answer, whether the Q&A
// loop continues or the run transitions to completion.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/robertcoach/assess/internal/domain"
	"github.com/robertcoach/assess/internal/session"
	"github.com/robertcoach/assess/internal/webhook"
)

// State is the flow position of one profile's assessment.
type State string

const (
	StateIdle           State = "idle"
	StateStarting       State = "starting"
	StateAwaitingAnswer State = "awaiting_answer"
	StateSubmitting     State = "submitting"
	StateCompleted      State = "completed"
)

var (
	// ErrBusy is returned when a remote call is already in flight for the
	// profile; Starting and Submitting are exclusive states.
	ErrBusy = errors.New("another request is already in flight")
	// ErrEmptyAnswer is returned for empty or whitespace-only answers,
	// which are rejected locally without contacting the remote service.
	ErrEmptyAnswer = errors.New("answer cannot be empty")
	// ErrNotComplete is returned when results are requested before the
	// Q&A loop has finished.
	ErrNotComplete = errors.New("assessment is not complete yet")
	// ErrAbandoned is returned when a remote call resolved after the
	// session it belonged to was reset or superseded; its result is
	// discarded without touching state.
	ErrAbandoned = errors.New("session was reset while the request was in flight")
)

// TurnRecorder receives transcript turns as they are confirmed, for
// audit logging off the request path.
type TurnRecorder interface {
	LogTurn(profileID, sessionID string, turn domain.Turn)
}

// RemoteClient is the slice of the webhook client the controller needs.
type RemoteClient interface {
	Start(ctx context.Context, email, personaHint string) (webhook.StartResult, error)
	SubmitAnswer(ctx context.Context, sessionID, answer string) (webhook.AnswerResult, error)
	Complete(ctx context.Context, sessionID string, optIn bool) (domain.Result, error)
}

// Snapshot is the flow state handed to presentation consumers.
type Snapshot struct {
	State   State           `json:"state"`
	Session *domain.Session `json:"session,omitempty"`
}

// profileState tracks one profile's position in the state machine.
type profileState struct {
	state State
	busy  bool
	// epoch is bumped by reset and supersession; a remote result whose
	// epoch no longer matches is discarded instead of mutating state.
	epoch uint64
}

// Controller serializes all session mutations for a profile: at most one
// remote call is in flight at a time, and the session manager is only
// ever driven from here.
type Controller struct {
	client   RemoteClient
	manager  *session.Manager
	logger   *slog.Logger
	recorder TurnRecorder

	mu       sync.Mutex
	profiles map[string]*profileState

	subMu       sync.Mutex
	subscribers map[string]map[int64]chan Snapshot
	subCounter  int64
}

// NewController creates a flow controller.
func NewController(client RemoteClient, manager *session.Manager, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		client:      client,
		manager:     manager,
		logger:      logger,
		profiles:    make(map[string]*profileState),
		subscribers: make(map[string]map[int64]chan Snapshot),
	}
}

// SetRecorder attaches a transcript recorder. Must be called before the
// controller starts serving requests.
func (c *Controller) SetRecorder(r TurnRecorder) {
	c.recorder = r
}

// recordTurns logs the turn with the given ID plus any trailing
// assistant turn. No-op without a recorder.
func (c *Controller) recordTurns(profileID, turnID string) {
	if c.recorder == nil {
		return
	}
	s := c.manager.Session(profileID)
	if !s.Active() {
		return
	}
	for _, t := range s.Transcript {
		if t.ID == turnID {
			c.recorder.LogTurn(profileID, s.SessionID, t)
			break
		}
	}
	if last := s.LastTurn(); last != nil && last.ID != turnID && last.Speaker == domain.SpeakerAssistant {
		c.recorder.LogTurn(profileID, s.SessionID, *last)
	}
}

// EnsureInitialized restores any persisted session for the profile and
// derives the flow state from it. Safe to call on every request; the
// underlying load happens once.
func (c *Controller) EnsureInitialized(ctx context.Context, profileID string) (Snapshot, error) {
	if err := c.manager.Initialize(ctx, profileID); err != nil {
		return Snapshot{State: StateIdle}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ps := c.profile(profileID)
	if ps.state == "" || ps.state == StateIdle {
		ps.state = c.deriveState(profileID)
	}
	return c.snapshotLocked(profileID), nil
}

// deriveState maps the persisted session onto a flow state.
func (c *Controller) deriveState(profileID string) State {
	s := c.manager.Session(profileID)
	switch {
	case !s.Active():
		return StateIdle
	case s.Status == domain.StatusComplete:
		return StateCompleted
	default:
		return StateAwaitingAnswer
	}
}

// State returns the current snapshot without touching remote or store.
func (c *Controller) State(profileID string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(profileID)
}

// Start opens a new assessment session. On success any previous session
// for the profile is overwritten entirely; on failure no partial session
// is created or persisted and the prior state is restored.
func (c *Controller) Start(ctx context.Context, profileID, email, personaHint string) (Snapshot, error) {
	prev, epoch, err := c.enterBusy(profileID, StateStarting)
	if err != nil {
		return c.State(profileID), err
	}

	result, startErr := c.client.Start(ctx, email, personaHint)

	c.mu.Lock()
	defer c.mu.Unlock()
	ps := c.profile(profileID)

	if ps.epoch != epoch {
		ps.busy = false
		return c.snapshotLocked(profileID), ErrAbandoned
	}

	if startErr != nil {
		ps.busy = false
		ps.state = prev
		c.logger.Warn("session start failed", "profile_id", profileID, "error", startErr)
		c.publishLocked(profileID)
		return c.snapshotLocked(profileID), startErr
	}

	// A successful start supersedes whatever session existed before.
	ps.epoch++
	if _, err := c.manager.Begin(ctx, profileID, result.SessionID, email, personaHint, result.OpeningPrompt); err != nil {
		ps.busy = false
		ps.state = prev
		return c.snapshotLocked(profileID), err
	}

	ps.busy = false
	ps.state = StateAwaitingAnswer
	if c.recorder != nil {
		if s := c.manager.Session(profileID); s.Active() && len(s.Transcript) > 0 {
			c.recorder.LogTurn(profileID, s.SessionID, s.Transcript[0])
		}
	}
	c.publishLocked(profileID)
	return c.snapshotLocked(profileID), nil
}

// Submit relays one answer. The user's turn is appended optimistically
// before the remote call; a failed call keeps the turn and returns to
// awaiting_answer so the user can retry manually.
func (c *Controller) Submit(ctx context.Context, profileID, answer string) (Snapshot, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return c.State(profileID), ErrEmptyAnswer
	}

	c.mu.Lock()
	ps := c.profile(profileID)
	switch {
	case ps.busy:
		c.mu.Unlock()
		return c.State(profileID), ErrBusy
	case ps.state == StateCompleted:
		c.mu.Unlock()
		return c.State(profileID), domain.ErrSessionComplete
	case ps.state != StateAwaitingAnswer:
		c.mu.Unlock()
		return c.State(profileID), session.ErrNoActiveSession
	}
	ps.busy = true
	ps.state = StateSubmitting
	epoch := ps.epoch
	c.mu.Unlock()

	active := c.manager.Session(profileID)
	if !active.Active() {
		c.settle(profileID, StateAwaitingAnswer)
		return c.State(profileID), session.ErrNoActiveSession
	}

	turnID, err := c.manager.AppendProvisionalAnswer(ctx, profileID, answer)
	if err != nil {
		c.settle(profileID, StateAwaitingAnswer)
		return c.State(profileID), err
	}
	c.publish(profileID)

	result, submitErr := c.client.SubmitAnswer(ctx, active.SessionID, answer)

	c.mu.Lock()
	defer c.mu.Unlock()
	ps = c.profile(profileID)

	if ps.epoch != epoch {
		ps.busy = false
		return c.snapshotLocked(profileID), ErrAbandoned
	}

	if submitErr != nil {
		// The optimistic turn is retained so the answer is not lost.
		if retainErr := c.manager.RetainAnswer(ctx, profileID, turnID); retainErr != nil {
			c.logger.Warn("failed to retain answer after submit failure", "profile_id", profileID, "error", retainErr)
		}
		ps.busy = false
		ps.state = StateAwaitingAnswer
		c.logger.Warn("answer submission failed", "profile_id", profileID, "error", submitErr)
		c.recordTurns(profileID, turnID)
		c.publishLocked(profileID)
		return c.snapshotLocked(profileID), submitErr
	}

	if _, err := c.manager.ConfirmExchange(ctx, profileID, turnID, result.NextPrompt, result.IsComplete); err != nil {
		ps.busy = false
		ps.state = StateAwaitingAnswer
		return c.snapshotLocked(profileID), err
	}

	ps.busy = false
	if result.IsComplete {
		ps.state = StateCompleted
	} else {
		ps.state = StateAwaitingAnswer
	}
	c.recordTurns(profileID, turnID)
	c.publishLocked(profileID)
	return c.snapshotLocked(profileID), nil
}

// Finish fetches the final readiness result for a completed session and
// persists it. Idempotent: once a result is stored it is served from the
// session without another remote call.
func (c *Controller) Finish(ctx context.Context, profileID string, optIn bool) (Snapshot, error) {
	active := c.manager.Session(profileID)
	if !active.Active() {
		return c.State(profileID), session.ErrNoActiveSession
	}
	if active.Status != domain.StatusComplete {
		return c.State(profileID), ErrNotComplete
	}
	if active.Result != nil {
		return c.State(profileID), nil
	}

	_, epoch, err := c.enterBusy(profileID, StateCompleted)
	if err != nil {
		return c.State(profileID), err
	}

	result, completeErr := c.client.Complete(ctx, active.SessionID, optIn)

	c.mu.Lock()
	defer c.mu.Unlock()
	ps := c.profile(profileID)
	ps.busy = false

	if ps.epoch != epoch {
		return c.snapshotLocked(profileID), ErrAbandoned
	}
	if completeErr != nil {
		c.logger.Warn("session completion failed", "profile_id", profileID, "error", completeErr)
		return c.snapshotLocked(profileID), completeErr
	}

	if _, err := c.manager.SetResult(ctx, profileID, result); err != nil {
		return c.snapshotLocked(profileID), err
	}
	ps.state = StateCompleted
	c.publishLocked(profileID)
	return c.snapshotLocked(profileID), nil
}

// Reset abandons the current session from any state and returns to Idle.
// Any in-flight remote call for the profile resolves into a discard.
func (c *Controller) Reset(ctx context.Context, profileID string) error {
	c.mu.Lock()
	ps := c.profile(profileID)
	ps.epoch++
	ps.busy = false
	ps.state = StateIdle
	c.mu.Unlock()

	if err := c.manager.Reset(ctx, profileID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	c.publish(profileID)
	return nil
}

// Subscribe registers a listener for flow snapshots of one profile. The
// returned cancel function must be called to release the subscription.
// Slow listeners miss intermediate snapshots rather than blocking the flow.
func (c *Controller) Subscribe(profileID string) (<-chan Snapshot, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.subCounter++
	id := c.subCounter
	ch := make(chan Snapshot, 8)

	if _, ok := c.subscribers[profileID]; !ok {
		c.subscribers[profileID] = make(map[int64]chan Snapshot)
	}
	c.subscribers[profileID][id] = ch

	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if subs, ok := c.subscribers[profileID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(c.subscribers, profileID)
			}
		}
	}
	return ch, cancel
}

// enterBusy transitions the profile into an exclusive remote-call state.
func (c *Controller) enterBusy(profileID string, state State) (State, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ps := c.profile(profileID)
	if ps.busy {
		return ps.state, 0, ErrBusy
	}
	prev := ps.state
	if prev == "" {
		prev = StateIdle
	}
	ps.busy = true
	ps.state = state
	return prev, ps.epoch, nil
}

// settle clears the busy flag and sets the given state.
func (c *Controller) settle(profileID string, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps := c.profile(profileID)
	ps.busy = false
	ps.state = state
}

// profile returns the state record for a profile, creating it on first
// use. Caller must hold c.mu.
func (c *Controller) profile(profileID string) *profileState {
	ps, ok := c.profiles[profileID]
	if !ok {
		ps = &profileState{state: StateIdle}
		c.profiles[profileID] = ps
	}
	return ps
}

// snapshotLocked builds a snapshot. Caller must hold c.mu.
func (c *Controller) snapshotLocked(profileID string) Snapshot {
	ps := c.profile(profileID)
	state := ps.state
	if state == "" {
		state = StateIdle
	}
	return Snapshot{State: state, Session: c.manager.Session(profileID)}
}

// publish fans the current snapshot out to subscribers.
func (c *Controller) publish(profileID string) {
	c.mu.Lock()
	snap := c.snapshotLocked(profileID)
	c.mu.Unlock()
	c.fanOut(profileID, snap)
}

// publishLocked is publish for callers already holding c.mu.
func (c *Controller) publishLocked(profileID string) {
	c.fanOut(profileID, c.snapshotLocked(profileID))
}

func (c *Controller) fanOut(profileID string, snap Snapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers[profileID] {
		select {
		case ch <- snap:
		default:
		}
	}
}
