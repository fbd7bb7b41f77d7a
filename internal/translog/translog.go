// Package translog records assessment transcripts as NDJSON files on
// disk, one file per profile and session, written off the request path.
package translog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robertcoach/assess/internal/domain"
)

// Config controls transcript logging.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Event is one logged exchange line.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	ProfileID string         `json:"profile_id"`
	SessionID string         `json:"session_id"`
	TurnID    string         `json:"turn_id,omitempty"`
	Speaker   domain.Speaker `json:"speaker"`
	Content   string         `json:"content"`
}

// TranscriptLogger appends events to per-session NDJSON files through a
// bounded queue. When the queue is full events are dropped with a
// warning rather than blocking the conversation.
type TranscriptLogger struct {
	enabled bool
	dir     string
	logger  *slog.Logger

	queue chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// NewTranscriptLogger creates the logger and starts its writer goroutine.
// A disabled config returns a logger whose Log is a no-op.
func NewTranscriptLogger(cfg Config, logger *slog.Logger) (*TranscriptLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tl := &TranscriptLogger{
		enabled: cfg.Enabled,
		dir:     cfg.Dir,
		logger:  logger,
		done:    make(chan struct{}),
	}
	if !cfg.Enabled {
		close(tl.done)
		return tl, nil
	}

	if cfg.Dir == "" {
		return nil, fmt.Errorf("transcript log dir is required when enabled")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript log dir: %w", err)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	tl.queue = make(chan Event, queueSize)

	go tl.run()
	return tl, nil
}

// Log enqueues one event. Never blocks.
func (tl *TranscriptLogger) Log(event Event) {
	if !tl.enabled {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case tl.queue <- event:
	default:
		tl.logger.Warn("transcript log queue full, dropping event",
			"profile_id", event.ProfileID,
			"session_id", event.SessionID)
	}
}

// LogTurn is a convenience wrapper for a transcript turn.
func (tl *TranscriptLogger) LogTurn(profileID, sessionID string, turn domain.Turn) {
	tl.Log(Event{
		Timestamp: turn.Timestamp,
		ProfileID: profileID,
		SessionID: sessionID,
		TurnID:    turn.ID,
		Speaker:   turn.Speaker,
		Content:   turn.Content,
	})
}

// Close drains remaining events and stops the writer goroutine.
func (tl *TranscriptLogger) Close() error {
	tl.closeOnce.Do(func() {
		if tl.enabled {
			close(tl.queue)
		}
	})
	<-tl.done
	return nil
}

func (tl *TranscriptLogger) run() {
	defer close(tl.done)
	for event := range tl.queue {
		if err := tl.write(event); err != nil {
			tl.logger.Warn("failed to write transcript event",
				"profile_id", event.ProfileID,
				"session_id", event.SessionID,
				"error", err)
		}
	}
}

func (tl *TranscriptLogger) write(event Event) error {
	profileDir := filepath.Join(tl.dir, sanitize(event.ProfileID))
	if err := os.MkdirAll(profileDir, 0755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	path := filepath.Join(profileDir, sanitize(event.SessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open transcript file: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transcript event: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append transcript line: %w", err)
	}
	return nil
}

// sanitize keeps identifiers safe for use as path segments.
func sanitize(s string) string {
	if s == "" {
		return "unknown"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
