package translog

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/robertcoach/assess/internal/domain"
)

func TestTranscriptLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tl, err := NewTranscriptLogger(Config{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}
	defer func() { _ = tl.Close() }()

	turn := domain.NewTurn(domain.SpeakerUser, "we run everything by hand")
	tl.LogTurn("profile-1", "sess-1", turn)

	path := filepath.Join(dir, "profile-1", "sess-1.ndjson")
	line := waitForLogLine(t, path)
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.Content != "we run everything by hand" {
		t.Fatalf("unexpected content: %q", got.Content)
	}
	if got.Speaker != domain.SpeakerUser {
		t.Fatalf("unexpected speaker: %q", got.Speaker)
	}
	if got.TurnID != turn.ID {
		t.Fatalf("turn id = %q, want %q", got.TurnID, turn.ID)
	}
}

func TestTranscriptLoggerDisabledIsNoop(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tl, err := NewTranscriptLogger(Config{Enabled: false, Dir: dir}, slog.Default())
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}
	tl.LogTurn("profile-1", "sess-1", domain.NewTurn(domain.SpeakerUser, "ignored"))
	if err := tl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files, got %d entries", len(entries))
	}
}

func TestTranscriptLoggerCloseFlushesQueue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tl, err := NewTranscriptLogger(Config{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 64,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		tl.LogTurn("profile-1", "sess-1", domain.NewTurn(domain.SpeakerAssistant, "question"))
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "profile-1", "sess-1.ndjson"))
	if err != nil {
		t.Fatalf("reading transcript: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 10 {
		t.Fatalf("got %d lines, want 10", len(lines))
	}
}

func TestSanitizeReplacesUnsafeRunes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"profile-1", "profile-1"},
		{"../escape", "___escape"},
		{"a/b\\c", "a_b_c"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		if got := sanitize(tt.in); got != tt.want {
			t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
