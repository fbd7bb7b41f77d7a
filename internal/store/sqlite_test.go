package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/robertcoach/assess/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()

	repo, err := NewSQLite(filepath.Join(t.TempDir(), "assess.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return repo
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	session := domain.NewSession("s1", "a@b.com", "CTO", "Q1?")
	user := domain.NewTurn(domain.SpeakerUser, "My answer")
	if err := session.AppendTurn(user); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	if err := repo.SaveSession(ctx, "profile-1", session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	loaded, err := repo.LoadSession(ctx, "profile-1")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected session, got nil")
	}
	if loaded.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", loaded.SessionID)
	}
	if loaded.Status != domain.StatusAwaitingAnswer {
		t.Errorf("Status = %q, want awaiting_answer", loaded.Status)
	}
	if len(loaded.Transcript) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(loaded.Transcript))
	}
	if loaded.Transcript[0].Speaker != domain.SpeakerAssistant || loaded.Transcript[0].Content != "Q1?" {
		t.Errorf("first turn = %+v", loaded.Transcript[0])
	}
	if loaded.Transcript[1].Speaker != domain.SpeakerUser || loaded.Transcript[1].Content != "My answer" {
		t.Errorf("second turn = %+v", loaded.Transcript[1])
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)

	session, err := repo.LoadSession(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if session != nil {
		t.Errorf("expected nil session, got %+v", session)
	}
}

func TestSaveOverwritesPreviousRecord(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	first := domain.NewSession("s1", "a@b.com", "CTO", "Q1?")
	if err := repo.SaveSession(ctx, "profile-1", first); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	second := domain.NewSession("s2", "c@d.com", "PM", "Q1 again?")
	if err := repo.SaveSession(ctx, "profile-1", second); err != nil {
		t.Fatalf("SaveSession (overwrite) failed: %v", err)
	}

	loaded, err := repo.LoadSession(ctx, "profile-1")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if loaded.SessionID != "s2" {
		t.Errorf("SessionID = %q, want s2 (old record must be replaced whole)", loaded.SessionID)
	}
	if len(loaded.Transcript) != 1 {
		t.Errorf("transcript length = %d, want 1", len(loaded.Transcript))
	}
}

func TestClearSession(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	session := domain.NewSession("s1", "a@b.com", "CTO", "Q1?")
	if err := repo.SaveSession(ctx, "profile-1", session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := repo.ClearSession(ctx, "profile-1"); err != nil {
		t.Fatalf("ClearSession failed: %v", err)
	}

	loaded, err := repo.LoadSession(ctx, "profile-1")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil after clear, got %+v", loaded)
	}
}

func TestLoadCorruptRecords(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	s := repo.(*SQLiteStore)

	tests := []struct {
		name       string
		sessionID  string
		status     string
		transcript string
	}{
		{name: "invalid transcript json", sessionID: "s1", status: "awaiting_answer", transcript: "{not json"},
		{name: "empty session id", sessionID: "", status: "awaiting_answer", transcript: "[]"},
		{name: "unknown status", sessionID: "s1", status: "paused", transcript: "[]"},
		{
			name:       "user turn first",
			sessionID:  "s1",
			status:     "awaiting_answer",
			transcript: `[{"id":"t1","speaker":"user","content":"hi","timestamp":"2026-01-01T00:00:00Z"}]`,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profileID := "corrupt-" + tt.name
			_, err := s.db.ExecContext(ctx, `
				INSERT INTO assessment_sessions
					(profile_id, session_id, status, transcript_json, saved_at)
				VALUES (?, ?, ?, ?, ?)`,
				profileID, tt.sessionID, tt.status, tt.transcript, int64(i))
			if err != nil {
				t.Fatalf("seed corrupt row: %v", err)
			}

			session, err := repo.LoadSession(ctx, profileID)
			if !errors.Is(err, ErrCorruptRecord) {
				t.Errorf("expected ErrCorruptRecord, got %v", err)
			}
			if session != nil {
				t.Errorf("corrupt record must never yield a session, got %+v", session)
			}
		})
	}
}

func TestResultRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	session := domain.NewSession("s1", "a@b.com", "CTO", "Q1?")
	session.MarkComplete()
	session.Result = &domain.Result{
		ReadinessScore: 72,
		ROIEstimate: domain.ROIEstimate{
			EstimatedDollars:   42000,
			AnnualHoursSaved:   520,
			TeamEfficiencyGain: "23%",
		},
		SummaryHTML: "<p>Solid start.</p>",
	}

	if err := repo.SaveSession(ctx, "profile-1", session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	loaded, err := repo.LoadSession(ctx, "profile-1")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if loaded.Result == nil {
		t.Fatal("expected result to survive the round trip")
	}
	if loaded.Result.ReadinessScore != 72 {
		t.Errorf("ReadinessScore = %v, want 72", loaded.Result.ReadinessScore)
	}
	if loaded.Result.SummaryHTML != "<p>Solid start.</p>" {
		t.Errorf("SummaryHTML = %q", loaded.Result.SummaryHTML)
	}
}

func TestCleanupExpired(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	s := repo.(*SQLiteStore)

	stale := time.Now().Add(-48 * time.Hour).Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assessment_sessions
			(profile_id, session_id, status, transcript_json, saved_at)
		VALUES ('old', 's-old', 'awaiting_answer', '[]', ?)`, stale)
	if err != nil {
		t.Fatalf("seed stale row: %v", err)
	}

	fresh := domain.NewSession("s-new", "a@b.com", "CTO", "Q1?")
	if err := repo.SaveSession(ctx, "fresh", fresh); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	removed, err := repo.CleanupExpired(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	loaded, err := repo.LoadSession(ctx, "fresh")
	if err != nil || loaded == nil {
		t.Errorf("fresh session should survive cleanup (err=%v)", err)
	}
}
