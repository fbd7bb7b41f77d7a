package webhook

import (
	"encoding/json"
	"testing"
)

func TestUnwrapEnvelope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		raw          string
		wantEnvelope string
		wantValue    string
		wantMiss     bool
	}{
		{
			name:         "bare object",
			raw:          `{"session_id":"s1","first_prompt":"Q1?"}`,
			wantEnvelope: "object",
			wantValue:    "s1",
		},
		{
			name:         "single element array",
			raw:          `[{"session_id":"s1","first_prompt":"Q1?"}]`,
			wantEnvelope: "array",
			wantValue:    "s1",
		},
		{
			name:         "json wrapped array",
			raw:          `[{"json":{"session_id":"s1","first_prompt":"Q1?"}}]`,
			wantEnvelope: "wrapped_array",
			wantValue:    "s1",
		},
		{
			name:         "multi element array uses first",
			raw:          `[{"session_id":"s1"},{"session_id":"s2"}]`,
			wantEnvelope: "array",
			wantValue:    "s1",
		},
		{name: "empty array", raw: `[]`, wantMiss: true},
		{name: "scalar", raw: `42`, wantMiss: true},
		{name: "string", raw: `"nope"`, wantMiss: true},
		{name: "invalid json", raw: `{broken`, wantMiss: true},
		{name: "array of scalars", raw: `[1,2,3]`, wantMiss: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, envelope, ok := unwrapEnvelope([]byte(tt.raw))
			if tt.wantMiss {
				if ok {
					t.Fatalf("expected no match, got envelope %q", envelope)
				}
				return
			}
			if !ok {
				t.Fatal("expected a match")
			}
			if envelope != tt.wantEnvelope {
				t.Errorf("envelope = %q, want %q", envelope, tt.wantEnvelope)
			}

			var decoded struct {
				SessionID string `json:"session_id"`
			}
			if err := json.Unmarshal(payload, &decoded); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			if decoded.SessionID != tt.wantValue {
				t.Errorf("session_id = %q, want %q", decoded.SessionID, tt.wantValue)
			}
		})
	}
}

func TestAllEnvelopesNormalizeEqually(t *testing.T) {
	t.Parallel()

	// The same logical payload wrapped three ways must come out identical.
	shapes := []string{
		`{"session":{"id":"s1"},"first_prompt":"Q1?"}`,
		`[{"session":{"id":"s1"},"first_prompt":"Q1?"}]`,
		`[{"json":{"session":{"id":"s1"},"first_prompt":"Q1?"}}]`,
	}

	for _, shape := range shapes {
		payload, envelope, ok := unwrapEnvelope([]byte(shape))
		if !ok {
			t.Fatalf("shape %q did not match", shape)
		}
		var decoded startPayload
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("decode via %s: %v", envelope, err)
		}
		if decoded.sessionID() != "s1" {
			t.Errorf("envelope %s: session id = %q, want s1", envelope, decoded.sessionID())
		}
		if decoded.FirstPrompt != "Q1?" {
			t.Errorf("envelope %s: first prompt = %q, want Q1?", envelope, decoded.FirstPrompt)
		}
	}
}

func TestFieldComplaintShapes(t *testing.T) {
	t.Parallel()

	var plain fieldComplaints
	if err := json.Unmarshal([]byte(`["email is required","persona too short"]`), &plain); err != nil {
		t.Fatalf("plain strings: %v", err)
	}
	if len(plain) != 2 || plain[0] != "email is required" {
		t.Errorf("plain = %v", plain)
	}

	var structured fieldComplaints
	data := `[{"field":"email","message":"is required"},{"message":"persona too short"}]`
	if err := json.Unmarshal([]byte(data), &structured); err != nil {
		t.Fatalf("structured: %v", err)
	}
	if len(structured) != 2 || structured[0] != "email: is required" {
		t.Errorf("structured = %v", structured)
	}

	var unknown fieldComplaints
	if err := json.Unmarshal([]byte(`{"oops":true}`), &unknown); err != nil {
		t.Fatalf("unknown shape should not error: %v", err)
	}
	if len(unknown) != 0 {
		t.Errorf("unknown = %v, want empty", unknown)
	}
}
