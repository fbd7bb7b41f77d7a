package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{
		BaseURL:      srv.URL,
		AnswerHookID: "hook-1",
	}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(ClientConfig{}, nil); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

func TestStartEnvelopeShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "bare object nested session", body: `{"session":{"id":"s1"},"first_prompt":"Q1?"}`},
		{name: "bare object flattened", body: `{"session_id":"s1","first_prompt":"Q1?"}`},
		{name: "single element array", body: `[{"session":{"id":"s1"},"first_prompt":"Q1?"}]`},
		{name: "json wrapped array", body: `[{"json":{"session_id":"s1","first_prompt":"Q1?"}}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/webhook/session/start" {
					t.Errorf("path = %q", r.URL.Path)
				}
				var req map[string]any
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("decode request: %v", err)
				}
				if req["email"] != "a@b.com" || req["persona_hint"] != "CTO" {
					t.Errorf("request body = %v", req)
				}
				_, _ = w.Write([]byte(tt.body))
			})

			result, err := client.Start(context.Background(), "a@b.com", "CTO")
			if err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			if result.SessionID != "s1" {
				t.Errorf("SessionID = %q, want s1", result.SessionID)
			}
			if result.OpeningPrompt != "Q1?" {
				t.Errorf("OpeningPrompt = %q, want Q1?", result.OpeningPrompt)
			}
		})
	}
}

func TestStartErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		check   func(t *testing.T, err error)
	}{
		{
			name:   "non-2xx status",
			status: http.StatusBadGateway,
			body:   "upstream exploded",
			check: func(t *testing.T, err error) {
				var te *TransportError
				if !errors.As(err, &te) {
					t.Fatalf("expected TransportError, got %T: %v", err, err)
				}
				if te.StatusCode != http.StatusBadGateway {
					t.Errorf("StatusCode = %d", te.StatusCode)
				}
			},
		},
		{
			name:   "service validation rejection",
			status: http.StatusOK,
			body:   `{"status":"error","errors":["email is required"]}`,
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("expected ValidationError, got %T: %v", err, err)
				}
				if len(ve.Fields) != 1 || ve.Fields[0] != "email is required" {
					t.Errorf("Fields = %v", ve.Fields)
				}
			},
		},
		{
			name:   "unrecognized shape",
			status: http.StatusOK,
			body:   `"just a string"`,
			check: func(t *testing.T, err error) {
				var fe *FormatError
				if !errors.As(err, &fe) {
					t.Fatalf("expected FormatError, got %T: %v", err, err)
				}
			},
		},
		{
			name:   "missing session id",
			status: http.StatusOK,
			body:   `{"first_prompt":"Q1?"}`,
			check: func(t *testing.T, err error) {
				var fe *FormatError
				if !errors.As(err, &fe) {
					t.Fatalf("expected FormatError, got %T: %v", err, err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Start(context.Background(), "a@b.com", "CTO")
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)
		})
	}
}

func TestSubmitAnswerHitsHookPath(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		want := "/webhook/hook-1/session/s1/answer"
		if r.URL.Path != want {
			t.Errorf("path = %q, want %q", r.URL.Path, want)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["answer"] != "My answer" {
			t.Errorf("answer = %q", req["answer"])
		}
		_, _ = w.Write([]byte(`{"next_prompt":"Q2?","is_complete":false}`))
	})

	result, err := client.SubmitAnswer(context.Background(), "s1", "My answer")
	if err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}
	if result.NextPrompt != "Q2?" || result.IsComplete {
		t.Errorf("result = %+v", result)
	}
}

func TestSubmitAnswerCompletionVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		body         string
		wantComplete bool
		wantPrompt   string
	}{
		{
			name:         "explicit flag false",
			body:         `{"next_prompt":"Q2?","is_complete":false}`,
			wantComplete: false,
			wantPrompt:   "Q2?",
		},
		{
			name:         "explicit flag true",
			body:         `{"is_complete":true}`,
			wantComplete: true,
		},
		{
			name:         "reply_text alias",
			body:         `{"reply_text":"Q2?","is_complete":false}`,
			wantComplete: false,
			wantPrompt:   "Q2?",
		},
		{
			name:         "session_status answered",
			body:         `{"session_status":"answered"}`,
			wantComplete: true,
		},
		{
			name:         "session_status in_progress",
			body:         `{"reply_text":"Q3?","session_status":"in_progress"}`,
			wantComplete: false,
			wantPrompt:   "Q3?",
		},
		{
			name:         "nested current_state answered",
			body:         `{"current_state":"{\"status\":\"answered\"}"}`,
			wantComplete: true,
		},
		{
			name:         "nested current_state in progress",
			body:         `{"next_prompt":"Q2?","current_state":"{\"status\":\"in_progress\"}"}`,
			wantComplete: false,
			wantPrompt:   "Q2?",
		},
		{
			name:         "current_state as raw object",
			body:         `{"current_state":{"status":"answered"}}`,
			wantComplete: true,
		},
		{
			name:         "repairable current_state",
			body:         `{"current_state":"{status: 'answered'}"}`,
			wantComplete: true,
		},
		{
			name:         "garbage current_state defaults to not complete",
			body:         `{"next_prompt":"Q2?","current_state":"%%%%"}`,
			wantComplete: false,
			wantPrompt:   "Q2?",
		},
		{
			name:         "explicit flag wins over nested state",
			body:         `{"is_complete":false,"current_state":"{\"status\":\"answered\"}"}`,
			wantComplete: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			result, err := client.SubmitAnswer(context.Background(), "s1", "answer")
			if err != nil {
				t.Fatalf("SubmitAnswer failed: %v", err)
			}
			if result.IsComplete != tt.wantComplete {
				t.Errorf("IsComplete = %v, want %v", result.IsComplete, tt.wantComplete)
			}
			if result.NextPrompt != tt.wantPrompt {
				t.Errorf("NextPrompt = %q, want %q", result.NextPrompt, tt.wantPrompt)
			}
		})
	}
}

func TestComplete(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webhook/session/complete" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["session_id"] != "s1" || req["opt_in"] != true {
			t.Errorf("request body = %v", req)
		}
		_, _ = w.Write([]byte(`[{
			"readiness_score": 72,
			"roi_estimate": {"estimated_dollars": 42000, "annual_hours_saved": 520, "team_efficiency_gain": "23%"},
			"summary_html": "<p>Solid start.</p>"
		}]`))
	})

	result, err := client.Complete(context.Background(), "s1", true)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if result.ReadinessScore != 72 {
		t.Errorf("ReadinessScore = %v, want 72", result.ReadinessScore)
	}
	if result.ROIEstimate.EstimatedDollars != 42000 {
		t.Errorf("EstimatedDollars = %v", result.ROIEstimate.EstimatedDollars)
	}
	if result.SummaryHTML != "<p>Solid start.</p>" {
		t.Errorf("SummaryHTML = %q", result.SummaryHTML)
	}
}

func TestCompleteStringROI(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"readiness_score":55,"roi_estimate":"about $30k/year","summary_html":"<p>ok</p>"}`))
	})

	result, err := client.Complete(context.Background(), "s1", false)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if result.ROIEstimate.Description != "about $30k/year" {
		t.Errorf("Description = %q", result.ROIEstimate.Description)
	}
}

func TestCompleteMissingFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		body        string
		wantMissing []string
	}{
		{
			name:        "missing score",
			body:        `{"roi_estimate":"x","summary_html":"<p>ok</p>"}`,
			wantMissing: []string{"readiness_score"},
		},
		{
			name:        "missing summary",
			body:        `{"readiness_score":70,"roi_estimate":"x"}`,
			wantMissing: []string{"summary_html"},
		},
		{
			name:        "missing everything",
			body:        `{}`,
			wantMissing: []string{"readiness_score", "roi_estimate", "summary_html"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Complete(context.Background(), "s1", false)
			var ie *IncompleteResponseError
			if !errors.As(err, &ie) {
				t.Fatalf("expected IncompleteResponseError, got %T: %v", err, err)
			}
			if strings.Join(ie.Missing, ",") != strings.Join(tt.wantMissing, ",") {
				t.Errorf("Missing = %v, want %v", ie.Missing, tt.wantMissing)
			}
		})
	}
}
