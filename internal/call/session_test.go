package call

import (
	"testing"
	"time"
)

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()
	sess := r.CreateSession("task-1")

	if sess.Status != StatusPending {
		t.Fatalf("expected pending, got %s", sess.Status)
	}
	if sess.ID == "" {
		t.Fatal("expected a session identifier")
	}

	if err := r.SetStatus(sess.ID, StatusDialing); err != nil {
		t.Fatalf("dialing transition failed: %v", err)
	}
	if err := r.SetStatus(sess.ID, StatusActive); err != nil {
		t.Fatalf("active transition failed: %v", err)
	}

	got, ok := r.Get(sess.ID)
	if !ok {
		t.Fatal("session not found")
	}
	if got.StartedAt == nil {
		t.Fatal("expected started_at to be set on active")
	}

	if err := r.SetStatus(sess.ID, StatusEnded); err != nil {
		t.Fatalf("ended transition failed: %v", err)
	}
	got, _ = r.Get(sess.ID)
	if got.EndedAt == nil {
		t.Fatal("expected ended_at to be set on ended")
	}
}

func TestRegistry_StartedAtSetOnce(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := base
	r.now = func() time.Time { return now }

	sess := r.CreateSession("task-1")
	if err := r.SetStatus(sess.ID, StatusActive); err != nil {
		t.Fatalf("active transition failed: %v", err)
	}
	first, _ := r.Get(sess.ID)

	// a repeated active transition must not move started_at
	now = base.Add(5 * time.Second)
	if err := r.SetStatus(sess.ID, StatusActive); err != nil {
		t.Fatalf("repeated active transition should be a no-op: %v", err)
	}
	second, _ := r.Get(sess.ID)

	if !first.StartedAt.Equal(*second.StartedAt) {
		t.Errorf("started_at changed: %v -> %v", first.StartedAt, second.StartedAt)
	}
}

func TestRegistry_MonotonicTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []Status
		last    Status
		wantErr bool
	}{
		{"forward path", []Status{StatusDialing, StatusActive}, StatusEnded, false},
		{"backwards denied", []Status{StatusActive}, StatusDialing, true},
		{"failed from pending", nil, StatusFailed, false},
		{"failed from active", []Status{StatusDialing, StatusActive}, StatusFailed, false},
		{"nothing after ended", []Status{StatusDialing, StatusActive, StatusEnded}, StatusActive, true},
		{"nothing after failed", []Status{StatusFailed}, StatusActive, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			sess := r.CreateSession("task-1")
			for _, s := range tt.path {
				if err := r.SetStatus(sess.ID, s); err != nil {
					t.Fatalf("setup transition to %s failed: %v", s, err)
				}
			}
			err := r.SetStatus(sess.ID, tt.last)
			if tt.wantErr && err == nil {
				t.Errorf("expected transition to %s to be rejected", tt.last)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRegistry_DurationSeconds(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := base
	r.now = func() time.Time { return now }

	sess := r.CreateSession("task-1")
	if got := r.DurationSeconds(sess.ID); got != 0 {
		t.Errorf("expected 0 before start, got %d", got)
	}

	r.SetStatus(sess.ID, StatusActive)
	now = base.Add(42 * time.Second)
	r.SetStatus(sess.ID, StatusEnded)

	now = base.Add(5 * time.Minute)
	if got := r.DurationSeconds(sess.ID); got != 42 {
		t.Errorf("expected 42s, got %d", got)
	}
}

func TestRegistry_NoWritesAfterTerminal(t *testing.T) {
	r := NewRegistry()
	sess := r.CreateSession("task-1")
	r.SetStatus(sess.ID, StatusActive)
	r.SetStatus(sess.ID, StatusEnded)

	if err := r.AppendTranscriptTurn(sess.ID, "caller", "hello"); err == nil {
		t.Error("expected transcript append to be rejected after ended")
	}
	if err := r.AppendConversationMessage(sess.ID, "user", "hello"); err == nil {
		t.Error("expected conversation append to be rejected after ended")
	}
}

func TestRegistry_TranscriptOrdering(t *testing.T) {
	r := NewRegistry()
	sess := r.CreateSession("task-1")
	r.SetStatus(sess.ID, StatusActive)

	turns := []struct{ speaker, text string }{
		{"caller", "Hello?"},
		{"agent", "Hi, this is the assistant."},
		{"caller", "What do you want?"},
	}
	for _, turn := range turns {
		if err := r.AppendTranscriptTurn(sess.ID, turn.speaker, turn.text); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	got := r.DumpTranscript(sess.ID)
	if len(got) != len(turns) {
		t.Fatalf("expected %d turns, got %d", len(turns), len(got))
	}
	for i, turn := range turns {
		if got[i].Role != turn.speaker || got[i].Content != turn.text {
			t.Errorf("turn %d mismatch: got %s/%q", i, got[i].Role, got[i].Content)
		}
	}

	// dumps are snapshots, not views
	got[0].Content = "mutated"
	again := r.DumpTranscript(sess.ID)
	if again[0].Content != "Hello?" {
		t.Error("dump exposed internal state")
	}
}
