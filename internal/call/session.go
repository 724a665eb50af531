package call

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dialtone-ai/dialtone/pkg/llm"
	"github.com/dialtone-ai/dialtone/pkg/store"
)

// Status is a call session lifecycle state
type Status string

const (
	StatusPending Status = "pending"
	StatusDialing Status = "dialing"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
	StatusFailed  Status = "failed"
)

// statusRank orders the forward lifecycle; StatusFailed is reachable
// from any non-terminal state.
var statusRank = map[Status]int{
	StatusPending: 0,
	StatusDialing: 1,
	StatusActive:  2,
	StatusEnded:   3,
	StatusFailed:  3,
}

// IsTerminal reports whether the status admits no further transitions
func (s Status) IsTerminal() bool {
	return s == StatusEnded || s == StatusFailed
}

// Session is one live or recently-ended call
type Session struct {
	ID           string
	TaskID       string
	Status       Status
	CreatedAt    time.Time
	StartedAt    *time.Time
	EndedAt      *time.Time
	Transcript   []store.TranscriptEntry
	Conversation []llm.ChatMessage
	Metadata     map[string]interface{}
}

// Registry owns the set of live call sessions. All mutation is
// serialized behind a single mutex; reads return snapshot copies so
// callers never observe concurrent writes.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// CreateSession registers a fresh pending session for a task
func (r *Registry) CreateSession(taskID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := &Session{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Status:    StatusPending,
		CreatedAt: r.now().UTC(),
		Metadata:  make(map[string]interface{}),
	}
	r.sessions[sess.ID] = sess
	return snapshot(sess)
}

// Get returns a snapshot of a session
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return snapshot(sess), true
}

// SetStatus transitions a session's status. Transitions are monotonic:
// a session never moves backwards, repeating the current status is a
// no-op, and failed is reachable from any non-terminal state.
// StartedAt is stamped on the first entry into active, EndedAt on
// entry into a terminal state.
func (r *Registry) SetStatus(sessionID string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if sess.Status == status {
		return nil
	}
	if sess.Status.IsTerminal() {
		return fmt.Errorf("session %s is already %s", sessionID, sess.Status)
	}
	if statusRank[status] < statusRank[sess.Status] {
		return fmt.Errorf("invalid status transition %s -> %s", sess.Status, status)
	}

	sess.Status = status
	now := r.now().UTC()
	if status == StatusActive && sess.StartedAt == nil {
		t := now
		sess.StartedAt = &t
	}
	if status.IsTerminal() && sess.EndedAt == nil {
		t := now
		sess.EndedAt = &t
	}
	return nil
}

// AppendTranscriptTurn appends a display transcript turn
func (r *Registry) AppendTranscriptTurn(sessionID, speaker, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if sess.Status.IsTerminal() {
		return fmt.Errorf("session %s is already %s", sessionID, sess.Status)
	}

	sess.Transcript = append(sess.Transcript, store.TranscriptEntry{
		Role:      speaker,
		Content:   text,
		Timestamp: r.now().UTC(),
	})
	return nil
}

// AppendConversationMessage appends a language-model context turn
func (r *Registry) AppendConversationMessage(sessionID, role, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if sess.Status.IsTerminal() {
		return fmt.Errorf("session %s is already %s", sessionID, sess.Status)
	}

	sess.Conversation = append(sess.Conversation, llm.ChatMessage{Role: role, Content: content})
	return nil
}

// DumpTranscript returns a read-only copy of the transcript
func (r *Registry) DumpTranscript(sessionID string) []store.TranscriptEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]store.TranscriptEntry, len(sess.Transcript))
	copy(out, sess.Transcript)
	return out
}

// DumpConversation returns a read-only copy of the conversation history
func (r *Registry) DumpConversation(sessionID string) []llm.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]llm.ChatMessage, len(sess.Conversation))
	copy(out, sess.Conversation)
	return out
}

// DurationSeconds returns (ended_at or now) - started_at in whole
// seconds, or 0 when the session never went active.
func (r *Registry) DurationSeconds(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok || sess.StartedAt == nil {
		return 0
	}
	end := r.now().UTC()
	if sess.EndedAt != nil {
		end = *sess.EndedAt
	}
	return int(end.Sub(*sess.StartedAt).Seconds())
}

// Remove deletes a session from the registry. Removal is always an
// explicit cleanup step, never a side effect of ending a call.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

func snapshot(sess *Session) *Session {
	cp := *sess
	cp.Transcript = append([]store.TranscriptEntry(nil), sess.Transcript...)
	cp.Conversation = append([]llm.ChatMessage(nil), sess.Conversation...)
	cp.Metadata = make(map[string]interface{}, len(sess.Metadata))
	for k, v := range sess.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}
