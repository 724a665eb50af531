package call

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeConn records written messages and can be told to fail
type fakeConn struct {
	messages  [][]byte
	deadlines []time.Time
	fail      bool
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if f.fail {
		return errors.New("write failed")
	}
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error {
	f.deadlines = append(f.deadlines, t)
	return nil
}

func TestHub_BroadcastDeliversToAllObservers(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := &fakeConn{}
	b := &fakeConn{}
	h.Connect("task-1", a)
	h.Connect("task-1", b)

	failures := h.Broadcast("task-1", EventCallStatus, map[string]interface{}{"status": "active"})
	if failures != 0 {
		t.Errorf("expected 0 failures, got %d", failures)
	}

	// each conn got the ack plus the broadcast
	for name, conn := range map[string]*fakeConn{"a": a, "b": b} {
		if len(conn.messages) != 2 {
			t.Fatalf("conn %s: expected 2 messages, got %d", name, len(conn.messages))
		}
		var ev Event
		if err := json.Unmarshal(conn.messages[1], &ev); err != nil {
			t.Fatalf("conn %s: invalid event JSON: %v", name, err)
		}
		if ev.Type != EventCallStatus {
			t.Errorf("conn %s: expected %s, got %s", name, EventCallStatus, ev.Type)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("conn %s: expected a timestamp", name)
		}
	}
}

func TestHub_FailingObserverIsIsolated(t *testing.T) {
	h := NewHub(zap.NewNop())
	healthy := &fakeConn{}
	failing := &fakeConn{fail: true}
	h.Connect("task-1", healthy)

	// the failing conn is registered directly to skip the ack write
	h.mu.Lock()
	h.topics["task-1"][failing] = true
	h.mu.Unlock()

	failures := h.Broadcast("task-1", EventCallStatus, map[string]interface{}{"status": "active"})
	if failures != 1 {
		t.Errorf("expected 1 failure, got %d", failures)
	}
	if len(healthy.messages) != 2 {
		t.Errorf("healthy observer missed the broadcast: %d messages", len(healthy.messages))
	}
	if h.ObserverCount("task-1") != 1 {
		t.Errorf("expected failing observer to be removed, count=%d", h.ObserverCount("task-1"))
	}
}

func TestHub_TopicsAreIndependent(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := &fakeConn{}
	b := &fakeConn{}
	h.Connect("task-1", a)
	h.Connect("task-2", b)

	h.Broadcast("task-1", EventTranscriptUpdate, map[string]interface{}{"text": "hi"})

	if len(a.messages) != 2 {
		t.Errorf("task-1 observer expected 2 messages, got %d", len(a.messages))
	}
	if len(b.messages) != 1 {
		t.Errorf("task-2 observer should only have the ack, got %d", len(b.messages))
	}
}

func TestHub_DisconnectIsIdempotent(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := &fakeConn{}
	h.Connect("task-1", a)

	h.Disconnect("task-1", a)
	h.Disconnect("task-1", a)
	h.Disconnect("missing-topic", a)

	if h.ObserverCount("task-1") != 0 {
		t.Error("expected no observers after disconnect")
	}
}

func TestHub_EveryWriteCarriesADeadline(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := &fakeConn{}
	h.Connect("task-1", a)

	before := time.Now()
	h.Broadcast("task-1", EventCallStatus, map[string]interface{}{"status": "active"})

	// the ack and the broadcast must each bound their write so one
	// stalled observer cannot wedge the hub
	if len(a.deadlines) != len(a.messages) {
		t.Fatalf("expected a deadline per write, got %d deadlines for %d writes", len(a.deadlines), len(a.messages))
	}
	for i, d := range a.deadlines {
		if !d.After(before) {
			t.Errorf("deadline %d not in the future: %v", i, d)
		}
	}
}

func TestHub_BroadcastToEmptyTopic(t *testing.T) {
	h := NewHub(zap.NewNop())
	if failures := h.Broadcast("nobody-listening", EventCallStatus, nil); failures != 0 {
		t.Errorf("expected 0 failures, got %d", failures)
	}
}
