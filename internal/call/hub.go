package call

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event types delivered to observers
const (
	EventCallStatus       = "call_status"
	EventTranscriptUpdate = "transcript_update"
	EventAgentThinking    = "agent_thinking"
	EventStrategyUpdate   = "strategy_update"
	EventAudioLevel       = "audio_level"
	EventAnalysisReady    = "analysis_ready"
)

// Event is the wire shape delivered to every observer of a topic
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// ObserverConn is the subset of a websocket connection the hub needs
type ObserverConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// writeWait bounds every hub write so one backpressured observer
// cannot stall broadcasts for the rest.
const writeWait = 5 * time.Second

func writeWithDeadline(conn ObserverConn, payload []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub fans events out to observer connections keyed by topic (a task
// or session identifier). A connection belongs to one topic; a failed
// send removes the connection without disturbing the others.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[ObserverConn]bool
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[ObserverConn]bool),
		logger: logger,
	}
}

// Connect registers a connection under a topic and acknowledges it
func (h *Hub) Connect(topic string, conn ObserverConn) {
	h.mu.Lock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[ObserverConn]bool)
	}
	h.topics[topic][conn] = true
	h.mu.Unlock()

	ack, _ := json.Marshal(Event{
		Type:      "connected",
		Data:      map[string]interface{}{"topic": topic},
		Timestamp: time.Now().UTC(),
	})
	if err := writeWithDeadline(conn, ack); err != nil {
		h.Disconnect(topic, conn)
	}
}

// Disconnect removes a connection from a topic; no-op if absent
func (h *Hub) Disconnect(topic string, conn ObserverConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.topics, topic)
	}
}

// ObserverCount returns the number of live observers for a topic
func (h *Hub) ObserverCount(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// Broadcast serializes the event once and delivers it to every
// observer of the topic. A failing connection is dropped from the
// registry; delivery to the remaining connections proceeds. Returns
// the number of failed sends.
func (h *Hub) Broadcast(topic, eventType string, data interface{}) int {
	payload, err := json.Marshal(Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("failed to serialize event",
			zap.String("topic", topic),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.topics[topic]
	failures := 0
	for conn := range conns {
		if err := writeWithDeadline(conn, payload); err != nil {
			failures++
			delete(conns, conn)
			h.logger.Warn("dropping observer after send failure",
				zap.String("topic", topic),
				zap.Error(err),
			)
		}
	}
	if len(conns) == 0 {
		delete(h.topics, topic)
	}
	return failures
}
