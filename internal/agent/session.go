package agent

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config holds everything needed to open a voice-agent channel
type Config struct {
	URL    string
	APIKey string

	TaskID string

	InputEncoding    string
	InputSampleRate  int
	OutputEncoding   string
	OutputSampleRate int

	ListenModel string
	SpeakModel  string

	ThinkProvider string
	ThinkModel    string
	ThinkURL      string
	ThinkAPIKey   string
	SystemPrompt  string

	Greeting string

	WelcomeTimeout  time.Duration
	SettingsTimeout time.Duration
	ReadyTimeout    time.Duration
}

// Events is the callback surface a session owner supplies. Audio and
// text arriving from the agent are dispatched through it; every inbound
// message, matched or not, also passes through OnProtocolEvent.
type Events interface {
	OnAgentAudio(audio []byte)
	OnConversationText(role, content string)
	OnAgentThinking(content string)
	OnProtocolEvent(msgType string, raw []byte)
	OnSessionError(err error)
}

// Session states
const (
	stateIdle int32 = iota
	stateConnecting
	stateAwaitingWelcome
	stateSettingsSent
	stateAwaitingAck
	stateReady
	stateClosed
)

// Session is one duplex channel to the voice-agent endpoint. Start
// drives the handshake; the receive loop runs until Stop or transport
// failure. Callers synchronize with the receive loop only through the
// readiness and closed channels.
type Session struct {
	cfg    Config
	events Events
	logger *zap.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	state atomic.Int32

	welcomeCh chan struct{}
	appliedCh chan struct{}
	ready     chan struct{}
	closed    chan struct{}

	welcomeOnce sync.Once
	appliedOnce sync.Once
	closeOnce   sync.Once

	audioChunksSent atomic.Int64
	audioBytesSent  atomic.Int64
	audioChunksRecv atomic.Int64
	audioBytesRecv  atomic.Int64
	messagesRecv    atomic.Int64
	audioDropped    atomic.Int64

	startedAt time.Time
}

func NewSession(cfg Config, events Events, logger *zap.Logger) *Session {
	return &Session{
		cfg:       cfg,
		events:    events,
		logger:    logger,
		welcomeCh: make(chan struct{}),
		appliedCh: make(chan struct{}),
		ready:     make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

// Start opens the channel and negotiates capabilities: wait for the
// welcome, send settings, wait for the acknowledgement, mark ready.
// Failure to reach ready within the timeouts closes the transport and
// returns an error; the call cannot proceed without a ready agent.
func (s *Session) Start() error {
	s.state.Store(stateConnecting)
	s.startedAt = time.Now()

	header := http.Header{}
	if s.cfg.APIKey != "" {
		header.Set("Authorization", "token "+s.cfg.APIKey)
	}

	conn, _, err := websocket.DefaultDialer.Dial(s.cfg.URL, header)
	if err != nil {
		s.state.Store(stateClosed)
		return fmt.Errorf("failed to connect to voice agent: %w", err)
	}
	s.conn = conn
	s.state.Store(stateAwaitingWelcome)

	go s.readLoop()

	select {
	case <-s.welcomeCh:
	case <-s.closed:
		return fmt.Errorf("voice agent channel closed before welcome")
	case <-time.After(s.cfg.WelcomeTimeout):
		s.Stop()
		return fmt.Errorf("timed out waiting for voice agent welcome after %s", s.cfg.WelcomeTimeout)
	}

	if err := s.sendSettings(); err != nil {
		s.Stop()
		return fmt.Errorf("failed to send settings: %w", err)
	}
	s.state.Store(stateAwaitingAck)

	select {
	case <-s.appliedCh:
	case <-s.closed:
		return fmt.Errorf("voice agent channel closed before settings acknowledgement")
	case <-time.After(s.cfg.SettingsTimeout):
		s.Stop()
		return fmt.Errorf("timed out waiting for settings acknowledgement after %s", s.cfg.SettingsTimeout)
	}

	s.state.Store(stateReady)
	close(s.ready)

	s.logger.Info("voice agent session ready",
		zap.String("task_id", s.cfg.TaskID),
		zap.Duration("handshake", time.Since(s.startedAt)),
	)
	return nil
}

// SendAudio forwards caller audio upstream. If the session is not yet
// ready it waits a bounded time for readiness; on timeout the session
// is closed and the chunk is dropped silently. Audio sent while the
// agent is slow to ready is lost rather than crashing the call.
func (s *Session) SendAudio(audio []byte) error {
	select {
	case <-s.ready:
	case <-s.closed:
		s.audioDropped.Add(1)
		return nil
	case <-time.After(s.cfg.ReadyTimeout):
		s.logger.Warn("voice agent never became ready, closing session",
			zap.String("task_id", s.cfg.TaskID),
		)
		s.Stop()
		s.audioDropped.Add(1)
		return nil
	}

	select {
	case <-s.closed:
		s.audioDropped.Add(1)
		return nil
	default:
	}

	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.BinaryMessage, audio)
	s.writeMu.Unlock()
	if err != nil {
		s.Stop()
		return fmt.Errorf("failed to send audio: %w", err)
	}

	s.audioChunksSent.Add(1)
	s.audioBytesSent.Add(int64(len(audio)))
	return nil
}

// Ready reports whether the handshake has completed
func (s *Session) Ready() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Closed reports whether the session has shut down
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Stop is idempotent: it cancels the receive loop and closes the
// transport. Safe to call multiple times or before Start completes.
func (s *Session) Stop() {
	s.closeOnce.Do(func() {
		s.state.Store(stateClosed)
		close(s.closed)
		if s.conn != nil {
			s.conn.Close()
		}
		s.logger.Info("voice agent session closed",
			zap.String("task_id", s.cfg.TaskID),
			zap.Int64("audio_chunks_sent", s.audioChunksSent.Load()),
			zap.Int64("audio_chunks_received", s.audioChunksRecv.Load()),
			zap.Int64("messages_received", s.messagesRecv.Load()),
			zap.Int64("audio_dropped", s.audioDropped.Load()),
		)
	})
}

// Stats returns a snapshot of the session counters
func (s *Session) Stats() map[string]int64 {
	return map[string]int64{
		"audio_chunks_sent":     s.audioChunksSent.Load(),
		"audio_bytes_sent":      s.audioBytesSent.Load(),
		"audio_chunks_received": s.audioChunksRecv.Load(),
		"audio_bytes_received":  s.audioBytesRecv.Load(),
		"messages_received":     s.messagesRecv.Load(),
		"audio_dropped":         s.audioDropped.Load(),
	}
}

func (s *Session) sendSettings() error {
	s.state.Store(stateSettingsSent)

	var endpoint *thinkEndpoint
	if s.cfg.ThinkURL != "" {
		headers := map[string]string{}
		if s.cfg.ThinkAPIKey != "" {
			headers["Authorization"] = "Bearer " + s.cfg.ThinkAPIKey
		}
		endpoint = &thinkEndpoint{URL: s.cfg.ThinkURL, Headers: headers}
	}

	settings := settingsMessage{
		Type: MsgTypeSettings,
		Audio: audioSettings{
			Input:  audioFormat{Encoding: s.cfg.InputEncoding, SampleRate: s.cfg.InputSampleRate},
			Output: audioFormat{Encoding: s.cfg.OutputEncoding, SampleRate: s.cfg.OutputSampleRate},
		},
		Agent: agentSettings{
			Listen: listenSettings{Provider: providerRef{Type: "deepgram", Model: s.cfg.ListenModel}},
			Think: thinkSettings{
				Provider: providerRef{Type: s.cfg.ThinkProvider, Model: s.cfg.ThinkModel},
				Endpoint: endpoint,
				Prompt:   s.cfg.SystemPrompt,
			},
			Speak:    speakSettings{Provider: providerRef{Type: "deepgram", Model: s.cfg.SpeakModel}},
			Greeting: s.cfg.Greeting,
		},
	}

	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Session) readLoop() {
	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if !s.Closed() {
				s.logger.Warn("voice agent read error",
					zap.String("task_id", s.cfg.TaskID),
					zap.Error(err),
				)
				s.events.OnSessionError(err)
				s.Stop()
			}
			return
		}

		s.messagesRecv.Add(1)

		if messageType == websocket.BinaryMessage {
			s.audioChunksRecv.Add(1)
			s.audioBytesRecv.Add(int64(len(message)))
			s.events.OnAgentAudio(message)
			continue
		}

		s.dispatch(message)
	}
}

func (s *Session) dispatch(message []byte) {
	var base baseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		s.logger.Warn("unparseable voice agent message",
			zap.String("task_id", s.cfg.TaskID),
			zap.Error(err),
		)
		return
	}

	switch base.Type {
	case MsgTypeWelcome:
		s.welcomeOnce.Do(func() { close(s.welcomeCh) })

	case MsgTypeSettingsApplied:
		s.appliedOnce.Do(func() { close(s.appliedCh) })

	case MsgTypeConversationText:
		var ct conversationText
		if err := json.Unmarshal(message, &ct); err != nil {
			s.logger.Warn("bad conversation text message", zap.Error(err))
			break
		}
		if ct.Role == "user" || ct.Role == "assistant" {
			s.events.OnConversationText(ct.Role, ct.Content)
		}

	case MsgTypeAgentThinking:
		var at agentThinking
		if err := json.Unmarshal(message, &at); err != nil {
			s.logger.Warn("bad agent thinking message", zap.Error(err))
			break
		}
		s.events.OnAgentThinking(at.Content)

	case MsgTypeAgentAudioDone, MsgTypeAgentStartedSpeaking, MsgTypeUserStartedSpeaking:
		// informational

	case MsgTypeError:
		var em errorMessage
		if err := json.Unmarshal(message, &em); err == nil {
			s.logger.Error("voice agent reported error",
				zap.String("task_id", s.cfg.TaskID),
				zap.String("description", em.Description),
				zap.String("code", em.Code),
			)
			s.events.OnSessionError(fmt.Errorf("voice agent error: %s", em.Description))
		}

	default:
		s.logger.Debug("unhandled voice agent message",
			zap.String("type", base.Type),
		)
	}

	s.events.OnProtocolEvent(base.Type, message)
}
