package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// recordingEvents captures callback invocations for assertions
type recordingEvents struct {
	mu       sync.Mutex
	audio    [][]byte
	texts    []string
	thinking []string
	protocol []string
	errors   []error
}

func (r *recordingEvents) OnAgentAudio(audio []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio = append(r.audio, audio)
}

func (r *recordingEvents) OnConversationText(role, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, role+":"+content)
}

func (r *recordingEvents) OnAgentThinking(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thinking = append(r.thinking, content)
}

func (r *recordingEvents) OnProtocolEvent(msgType string, raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protocol = append(r.protocol, msgType)
}

func (r *recordingEvents) OnSessionError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *recordingEvents) snapshot() recordingEvents {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recordingEvents{
		audio:    append([][]byte(nil), r.audio...),
		texts:    append([]string(nil), r.texts...),
		thinking: append([]string(nil), r.thinking...),
		protocol: append([]string(nil), r.protocol...),
		errors:   append([]error(nil), r.errors...),
	}
}

var upgrader = websocket.Upgrader{}

// fakeAgentServer upgrades connections and runs script against each one
func fakeAgentServer(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		script(conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(url string) Config {
	return Config{
		URL:              url,
		TaskID:           "t1",
		InputEncoding:    "linear16",
		InputSampleRate:  16000,
		OutputEncoding:   "mulaw",
		OutputSampleRate: 8000,
		ListenModel:      "nova-2",
		SpeakModel:       "aura-2-thalia-en",
		ThinkProvider:    "open_ai",
		ThinkModel:       "gpt-4o-mini",
		Greeting:         "Hello!",
		WelcomeTimeout:   2 * time.Second,
		SettingsTimeout:  2 * time.Second,
		ReadyTimeout:     2 * time.Second,
	}
}

// handshake performs the server side of a successful negotiation
func handshake(t *testing.T, conn *websocket.Conn) {
	conn.WriteJSON(map[string]string{"type": MsgTypeWelcome})

	// the client must send settings before we acknowledge
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var settings settingsMessage
	if err := json.Unmarshal(msg, &settings); err != nil || settings.Type != MsgTypeSettings {
		t.Errorf("expected a settings message, got %s", string(msg))
		return
	}
	if settings.Audio.Output.Encoding != "mulaw" || settings.Audio.Output.SampleRate != 8000 {
		t.Errorf("unexpected output format: %+v", settings.Audio.Output)
	}

	conn.WriteJSON(map[string]string{"type": MsgTypeSettingsApplied})
}

func TestSession_StartHandshake(t *testing.T) {
	done := make(chan struct{})
	srv := fakeAgentServer(t, func(conn *websocket.Conn) {
		handshake(t, conn)
		<-done
	})
	defer srv.Close()
	defer close(done)

	events := &recordingEvents{}
	s := NewSession(testConfig(wsURL(srv)), events, zap.NewNop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	if !s.Ready() {
		t.Error("expected session to be ready after Start")
	}
}

func TestSession_WelcomeTimeout(t *testing.T) {
	srv := fakeAgentServer(t, func(conn *websocket.Conn) {
		// never send the welcome
		time.Sleep(500 * time.Millisecond)
	})
	defer srv.Close()

	cfg := testConfig(wsURL(srv))
	cfg.WelcomeTimeout = 100 * time.Millisecond

	s := NewSession(cfg, &recordingEvents{}, zap.NewNop())
	if err := s.Start(); err == nil {
		t.Fatal("expected Start to fail without a welcome")
	}
	if !s.Closed() {
		t.Error("expected session to be closed after handshake failure")
	}
}

func TestSession_SettingsTimeout(t *testing.T) {
	srv := fakeAgentServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(map[string]string{"type": MsgTypeWelcome})
		conn.ReadMessage()
		// never acknowledge the settings
		time.Sleep(500 * time.Millisecond)
	})
	defer srv.Close()

	cfg := testConfig(wsURL(srv))
	cfg.SettingsTimeout = 100 * time.Millisecond

	s := NewSession(cfg, &recordingEvents{}, zap.NewNop())
	if err := s.Start(); err == nil {
		t.Fatal("expected Start to fail without settings acknowledgement")
	}
	if !s.Closed() {
		t.Error("expected session to be closed after handshake failure")
	}
}

func TestSession_DispatchesInboundMessages(t *testing.T) {
	done := make(chan struct{})
	srv := fakeAgentServer(t, func(conn *websocket.Conn) {
		handshake(t, conn)
		conn.WriteJSON(map[string]string{"type": MsgTypeConversationText, "role": "user", "content": "Hello?"})
		conn.WriteJSON(map[string]string{"type": MsgTypeConversationText, "role": "assistant", "content": "Hi there."})
		conn.WriteJSON(map[string]string{"type": MsgTypeAgentThinking, "content": "considering"})
		conn.WriteMessage(websocket.BinaryMessage, []byte{0xFF, 0xFF, 0xFF})
		conn.WriteJSON(map[string]string{"type": "SomethingNew"})
		<-done
	})
	defer srv.Close()
	defer close(done)

	events := &recordingEvents{}
	s := NewSession(testConfig(wsURL(srv)), events, zap.NewNop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for {
		got := events.snapshot()
		if len(got.texts) == 2 && len(got.thinking) == 1 && len(got.audio) == 1 && len(got.protocol) >= 5 {
			if got.texts[0] != "user:Hello?" || got.texts[1] != "assistant:Hi there." {
				t.Errorf("unexpected conversation callbacks: %v", got.texts)
			}
			if got.thinking[0] != "considering" {
				t.Errorf("unexpected thinking callback: %v", got.thinking)
			}
			// unrecognized kinds still reach the generic event callback
			sawUnknown := false
			for _, p := range got.protocol {
				if p == "SomethingNew" {
					sawUnknown = true
				}
			}
			if !sawUnknown {
				t.Errorf("expected unknown message type in protocol events: %v", got.protocol)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for callbacks: %+v", &got)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSession_SendAudio(t *testing.T) {
	received := make(chan []byte, 1)
	done := make(chan struct{})
	srv := fakeAgentServer(t, func(conn *websocket.Conn) {
		handshake(t, conn)
		msgType, msg, err := conn.ReadMessage()
		if err == nil && msgType == websocket.BinaryMessage {
			received <- msg
		}
		<-done
	})
	defer srv.Close()
	defer close(done)

	s := NewSession(testConfig(wsURL(srv)), &recordingEvents{}, zap.NewNop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	chunk := []byte{1, 2, 3, 4}
	if err := s.SendAudio(chunk); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}

	select {
	case got := <-received:
		if len(got) != len(chunk) {
			t.Errorf("expected %d bytes, got %d", len(chunk), len(got))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the audio")
	}

	if s.Stats()["audio_chunks_sent"] != 1 {
		t.Errorf("expected 1 chunk sent, got %d", s.Stats()["audio_chunks_sent"])
	}
}

func TestSession_SendAudioFailsClosedWhenNeverReady(t *testing.T) {
	srv := fakeAgentServer(t, func(conn *websocket.Conn) {
		// connect but never negotiate
		time.Sleep(time.Second)
	})
	defer srv.Close()

	cfg := testConfig(wsURL(srv))
	cfg.ReadyTimeout = 50 * time.Millisecond

	s := NewSession(cfg, &recordingEvents{}, zap.NewNop())
	s.conn = nil // SendAudio must not touch the transport before ready

	if err := s.SendAudio([]byte{1}); err != nil {
		t.Fatalf("SendAudio should drop silently, got %v", err)
	}
	if !s.Closed() {
		t.Error("expected session to fail closed after the readiness wait timed out")
	}
	if s.Stats()["audio_dropped"] != 1 {
		t.Errorf("expected 1 dropped chunk, got %d", s.Stats()["audio_dropped"])
	}
}

func TestSession_StopIsIdempotent(t *testing.T) {
	done := make(chan struct{})
	srv := fakeAgentServer(t, func(conn *websocket.Conn) {
		handshake(t, conn)
		<-done
	})
	defer srv.Close()
	defer close(done)

	s := NewSession(testConfig(wsURL(srv)), &recordingEvents{}, zap.NewNop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	s.Stop()
	s.Stop()
	s.Stop()

	if !s.Closed() {
		t.Error("expected session to be closed")
	}
}

func TestSession_StopBeforeStart(t *testing.T) {
	s := NewSession(testConfig("ws://unused"), &recordingEvents{}, zap.NewNop())
	s.Stop()
	if !s.Closed() {
		t.Error("expected session to be closed")
	}
}
