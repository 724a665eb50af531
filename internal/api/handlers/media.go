package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dialtone-ai/dialtone/internal/agent"
	"github.com/dialtone-ai/dialtone/internal/call"
	"github.com/dialtone-ai/dialtone/pkg/audio"
	"github.com/dialtone-ai/dialtone/pkg/env"
	"github.com/dialtone-ai/dialtone/pkg/errors"
)

// audioLevelEvery throttles audio_level broadcasts to one per N
// inbound media chunks (roughly one per second at 20ms chunks).
const audioLevelEvery = 50

// mediaEnvelope is the tagged union the telephony media stream sends.
// The event field discriminates; key-sniffing stays out of the core.
type mediaEnvelope struct {
	Event     string `json:"event"`
	StreamSid string `json:"stream_sid,omitempty"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
}

var mediaUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// the media stream is provider-to-server, not browser traffic
		return true
	},
}

// mediaBridge holds the per-connection state of one telephony media leg
type mediaBridge struct {
	taskID        string
	conn          *websocket.Conn
	writeMu       sync.Mutex
	agent         *agent.Session
	agentEncoding string
	h             *Handler
	chunks        int
}

// MediaStream is the websocket endpoint the telephony provider streams
// call audio into. Inbound media chunks are recorded, upsampled and
// forwarded to the voice agent; agent audio flows back as media events.
func (h *Handler) MediaStream(c *gin.Context) {
	taskID := c.Query("task_id")
	if taskID == "" {
		errors.BadRequest(c, "task_id is required")
		return
	}

	conn, err := mediaUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade media stream",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		return
	}
	defer conn.Close()

	h.logger.Info("media stream connected", zap.String("task_id", taskID))

	bridge := &mediaBridge{
		taskID:        taskID,
		conn:          conn,
		agentEncoding: h.cfg.AgentOutputEncoding,
		h:             h,
	}
	defer bridge.teardown()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("media stream read error",
					zap.String("task_id", taskID),
					zap.Error(err),
				)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		if messageType != websocket.TextMessage {
			continue
		}

		var envelope mediaEnvelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			h.logger.Warn("unparseable media event",
				zap.String("task_id", taskID),
				zap.Error(err),
			)
			continue
		}

		switch envelope.Event {
		case "start":
			bridge.handleStart()
		case "media":
			bridge.handleMedia(envelope.Media.Payload)
		case "stop":
			bridge.handleStop()
			return
		default:
			h.logger.Debug("unhandled media event",
				zap.String("event", envelope.Event),
			)
		}
	}
}

func (b *mediaBridge) handleStart() {
	if b.agent != nil {
		return
	}

	session := agent.NewSession(agentConfig(b.h.cfg, b.taskID), b, b.h.logger)
	if err := session.Start(); err != nil {
		b.h.logger.Error("voice agent start failed, ending call",
			zap.String("task_id", b.taskID),
			zap.Error(err),
		)
		b.h.orch.StopCall(context.Background(), b.taskID, "agent_unavailable")
		b.conn.Close()
		return
	}
	b.agent = session
}

func (b *mediaBridge) handleMedia(payload string) {
	mulaw, err := audio.DecodeBase64Audio(payload)
	if err != nil {
		b.h.logger.Warn("bad media payload",
			zap.String("task_id", b.taskID),
			zap.Error(err),
		)
		return
	}

	if err := b.h.artifacts.AppendRecording(b.taskID, mulaw); err != nil {
		b.h.logger.Warn("failed to append recording",
			zap.String("task_id", b.taskID),
			zap.Error(err),
		)
	}

	pcm8k := audio.DecodeMuLawToPCM16(mulaw)

	b.chunks++
	if b.chunks%audioLevelEvery == 0 {
		b.h.hub.Broadcast(b.taskID, call.EventAudioLevel, map[string]interface{}{
			"rms": rmsLevel(pcm8k),
		})
	}

	if b.agent == nil {
		return
	}
	if err := b.agent.SendAudio(audio.Resample8kTo16k(pcm8k)); err != nil {
		b.h.logger.Warn("failed to forward audio to agent",
			zap.String("task_id", b.taskID),
			zap.Error(err),
		)
	}
}

func (b *mediaBridge) handleStop() {
	b.h.logger.Info("media stream stopped", zap.String("task_id", b.taskID))
	b.h.orch.StopCall(context.Background(), b.taskID, "media_stop")
}

func (b *mediaBridge) teardown() {
	if b.agent != nil {
		b.agent.Stop()
	}
}

// OnAgentAudio sends agent speech back down the telephony leg. The
// agent normally speaks mulaw at the line rate; linear16 output
// arrives at the agent's 16 kHz processing rate and is downsampled
// and transcoded before it goes on the wire.
func (b *mediaBridge) OnAgentAudio(audioBytes []byte) {
	if b.agentEncoding == "linear16" {
		audioBytes = audio.EncodePCM16ToMuLaw(audio.Resample16kTo8k(audioBytes))
	}
	for _, chunk := range audio.ChunkPCM(audioBytes, audio.DefaultChunkSize) {
		event := map[string]interface{}{
			"event": "media",
			"media": map[string]interface{}{
				"payload": audio.EncodeChunkToBase64(chunk),
			},
		}
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		b.writeMu.Lock()
		err = b.conn.WriteMessage(websocket.TextMessage, payload)
		b.writeMu.Unlock()
		if err != nil {
			b.h.logger.Warn("failed to send agent audio",
				zap.String("task_id", b.taskID),
				zap.Error(err),
			)
			return
		}
	}
}

func (b *mediaBridge) OnConversationText(role, content string) {
	speaker := "caller"
	if role == "assistant" {
		speaker = "agent"
	}
	b.h.orch.RecordTranscript(context.Background(), b.taskID, speaker, content)
}

func (b *mediaBridge) OnAgentThinking(content string) {
	b.h.orch.BroadcastThinking(b.taskID, content)
}

func (b *mediaBridge) OnProtocolEvent(msgType string, raw []byte) {
	b.h.logger.Debug("agent protocol event",
		zap.String("task_id", b.taskID),
		zap.String("type", msgType),
	)
}

func (b *mediaBridge) OnSessionError(err error) {
	b.h.logger.Error("voice agent session error",
		zap.String("task_id", b.taskID),
		zap.Error(err),
	)
}

func agentConfig(cfg *env.Config, taskID string) agent.Config {
	// a linear16-speaking agent produces audio at the 16 kHz processing
	// rate; mulaw output is already at the 8 kHz line rate
	outputRate := cfg.MediaSampleRate
	if cfg.AgentOutputEncoding == "linear16" {
		outputRate = cfg.MediaSampleRate * 2
	}
	return agent.Config{
		URL:              cfg.AgentURL,
		APIKey:           cfg.AgentAPIKey,
		TaskID:           taskID,
		InputEncoding:    "linear16",
		InputSampleRate:  cfg.MediaSampleRate * 2,
		OutputEncoding:   cfg.AgentOutputEncoding,
		OutputSampleRate: outputRate,
		ListenModel:      cfg.AgentListenModel,
		SpeakModel:       cfg.AgentSpeakModel,
		ThinkProvider:    cfg.ThinkProvider,
		ThinkModel:       cfg.ThinkModel,
		ThinkURL:         cfg.ThinkURL,
		ThinkAPIKey:      cfg.ThinkAPIKey,
		SystemPrompt:     cfg.AgentPrompt,
		Greeting:         cfg.AgentGreeting,
		WelcomeTimeout:   time.Duration(cfg.AgentWelcomeTimeoutMs) * time.Millisecond,
		SettingsTimeout:  time.Duration(cfg.AgentSettingsTimeoutMs) * time.Millisecond,
		ReadyTimeout:     time.Duration(cfg.AgentReadyTimeoutMs) * time.Millisecond,
	}
}

// rmsLevel computes the root-mean-square level of 16-bit PCM,
// normalized to 0..1.
func rmsLevel(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sum float64
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}
