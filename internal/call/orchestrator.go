package call

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dialtone-ai/dialtone/pkg/audio"
	"github.com/dialtone-ai/dialtone/pkg/llm"
	"github.com/dialtone-ai/dialtone/pkg/store"
	"github.com/dialtone-ai/dialtone/pkg/telephony"
	"github.com/dialtone-ai/dialtone/pkg/utils"
)

// Telephony is the provider surface the orchestrator dials through
type Telephony interface {
	PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (*telephony.CallRef, error)
	EndCall(ctx context.Context, callRef string) error
	TransferCall(ctx context.Context, callRef, toNumber string) error
	SendDTMF(ctx context.Context, callRef, digits string) error
}

// TaskStore persists task state; all writes are best-effort
type TaskStore interface {
	EnsureTask(ctx context.Context, taskID, phoneNumber, objective string)
	UpdateStatus(ctx context.Context, taskID, status string)
	UpdateCallRef(ctx context.Context, taskID, callRef string)
	UpdateDuration(ctx context.Context, taskID string, seconds int)
	UpdateEndedAt(ctx context.Context, taskID string, endedAt time.Time)
	SaveTranscript(ctx context.Context, taskID string, transcript []store.TranscriptEntry)
	SaveConversation(ctx context.Context, taskID string, history []llm.ChatMessage)
}

// Responder produces agent replies; it never errors, falling back to a
// filler stream when every provider fails
type Responder interface {
	StreamCompletion(ctx context.Context, system string, history []llm.ChatMessage) <-chan string
}

// DeniedError wraps an admission-policy denial so callers can
// distinguish it from not-found and transport errors.
type DeniedError struct {
	Decision Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("action denied: %s (%s)", e.Decision.Message, e.Decision.Code)
}

// AsDenied unwraps a DeniedError if err is one
func AsDenied(err error) (*DeniedError, bool) {
	de, ok := err.(*DeniedError)
	return de, ok
}

// liveCall binds a task to its running session and provider reference
type liveCall struct {
	SessionID string
	CallRef   string
}

// Orchestrator coordinates the call lifecycle: it creates sessions,
// drives status transitions, executes policy-gated operator actions
// against the telephony provider, and mirrors everything to observers
// through the hub.
type Orchestrator struct {
	registry *Registry
	hub      *Hub
	guard    *Guard
	tel      Telephony
	tasks    TaskStore
	llm      Responder
	logger   *zap.Logger

	systemPrompt string
	callerID     string
	callbackURL  string
	streamURL    string

	mu       sync.Mutex
	calls    map[string]liveCall
	finished map[string]string
}

// OrchestratorConfig carries the dial-out settings
type OrchestratorConfig struct {
	SystemPrompt string
	CallerID     string
	CallbackURL  string
	StreamURL    string
}

func NewOrchestrator(
	registry *Registry,
	hub *Hub,
	guard *Guard,
	tel Telephony,
	tasks TaskStore,
	responder Responder,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		registry:     registry,
		hub:          hub,
		guard:        guard,
		tel:          tel,
		tasks:        tasks,
		llm:          responder,
		logger:       logger,
		systemPrompt: cfg.SystemPrompt,
		callerID:     cfg.CallerID,
		callbackURL:  cfg.CallbackURL,
		streamURL:    cfg.StreamURL,
		calls:        make(map[string]liveCall),
		finished:     make(map[string]string),
	}
}

// StartCall creates a session for the task, dials out through the
// telephony provider and transitions the session to active. Returns
// the session identifier and the provider call reference.
func (o *Orchestrator) StartCall(ctx context.Context, taskID, phoneNumber, objective string) (string, string, error) {
	// reserve the task slot before the blocking dial so a concurrent
	// StartCall for the same task fails fast instead of double-dialing
	o.mu.Lock()
	if _, exists := o.calls[taskID]; exists {
		o.mu.Unlock()
		return "", "", fmt.Errorf("task %s already has a live call", taskID)
	}
	o.calls[taskID] = liveCall{}
	o.mu.Unlock()

	sess := o.registry.CreateSession(taskID)
	o.mu.Lock()
	o.calls[taskID] = liveCall{SessionID: sess.ID}
	o.mu.Unlock()

	o.guard.EnsureTask(taskID)
	o.tasks.EnsureTask(ctx, taskID, phoneNumber, objective)

	o.setStatus(ctx, taskID, sess.ID, StatusDialing, "")

	ref, err := o.tel.PlaceCall(ctx, telephony.PlaceCallRequest{
		To:          phoneNumber,
		CallerID:    o.callerID,
		CallbackURL: o.callbackURL,
		StreamURL:   o.streamURL,
	})
	if err != nil {
		o.logger.Error("failed to place call",
			zap.String("task_id", taskID),
			zap.String("to", utils.MaskPhoneNumber(phoneNumber)),
			zap.Error(err),
		)
		o.setStatus(ctx, taskID, sess.ID, StatusFailed, err.Error())
		o.mu.Lock()
		delete(o.calls, taskID)
		o.mu.Unlock()
		o.registry.Remove(sess.ID)
		o.guard.CleanupTask(taskID)
		return "", "", fmt.Errorf("failed to place call: %w", err)
	}

	o.mu.Lock()
	o.calls[taskID] = liveCall{SessionID: sess.ID, CallRef: ref.Ref}
	o.mu.Unlock()

	o.tasks.UpdateCallRef(ctx, taskID, ref.Ref)
	o.setStatus(ctx, taskID, sess.ID, StatusActive, "")

	o.logger.Info("call started",
		zap.String("task_id", taskID),
		zap.String("session_id", sess.ID),
		zap.String("call_ref", ref.Ref),
	)
	return sess.ID, ref.Ref, nil
}

// StopCall ends the task's session and tears down the task binding.
// It is the ungated teardown path used by media-stop, webhook and
// failure handling; operator hangups go through Hangup.
func (o *Orchestrator) StopCall(ctx context.Context, taskID, reason string) error {
	o.mu.Lock()
	lc, ok := o.calls[taskID]
	if ok {
		delete(o.calls, taskID)
		o.finished[taskID] = lc.SessionID
	}
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("no live call for task %s", taskID)
	}

	duration := o.registry.DurationSeconds(lc.SessionID)
	if err := o.registry.SetStatus(lc.SessionID, StatusEnded); err != nil {
		o.logger.Warn("failed to mark session ended",
			zap.String("session_id", lc.SessionID),
			zap.Error(err),
		)
	} else {
		duration = o.registry.DurationSeconds(lc.SessionID)
	}

	o.guard.MarkEnded(taskID, reason)
	o.tasks.UpdateStatus(ctx, taskID, string(StatusEnded))
	o.tasks.UpdateDuration(ctx, taskID, duration)
	o.tasks.UpdateEndedAt(ctx, taskID, time.Now())

	o.hub.Broadcast(taskID, EventCallStatus, map[string]interface{}{
		"status":           string(StatusEnded),
		"reason":           reason,
		"duration_seconds": duration,
	})

	if transcript := o.registry.DumpTranscript(lc.SessionID); len(transcript) > 0 {
		o.tasks.SaveTranscript(ctx, taskID, transcript)
		o.hub.Broadcast(taskID, EventAnalysisReady, map[string]interface{}{
			"turns":            len(transcript),
			"duration_seconds": duration,
		})
	}

	o.logger.Info("call stopped",
		zap.String("task_id", taskID),
		zap.String("reason", reason),
		zap.Int("duration_seconds", duration),
	)
	return nil
}

// Hangup is the operator-facing hangup: it consults the admission
// policy, ends the provider leg and tears the call down.
func (o *Orchestrator) Hangup(ctx context.Context, taskID string) error {
	lc, sess, err := o.lookup(taskID)
	if err != nil {
		return err
	}

	decision := o.guard.AuthorizeHangup(taskID, string(sess.Status))
	if !decision.Allowed {
		return &DeniedError{Decision: decision}
	}

	if err := o.tel.EndCall(ctx, lc.CallRef); err != nil {
		o.guard.RecordActionFailure(taskID, err)
		return fmt.Errorf("failed to end call: %w", err)
	}
	o.guard.RecordActionSuccess(taskID)

	return o.StopCall(ctx, taskID, "hangup")
}

// SendDTMF plays keypad digits into the live call, gated by the
// admission policy.
func (o *Orchestrator) SendDTMF(ctx context.Context, taskID, digits string) error {
	lc, sess, err := o.lookup(taskID)
	if err != nil {
		return err
	}

	decision := o.guard.AuthorizeDTMF(taskID, string(sess.Status), digits)
	if !decision.Allowed {
		return &DeniedError{Decision: decision}
	}

	if err := o.tel.SendDTMF(ctx, lc.CallRef, digits); err != nil {
		o.guard.RecordActionFailure(taskID, err)
		return fmt.Errorf("failed to send digits: %w", err)
	}
	o.guard.RecordActionSuccess(taskID)

	o.hub.Broadcast(taskID, EventStrategyUpdate, map[string]interface{}{
		"action": "dtmf",
		"digits": digits,
	})
	return nil
}

// TransferCall redirects the live call to another number, gated by the
// admission policy, then tears the session down.
func (o *Orchestrator) TransferCall(ctx context.Context, taskID, toNumber string) error {
	lc, sess, err := o.lookup(taskID)
	if err != nil {
		return err
	}

	decision := o.guard.AuthorizeTransfer(taskID, string(sess.Status), toNumber)
	if !decision.Allowed {
		return &DeniedError{Decision: decision}
	}

	if err := o.tel.TransferCall(ctx, lc.CallRef, toNumber); err != nil {
		o.guard.RecordActionFailure(taskID, err)
		return fmt.Errorf("failed to transfer call: %w", err)
	}
	o.guard.RecordActionSuccess(taskID)

	o.hub.Broadcast(taskID, EventStrategyUpdate, map[string]interface{}{
		"action": "transfer",
		"to":     utils.MaskPhoneNumber(toNumber),
	})
	return o.StopCall(ctx, taskID, "transferred")
}

// HandleUserUtterance appends the caller's utterance, obtains an agent
// reply using the accumulated conversation as context, records both
// turns and broadcasts the agent turn to observers.
func (o *Orchestrator) HandleUserUtterance(ctx context.Context, sessionID, text string) (string, error) {
	sess, ok := o.registry.Get(sessionID)
	if !ok {
		return "", fmt.Errorf("session %s not found", sessionID)
	}

	if err := o.registry.AppendTranscriptTurn(sessionID, "caller", text); err != nil {
		return "", err
	}
	if err := o.registry.AppendConversationMessage(sessionID, "user", text); err != nil {
		return "", err
	}

	history := o.registry.DumpConversation(sessionID)
	var reply strings.Builder
	var sentences audio.SentenceBuffer
	for token := range o.llm.StreamCompletion(ctx, o.systemPrompt, history) {
		reply.WriteString(token)
		// stream complete sentences to observers as they form
		if sentence := sentences.Add(token); sentence != "" {
			o.BroadcastThinking(sess.TaskID, sentence)
		}
	}
	if tail := sentences.Flush(); tail != "" {
		o.BroadcastThinking(sess.TaskID, tail)
	}
	agentText := strings.TrimSpace(reply.String())

	if err := o.registry.AppendTranscriptTurn(sessionID, "agent", agentText); err != nil {
		return "", err
	}
	if err := o.registry.AppendConversationMessage(sessionID, "assistant", agentText); err != nil {
		return "", err
	}

	o.tasks.SaveTranscript(ctx, sess.TaskID, o.registry.DumpTranscript(sessionID))
	o.tasks.SaveConversation(ctx, sess.TaskID, o.registry.DumpConversation(sessionID))

	o.hub.Broadcast(sess.TaskID, EventTranscriptUpdate, map[string]interface{}{
		"speaker": "agent",
		"text":    agentText,
	})
	return agentText, nil
}

// RecordTranscript appends an externally produced utterance (from the
// voice-agent leg) to the task's live session and mirrors it to
// observers. speaker is "caller" or "agent".
func (o *Orchestrator) RecordTranscript(ctx context.Context, taskID, speaker, text string) {
	o.mu.Lock()
	lc, ok := o.calls[taskID]
	o.mu.Unlock()
	if !ok {
		return
	}

	if err := o.registry.AppendTranscriptTurn(lc.SessionID, speaker, text); err != nil {
		o.logger.Warn("transcript append rejected",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		return
	}
	role := "user"
	if speaker == "agent" {
		role = "assistant"
	}
	if err := o.registry.AppendConversationMessage(lc.SessionID, role, text); err != nil {
		o.logger.Warn("conversation append rejected",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}

	o.tasks.SaveTranscript(ctx, taskID, o.registry.DumpTranscript(lc.SessionID))
	o.hub.Broadcast(taskID, EventTranscriptUpdate, map[string]interface{}{
		"speaker": speaker,
		"text":    text,
	})
}

// BroadcastThinking forwards incremental agent reasoning to observers.
// Thinking text is display-only and never recorded as transcript.
func (o *Orchestrator) BroadcastThinking(taskID, content string) {
	o.hub.Broadcast(taskID, EventAgentThinking, map[string]interface{}{
		"content": content,
	})
}

// SessionForTask returns the live session bound to a task
func (o *Orchestrator) SessionForTask(taskID string) (*Session, bool) {
	o.mu.Lock()
	lc, ok := o.calls[taskID]
	o.mu.Unlock()
	if !ok {
		return nil, false
	}
	return o.registry.Get(lc.SessionID)
}

// CallRefForTask returns the provider call reference for a task
func (o *Orchestrator) CallRefForTask(taskID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	lc, ok := o.calls[taskID]
	return lc.CallRef, ok
}

// StopAll tears down every live call. Used on server shutdown so no
// session is left dangling at the provider.
func (o *Orchestrator) StopAll(ctx context.Context, reason string) {
	o.mu.Lock()
	taskIDs := make([]string, 0, len(o.calls))
	for taskID := range o.calls {
		taskIDs = append(taskIDs, taskID)
	}
	o.mu.Unlock()

	for _, taskID := range taskIDs {
		if ref, ok := o.CallRefForTask(taskID); ok {
			if err := o.tel.EndCall(ctx, ref); err != nil {
				o.logger.Warn("failed to end call during shutdown",
					zap.String("task_id", taskID),
					zap.Error(err),
				)
			}
		}
		if err := o.StopCall(ctx, taskID, reason); err != nil {
			o.logger.Warn("failed to stop call during shutdown",
				zap.String("task_id", taskID),
				zap.Error(err),
			)
		}
	}
}

// TaskForCallRef resolves a provider call reference back to its task.
// Used by the status webhook, which only knows the provider's SID.
func (o *Orchestrator) TaskForCallRef(callRef string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for taskID, lc := range o.calls {
		if lc.CallRef == callRef {
			return taskID, true
		}
	}
	return "", false
}

// Cleanup releases the session and policy state for a fully torn-down
// call. Ended sessions are kept around for export until this is called.
func (o *Orchestrator) Cleanup(taskID string) {
	o.mu.Lock()
	sessionID, ok := o.finished[taskID]
	if ok {
		delete(o.finished, taskID)
	}
	o.mu.Unlock()

	if ok {
		o.registry.Remove(sessionID)
	}
	o.guard.CleanupTask(taskID)
}

func (o *Orchestrator) lookup(taskID string) (liveCall, *Session, error) {
	o.mu.Lock()
	lc, ok := o.calls[taskID]
	o.mu.Unlock()
	if !ok {
		return liveCall{}, nil, fmt.Errorf("no live call for task %s", taskID)
	}
	sess, ok := o.registry.Get(lc.SessionID)
	if !ok {
		return liveCall{}, nil, fmt.Errorf("session %s not found", lc.SessionID)
	}
	return lc, sess, nil
}

func (o *Orchestrator) setStatus(ctx context.Context, taskID, sessionID string, status Status, reason string) {
	if err := o.registry.SetStatus(sessionID, status); err != nil {
		o.logger.Warn("status transition rejected",
			zap.String("session_id", sessionID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return
	}
	o.tasks.UpdateStatus(ctx, taskID, string(status))

	data := map[string]interface{}{"status": string(status)}
	if reason != "" {
		data["reason"] = reason
	}
	o.hub.Broadcast(taskID, EventCallStatus, data)
}
