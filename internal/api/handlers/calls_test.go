package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dialtone-ai/dialtone/internal/call"
	"github.com/dialtone-ai/dialtone/pkg/env"
	"github.com/dialtone-ai/dialtone/pkg/llm"
	"github.com/dialtone-ai/dialtone/pkg/store"
	"github.com/dialtone-ai/dialtone/pkg/telephony"
)

type stubTelephony struct {
	placed int
	digits []string
}

func (s *stubTelephony) PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (*telephony.CallRef, error) {
	s.placed++
	return &telephony.CallRef{Ref: "ref-1", Status: "in-progress"}, nil
}

func (s *stubTelephony) EndCall(ctx context.Context, callRef string) error { return nil }

func (s *stubTelephony) TransferCall(ctx context.Context, callRef, toNumber string) error {
	return nil
}

func (s *stubTelephony) SendDTMF(ctx context.Context, callRef, digits string) error {
	s.digits = append(s.digits, digits)
	return nil
}

type stubTaskStore struct{}

func (stubTaskStore) EnsureTask(ctx context.Context, taskID, phoneNumber, objective string) {}
func (stubTaskStore) UpdateStatus(ctx context.Context, taskID, status string)               {}
func (stubTaskStore) UpdateCallRef(ctx context.Context, taskID, callRef string)             {}
func (stubTaskStore) UpdateDuration(ctx context.Context, taskID string, seconds int)        {}
func (stubTaskStore) UpdateEndedAt(ctx context.Context, taskID string, endedAt time.Time)   {}
func (stubTaskStore) SaveTranscript(ctx context.Context, taskID string, transcript []store.TranscriptEntry) {
}
func (stubTaskStore) SaveConversation(ctx context.Context, taskID string, history []llm.ChatMessage) {
}

type stubResponder struct{}

func (stubResponder) StreamCompletion(ctx context.Context, system string, history []llm.ChatMessage) <-chan string {
	ch := make(chan string, 1)
	ch <- "Understood."
	close(ch)
	return ch
}

func newTestHandler(t *testing.T) (*Handler, *stubTelephony) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zap.NewNop()
	registry := call.NewRegistry()
	hub := call.NewHub(log)
	guard := call.NewGuard(call.GuardConfig{
		ActionCooldown:  2 * time.Second,
		DuplicateWindow: 10 * time.Second,
		MaxDTMFSends:    5,
		IVRBudget:       5 * time.Minute,
		PendingTimeout:  15 * time.Second,
	}, log)

	tel := &stubTelephony{}
	orch := call.NewOrchestrator(registry, hub, guard, tel, stubTaskStore{}, stubResponder{}, call.OrchestratorConfig{
		SystemPrompt: "You are a calling assistant.",
		CallerID:     "+15550001111",
	}, log)

	h := &Handler{
		cfg: &env.Config{
			TelephonyWebhookSecret: "webhook-secret",
		},
		logger:    log,
		orch:      orch,
		guard:     guard,
		hub:       hub,
		artifacts: store.NewArtifacts(t.TempDir()),
	}
	return h, tel
}

func newTestRouter(h *Handler) *gin.Engine {
	router := gin.New()
	calls := router.Group("/api/calls")
	{
		calls.POST("", h.StartCall)
		calls.GET("", h.ListCalls)
		calls.GET("/:task_id", h.GetCall)
		calls.GET("/:task_id/policy", h.GetCallPolicy)
		calls.POST("/:task_id/hangup", h.Hangup)
		calls.POST("/:task_id/dtmf", h.SendDTMF)
		calls.DELETE("/:task_id", h.StopCall)
		calls.GET("/:task_id/recording", h.GetRecording)
	}
	router.POST("/webhooks/telephony", h.TelephonyWebhook)
	return router
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStartCallRejectsBadPhone(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	w := doJSON(router, "POST", "/api/calls", map[string]string{
		"phone_number": "5550001111",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing country code, got %d", w.Code)
	}
}

func TestStartCallReturnsBinding(t *testing.T) {
	h, tel := newTestHandler(t)
	router := newTestRouter(h)

	w := doJSON(router, "POST", "/api/calls", map[string]string{
		"task_id":      "task-1",
		"phone_number": "+15550002222",
		"objective":    "confirm appointment",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if tel.placed != 1 {
		t.Fatalf("expected one placed call, got %d", tel.placed)
	}

	var resp StartCallResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.TaskID != "task-1" || resp.SessionID == "" || resp.CallRef != "ref-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	w = doJSON(router, "GET", "/api/calls/task-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for live call, got %d", w.Code)
	}
}

func TestActionOnUnknownTaskIsNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	w := doJSON(router, "POST", "/api/calls/missing/dtmf", map[string]string{
		"digits": "1234",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCooldownDenialIsStructured(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	w := doJSON(router, "POST", "/api/calls", map[string]string{
		"task_id":      "task-cd",
		"phone_number": "+15550003333",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("start call failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(router, "POST", "/api/calls/task-cd/dtmf", map[string]string{"digits": "1"})
	if w.Code != http.StatusOK {
		t.Fatalf("first dtmf should pass, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, "POST", "/api/calls/task-cd/dtmf", map[string]string{"digits": "2"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 within cooldown, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/problem+json") {
		t.Fatalf("expected problem+json, got %s", ct)
	}

	var problem struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &problem); err != nil {
		t.Fatalf("unmarshal problem: %v", err)
	}
	if problem.Code != "global_cooldown" {
		t.Fatalf("expected global_cooldown, got %q", problem.Code)
	}
}

func TestStopCallReleasesState(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	doJSON(router, "POST", "/api/calls", map[string]string{
		"task_id":      "task-stop",
		"phone_number": "+15550004444",
	})

	w := doJSON(router, "DELETE", "/api/calls/task-stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on stop, got %d", w.Code)
	}

	w = doJSON(router, "GET", "/api/calls/task-stop", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after teardown, got %d", w.Code)
	}
	w = doJSON(router, "GET", "/api/calls/task-stop/policy", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected policy state released, got %d", w.Code)
	}
}

func TestRecordingNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	w := doJSON(router, "GET", "/api/calls/task-none/recording", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without recording, got %d", w.Code)
	}
}

func TestListCallsValidatesLimit(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	w := doJSON(router, "GET", "/api/calls?limit=0", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for limit below range, got %d", w.Code)
	}
	w = doJSON(router, "GET", "/api/calls?limit=9001", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for limit above range, got %d", w.Code)
	}
}

func TestListCallsWithoutDatabase(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	w := doJSON(router, "GET", "/api/calls", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a database, got %d", w.Code)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	form := url.Values{}
	form.Set("CallSid", "ref-1")
	form.Set("Status", "completed")

	req := httptest.NewRequest("POST", "/webhooks/telephony", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Signature", "not-the-signature")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", w.Code)
	}
}
