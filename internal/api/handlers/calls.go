package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dialtone-ai/dialtone/internal/call"
	"github.com/dialtone-ai/dialtone/pkg/audio"
	"github.com/dialtone-ai/dialtone/pkg/audit"
	"github.com/dialtone-ai/dialtone/pkg/errors"
	"github.com/dialtone-ai/dialtone/pkg/logger"
	"github.com/dialtone-ai/dialtone/pkg/validation"
)

type StartCallRequest struct {
	TaskID      string `json:"task_id"`
	PhoneNumber string `json:"phone_number" binding:"required"`
	Objective   string `json:"objective"`
}

type StartCallResponse struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
	CallRef   string `json:"call_ref"`
}

// StartCall dials an outbound call for a task
func (h *Handler) StartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, "invalid request body")
		return
	}

	phone, err := validation.NormalizeE164(req.PhoneNumber)
	if err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}

	sessionID, callRef, err := h.orch.StartCall(c.Request.Context(), req.TaskID, phone, req.Objective)
	if err != nil {
		h.logger.Error("start call failed",
			zap.String("task_id", req.TaskID),
			logger.MaskPhoneIfPresent("to", phone),
			zap.Error(err),
		)
		errors.Conflict(c, err.Error())
		return
	}

	audit.Log(h.mongoClient, operatorID(c), audit.ActionStartCall, req.TaskID, map[string]interface{}{
		"call_ref": callRef,
	})

	c.JSON(http.StatusCreated, StartCallResponse{
		TaskID:    req.TaskID,
		SessionID: sessionID,
		CallRef:   callRef,
	})
}

const maxCallHistoryLimit = 200

// ListCalls returns recent call tasks from persistence, newest first
func (h *Handler) ListCalls(c *gin.Context) {
	limit := int64(50)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 || n > maxCallHistoryLimit {
			errors.BadRequest(c, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	if h.mongoClient == nil {
		errors.ErrorResponse(c, http.StatusServiceUnavailable, "Storage Unavailable", "call history requires a database connection")
		return
	}

	q := h.mongoClient.NewQuery("call_tasks").
		Select("task_id", "phone_number", "objective", "status", "call_ref", "provider_duration_sec", "created_at", "updated_at", "ended_at").
		Sort("updated_at", false).
		Limit(limit)
	if status := c.Query("status"); status != "" {
		q = q.Eq("status", status)
	}

	tasks, err := q.Find(c.Request.Context())
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	if tasks == nil {
		tasks = []map[string]interface{}{}
	}
	c.JSON(http.StatusOK, gin.H{
		"calls": tasks,
		"count": len(tasks),
	})
}

// GetCall returns the live session state for a task
func (h *Handler) GetCall(c *gin.Context) {
	taskID := c.Param("task_id")

	sess, ok := h.orch.SessionForTask(taskID)
	if !ok {
		errors.NotFound(c, "no live call for this task")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":    sess.TaskID,
		"session_id": sess.ID,
		"status":     string(sess.Status),
		"created_at": sess.CreatedAt,
		"started_at": sess.StartedAt,
		"transcript": sess.Transcript,
		"policy":     h.guard.ExportState(taskID, false),
	})
}

// GetCallPolicy exposes the admission-policy snapshot for a task
func (h *Handler) GetCallPolicy(c *gin.Context) {
	taskID := c.Param("task_id")

	state := h.guard.ExportState(taskID, false)
	if state == nil {
		errors.NotFound(c, "no policy state for this task")
		return
	}
	c.JSON(http.StatusOK, state)
}

// Hangup ends the call, gated by the admission policy
func (h *Handler) Hangup(c *gin.Context) {
	taskID := c.Param("task_id")

	if err := h.orch.Hangup(c.Request.Context(), taskID); err != nil {
		h.respondActionError(c, taskID, err)
		return
	}

	audit.Log(h.mongoClient, operatorID(c), audit.ActionHangup, taskID, nil)
	c.JSON(http.StatusOK, gin.H{"message": "call ended"})
}

type TransferRequest struct {
	ToNumber string `json:"to_number" binding:"required"`
}

// Transfer redirects the call to another number
func (h *Handler) Transfer(c *gin.Context) {
	taskID := c.Param("task_id")

	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, "invalid request body")
		return
	}
	to, err := validation.NormalizeE164(req.ToNumber)
	if err != nil {
		errors.BadRequest(c, err.Error())
		return
	}

	if err := h.orch.TransferCall(c.Request.Context(), taskID, to); err != nil {
		h.respondActionError(c, taskID, err)
		return
	}

	audit.Log(h.mongoClient, operatorID(c), audit.ActionTransfer, taskID, map[string]interface{}{
		"to_number": to,
	})
	c.JSON(http.StatusOK, gin.H{"message": "call transferred"})
}

type DTMFRequest struct {
	Digits string `json:"digits" binding:"required"`
}

// SendDTMF plays keypad digits into the call
func (h *Handler) SendDTMF(c *gin.Context) {
	taskID := c.Param("task_id")

	var req DTMFRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, "invalid request body")
		return
	}
	if err := validation.ValidateDTMF(req.Digits); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}

	if err := h.orch.SendDTMF(c.Request.Context(), taskID, req.Digits); err != nil {
		h.respondActionError(c, taskID, err)
		return
	}

	// the inbound recording only carries caller audio; splice the sent
	// tones in so the exported WAV reflects them
	if tones := audio.SynthesizeDTMF(req.Digits, 8000); len(tones) > 0 {
		if err := h.artifacts.AppendRecording(taskID, tones); err != nil {
			h.logger.Warn("failed to record sent digits",
				zap.String("task_id", taskID),
				zap.Error(err),
			)
		}
	}

	audit.Log(h.mongoClient, operatorID(c), audit.ActionSendDTMF, taskID, map[string]interface{}{
		"digits": req.Digits,
	})
	c.JSON(http.StatusOK, gin.H{"message": "digits sent"})
}

type MessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// SendMessage injects a caller utterance into the conversation and
// returns the agent's reply. Used for text-mode testing of a task's
// conversation flow.
func (h *Handler) SendMessage(c *gin.Context) {
	taskID := c.Param("task_id")

	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, "invalid request body")
		return
	}

	sess, ok := h.orch.SessionForTask(taskID)
	if !ok {
		errors.NotFound(c, "no live call for this task")
		return
	}

	reply, err := h.orch.HandleUserUtterance(c.Request.Context(), sess.ID, req.Text)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	audit.Log(h.mongoClient, operatorID(c), audit.ActionSendMessage, taskID, nil)
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

// StopCall tears the call down without going through the policy; the
// DELETE verb also releases session and policy state.
func (h *Handler) StopCall(c *gin.Context) {
	taskID := c.Param("task_id")

	if err := h.orch.StopCall(c.Request.Context(), taskID, "operator_stop"); err != nil {
		h.logger.Info("stop on non-live call",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
	h.orch.Cleanup(taskID)

	c.JSON(http.StatusOK, gin.H{"message": "call torn down"})
}

// GetRecording exports the task's call recording as a WAV file
func (h *Handler) GetRecording(c *gin.Context) {
	taskID := c.Param("task_id")

	if !h.artifacts.HasRecording(taskID) {
		errors.NotFound(c, "no recording for this task")
		return
	}

	wav, err := h.artifacts.ExportRecordingWAV(taskID)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	audit.Log(h.mongoClient, operatorID(c), audit.ActionExportAudio, taskID, map[string]interface{}{
		"bytes": len(wav),
	})
	c.Header("Content-Disposition", "attachment; filename="+taskID+".wav")
	c.Data(http.StatusOK, "audio/wav", wav)
}

// respondActionError maps orchestrator errors onto the HTTP surface:
// policy denials become structured 409s, everything else is not-found
// or a plain conflict.
func (h *Handler) respondActionError(c *gin.Context, taskID string, err error) {
	if de, ok := call.AsDenied(err); ok {
		errors.Denied(c, de.Decision.Code, de.Decision.Message, de.Decision.Details)
		return
	}
	h.logger.Warn("call action failed",
		zap.String("task_id", taskID),
		zap.Error(err),
	)
	if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "no live call") {
		errors.NotFound(c, err.Error())
		return
	}
	errors.Conflict(c, err.Error())
}

func operatorID(c *gin.Context) string {
	if v, ok := c.Get("operator_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "unknown"
}
