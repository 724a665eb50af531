package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dialtone-ai/dialtone/internal/call"
	"github.com/dialtone-ai/dialtone/pkg/errors"
	"github.com/dialtone-ai/dialtone/pkg/telephony"
)

type TelephonyWebhookPayload struct {
	CallSid   string `json:"CallSid" form:"CallSid"`
	From      string `json:"From" form:"From"`
	To        string `json:"To" form:"To"`
	Direction string `json:"Direction" form:"Direction"`
	Status    string `json:"Status" form:"Status"`
	StartTime string `json:"StartTime" form:"StartTime"`
	EndTime   string `json:"EndTime" form:"EndTime"`
	Duration  string `json:"Duration" form:"Duration"`
}

// terminalWebhookStatuses are the provider statuses after which no more
// media or events will arrive for the call.
var terminalWebhookStatuses = map[string]bool{
	"completed": true,
	"failed":    true,
	"busy":      true,
	"no-answer": true,
	"canceled":  true,
}

// TelephonyWebhook receives call status callbacks from the telephony
// provider. The payload is HMAC-verified when a webhook secret is
// configured. Terminal statuses tear the call down server-side so a
// provider-ended call does not linger as active.
func (h *Handler) TelephonyWebhook(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		errors.BadRequest(c, "invalid form payload")
		return
	}

	signature := c.GetHeader("X-Signature")
	if err := telephony.VerifySignature(h.cfg.TelephonyWebhookSecret, c.Request.PostForm, signature); err != nil {
		h.logger.Warn("webhook signature verification failed",
			zap.String("remote", c.ClientIP()),
			zap.Error(err),
		)
		errors.Unauthorized(c, "invalid signature")
		return
	}

	var payload TelephonyWebhookPayload
	if err := c.ShouldBind(&payload); err != nil {
		errors.BadRequest(c, "invalid payload")
		return
	}
	if payload.CallSid == "" {
		errors.BadRequest(c, "CallSid is required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if h.mongoClient != nil {
		eventData := map[string]interface{}{
			"call_sid":    payload.CallSid,
			"from_number": payload.From,
			"to_number":   payload.To,
			"direction":   payload.Direction,
			"status":      payload.Status,
			"started_at":  payload.StartTime,
			"ended_at":    payload.EndTime,
			"duration":    payload.Duration,
			"received_at": time.Now().Format(time.RFC3339),
		}
		if _, err := h.mongoClient.NewQuery("call_events").Insert(ctx, eventData); err != nil {
			h.logger.Warn("failed to persist call event",
				zap.String("call_sid", payload.CallSid),
				zap.Error(err),
			)
		}
	}

	taskID, known := h.orch.TaskForCallRef(payload.CallSid)
	if !known {
		// status callbacks can outlive the live call binding
		h.logger.Debug("webhook for unknown call ref",
			zap.String("call_sid", payload.CallSid),
			zap.String("status", payload.Status),
		)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	h.logger.Info("call status update",
		zap.String("task_id", taskID),
		zap.String("call_sid", payload.CallSid),
		zap.String("status", payload.Status),
	)

	if payload.Duration != "" {
		if seconds, err := strconv.Atoi(payload.Duration); err == nil && h.mongoClient != nil {
			h.mongoClient.NewQuery("call_tasks").
				Eq("task_id", taskID).
				UpdateOne(ctx, map[string]interface{}{
					"provider_duration_sec": seconds,
					"updated_at":            time.Now(),
				})
		}
	}

	h.hub.Broadcast(taskID, call.EventCallStatus, map[string]interface{}{
		"status":   payload.Status,
		"call_sid": payload.CallSid,
	})

	if terminalWebhookStatuses[payload.Status] {
		if err := h.orch.StopCall(ctx, taskID, "provider_"+payload.Status); err != nil {
			h.logger.Warn("failed to stop call from webhook",
				zap.String("task_id", taskID),
				zap.Error(err),
			)
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
