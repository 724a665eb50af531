package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/dialtone-ai/dialtone/pkg/logger"
	"github.com/dialtone-ai/dialtone/pkg/mongo"
)

// Action represents an audit action
type Action string

const (
	ActionStartCall    Action = "start_call"
	ActionHangup       Action = "hangup"
	ActionTransfer     Action = "transfer"
	ActionSendDTMF     Action = "send_dtmf"
	ActionSendMessage  Action = "send_message"
	ActionExportAudio  Action = "export_audio"
)

// Log logs an operator call-control action to the audit trail
func Log(client *mongo.Client, operatorID string, action Action, taskID string, metadata map[string]interface{}) error {
	if client == nil {
		logger.Log.Warn("Audit logging skipped: MongoDB client not available")
		return nil
	}

	metadataJSON, _ := json.Marshal(metadata)

	auditData := map[string]interface{}{
		"operator_id": operatorID,
		"action":      string(action),
		"task_id":     taskID,
		"metadata":    string(metadataJSON),
		"created_at":  time.Now().Format(time.RFC3339),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.NewQuery("audit_log").Insert(ctx, auditData)
	if err != nil {
		logger.Log.Error("Failed to log audit event",
			zap.Error(err),
			zap.String("action", string(action)),
			zap.String("task_id", taskID),
		)
		return err
	}

	return nil
}
