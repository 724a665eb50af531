package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dialtone-ai/dialtone/pkg/errors"
)

var observeUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		allowed := strings.Split(allowedOriginsEnv, ",")
		for _, a := range allowed {
			a = strings.TrimSpace(a)
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	},
}

// set at router wiring time from the CORS config
var allowedOriginsEnv = "*"

// SetObserverOrigins configures which origins dashboard observers may
// connect from. "*" allows any.
func SetObserverOrigins(origins string) {
	if origins != "" {
		allowedOriginsEnv = origins
	}
}

// ObserveCall attaches a websocket observer to a call topic. Every
// event broadcast for the task is delivered in order until the client
// disconnects. Observers are read-mostly: inbound frames are drained
// and discarded so pings and close frames are processed.
func (h *Handler) ObserveCall(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		errors.BadRequest(c, "task_id is required")
		return
	}

	conn, err := observeUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade observer connection",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		return
	}
	defer conn.Close()

	h.hub.Connect(taskID, conn)
	defer h.hub.Disconnect(taskID, conn)

	h.logger.Info("observer connected",
		zap.String("task_id", taskID),
		zap.Int("observers", h.hub.ObserverCount(taskID)),
	)

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		}
	}()

	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			h.logger.Info("observer disconnected", zap.String("task_id", taskID))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
