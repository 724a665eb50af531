package handlers

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dialtone-ai/dialtone/internal/call"
	"github.com/dialtone-ai/dialtone/pkg/env"
	"github.com/dialtone-ai/dialtone/pkg/llm"
	"github.com/dialtone-ai/dialtone/pkg/logger"
	"github.com/dialtone-ai/dialtone/pkg/mongo"
	"github.com/dialtone-ai/dialtone/pkg/store"
)

type Handler struct {
	cfg         *env.Config
	redisClient *redis.Client
	mongoClient *mongo.Client
	logger      *zap.Logger
	orch        *call.Orchestrator
	guard       *call.Guard
	hub         *call.Hub
	artifacts   *store.Artifacts
	llmManager  *llm.Manager
}

func NewHandler(
	cfg *env.Config,
	redisClient *redis.Client,
	mongoClient *mongo.Client,
	orch *call.Orchestrator,
	guard *call.Guard,
	hub *call.Hub,
	artifacts *store.Artifacts,
	llmManager *llm.Manager,
) *Handler {
	return &Handler{
		cfg:         cfg,
		redisClient: redisClient,
		mongoClient: mongoClient,
		logger:      logger.Log,
		orch:        orch,
		guard:       guard,
		hub:         hub,
		artifacts:   artifacts,
		llmManager:  llmManager,
	}
}
