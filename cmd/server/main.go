package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dialtone-ai/dialtone/internal/api/handlers"
	"github.com/dialtone-ai/dialtone/internal/call"
	"github.com/dialtone-ai/dialtone/pkg/env"
	"github.com/dialtone-ai/dialtone/pkg/llm"
	"github.com/dialtone-ai/dialtone/pkg/logger"
	"github.com/dialtone-ai/dialtone/pkg/middleware"
	"github.com/dialtone-ai/dialtone/pkg/mongo"
	"github.com/dialtone-ai/dialtone/pkg/otel"
	"github.com/dialtone-ai/dialtone/pkg/store"
	"github.com/dialtone-ai/dialtone/pkg/telephony"
)

type Server struct {
	cfg         *env.Config
	redisClient *redis.Client
	mongoClient *mongo.Client
	handler     *handlers.Handler
}

func main() {
	cfg, err := env.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.LogLevel, cfg.AppEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.OTELEnabled {
		shutdown, err := otel.InitTracing("call-runtime", "1.0.0", cfg.OTELEndpoint)
		if err != nil {
			logger.Log.Warn("Failed to initialize OpenTelemetry", zap.Error(err))
		} else {
			defer shutdown()
			logger.Log.Info("OpenTelemetry tracing enabled", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	logger.Log.Info("Starting call runtime server",
		zap.String("env", cfg.AppEnv),
		zap.String("port", cfg.AppPort),
	)

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Log.Fatal("Failed to parse Redis URL", zap.Error(err))
	}
	redisClient := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	mongoClient, err := mongo.NewClient(cfg.MongoURI, cfg.DBName)
	if err != nil {
		logger.Log.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(ctx); err != nil {
			logger.Log.Warn("Failed to disconnect MongoDB", zap.Error(err))
		}
	}()

	telClient := telephony.NewClient(
		cfg.TelephonyBaseURL,
		cfg.TelephonyAccountSID,
		cfg.TelephonyAPIKey,
		cfg.TelephonyAPIToken,
	)
	if telClient.DryRun() {
		logger.Log.Warn("Telephony client in dry-run mode, no real calls will be placed")
	}

	taskStore := store.NewTaskStore(mongoClient, logger.Log)
	artifacts := store.NewArtifacts(cfg.ArtifactsPath)

	timeout := time.Duration(cfg.LLMTimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	var providers []llm.Provider
	if cfg.LLMAPIKey != "" {
		openAIProvider := llm.NewOpenAIProvider(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMMaxTokens, timeout, logger.Log)
		if openAIProvider.IsAvailable() {
			providers = append(providers, openAIProvider)
			logger.Log.Info("OpenAI provider initialized", zap.String("model", cfg.LLMModel))
		}
	}
	llmManager := llm.NewManager(providers, logger.Log)

	registry := call.NewRegistry()
	hub := call.NewHub(logger.Log)
	guard := call.NewGuard(call.GuardConfig{
		ActionCooldown:  time.Duration(cfg.ActionCooldownSec) * time.Second,
		DuplicateWindow: time.Duration(cfg.DuplicateWindowSec) * time.Second,
		MaxDTMFSends:    cfg.MaxDTMFSends,
		IVRBudget:       time.Duration(cfg.IVRBudgetSec) * time.Second,
		PendingTimeout:  time.Duration(cfg.PendingTimeoutSec) * time.Second,
	}, logger.Log)

	orch := call.NewOrchestrator(registry, hub, guard, telClient, taskStore, llmManager, call.OrchestratorConfig{
		SystemPrompt: cfg.AgentPrompt,
		CallerID:     cfg.TelephonyCallerID,
		CallbackURL:  cfg.TelephonyCallbackURL,
		StreamURL:    cfg.MediaStreamURL,
	}, logger.Log)

	apiHandler := handlers.NewHandler(cfg, redisClient, mongoClient, orch, guard, hub, artifacts, llmManager)

	server := &Server{
		cfg:         cfg,
		redisClient: redisClient,
		mongoClient: mongoClient,
		handler:     apiHandler,
	}

	router := server.setupRouter()

	srv := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	orch.StopAll(ctx, "server_shutdown")

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Log.Info("Server exited")
}

func (s *Server) setupRouter() *gin.Engine {
	if s.cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	handlers.SetObserverOrigins(s.cfg.CORSAllowedOrigins)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(1 << 20)) // 1 MB limit

	if s.cfg.OTELEnabled {
		router.Use(otel.GinMiddleware())
	}

	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] %s %s %d %s\n",
			param.TimeStamp.Format(time.RFC3339),
			param.Method,
			param.Path,
			param.StatusCode,
			param.Latency,
		)
	}))

	corsConfig := cors.DefaultConfig()
	if s.cfg.CORSAllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{s.cfg.CORSAllowedOrigins}
	}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"}
	router.Use(cors.New(corsConfig))

	rateLimiter := middleware.NewRateLimiter(s.redisClient, s.cfg.APIRateLimitRPM)

	router.GET("/health", s.handler.HealthCheck)
	router.GET("/metrics", s.handler.GetMetrics)
	router.GET("/metrics/prometheus", s.handler.GetPrometheusMetrics)

	// Operator control surface (protected)
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(s.cfg.JWTSecret))
	api.Use(middleware.IdempotencyMiddleware(s.redisClient))
	api.Use(rateLimiter.Middleware())
	{
		calls := api.Group("/calls")
		{
			calls.POST("", s.handler.StartCall)
			calls.GET("", s.handler.ListCalls)
			calls.GET("/:task_id", middleware.ValidateTaskIDParam("task_id"), s.handler.GetCall)
			calls.GET("/:task_id/policy", middleware.ValidateTaskIDParam("task_id"), s.handler.GetCallPolicy)
			calls.POST("/:task_id/hangup", middleware.ValidateTaskIDParam("task_id"), s.handler.Hangup)
			calls.POST("/:task_id/transfer", middleware.ValidateTaskIDParam("task_id"), s.handler.Transfer)
			calls.POST("/:task_id/dtmf", middleware.ValidateTaskIDParam("task_id"), s.handler.SendDTMF)
			calls.POST("/:task_id/message", middleware.ValidateTaskIDParam("task_id"), s.handler.SendMessage)
			calls.DELETE("/:task_id", middleware.ValidateTaskIDParam("task_id"), s.handler.StopCall)
			calls.GET("/:task_id/recording", middleware.ValidateTaskIDParam("task_id"), s.handler.GetRecording)
		}
	}

	// Provider callbacks (public, HMAC verified)
	router.POST("/webhooks/telephony", s.handler.TelephonyWebhook)

	// Telephony media stream (public, provider connects here)
	router.GET("/ws/media", s.handler.MediaStream)

	// Dashboard observers
	router.GET("/ws/observe/:task_id", s.handler.ObserveCall)

	return router
}
