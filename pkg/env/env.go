package env

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	AppPort  string
	TZ       string
	LogLevel string

	JWTSecret    string
	JWTIssuer    string
	JWTAudience  string
	AccessTTLMin int

	RedisURL string

	MongoURI string
	DBName   string

	ArtifactsPath string

	// Telephony provider REST API. When the account SID or key is empty the
	// client runs in dry-run mode and returns synthetic call references.
	TelephonyBaseURL       string
	TelephonyAccountSID    string
	TelephonyAPIKey        string
	TelephonyAPIToken      string
	TelephonyCallerID      string
	TelephonyCallbackURL   string
	TelephonyWebhookSecret string

	// Voice agent duplex channel.
	AgentURL               string
	AgentAPIKey            string
	AgentOutputEncoding    string
	AgentListenModel       string
	AgentSpeakModel        string
	AgentGreeting          string
	AgentPrompt            string
	AgentWelcomeTimeoutMs  int
	AgentSettingsTimeoutMs int
	AgentReadyTimeoutMs    int

	// "Think" language model routed through the voice agent, and the text
	// completion fallback used for non-voice turns.
	ThinkProvider string
	ThinkModel    string
	ThinkURL      string
	ThinkAPIKey   string

	LLMBaseURL   string
	LLMAPIKey    string
	LLMModel     string
	LLMMaxTokens int
	LLMTimeoutMs int

	// Call admission policy tunables.
	ActionCooldownSec  int
	DuplicateWindowSec int
	MaxDTMFSends       int
	IVRBudgetSec       int
	PendingTimeoutSec  int

	MediaSampleRate int
	MediaStreamURL  string

	APIRateLimitRPM    int
	CORSAllowedOrigins string

	OTELEnabled  bool
	OTELEndpoint string
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// A missing .env file is fine: production supplies plain environment
		// variables.
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		AppPort:  getEnv("APP_PORT", "8080"),
		TZ:       getEnv("TZ", "UTC"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		JWTSecret:    mustGetEnv("JWT_SECRET"),
		JWTIssuer:    getEnv("JWT_ISSUER", "dialtone"),
		JWTAudience:  getEnv("JWT_AUDIENCE", "dialtone-api"),
		AccessTTLMin: getEnvInt("ACCESS_TTL_MIN", 15),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:   getEnv("DB_NAME", "dialtone"),

		ArtifactsPath: getEnv("ARTIFACTS_PATH", "/data/calls"),

		TelephonyBaseURL:       getEnv("TELEPHONY_BASE_URL", "https://api.exotel.com/v1"),
		TelephonyAccountSID:    getEnv("TELEPHONY_ACCOUNT_SID", ""),
		TelephonyAPIKey:        getEnv("TELEPHONY_API_KEY", ""),
		TelephonyAPIToken:      getEnv("TELEPHONY_API_TOKEN", ""),
		TelephonyCallerID:      getEnv("TELEPHONY_CALLER_ID", ""),
		TelephonyCallbackURL:   getEnv("TELEPHONY_CALLBACK_URL", ""),
		TelephonyWebhookSecret: getEnv("TELEPHONY_WEBHOOK_SIGNATURE_SECRET", ""),

		AgentURL:               getEnv("AGENT_URL", "wss://agent.deepgram.com/v1/agent/converse"),
		AgentAPIKey:            getEnv("AGENT_API_KEY", ""),
		AgentOutputEncoding:    getEnv("AGENT_OUTPUT_ENCODING", "mulaw"),
		AgentListenModel:       getEnv("AGENT_LISTEN_MODEL", "nova-2"),
		AgentSpeakModel:        getEnv("AGENT_SPEAK_MODEL", "aura-2-thalia-en"),
		AgentGreeting:          getEnv("AGENT_GREETING", "Hello! How can I help you today?"),
		AgentPrompt:            getEnv("AGENT_PROMPT", ""),
		AgentWelcomeTimeoutMs:  getEnvInt("AGENT_WELCOME_TIMEOUT_MS", 5000),
		AgentSettingsTimeoutMs: getEnvInt("AGENT_SETTINGS_TIMEOUT_MS", 15000),
		AgentReadyTimeoutMs:    getEnvInt("AGENT_READY_TIMEOUT_MS", 10000),

		ThinkProvider: getEnv("THINK_PROVIDER", "open_ai"),
		ThinkModel:    getEnv("THINK_MODEL", "gpt-4o-mini"),
		ThinkURL:      getEnv("THINK_URL", ""),
		ThinkAPIKey:   getEnv("THINK_API_KEY", ""),

		LLMBaseURL:   getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:    getEnv("LLM_API_KEY", ""),
		LLMModel:     getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens: getEnvInt("LLM_MAX_TOKENS", 256),
		LLMTimeoutMs: getEnvInt("LLM_TIMEOUT_MS", 15000),

		ActionCooldownSec:  getEnvInt("ACTION_COOLDOWN_SEC", 3),
		DuplicateWindowSec: getEnvInt("DUPLICATE_WINDOW_SEC", 10),
		MaxDTMFSends:       getEnvInt("MAX_DTMF_SENDS", 10),
		IVRBudgetSec:       getEnvInt("IVR_BUDGET_SEC", 300),
		PendingTimeoutSec:  getEnvInt("PENDING_TIMEOUT_SEC", 15),

		MediaSampleRate: getEnvInt("MEDIA_SAMPLE_RATE", 8000),
		MediaStreamURL:  getEnv("MEDIA_STREAM_URL", ""),

		APIRateLimitRPM:    getEnvInt("API_RATE_LIMIT_RPM", 180),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),

		OTELEnabled:  getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint: getEnv("OTEL_ENDPOINT", ""),
	}

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", cfg.TZ, err)
	}
	time.Local = loc

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}
