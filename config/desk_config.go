package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// Auth
	JWTSecret  string
	CronSecret string

	// Token encryption at rest
	EncryptionKey string

	// OpenAI
	OpenAIAPIKey      string
	LLMModel          string
	LLMMaxTokens      int
	LLMTemperature    float64
	LLMTimeoutSec     int
	EmbeddingModel    string
	EmbeddingBatchMax int

	// Gmail OAuth + Pub/Sub
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleProjectID    string
	GmailPubSubTopic   string

	// Pipeline policy
	AutoSendThreshold   int
	GracePeriodDays     int
	RetrievalTopK       int
	RetrievalMinScore   float64
	WatchRenewHorizon   time.Duration
	WatchCheckInterval  time.Duration
	SweepInterval       time.Duration
	SweepBatchSize      int
	RecentFetchWindow   int
	StatusUpdateRetries int

	// Worker
	WorkerID          string
	WorkerMin         int
	WorkerMax         int
	WorkerQueueSize   int
	WorkerIdleTimeout time.Duration

	// Consumer (Redis Stream)
	ConsumerBatchSize int
	ConsumerBlockMS   int

	// Webhook
	WebhookDedupTTLMin int

	// CORS
	AllowedOrigins []string

	// Scheduler
	SchedulerEnabled bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "helpdesk"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// Auth
		JWTSecret:  getEnv("JWT_SECRET", ""),
		CronSecret: getEnv("CRON_SECRET", ""),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		// OpenAI
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:      getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature:    getEnvFloat("LLM_TEMPERATURE", 0.2),
		LLMTimeoutSec:     getEnvInt("LLM_TIMEOUT_SEC", 60),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", "text-embedding-ada-002"),
		EmbeddingBatchMax: getEnvInt("EMBEDDING_BATCH_MAX", 64),

		// Gmail OAuth + Pub/Sub
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		GoogleProjectID:    getEnv("GOOGLE_PROJECT_ID", ""),
		GmailPubSubTopic:   getEnv("GMAIL_PUBSUB_TOPIC", "gmail-push"),

		// Pipeline policy
		AutoSendThreshold:   getEnvInt("AUTO_SEND_THRESHOLD", 85),
		GracePeriodDays:     getEnvInt("TICKET_GRACE_PERIOD_DAYS", 30),
		RetrievalTopK:       getEnvInt("RETRIEVAL_TOP_K", 5),
		RetrievalMinScore:   getEnvFloat("RETRIEVAL_MIN_SCORE", 0.5),
		WatchRenewHorizon:   time.Duration(getEnvInt("WATCH_RENEW_HORIZON_MIN", 60)) * time.Minute,
		WatchCheckInterval:  time.Duration(getEnvInt("WATCH_CHECK_INTERVAL_MIN", 60)) * time.Minute,
		SweepInterval:       time.Duration(getEnvInt("SWEEP_INTERVAL_MIN", 360)) * time.Minute,
		SweepBatchSize:      getEnvInt("SWEEP_BATCH_SIZE", 50),
		RecentFetchWindow:   getEnvInt("RECENT_FETCH_WINDOW", 10),
		StatusUpdateRetries: getEnvInt("STATUS_UPDATE_RETRIES", 3),

		// Worker
		WorkerID:          getEnv("WORKER_ID", generateWorkerID()),
		WorkerMin:         getEnvInt("WORKER_MIN", 2),
		WorkerMax:         getEnvInt("WORKER_MAX", 16),
		WorkerQueueSize:   getEnvInt("WORKER_QUEUE_SIZE", 1000),
		WorkerIdleTimeout: time.Duration(getEnvInt("WORKER_IDLE_TIMEOUT_SEC", 30)) * time.Second,

		// Consumer
		ConsumerBatchSize: getEnvInt("CONSUMER_BATCH_SIZE", 20),
		ConsumerBlockMS:   getEnvInt("CONSUMER_BLOCK_MS", 5000),

		// Webhook
		WebhookDedupTTLMin: getEnvInt("WEBHOOK_DEDUP_TTL_MIN", 5),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		// Scheduler
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
