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
		hostname = "assistant"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	RedisURL    string
	MongoDBURL  string
	MongoDBName string

	// Security
	JWTSecret     string
	EncryptionKey string

	// OpenAI
	OpenAIAPIKey   string
	LLMModel       string
	EmbeddingModel string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeoutSec  int
	LLMMaxRetries  int
	LLMTokensPerMinute int
	EmbeddingsPerSecond int

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Telegram
	TelegramBotToken string

	// Poller
	PollingIntervalSeconds int
	PollMaxResults         int
	PollInterUserDelayMS   int

	// RAG context
	MaxContextTokens              int
	ThreadHistoryLimit            int
	ShortThreadK                  int
	StandardK                     int
	LongThreadK                   int
	ContextRetrievalTargetSeconds int

	// Indexing
	IndexingBatchSize            int
	IndexingRateLimitDelaySeconds int
	IndexingDaysBack             int
	IndexingMaxRetries           int
	IndexingPageSize             int

	// Classification / response
	PriorityThreshold              int
	DraftMinLen                    int
	DraftMaxLen                    int
	ResponseGenerationTargetSeconds int

	// Workflow retries
	MaxNodeRetries     int
	BackoffBaseSeconds int

	// Worker pool
	WorkerID        string
	WorkerMin       int
	WorkerMax       int
	WorkerQueueSize int

	// Consumer (Redis Stream)
	ConsumerBatchSize int
	ConsumerBlockMS   int
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "assistant"),

		// Security
		JWTSecret:     getEnv("JWT_SECRET", ""),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		// OpenAI
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		LLMModel:            getEnv("LLM_MODEL", "gpt-4o-mini"),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		LLMMaxTokens:        getEnvInt("LLM_MAX_TOKENS", 2048),
		LLMTemperature:      getEnvFloat("LLM_TEMPERATURE", 0.3),
		LLMTimeoutSec:       getEnvInt("LLM_TIMEOUT_SEC", 60),
		LLMMaxRetries:       getEnvInt("LLM_MAX_RETRIES", 3),
		LLMTokensPerMinute:  getEnvInt("LLM_TOKENS_PER_MINUTE", 1_000_000),
		EmbeddingsPerSecond: getEnvInt("EMBEDDINGS_PER_SECOND", 50),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		// Telegram
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),

		// Poller
		PollingIntervalSeconds: getEnvInt("POLLING_INTERVAL_SECONDS", 120),
		PollMaxResults:         getEnvInt("POLL_MAX_RESULTS", 50),
		PollInterUserDelayMS:   getEnvInt("POLL_INTER_USER_DELAY_MS", 500),

		// RAG context
		MaxContextTokens:              getEnvInt("MAX_CONTEXT_TOKENS", 6500),
		ThreadHistoryLimit:            getEnvInt("THREAD_HISTORY_LIMIT", 5),
		ShortThreadK:                  getEnvInt("SHORT_THREAD_K", 7),
		StandardK:                     getEnvInt("STANDARD_K", 3),
		LongThreadK:                   getEnvInt("LONG_THREAD_K", 0),
		ContextRetrievalTargetSeconds: getEnvInt("CONTEXT_RETRIEVAL_TARGET_SECONDS", 3),

		// Indexing
		IndexingBatchSize:             getEnvInt("INDEXING_BATCH_SIZE", 50),
		IndexingRateLimitDelaySeconds: getEnvInt("INDEXING_RATE_LIMIT_DELAY_SECONDS", 60),
		IndexingDaysBack:              getEnvInt("INDEXING_DAYS_BACK", 90),
		IndexingMaxRetries:            getEnvInt("INDEXING_MAX_RETRIES", 3),
		IndexingPageSize:              getEnvInt("INDEXING_PAGE_SIZE", 100),

		// Classification / response
		PriorityThreshold:               getEnvInt("PRIORITY_THRESHOLD", 70),
		DraftMinLen:                     getEnvInt("DRAFT_MIN_LEN", 50),
		DraftMaxLen:                     getEnvInt("DRAFT_MAX_LEN", 2000),
		ResponseGenerationTargetSeconds: getEnvInt("RESPONSE_GENERATION_TARGET_SECONDS", 8),

		// Workflow retries
		MaxNodeRetries:     getEnvInt("MAX_NODE_RETRIES", 3),
		BackoffBaseSeconds: getEnvInt("BACKOFF_BASE_SECONDS", 2),

		// Worker pool
		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		WorkerMin:       getEnvInt("WORKER_MIN", 2),
		WorkerMax:       getEnvInt("WORKER_MAX", 20),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 1000),

		// Consumer
		ConsumerBatchSize: getEnvInt("CONSUMER_BATCH_SIZE", 50),
		ConsumerBlockMS:   getEnvInt("CONSUMER_BLOCK_MS", 5000),
	}, nil
}

// PollingInterval returns the poll tick as a duration.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingIntervalSeconds) * time.Second
}

// BackoffBase returns the retry backoff base as a duration.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
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
