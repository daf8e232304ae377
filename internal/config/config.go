package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Telegram  TelegramConfig
	Ai        AIConfig
	Retrieval RetrievalConfig
	Retry     RetryConfig
	Storage   StorageConfig
	Infra     InfraConfig
	SMTP      SMTPConfig
}

type AppConfig struct {
	Port         string
	Environment  string
	LogFilePath  string
	AuditLogPath string
	MessagesFile string
	JwtSecret    string
	BookPath     string
	ReindexBook  bool

	CorsAllowedOrigins string
}

type TelegramConfig struct {
	Token         string
	APIURL        string
	Mode          string // "polling", "webhook" or "disabled"
	WebhookURL    string
	WebhookSecret string
	Workers       int
	PollTimeout   int // seconds
}

type AIConfig struct {
	LLMProvider         string // "openai" or "ollama"
	LLMModel            string
	OpenAIKey           string
	OpenAIBaseURL       string
	OllamaBaseURL       string
	EmbeddingProvider   string // "openai" or "ollama"
	EmbeddingModel      string
	EmbeddingDimensions int
}

type RetrievalConfig struct {
	TopK         int
	ChunkSize    int
	ChunkOverlap int
}

type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Jitter       float64
	Timeout      time.Duration
}

type StorageConfig struct {
	VectorStore      string // "memory", "pgvector" or "qdrant"
	DBConnection     string
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
}

type InfraConfig struct {
	NatsURL             string
	RedisURL            string
	MinioEndpoint       string
	MinioAccessKey      string
	MinioSecretKey      string
	MinioBucket         string
	MinioUseSSL         bool
	CleanupTopic        string
	CleanupMaxAttempts  int
	SweepOrphansOnStart bool
}

type SMTPConfig struct {
	Host       string
	Port       int
	Email      string
	Password   string
	SenderName string
	AlertEmail string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Port:         getEnv("APP_PORT", "3000"),
			Environment:  getEnv("GO_ENV", "development"),
			LogFilePath:  getEnv("LOG_FILE_PATH", "logs/app.log"),
			AuditLogPath: getEnv("AUDIT_LOG_PATH", "logs/audit.log"),
			MessagesFile: getEnv("MESSAGES_FILE", ""),
			JwtSecret:    getEnv("JWT_SECRET", ""),
			BookPath:     getEnv("BOOK_PATH", "book.pdf"),
			ReindexBook:  getEnvAsBool("REINDEX_BOOK", false),

			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Telegram: TelegramConfig{
			Token:         getEnv("TELEGRAM_BOT_TOKEN", ""),
			APIURL:        getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			Mode:          getEnv("TELEGRAM_MODE", "polling"),
			WebhookURL:    getEnv("TELEGRAM_WEBHOOK_URL", ""),
			WebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
			Workers:       getEnvAsInt("TELEGRAM_WORKERS", 8),
			PollTimeout:   getEnvAsInt("TELEGRAM_POLL_TIMEOUT", 30),
		},
		Ai: AIConfig{
			LLMProvider:         getEnv("LLM_PROVIDER", "openai"),
			LLMModel:            getEnv("LLM_MODEL", "gpt-4o"),
			OpenAIKey:           getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			OllamaBaseURL:       getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			EmbeddingProvider:   getEnv("EMBEDDING_PROVIDER", "openai"),
			EmbeddingModel:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimensions: getEnvAsInt("EMBEDDING_DIMENSIONS", 1536),
		},
		Retrieval: RetrievalConfig{
			TopK:         getEnvAsInt("RETRIEVAL_TOP_K", 4),
			ChunkSize:    getEnvAsInt("CHUNK_SIZE", 1000),
			ChunkOverlap: getEnvAsInt("CHUNK_OVERLAP", 200),
		},
		Retry: RetryConfig{
			InitialDelay: getEnvAsDuration("RETRY_INITIAL_DELAY", time.Second),
			MaxDelay:     getEnvAsDuration("RETRY_MAX_DELAY", time.Minute),
			MaxAttempts:  getEnvAsInt("RETRY_MAX_ATTEMPTS", 5),
			Jitter:       getEnvAsFloat("RETRY_JITTER", 0.2),
			Timeout:      getEnvAsDuration("LLM_TIMEOUT", 3*time.Minute),
		},
		Storage: StorageConfig{
			VectorStore:      getEnv("VECTOR_STORE", "memory"),
			DBConnection:     getEnv("DB_CONNECTION_STRING", ""),
			QdrantURL:        getEnv("QDRANT_URL", "http://localhost:6333"),
			QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
			QdrantCollection: getEnv("QDRANT_COLLECTION", "ragout_chunks"),
		},
		Infra: InfraConfig{
			NatsURL:             getEnv("NATS_URL", ""),
			RedisURL:            getEnv("REDIS_URL", ""),
			MinioEndpoint:       getEnv("MINIO_ENDPOINT", ""),
			MinioAccessKey:      getEnv("MINIO_ACCESS_KEY", ""),
			MinioSecretKey:      getEnv("MINIO_SECRET_KEY", ""),
			MinioBucket:         getEnv("MINIO_BUCKET", "ragout-uploads"),
			MinioUseSSL:         getEnvAsBool("MINIO_USE_SSL", false),
			CleanupTopic:        getEnv("CLEANUP_TOPIC", "RESET_CLEANUP"),
			CleanupMaxAttempts:  getEnvAsInt("CLEANUP_MAX_ATTEMPTS", 5),
			SweepOrphansOnStart: getEnvAsBool("SWEEP_ORPHANS_ON_START", true),
		},
		SMTP: SMTPConfig{
			Host:       getEnv("SMTP_HOST", ""),
			Port:       getEnvAsInt("SMTP_PORT", 587),
			Email:      getEnv("SMTP_EMAIL", ""),
			Password:   getEnv("SMTP_PASSWORD", ""),
			SenderName: getEnv("SMTP_SENDER_NAME", "Ragout Bot"),
			AlertEmail: getEnv("ALERT_EMAIL", ""),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("1500ms") or plain seconds ("2").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
