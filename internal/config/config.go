package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI string
	DBName   string
	Port     string
	GinMode  string

	CORSOrigins  []string
	MaxFileSize  int64
	AllowedTypes []string

	FileStorageDir string

	// Redis (asynq backend + rate limiting)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitReqs   int
	RateLimitWindow int

	// Qdrant vector index
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	VectorDimensions int

	// Gemini
	GeminiAPIKey   string
	GenerateModel  string
	EmbeddingModel string

	// Embedding batching
	EmbedBatchSize int
	EmbedMaxChars  int

	// Segmentation
	SegmentSize    int
	SegmentOverlap int

	// Retrieval / chat
	SearchTopK    int
	HistoryWindow int

	// Session lifecycle
	SessionTTL    time.Duration
	SweepInterval time.Duration

	TracingEnabled bool
	OTLPEndpoint   string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/ragagent"),
		DBName:   getEnv("DB_NAME", "ragagent"),
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),

		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),
		MaxFileSize: getEnvInt64("MAX_FILE_SIZE", 10485760), // 10MB
		AllowedTypes: strings.Split(getEnv("ALLOWED_FILE_TYPES",
			"application/pdf,text/plain,text/markdown,text/html,application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"), ","),

		FileStorageDir: getEnv("FILE_STORAGE_DIR", "./storage"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		QdrantURL:        getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "segments"),
		VectorDimensions: getEnvInt("VECTOR_DIM", 768),

		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GenerateModel:  getEnv("GENERATE_MODEL", "gemini-2.0-flash"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-004"),

		EmbedBatchSize: getEnvInt("EMBED_BATCH_SIZE", 100),
		EmbedMaxChars:  getEnvInt("EMBED_MAX_CHARS", 8000),

		SegmentSize:    getEnvInt("SEGMENT_SIZE", 1000),
		SegmentOverlap: getEnvInt("SEGMENT_OVERLAP", 200),

		SearchTopK:    getEnvInt("SEARCH_TOP_K", 5),
		HistoryWindow: getEnvInt("HISTORY_WINDOW", 40),

		SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Hour),

		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.SegmentSize <= 0 || cfg.SegmentOverlap >= cfg.SegmentSize {
		return nil, fmt.Errorf("invalid segmentation config: size=%d overlap=%d", cfg.SegmentSize, cfg.SegmentOverlap)
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
