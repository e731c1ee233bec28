package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	GinMode     string
	CORSOrigins []string

	MongoURI string
	DBName   string

	// Redis Configuration (task queue transport and rate limiting)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Qdrant vector database
	QdrantHost      string
	QdrantPort      string
	VectorDimension int

	// DeepSeek chat-completion endpoint
	DeepSeekAPIKey    string
	DeepSeekAPIURL    string
	DeepSeekModel     string
	GenerationTimeout int

	// Embeddings configuration. "hash" is the deterministic development
	// placeholder; "google" uses the Gemini embeddings API.
	EmbeddingsProvider    string
	GeminiAPIKey          string
	GoogleEmbeddingsModel string
	GoogleEmbeddingDim    int

	// Chunking parameters
	MaxChunkSize int
	ChunkOverlap int

	// Upload handling
	MaxFileSize          int64
	FileStorageDir       string
	UploadRetentionHours int

	// Rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// Telemetry
	OTLPEndpoint string

	// Worker
	WorkerConcurrency int
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/elibrary"),
		DBName:   getEnv("DB_NAME", "elibrary"),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		QdrantHost:      getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:      getEnv("QDRANT_PORT", "6333"),
		VectorDimension: getEnvInt("VECTOR_DIM", 384),

		DeepSeekAPIKey:    getEnv("DEEPSEEK_API_KEY", ""),
		DeepSeekAPIURL:    getEnv("DEEPSEEK_API_URL", "https://api.deepseek.com/v1/chat/completions"),
		DeepSeekModel:     getEnv("DEEPSEEK_MODEL", "deepseek-chat"),
		GenerationTimeout: getEnvInt("GENERATION_TIMEOUT", 60),

		EmbeddingsProvider:    getEnv("EMBEDDINGS_PROVIDER", "hash"),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		GoogleEmbeddingDim:    getEnvInt("GOOGLE_EMBEDDING_DIM", 768),

		MaxChunkSize: getEnvInt("MAX_CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),

		MaxFileSize:          getEnvInt64("MAX_FILE_SIZE", 104857600), // 100MB
		FileStorageDir:       getEnv("FILE_STORAGE_DIR", "./storage"),
		UploadRetentionHours: getEnvInt("UPLOAD_RETENTION_HOURS", 24),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 10),
	}

	// A missing DeepSeek key is surfaced at call time, not at startup, so
	// ingestion keeps working without generation credentials.
	return cfg, nil
}

// QdrantURL builds the base URL of the vector database endpoint.
func (c *Config) QdrantURL() string {
	host := c.QdrantHost
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host + ":" + c.QdrantPort
	}
	return "http://" + host + ":" + c.QdrantPort
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
