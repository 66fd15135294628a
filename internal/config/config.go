package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Storage (Supabase-compatible object storage for materials and final videos)
	StorageURL        string
	StorageServiceKey string
	StorageBucket     string

	// OpenAI (used for optional subtitle correction)
	OpenAIKey string

	// Rendering
	ScratchDir       string  // Task-scoped scratch clips live under this directory
	MaxConcurrent    int     // Process-wide cap on simultaneous ffmpeg invocations
	ComposeTimeoutS  int     // Hard wall-clock timeout per compositing invocation (seconds)
	AssembleTimeoutS int     // Hard wall-clock timeout for timeline assembly (seconds)
	MaxRetries       int     // Extra compose attempts after the first failure
	FailureTolerance float64 // Max fraction of failed sentences before the task fails (1.0 = best effort)
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		StorageURL:         getEnv("STORAGE_URL", ""),
		StorageServiceKey:  getEnv("STORAGE_SERVICE_KEY", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", "chapter-videos"),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		ScratchDir:         getEnv("SCRATCH_DIR", "/tmp/chapterreel"),
		MaxConcurrent:      getEnvInt("MAX_CONCURRENT_RENDERS", 3),
		ComposeTimeoutS:    getEnvInt("COMPOSE_TIMEOUT_SECONDS", 300),
		AssembleTimeoutS:   getEnvInt("ASSEMBLE_TIMEOUT_SECONDS", 900),
		MaxRetries:         getEnvInt("COMPOSE_MAX_RETRIES", 2),
		FailureTolerance:   getEnvFloat("FAILURE_TOLERANCE", 1.0),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.StorageURL == "" || cfg.StorageServiceKey == "" {
		return nil, fmt.Errorf("STORAGE_URL and STORAGE_SERVICE_KEY are required")
	}

	if cfg.MaxConcurrent < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_RENDERS must be at least 1")
	}

	if cfg.FailureTolerance < 0 || cfg.FailureTolerance > 1 {
		return nil, fmt.Errorf("FAILURE_TOLERANCE must be between 0 and 1")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}
