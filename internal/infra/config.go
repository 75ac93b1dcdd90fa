package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv                string
	Port                  string
	DatabaseURL           string
	RedisURL              string
	ReplicateAPIToken     string
	ReplicateBaseURL      string
	ReplicateModelVersion string
	StorageBackend        string
	S3Region              string
	S3Endpoint            string
	S3AccessKeyID         string
	S3SecretAccessKey     string
	S3ForcePathStyle      bool
	StoragePath           string
	StorageBaseURL        string
	SignedURLTTL          time.Duration
	PollInterval          time.Duration
	PollMaxAttempts       int
	CORSAllowedOrigins    []string
	RateLimitPerMin       int
	HTTPReadTimeout       time.Duration
	HTTPWriteTimeout      time.Duration
	HTTPIdleTimeout       time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:                getEnv("APP_ENV", "development"),
		Port:                  getEnv("PORT", "8080"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		ReplicateAPIToken:     os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:      getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateModelVersion: os.Getenv("REPLICATE_MODEL_VERSION"),
		StorageBackend:        getEnv("STORAGE_BACKEND", "filesystem"),
		S3Region:              getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:            os.Getenv("S3_ENDPOINT"),
		S3AccessKeyID:         os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:     os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3ForcePathStyle:      getEnv("S3_FORCE_PATH_STYLE", "") == "true",
		StoragePath:           getEnv("STORAGE_PATH", "./data/storage"),
		StorageBaseURL:        getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		SignedURLTTL:          time.Second * time.Duration(getEnvInt("SIGNED_URL_TTL_SECONDS", 3600)),
		PollInterval:          time.Second * time.Duration(getEnvInt("TRYON_POLL_INTERVAL_SECONDS", 5)),
		PollMaxAttempts:       getEnvInt("TRYON_POLL_MAX_ATTEMPTS", 60),
		CORSAllowedOrigins:    splitEnvList("CORS_ALLOWED_ORIGINS"),
		RateLimitPerMin:       getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		HTTPReadTimeout:       time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:      time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:       time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ReplicateAPIToken == "" {
		return nil, fmt.Errorf("REPLICATE_API_TOKEN is required")
	}

	switch cfg.StorageBackend {
	case "filesystem", "s3":
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
