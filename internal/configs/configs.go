/*
Package configs is responsible for loading and parsing the application's configuration settings.

It configures server parameters by reading operating system environment variables (optionally
seeded from a .env file), including the running environment, port, CORS allowed origins,
storage backends and liveness probing.
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const developmentJWTSecret = "your_default_insecure_secret_key_change_me"

// AppConfig contains all configuration parameters required for the application to run.
// All configuration values are loaded from environment variables.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int

	// Security Settings
	AllowedOrigins []string
	JWTSecret      string

	// Database Settings. An empty DatabaseDSN selects the embedded SQLite database.
	DatabaseDSN string
	SQLitePath  string

	// RedisURL enables the presence mirror when set.
	RedisURL string

	// S3 Storage Settings. Either all of bucket, endpoint and keys are set, or none.
	S3BucketName      string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Liveness Settings. MaxMissedProbes 0 disables eviction.
	HeartbeatInterval time.Duration
	MaxMissedProbes   int
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// S3Enabled reports whether object storage is configured.
func (c *AppConfig) S3Enabled() bool {
	return c.S3BucketName != ""
}

// LoadConfig loads a .env file if present and then reads the configuration from the environment.
func LoadConfig() (*AppConfig, error) {
	_ = godotenv.Load()

	return loadFromEnv()
}

// loadFromEnv provides default values for each configuration item and performs
// necessary type conversions and validation.
func loadFromEnv() (*AppConfig, error) {
	cfg := &AppConfig{}

	// --- General Server Settings ---
	cfg.Environment = getEnv("ENVIRONMENT", "development")

	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT environment variable: %w", err)
	}
	if port < 1024 || port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", port, 1024, 65535)
	}
	cfg.Port = port

	// --- Security Settings ---
	cfg.AllowedOrigins = []string{}
	for _, origin := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required in %s environment for security", cfg.Environment)
		}
		cfg.JWTSecret = developmentJWTSecret
	}

	// --- Database Settings ---
	cfg.DatabaseDSN = os.Getenv("DATABASE_URL")
	cfg.SQLitePath = getEnv("SQLITE_PATH", "./data/cryptochat.db")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	// --- S3 Storage Settings ---
	cfg.S3BucketName = os.Getenv("S3_BUCKET_NAME")
	cfg.S3Endpoint = os.Getenv("S3_ENDPOINT")
	cfg.S3Region = getEnv("S3_REGION", "auto")
	cfg.S3AccessKeyID = os.Getenv("S3_ACCESS_KEY_ID")
	cfg.S3SecretAccessKey = os.Getenv("S3_SECRET_ACCESS_KEY")

	s3Set := 0
	for _, v := range []string{cfg.S3BucketName, cfg.S3Endpoint, cfg.S3AccessKeyID, cfg.S3SecretAccessKey} {
		if v != "" {
			s3Set++
		}
	}
	if s3Set != 0 && s3Set != 4 {
		return nil, fmt.Errorf("S3_BUCKET_NAME, S3_ENDPOINT, S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}

	// --- Liveness Settings ---
	cfg.HeartbeatInterval, err = time.ParseDuration(getEnv("HEARTBEAT_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEARTBEAT_INTERVAL environment variable: %w", err)
	}
	if cfg.HeartbeatInterval < time.Second {
		return nil, fmt.Errorf("HEARTBEAT_INTERVAL must be at least 1s, got %s", cfg.HeartbeatInterval)
	}

	cfg.MaxMissedProbes, err = strconv.Atoi(getEnv("MAX_MISSED_PROBES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_MISSED_PROBES environment variable: %w", err)
	}
	if cfg.MaxMissedProbes < 0 {
		return nil, fmt.Errorf("MAX_MISSED_PROBES must not be negative, got %d", cfg.MaxMissedProbes)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
