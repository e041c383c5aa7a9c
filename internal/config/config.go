// Package config centralizes how ScanVault reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const (
	BlobBackendFile = "file"
	BlobBackendS3   = "s3"

	JWTModeHS256 = "hs256"
	JWTModeJWKS  = "jwks"
)

// Config represents runtime configuration shared by the server, the worker
// and the migrate command.
type Config struct {
	Address         string        `env:"SCANVAULT_ADDRESS" envDefault:":8080"`
	LogLevel        slog.Level    `env:"SCANVAULT_LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"SCANVAULT_LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SCANVAULT_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	CORSOrigins     []string      `env:"SCANVAULT_CORS_ORIGINS" envDefault:"*" envSeparator:","`

	// DatabaseURL selects PostgreSQL; empty keeps records in memory.
	DatabaseURL string `env:"SCANVAULT_DATABASE_URL"`
	DBMaxConns  int32  `env:"SCANVAULT_DB_MAX_CONNS" envDefault:"8"`

	BlobBackend   string   `env:"SCANVAULT_BLOB_BACKEND" envDefault:"file"`
	BlobDir       string   `env:"SCANVAULT_BLOB_DIR"`
	PublicBaseURL string   `env:"SCANVAULT_PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	SigningSecret string   `env:"SCANVAULT_SIGNING_SECRET"`
	S3Endpoint    string   `env:"SCANVAULT_S3_ENDPOINT" envDefault:"localhost:9000"`
	S3AccessKey   string   `env:"SCANVAULT_S3_ACCESS_KEY"`
	S3SecretKey   string   `env:"SCANVAULT_S3_SECRET_KEY"`
	S3Region      string   `env:"SCANVAULT_S3_REGION" envDefault:"us-east-1"`
	S3UseSSL      bool     `env:"SCANVAULT_S3_USE_SSL" envDefault:"false"`
	S3Bucket      string   `env:"SCANVAULT_S3_BUCKET" envDefault:"scan-images"`
	S3PublicURL   string   `env:"SCANVAULT_S3_PUBLIC_URL"`
	MaxImageBytes int64    `env:"SCANVAULT_MAX_IMAGE_BYTES" envDefault:"10485760"`
	AllowedTypes  []string `env:"SCANVAULT_ALLOWED_TYPES" envDefault:"image/jpeg,image/png" envSeparator:","`

	JWTMode   string `env:"SCANVAULT_JWT_MODE" envDefault:"hs256"`
	JWTSecret string `env:"SCANVAULT_JWT_SECRET"`
	JWKSURL   string `env:"SCANVAULT_JWKS_URL"`
	JWTIssuer string `env:"SCANVAULT_JWT_ISSUER"`

	CaptureEmailMarker string        `env:"SCANVAULT_CAPTURE_EMAIL_MARKER" envDefault:"technician"`
	RoleCacheSize      int           `env:"SCANVAULT_ROLE_CACHE_SIZE" envDefault:"1024"`
	RoleCacheTTL       time.Duration `env:"SCANVAULT_ROLE_CACHE_TTL" envDefault:"1h"`

	// RedisAddr enables the asynq verification queue; empty runs the
	// in-process pool instead.
	RedisAddr      string `env:"SCANVAULT_REDIS_ADDR"`
	RedisPassword  string `env:"SCANVAULT_REDIS_PASSWORD"`
	RedisDB        int    `env:"SCANVAULT_REDIS_DB" envDefault:"0"`
	ProcessingPool int    `env:"SCANVAULT_WORKERS" envDefault:"2"`
}

// Load reads an optional dotenv file named by SCANVAULT_ENV_FILE, then the
// environment, then validates the result.
func Load() (*Config, error) {
	if path := os.Getenv("SCANVAULT_ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerations and ranges and fills generated defaults.
func (c *Config) Validate() error {
	c.LogFormat = strings.ToLower(c.LogFormat)
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("SCANVAULT_LOG_FORMAT: invalid value %q, expected json or text", c.LogFormat)
	}
	c.BlobBackend = strings.ToLower(c.BlobBackend)
	switch c.BlobBackend {
	case BlobBackendFile:
		if c.BlobDir == "" {
			c.BlobDir = os.TempDir() + string(os.PathSeparator) + "scanvault-blobs"
		}
		if c.SigningSecret == "" {
			// Addresses signed with a random secret stop resolving after a
			// restart; set SCANVAULT_SIGNING_SECRET for durable addresses.
			c.SigningSecret = randomSecret()
		}
	case BlobBackendS3:
		if c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("SCANVAULT_S3_ACCESS_KEY and SCANVAULT_S3_SECRET_KEY are required for the s3 blob backend")
		}
	default:
		return fmt.Errorf("SCANVAULT_BLOB_BACKEND: invalid value %q, expected file or s3", c.BlobBackend)
	}
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")

	c.JWTMode = strings.ToLower(c.JWTMode)
	switch c.JWTMode {
	case JWTModeHS256:
		if c.JWTSecret == "" {
			return fmt.Errorf("SCANVAULT_JWT_SECRET is required when SCANVAULT_JWT_MODE=hs256")
		}
	case JWTModeJWKS:
		if c.JWKSURL == "" {
			return fmt.Errorf("SCANVAULT_JWKS_URL is required when SCANVAULT_JWT_MODE=jwks")
		}
	default:
		return fmt.Errorf("SCANVAULT_JWT_MODE: invalid value %q, expected hs256 or jwks", c.JWTMode)
	}

	if strings.TrimSpace(c.CaptureEmailMarker) == "" {
		return fmt.Errorf("SCANVAULT_CAPTURE_EMAIL_MARKER must not be empty")
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("SCANVAULT_MAX_IMAGE_BYTES: must be positive, got %d", c.MaxImageBytes)
	}
	if len(c.AllowedTypes) == 0 {
		return fmt.Errorf("SCANVAULT_ALLOWED_TYPES must list at least one content type")
	}
	for i := range c.AllowedTypes {
		c.AllowedTypes[i] = strings.ToLower(strings.TrimSpace(c.AllowedTypes[i]))
	}
	if c.RoleCacheSize <= 0 {
		return fmt.Errorf("SCANVAULT_ROLE_CACHE_SIZE: must be positive, got %d", c.RoleCacheSize)
	}
	if c.ProcessingPool <= 0 {
		c.ProcessingPool = 1
	}
	if c.DBMaxConns <= 0 {
		c.DBMaxConns = 8
	}
	return nil
}

// SetupLogger builds the process logger from the configuration and installs
// it as the slog default.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}
