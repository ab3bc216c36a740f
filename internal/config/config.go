// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/videncia/oraculo/internal/security"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Public site
	PublicBaseURL string // Externally reachable base URL, used in checkout redirects

	// Persona backend
	ChatBackendURL string // Empty means the scripted local backend
	ChatBackendKey string

	// Lead collection
	RecolectaURL string // Marketing endpoint for captured leads (optional)

	// Payments
	StripeSecretKey string // Empty outside production means the dev provider

	// Entitlements
	FreeMessageLimit int
	SessionTTL       time.Duration

	// Security
	RateLimitRPS int
	AdminToken   string // Operator token for the back office; empty disables /admin

	// Tracing
	OTLPEndpoint string // Optional OTLP gRPC endpoint
}

// Defaults
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultPublicBaseURL = "http://localhost:8080"
	DefaultFreeLimit     = 3
	DefaultSessionTTL    = 12 * time.Hour
	DefaultRateLimit     = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		PublicBaseURL:    getEnv("PUBLIC_BASE_URL", DefaultPublicBaseURL),
		ChatBackendURL:   os.Getenv("CHAT_BACKEND_URL"),
		ChatBackendKey:   os.Getenv("CHAT_BACKEND_KEY"),
		RecolectaURL:     os.Getenv("RECOLECTA_URL"),
		StripeSecretKey:  os.Getenv("STRIPE_SECRET_KEY"),
		FreeMessageLimit: int(getEnvInt64("FREE_MESSAGE_LIMIT", DefaultFreeLimit)),
		SessionTTL:       getEnvDuration("SESSION_TTL", DefaultSessionTTL),
		RateLimitRPS:     int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		AdminToken:       os.Getenv("ADMIN_TOKEN"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.FreeMessageLimit < 0 {
		return fmt.Errorf("FREE_MESSAGE_LIMIT must not be negative")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.PublicBaseURL == "" {
		return fmt.Errorf("PUBLIC_BASE_URL is required")
	}
	if strings.HasSuffix(c.PublicBaseURL, "/") {
		c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
	}
	if c.IsProduction() && c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
	}
	if c.IsProduction() {
		// Outbound endpoints are operator-supplied; refuse internal targets.
		for name, endpoint := range map[string]string{
			"CHAT_BACKEND_URL": c.ChatBackendURL,
			"RECOLECTA_URL":    c.RecolectaURL,
		} {
			if endpoint == "" {
				continue
			}
			if err := security.ValidateEndpointURL(endpoint); err != nil {
				return fmt.Errorf("%s: %v", name, err)
			}
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
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
