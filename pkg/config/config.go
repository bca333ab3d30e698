// Package config loads application configuration from environment
// variables with validated defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/crewflow/crewflow/pkg/observability"
	"github.com/crewflow/crewflow/pkg/ratelimit"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Directory     DirectoryConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DirectoryConfig selects and parameterizes the authoritative store.
type DirectoryConfig struct {
	// Type is "postgres" or "memory". Memory is for single-instance
	// development deployments only.
	Type        string
	PostgresURL string
	MaxConns    int
}

// AuthConfig holds credential verification settings.
type AuthConfig struct {
	// OIDCIssuerURL and OIDCClientID verify end-user tokens.
	OIDCIssuerURL string
	OIDCClientID  string

	// AgentTokenSecret signs machine credentials.
	AgentTokenSecret string
	// AgentTokenLifetime bounds issued machine credentials.
	AgentTokenLifetime time.Duration
}

// RateLimitConfig holds admission control settings.
type RateLimitConfig struct {
	// RedisURL enables the distributed limiter; empty selects the
	// in-memory limiter.
	RedisURL      string
	RedisPassword string
	RedisDB       int

	Window time.Duration
	// FailOpen admits traffic when the limiter backend is down.
	FailOpen bool
	// AgentTokenBudget bounds the token issuance endpoint per window.
	AgentTokenBudget int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("CREWFLOW_HOST", "0.0.0.0"),
			Port:            getEnv("CREWFLOW_PORT", "8080"),
			ReadTimeout:     getEnvDuration("CREWFLOW_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("CREWFLOW_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("CREWFLOW_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("CREWFLOW_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Directory: DirectoryConfig{
			Type:        getEnv("CREWFLOW_DIRECTORY_TYPE", "postgres"),
			PostgresURL: getEnv("CREWFLOW_POSTGRES_URL", ""),
			MaxConns:    getEnvInt("CREWFLOW_POSTGRES_MAX_CONNS", 25),
		},
		Auth: AuthConfig{
			OIDCIssuerURL:      getEnv("CREWFLOW_OIDC_ISSUER_URL", ""),
			OIDCClientID:       getEnv("CREWFLOW_OIDC_CLIENT_ID", ""),
			AgentTokenSecret:   getEnv("CREWFLOW_AGENT_TOKEN_SECRET", ""),
			AgentTokenLifetime: getEnvDuration("CREWFLOW_AGENT_TOKEN_LIFETIME", 0),
		},
		RateLimit: RateLimitConfig{
			RedisURL:         getEnv("CREWFLOW_REDIS_URL", ""),
			RedisPassword:    getEnv("CREWFLOW_REDIS_PASSWORD", ""),
			RedisDB:          getEnvInt("CREWFLOW_REDIS_DB", 0),
			Window:           getEnvDuration("CREWFLOW_RATELIMIT_WINDOW", ratelimit.DefaultWindow),
			FailOpen:         getEnvBool("CREWFLOW_RATELIMIT_FAIL_OPEN", true),
			AgentTokenBudget: getEnvInt("CREWFLOW_AGENT_TOKEN_BUDGET", 10),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(getEnv("CREWFLOW_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("CREWFLOW_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("CREWFLOW_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("CREWFLOW_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("CREWFLOW_OTEL_SERVICE_NAME", "crewflow"),
			OTelServiceVersion: getEnv("CREWFLOW_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("CREWFLOW_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Directory.Type {
	case "postgres":
		if c.Directory.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres directory")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid directory type: %s (must be postgres or memory)", c.Directory.Type)
	}

	if c.Auth.AgentTokenSecret == "" {
		return fmt.Errorf("agent token secret is required")
	}
	if c.Auth.OIDCIssuerURL == "" || c.Auth.OIDCClientID == "" {
		return fmt.Errorf("OIDC issuer URL and client ID are required")
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.RateLimit.AgentTokenBudget <= 0 {
		return fmt.Errorf("agent token budget must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
