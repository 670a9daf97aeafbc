package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"

	"github.com/upb/tracex/services"
	"github.com/upb/tracex/utils"
)

// DefaultSecretKey is the placeholder signing key. It is public and must be
// overridden with TRACEX_SECRET_KEY outside of local development.
const DefaultSecretKey = "CHANGEME"

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Tracing       TracingConfig
	Dashboard     DashboardConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// TracingConfig holds instrumentation, redaction and signing settings
type TracingConfig struct {
	SecretKey      string
	PIIRulesFile   string // optional YAML rules file
	PIIRulesWatch  bool   // reload PIIRulesFile on change
	RedactMaxDepth int
	TraceHTTP      bool // record api_request events for dashboard traffic
}

// DashboardConfig holds dashboard API settings
type DashboardConfig struct {
	PollInterval   time.Duration
	AuthSecret     string // HS256 secret; empty disables auth on destructive routes
	AllowedOrigins []string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "127.0.0.1"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Tracing: TracingConfig{
			SecretKey:      lookupEnv("TRACEX_SECRET_KEY", DefaultSecretKey),
			PIIRulesFile:   getEnv("TRACEX_PII_RULES_FILE", ""),
			PIIRulesWatch:  getEnvAsBool("TRACEX_PII_RULES_WATCH", false),
			RedactMaxDepth: getEnvAsInt("TRACEX_REDACT_MAX_DEPTH", 32),
			TraceHTTP:      getEnvAsBool("TRACEX_TRACE_HTTP", true),
		},
		Dashboard: DashboardConfig{
			PollInterval:   getEnvAsDuration("DASHBOARD_POLL_INTERVAL", 2*time.Second),
			AuthSecret:     getEnv("DASHBOARD_AUTH_SECRET", ""),
			AllowedOrigins: getEnvAsList("DASHBOARD_ALLOWED_ORIGINS", []string{"*"}),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Tracing.SecretKey == "" {
		return services.ErrMissingSigningKey
	}
	if c.IsProduction() && c.UsesDefaultSecret() {
		return services.WrapConfiguration("default signing key in production", fmt.Errorf("TRACEX_SECRET_KEY must be set when ENVIRONMENT=%s", c.Environment))
	}
	if c.Tracing.RedactMaxDepth <= 0 {
		return services.WrapConfiguration("invalid redaction depth", fmt.Errorf("TRACEX_REDACT_MAX_DEPTH must be positive, got %d", c.Tracing.RedactMaxDepth))
	}
	if c.Tracing.PIIRulesWatch && c.Tracing.PIIRulesFile == "" {
		return services.WrapConfiguration("invalid rules watch", fmt.Errorf("TRACEX_PII_RULES_WATCH requires TRACEX_PII_RULES_FILE"))
	}

	if c.Dashboard.PollInterval <= 0 {
		return services.WrapConfiguration("invalid poll interval", fmt.Errorf("DASHBOARD_POLL_INTERVAL must be positive, got %s", c.Dashboard.PollInterval))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return services.WrapConfiguration("invalid server port", fmt.Errorf("port %d out of range", c.Server.Port))
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return services.WrapConfiguration("log level is required", nil)
	}
	if _, err := zapcore.ParseLevel(c.Observability.LogLevel); err != nil {
		return services.WrapConfiguration("invalid log level", err)
	}
	if err := utils.ValidateOneOf(c.Observability.LogFormat, "LOG_FORMAT", []string{"json", "console"}); err != nil {
		return services.WrapConfiguration("invalid log format", err)
	}

	return nil
}

// UsesDefaultSecret reports whether the placeholder signing key is in use
func (c *Config) UsesDefaultSecret() bool {
	return c.Tracing.SecretKey == DefaultSecretKey
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8000)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// lookupEnv is like getEnv but keeps a value that is set and empty
func lookupEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
