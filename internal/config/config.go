// Package config provides configuration for the assistant runtime.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the runtime configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Upstream model provider
	AnthropicAPIKey string
	Model           string
	MaxTokens       int

	// Timeouts
	ProviderTimeout time.Duration
	ToolTimeout     time.Duration
	TurnBudget      time.Duration

	// Circuit breaker
	BreakerFailureThreshold int
	BreakerWindow           time.Duration
	BreakerCooldown         time.Duration

	// Billing
	MinQueryFloorCents int64
	RefillSchedule     string
	MonthlyRefillCents int64
	SignupBalanceCents int64

	// Internal evaluation credential. The bypass path is disabled unless the
	// key is at least 32 characters.
	InternalEvalKey string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:     getEnv("DATABASE_URL", "file:assistant.db?cache=shared&mode=rwc"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		Model:           getEnv("MODEL", "claude-sonnet-4-20250514"),
		MaxTokens:       getEnvInt("MAX_TOKENS", 4096),

		ProviderTimeout: time.Duration(getEnvInt("PROVIDER_TIMEOUT_MS", 120000)) * time.Millisecond,
		ToolTimeout:     time.Duration(getEnvInt("TOOL_TIMEOUT_MS", 15000)) * time.Millisecond,
		TurnBudget:      time.Duration(getEnvInt("TURN_BUDGET_MS", 300000)) * time.Millisecond,

		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerWindow:           time.Duration(getEnvInt("BREAKER_WINDOW_MS", 60000)) * time.Millisecond,
		BreakerCooldown:         time.Duration(getEnvInt("BREAKER_COOLDOWN_MS", 30000)) * time.Millisecond,

		MinQueryFloorCents: int64(getEnvInt("MIN_QUERY_FLOOR_CENTS", 2)),
		RefillSchedule:     getEnv("REFILL_SCHEDULE", "@hourly"),
		MonthlyRefillCents: int64(getEnvInt("MONTHLY_REFILL_CENTS", 500)),
		SignupBalanceCents: int64(getEnvInt("SIGNUP_BALANCE_CENTS", 100)),

		InternalEvalKey: getEnv("INTERNAL_EVAL_KEY", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
