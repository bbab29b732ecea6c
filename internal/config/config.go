// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Server         ServerConfig           `yaml:"server"`
	Execution      ExecutionConfig        `yaml:"execution"`
	CircuitBreaker CircuitBreakerConfig   `yaml:"circuit_breaker"`
	Janitor        JanitorConfig          `yaml:"janitor"`
	Venues         map[string]VenueConfig `yaml:"venues"`
	System         SystemConfig           `yaml:"system"`
	Concurrency    ConcurrencyConfig      `yaml:"concurrency"`
	Telemetry      TelemetryConfig        `yaml:"telemetry"`
}

// ServerConfig contains the HTTP listener settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ExecutionConfig contains the submission pipeline settings
type ExecutionConfig struct {
	MaxRetries          int     `yaml:"max_retries"`
	RetryBaseDelayMs    int     `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs     int     `yaml:"retry_max_delay_ms"`
	OrderTimeoutMs      int     `yaml:"order_timeout_ms"`
	MaxConcurrentOrders int     `yaml:"max_concurrent_orders"`
	RateLimitPerSecond  float64 `yaml:"rate_limit_per_second"`
	EnablePartialFills  bool    `yaml:"enable_partial_fills"`
	DefaultVenue        string  `yaml:"default_venue"`
}

// CircuitBreakerConfig contains the per-venue breaker settings
type CircuitBreakerConfig struct {
	FailureThreshold  int `yaml:"failure_threshold"`
	RecoveryTimeoutMs int `yaml:"recovery_timeout_ms"`
}

// JanitorConfig controls reaping of terminal order state
type JanitorConfig struct {
	IntervalMs     int `yaml:"interval_ms"`
	RetentionHours int `yaml:"retention_hours"`
}

// VenueConfig contains venue-specific configuration
type VenueConfig struct {
	Type      string  `yaml:"type"` // mock or remote
	BaseURL   string  `yaml:"base_url"`
	WSURL     string  `yaml:"ws_url"`
	APIKey    string  `yaml:"api_key"`
	SecretKey string  `yaml:"secret_key"`
	FeeRate   float64 `yaml:"fee_rate"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	ExecutionPoolSize   int `yaml:"execution_pool_size"`
	ExecutionPoolBuffer int `yaml:"execution_pool_buffer"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateExecutionConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateCircuitBreakerConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateJanitorConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateVenues(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateExecutionConfig() error {
	if c.Execution.MaxRetries < 0 {
		return ValidationError{
			Field:   "execution.max_retries",
			Value:   c.Execution.MaxRetries,
			Message: "must not be negative",
		}
	}
	if c.Execution.RetryBaseDelayMs <= 0 {
		return ValidationError{
			Field:   "execution.retry_base_delay_ms",
			Value:   c.Execution.RetryBaseDelayMs,
			Message: "must be positive",
		}
	}
	if c.Execution.RetryMaxDelayMs < c.Execution.RetryBaseDelayMs {
		return ValidationError{
			Field:   "execution.retry_max_delay_ms",
			Value:   c.Execution.RetryMaxDelayMs,
			Message: "must not be below retry_base_delay_ms",
		}
	}
	if c.Execution.OrderTimeoutMs <= 0 {
		return ValidationError{
			Field:   "execution.order_timeout_ms",
			Value:   c.Execution.OrderTimeoutMs,
			Message: "must be positive",
		}
	}
	if c.Execution.MaxConcurrentOrders <= 0 {
		return ValidationError{
			Field:   "execution.max_concurrent_orders",
			Value:   c.Execution.MaxConcurrentOrders,
			Message: "must be positive",
		}
	}
	if c.Execution.DefaultVenue == "" {
		return ValidationError{
			Field:   "execution.default_venue",
			Message: "default venue is required",
		}
	}
	return nil
}

func (c *Config) validateCircuitBreakerConfig() error {
	if c.CircuitBreaker.FailureThreshold <= 0 {
		return ValidationError{
			Field:   "circuit_breaker.failure_threshold",
			Value:   c.CircuitBreaker.FailureThreshold,
			Message: "must be positive",
		}
	}
	if c.CircuitBreaker.RecoveryTimeoutMs <= 0 {
		return ValidationError{
			Field:   "circuit_breaker.recovery_timeout_ms",
			Value:   c.CircuitBreaker.RecoveryTimeoutMs,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateJanitorConfig() error {
	if c.Janitor.IntervalMs <= 0 {
		return ValidationError{
			Field:   "janitor.interval_ms",
			Value:   c.Janitor.IntervalMs,
			Message: "must be positive",
		}
	}
	if c.Janitor.RetentionHours <= 0 {
		return ValidationError{
			Field:   "janitor.retention_hours",
			Value:   c.Janitor.RetentionHours,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateVenues() error {
	if len(c.Venues) == 0 {
		return ValidationError{
			Field:   "venues",
			Message: "at least one venue must be configured",
		}
	}

	validTypes := []string{"mock", "remote"}
	for name, venue := range c.Venues {
		if !contains(validTypes, venue.Type) {
			return ValidationError{
				Field:   fmt.Sprintf("venues.%s.type", name),
				Value:   venue.Type,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(validTypes, ", ")),
			}
		}
		if venue.Type == "remote" && venue.BaseURL == "" {
			return ValidationError{
				Field:   fmt.Sprintf("venues.%s.base_url", name),
				Message: "base URL is required for remote venues",
			}
		}
	}

	if _, ok := c.Venues[c.Execution.DefaultVenue]; !ok {
		return ValidationError{
			Field:   "execution.default_venue",
			Value:   c.Execution.DefaultVenue,
			Message: "venue configuration not found in venues section",
		}
	}

	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// Duration helpers

func (c *ExecutionConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

func (c *ExecutionConfig) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMs) * time.Millisecond
}

func (c *ExecutionConfig) OrderTimeout() time.Duration {
	return time.Duration(c.OrderTimeoutMs) * time.Millisecond
}

func (c *CircuitBreakerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutMs) * time.Millisecond
}

func (c *JanitorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

func (c *JanitorConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	configCopy.Venues = make(map[string]VenueConfig, len(c.Venues))
	for name, venue := range c.Venues {
		venue.APIKey = maskString(venue.APIKey)
		venue.SecretKey = maskString(venue.SecretKey)
		configCopy.Venues[name] = venue
	}

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

// expandEnvVars substitutes ${VAR} references, with ${VAR:-default}
// falling back to the default when the variable is unset or empty.
func expandEnvVars(s string) string {
	return os.Expand(s, func(ref string) string {
		name, def, hasDefault := strings.Cut(ref, ":-")
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return os.Getenv(name)
	})
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns the configuration defaults. LoadConfig overlays the
// YAML file on top of these.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Execution: ExecutionConfig{
			MaxRetries:          3,
			RetryBaseDelayMs:    100,
			RetryMaxDelayMs:     5000,
			OrderTimeoutMs:      30000,
			MaxConcurrentOrders: 100,
			RateLimitPerSecond:  50,
			EnablePartialFills:  true,
			DefaultVenue:        "default",
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:  5,
			RecoveryTimeoutMs: 60000,
		},
		Janitor: JanitorConfig{
			IntervalMs:     3600000,
			RetentionHours: 24,
		},
		Venues: map[string]VenueConfig{
			"default": {
				Type:    "mock",
				FeeRate: 0.001,
			},
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Concurrency: ConcurrencyConfig{
			ExecutionPoolSize:   20,
			ExecutionPoolBuffer: 200,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}
