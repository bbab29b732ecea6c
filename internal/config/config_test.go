package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9000
execution:
  max_retries: 5
  retry_base_delay_ms: 50
  retry_max_delay_ms: 2000
  default_venue: primary
circuit_breaker:
  failure_threshold: 10
  recovery_timeout_ms: 30000
venues:
  primary:
    type: mock
    fee_rate: 0.0005
system:
  log_level: DEBUG
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Execution.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Execution.RetryBaseDelay())
	assert.Equal(t, "primary", cfg.Execution.DefaultVenue)
	assert.Equal(t, 10, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.CircuitBreaker.RecoveryTimeout())
	assert.Equal(t, "DEBUG", cfg.System.LogLevel)

	// Unset sections keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Execution.OrderTimeout())
	assert.Equal(t, 24*time.Hour, cfg.Janitor.Retention())
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	t.Setenv("VENUE_API_KEY", "secret-key-value")

	path := writeConfig(t, `
venues:
  default:
    type: remote
    base_url: https://venue.example.com
    api_key: ${VENUE_API_KEY}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-key-value", cfg.Venues["default"].APIKey)
}

func TestLoadConfig_EnvExpansionWithDefault(t *testing.T) {
	path := writeConfig(t, `
venues:
  default:
    type: remote
    base_url: ${GATEWAY_VENUE_URL:-https://fallback.example.com}
`)

	// Unset: the default applies.
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://fallback.example.com", cfg.Venues["default"].BaseURL)

	// Set: the variable wins over the default.
	t.Setenv("GATEWAY_VENUE_URL", "https://live.example.com")
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://live.example.com", cfg.Venues["default"].BaseURL)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/gateway.yaml")
	assert.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "execution: [not a map")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidate_BadExecution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Execution.RetryMaxDelayMs = 10 // below base delay
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry_max_delay_ms")
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.System.LogLevel = "VERBOSE"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestValidate_UnknownDefaultVenue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Execution.DefaultVenue = "missing"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_venue")
}

func TestValidate_RemoteVenueNeedsBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Venues["default"] = VenueConfig{Type: "remote"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}

func TestValidate_BadVenueType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Venues["default"] = VenueConfig{Type: "carrier-pigeon"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type")
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Venues["default"] = VenueConfig{
		Type:      "mock",
		APIKey:    "super-secret-api-key",
		SecretKey: "short",
	}

	out := cfg.String()
	assert.NotContains(t, out, "super-secret-api-key")
	assert.NotContains(t, out, "short")
	assert.Contains(t, out, "supe")
}
