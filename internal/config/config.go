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
	Venues      map[string]VenueConfig `yaml:"venues"`
	Supervisor  SupervisorConfig       `yaml:"supervisor"`
	Storage     StorageConfig          `yaml:"storage"`
	Alerts      AlertConfig            `yaml:"alerts"`
	System      SystemConfig           `yaml:"system"`
	Concurrency ConcurrencyConfig      `yaml:"concurrency"`
	Telemetry   TelemetryConfig        `yaml:"telemetry"`
}

// VenueConfig contains per-venue connection settings. API credentials are
// deliberately absent: bots sign with the owning user's stored keys, not a
// process-wide pair.
type VenueConfig struct {
	BaseURL        string  `yaml:"base_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
}

// SupervisorConfig contains scheduling settings shared by the engines.
// Tick intervals are per strategy and fixed in the supervisor; only the
// cross-cutting knobs live here.
type SupervisorConfig struct {
	Venue                string `yaml:"venue"`
	SnapshotTTLMillis    int    `yaml:"snapshot_ttl_millis"`
	DrainTimeoutSeconds  int    `yaml:"drain_timeout_seconds"`
	ActivityLogRetention int    `yaml:"activity_log_retention"`
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// AlertConfig contains operator notification settings.
type AlertConfig struct {
	Enabled          bool   `yaml:"enabled"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	EnginePoolSize   int `yaml:"engine_pool_size" validate:"min=1,max=100"`
	EnginePoolBuffer int `yaml:"engine_pool_buffer" validate:"min=1,max=10000"`
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

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Supervisor.SnapshotTTLMillis == 0 {
		c.Supervisor.SnapshotTTLMillis = 1500
	}
	if c.Supervisor.DrainTimeoutSeconds == 0 {
		c.Supervisor.DrainTimeoutSeconds = 5
	}
	if c.Supervisor.ActivityLogRetention == 0 {
		c.Supervisor.ActivityLogRetention = 500
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "gcbbot.db"
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.Concurrency.EnginePoolSize == 0 {
		c.Concurrency.EnginePoolSize = 16
	}
	if c.Concurrency.EnginePoolBuffer == 0 {
		c.Concurrency.EnginePoolBuffer = 256
	}
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9090
	}
	for name, venue := range c.Venues {
		if venue.TimeoutSeconds == 0 {
			venue.TimeoutSeconds = 10
		}
		if venue.RequestsPerSec == 0 {
			venue.RequestsPerSec = 10
		}
		c.Venues[name] = venue
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateVenues(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSupervisor(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystem(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateAlerts(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

var validVenues = []string{"venue-a", "venue-b"}

func (c *Config) validateVenues() error {
	if len(c.Venues) == 0 {
		return ValidationError{
			Field:   "venues",
			Message: "at least one venue must be configured",
		}
	}
	for name, venue := range c.Venues {
		if !contains(validVenues, name) {
			return ValidationError{
				Field:   "venues",
				Value:   name,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(validVenues, ", ")),
			}
		}
		if venue.BaseURL == "" {
			return ValidationError{
				Field:   fmt.Sprintf("venues.%s.base_url", name),
				Message: "base URL is required",
			}
		}
		if !strings.HasPrefix(venue.BaseURL, "https://") && !strings.HasPrefix(venue.BaseURL, "http://") {
			return ValidationError{
				Field:   fmt.Sprintf("venues.%s.base_url", name),
				Value:   venue.BaseURL,
				Message: "must be an http(s) URL",
			}
		}
	}
	return nil
}

func (c *Config) validateSupervisor() error {
	if c.Supervisor.Venue == "" {
		return ValidationError{
			Field:   "supervisor.venue",
			Message: "active venue is required",
		}
	}
	if _, exists := c.Venues[c.Supervisor.Venue]; !exists {
		return ValidationError{
			Field:   "supervisor.venue",
			Value:   c.Supervisor.Venue,
			Message: "venue configuration not found in venues section",
		}
	}
	if c.Supervisor.SnapshotTTLMillis < 0 || c.Supervisor.SnapshotTTLMillis > 60000 {
		return ValidationError{
			Field:   "supervisor.snapshot_ttl_millis",
			Value:   c.Supervisor.SnapshotTTLMillis,
			Message: "must be between 0 and 60000",
		}
	}
	return nil
}

func (c *Config) validateSystem() error {
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

func (c *Config) validateAlerts() error {
	if !c.Alerts.Enabled {
		return nil
	}
	if c.Alerts.TelegramBotToken == "" {
		return ValidationError{
			Field:   "alerts.telegram_bot_token",
			Message: "bot token is required when alerts are enabled",
		}
	}
	if c.Alerts.TelegramChatID == "" {
		return ValidationError{
			Field:   "alerts.telegram_chat_id",
			Message: "chat id is required when alerts are enabled",
		}
	}
	return nil
}

// ActiveVenue returns the configuration for the venue the supervisor runs against
func (c *Config) ActiveVenue() (*VenueConfig, error) {
	venue, exists := c.Venues[c.Supervisor.Venue]
	if !exists {
		return nil, fmt.Errorf("venue configuration not found for: %s", c.Supervisor.Venue)
	}
	return &venue, nil
}

// SnapshotTTL returns the market snapshot cache TTL as a duration.
func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.Supervisor.SnapshotTTLMillis) * time.Millisecond
}

// DrainTimeout returns the shutdown drain deadline as a duration.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.Supervisor.DrainTimeoutSeconds) * time.Second
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	configCopy.Alerts.TelegramBotToken = maskString(c.Alerts.TelegramBotToken)

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
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
