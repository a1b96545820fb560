// Package config provides configuration management for the wheel tracker.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied when optional fields are unset.
const (
	defaultForecastMinHistory = 4
	defaultForecastHorizon    = 6
	defaultForecastConfidence = 0.95
	defaultSeasonPeriod       = 12
	defaultFeedTimeout        = 10 * time.Second
	defaultServerPort         = 8080
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Exports     ExportsConfig     `yaml:"exports"`
	Feed        FeedConfig        `yaml:"feed"`
	Validator   ValidatorConfig   `yaml:"validator"`
	Forecast    ForecastConfig    `yaml:"forecast"`
	Server      ServerConfig      `yaml:"server"`
}

// EnvironmentConfig defines runtime environment settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// ExportsConfig lists the Flex export files to ingest.
type ExportsConfig struct {
	Paths []string `yaml:"paths"`
}

// FeedConfig defines the external position snapshot endpoint. An empty
// endpoint disables reconciliation for the run.
type FeedConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"api_key"`
	AccountID string        `yaml:"account_id"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ValidatorConfig tunes discrepancy severity grading.
type ValidatorConfig struct {
	CriticalShares float64 `yaml:"critical_shares"`
	WarningShares  float64 `yaml:"warning_shares"`
	CriticalPct    float64 `yaml:"critical_pct"`
	WarningPct     float64 `yaml:"warning_pct"`
}

// ForecastConfig tunes the income forecaster.
type ForecastConfig struct {
	MinHistory   int     `yaml:"min_history"`
	Horizon      int     `yaml:"horizon"`
	Confidence   float64 `yaml:"confidence"`
	SeasonPeriod int     `yaml:"season_period"`
}

// ServerConfig defines the report server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Forecast.MinHistory == 0 {
		c.Forecast.MinHistory = defaultForecastMinHistory
	}
	if c.Forecast.Horizon == 0 {
		c.Forecast.Horizon = defaultForecastHorizon
	}
	if c.Forecast.Confidence == 0 {
		c.Forecast.Confidence = defaultForecastConfidence
	}
	if c.Forecast.SeasonPeriod == 0 {
		c.Forecast.SeasonPeriod = defaultSeasonPeriod
	}
	if c.Feed.Timeout == 0 {
		c.Feed.Timeout = defaultFeedTimeout
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultServerPort
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug, info, warn, error")
	}

	if len(c.Exports.Paths) == 0 {
		return fmt.Errorf("exports.paths must list at least one export file")
	}
	for _, p := range c.Exports.Paths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("exports.paths must not contain empty entries")
		}
	}

	if c.Feed.Endpoint != "" {
		if c.Feed.APIKey == "" {
			return fmt.Errorf("feed.api_key is required when feed.endpoint is set")
		}
		if c.Feed.AccountID == "" {
			return fmt.Errorf("feed.account_id is required when feed.endpoint is set")
		}
	}

	if c.Validator.CriticalShares < 0 || c.Validator.WarningShares < 0 {
		return fmt.Errorf("validator share thresholds must be >= 0")
	}
	if c.Validator.CriticalPct < 0 || c.Validator.WarningPct < 0 {
		return fmt.Errorf("validator percentage thresholds must be >= 0")
	}

	if c.Forecast.MinHistory < 1 {
		return fmt.Errorf("forecast.min_history must be >= 1")
	}
	if c.Forecast.Horizon < 1 {
		return fmt.Errorf("forecast.horizon must be >= 1")
	}
	if c.Forecast.Confidence <= 0 || c.Forecast.Confidence >= 1 {
		return fmt.Errorf("forecast.confidence must be between 0 and 1 exclusive")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port")
	}

	return nil
}
