package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/langchou/pumpspy/internal/api/pumpspy"
	"github.com/langchou/pumpspy/internal/service"
)

type Config struct {
	// Server
	ServerPort string `env:"PORT" envDefault:"4000"`
	Debug      bool   `env:"DEBUG" envDefault:"false"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// Database, optional
	DatabaseURL string `env:"DATABASE_URL"`

	// Pumpspy account
	Username  string   `env:"PUMPSPY_USERNAME"`
	Password  string   `env:"PUMPSPY_PASSWORD"`
	DeviceID  string   `env:"PUMPSPY_DEVICE_ID"`
	BaseURL   string   `env:"PUMPSPY_BASE_URL" envDefault:"http://www.pumpspy.com:8081"`
	Intervals []string `env:"PUMPSPY_INTERVALS" envDefault:"day,week,month" envSeparator:","`

	// Polling
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"300s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	RetryDelay     time.Duration `env:"RETRY_DELAY" envDefault:"1s"`

	// MQTT, disabled when MQTTHost is empty
	MQTTHost            string `env:"MQTT_HOST"`
	MQTTUsername        string `env:"MQTT_USER"`
	MQTTPassword        string `env:"MQTT_PASS"`
	MQTTDiscoveryPrefix string `env:"MQTT_DISCOVERY_PREFIX" envDefault:"homeassistant"`
}

// Load reads the environment, after an optional .env file.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Username == "" {
		return &pumpspy.ConfigurationError{Field: "PUMPSPY_USERNAME", Reason: "required"}
	}
	if c.Password == "" {
		return &pumpspy.ConfigurationError{Field: "PUMPSPY_PASSWORD", Reason: "required"}
	}
	if c.PollInterval <= 0 {
		return &pumpspy.ConfigurationError{Field: "POLL_INTERVAL", Reason: "must be positive"}
	}
	if c.RequestTimeout < 0 {
		return &pumpspy.ConfigurationError{Field: "REQUEST_TIMEOUT", Reason: "must not be negative"}
	}
	if c.RetryDelay < 0 {
		return &pumpspy.ConfigurationError{Field: "RETRY_DELAY", Reason: "must not be negative"}
	}
	if _, err := c.ParsedIntervals(); err != nil {
		return err
	}
	return nil
}

// ParsedIntervals returns the configured rollup intervals without duplicates.
func (c *Config) ParsedIntervals() ([]pumpspy.Interval, error) {
	intervals, err := service.ParseIntervals(c.Intervals)
	if err != nil {
		return nil, err
	}
	if len(intervals) == 0 {
		return nil, &pumpspy.ConfigurationError{Field: "PUMPSPY_INTERVALS", Reason: "at least one interval is required"}
	}
	return intervals, nil
}
