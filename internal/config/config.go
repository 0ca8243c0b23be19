// Package config loads the application configuration from a YAML file with
// environment-variable overrides. A local .env file is honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the marketing engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Mailer    MailerConfig    `yaml:"mailer"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Tracking  TrackingConfig  `yaml:"tracking"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the optional Redis connection used for the scheduler
// tick lock. When Addr is empty the scheduler falls back to PG advisory
// locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MailerConfig selects and configures the mailer capability.
type MailerConfig struct {
	// Provider is "ses", "sparkpost", or "log" (dev no-op).
	Provider  string `yaml:"provider"`
	FromName  string `yaml:"from_name"`
	FromEmail string `yaml:"from_email"`

	SES       SESConfig       `yaml:"ses"`
	SparkPost SparkPostConfig `yaml:"sparkpost"`
}

// SESConfig holds AWS SES settings.
type SESConfig struct {
	Region string `yaml:"region"`
}

// SparkPostConfig holds SparkPost API settings.
type SparkPostConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// SchedulerConfig holds step scheduler tuning.
type SchedulerConfig struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
	WorkerCount         int `yaml:"worker_count"`
	BatchSize           int `yaml:"batch_size"`
	MaxSendAttempts     int `yaml:"max_send_attempts"`
	RetryBaseSeconds    int `yaml:"retry_base_seconds"`
	SendTimeoutSeconds  int `yaml:"send_timeout_seconds"`
}

// TickInterval returns the tick cadence as a duration.
func (s SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalSeconds) * time.Second
}

// SendTimeout returns the per-send timeout as a duration.
func (s SchedulerConfig) SendTimeout() time.Duration {
	return time.Duration(s.SendTimeoutSeconds) * time.Second
}

// RetryBase returns the base retry backoff as a duration.
func (s SchedulerConfig) RetryBase() time.Duration {
	return time.Duration(s.RetryBaseSeconds) * time.Second
}

// TrackingConfig holds the public tracking/unsubscribe URL base.
type TrackingConfig struct {
	BaseURL string `yaml:"base_url"`
}

// Load reads configuration from the given YAML path. A missing file yields
// defaults only, so a DATABASE_URL-driven deployment needs no config file.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Path returns the config file location, honoring CONFIG_PATH.
func Path() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return "config/config.yaml"
}

// LoadFromEnv loads the YAML config then applies environment overrides.
// A .env file is loaded first if present.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("MAILER_PROVIDER"); v != "" {
		cfg.Mailer.Provider = v
	}
	if v := os.Getenv("SPARKPOST_API_KEY"); v != "" {
		cfg.Mailer.SparkPost.APIKey = v
	}
	if v := os.Getenv("SPARKPOST_BASE_URL"); v != "" {
		cfg.Mailer.SparkPost.BaseURL = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Mailer.SES.Region = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Mailer: MailerConfig{
			Provider:  "log",
			FromName:  "Marketing",
			FromEmail: "noreply@example.com",
			SES:       SESConfig{Region: "us-east-1"},
			SparkPost: SparkPostConfig{BaseURL: "https://api.sparkpost.com/api/v1"},
		},
		Scheduler: SchedulerConfig{
			TickIntervalSeconds: 60,
			WorkerCount:         8,
			BatchSize:           100,
			MaxSendAttempts:     5,
			RetryBaseSeconds:    60,
			SendTimeoutSeconds:  30,
		},
		Tracking: TrackingConfig{
			BaseURL: "http://localhost:8080",
		},
	}
}
