// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Values are resolved in
// order: defaults, then a YAML config file if one exists, then
// environment variables.
type Config struct {
	Port         string
	FrontendURL  string
	DBPath       string
	JWTSecret    string
	RedisAddr    string
	PingInterval time.Duration
	Oracle       OracleConfig
	RateLimit    RateLimitConfig
	Transcript   TranscriptConfig
}

// OracleConfig points at the upstream conversational model service.
type OracleConfig struct {
	URL     string
	Timeout time.Duration
}

// RateLimitConfig bounds how many utterances a session may submit per window.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// TranscriptConfig controls NDJSON conversation transcript logging.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// fileConfig mirrors the YAML config file. Durations are integer seconds.
type fileConfig struct {
	Port            string `yaml:"port"`
	FrontendURL     string `yaml:"frontend_url"`
	DBPath          string `yaml:"db_path"`
	JWTSecret       string `yaml:"jwt_secret"`
	RedisAddr       string `yaml:"redis_addr"`
	PingIntervalSec int    `yaml:"ping_interval_sec"`
	Oracle          struct {
		URL        string `yaml:"url"`
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"oracle"`
	RateLimit struct {
		Requests  int `yaml:"requests"`
		WindowSec int `yaml:"window_sec"`
	} `yaml:"rate_limit"`
	Transcript struct {
		Enabled   *bool  `yaml:"enabled"`
		Dir       string `yaml:"dir"`
		QueueSize int    `yaml:"queue_size"`
	} `yaml:"transcript"`
}

// Load reads configuration from an optional YAML file and environment
// variables. The file path comes from AIDE_CONFIG, falling back to
// ./aide.yaml; a missing file is not an error.
func Load() (*Config, error) {
	cfg := defaults()

	path := getEnv("AIDE_CONFIG", "aide.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.applyFile(data); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:         "8080",
		DBPath:       "./data/aide.db",
		PingInterval: 30 * time.Second,
		Oracle: OracleConfig{
			Timeout: 60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Requests: 30,
			Window:   time.Minute,
		},
		Transcript: TranscriptConfig{
			Enabled:   true,
			Dir:       "./data/transcripts",
			QueueSize: 1000,
		},
	}
}

// applyFile overlays non-empty file values onto the config. Environment
// variables referenced in the file are expanded first.
func (c *Config) applyFile(data []byte) error {
	var f fileConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return err
	}

	if f.Port != "" {
		c.Port = f.Port
	}
	if f.FrontendURL != "" {
		c.FrontendURL = f.FrontendURL
	}
	if f.DBPath != "" {
		c.DBPath = f.DBPath
	}
	if f.JWTSecret != "" {
		c.JWTSecret = f.JWTSecret
	}
	if f.RedisAddr != "" {
		c.RedisAddr = f.RedisAddr
	}
	if f.PingIntervalSec > 0 {
		c.PingInterval = time.Duration(f.PingIntervalSec) * time.Second
	}
	if f.Oracle.URL != "" {
		c.Oracle.URL = f.Oracle.URL
	}
	if f.Oracle.TimeoutSec > 0 {
		c.Oracle.Timeout = time.Duration(f.Oracle.TimeoutSec) * time.Second
	}
	if f.RateLimit.Requests > 0 {
		c.RateLimit.Requests = f.RateLimit.Requests
	}
	if f.RateLimit.WindowSec > 0 {
		c.RateLimit.Window = time.Duration(f.RateLimit.WindowSec) * time.Second
	}
	if f.Transcript.Enabled != nil {
		c.Transcript.Enabled = *f.Transcript.Enabled
	}
	if f.Transcript.Dir != "" {
		c.Transcript.Dir = f.Transcript.Dir
	}
	if f.Transcript.QueueSize > 0 {
		c.Transcript.QueueSize = f.Transcript.QueueSize
	}

	return nil
}

// applyEnv overrides config fields from environment variables.
func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.PingInterval = getEnvDuration("PING_INTERVAL", c.PingInterval)
	c.Oracle.URL = getEnv("ORACLE_URL", c.Oracle.URL)
	c.Oracle.Timeout = getEnvDuration("ORACLE_TIMEOUT", c.Oracle.Timeout)
	c.RateLimit.Requests = getEnvInt("RATE_LIMIT_REQUESTS", c.RateLimit.Requests)
	c.RateLimit.Window = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimit.Window)
	c.Transcript.Enabled = getEnvBool("TRANSCRIPT_ENABLED", c.Transcript.Enabled)
	c.Transcript.Dir = getEnv("TRANSCRIPT_DIR", c.Transcript.Dir)
	c.Transcript.QueueSize = getEnvInt("TRANSCRIPT_QUEUE_SIZE", c.Transcript.QueueSize)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("PING_INTERVAL must be > 0")
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT must be > 0")
	}
	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Transcript.Enabled {
		if c.Transcript.Dir == "" {
			return fmt.Errorf("TRANSCRIPT_DIR cannot be empty")
		}
		if c.Transcript.QueueSize <= 0 {
			return fmt.Errorf("TRANSCRIPT_QUEUE_SIZE must be > 0")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
