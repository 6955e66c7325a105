// Package config handles configuration loading and validation for gymbell.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/gymbell/gymbell/internal/retry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GYMBELL_"

// Config is the full gymbell configuration.
type Config struct {
	APIURL       string        `yaml:"api_url"`
	DashboardURL string        `yaml:"dashboard_url"`
	Token        string        `yaml:"token"`
	DataDir      string        `yaml:"data_dir"`
	PushBaseURL  string        `yaml:"push_base_url"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`

	Worker        WorkerConfig        `yaml:"worker"`
	Notifications NotificationsConfig `yaml:"notifications"`
	NATS          NATSConfig          `yaml:"nats"`
	Log           LogConfig           `yaml:"log"`
}

// WorkerConfig bounds the wait for the push worker.
type WorkerConfig struct {
	Attempts          int           `yaml:"attempts"`
	Backoff           time.Duration `yaml:"backoff"`
	ActivationTimeout time.Duration `yaml:"activation_timeout"`
}

// NotificationsConfig controls the inbox.
type NotificationsConfig struct {
	PageSize int `yaml:"page_size"`
}

// NATSConfig enables the message bridge when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// LogConfig selects the log level and destination.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"` // empty = stderr
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		APIURL:       "https://api.gymbell.app",
		DashboardURL: "https://app.gymbell.app",
		DataDir:      defaultDataDir(),
		PushBaseURL:  "https://push.gymbell.app/v1",
		HTTPTimeout:  30 * time.Second,
		Worker: WorkerConfig{
			Attempts:          retry.DefaultAttempts,
			Backoff:           retry.DefaultBackoff,
			ActivationTimeout: 5 * time.Second,
		},
		Notifications: NotificationsConfig{
			PageSize: 50,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultConfigPath returns ~/.config/gymbell/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gymbell", "config.yaml")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gymbell"
	}
	return filepath.Join(home, ".gymbell")
}

// Load builds the configuration from defaults, the YAML file at
// configPath, the dotenv file at envFile, and GYMBELL_* variables, in
// increasing order of precedence. Missing files are skipped.
func Load(configPath, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			// Variables already set in the environment win over the file.
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load env file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("env override: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnv overrides fields from GYMBELL_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("API_URL", &c.APIURL)
	str("DASHBOARD_URL", &c.DashboardURL)
	str("TOKEN", &c.Token)
	str("DATA_DIR", &c.DataDir)
	str("PUSH_BASE_URL", &c.PushBaseURL)
	str("NATS_URL", &c.NATS.URL)
	str("NATS_SUBJECT", &c.NATS.Subject)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)

	return errors.Join(
		dur("HTTP_TIMEOUT", &c.HTTPTimeout),
		num("WORKER_ATTEMPTS", &c.Worker.Attempts),
		dur("WORKER_BACKOFF", &c.Worker.Backoff),
		dur("WORKER_ACTIVATION_TIMEOUT", &c.Worker.ActivationTimeout),
		num("PAGE_SIZE", &c.Notifications.PageSize),
	)
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.APIURL == "" {
		c.APIURL = defaults.APIURL
	}
	if c.DataDir == "" {
		c.DataDir = defaults.DataDir
	}
	c.DataDir = expandHome(c.DataDir)
	if c.Log.File != "" {
		c.Log.File = expandHome(c.Log.File)
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = defaults.HTTPTimeout
	}
	if c.Worker.Attempts == 0 {
		c.Worker.Attempts = defaults.Worker.Attempts
	}
	if c.Worker.ActivationTimeout == 0 {
		c.Worker.ActivationTimeout = defaults.Worker.ActivationTimeout
	}
	if c.Notifications.PageSize == 0 {
		c.Notifications.PageSize = defaults.Notifications.PageSize
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := validateURL("api_url", c.APIURL); err != nil {
		return err
	}
	if c.DashboardURL != "" {
		if err := validateURL("dashboard_url", c.DashboardURL); err != nil {
			return err
		}
	}
	if c.PushBaseURL != "" {
		if err := validateURL("push_base_url", c.PushBaseURL); err != nil {
			return err
		}
	}

	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive")
	}

	if c.Worker.Attempts < 1 {
		return fmt.Errorf("worker.attempts must be at least 1")
	}
	if c.Worker.Backoff < 0 {
		return fmt.Errorf("worker.backoff cannot be negative")
	}
	if c.Worker.ActivationTimeout <= 0 {
		return fmt.Errorf("worker.activation_timeout must be positive")
	}

	if c.Notifications.PageSize < 1 || c.Notifications.PageSize > 100 {
		return fmt.Errorf("notifications.page_size must be between 1 and 100")
	}

	if strings.ContainsAny(c.NATS.Subject, " \t*>") {
		return fmt.Errorf("nats.subject %q must be a literal subject", c.NATS.Subject)
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", key, raw)
	}
	return nil
}

// RetryPolicy returns the worker readiness policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{Attempts: c.Worker.Attempts, Backoff: c.Worker.Backoff}
}

// TokenFile returns <data_dir>/token.
func (c *Config) TokenFile() string {
	return filepath.Join(c.DataDir, "token")
}

// LogFile returns the configured log file, or <data_dir>/gymbell.log when
// the caller needs a file and none is configured.
func (c *Config) LogFile(required bool) string {
	if c.Log.File != "" || !required {
		return c.Log.File
	}
	return filepath.Join(c.DataDir, "gymbell.log")
}

// ResolveToken returns the auth token using precedence: flag > env var or
// config file > token file > empty.
func (c *Config) ResolveToken(flag string) string {
	if flag != "" {
		return flag
	}
	if c.Token != "" {
		return c.Token
	}
	data, err := os.ReadFile(c.TokenFile())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SaveToken writes tok to the token file, readable only by the owner.
func (c *Config) SaveToken(tok string) error {
	path := c.TokenFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(strings.TrimSpace(tok)), 0o600); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// DeleteToken removes the token file. A missing file is not an error.
func (c *Config) DeleteToken() error {
	if err := os.Remove(c.TokenFile()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
