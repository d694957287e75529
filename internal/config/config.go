package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Host     HostConfig     `yaml:"host"`
	API      APIConfig      `yaml:"api"`
	Batch    BatchConfig    `yaml:"batch"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port              int    `yaml:"port"`
	BasePath          string `yaml:"base_path"`
	TrustProxyHeaders bool   `yaml:"trust_proxy_headers"`
	// RequestsPerSecond bounds API calls per client IP. Zero disables the limit.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// BackupDir defaults to a "backups" directory next to the database.
	BackupDir  string `yaml:"backup_dir"`
	BackupKeep int    `yaml:"backup_keep"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	FilePath       string `yaml:"file_path"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxFiles   int    `yaml:"file_max_files"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
}

// HostConfig describes the ITSM platform the bridge forwards to.
type HostConfig struct {
	BaseURL           string        `yaml:"base_url"`
	AppToken          string        `yaml:"app_token"`
	SessionCookie     string        `yaml:"session_cookie"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	// ForbiddenActions maps an item type to action keys that must never be
	// offered for it.
	ForbiddenActions map[string][]string `yaml:"forbidden_actions"`
}

// APIConfig holds access-control defaults.
type APIConfig struct {
	// Enabled seeds the API-enabled flag on first start; afterwards the
	// stored setting wins.
	Enabled     bool           `yaml:"enabled"`
	SeedClients []ClientConfig `yaml:"seed_clients"`
}

// ClientConfig describes an API client created on first start.
type ClientConfig struct {
	Name      string `yaml:"name"`
	IPv4Start string `yaml:"ipv4_start"`
	IPv4End   string `yaml:"ipv4_end"`
	IPv6      string `yaml:"ipv6"`
}

// BatchConfig holds defaults for the batch execution engine.
type BatchConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	Concurrency       int           `yaml:"concurrency"`
	RetryUnit         time.Duration `yaml:"retry_unit"`
	JobRetention      time.Duration `yaml:"job_retention"`
	RetentionSchedule string        `yaml:"retention_schedule"`
}

// NotifyConfig lists webhook targets for batch completion.
type NotifyConfig struct {
	WebhookURLs []string `yaml:"webhook_urls"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			BasePath:          "/",
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Database: DatabaseConfig{
			Path:       "/data/massaction.db",
			BackupKeep: 5,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			FileMaxSizeMB:  100,
			FileMaxFiles:   3,
			FileMaxAgeDays: 30,
		},
		Host: HostConfig{
			BaseURL:           "http://localhost",
			Timeout:           60 * time.Second,
			RequestsPerSecond: 10,
		},
		API: APIConfig{
			Enabled: true,
		},
		Batch: BatchConfig{
			BatchSize:         50,
			Concurrency:       2,
			RetryUnit:         500 * time.Millisecond,
			JobRetention:      7 * 24 * time.Hour,
			RetentionSchedule: "@daily",
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("MA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("MA_BASE_PATH"); v != "" {
		c.Server.BasePath = v
	}
	if v := os.Getenv("MA_TRUST_PROXY_HEADERS"); v != "" {
		c.Server.TrustProxyHeaders = parseBool(v)
	}
	if v := os.Getenv("MA_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("MA_BACKUP_DIR"); v != "" {
		c.Database.BackupDir = v
	}
	if v := os.Getenv("MA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MA_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("MA_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("MA_HOST_URL"); v != "" {
		c.Host.BaseURL = v
	}
	if v := os.Getenv("MA_HOST_APP_TOKEN"); v != "" {
		c.Host.AppToken = v
	}
	if v := os.Getenv("MA_HOST_SESSION_COOKIE"); v != "" {
		c.Host.SessionCookie = v
	}
	if v := os.Getenv("MA_API_ENABLED"); v != "" {
		c.API.Enabled = parseBool(v)
	}
	if v := os.Getenv("MA_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Batch.BatchSize = n
		}
	}
	if v := os.Getenv("MA_BATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Batch.Concurrency = n
		}
	}
	if v := os.Getenv("MA_WEBHOOK_URLS"); v != "" {
		c.Notify.WebhookURLs = splitList(v)
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Database.BackupDir == "" {
		c.Database.BackupDir = filepath.Join(filepath.Dir(c.Database.Path), "backups")
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")

	u, err := url.Parse(c.Host.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid host base_url: %q", c.Host.BaseURL)
	}
	c.Host.BaseURL = strings.TrimRight(c.Host.BaseURL, "/")
	if c.Host.Timeout <= 0 {
		c.Host.Timeout = 60 * time.Second
	}

	if c.Batch.BatchSize < 1 {
		c.Batch.BatchSize = 1
	}
	if c.Batch.Concurrency < 1 {
		c.Batch.Concurrency = 1
	}
	if c.Batch.RetryUnit < 0 {
		c.Batch.RetryUnit = 0
	}
	if c.Batch.RetentionSchedule == "" {
		c.Batch.RetentionSchedule = "@daily"
	}
	return nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
