// Package config provides YAML-based configuration loading for the
// consortium audit store.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// DefaultPromptPreview is the number of runes of a prompt kept on an
// evaluation row.
const DefaultPromptPreview = 2000

// Config is the top-level configuration, loaded from consortium.yaml.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Digest    DigestConfig    `yaml:"digest"`
}

// DatabaseConfig selects and locates the backing database.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"` // sqlite file, or ":memory:"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// LoggingConfig controls the structured log sink.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, json, console
}

// StoreConfig holds store-level limits.
type StoreConfig struct {
	PromptPreview int `yaml:"prompt_preview"`
}

// DashboardConfig holds settings for the read-only HTTP API.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// DigestConfig schedules the leaderboard digest and names its targets.
type DigestConfig struct {
	Schedule string        `yaml:"schedule"` // 5-field cron; empty disables
	Limit    int           `yaml:"limit"`
	Slack    ChannelTarget `yaml:"slack"`
	Discord  ChannelTarget `yaml:"discord"`
}

// ChannelTarget is a bot token plus the channel to post to.
type ChannelTarget struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// Enabled reports whether both token and channel are set.
func (t ChannelTarget) Enabled() bool {
	return t.Token != "" && t.Channel != ""
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault loads path when it exists and falls back to Default when
// it does not.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			c.Database.Path = "~/.llm_consortium/consortium.db"
		}
		c.Database.Path = expandHome(c.Database.Path)
	case DriverMySQL:
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "llm_consortium"
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "auto"
	}
	if c.Store.PromptPreview == 0 {
		c.Store.PromptPreview = DefaultPromptPreview
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Digest.Limit == 0 {
		c.Digest.Limit = 5
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case DriverSQLite, DriverMySQL:
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of sqlite, mysql", c.Database.Driver))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "auto", "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q is not one of auto, json, console", c.Logging.Format))
	}
	if c.Store.PromptPreview < 0 {
		errs = append(errs, "store.prompt_preview must be positive")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	if c.Digest.Schedule != "" && !c.Digest.Slack.Enabled() && !c.Digest.Discord.Enabled() {
		errs = append(errs, "digest.schedule is set but neither digest.slack nor digest.discord is configured")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
