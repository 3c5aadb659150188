// Package config provides YAML-based configuration loading for the bridge.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level bridge configuration, loaded from config.yaml.
type Config struct {
	Platform    string            `yaml:"platform"` // "telegram" or "slack"
	Telegram    TelegramConfig    `yaml:"telegram"`
	Slack       SlackConfig       `yaml:"slack"`
	Helpdesk    HelpdeskConfig    `yaml:"helpdesk"`
	Database    DatabaseConfig    `yaml:"database"`
	Statuses    StatusConfig      `yaml:"statuses"`
	Cache       CacheConfig       `yaml:"cache"`
	Attachments AttachmentConfig  `yaml:"attachments"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Reminder    ReminderConfig    `yaml:"reminder"`
	ChunkLimit  int               `yaml:"chunk_limit"`
}

// TelegramConfig holds bot API credentials for the Telegram adapter.
type TelegramConfig struct {
	Token string `yaml:"token"`
}

// SlackConfig holds Socket Mode credentials for the Slack adapter.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
}

// HelpdeskConfig holds connection settings for the ticketing API.
type HelpdeskConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	AuthToken  string `yaml:"auth_token"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// DatabaseConfig selects the mapping store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // mysql dsn
}

// StatusConfig maps the helpdesk's status identifiers onto canonical states.
type StatusConfig struct {
	Open     []int          `yaml:"open"`
	Pending  []int          `yaml:"pending"`
	Closed   []int          `yaml:"closed"`
	ReopenTo int            `yaml:"reopen_to"`
	Labels   map[int]string `yaml:"labels"`
}

// CacheConfig tunes the status cache.
type CacheConfig struct {
	TTLSec int `yaml:"ttl_sec"`
}

// AttachmentConfig bounds the attachment relay.
type AttachmentConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
	Attempts int   `yaml:"attempts"`
}

// WebhookConfig configures the push listener. Header overrides the
// request header carrying the shared secret.
type WebhookConfig struct {
	Port   int    `yaml:"port"`
	Secret string `yaml:"secret"`
	Header string `yaml:"header"`
}

// ReminderConfig schedules pending-ticket nudges. An empty cron
// expression disables the job.
type ReminderConfig struct {
	Cron     string `yaml:"cron"`
	AgeHours int    `yaml:"age_hours"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
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
	if c.Platform == "" {
		c.Platform = "telegram"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "bridge.db"
	}
	if c.Helpdesk.TimeoutSec == 0 {
		c.Helpdesk.TimeoutSec = 15
	}
	if c.Cache.TTLSec == 0 {
		c.Cache.TTLSec = 300
	}
	if c.Webhook.Port == 0 {
		c.Webhook.Port = 8090
	}
	if c.Reminder.AgeHours == 0 {
		c.Reminder.AgeHours = 24
	}
	if c.Statuses.ReopenTo == 0 && len(c.Statuses.Open) > 0 {
		c.Statuses.ReopenTo = c.Statuses.Open[0]
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Platform {
	case "telegram":
		if c.Telegram.Token == "" {
			errs = append(errs, "telegram.token is required")
		}
	case "slack":
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("platform %q is not supported", c.Platform))
	}
	if c.Helpdesk.BaseURL == "" {
		errs = append(errs, "helpdesk.base_url is required")
	}
	if c.Helpdesk.APIKey == "" {
		errs = append(errs, "helpdesk.api_key is required")
	}
	if c.Database.Driver == "mysql" && c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required for mysql")
	}
	if len(c.Statuses.Open) == 0 {
		errs = append(errs, "statuses.open needs at least one id")
	}
	if len(c.Statuses.Closed) == 0 {
		errs = append(errs, "statuses.closed needs at least one id")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// HelpdeskTimeout returns the helpdesk call timeout as a duration.
func (c *Config) HelpdeskTimeout() time.Duration {
	return time.Duration(c.Helpdesk.TimeoutSec) * time.Second
}

// CacheTTL returns the status cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSec) * time.Second
}

// ReminderAge returns the pending age threshold as a duration.
func (c *Config) ReminderAge() time.Duration {
	return time.Duration(c.Reminder.AgeHours) * time.Hour
}
