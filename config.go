package gazette

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/gazette/internal/schedule"
)

// Config configures the gazette service.
type Config struct {
	// Listen is the HTTP bind address.
	Listen string `yaml:"listen"`

	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`

	// PublishTime is the daily publication time in UTC, "HH:MM".
	PublishTime string `yaml:"publish_time"`

	// RecoveryDays bounds the startup catch-up scan.
	RecoveryDays int `yaml:"recovery_days"`

	// MaxFailures caps transient cycle retries before the cycle is
	// marked failed and left for the operator.
	MaxFailures int `yaml:"max_failures"`

	// ReviewRequired parks each summary for human approval before
	// publication.
	ReviewRequired bool `yaml:"review_required"`

	// WebhookToken, when set, must match the X-Gazette-Token header on
	// POST /webhook.
	WebhookToken string `yaml:"webhook_token"`

	// GenerateTimeout bounds one summary generation call.
	GenerateTimeout time.Duration `yaml:"generate_timeout"`

	// PublishTimeout bounds one outbound publish call.
	PublishTimeout time.Duration `yaml:"publish_timeout"`

	Gemini   GeminiConfig   `yaml:"gemini"`
	LinkedIn LinkedInConfig `yaml:"linkedin"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Telegram TelegramConfig `yaml:"telegram"`

	LogLevel string `yaml:"log_level"`
}

// GeminiConfig configures the summary generator.
type GeminiConfig struct {
	APIKey string   `yaml:"api_key"`
	Models []string `yaml:"models"`
}

// LinkedInConfig configures the LinkedIn publisher.
type LinkedInConfig struct {
	AccessToken string `yaml:"access_token"`
}

// WebhookConfig configures the generic webhook publisher, used instead
// of LinkedIn when URL is set.
type WebhookConfig struct {
	URL string `yaml:"url"`
}

// TelegramConfig configures the optional review notifier.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.DBPath == "" {
		c.DBPath = "data/gazette.db"
	}
	if c.PublishTime == "" {
		c.PublishTime = "18:00"
	}
	if c.RecoveryDays <= 0 {
		c.RecoveryDays = 7
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 30 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 30 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks field formats after defaults are applied.
func (c *Config) Validate() error {
	if _, _, err := schedule.ParsePublishTime(c.PublishTime); err != nil {
		return fmt.Errorf("publish_time: %w", err)
	}
	return nil
}

func defaultConfig() *Config {
	c := &Config{}
	c.defaults()
	return c
}

// LoadConfigFile reads a YAML configuration file and applies env
// overrides for the secrets that are usually not written to disk.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("LINKEDIN_ACCESS_TOKEN"); v != "" {
		c.LinkedIn.AccessToken = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("GAZETTE_WEBHOOK_TOKEN"); v != "" {
		c.WebhookToken = v
	}
}
