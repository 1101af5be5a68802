package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/database"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/logger"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// DirectLineConfig holds settings for the Copilot Studio Direct Line channel.
type DirectLineConfig struct {
	Secret string `yaml:"secret" envconfig:"DIRECT_LINE_SECRET"`
	// BaseURL points at the Direct Line v3 API root.
	BaseURL string `yaml:"base_url" envconfig:"DIRECT_LINE_BASE_URL"`
	// RequestTimeoutSeconds bounds a single API call, including the
	// server-side long-poll hold on activity fetches.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" envconfig:"DIRECT_LINE_REQUEST_TIMEOUT_SECONDS"`
}

// RelayConfig tunes the session relay engine.
type RelayConfig struct {
	// PollIntervalMS is the pause between consecutive activity fetches.
	PollIntervalMS int `yaml:"poll_interval_ms" envconfig:"RELAY_POLL_INTERVAL_MS"`
	// BackoffBaseMS is the initial backoff after a transient poll error.
	BackoffBaseMS int `yaml:"backoff_base_ms" envconfig:"RELAY_BACKOFF_BASE_MS"`
	// BackoffMaxMS caps the exponential backoff.
	BackoffMaxMS int `yaml:"backoff_max_ms" envconfig:"RELAY_BACKOFF_MAX_MS"`
	// IdleTimeoutSeconds terminates a poll worker with no user activity.
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds" envconfig:"RELAY_IDLE_TIMEOUT_SECONDS"`
	// DedupSize bounds the per-session dedup cache entry count.
	DedupSize int `yaml:"dedup_size" envconfig:"RELAY_DEDUP_SIZE"`
	// DedupTTLSeconds bounds the age of dedup entries.
	DedupTTLSeconds int `yaml:"dedup_ttl_seconds" envconfig:"RELAY_DEDUP_TTL_SECONDS"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"

	defaultDirectLineBaseURL = "https://directline.botframework.com/v3/directline"
)

// RateLimitConfig holds settings for inbound rate limiting.
type RateLimitConfig struct {
	IntervalMS int `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
}

// Config aggregates the application configuration.
type Config struct {
	Telegram   TelegramConfig  `yaml:"telegram"`
	Webhook    WebhookConfig   `yaml:"webhook"`
	DirectLine DirectLineConfig `yaml:"directline"`
	Relay      RelayConfig     `yaml:"relay"`
	Logging    logger.Config   `yaml:"logging"`
	Database   database.Config `yaml:"database"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if cfg.DirectLine.Secret == "" {
		return fmt.Errorf("directline.secret is required")
	}
	if strings.TrimSpace(cfg.DirectLine.BaseURL) == "" {
		cfg.DirectLine.BaseURL = defaultDirectLineBaseURL
	}
	cfg.DirectLine.BaseURL = strings.TrimRight(cfg.DirectLine.BaseURL, "/")
	if cfg.DirectLine.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("directline.request_timeout_seconds must be >= 0")
	}
	if cfg.DirectLine.RequestTimeoutSeconds == 0 {
		cfg.DirectLine.RequestTimeoutSeconds = 35
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	if err := normalizeRelay(&cfg.Relay); err != nil {
		return err
	}
	return nil
}

func normalizeRelay(r *RelayConfig) error {
	for name, v := range map[string]int{
		"relay.poll_interval_ms":   r.PollIntervalMS,
		"relay.backoff_base_ms":    r.BackoffBaseMS,
		"relay.backoff_max_ms":     r.BackoffMaxMS,
		"relay.idle_timeout_seconds": r.IdleTimeoutSeconds,
		"relay.dedup_size":         r.DedupSize,
		"relay.dedup_ttl_seconds":  r.DedupTTLSeconds,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	if r.PollIntervalMS == 0 {
		r.PollIntervalMS = 1000
	}
	if r.BackoffBaseMS == 0 {
		r.BackoffBaseMS = 1000
	}
	if r.BackoffMaxMS == 0 {
		r.BackoffMaxMS = 30000
	}
	if r.BackoffMaxMS < r.BackoffBaseMS {
		return fmt.Errorf("relay.backoff_max_ms must be >= relay.backoff_base_ms")
	}
	if r.IdleTimeoutSeconds == 0 {
		r.IdleTimeoutSeconds = 300
	}
	if r.DedupSize == 0 {
		r.DedupSize = 512
	}
	if r.DedupTTLSeconds == 0 {
		r.DedupTTLSeconds = 900
	}
	return nil
}

// PollInterval returns the relay poll pause as a duration.
func (r RelayConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMS) * time.Millisecond
}

// BackoffBase returns the initial transient-error backoff as a duration.
func (r RelayConfig) BackoffBase() time.Duration {
	return time.Duration(r.BackoffBaseMS) * time.Millisecond
}

// BackoffMax returns the backoff cap as a duration.
func (r RelayConfig) BackoffMax() time.Duration {
	return time.Duration(r.BackoffMaxMS) * time.Millisecond
}

// IdleTimeout returns the worker idle window as a duration.
func (r RelayConfig) IdleTimeout() time.Duration {
	return time.Duration(r.IdleTimeoutSeconds) * time.Second
}

// DedupTTL returns the dedup entry age bound as a duration.
func (r RelayConfig) DedupTTL() time.Duration {
	return time.Duration(r.DedupTTLSeconds) * time.Second
}

// RequestTimeout returns the Direct Line per-request timeout as a duration.
func (d DirectLineConfig) RequestTimeout() time.Duration {
	return time.Duration(d.RequestTimeoutSeconds) * time.Second
}
