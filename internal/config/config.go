// Package config loads application configuration from file and
// environment and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/iliarafa/llmarena/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Arena      ArenaConfig      `yaml:"arena" mapstructure:"arena"`
	Credits    CreditsConfig    `yaml:"credits" mapstructure:"credits"`
	Payments   PaymentsConfig   `yaml:"payments" mapstructure:"payments"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr           string   `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ProviderConfig holds the settings for one LLM backend. A backend
// with an empty api_key is simply not offered.
type ProviderConfig struct {
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	Model       string `yaml:"model" mapstructure:"model"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the per-request timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// ProvidersConfig holds the per-backend settings.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai" mapstructure:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Google    ProviderConfig `yaml:"google" mapstructure:"google"`
	DeepSeek  ProviderConfig `yaml:"deepseek" mapstructure:"deepseek"`
}

// ArenaConfig tunes the comparison pipeline.
type ArenaConfig struct {
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
}

// CreditsConfig configures the credit grants.
type CreditsConfig struct {
	// Starter is the balance granted to new guests and first-seen
	// accounts, in credits with up to two decimal places.
	Starter float64 `yaml:"starter" mapstructure:"starter"`
}

// PaymentsConfig configures payment webhook handling.
type PaymentsConfig struct {
	WebhookSecret string `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	TopUpTiers    []int  `yaml:"topup_tiers" mapstructure:"topup_tiers"`
}

// ResilienceConfig tunes the provider middleware chain.
type ResilienceConfig struct {
	MaxRetries         int     `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBaseDelayMs   int     `yaml:"retry_base_delay_ms" mapstructure:"retry_base_delay_ms"`
	RetryMaxDelayMs    int     `yaml:"retry_max_delay_ms" mapstructure:"retry_max_delay_ms"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second" mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	BreakerMaxFailures int     `yaml:"breaker_max_failures" mapstructure:"breaker_max_failures"`
	BreakerCooldownSec int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys settable only through the environment still need
	// an empty default so Unmarshal sees them.
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "arena.db")
	v.SetDefault("providers.openai.api_key", "")
	v.SetDefault("providers.anthropic.api_key", "")
	v.SetDefault("providers.google.api_key", "")
	v.SetDefault("providers.deepseek.api_key", "")
	v.SetDefault("payments.webhook_secret", "")
	v.SetDefault("providers.openai.model", "gpt-4o")
	v.SetDefault("providers.openai.timeout_secs", 60)
	v.SetDefault("providers.anthropic.model", "claude-3-5-sonnet-20241022")
	v.SetDefault("providers.anthropic.timeout_secs", 60)
	v.SetDefault("providers.google.model", "gemini-2.0-flash")
	v.SetDefault("providers.google.timeout_secs", 60)
	v.SetDefault("providers.deepseek.model", "deepseek-chat")
	v.SetDefault("providers.deepseek.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("providers.deepseek.timeout_secs", 60)
	v.SetDefault("arena.max_concurrency", 4)
	v.SetDefault("credits.starter", 10.0)
	v.SetDefault("payments.topup_tiers", []int{25, 60, 150})
	v.SetDefault("resilience.max_retries", 2)
	v.SetDefault("resilience.retry_base_delay_ms", 250)
	v.SetDefault("resilience.retry_max_delay_ms", 4000)
	v.SetDefault("resilience.rate_limit_per_second", 5.0)
	v.SetDefault("resilience.rate_limit_burst", 10)
	v.SetDefault("resilience.breaker_max_failures", 5)
	v.SetDefault("resilience.breaker_cooldown_secs", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
