package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "gpt-4o", cfg.Providers.OpenAI.Model)
	assert.Equal(t, "deepseek-chat", cfg.Providers.DeepSeek.Model)
	assert.Equal(t, "https://api.deepseek.com/v1", cfg.Providers.DeepSeek.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.Providers.Anthropic.Timeout())
	assert.Equal(t, 10.0, cfg.Credits.Starter)
	assert.Equal(t, []int{25, 60, 150}, cfg.Payments.TopUpTiers)
	assert.Equal(t, 4, cfg.Arena.MaxConcurrency)
	assert.Empty(t, cfg.Providers.OpenAI.APIKey, "no key without explicit configuration")
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("ARENA_PROVIDERS_OPENAI_API_KEY", "sk-test")
	t.Setenv("ARENA_STORE_DRIVER", "postgres")
	t.Setenv("ARENA_CREDITS_STARTER", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 2.5, cfg.Credits.Starter)
}

func TestInitLogger_RejectsBadLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "shouting", Format: "json"}))
	assert.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
}
