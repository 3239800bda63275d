package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david-jerry/copytrader-bot/internal/chain"
	"github.com/david-jerry/copytrader-bot/internal/watcher"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Len(t, cfg.Networks, 5)
	assert.Equal(t, 10, cfg.Watcher.PollIntervalS)
	assert.Equal(t, 300, cfg.Snipe.MonitorIntervalS)
	assert.Equal(t, 180, cfg.Snipe.CooldownS)
}

func TestLoad_OverlaysOnDefaults(t *testing.T) {
	path := writeConfig(t, `
general:
  log_level: debug
watcher:
  poll_interval_s: 3
  mode: all
snipe:
  monitor_interval_s: 60
  cooldown_s: 30
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.General.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.WatcherConfig().PollInterval)
	assert.Equal(t, watcher.ModeAll, cfg.WatcherConfig().Mode)
	assert.Equal(t, 60*time.Second, cfg.SnipeConfig().MonitorInterval)
	assert.Equal(t, 30*time.Second, cfg.SnipeConfig().Cooldown)
	// Untouched sections keep their defaults.
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Len(t, cfg.Networks, 5)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_PG_DSN", "postgres://copytrader:secret@db:5432/bot")
	path := writeConfig(t, `
store:
  driver: postgres
  dsn: "${TEST_PG_DSN}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://copytrader:secret@db:5432/bot", cfg.Store.DSN)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store driver", func(c *Config) { c.Store.Driver = "sqlite" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres"; c.Store.DSN = "" }},
		{"no networks", func(c *Config) { c.Networks = nil }},
		{"non-positive poll interval", func(c *Config) { c.Watcher.PollIntervalS = 0 }},
		{"bad watcher mode", func(c *Config) { c.Watcher.Mode = "sometimes" }},
		{"non-positive monitor interval", func(c *Config) { c.Snipe.MonitorIntervalS = 0 }},
		{"non-positive cooldown", func(c *Config) { c.Snipe.CooldownS = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, chain.ErrValidation)
		})
	}
}

func TestComponentBuilders(t *testing.T) {
	cfg := Default()
	cfg.Executor.SubmitBackoffMs = 250
	cfg.Executor.SwapDeadlineS = 120
	cfg.Executor.SwapGasLimit = 400_000
	cfg.Tokens.CacheTTLS = 60
	cfg.Jupiter.SlippageBps = 75
	cfg.Notify.WebhookURL = "https://discord.com/api/webhooks/x"

	assert.Equal(t, 250*time.Millisecond, cfg.ExecutorConfig().SubmitBackoff)
	assert.Equal(t, 120*time.Second, cfg.UniswapConfig().SwapDeadline)
	assert.Equal(t, uint64(400_000), cfg.UniswapConfig().SwapGasLimit)
	assert.Equal(t, time.Minute, cfg.TokenCacheTTL())
	assert.Equal(t, 75, cfg.JupiterRouterConfig().SlippageBps)
	assert.Equal(t, "https://discord.com/api/webhooks/x", cfg.WebhookConfig().URL)
}

func TestWeights_FromConfig(t *testing.T) {
	cfg := Default()
	w := cfg.Weights()
	assert.True(t, w.Scarcity.InexactFloat64() == 0.4)
	assert.True(t, w.Volume.InexactFloat64() == 0.3)
	assert.True(t, w.Valuation.InexactFloat64() == 0.3)
}
