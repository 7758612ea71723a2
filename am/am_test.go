package am

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, "courseforge.db", cfg.Database.Path)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Cache.MaxEntries)
	assert.Equal(t, 600, cfg.Cache.TTLSeconds)
	assert.Equal(t, 5, cfg.Batch.WindowSize)
	assert.Equal(t, "auto", cfg.AI.Provider)
	require.NotNil(t, cfg.OpenRouter.Temperature)
	assert.InDelta(t, 0.7, *cfg.OpenRouter.Temperature, 0.0001)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	content := `
[batch]
window_size = 3

[cache]
max_entries = 10

[notify.redis]
enabled = true
addr = "redis:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Batch.WindowSize)
	assert.Equal(t, 10, cfg.Cache.MaxEntries)
	assert.True(t, cfg.Notify.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Notify.Redis.Addr)
	// untouched keys keep their defaults
	assert.Equal(t, 1000, cfg.Batch.WindowDelayMS)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("COURSEFORGE_BATCH_WINDOW_SIZE", "7")
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Batch.WindowSize)
	assert.Equal(t, "sk-test", cfg.OpenRouter.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, true},
		{"unknown provider", func(c *Config) { c.AI.Provider = "mystery" }, true},
		{"negative budget", func(c *Config) { c.Pulse.DailyBudgetUSD = -1 }, true},
		{"zero budget means no limit", func(c *Config) { c.Pulse.DailyBudgetUSD = 0 }, false},
		{"zero window", func(c *Config) { c.Batch.WindowSize = 0 }, true},
		{"cache enabled without capacity", func(c *Config) { c.Cache.MaxEntries = 0 }, true},
		{"cache disabled ignores capacity", func(c *Config) { c.Cache.Enabled = false; c.Cache.MaxEntries = 0 }, false},
		{"redis without addr", func(c *Config) { c.Notify.Redis.Enabled = true; c.Notify.Redis.Addr = "" }, true},
		{"local inference without model", func(c *Config) { c.LocalInference.Enabled = true; c.LocalInference.Model = "" }, true},
		{"sweep without threshold", func(c *Config) { c.Pulse.StuckAfterMinutes = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("[batch]\nwindow_size = 2\n"), 0o644))

	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	cw.debouncePeriod = 10 * time.Millisecond
	cw.load = func() (*Config, error) { return LoadFromFile(path) }

	var seen atomic.Int64
	cw.OnReload(func(c *Config) error {
		seen.Store(int64(c.Batch.WindowSize))
		return nil
	})
	cw.Start()
	t.Cleanup(func() { _ = cw.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("[batch]\nwindow_size = 4\n"), 0o644))

	assert.Eventually(t, func() bool { return seen.Load() == 4 }, 2*time.Second, 10*time.Millisecond)
}
