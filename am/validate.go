package am

import "github.com/teranos/courseforge/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be in 1..65535, got %d", c.Server.Port)
	}

	switch c.AI.Provider {
	case "", "auto", "openrouter", "anthropic", "local":
	default:
		return errors.Newf("ai.provider must be one of auto, openrouter, anthropic, local; got %q", c.AI.Provider)
	}
	if c.AI.RequestsPerMinute < 0 {
		return errors.Newf("ai.requests_per_minute must be >= 0, got %d", c.AI.RequestsPerMinute)
	}

	// Validate local inference configuration only when enabled
	if c.LocalInference.Enabled {
		if c.LocalInference.BaseURL == "" {
			return errors.New("local_inference.base_url cannot be empty when enabled")
		}
		if c.LocalInference.Model == "" {
			return errors.New("local_inference.model cannot be empty when enabled")
		}
		if c.LocalInference.TimeoutSeconds <= 0 {
			return errors.Newf("local_inference.timeout_seconds must be > 0, got %d", c.LocalInference.TimeoutSeconds)
		}
	}

	// Budget values: 0 = no budget, negative = invalid
	if c.Pulse.DailyBudgetUSD < 0 {
		return errors.Newf("pulse.daily_budget_usd must be >= 0, got %f", c.Pulse.DailyBudgetUSD)
	}
	if c.Pulse.WeeklyBudgetUSD < 0 {
		return errors.Newf("pulse.weekly_budget_usd must be >= 0, got %f", c.Pulse.WeeklyBudgetUSD)
	}
	if c.Pulse.MonthlyBudgetUSD < 0 {
		return errors.Newf("pulse.monthly_budget_usd must be >= 0, got %f", c.Pulse.MonthlyBudgetUSD)
	}
	if c.Pulse.SweepIntervalSeconds < 0 {
		return errors.Newf("pulse.sweep_interval_seconds must be >= 0, got %d", c.Pulse.SweepIntervalSeconds)
	}
	if c.Pulse.SweepIntervalSeconds > 0 && c.Pulse.StuckAfterMinutes <= 0 {
		return errors.New("pulse.stuck_after_minutes must be > 0 when the sweep is enabled")
	}

	if c.Research.Enabled && c.Research.BaseURL == "" {
		return errors.New("research.base_url cannot be empty when enabled")
	}
	if c.Research.MaxSources < 0 {
		return errors.Newf("research.max_sources must be >= 0, got %d", c.Research.MaxSources)
	}

	if c.Cache.Enabled {
		if c.Cache.MaxEntries <= 0 {
			return errors.Newf("cache.max_entries must be > 0 when enabled, got %d", c.Cache.MaxEntries)
		}
		if c.Cache.TTLSeconds <= 0 {
			return errors.Newf("cache.ttl_seconds must be > 0 when enabled, got %d", c.Cache.TTLSeconds)
		}
	}

	if c.Credits.DefaultGrant < 0 {
		return errors.Newf("credits.default_grant must be >= 0, got %d", c.Credits.DefaultGrant)
	}

	if c.Batch.WindowSize <= 0 {
		return errors.Newf("batch.window_size must be > 0, got %d", c.Batch.WindowSize)
	}
	if c.Batch.WindowDelayMS < 0 {
		return errors.Newf("batch.window_delay_ms must be >= 0, got %d", c.Batch.WindowDelayMS)
	}
	if c.Batch.MaxItems <= 0 {
		return errors.Newf("batch.max_items must be > 0, got %d", c.Batch.MaxItems)
	}

	if c.Notify.Redis.Enabled && c.Notify.Redis.Addr == "" {
		return errors.New("notify.redis.addr cannot be empty when enabled")
	}

	return nil
}
