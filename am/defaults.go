package am

import (
	"os"

	"github.com/spf13/viper"
)

// DefaultDirPermissions is used when creating ~/.courseforge
const DefaultDirPermissions os.FileMode = 0o755

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "courseforge.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{"http://localhost", "http://127.0.0.1"})
	v.SetDefault("server.read_timeout_seconds", 30)
	v.SetDefault("server.write_timeout_seconds", 300) // synchronous generation can take minutes
	v.SetDefault("server.metrics", true)

	// AI defaults
	v.SetDefault("ai.provider", "auto")
	v.SetDefault("ai.image_model", "google/gemini-2.5-flash-image-preview")
	v.SetDefault("ai.requests_per_minute", 60)

	// OpenRouter defaults
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.model", "openai/gpt-4o-mini")
	v.SetDefault("openrouter.temperature", 0.7)
	v.SetDefault("openrouter.max_tokens", 4000)

	// Anthropic defaults
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_tokens", 4000)

	// Local inference defaults (off unless explicitly enabled)
	v.SetDefault("local_inference.enabled", false)
	v.SetDefault("local_inference.base_url", "http://localhost:11434")
	v.SetDefault("local_inference.model", "llama3.2:3b")
	v.SetDefault("local_inference.timeout_seconds", 600)

	// Pulse defaults
	v.SetDefault("pulse.daily_budget_usd", 5.0)
	v.SetDefault("pulse.weekly_budget_usd", 25.0)
	v.SetDefault("pulse.monthly_budget_usd", 75.0)
	v.SetDefault("pulse.stuck_after_minutes", 30)
	v.SetDefault("pulse.sweep_interval_seconds", 300)

	// Research defaults
	v.SetDefault("research.enabled", false)
	v.SetDefault("research.base_url", "https://api.tavily.com")
	v.SetDefault("research.max_sources", 5)
	v.SetDefault("research.timeout_seconds", 30)

	// Model response cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_entries", 50)
	v.SetDefault("cache.ttl_seconds", 600)

	// Credits defaults
	v.SetDefault("credits.default_grant", 0)

	// Batch defaults
	v.SetDefault("batch.window_size", 5)
	v.SetDefault("batch.window_delay_ms", 1000)
	v.SetDefault("batch.max_items", 100)

	// Notify defaults
	v.SetDefault("notify.log", true)
	v.SetDefault("notify.webhook_timeout_seconds", 5)
	v.SetDefault("notify.redis.enabled", false)
	v.SetDefault("notify.redis.addr", "localhost:6379")
	v.SetDefault("notify.redis.stream", "courseforge:jobs")
	v.SetDefault("notify.redis.max_len", 10000)
}

// BindSensitiveEnvVars explicitly binds secrets to their conventional variable names
// in addition to the COURSEFORGE_ prefixed ones.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("openrouter.api_key", "COURSEFORGE_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	_ = v.BindEnv("anthropic.api_key", "COURSEFORGE_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("research.api_key", "COURSEFORGE_RESEARCH_API_KEY", "TAVILY_API_KEY")
	_ = v.BindEnv("notify.redis.password", "COURSEFORGE_NOTIFY_REDIS_PASSWORD", "REDIS_PASSWORD")
	_ = v.BindEnv("notify.webhook_secret", "COURSEFORGE_NOTIFY_WEBHOOK_SECRET")
}
