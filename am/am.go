// Package am holds courseforge configuration: the Config tree, defaults,
// file and environment loading, validation and file watching.
package am

// Config represents the complete courseforge configuration
type Config struct {
	Database       DatabaseConfig       `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
	Server         ServerConfig         `mapstructure:"server" toml:"server" json:"server" yaml:"server"`
	AI             AIConfig             `mapstructure:"ai" toml:"ai" json:"ai" yaml:"ai"`
	OpenRouter     OpenRouterConfig     `mapstructure:"openrouter" toml:"openrouter" json:"openrouter" yaml:"openrouter"`
	Anthropic      AnthropicConfig      `mapstructure:"anthropic" toml:"anthropic" json:"anthropic" yaml:"anthropic"`
	LocalInference LocalInferenceConfig `mapstructure:"local_inference" toml:"local_inference" json:"local_inference" yaml:"local_inference"`
	Pulse          PulseConfig          `mapstructure:"pulse" toml:"pulse" json:"pulse" yaml:"pulse"`
	Research       ResearchConfig       `mapstructure:"research" toml:"research" json:"research" yaml:"research"`
	Cache          CacheConfig          `mapstructure:"cache" toml:"cache" json:"cache" yaml:"cache"`
	Credits        CreditsConfig        `mapstructure:"credits" toml:"credits" json:"credits" yaml:"credits"`
	Batch          BatchConfig          `mapstructure:"batch" toml:"batch" json:"batch" yaml:"batch"`
	Notify         NotifyConfig         `mapstructure:"notify" toml:"notify" json:"notify" yaml:"notify"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port                int      `mapstructure:"port" toml:"port" json:"port" yaml:"port"`
	AllowedOrigins      []string `mapstructure:"allowed_origins" toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`
	ReadTimeoutSeconds  int      `mapstructure:"read_timeout_seconds" toml:"read_timeout_seconds" json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `mapstructure:"write_timeout_seconds" toml:"write_timeout_seconds" json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
	Metrics             bool     `mapstructure:"metrics" toml:"metrics" json:"metrics" yaml:"metrics"` // expose /metrics
}

// DefaultServerPort is the API port when none is configured
const DefaultServerPort = 8470

// AIConfig selects the model provider and shared generation settings
type AIConfig struct {
	Provider          string `mapstructure:"provider" toml:"provider" json:"provider" yaml:"provider"`                                  // auto, openrouter, anthropic, local
	ImageModel        string `mapstructure:"image_model" toml:"image_model" json:"image_model" yaml:"image_model"`                      // OpenRouter image-capable model
	RequestsPerMinute int    `mapstructure:"requests_per_minute" toml:"requests_per_minute" json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited
}

// OpenRouterConfig configures OpenRouter.ai API access
type OpenRouterConfig struct {
	APIKey      string   `mapstructure:"api_key" toml:"-" json:"-" yaml:"-"`
	BaseURL     string   `mapstructure:"base_url" toml:"base_url" json:"base_url" yaml:"base_url"`
	Model       string   `mapstructure:"model" toml:"model" json:"model" yaml:"model"`
	Temperature *float64 `mapstructure:"temperature" toml:"temperature" json:"temperature" yaml:"temperature"`
	MaxTokens   *int     `mapstructure:"max_tokens" toml:"max_tokens" json:"max_tokens" yaml:"max_tokens"`
}

// AnthropicConfig configures direct Anthropic Messages API access
type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key" toml:"-" json:"-" yaml:"-"`
	Model     string `mapstructure:"model" toml:"model" json:"model" yaml:"model"`
	MaxTokens *int   `mapstructure:"max_tokens" toml:"max_tokens" json:"max_tokens" yaml:"max_tokens"`
}

// LocalInferenceConfig configures local model inference (Ollama, LocalAI, etc.)
type LocalInferenceConfig struct {
	Enabled        bool   `mapstructure:"enabled" toml:"enabled" json:"enabled" yaml:"enabled"`
	BaseURL        string `mapstructure:"base_url" toml:"base_url" json:"base_url" yaml:"base_url"`
	Model          string `mapstructure:"model" toml:"model" json:"model" yaml:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
}

// PulseConfig configures job housekeeping and operator spend limits
type PulseConfig struct {
	// Operator-level model spend limits in USD (0 = no limit)
	DailyBudgetUSD   float64 `mapstructure:"daily_budget_usd" toml:"daily_budget_usd" json:"daily_budget_usd" yaml:"daily_budget_usd"`
	WeeklyBudgetUSD  float64 `mapstructure:"weekly_budget_usd" toml:"weekly_budget_usd" json:"weekly_budget_usd" yaml:"weekly_budget_usd"`
	MonthlyBudgetUSD float64 `mapstructure:"monthly_budget_usd" toml:"monthly_budget_usd" json:"monthly_budget_usd" yaml:"monthly_budget_usd"`

	// Stuck job sweep (0 interval = disabled)
	StuckAfterMinutes    int `mapstructure:"stuck_after_minutes" toml:"stuck_after_minutes" json:"stuck_after_minutes" yaml:"stuck_after_minutes"`
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds" toml:"sweep_interval_seconds" json:"sweep_interval_seconds" yaml:"sweep_interval_seconds"`
}

// ResearchConfig configures the web research provider
type ResearchConfig struct {
	Enabled        bool   `mapstructure:"enabled" toml:"enabled" json:"enabled" yaml:"enabled"`
	BaseURL        string `mapstructure:"base_url" toml:"base_url" json:"base_url" yaml:"base_url"`
	APIKey         string `mapstructure:"api_key" toml:"-" json:"-" yaml:"-"`
	MaxSources     int    `mapstructure:"max_sources" toml:"max_sources" json:"max_sources" yaml:"max_sources"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
}

// CacheConfig configures the model response cache
type CacheConfig struct {
	Enabled    bool `mapstructure:"enabled" toml:"enabled" json:"enabled" yaml:"enabled"`
	MaxEntries int  `mapstructure:"max_entries" toml:"max_entries" json:"max_entries" yaml:"max_entries"`
	TTLSeconds int  `mapstructure:"ttl_seconds" toml:"ttl_seconds" json:"ttl_seconds" yaml:"ttl_seconds"`
}

// CreditsConfig configures the credit ledger
type CreditsConfig struct {
	DefaultGrant int `mapstructure:"default_grant" toml:"default_grant" json:"default_grant" yaml:"default_grant"` // credits on account creation
}

// BatchConfig configures batch fan-out
type BatchConfig struct {
	WindowSize    int `mapstructure:"window_size" toml:"window_size" json:"window_size" yaml:"window_size"`
	WindowDelayMS int `mapstructure:"window_delay_ms" toml:"window_delay_ms" json:"window_delay_ms" yaml:"window_delay_ms"`
	MaxItems      int `mapstructure:"max_items" toml:"max_items" json:"max_items" yaml:"max_items"`
}

// NotifyConfig configures completion notifications
type NotifyConfig struct {
	Log                   bool        `mapstructure:"log" toml:"log" json:"log" yaml:"log"`
	WebhookURL            string      `mapstructure:"webhook_url" toml:"webhook_url" json:"webhook_url" yaml:"webhook_url"`
	WebhookSecret         string      `mapstructure:"webhook_secret" toml:"-" json:"-" yaml:"-"`
	WebhookTimeoutSeconds int         `mapstructure:"webhook_timeout_seconds" toml:"webhook_timeout_seconds" json:"webhook_timeout_seconds" yaml:"webhook_timeout_seconds"`
	Redis                 RedisConfig `mapstructure:"redis" toml:"redis" json:"redis" yaml:"redis"`
}

// RedisConfig configures the redis stream notifier
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" toml:"enabled" json:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" toml:"addr" json:"addr" yaml:"addr"`
	Password string `mapstructure:"password" toml:"-" json:"-" yaml:"-"`
	DB       int    `mapstructure:"db" toml:"db" json:"db" yaml:"db"`
	Stream   string `mapstructure:"stream" toml:"stream" json:"stream" yaml:"stream"`
	MaxLen   int64  `mapstructure:"max_len" toml:"max_len" json:"max_len" yaml:"max_len"` // approximate stream cap, 0 = unbounded
}
