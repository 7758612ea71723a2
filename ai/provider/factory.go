// Package provider selects and builds the chat and image clients behind the model gateway.
package provider

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/courseforge/ai/anthropic"
	"github.com/teranos/courseforge/ai/openrouter"
	"github.com/teranos/courseforge/ai/tracker"
	"github.com/teranos/courseforge/am"
	"github.com/teranos/courseforge/errors"
)

// Provider represents an LLM provider type
type Provider string

const (
	// ProviderLocal uses local inference (Ollama, LocalAI)
	ProviderLocal Provider = "local"
	// ProviderOpenRouter uses OpenRouter.ai API
	ProviderOpenRouter Provider = "openrouter"
	// ProviderAnthropic uses direct Anthropic API
	ProviderAnthropic Provider = "anthropic"
	// ProviderAuto automatically selects based on configuration
	ProviderAuto Provider = "auto"
)

// AIClient is the chat interface every text provider implements
type AIClient interface {
	Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error)
}

// ImageClient generates images. Only OpenRouter provides one.
type ImageClient interface {
	GenerateImage(ctx context.Context, req openrouter.ImageRequest) (*openrouter.ImageResponse, error)
}

// ClientConfig holds common configuration for creating AI clients
type ClientConfig struct {
	Tracker       *tracker.UsageTracker
	Logger        *zap.SugaredLogger
	OperationType string
}

// NewAIClient creates the chat client selected by cfg.AI.Provider
func NewAIClient(cfg *am.Config, clientCfg ClientConfig) (AIClient, error) {
	p, err := ParseProvider(cfg.AI.Provider)
	if err != nil {
		return nil, err
	}
	return NewAIClientWithProvider(cfg, p, clientCfg), nil
}

// NewAIClientWithProvider creates an AI client for a specific provider
// Use ProviderAuto to let the factory decide based on configuration
func NewAIClientWithProvider(cfg *am.Config, provider Provider, clientCfg ClientConfig) AIClient {
	switch provider {
	case ProviderLocal:
		return newLocalClient(cfg, clientCfg)
	case ProviderAnthropic:
		return newAnthropicClient(cfg, clientCfg)
	case ProviderOpenRouter:
		return newOpenRouterClient(cfg, clientCfg)
	default:
		return autoSelectClient(cfg, clientCfg)
	}
}

// DetermineProvider reports which provider auto selection would pick
// Priority: LocalInference (if enabled with a URL) → Anthropic (if API key set) → OpenRouter
func DetermineProvider(cfg *am.Config) Provider {
	if cfg.LocalInference.Enabled && cfg.LocalInference.BaseURL != "" {
		return ProviderLocal
	}
	if cfg.Anthropic.APIKey != "" {
		return ProviderAnthropic
	}
	return ProviderOpenRouter
}

func autoSelectClient(cfg *am.Config, clientCfg ClientConfig) AIClient {
	switch DetermineProvider(cfg) {
	case ProviderLocal:
		return newLocalClient(cfg, clientCfg)
	case ProviderAnthropic:
		return newAnthropicClient(cfg, clientCfg)
	default:
		return newOpenRouterClient(cfg, clientCfg)
	}
}

func newLocalClient(cfg *am.Config, clientCfg ClientConfig) AIClient {
	timeout := time.Duration(cfg.LocalInference.TimeoutSeconds) * time.Second
	return NewLocalProvider(cfg.LocalInference.BaseURL, cfg.LocalInference.Model, timeout, clientCfg.Logger)
}

func newAnthropicClient(cfg *am.Config, clientCfg ClientConfig) AIClient {
	maxTokens := 0
	if cfg.Anthropic.MaxTokens != nil {
		maxTokens = *cfg.Anthropic.MaxTokens
	}
	return anthropic.NewClient(anthropic.Config{
		APIKey:        cfg.Anthropic.APIKey,
		Model:         cfg.Anthropic.Model,
		MaxTokens:     maxTokens,
		Logger:        clientCfg.Logger,
		Tracker:       clientCfg.Tracker,
		OperationType: clientCfg.OperationType,
	})
}

func newOpenRouterClient(cfg *am.Config, clientCfg ClientConfig) *openrouter.Client {
	return openrouter.NewClient(openrouter.Config{
		APIKey:        cfg.OpenRouter.APIKey,
		BaseURL:       cfg.OpenRouter.BaseURL,
		Model:         cfg.OpenRouter.Model,
		ImageModel:    cfg.AI.ImageModel,
		Temperature:   cfg.OpenRouter.Temperature,
		MaxTokens:     cfg.OpenRouter.MaxTokens,
		Logger:        clientCfg.Logger,
		Tracker:       clientCfg.Tracker,
		OperationType: clientCfg.OperationType,
	})
}

// NewImageClient returns the OpenRouter image client, or nil without an API key
func NewImageClient(cfg *am.Config, clientCfg ClientConfig) ImageClient {
	if cfg.OpenRouter.APIKey == "" {
		return nil
	}
	return newOpenRouterClient(cfg, clientCfg)
}

// GetAvailableProviders returns a list of configured/available providers
func GetAvailableProviders(cfg *am.Config) []Provider {
	var providers []Provider
	if cfg.LocalInference.Enabled {
		providers = append(providers, ProviderLocal)
	}
	if cfg.Anthropic.APIKey != "" {
		providers = append(providers, ProviderAnthropic)
	}
	if cfg.OpenRouter.APIKey != "" {
		providers = append(providers, ProviderOpenRouter)
	}
	return providers
}

// ParseProvider converts a string to a Provider type
func ParseProvider(s string) (Provider, error) {
	switch s {
	case "local", "ollama", "localai":
		return ProviderLocal, nil
	case "openrouter", "or":
		return ProviderOpenRouter, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "auto", "":
		return ProviderAuto, nil
	default:
		return "", errors.NewInvalidRequestError("unknown provider: %s (valid: local, openrouter, anthropic, auto)", s)
	}
}

// Verify interfaces are implemented
var _ AIClient = (*openrouter.Client)(nil)
var _ AIClient = (*anthropic.Client)(nil)
var _ AIClient = (*LocalProvider)(nil)
var _ ImageClient = (*openrouter.Client)(nil)
