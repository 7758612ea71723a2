package openrouter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateCost(t *testing.T) {
	tests := []struct {
		name       string
		model      string
		prompt     int
		completion int
		want       float64
	}{
		// (0.15 * 1000 + 0.60 * 500) / 1M
		{"default outline model", DefaultModel, 1000, 500, 0.00045},
		// (2.50 * 5000 + 10.00 * 2000) / 1M
		{"long script on gpt-4o", "openai/gpt-4o", 5000, 2000, 0.0325},
		// (3.00 * 10000 + 15.00 * 5000) / 1M
		{"claude fact check", "anthropic/claude-3.5-sonnet", 10000, 5000, 0.105},
		{"zero tokens", DefaultModel, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CalculateCost(tt.model, tt.prompt, tt.completion), 1e-9)
		})
	}
}

func TestCalculateCostFallsBackForUnknownModels(t *testing.T) {
	for _, model := range []string{"some-random-model", "vendor/unknown-model-v2", ""} {
		assert.Equal(t, DefaultPricingFallback, CalculateCost(model, 1000, 500), model)
	}
	assert.Equal(t, 0.01, DefaultPricingFallback)
}

func TestImageCost(t *testing.T) {
	assert.InDelta(t, 0.039, ImageCost(DefaultImageModel, 1), 1e-9)
	assert.InDelta(t, 0.078, ImageCost(DefaultImageModel, 2), 1e-9)
	assert.Zero(t, ImageCost(DefaultModel, 1), "text models have no per-image fee")
	assert.Zero(t, ImageCost("vendor/unknown", 3))
}

func TestGetPricing(t *testing.T) {
	pricing, found := GetPricing(DefaultModel)
	assert.True(t, found)
	assert.Equal(t, 0.15, pricing.PromptPrice)
	assert.Equal(t, 0.60, pricing.CompletionPrice)

	_, found = GetPricing("unknown/model")
	assert.False(t, found)
}
