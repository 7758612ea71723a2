package anthropic

import "strings"

// ModelPricing is USD per million tokens
type ModelPricing struct {
	InputPrice  float64
	OutputPrice float64
}

// family prices every dated snapshot and alias that starts with prefix.
type family struct {
	prefix  string
	pricing ModelPricing
}

// First matching prefix wins.
var families = []family{
	{"claude-opus-4", ModelPricing{InputPrice: 15.00, OutputPrice: 75.00}},
	{"claude-sonnet-4", ModelPricing{InputPrice: 3.00, OutputPrice: 15.00}},
	{"claude-3-5-sonnet", ModelPricing{InputPrice: 3.00, OutputPrice: 15.00}},
	{"claude-3-5-haiku", ModelPricing{InputPrice: 0.80, OutputPrice: 4.00}},
	{"claude-3-opus", ModelPricing{InputPrice: 15.00, OutputPrice: 75.00}},
	{"claude-3-sonnet", ModelPricing{InputPrice: 3.00, OutputPrice: 15.00}},
	{"claude-3-haiku", ModelPricing{InputPrice: 0.25, OutputPrice: 1.25}},
}

// DefaultPricingFallback is charged per request for models outside the table
const DefaultPricingFallback = 0.01

// GetPricing resolves a model id (dated or "-latest") to its family price.
func GetPricing(model string) (ModelPricing, bool) {
	for _, f := range families {
		if strings.HasPrefix(model, f.prefix) {
			return f.pricing, true
		}
	}
	return ModelPricing{}, false
}

// CalculateCost returns the USD cost of one call
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := GetPricing(model)
	if !ok {
		return DefaultPricingFallback
	}
	return float64(inputTokens)/1_000_000*p.InputPrice + float64(outputTokens)/1_000_000*p.OutputPrice
}
