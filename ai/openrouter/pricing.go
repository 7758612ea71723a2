package openrouter

// ModelPricing is USD per million tokens, plus a flat fee per generated image
// for image-capable models.
type ModelPricing struct {
	PromptPrice     float64
	CompletionPrice float64
	PerImage        float64
}

// Models courseforge routes to by default or that operators commonly configure.
// Unknown models fall back to DefaultPricingFallback per request.
var modelPricing = map[string]ModelPricing{
	"openai/gpt-4o":               {PromptPrice: 2.50, CompletionPrice: 10.00},
	"openai/gpt-4o-mini":          {PromptPrice: 0.15, CompletionPrice: 0.60},
	"openai/gpt-4.1-mini":         {PromptPrice: 0.40, CompletionPrice: 1.60},
	"anthropic/claude-3.5-sonnet": {PromptPrice: 3.00, CompletionPrice: 15.00},
	"anthropic/claude-sonnet-4":   {PromptPrice: 3.00, CompletionPrice: 15.00},
	"anthropic/claude-3-haiku":    {PromptPrice: 0.25, CompletionPrice: 1.25},
	"google/gemini-2.5-flash":     {PromptPrice: 0.30, CompletionPrice: 2.50},
	"meta-llama/llama-3.1-70b-instruct": {
		PromptPrice:     0.52,
		CompletionPrice: 0.75,
	},
	"meta-llama/llama-3.1-8b-instruct": {
		PromptPrice:     0.055,
		CompletionPrice: 0.055,
	},

	// Image models: token usage covers the prompt, each picture is billed flat
	"google/gemini-2.5-flash-image-preview": {
		PromptPrice:     0.30,
		CompletionPrice: 2.50,
		PerImage:        0.039,
	},
}

// DefaultPricingFallback is charged per request for models outside the table
const DefaultPricingFallback = 0.01

// CalculateCost returns the USD cost of the tokens in one call
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	pricing, found := modelPricing[model]
	if !found {
		return DefaultPricingFallback
	}
	return float64(promptTokens)/1_000_000*pricing.PromptPrice +
		float64(completionTokens)/1_000_000*pricing.CompletionPrice
}

// ImageCost returns the flat fee for images produced by model. Text models
// and unknown models cost nothing extra.
func ImageCost(model string, images int) float64 {
	return modelPricing[model].PerImage * float64(images)
}

// GetPricing returns pricing information for a model, if available
func GetPricing(model string) (ModelPricing, bool) {
	pricing, found := modelPricing[model]
	return pricing, found
}
