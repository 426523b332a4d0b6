package observer

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing contains sensible defaults for the models HASHIRU can
// route to. Users can override or extend via [observer.pricing] in
// hashiru.toml. Local Ollama models cost nothing per token.
var DefaultPricing = map[string]ModelPricing{
	// Gemini
	"gemini-2.5-flash-preview-05-20": {0.15, 0.60},
	"gemini-2.5-pro-exp-03-25":       {1.25, 10.00},
	"gemini-2.0-flash":               {0.10, 0.40},
	"gemini-2.0-flash-lite":          {0.075, 0.30},
	"gemini-1.5-flash":               {0.075, 0.30},
	"gemini-1.5-flash-8b":            {0.0375, 0.15},
	"gemini-embedding-001":           {0.0, 0.0},

	// Groq
	"qwen-qwq-32b": {0.29, 0.39},

	// Ollama
	"llama3.2":    {0.0, 0.0},
	"mistral":     {0.0, 0.0},
	"deepseek-r1": {0.0, 0.0},
}

// CostCalculator computes USD cost from token counts.
type CostCalculator struct {
	pricing map[string]ModelPricing
}

// NewCostCalculator creates a calculator with default pricing, optionally merged with overrides.
func NewCostCalculator(overrides map[string]ModelPricing) *CostCalculator {
	merged := make(map[string]ModelPricing, len(DefaultPricing)+len(overrides))
	for k, v := range DefaultPricing {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &CostCalculator{pricing: merged}
}

// Calculate returns the cost in USD for the given model and token counts.
// Returns 0.0 for unknown models.
func (c *CostCalculator) Calculate(model string, inputTokens, outputTokens int) float64 {
	p, ok := c.pricing[model]
	if !ok {
		return 0.0
	}
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}
