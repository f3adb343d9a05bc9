// services/cost_service.go
package services

import "strings"

type costService struct{}

func NewCostService() CostService {
	return &costService{}
}

// Cost per 1M tokens
var costPerToken = map[string]struct{ input, output float64 }{
	"gpt-5":                    {input: 1.25, output: 10.00},
	"gpt-5-mini":               {input: 0.25, output: 2.00},
	"gpt-4.1":                  {input: 3.00, output: 12.00},
	"gpt-4.1-mini":             {input: 0.80, output: 3.20},
	"gpt-4o":                   {input: 2.50, output: 10.00},
	"claude-sonnet-4-20250514": {input: 3.00, output: 15.00},
	"claude-3-5-haiku-latest":  {input: 0.80, output: 4.00},
}

func (s *costService) CalculateCost(modelID string, inputTokens, outputTokens int) float64 {
	modelCosts, exists := costPerToken[modelID]
	if !exists {
		modelCosts = s.fallbackCosts(modelID)
	}

	inputCost := (float64(inputTokens) / 1_000_000.0) * modelCosts.input
	outputCost := (float64(outputTokens) / 1_000_000.0) * modelCosts.output
	return inputCost + outputCost
}

// fallbackCosts prices unknown model ids at the family default so new model
// versions never report zero cost.
func (s *costService) fallbackCosts(modelID string) struct{ input, output float64 } {
	lower := strings.ToLower(modelID)
	if strings.Contains(lower, "claude") || strings.Contains(lower, "anthropic") {
		return costPerToken["claude-sonnet-4-20250514"]
	}
	return costPerToken["gpt-4.1"]
}
