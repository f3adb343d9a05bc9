// services/gateway.go
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brandbeacon/beacon-workflows/internal/config"
)

// providerGateway routes each model id to the provider that serves it and
// keeps rolling per-provider call statistics for the health endpoint.
type providerGateway struct {
	providers map[string]AIProvider

	mu    sync.Mutex
	stats map[string]*ProviderHealth
}

func NewProviderGateway(cfg *config.Config, costService CostService) ProviderGateway {
	return &providerGateway{
		providers: map[string]AIProvider{
			"openai":    NewOpenAIProvider(cfg, costService),
			"anthropic": NewAnthropicProvider(cfg, costService),
		},
		stats: make(map[string]*ProviderHealth),
	}
}

// NewProviderGatewayWith builds a gateway over explicit providers, keyed by
// provider name.
func NewProviderGatewayWith(providers map[string]AIProvider) ProviderGateway {
	return &providerGateway{
		providers: providers,
		stats:     make(map[string]*ProviderHealth),
	}
}

// getProvider resolves a model id to its provider by name family.
func (g *providerGateway) getProvider(modelID string) (AIProvider, error) {
	lower := strings.ToLower(modelID)

	var key string
	switch {
	case strings.Contains(lower, "gpt") || strings.Contains(lower, "openai") || strings.HasPrefix(lower, "o"):
		key = "openai"
	case strings.Contains(lower, "claude") || strings.Contains(lower, "anthropic"):
		key = "anthropic"
	default:
		return nil, fmt.Errorf("no provider registered for model %q", modelID)
	}

	provider, ok := g.providers[key]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured for model %q", key, modelID)
	}
	return provider, nil
}

func (g *providerGateway) Execute(ctx context.Context, modelID, questionText, companyName string) (*AIResponse, error) {
	provider, err := g.getProvider(modelID)
	if err != nil {
		return nil, err
	}

	response, err := provider.RunQuestion(ctx, modelID, questionText, companyName)
	g.record(provider.GetProviderName(), err)
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (g *providerGateway) record(providerName string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	health, ok := g.stats[providerName]
	if !ok {
		health = &ProviderHealth{Provider: providerName}
		g.stats[providerName] = health
	}

	now := time.Now().UTC()
	health.TotalCalls++
	health.LastCallAt = now
	if err != nil {
		health.FailedCalls++
		health.LastError = err.Error()
		health.LastErrorAt = now
	}
}

func (g *providerGateway) Health() []ProviderHealth {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]ProviderHealth, 0, len(g.stats))
	for _, health := range g.stats {
		out = append(out, *health)
	}
	return out
}
