package services_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/brandbeacon/beacon-workflows/services"
)

// scriptedProvider answers every question with a fixed response or error.
type scriptedProvider struct {
	name     string
	response *services.AIResponse
	err      error
	calls    int
}

func (p *scriptedProvider) RunQuestion(ctx context.Context, modelID, questionText, companyName string) (*services.AIResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.response, nil
}

func (p *scriptedProvider) GetProviderName() string { return p.name }

func TestGatewayRoutesModelsByFamily(t *testing.T) {
	openai := &scriptedProvider{name: "openai", response: &services.AIResponse{Content: "from openai"}}
	anthropic := &scriptedProvider{name: "anthropic", response: &services.AIResponse{Content: "from anthropic"}}
	gateway := services.NewProviderGatewayWith(map[string]services.AIProvider{
		"openai":    openai,
		"anthropic": anthropic,
	})

	tests := []struct {
		modelID string
		want    string
	}{
		{"gpt-4.1", "from openai"},
		{"gpt-5-mini", "from openai"},
		{"o3", "from openai"},
		{"claude-sonnet-4-20250514", "from anthropic"},
		{"claude-3-5-haiku-latest", "from anthropic"},
	}
	for _, tt := range tests {
		t.Run(tt.modelID, func(t *testing.T) {
			resp, err := gateway.Execute(context.Background(), tt.modelID, "question", "Acme")
			if err != nil {
				t.Fatalf("Execute(%s) failed: %v", tt.modelID, err)
			}
			if resp.Content != tt.want {
				t.Errorf("Execute(%s) routed to %q, want %q", tt.modelID, resp.Content, tt.want)
			}
		})
	}
}

func TestGatewayRejectsUnknownModelFamily(t *testing.T) {
	gateway := services.NewProviderGatewayWith(map[string]services.AIProvider{})

	if _, err := gateway.Execute(context.Background(), "llama-70b", "question", "Acme"); err == nil {
		t.Fatal("expected an error for an unroutable model id")
	}
}

func TestGatewayTracksProviderHealth(t *testing.T) {
	openai := &scriptedProvider{name: "openai", response: &services.AIResponse{Content: "ok"}}
	anthropic := &scriptedProvider{name: "anthropic", err: fmt.Errorf("overloaded")}
	gateway := services.NewProviderGatewayWith(map[string]services.AIProvider{
		"openai":    openai,
		"anthropic": anthropic,
	})

	ctx := context.Background()
	if _, err := gateway.Execute(ctx, "gpt-4.1", "q", "Acme"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, err := gateway.Execute(ctx, "claude-3-5-haiku-latest", "q", "Acme"); err == nil {
		t.Fatal("expected the anthropic call to fail")
	}

	byProvider := map[string]services.ProviderHealth{}
	for _, h := range gateway.Health() {
		byProvider[h.Provider] = h
	}

	if h := byProvider["openai"]; h.TotalCalls != 1 || h.FailedCalls != 0 {
		t.Errorf("openai health = %d calls / %d failed, want 1/0", h.TotalCalls, h.FailedCalls)
	}
	h := byProvider["anthropic"]
	if h.TotalCalls != 1 || h.FailedCalls != 1 {
		t.Errorf("anthropic health = %d calls / %d failed, want 1/1", h.TotalCalls, h.FailedCalls)
	}
	if h.LastError != "overloaded" {
		t.Errorf("anthropic LastError = %q, want %q", h.LastError, "overloaded")
	}
}

func TestCalculateCostKnownModel(t *testing.T) {
	svc := services.NewCostService()

	// gpt-4.1: $3/M input, $12/M output.
	got := svc.CalculateCost("gpt-4.1", 1_000_000, 500_000)
	want := 3.00 + 6.00
	if got != want {
		t.Errorf("CalculateCost = %v, want %v", got, want)
	}
}

func TestCalculateCostUnknownModelFallsBackToFamily(t *testing.T) {
	svc := services.NewCostService()

	claudeCost := svc.CalculateCost("claude-9-experimental", 1_000_000, 0)
	if claudeCost != 3.00 {
		t.Errorf("unknown claude model input cost = %v, want the sonnet rate 3.00", claudeCost)
	}

	gptCost := svc.CalculateCost("gpt-7-preview", 1_000_000, 0)
	if gptCost != 3.00 {
		t.Errorf("unknown gpt model input cost = %v, want the gpt-4.1 rate 3.00", gptCost)
	}

	if svc.CalculateCost("mystery-model", 100_000, 100_000) == 0 {
		t.Error("unknown models must never price at zero")
	}
}
