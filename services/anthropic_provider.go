// services/anthropic_provider.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/brandbeacon/beacon-workflows/internal/config"
)

type anthropicProvider struct {
	client      *anthropic.Client
	costService CostService
}

func NewAnthropicProvider(cfg *config.Config, costService CostService) AIProvider {
	client := anthropic.NewClient(
		option.WithAPIKey(cfg.AnthropicAPIKey),
	)
	return &anthropicProvider{
		client:      &client,
		costService: costService,
	}
}

func (p *anthropicProvider) GetProviderName() string {
	return "anthropic"
}

func (p *anthropicProvider) RunQuestion(ctx context.Context, modelID, questionText, companyName string) (*AIResponse, error) {
	// The Anthropic API has no strict structured-output mode, so the JSON
	// contract is enforced by prompt and parsed leniently.
	structuredPrompt := fmt.Sprintf(`%s

Return ONLY a valid JSON object with this structure:

{
  "answer": "Your brand-tagged answer here",
  "sources": [{"title": "Source title", "url": "https://example.com/page"}]
}

Question: %s

Remember: Return ONLY the JSON object, no other text.`, answerSystemPrompt, questionText)

	messages := []anthropic.MessageParam{{
		Content: []anthropic.ContentBlockParamUnion{{
			OfText: &anthropic.TextBlockParam{Text: structuredPrompt},
		}},
		Role: anthropic.MessageParamRoleUser,
	}}

	response, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(modelID),
		MaxTokens:   2000,
		Messages:    messages,
		Temperature: anthropic.Float(0.7),
	})
	if err != nil {
		return nil, fmt.Errorf("message creation failed for model %s: %w", modelID, err)
	}

	fullText := p.extractResponseText(*response)
	content, citations := p.parseJSONResponse(fullText)

	inputTokens := int(response.Usage.InputTokens)
	outputTokens := int(response.Usage.OutputTokens)

	return &AIResponse{
		Content:      content,
		Citations:    citations,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		UsdCost:      p.costService.CalculateCost(modelID, inputTokens, outputTokens),
	}, nil
}

func (p *anthropicProvider) extractResponseText(response anthropic.Message) string {
	var sb strings.Builder
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// parseJSONResponse pulls the answer and sources out of the model's JSON.
// Models occasionally wrap the object in prose or code fences, so we parse
// the outermost braces; if that fails the raw text is used as the answer.
func (p *anthropicProvider) parseJSONResponse(text string) (string, []CitationData) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return text, nil
	}

	var structured AnswerResponse
	if err := json.Unmarshal([]byte(text[start:end+1]), &structured); err != nil || structured.Answer == "" {
		return text, nil
	}

	var citations []CitationData
	for _, src := range structured.Sources {
		if src.URL == "" {
			continue
		}
		citations = append(citations, CitationData{Title: src.Title, URL: src.URL})
	}
	return structured.Answer, citations
}
