// services/openai_provider.go
package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/brandbeacon/beacon-workflows/internal/config"
)

type openAIProvider struct {
	client      *openai.Client
	costService CostService
}

func NewOpenAIProvider(cfg *config.Config, costService CostService) AIProvider {
	client := openai.NewClient(
		option.WithAPIKey(cfg.OpenAIAPIKey),
	)
	return &openAIProvider{
		client:      &client,
		costService: costService,
	}
}

func (p *openAIProvider) GetProviderName() string {
	return "openai"
}

// AnswerResponse is the structured output contract shared by both providers:
// a tagged answer plus the web sources it drew on.
type AnswerResponse struct {
	Answer  string         `json:"answer" jsonschema_description:"The comprehensive answer with every company or brand name wrapped in a brand tag"`
	Sources []AnswerSource `json:"sources" jsonschema_description:"Web sources the answer draws on, most relevant first"`
}

type AnswerSource struct {
	Title string `json:"title" jsonschema_description:"Title of the source page"`
	URL   string `json:"url" jsonschema_description:"Full URL of the source page"`
}

// Generate the JSON schema at initialization time
var AnswerResponseSchema = GenerateSchema[AnswerResponse]()

func GenerateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// answerSystemPrompt instructs the model to mark every brand so the
// extraction stage can parse mentions positionally.
const answerSystemPrompt = `You are a knowledgeable assistant answering consumer research questions.

Answer naturally and comprehensively. Wrap EVERY company, brand, or product-maker name in a brand tag the first time and every time it appears, like <brand domain="example.com">Example Corp</brand>. Include the domain attribute when you know the company's website; omit it otherwise, like <brand>Example Corp</brand>. Never tag generic product categories, only named companies and brands.`

func (p *openAIProvider) RunQuestion(ctx context.Context, modelID, questionText, companyName string) (*AIResponse, error) {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "answer_response",
		Description: openai.String("Brand-tagged answer with sources"),
		Schema:      AnswerResponseSchema,
		Strict:      openai.Bool(true),
	}

	response, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(answerSystemPrompt),
			openai.UserMessage(questionText),
		},
		Model: openai.ChatModel(modelID),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
		},
		Temperature: openai.Float(0.7),
		MaxTokens:   openai.Int(2000),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed for model %s: %w", modelID, err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned from model %s", modelID)
	}

	content := response.Choices[0].Message.Content
	var citations []CitationData

	var structured AnswerResponse
	if err := json.Unmarshal([]byte(content), &structured); err == nil && structured.Answer != "" {
		content = structured.Answer
		for _, src := range structured.Sources {
			if src.URL == "" {
				continue
			}
			citations = append(citations, CitationData{Title: src.Title, URL: src.URL})
		}
	}

	inputTokens := int(response.Usage.PromptTokens)
	outputTokens := int(response.Usage.CompletionTokens)

	return &AIResponse{
		Content:      content,
		Citations:    citations,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		UsdCost:      p.costService.CalculateCost(modelID, inputTokens, outputTokens),
	}, nil
}
