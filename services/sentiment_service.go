// services/sentiment_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/brandbeacon/beacon-workflows/internal/config"
	"github.com/brandbeacon/beacon-workflows/internal/models"
)

type sentimentService struct {
	repos        *RepositoryManager
	openAIClient *openai.Client
	costService  CostService
}

func NewSentimentService(repos *RepositoryManager, cfg *config.Config, costService CostService) SentimentService {
	client := openai.NewClient(option.WithAPIKey(cfg.OpenAIAPIKey))
	return &sentimentService{
		repos:        repos,
		openAIClient: &client,
		costService:  costService,
	}
}

// SentimentExtractionResponse is the structured-output contract for a brand
// sentiment rating. Scores are on a 0-10 scale.
type SentimentExtractionResponse struct {
	Mentioned  bool    `json:"mentioned" jsonschema_description:"Whether the brand is discussed at all in the text"`
	Overall    float64 `json:"overall" jsonschema_description:"Overall sentiment toward the brand, 0-10"`
	Quality    float64 `json:"quality" jsonschema_description:"Perceived product or service quality, 0-10"`
	PriceValue float64 `json:"price_value" jsonschema_description:"Perceived value for money, 0-10"`
	Trust      float64 `json:"trust" jsonschema_description:"Perceived trustworthiness and reliability, 0-10"`
}

var sentimentSchema = GenerateSchema[SentimentExtractionResponse]()

// Per-response content is truncated so a run with many long answers still
// fits in one rating request.
const maxSentimentChars = 4000

// ComputeRunSentiment rates brand sentiment once per model used in the run
// plus one cross-model summary rating. Ratings are upserted by (run, model)
// so recomputation never duplicates rows.
func (s *sentimentService) ComputeRunSentiment(ctx context.Context, run *models.ReportRun, company *models.Company) error {
	responses, err := s.repos.ResponseRepo.ListByRun(ctx, run.ReportRunID)
	if err != nil {
		return fmt.Errorf("failed to load responses for run %s: %w", run.ReportRunID, err)
	}
	if len(responses) == 0 {
		log.Printf("[ComputeRunSentiment] run %s has no responses, skipping sentiment", run.ReportRunID)
		return nil
	}

	byModel := make(map[string][]string)
	var all []string
	for _, resp := range responses {
		content := resp.Content
		if len(content) > maxSentimentChars {
			content = content[:maxSentimentChars]
		}
		byModel[resp.AIModel] = append(byModel[resp.AIModel], content)
		all = append(all, content)
	}

	for model, contents := range byModel {
		if err := s.rateAndPersist(ctx, run, company, model, contents); err != nil {
			// A failed per-model rating degrades the report, it does not fail it.
			log.Printf("[ComputeRunSentiment] WARNING: sentiment for run %s model %s failed: %v", run.ReportRunID, model, err)
		}
	}

	if err := s.rateAndPersist(ctx, run, company, models.AIModelSummary, all); err != nil {
		return fmt.Errorf("summary sentiment failed for run %s: %w", run.ReportRunID, err)
	}
	return nil
}

func (s *sentimentService) rateAndPersist(ctx context.Context, run *models.ReportRun, company *models.Company, aiModel string, contents []string) error {
	rating, err := s.rate(ctx, company.Name, contents)
	if err != nil {
		return err
	}
	if rating == nil {
		return nil
	}

	return s.repos.SentimentRepo.Upsert(ctx, &models.SentimentRating{
		ReportRunID: run.ReportRunID,
		AIModel:     aiModel,
		Overall:     rating.Overall,
		Quality:     rating.Quality,
		PriceValue:  rating.PriceValue,
		Trust:       rating.Trust,
	})
}

// rate returns nil without error when the brand is not discussed in the text.
func (s *sentimentService) rate(ctx context.Context, companyName string, contents []string) (*SentimentExtractionResponse, error) {
	prompt := fmt.Sprintf(`Rate the sentiment toward the brand %q as expressed in the following AI-generated answers. Rate only what the text says about this brand; if the brand is not discussed, set "mentioned" to false and all scores to 0.

Answers:
%s`, companyName, strings.Join(contents, "\n\n---\n\n"))

	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "brand_sentiment",
		Description: openai.String("Structured brand sentiment rating"),
		Schema:      sentimentSchema,
		Strict:      openai.Bool(true),
	}

	chatResponse, err := s.openAIClient.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a brand perception analyst. Rate sentiment strictly from the provided text."),
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModelGPT4_1,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
		},
		Temperature: openai.Float(0), // Deterministic extraction
	})
	if err != nil {
		return nil, fmt.Errorf("sentiment completion failed: %w", err)
	}
	if len(chatResponse.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	var rating SentimentExtractionResponse
	if err := json.Unmarshal([]byte(chatResponse.Choices[0].Message.Content), &rating); err != nil {
		return nil, fmt.Errorf("failed to parse sentiment response: %w", err)
	}
	if !rating.Mentioned {
		return nil, nil
	}
	return &rating, nil
}
