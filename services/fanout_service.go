// services/fanout_service.go
package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/brandbeacon/beacon-workflows/internal/config"
	"github.com/brandbeacon/beacon-workflows/internal/models"
	"github.com/brandbeacon/beacon-workflows/internal/retry"
)

type fanOutService struct {
	repos      *RepositoryManager
	gateway    ProviderGateway
	extraction ExtractionService
	cfg        *config.Config
}

func NewFanOutService(repos *RepositoryManager, gateway ProviderGateway, extraction ExtractionService, cfg *config.Config) FanOutService {
	return &fanOutService{
		repos:      repos,
		gateway:    gateway,
		extraction: extraction,
		cfg:        cfg,
	}
}

// workUnit is one (question, model) cell of the fan-out matrix.
type workUnit struct {
	Question *models.Question
	ModelID  string
}

// unitResult is the settled outcome of one unit, success or terminal failure.
type unitResult struct {
	Unit         workUnit
	Err          error
	InputTokens  int
	OutputTokens int
	UsdCost      float64
}

// RunQuestionMatrix dispatches the (question x model) cross-product through a
// bounded worker pool and blocks until every unit settles. Work is clamped to
// the company's plan limits before anything is dispatched. A unit that
// exhausts its retries is recorded as failed without aborting its siblings.
func (s *fanOutService) RunQuestionMatrix(ctx context.Context, run *models.ReportRun, data *RunData) (*MatrixSummary, error) {
	questions, modelIDs := s.clampToPlan(data)
	if len(questions) == 0 || len(modelIDs) == 0 {
		return nil, fmt.Errorf("run %s has nothing to dispatch: %d questions, %d models", run.ReportRunID, len(questions), len(modelIDs))
	}

	units := make([]workUnit, 0, len(questions)*len(modelIDs))
	for _, q := range questions {
		for _, m := range modelIDs {
			units = append(units, workUnit{Question: q, ModelID: m})
		}
	}

	log.Printf("[RunQuestionMatrix] run %s dispatching %d units (%d questions x %d models, concurrency %d)",
		run.ReportRunID, len(units), len(questions), len(modelIDs), s.cfg.Pipeline.FanOutConcurrency)

	jobsCh := make(chan workUnit)
	resultsCh := make(chan unitResult)

	var wg sync.WaitGroup
	for w := 0; w < s.cfg.Pipeline.FanOutConcurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range jobsCh {
				resultsCh <- s.runUnit(ctx, run, data.Company, unit)
			}
		}()
	}

	go func() {
		for _, unit := range units {
			jobsCh <- unit
		}
		close(jobsCh)
		wg.Wait()
		close(resultsCh)
	}()

	summary := &MatrixSummary{
		UnitsTotal:     len(units),
		QuestionsTotal: len(questions),
		ModelsTotal:    len(modelIDs),
	}

	// Join barrier: metrics must never read a half-populated response set, so
	// we drain every result before returning.
	completed := 0
	questionSettled := make(map[uuid.UUID]int, len(questions))
	modelSettled := make(map[string]int, len(modelIDs))
	for result := range resultsCh {
		completed++
		questionSettled[result.Unit.Question.QuestionID]++
		modelSettled[result.Unit.ModelID]++
		if result.Err != nil {
			summary.UnitsFailed++
			summary.Failures = append(summary.Failures, UnitFailure{
				QuestionID: result.Unit.Question.QuestionID,
				AIModel:    result.Unit.ModelID,
				Error:      result.Err.Error(),
			})
			log.Printf("[RunQuestionMatrix] run %s unit failed question=%s model=%s: %v",
				run.ReportRunID, result.Unit.Question.QuestionID, result.Unit.ModelID, result.Err)
		} else {
			summary.UnitsSucceeded++
			summary.TokensUsed += result.InputTokens + result.OutputTokens
			summary.UsdCost += result.UsdCost
		}

		// A question or model counts as completed once every one of its units
		// has settled, success or failure.
		questionsCompleted := 0
		for _, settled := range questionSettled {
			if settled == len(modelIDs) {
				questionsCompleted++
			}
		}
		modelsCompleted := 0
		for _, settled := range modelSettled {
			if settled == len(questions) {
				modelsCompleted++
			}
		}

		stepStatus := fmt.Sprintf("fan_out: questions %d/%d, models %d/%d, units %d/%d (%d failed)",
			questionsCompleted, len(questions), modelsCompleted, len(modelIDs), completed, len(units), summary.UnitsFailed)
		if err := s.repos.ReportRunRepo.UpdateStepStatus(ctx, run.ReportRunID, stepStatus); err != nil {
			log.Printf("[RunQuestionMatrix] WARNING: progress update failed for run %s: %v", run.ReportRunID, err)
		}
	}

	if summary.TokensUsed > 0 || summary.UsdCost > 0 {
		if err := s.repos.ReportRunRepo.AddUsage(ctx, run.ReportRunID, summary.TokensUsed, summary.UsdCost); err != nil {
			log.Printf("[RunQuestionMatrix] WARNING: usage update failed for run %s: %v", run.ReportRunID, err)
		}
	}

	log.Printf("[RunQuestionMatrix] run %s settled: %d succeeded, %d failed, %d tokens, $%.4f",
		run.ReportRunID, summary.UnitsSucceeded, summary.UnitsFailed, summary.TokensUsed, summary.UsdCost)
	return summary, nil
}

// clampToPlan bounds the matrix to the plan tier before dispatch. Never
// dispatch more units than the plan allows.
func (s *fanOutService) clampToPlan(data *RunData) ([]*models.Question, []string) {
	modelsMax := data.Company.PlanModelsMax
	if modelsMax <= 0 {
		modelsMax = s.cfg.Pipeline.DefaultModelsMax
	}
	promptsMax := data.Company.PlanPromptsMax
	if promptsMax <= 0 {
		promptsMax = s.cfg.Pipeline.DefaultPromptsMax
	}

	questions := data.Questions
	if len(questions) > promptsMax {
		log.Printf("[clampToPlan] company %s: clamping %d questions to plan limit %d", data.Company.CompanyID, len(questions), promptsMax)
		questions = questions[:promptsMax]
	}
	modelIDs := data.Models
	if len(modelIDs) > modelsMax {
		log.Printf("[clampToPlan] company %s: clamping %d models to plan limit %d", data.Company.CompanyID, len(modelIDs), modelsMax)
		modelIDs = modelIDs[:modelsMax]
	}
	return questions, modelIDs
}

// runUnit executes one provider call with bounded retries and persists the
// response and its extracted mentions. Only retryable provider errors consume
// the retry budget; auth and invalid-request errors fail the unit immediately.
func (s *fanOutService) runUnit(ctx context.Context, run *models.ReportRun, company *models.Company, unit workUnit) unitResult {
	result := unitResult{Unit: unit}

	policy := retry.ProviderConfig(s.cfg.Pipeline.UnitMaxAttempts)
	aiResponse, err := retry.DoWithResultIf(ctx, policy, retry.IsRetryable, func() (*AIResponse, error) {
		return s.gateway.Execute(ctx, unit.ModelID, unit.Question.QueryText, company.Name)
	})
	if err != nil {
		result.Err = err
		return result
	}

	response := &models.Response{
		ResponseID:   uuid.New(),
		ReportRunID:  run.ReportRunID,
		QuestionID:   unit.Question.QuestionID,
		AIModel:      unit.ModelID,
		Content:      aiResponse.Content,
		InputTokens:  aiResponse.InputTokens,
		OutputTokens: aiResponse.OutputTokens,
		UsdCost:      aiResponse.UsdCost,
	}
	if err := s.repos.ResponseRepo.Create(ctx, response); err != nil {
		result.Err = fmt.Errorf("response persistence failed: %w", err)
		return result
	}

	// The response is the raw record; a failed extraction degrades mentions
	// for this response but does not fail the unit.
	if _, err := s.extraction.ProcessResponse(ctx, company, response, aiResponse.Citations); err != nil {
		log.Printf("[runUnit] WARNING: extraction failed for response %s: %v", response.ResponseID, err)
	}

	result.InputTokens = aiResponse.InputTokens
	result.OutputTokens = aiResponse.OutputTokens
	result.UsdCost = aiResponse.UsdCost
	return result
}
