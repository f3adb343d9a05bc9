// workflows/report_processor.go
package workflows

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/inngest/inngestgo"
	"github.com/inngest/inngestgo/step"

	"github.com/brandbeacon/beacon-workflows/internal/config"
	"github.com/brandbeacon/beacon-workflows/internal/models"
	"github.com/brandbeacon/beacon-workflows/services"
)

// ReportGenerateEvent is the payload of the "report.generate" event.
type ReportGenerateEvent struct {
	CompanyID   string `json:"company_id"`
	ReportRunID string `json:"report_run_id"`
	Forced      bool   `json:"forced"`
}

type ReportProcessor struct {
	repos     *services.RepositoryManager
	fanOut    services.FanOutService
	sentiment services.SentimentService
	metrics   services.MetricsService
	alerter   services.Alerter
	client    inngestgo.Client
	cfg       *config.Config
}

func NewReportProcessor(
	repos *services.RepositoryManager,
	fanOut services.FanOutService,
	sentiment services.SentimentService,
	metrics services.MetricsService,
	alerter services.Alerter,
	cfg *config.Config,
) *ReportProcessor {
	return &ReportProcessor{
		repos:     repos,
		fanOut:    fanOut,
		sentiment: sentiment,
		metrics:   metrics,
		alerter:   alerter,
		cfg:       cfg,
	}
}

func (p *ReportProcessor) SetClient(client inngestgo.Client) {
	p.client = client
}

// GenerateReport is the full pipeline for one run: load data, fan out the
// question matrix, rate sentiment, compute metrics, finalize status. Each
// stage is a durable step so a worker crash resumes after the last completed
// stage instead of starting over.
func (p *ReportProcessor) GenerateReport() inngestgo.ServableFunction {
	fn, err := inngestgo.CreateFunction(
		p.client,
		inngestgo.FunctionOpts{
			ID:      "generate-report",
			Name:    "Generate Brand Visibility Report",
			Retries: inngestgo.IntPtr(3),
		},
		inngestgo.EventTrigger(services.EventReportGenerate, nil),
		func(ctx context.Context, input inngestgo.Input[ReportGenerateEvent]) (any, error) {
			runID, err := uuid.Parse(input.Event.Data.ReportRunID)
			if err != nil {
				return nil, fmt.Errorf("invalid report_run_id: %w", err)
			}
			companyID, err := uuid.Parse(input.Event.Data.CompanyID)
			if err != nil {
				return nil, fmt.Errorf("invalid company_id: %w", err)
			}
			fmt.Printf("[GenerateReport] Starting pipeline for run %s (company %s)\n", runID, companyID)

			// Step 1: Load everything the pipeline needs
			data, err := step.Run(ctx, "load-run-data", func(ctx context.Context) (*services.RunData, error) {
				return p.loadRunData(ctx, runID, companyID)
			})
			if err != nil {
				return nil, p.failRun(ctx, runID, companyID, "load-run-data", err)
			}

			// Step 2: Transition to RUNNING
			_, err = step.Run(ctx, "mark-running", func(ctx context.Context) (any, error) {
				return nil, p.repos.ReportRunRepo.UpdateStatus(ctx, runID, models.RunStatusRunning, "pipeline started")
			})
			if err != nil {
				return nil, p.failRun(ctx, runID, companyID, "mark-running", err)
			}

			// Step 3: Fan out the (question x model) matrix and wait for the barrier
			summary, err := step.Run(ctx, "run-question-matrix", func(ctx context.Context) (*services.MatrixSummary, error) {
				run := &models.ReportRun{ReportRunID: runID, CompanyID: companyID}
				return p.fanOut.RunQuestionMatrix(ctx, run, data)
			})
			if err != nil {
				return nil, p.failRun(ctx, runID, companyID, "run-question-matrix", err)
			}

			if summary.UnitsSucceeded == 0 {
				// Nothing to compute from; this is a clean failure, not partial.
				_, _ = step.Run(ctx, "mark-failed-no-data", func(ctx context.Context) (any, error) {
					return nil, p.repos.ReportRunRepo.UpdateStatus(ctx, runID, models.RunStatusFailed, "fan_out: all units failed")
				})
				p.alerter.Alert(ctx, "report_pipeline", "report failed: every fan-out unit failed", map[string]interface{}{
					"report_run_id": runID.String(),
					"company_id":    companyID.String(),
					"units_total":   summary.UnitsTotal,
				})
				return map[string]interface{}{"status": string(models.RunStatusFailed), "units_failed": summary.UnitsFailed}, nil
			}

			// Step 4: Sentiment ratings. A sentiment failure degrades the report
			// rather than failing it; metrics handle a missing rating as null.
			_, err = step.Run(ctx, "compute-sentiment", func(ctx context.Context) (any, error) {
				run := &models.ReportRun{ReportRunID: runID, CompanyID: companyID}
				if err := p.sentiment.ComputeRunSentiment(ctx, run, data.Company); err != nil {
					fmt.Printf("[GenerateReport] WARNING: sentiment failed for run %s: %v\n", runID, err)
				}
				return nil, nil
			})
			if err != nil {
				return nil, p.failRun(ctx, runID, companyID, "compute-sentiment", err)
			}

			// Step 5: Metrics, computed only after the fan-out barrier
			_, err = step.Run(ctx, "compute-metrics", func(ctx context.Context) (any, error) {
				return nil, p.metrics.ComputeAndPersistMetrics(ctx, runID, companyID)
			})
			if err != nil {
				return nil, p.failRun(ctx, runID, companyID, "compute-metrics", err)
			}

			// Step 6: Finalize
			_, err = step.Run(ctx, "mark-completed", func(ctx context.Context) (any, error) {
				stepStatus := "completed"
				if summary.UnitsFailed > 0 {
					stepStatus = fmt.Sprintf("completed with %d/%d failed units", summary.UnitsFailed, summary.UnitsTotal)
				}
				return nil, p.repos.ReportRunRepo.UpdateStatus(ctx, runID, models.RunStatusCompleted, stepStatus)
			})
			if err != nil {
				return nil, p.failRun(ctx, runID, companyID, "mark-completed", err)
			}

			fmt.Printf("[GenerateReport] Run %s completed: %d/%d units, $%.4f\n", runID, summary.UnitsSucceeded, summary.UnitsTotal, summary.UsdCost)
			return map[string]interface{}{
				"status":          string(models.RunStatusCompleted),
				"units_total":     summary.UnitsTotal,
				"units_succeeded": summary.UnitsSucceeded,
				"units_failed":    summary.UnitsFailed,
				"tokens_used":     summary.TokensUsed,
				"usd_cost":        summary.UsdCost,
			}, nil
		},
	)
	if err != nil {
		fmt.Printf("Failed to create generate-report function: %v\n", err)
	}
	return fn
}

func (p *ReportProcessor) loadRunData(ctx context.Context, runID, companyID uuid.UUID) (*services.RunData, error) {
	run, err := p.repos.ReportRunRepo.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("report run %s not found", runID)
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("report run %s is already %s", runID, run.Status)
	}

	company, err := p.repos.CompanyRepo.GetByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, fmt.Errorf("company %s not found", companyID)
	}

	questions, err := p.repos.QuestionRepo.ListActiveByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("company %s has no active questions", companyID)
	}
	if len(company.EnabledModels) == 0 {
		return nil, fmt.Errorf("company %s has no enabled models", companyID)
	}

	competitors, err := p.repos.CompetitorRepo.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}

	fmt.Printf("[GenerateReport] Loaded company %s: %d questions, %d models, %d competitors\n",
		company.Name, len(questions), len(company.EnabledModels), len(competitors))
	return &services.RunData{
		Company:     company,
		Competitors: competitors,
		Questions:   questions,
		Models:      company.EnabledModels,
	}, nil
}

// failRun marks the run FAILED with the failing stage, alerts, and returns
// the original error for the queue's own retry accounting.
func (p *ReportProcessor) failRun(ctx context.Context, runID, companyID uuid.UUID, stage string, err error) error {
	stepStatus := fmt.Sprintf("failed at %s: %v", stage, err)
	if updateErr := p.repos.ReportRunRepo.UpdateStatus(ctx, runID, models.RunStatusFailed, stepStatus); updateErr != nil {
		fmt.Printf("[GenerateReport] WARNING: could not mark run %s failed: %v\n", runID, updateErr)
	}
	p.alerter.Alert(ctx, "report_pipeline", "report pipeline stage failed", map[string]interface{}{
		"report_run_id": runID.String(),
		"company_id":    companyID.String(),
		"stage":         stage,
		"error":         err.Error(),
	})
	return fmt.Errorf("%s failed for run %s: %w", stage, runID, err)
}
