// workflows/scheduled_processor.go
package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inngest/inngestgo"
	"github.com/inngest/inngestgo/step"

	"github.com/brandbeacon/beacon-workflows/services"
)

type ScheduledProcessor struct {
	repos     *services.RepositoryManager
	scheduler services.SchedulerService
	client    inngestgo.Client
}

func NewScheduledProcessor(repos *services.RepositoryManager, scheduler services.SchedulerService) *ScheduledProcessor {
	return &ScheduledProcessor{
		repos:     repos,
		scheduler: scheduler,
	}
}

func (p *ScheduledProcessor) SetClient(client inngestgo.Client) {
	p.client = client
}

// DailyReportScheduler queues one report per eligible company per day.
// QueueReport is idempotent per day, so overlapping executions (or the
// backup scheduler running later) never double-create runs.
func (p *ScheduledProcessor) DailyReportScheduler() inngestgo.ServableFunction {
	fn, err := inngestgo.CreateFunction(
		p.client,
		inngestgo.FunctionOpts{
			ID:   "daily-report-scheduler",
			Name: "Daily Report Scheduler",
		},
		inngestgo.CronTrigger("0 6 * * *"),
		func(ctx context.Context, input inngestgo.Input[any]) (any, error) {
			companies, err := step.Run(ctx, "list-eligible-companies", func(ctx context.Context) ([]string, error) {
				eligible, err := p.repos.CompanyRepo.ListEligibleForScheduled(ctx)
				if err != nil {
					return nil, err
				}
				ids := make([]string, 0, len(eligible))
				for _, c := range eligible {
					ids = append(ids, c.CompanyID.String())
				}
				return ids, nil
			})
			if err != nil {
				return nil, fmt.Errorf("eligibility scan failed: %w", err)
			}

			if len(companies) == 0 {
				return map[string]interface{}{
					"execution_date":  time.Now().UTC().Format("2006-01-02"),
					"companies_found": 0,
					"message":         "no companies eligible for scheduled generation",
				}, nil
			}

			// One idempotent step per company: a failed send retries only that
			// company, not the whole batch.
			queued := 0
			skipped := 0
			for _, companyID := range companies {
				stepName := fmt.Sprintf("queue-report-%s", companyID)
				result, err := step.Run(ctx, stepName, func(ctx context.Context) (*scheduleOutcome, error) {
					return p.queueOne(ctx, companyID)
				})
				if err != nil {
					fmt.Printf("Warning: failed to queue report for company %s: %v\n", companyID, err)
					continue
				}
				if result.Queued {
					queued++
				} else {
					skipped++
				}
			}

			return map[string]interface{}{
				"execution_date":  time.Now().UTC().Format("2006-01-02"),
				"companies_found": len(companies),
				"reports_queued":  queued,
				"reports_skipped": skipped,
			}, nil
		},
	)
	if err != nil {
		fmt.Printf("Failed to create daily-report-scheduler function: %v\n", err)
	}
	return fn
}

type scheduleOutcome struct {
	Queued bool   `json:"queued"`
	RunID  string `json:"run_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (p *ScheduledProcessor) queueOne(ctx context.Context, companyID string) (*scheduleOutcome, error) {
	id, err := parseCompanyID(companyID)
	if err != nil {
		return nil, err
	}

	result, err := p.scheduler.QueueReport(ctx, id, false)
	if err != nil {
		// Expected idempotency outcomes are not step failures.
		if errors.Is(err, services.ErrRateLimited) || errors.Is(err, services.ErrReportInProgress) {
			return &scheduleOutcome{Queued: false, Reason: err.Error()}, nil
		}
		return nil, err
	}
	return &scheduleOutcome{Queued: result.IsNew, RunID: result.RunID.String(), Reason: string(result.Status)}, nil
}
