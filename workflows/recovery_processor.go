// workflows/recovery_processor.go
package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/inngest/inngestgo"
	"github.com/inngest/inngestgo/step"

	"github.com/brandbeacon/beacon-workflows/internal/config"
	"github.com/brandbeacon/beacon-workflows/services"
)

// EmergencyTriggerEvent is the payload of the "report.emergency.trigger"
// event. DelayMinutes spreads forced re-triggers out so a mass recovery does
// not stampede the providers.
type EmergencyTriggerEvent struct {
	CompanyID    string `json:"company_id"`
	Reason       string `json:"reason"`
	DelayMinutes int    `json:"delay_minutes"`
}

type RecoveryProcessor struct {
	repos     *services.RepositoryManager
	recovery  services.RecoveryService
	scheduler services.SchedulerService
	alerter   services.Alerter
	client    inngestgo.Client
	cfg       *config.Config
}

func NewRecoveryProcessor(
	repos *services.RepositoryManager,
	recovery services.RecoveryService,
	scheduler services.SchedulerService,
	alerter services.Alerter,
	cfg *config.Config,
) *RecoveryProcessor {
	return &RecoveryProcessor{
		repos:     repos,
		recovery:  recovery,
		scheduler: scheduler,
		alerter:   alerter,
		cfg:       cfg,
	}
}

func (p *RecoveryProcessor) SetClient(client inngestgo.Client) {
	p.client = client
}

// StuckRunMonitor periodically fails stalled runs and backfills metric rows
// missing from completed runs. Both sweeps are idempotent.
func (p *RecoveryProcessor) StuckRunMonitor() inngestgo.ServableFunction {
	fn, err := inngestgo.CreateFunction(
		p.client,
		inngestgo.FunctionOpts{
			ID:   "stuck-run-monitor",
			Name: "Stuck Run Monitor",
		},
		inngestgo.CronTrigger("*/30 * * * *"),
		func(ctx context.Context, input inngestgo.Input[any]) (any, error) {
			sweep, err := step.Run(ctx, "sweep-stuck-runs", func(ctx context.Context) (*services.StuckRunReport, error) {
				return p.recovery.SweepStuckRuns(ctx)
			})
			if err != nil {
				return nil, fmt.Errorf("stuck sweep failed: %w", err)
			}

			remediated, err := step.Run(ctx, "remediate-missing-metrics", func(ctx context.Context) ([]uuid.UUID, error) {
				return p.recovery.RemediateMissingMetrics(ctx)
			})
			if err != nil {
				return nil, fmt.Errorf("metric remediation failed: %w", err)
			}

			return map[string]interface{}{
				"runs_checked":       sweep.Checked,
				"runs_failed":        len(sweep.MarkedFailed),
				"runs_suspicious":    len(sweep.Suspicious),
				"metrics_backfilled": len(remediated),
			}, nil
		},
	)
	if err != nil {
		fmt.Printf("Failed to create stuck-run-monitor function: %v\n", err)
	}
	return fn
}

// BackupScheduler re-scans for companies the primary schedule missed. It runs
// hours after the daily scheduler; QueueReport's same-day idempotency makes
// it a no-op for companies already served.
func (p *RecoveryProcessor) BackupScheduler() inngestgo.ServableFunction {
	fn, err := inngestgo.CreateFunction(
		p.client,
		inngestgo.FunctionOpts{
			ID:   "backup-report-scheduler",
			Name: "Backup Report Scheduler",
		},
		inngestgo.CronTrigger(fmt.Sprintf("0 %d * * *", p.cfg.Recovery.BackupHourUTC)),
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

			rescued := []string{}
			for _, companyID := range companies {
				stepName := fmt.Sprintf("backup-queue-%s", companyID)
				isNew, err := step.Run(ctx, stepName, func(ctx context.Context) (bool, error) {
					id, parseErr := parseCompanyID(companyID)
					if parseErr != nil {
						return false, parseErr
					}
					result, queueErr := p.scheduler.QueueReport(ctx, id, false)
					if queueErr != nil {
						// Contention or rate limiting means someone else is on it.
						fmt.Printf("[BackupScheduler] company %s not re-queued: %v\n", companyID, queueErr)
						return false, nil
					}
					return result.IsNew, nil
				})
				if err != nil {
					fmt.Printf("Warning: backup queue step failed for company %s: %v\n", companyID, err)
					continue
				}
				if isNew {
					rescued = append(rescued, companyID)
				}
			}

			// A non-empty rescue list means the primary schedule failed for
			// those companies; operators need to know the backup intervened.
			if len(rescued) > 0 {
				p.alerter.Alert(ctx, "backup_scheduler", "backup scheduler queued reports the primary missed", map[string]interface{}{
					"execution_date":   time.Now().UTC().Format("2006-01-02"),
					"companies_missed": len(rescued),
					"company_ids":      rescued,
				})
			}

			return map[string]interface{}{
				"companies_scanned": len(companies),
				"companies_rescued": len(rescued),
			}, nil
		},
	)
	if err != nil {
		fmt.Printf("Failed to create backup-report-scheduler function: %v\n", err)
	}
	return fn
}

// EmergencyTrigger force-queues one company, optionally after a delay.
// Always forced: the emergency path exists to bypass the daily check.
func (p *RecoveryProcessor) EmergencyTrigger() inngestgo.ServableFunction {
	fn, err := inngestgo.CreateFunction(
		p.client,
		inngestgo.FunctionOpts{
			ID:      "emergency-report-trigger",
			Name:    "Emergency Report Trigger",
			Retries: inngestgo.IntPtr(2),
		},
		inngestgo.EventTrigger(services.EventEmergencyTrigger, nil),
		func(ctx context.Context, input inngestgo.Input[EmergencyTriggerEvent]) (any, error) {
			data := input.Event.Data
			companyID, err := parseCompanyID(data.CompanyID)
			if err != nil {
				return nil, err
			}

			if data.DelayMinutes > 0 {
				step.Sleep(ctx, "spread-delay", time.Duration(data.DelayMinutes)*time.Minute)
			}

			result, err := step.Run(ctx, "force-queue-report", func(ctx context.Context) (*services.QueueResult, error) {
				return p.scheduler.QueueReport(ctx, companyID, true)
			})
			if err != nil {
				return nil, fmt.Errorf("forced queue failed for company %s: %w", companyID, err)
			}

			p.alerter.Alert(ctx, "emergency_trigger", "emergency report trigger executed", map[string]interface{}{
				"company_id":    data.CompanyID,
				"report_run_id": result.RunID.String(),
				"reason":        data.Reason,
				"delay_minutes": data.DelayMinutes,
				"is_new":        result.IsNew,
			})
			return result, nil
		},
	)
	if err != nil {
		fmt.Printf("Failed to create emergency-report-trigger function: %v\n", err)
	}
	return fn
}

func parseCompanyID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid company id %q: %w", raw, err)
	}
	return id, nil
}
