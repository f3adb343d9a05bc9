// services/scheduler_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/inngest/inngestgo"

	"github.com/brandbeacon/beacon-workflows/internal/config"
	"github.com/brandbeacon/beacon-workflows/internal/lock"
	"github.com/brandbeacon/beacon-workflows/internal/models"
)

// Stable, user-facing failure classifications. Handlers map these to HTTP
// responses without leaking internals.
var (
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrReportInProgress = errors.New("report already in progress")
	ErrCompanyNotFound  = errors.New("company not found")
	ErrCompanyInactive  = errors.New("company is not active")
)

// EventSender is the slice of the Inngest client the scheduler needs;
// narrowed so tests can substitute a recorder.
type EventSender interface {
	Send(ctx context.Context, evt any) (string, error)
}

// EventReportGenerate starts the report pipeline for one run.
const EventReportGenerate = "report.generate"

// EventEmergencyTrigger force-queues one company, optionally after a delay.
const EventEmergencyTrigger = "report.emergency.trigger"

type schedulerService struct {
	repos       *RepositoryManager
	locks       *lock.Manager
	rateLimiter RateLimiter
	events      EventSender
	alerter     Alerter
	cfg         *config.Config
}

func NewSchedulerService(repos *RepositoryManager, locks *lock.Manager, rateLimiter RateLimiter, events EventSender, alerter Alerter, cfg *config.Config) SchedulerService {
	return &schedulerService{
		repos:       repos,
		locks:       locks,
		rateLimiter: rateLimiter,
		events:      events,
		alerter:     alerter,
		cfg:         cfg,
	}
}

// QueueReport is idempotent per company per calendar day: if a COMPLETED or
// in-flight run already exists today and force is false, the existing run is
// returned and no new work is created. The check-then-create runs under a
// per-company distributed lock so concurrent callers cannot double-create.
func (s *schedulerService) QueueReport(ctx context.Context, companyID uuid.UUID, force bool) (*QueueResult, error) {
	company, err := s.repos.CompanyRepo.GetByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, ErrCompanyNotFound
	}
	if !company.IsActive {
		return nil, ErrCompanyInactive
	}

	if !force {
		allowed, err := s.rateLimiter.Allow(ctx, fmt.Sprintf("report:%s", companyID))
		if err != nil {
			// A broken limiter must not block report generation.
			log.Printf("[QueueReport] WARNING: rate limiter unavailable for company %s: %v", companyID, err)
		} else if !allowed {
			return nil, ErrRateLimited
		}
	}

	lockKey := fmt.Sprintf("report:lock:%s", companyID)
	ttl := time.Duration(s.cfg.Pipeline.LockTTLSeconds) * time.Second
	held, acquired, err := s.locks.Acquire(ctx, lockKey, ttl, 3, 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	if !acquired {
		// Another process is queueing this company right now. Surface the run
		// it is creating if visible, otherwise report the contention.
		if existing, findErr := s.findRunToday(ctx, company); findErr == nil && existing != nil {
			return &QueueResult{RunID: existing.ReportRunID, IsNew: false, Status: existing.Status}, nil
		}
		return nil, ErrReportInProgress
	}
	defer func() {
		if _, releaseErr := held.Release(ctx); releaseErr != nil {
			log.Printf("[QueueReport] WARNING: lock release failed for company %s: %v", companyID, releaseErr)
		}
	}()

	// Re-check under the lock: the winner of a race may have created the run
	// between our first look and lock acquisition.
	if !force {
		existing, err := s.findRunToday(ctx, company)
		if err != nil {
			return nil, err
		}
		if existing != nil && (existing.Status == models.RunStatusCompleted || !existing.Status.IsTerminal()) {
			log.Printf("[QueueReport] company %s already has run %s today (%s), skipping", companyID, existing.ReportRunID, existing.Status)
			return &QueueResult{RunID: existing.ReportRunID, IsNew: false, Status: existing.Status}, nil
		}
	}

	run := &models.ReportRun{
		CompanyID:  companyID,
		Status:     models.RunStatusPending,
		StepStatus: "queued",
	}
	if err := s.repos.ReportRunRepo.Create(ctx, run); err != nil {
		return nil, err
	}

	evt := inngestgo.Event{
		Name: EventReportGenerate,
		Data: map[string]interface{}{
			"company_id":    companyID.String(),
			"report_run_id": run.ReportRunID.String(),
			"forced":        force,
		},
	}
	if _, err := s.events.Send(ctx, evt); err != nil {
		// The run row exists but nothing will pick it up; fail it so the
		// stuck-run sweep does not have to.
		if updateErr := s.repos.ReportRunRepo.UpdateStatus(ctx, run.ReportRunID, models.RunStatusFailed, "enqueue failed"); updateErr != nil {
			log.Printf("[QueueReport] WARNING: could not fail unenqueued run %s: %v", run.ReportRunID, updateErr)
		}
		return nil, fmt.Errorf("failed to enqueue report for company %s: %w", companyID, err)
	}

	log.Printf("[QueueReport] company %s queued run %s (forced=%v)", companyID, run.ReportRunID, force)
	return &QueueResult{RunID: run.ReportRunID, IsNew: true, Status: run.Status}, nil
}

func (s *schedulerService) GetRunStatus(ctx context.Context, runID uuid.UUID) (*models.ReportRun, error) {
	return s.repos.ReportRunRepo.GetByID(ctx, runID)
}

// TriggerAllEligible is the emergency path: force-queue every eligible
// company, optionally delayed. Every invocation alerts operators because it
// means the primary schedule needed manual help.
func (s *schedulerService) TriggerAllEligible(ctx context.Context, reason string, delayMinutes int) (int, error) {
	companies, err := s.repos.CompanyRepo.ListEligibleForScheduled(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, company := range companies {
		evt := inngestgo.Event{
			Name: EventEmergencyTrigger,
			Data: map[string]interface{}{
				"company_id":    company.CompanyID.String(),
				"reason":        reason,
				"delay_minutes": delayMinutes,
			},
		}
		if _, err := s.events.Send(ctx, evt); err != nil {
			log.Printf("[TriggerAllEligible] WARNING: failed to send emergency trigger for company %s: %v", company.CompanyID, err)
			continue
		}
		sent++
	}

	s.alerter.Alert(ctx, "scheduler", "emergency trigger fired for all eligible companies", map[string]interface{}{
		"reason":        reason,
		"delay_minutes": delayMinutes,
		"companies":     len(companies),
		"events_sent":   sent,
	})
	return sent, nil
}

// findRunToday looks for a run created today in the company's timezone (UTC
// when unset or invalid), matching the day boundary used by the history
// tables. COMPLETED and in-flight runs win over FAILED ones, so a failed
// retry never hides the run that already served the day.
func (s *schedulerService) findRunToday(ctx context.Context, company *models.Company) (*models.ReportRun, error) {
	loc := time.UTC
	if company.Timezone != "" {
		if parsed, err := time.LoadLocation(company.Timezone); err == nil {
			loc = parsed
		}
	}
	now := time.Now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return s.repos.ReportRunRepo.FindInWindow(ctx, company.CompanyID, dayStart.UTC(), dayStart.Add(24*time.Hour).UTC())
}
