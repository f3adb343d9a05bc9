package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/brandbeacon/beacon-workflows/internal/lock"
	"github.com/brandbeacon/beacon-workflows/internal/models"
	"github.com/brandbeacon/beacon-workflows/services"
)

type schedulerFixture struct {
	store   *fakeStore
	redis   *fakeRedis
	limiter *fakeRateLimiter
	events  *fakeEventSender
	alerter *fakeAlerter
	svc     services.SchedulerService
	company *models.Company
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	store := newFakeStore()
	repos := newTestRepos(store)
	redis := newFakeRedis()
	limiter := &fakeRateLimiter{allowed: true}
	events := &fakeEventSender{}
	alerter := &fakeAlerter{}

	company := &models.Company{
		CompanyID: uuid.New(),
		Name:      "Acme",
		IsActive:  true,
	}
	store.companies[company.CompanyID] = company

	svc := services.NewSchedulerService(repos, lock.NewManager(redis), limiter, events, alerter, testConfig())
	return &schedulerFixture{
		store:   store,
		redis:   redis,
		limiter: limiter,
		events:  events,
		alerter: alerter,
		svc:     svc,
		company: company,
	}
}

func TestQueueReportCreatesRunAndEnqueues(t *testing.T) {
	f := newSchedulerFixture(t)

	result, err := f.svc.QueueReport(context.Background(), f.company.CompanyID, false)
	if err != nil {
		t.Fatalf("QueueReport failed: %v", err)
	}

	if !result.IsNew {
		t.Error("IsNew = false, want true")
	}
	if result.Status != models.RunStatusPending {
		t.Errorf("Status = %s, want PENDING", result.Status)
	}
	run := f.store.runs[result.RunID]
	if run == nil {
		t.Fatal("run row was not persisted")
	}
	if run.StepStatus != "queued" {
		t.Errorf("StepStatus = %q, want %q", run.StepStatus, "queued")
	}
	if f.events.count() != 1 {
		t.Errorf("sent %d events, want 1", f.events.count())
	}
}

func TestQueueReportIsIdempotentPerDay(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	first, err := f.svc.QueueReport(ctx, f.company.CompanyID, false)
	if err != nil {
		t.Fatalf("first QueueReport failed: %v", err)
	}
	second, err := f.svc.QueueReport(ctx, f.company.CompanyID, false)
	if err != nil {
		t.Fatalf("second QueueReport failed: %v", err)
	}

	if second.IsNew {
		t.Error("second call IsNew = true, want false")
	}
	if second.RunID != first.RunID {
		t.Errorf("second call returned run %s, want the existing run %s", second.RunID, first.RunID)
	}
	if f.store.runCreates != 1 {
		t.Errorf("created %d runs, want 1", f.store.runCreates)
	}
	if f.events.count() != 1 {
		t.Errorf("sent %d events, want 1", f.events.count())
	}
}

func TestQueueReportForceBypassesSameDayCheck(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	first, err := f.svc.QueueReport(ctx, f.company.CompanyID, false)
	if err != nil {
		t.Fatalf("first QueueReport failed: %v", err)
	}
	forced, err := f.svc.QueueReport(ctx, f.company.CompanyID, true)
	if err != nil {
		t.Fatalf("forced QueueReport failed: %v", err)
	}

	if !forced.IsNew {
		t.Error("forced call IsNew = false, want a fresh run")
	}
	if forced.RunID == first.RunID {
		t.Error("forced call reused the existing run")
	}
	if f.store.runCreates != 2 {
		t.Errorf("created %d runs, want 2", f.store.runCreates)
	}
}

func TestQueueReportRetriesAfterFailedRun(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	first, err := f.svc.QueueReport(ctx, f.company.CompanyID, false)
	if err != nil {
		t.Fatalf("first QueueReport failed: %v", err)
	}
	f.store.runs[first.RunID].Status = models.RunStatusFailed

	second, err := f.svc.QueueReport(ctx, f.company.CompanyID, false)
	if err != nil {
		t.Fatalf("retry QueueReport failed: %v", err)
	}
	if !second.IsNew {
		t.Error("a FAILED run today should not block a retry")
	}
}

func TestQueueReportFailedRetryDoesNotShadowCompletedRun(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	// The morning run completed; a later forced retry failed. The failed run
	// is newer, but the completed one still satisfies today's schedule.
	completed, err := f.svc.QueueReport(ctx, f.company.CompanyID, false)
	if err != nil {
		t.Fatalf("first QueueReport failed: %v", err)
	}
	f.store.runs[completed.RunID].Status = models.RunStatusCompleted

	forced, err := f.svc.QueueReport(ctx, f.company.CompanyID, true)
	if err != nil {
		t.Fatalf("forced QueueReport failed: %v", err)
	}
	f.store.runs[forced.RunID].Status = models.RunStatusFailed
	f.store.runs[forced.RunID].CreatedAt = f.store.runs[completed.RunID].CreatedAt.Add(time.Millisecond)

	result, err := f.svc.QueueReport(ctx, f.company.CompanyID, false)
	if err != nil {
		t.Fatalf("QueueReport failed: %v", err)
	}
	if result.IsNew {
		t.Error("IsNew = true, want the existing COMPLETED run to short-circuit")
	}
	if result.RunID != completed.RunID {
		t.Errorf("returned run %s, want the completed run %s", result.RunID, completed.RunID)
	}
	if f.store.runCreates != 2 {
		t.Errorf("created %d runs, want 2 (no third run for the same day)", f.store.runCreates)
	}
	if f.events.count() != 2 {
		t.Errorf("sent %d events, want 2", f.events.count())
	}
}

func TestQueueReportRateLimited(t *testing.T) {
	f := newSchedulerFixture(t)
	f.limiter.allowed = false

	_, err := f.svc.QueueReport(context.Background(), f.company.CompanyID, false)
	if !errors.Is(err, services.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if f.store.runCreates != 0 {
		t.Errorf("created %d runs while rate limited, want 0", f.store.runCreates)
	}
}

func TestQueueReportForceSkipsRateLimit(t *testing.T) {
	f := newSchedulerFixture(t)
	f.limiter.allowed = false

	result, err := f.svc.QueueReport(context.Background(), f.company.CompanyID, true)
	if err != nil {
		t.Fatalf("forced QueueReport failed: %v", err)
	}
	if !result.IsNew {
		t.Error("forced call should create a run despite the limiter")
	}
	if f.limiter.calls != 0 {
		t.Errorf("limiter consulted %d times on a forced call, want 0", f.limiter.calls)
	}
}

func TestQueueReportLimiterFailureDoesNotBlock(t *testing.T) {
	f := newSchedulerFixture(t)
	f.limiter.err = fmt.Errorf("redis unavailable")

	result, err := f.svc.QueueReport(context.Background(), f.company.CompanyID, false)
	if err != nil {
		t.Fatalf("QueueReport failed: %v", err)
	}
	if !result.IsNew {
		t.Error("a broken limiter must not block report generation")
	}
}

func TestQueueReportRejectsUnknownAndInactiveCompanies(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	if _, err := f.svc.QueueReport(ctx, uuid.New(), false); !errors.Is(err, services.ErrCompanyNotFound) {
		t.Errorf("unknown company err = %v, want ErrCompanyNotFound", err)
	}

	f.company.IsActive = false
	if _, err := f.svc.QueueReport(ctx, f.company.CompanyID, false); !errors.Is(err, services.ErrCompanyInactive) {
		t.Errorf("inactive company err = %v, want ErrCompanyInactive", err)
	}
}

func TestQueueReportFailsRunWhenEnqueueFails(t *testing.T) {
	f := newSchedulerFixture(t)
	f.events.err = fmt.Errorf("event api down")

	_, err := f.svc.QueueReport(context.Background(), f.company.CompanyID, false)
	if err == nil {
		t.Fatal("expected an error when the event send fails")
	}

	if f.store.runCreates != 1 {
		t.Fatalf("created %d runs, want 1", f.store.runCreates)
	}
	for _, run := range f.store.runs {
		if run.Status != models.RunStatusFailed {
			t.Errorf("unenqueued run status = %s, want FAILED", run.Status)
		}
		if run.StepStatus != "enqueue failed" {
			t.Errorf("StepStatus = %q, want %q", run.StepStatus, "enqueue failed")
		}
	}
}

func TestQueueReportLockContention(t *testing.T) {
	f := newSchedulerFixture(t)

	// Another process holds the per-company lock and has not yet created a
	// visible run.
	lockKey := fmt.Sprintf("report:lock:%s", f.company.CompanyID)
	f.redis.SetNX(context.Background(), lockKey, "other-process", 0)

	_, err := f.svc.QueueReport(context.Background(), f.company.CompanyID, false)
	if !errors.Is(err, services.ErrReportInProgress) {
		t.Fatalf("err = %v, want ErrReportInProgress", err)
	}
	if f.store.runCreates != 0 {
		t.Errorf("created %d runs under contention, want 0", f.store.runCreates)
	}
}

func TestTriggerAllEligible(t *testing.T) {
	f := newSchedulerFixture(t)

	// Eligibility requires a prior COMPLETED run; the second company has none.
	f.store.runs[uuid.New()] = &models.ReportRun{
		ReportRunID: uuid.New(),
		CompanyID:   f.company.CompanyID,
		Status:      models.RunStatusCompleted,
	}
	newcomer := &models.Company{CompanyID: uuid.New(), Name: "Fresh", IsActive: true}
	f.store.companies[newcomer.CompanyID] = newcomer

	sent, err := f.svc.TriggerAllEligible(context.Background(), "provider outage", 5)
	if err != nil {
		t.Fatalf("TriggerAllEligible failed: %v", err)
	}
	if sent != 1 {
		t.Errorf("sent = %d, want 1 (only the company with a completed run)", sent)
	}
	if f.alerter.count() != 1 {
		t.Errorf("recorded %d alerts, want 1", f.alerter.count())
	}
}
