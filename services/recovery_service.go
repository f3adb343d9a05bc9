// services/recovery_service.go
package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/brandbeacon/beacon-workflows/internal/config"
	"github.com/brandbeacon/beacon-workflows/internal/database"
	"github.com/brandbeacon/beacon-workflows/internal/models"
)

// remediationLookback bounds how far back the missing-metric sweep scans.
const remediationLookback = 7 * 24 * time.Hour

type recoveryService struct {
	repos   *RepositoryManager
	metrics MetricsService
	gateway ProviderGateway
	alerter Alerter
	db      *database.Client
	cfg     *config.Config
}

func NewRecoveryService(repos *RepositoryManager, metrics MetricsService, gateway ProviderGateway, alerter Alerter, db *database.Client, cfg *config.Config) RecoveryService {
	return &recoveryService{
		repos:   repos,
		metrics: metrics,
		gateway: gateway,
		alerter: alerter,
		db:      db,
		cfg:     cfg,
	}
}

// SweepStuckRuns forcibly fails RUNNING runs with no progress past the
// threshold. A failed run that already holds responses or metric rows is
// flagged as suspicious: the failure happened post-collection and the data
// is likely salvageable via a metrics re-run.
func (s *recoveryService) SweepStuckRuns(ctx context.Context) (*StuckRunReport, error) {
	threshold := time.Duration(s.cfg.Recovery.StuckAfterMinutes) * time.Minute
	cutoff := time.Now().UTC().Add(-threshold)

	stuck, err := s.repos.ReportRunRepo.ListStuck(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	report := &StuckRunReport{Checked: len(stuck)}
	for _, run := range stuck {
		marker := fmt.Sprintf("stuck_detected: forced FAILED after %s without progress", threshold)
		if err := s.repos.ReportRunRepo.UpdateStatus(ctx, run.ReportRunID, models.RunStatusFailed, marker); err != nil {
			log.Printf("[SweepStuckRuns] WARNING: could not fail stuck run %s: %v", run.ReportRunID, err)
			continue
		}
		report.MarkedFailed = append(report.MarkedFailed, run.ReportRunID)

		responseCount, err := s.repos.ResponseRepo.CountByRun(ctx, run.ReportRunID)
		if err != nil {
			log.Printf("[SweepStuckRuns] WARNING: response count failed for run %s: %v", run.ReportRunID, err)
		}
		hasMetrics, err := s.repos.MetricRepo.Exists(ctx, run.ReportRunID, models.AIModelAll)
		if err != nil {
			log.Printf("[SweepStuckRuns] WARNING: metric check failed for run %s: %v", run.ReportRunID, err)
		}
		suspicious := responseCount > 0 || hasMetrics
		if suspicious {
			report.Suspicious = append(report.Suspicious, run.ReportRunID)
		}

		severity := "clean_failure"
		if suspicious {
			severity = "suspicious_failure"
		}
		s.alerter.Alert(ctx, "recovery", "stuck run forced to FAILED", map[string]interface{}{
			"report_run_id": run.ReportRunID.String(),
			"company_id":    run.CompanyID.String(),
			"last_step":     run.StepStatus,
			"stalled_since": run.UpdatedAt.Format(time.RFC3339),
			"responses":     responseCount,
			"has_metrics":   hasMetrics,
			"severity":      severity,
		})
	}

	if len(report.MarkedFailed) > 0 {
		log.Printf("[SweepStuckRuns] failed %d stuck runs (%d suspicious)", len(report.MarkedFailed), len(report.Suspicious))
	}
	return report, nil
}

// RemediateMissingMetrics re-runs the metrics engine for COMPLETED runs that
// lack the aggregate metric row. The metrics engine is idempotent, so running
// this sweep repeatedly is safe.
func (s *recoveryService) RemediateMissingMetrics(ctx context.Context) ([]uuid.UUID, error) {
	since := time.Now().UTC().Add(-remediationLookback)
	runs, err := s.repos.ReportRunRepo.ListCompletedMissingMetrics(ctx, since)
	if err != nil {
		return nil, err
	}

	var remediated []uuid.UUID
	for _, run := range runs {
		if err := s.metrics.ComputeAndPersistMetrics(ctx, run.ReportRunID, run.CompanyID); err != nil {
			log.Printf("[RemediateMissingMetrics] WARNING: recompute failed for run %s: %v", run.ReportRunID, err)
			continue
		}
		remediated = append(remediated, run.ReportRunID)
		log.Printf("[RemediateMissingMetrics] recomputed metrics for run %s", run.ReportRunID)
	}

	if len(remediated) > 0 {
		s.alerter.Alert(ctx, "recovery", "backfilled missing report metrics", map[string]interface{}{
			"runs_scanned":    len(runs),
			"runs_remediated": len(remediated),
		})
	}
	return remediated, nil
}

func (s *recoveryService) SystemHealth(ctx context.Context) (*SystemHealth, error) {
	health := &SystemHealth{
		Database:  "healthy",
		Queue:     "configured",
		CheckedAt: time.Now().UTC(),
		RunCounts: map[string]int{},
	}

	if err := s.db.PingContext(ctx); err != nil {
		health.Database = fmt.Sprintf("unhealthy: %v", err)
	}
	// The queue is a managed service with no local introspection; we can only
	// report whether this process is configured to reach it.
	if s.cfg.InngestEventKey == "" {
		health.Queue = "not_configured"
	}

	counts, err := s.repos.ReportRunRepo.CountByStatusSince(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	for status, count := range counts {
		health.RunCounts[string(status)] = count
	}

	completed := counts[models.RunStatusCompleted]
	failed := counts[models.RunStatusFailed]
	if completed+failed > 0 {
		rate := 100.0 * float64(completed) / float64(completed+failed)
		health.RecentSuccessRate = &rate
	}

	if s.gateway != nil {
		health.Providers = s.gateway.Health()
	}
	return health, nil
}
