// internal/repositories/postgresql/report_run_repo.go
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brandbeacon/beacon-workflows/internal/models"
	"github.com/brandbeacon/beacon-workflows/internal/repositories"
)

type reportRunRepo struct {
	db *sqlx.DB
}

func NewReportRunRepo(db *sqlx.DB) repositories.ReportRunRepository {
	return &reportRunRepo{db: db}
}

func (r *reportRunRepo) Create(ctx context.Context, run *models.ReportRun) error {
	if run.ReportRunID == uuid.Nil {
		run.ReportRunID = uuid.New()
	}
	if run.Status == "" {
		run.Status = models.RunStatusPending
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO report_runs (report_run_id, company_id, status, step_status, tokens_used, usd_cost, created_at, updated_at)
		VALUES (:report_run_id, :company_id, :status, :step_status, :tokens_used, :usd_cost, :created_at, :updated_at)`,
		run)
	if err != nil {
		return fmt.Errorf("failed to create report run for company %s: %w", run.CompanyID, err)
	}
	return nil
}

func (r *reportRunRepo) GetByID(ctx context.Context, runID uuid.UUID) (*models.ReportRun, error) {
	var run models.ReportRun
	err := r.db.GetContext(ctx, &run,
		`SELECT * FROM report_runs WHERE report_run_id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report run %s: %w", runID, err)
	}
	return &run, nil
}

// FindInWindow prefers COMPLETED and in-flight runs over FAILED ones, so a
// failed retry later in the day cannot shadow the run that already satisfied
// the day's schedule.
func (r *reportRunRepo) FindInWindow(ctx context.Context, companyID uuid.UUID, from, to time.Time) (*models.ReportRun, error) {
	var run models.ReportRun
	err := r.db.GetContext(ctx, &run, `
		SELECT * FROM report_runs
		WHERE company_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY (status = 'FAILED') ASC, created_at DESC, report_run_id DESC
		LIMIT 1`,
		companyID, from, to)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find report run in window for company %s: %w", companyID, err)
	}
	return &run, nil
}

// Status mutations are targeted updates so concurrent pipeline stages never
// clobber each other's fields.
func (r *reportRunRepo) UpdateStatus(ctx context.Context, runID uuid.UUID, status models.RunStatus, stepStatus string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE report_runs SET status = $1, step_status = $2, updated_at = NOW()
		WHERE report_run_id = $3`,
		status, stepStatus, runID)
	if err != nil {
		return fmt.Errorf("failed to update status for run %s: %w", runID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("report run %s not found", runID)
	}
	return nil
}

func (r *reportRunRepo) UpdateStepStatus(ctx context.Context, runID uuid.UUID, stepStatus string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE report_runs SET step_status = $1, updated_at = NOW()
		WHERE report_run_id = $2`,
		stepStatus, runID)
	if err != nil {
		return fmt.Errorf("failed to update step status for run %s: %w", runID, err)
	}
	return nil
}

func (r *reportRunRepo) AddUsage(ctx context.Context, runID uuid.UUID, tokens int, usdCost float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE report_runs
		SET tokens_used = tokens_used + $1, usd_cost = usd_cost + $2, updated_at = NOW()
		WHERE report_run_id = $3`,
		tokens, usdCost, runID)
	if err != nil {
		return fmt.Errorf("failed to add usage for run %s: %w", runID, err)
	}
	return nil
}

func (r *reportRunRepo) HasCompleted(ctx context.Context, companyID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM report_runs WHERE company_id = $1 AND status = 'COMPLETED'
		)`, companyID)
	if err != nil {
		return false, fmt.Errorf("failed to check completed runs for company %s: %w", companyID, err)
	}
	return exists, nil
}

func (r *reportRunRepo) ListStuck(ctx context.Context, cutoff time.Time) ([]*models.ReportRun, error) {
	var runs []*models.ReportRun
	err := r.db.SelectContext(ctx, &runs, `
		SELECT * FROM report_runs
		WHERE status = 'RUNNING' AND updated_at < $1
		ORDER BY updated_at`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck runs: %w", err)
	}
	return runs, nil
}

func (r *reportRunRepo) ListCompletedMissingMetrics(ctx context.Context, since time.Time) ([]*models.ReportRun, error) {
	var runs []*models.ReportRun
	err := r.db.SelectContext(ctx, &runs, `
		SELECT r.* FROM report_runs r
		WHERE r.status = 'COMPLETED' AND r.created_at >= $1
		  AND NOT EXISTS (
			SELECT 1 FROM report_metrics m
			WHERE m.report_run_id = r.report_run_id AND m.ai_model = 'all'
		  )
		ORDER BY r.created_at`,
		since)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed runs missing metrics: %w", err)
	}
	return runs, nil
}

func (r *reportRunRepo) CountByStatusSince(ctx context.Context, since time.Time) (map[models.RunStatus]int, error) {
	rows := []struct {
		Status models.RunStatus `db:"status"`
		Count  int              `db:"count"`
	}{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS count FROM report_runs
		WHERE created_at >= $1
		GROUP BY status`,
		since)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs by status: %w", err)
	}
	counts := make(map[models.RunStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
