// internal/repositories/postgresql/report_metric_repo.go
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

type reportMetricRepo struct {
	db *sqlx.DB
}

func NewReportMetricRepo(db *sqlx.DB) repositories.ReportMetricRepository {
	return &reportMetricRepo{db: db}
}

// Upsert writes the full metric row keyed by (report_run_id, ai_model), so
// re-running the metrics stage replaces earlier results instead of
// duplicating them.
func (r *reportMetricRepo) Upsert(ctx context.Context, metric *models.ReportMetric) error {
	if metric.ReportMetricID == uuid.Nil {
		metric.ReportMetricID = uuid.New()
	}
	now := time.Now().UTC()
	metric.CreatedAt = now
	metric.UpdatedAt = now

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO report_metrics (
			report_metric_id, report_run_id, company_id, ai_model,
			share_of_voice, share_of_voice_change,
			average_inclusion_rate, average_inclusion_change,
			average_position, average_position_change,
			top_rankings_count, rankings_change,
			sentiment_score, sentiment_change,
			competitor_rankings, citation_rankings, top_questions, sentiment_details,
			created_at, updated_at
		) VALUES (
			:report_metric_id, :report_run_id, :company_id, :ai_model,
			:share_of_voice, :share_of_voice_change,
			:average_inclusion_rate, :average_inclusion_change,
			:average_position, :average_position_change,
			:top_rankings_count, :rankings_change,
			:sentiment_score, :sentiment_change,
			:competitor_rankings, :citation_rankings, :top_questions, :sentiment_details,
			:created_at, :updated_at
		)
		ON CONFLICT (report_run_id, ai_model) DO UPDATE SET
			share_of_voice = EXCLUDED.share_of_voice,
			share_of_voice_change = EXCLUDED.share_of_voice_change,
			average_inclusion_rate = EXCLUDED.average_inclusion_rate,
			average_inclusion_change = EXCLUDED.average_inclusion_change,
			average_position = EXCLUDED.average_position,
			average_position_change = EXCLUDED.average_position_change,
			top_rankings_count = EXCLUDED.top_rankings_count,
			rankings_change = EXCLUDED.rankings_change,
			sentiment_score = EXCLUDED.sentiment_score,
			sentiment_change = EXCLUDED.sentiment_change,
			competitor_rankings = EXCLUDED.competitor_rankings,
			citation_rankings = EXCLUDED.citation_rankings,
			top_questions = EXCLUDED.top_questions,
			sentiment_details = EXCLUDED.sentiment_details,
			updated_at = EXCLUDED.updated_at`,
		metric)
	if err != nil {
		return fmt.Errorf("failed to upsert metric for run %s model %s: %w", metric.ReportRunID, metric.AIModel, err)
	}
	return nil
}

func (r *reportMetricRepo) Get(ctx context.Context, runID uuid.UUID, aiModel string) (*models.ReportMetric, error) {
	var metric models.ReportMetric
	err := r.db.GetContext(ctx, &metric,
		`SELECT * FROM report_metrics WHERE report_run_id = $1 AND ai_model = $2`, runID, aiModel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metric for run %s model %s: %w", runID, aiModel, err)
	}
	return &metric, nil
}

func (r *reportMetricRepo) GetPrevious(ctx context.Context, companyID uuid.UUID, aiModel string, excludeRunID uuid.UUID) (*models.ReportMetric, error) {
	var metric models.ReportMetric
	err := r.db.GetContext(ctx, &metric, `
		SELECT m.* FROM report_metrics m
		JOIN report_runs r ON r.report_run_id = m.report_run_id
		WHERE m.company_id = $1
		  AND m.ai_model = $2
		  AND m.report_run_id <> $3
		  AND r.status = 'COMPLETED'
		ORDER BY r.created_at DESC, r.report_run_id DESC
		LIMIT 1`,
		companyID, aiModel, excludeRunID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get previous metric for company %s model %s: %w", companyID, aiModel, err)
	}
	return &metric, nil
}

func (r *reportMetricRepo) Exists(ctx context.Context, runID uuid.UUID, aiModel string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM report_metrics WHERE report_run_id = $1 AND ai_model = $2
		)`, runID, aiModel)
	if err != nil {
		return false, fmt.Errorf("failed to check metric for run %s model %s: %w", runID, aiModel, err)
	}
	return exists, nil
}
