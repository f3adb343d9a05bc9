// internal/repositories/postgresql/response_repo.go
package postgresql

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brandbeacon/beacon-workflows/internal/models"
	"github.com/brandbeacon/beacon-workflows/internal/repositories"
)

type responseRepo struct {
	db *sqlx.DB
}

func NewResponseRepo(db *sqlx.DB) repositories.ResponseRepository {
	return &responseRepo{db: db}
}

func (r *responseRepo) Create(ctx context.Context, response *models.Response) error {
	if response.ResponseID == uuid.Nil {
		response.ResponseID = uuid.New()
	}
	response.CreatedAt = time.Now().UTC()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO responses (response_id, report_run_id, question_id, ai_model, content, input_tokens, output_tokens, usd_cost, created_at)
		VALUES (:response_id, :report_run_id, :question_id, :ai_model, :content, :input_tokens, :output_tokens, :usd_cost, :created_at)`,
		response)
	if err != nil {
		return fmt.Errorf("failed to create response for run %s: %w", response.ReportRunID, err)
	}
	return nil
}

func (r *responseRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.Response, error) {
	var responses []*models.Response
	err := r.db.SelectContext(ctx, &responses,
		`SELECT * FROM responses WHERE report_run_id = $1 ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list responses for run %s: %w", runID, err)
	}
	return responses, nil
}

func (r *responseRepo) CountByRun(ctx context.Context, runID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM responses WHERE report_run_id = $1`, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to count responses for run %s: %w", runID, err)
	}
	return count, nil
}
