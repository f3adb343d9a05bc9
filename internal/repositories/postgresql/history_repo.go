// internal/repositories/postgresql/history_repo.go
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

type historyRepo struct {
	db *sqlx.DB
}

func NewHistoryRepo(db *sqlx.DB) repositories.HistoryRepository {
	return &historyRepo{db: db}
}

// Time-series points are keyed by (company_id, point_date, ai_model): a
// re-run on the same day overwrites that day's point rather than appending.

func (r *historyRepo) UpsertShareOfVoice(ctx context.Context, point *models.ShareOfVoicePoint) error {
	if point.PointID == uuid.Nil {
		point.PointID = uuid.New()
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO share_of_voice_history (point_id, company_id, point_date, ai_model, value, report_run_id)
		VALUES (:point_id, :company_id, :point_date, :ai_model, :value, :report_run_id)
		ON CONFLICT (company_id, point_date, ai_model) DO UPDATE SET
			value = EXCLUDED.value,
			report_run_id = EXCLUDED.report_run_id`,
		point)
	if err != nil {
		return fmt.Errorf("failed to upsert share-of-voice point for company %s: %w", point.CompanyID, err)
	}
	return nil
}

func (r *historyRepo) UpsertSentiment(ctx context.Context, point *models.SentimentPoint) error {
	if point.PointID == uuid.Nil {
		point.PointID = uuid.New()
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO sentiment_history (point_id, company_id, point_date, ai_model, value, report_run_id)
		VALUES (:point_id, :company_id, :point_date, :ai_model, :value, :report_run_id)
		ON CONFLICT (company_id, point_date, ai_model) DO UPDATE SET
			value = EXCLUDED.value,
			report_run_id = EXCLUDED.report_run_id`,
		point)
	if err != nil {
		return fmt.Errorf("failed to upsert sentiment point for company %s: %w", point.CompanyID, err)
	}
	return nil
}

func (r *historyRepo) ListShareOfVoice(ctx context.Context, companyID uuid.UUID, aiModel string, from, to time.Time) ([]*models.ShareOfVoicePoint, error) {
	var points []*models.ShareOfVoicePoint
	err := r.db.SelectContext(ctx, &points, `
		SELECT * FROM share_of_voice_history
		WHERE company_id = $1 AND ai_model = $2 AND point_date >= $3 AND point_date < $4
		ORDER BY point_date`,
		companyID, aiModel, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list share-of-voice history for company %s: %w", companyID, err)
	}
	return points, nil
}
