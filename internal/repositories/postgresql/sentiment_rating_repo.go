// internal/repositories/postgresql/sentiment_rating_repo.go
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

type sentimentRatingRepo struct {
	db *sqlx.DB
}

func NewSentimentRatingRepo(db *sqlx.DB) repositories.SentimentRatingRepository {
	return &sentimentRatingRepo{db: db}
}

func (r *sentimentRatingRepo) Upsert(ctx context.Context, rating *models.SentimentRating) error {
	if rating.SentimentRatingID == uuid.Nil {
		rating.SentimentRatingID = uuid.New()
	}
	rating.CreatedAt = time.Now().UTC()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO sentiment_ratings (sentiment_rating_id, report_run_id, ai_model, overall, quality, price_value, trust, created_at)
		VALUES (:sentiment_rating_id, :report_run_id, :ai_model, :overall, :quality, :price_value, :trust, :created_at)
		ON CONFLICT (report_run_id, ai_model) DO UPDATE SET
			overall = EXCLUDED.overall,
			quality = EXCLUDED.quality,
			price_value = EXCLUDED.price_value,
			trust = EXCLUDED.trust`,
		rating)
	if err != nil {
		return fmt.Errorf("failed to upsert sentiment rating for run %s model %s: %w", rating.ReportRunID, rating.AIModel, err)
	}
	return nil
}

func (r *sentimentRatingRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.SentimentRating, error) {
	var ratings []*models.SentimentRating
	err := r.db.SelectContext(ctx, &ratings,
		`SELECT * FROM sentiment_ratings WHERE report_run_id = $1 ORDER BY ai_model`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sentiment ratings for run %s: %w", runID, err)
	}
	return ratings, nil
}
