// internal/repositories/postgresql/competitor_repo.go
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

type competitorRepo struct {
	db *sqlx.DB
}

func NewCompetitorRepo(db *sqlx.DB) repositories.CompetitorRepository {
	return &competitorRepo{db: db}
}

func (r *competitorRepo) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*models.Competitor, error) {
	var competitors []*models.Competitor
	err := r.db.SelectContext(ctx, &competitors,
		`SELECT * FROM competitors WHERE company_id = $1 ORDER BY created_at`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list competitors for company %s: %w", companyID, err)
	}
	return competitors, nil
}

func (r *competitorRepo) Create(ctx context.Context, competitor *models.Competitor) error {
	if competitor.CompetitorID == uuid.Nil {
		competitor.CompetitorID = uuid.New()
	}
	now := time.Now().UTC()
	competitor.CreatedAt = now
	competitor.UpdatedAt = now

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO competitors (competitor_id, company_id, name, normalized_name, normalized_website, is_generated, created_at, updated_at)
		VALUES (:competitor_id, :company_id, :name, :normalized_name, :normalized_website, :is_generated, :created_at, :updated_at)`,
		competitor)
	if err != nil {
		// Unique violations bubble up untouched so callers can re-read.
		return fmt.Errorf("failed to create competitor %q: %w", competitor.Name, err)
	}
	return nil
}

func (r *competitorRepo) Find(ctx context.Context, companyID uuid.UUID, normalizedName, normalizedWebsite string) (*models.Competitor, error) {
	var competitor models.Competitor
	err := r.db.GetContext(ctx, &competitor, `
		SELECT * FROM competitors
		WHERE company_id = $1
		  AND (normalized_name = $2 OR (normalized_website <> '' AND normalized_website = $3))
		ORDER BY created_at LIMIT 1`,
		companyID, normalizedName, normalizedWebsite)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find competitor %q: %w", normalizedName, err)
	}
	return &competitor, nil
}
