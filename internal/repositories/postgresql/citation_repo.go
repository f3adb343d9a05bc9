// internal/repositories/postgresql/citation_repo.go
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

type citationRepo struct {
	db *sqlx.DB
}

func NewCitationRepo(db *sqlx.DB) repositories.CitationRepository {
	return &citationRepo{db: db}
}

func (r *citationRepo) BulkCreate(ctx context.Context, citations []*models.Citation) error {
	if len(citations) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, c := range citations {
		if c.CitationID == uuid.Nil {
			c.CitationID = uuid.New()
		}
		c.CreatedAt = now
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO citations (citation_id, response_id, title, url, domain, position, created_at)
		VALUES (:citation_id, :response_id, :title, :url, :domain, :position, :created_at)`,
		citations)
	if err != nil {
		return fmt.Errorf("failed to bulk create %d citations: %w", len(citations), err)
	}
	return nil
}

func (r *citationRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.Citation, error) {
	var citations []*models.Citation
	err := r.db.SelectContext(ctx, &citations, `
		SELECT c.* FROM citations c
		JOIN responses resp ON resp.response_id = c.response_id
		WHERE resp.report_run_id = $1
		ORDER BY c.response_id, c.position`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list citations for run %s: %w", runID, err)
	}
	return citations, nil
}
