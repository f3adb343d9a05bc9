// internal/repositories/postgresql/mention_repo.go
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

type mentionRepo struct {
	db *sqlx.DB
}

func NewMentionRepo(db *sqlx.DB) repositories.MentionRepository {
	return &mentionRepo{db: db}
}

func (r *mentionRepo) BulkCreate(ctx context.Context, mentions []*models.Mention) error {
	if len(mentions) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, m := range mentions {
		if m.MentionID == uuid.Nil {
			m.MentionID = uuid.New()
		}
		m.CreatedAt = now
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO mentions (mention_id, response_id, position, company_id, competitor_id, created_at)
		VALUES (:mention_id, :response_id, :position, :company_id, :competitor_id, :created_at)`,
		mentions)
	if err != nil {
		return fmt.Errorf("failed to bulk create %d mentions: %w", len(mentions), err)
	}
	return nil
}

func (r *mentionRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.Mention, error) {
	var mentions []*models.Mention
	err := r.db.SelectContext(ctx, &mentions, `
		SELECT m.* FROM mentions m
		JOIN responses resp ON resp.response_id = m.response_id
		WHERE resp.report_run_id = $1
		ORDER BY m.response_id, m.position`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mentions for run %s: %w", runID, err)
	}
	return mentions, nil
}
