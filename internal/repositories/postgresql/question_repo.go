// internal/repositories/postgresql/question_repo.go
package postgresql

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brandbeacon/beacon-workflows/internal/models"
	"github.com/brandbeacon/beacon-workflows/internal/repositories"
)

type questionRepo struct {
	db *sqlx.DB
}

func NewQuestionRepo(db *sqlx.DB) repositories.QuestionRepository {
	return &questionRepo{db: db}
}

func (r *questionRepo) ListActiveByCompany(ctx context.Context, companyID uuid.UUID) ([]*models.Question, error) {
	var questions []*models.Question
	err := r.db.SelectContext(ctx, &questions,
		`SELECT * FROM questions WHERE company_id = $1 AND is_active = true ORDER BY created_at`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active questions for company %s: %w", companyID, err)
	}
	return questions, nil
}

func (r *questionRepo) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*models.Question, error) {
	var questions []*models.Question
	err := r.db.SelectContext(ctx, &questions,
		`SELECT * FROM questions WHERE company_id = $1 ORDER BY created_at`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions for company %s: %w", companyID, err)
	}
	return questions, nil
}
