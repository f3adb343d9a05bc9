// internal/repositories/postgresql/company_repo.go
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brandbeacon/beacon-workflows/internal/models"
	"github.com/brandbeacon/beacon-workflows/internal/repositories"
)

type companyRepo struct {
	db *sqlx.DB
}

func NewCompanyRepo(db *sqlx.DB) repositories.CompanyRepository {
	return &companyRepo{db: db}
}

func (r *companyRepo) GetByID(ctx context.Context, companyID uuid.UUID) (*models.Company, error) {
	var company models.Company
	err := r.db.GetContext(ctx, &company,
		`SELECT * FROM companies WHERE company_id = $1`, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company %s: %w", companyID, err)
	}
	return &company, nil
}

func (r *companyRepo) ListActive(ctx context.Context) ([]*models.Company, error) {
	var companies []*models.Company
	err := r.db.SelectContext(ctx, &companies,
		`SELECT * FROM companies WHERE is_active = true ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active companies: %w", err)
	}
	return companies, nil
}

func (r *companyRepo) ListEligibleForScheduled(ctx context.Context) ([]*models.Company, error) {
	var companies []*models.Company
	err := r.db.SelectContext(ctx, &companies, `
		SELECT c.* FROM companies c
		WHERE c.is_active = true
		  AND EXISTS (
			SELECT 1 FROM report_runs r
			WHERE r.company_id = c.company_id AND r.status = 'COMPLETED'
		  )
		ORDER BY c.created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedulable companies: %w", err)
	}
	return companies, nil
}
