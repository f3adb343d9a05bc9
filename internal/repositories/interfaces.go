// internal/repositories/interfaces.go
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/brandbeacon/beacon-workflows/internal/models"
)

// CompanyRepository reads tracked companies.
type CompanyRepository interface {
	GetByID(ctx context.Context, companyID uuid.UUID) (*models.Company, error)
	ListActive(ctx context.Context) ([]*models.Company, error)
	// ListEligibleForScheduled returns active companies with at least one
	// prior COMPLETED run; the scheduler never fires a company's first report.
	ListEligibleForScheduled(ctx context.Context) ([]*models.Company, error)
}

// CompetitorRepository manages competitor identities for a company.
type CompetitorRepository interface {
	ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*models.Competitor, error)
	// Create fails with a unique-violation error when another process already
	// inserted a competitor with the same normalized name or website.
	Create(ctx context.Context, competitor *models.Competitor) error
	// Find matches on normalized name or normalized website within a company.
	Find(ctx context.Context, companyID uuid.UUID, normalizedName, normalizedWebsite string) (*models.Competitor, error)
}

// QuestionRepository reads the prompts fanned out each run.
type QuestionRepository interface {
	ListActiveByCompany(ctx context.Context, companyID uuid.UUID) ([]*models.Question, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*models.Question, error)
}

// ReportRunRepository manages run lifecycle rows. Status mutations are
// targeted field updates, never full-row overwrites, because multiple
// pipeline stages report progress concurrently.
type ReportRunRepository interface {
	Create(ctx context.Context, run *models.ReportRun) error
	GetByID(ctx context.Context, runID uuid.UUID) (*models.ReportRun, error)
	// FindInWindow returns one run for the company created in [from, to),
	// preferring COMPLETED and in-flight runs over FAILED ones, newest
	// first within each group.
	FindInWindow(ctx context.Context, companyID uuid.UUID, from, to time.Time) (*models.ReportRun, error)
	UpdateStatus(ctx context.Context, runID uuid.UUID, status models.RunStatus, stepStatus string) error
	UpdateStepStatus(ctx context.Context, runID uuid.UUID, stepStatus string) error
	AddUsage(ctx context.Context, runID uuid.UUID, tokens int, usdCost float64) error
	HasCompleted(ctx context.Context, companyID uuid.UUID) (bool, error)
	// ListStuck returns RUNNING runs with no progress since the cutoff.
	ListStuck(ctx context.Context, cutoff time.Time) ([]*models.ReportRun, error)
	// ListCompletedMissingMetrics returns COMPLETED runs lacking the
	// aggregate ("all") metric row.
	ListCompletedMissingMetrics(ctx context.Context, since time.Time) ([]*models.ReportRun, error)
	CountByStatusSince(ctx context.Context, since time.Time) (map[models.RunStatus]int, error)
}

// ResponseRepository persists raw model answers.
type ResponseRepository interface {
	Create(ctx context.Context, response *models.Response) error
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.Response, error)
	CountByRun(ctx context.Context, runID uuid.UUID) (int, error)
}

// CitationRepository persists web sources referenced by responses.
type CitationRepository interface {
	BulkCreate(ctx context.Context, citations []*models.Citation) error
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.Citation, error)
}

// MentionRepository persists extracted brand mentions.
type MentionRepository interface {
	BulkCreate(ctx context.Context, mentions []*models.Mention) error
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.Mention, error)
}

// SentimentRatingRepository persists structured sentiment computations so the
// metrics engine can be re-run from raw data at any time.
type SentimentRatingRepository interface {
	Upsert(ctx context.Context, rating *models.SentimentRating) error
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.SentimentRating, error)
}

// ReportMetricRepository manages derived metric rows keyed by
// (report_run_id, ai_model).
type ReportMetricRepository interface {
	Upsert(ctx context.Context, metric *models.ReportMetric) error
	Get(ctx context.Context, runID uuid.UUID, aiModel string) (*models.ReportMetric, error)
	// GetPrevious returns the metric row of the most recent COMPLETED run for
	// the same company and model, excluding the given run. Ordered by run
	// created_at desc with run id as the deterministic tiebreak.
	GetPrevious(ctx context.Context, companyID uuid.UUID, aiModel string, excludeRunID uuid.UUID) (*models.ReportMetric, error)
	Exists(ctx context.Context, runID uuid.UUID, aiModel string) (bool, error)
}

// HistoryRepository upserts daily time-series points keyed by
// (company_id, point_date, ai_model).
type HistoryRepository interface {
	UpsertShareOfVoice(ctx context.Context, point *models.ShareOfVoicePoint) error
	UpsertSentiment(ctx context.Context, point *models.SentimentPoint) error
	ListShareOfVoice(ctx context.Context, companyID uuid.UUID, aiModel string, from, to time.Time) ([]*models.ShareOfVoicePoint, error)
}
