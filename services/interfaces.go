// services/interfaces.go
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brandbeacon/beacon-workflows/internal/database"
	"github.com/brandbeacon/beacon-workflows/internal/models"
	"github.com/brandbeacon/beacon-workflows/internal/repositories"
	"github.com/brandbeacon/beacon-workflows/internal/repositories/postgresql"
)

// RepositoryManager manages all database repositories
type RepositoryManager struct {
	db             *database.Client
	CompanyRepo    repositories.CompanyRepository
	CompetitorRepo repositories.CompetitorRepository
	QuestionRepo   repositories.QuestionRepository
	ReportRunRepo  repositories.ReportRunRepository
	ResponseRepo   repositories.ResponseRepository
	CitationRepo   repositories.CitationRepository
	MentionRepo    repositories.MentionRepository
	SentimentRepo  repositories.SentimentRatingRepository
	MetricRepo     repositories.ReportMetricRepository
	HistoryRepo    repositories.HistoryRepository
}

// NewRepositoryManager creates a new repository manager with all repositories
func NewRepositoryManager(db *database.Client) *RepositoryManager {
	repos := postgresql.New(db.DB)
	return &RepositoryManager{
		db:             db,
		CompanyRepo:    repos.Company,
		CompetitorRepo: repos.Competitor,
		QuestionRepo:   repos.Question,
		ReportRunRepo:  repos.ReportRun,
		ResponseRepo:   repos.Response,
		CitationRepo:   repos.Citation,
		MentionRepo:    repos.Mention,
		SentimentRepo:  repos.SentimentRating,
		MetricRepo:     repos.ReportMetric,
		HistoryRepo:    repos.History,
	}
}

// BeginTx starts a database transaction
func (rm *RepositoryManager) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return rm.db.BeginTxx(ctx, nil)
}

// RunData contains everything the pipeline needs for one company's run.
type RunData struct {
	Company     *models.Company
	Competitors []*models.Competitor
	Questions   []*models.Question
	Models      []string
}

// AIResponse is the normalized result of one provider call.
type AIResponse struct {
	Content      string
	Citations    []CitationData
	InputTokens  int
	OutputTokens int
	UsdCost      float64
}

// CitationData is a raw web source returned alongside a provider answer.
type CitationData struct {
	Title string
	URL   string
}

// AIProvider is the uniform contract to one AI answer backend.
type AIProvider interface {
	RunQuestion(ctx context.Context, modelID, questionText, companyName string) (*AIResponse, error)
	GetProviderName() string
}

// ProviderHealth is one provider's rolling call statistics.
type ProviderHealth struct {
	Provider    string    `json:"provider"`
	TotalCalls  int       `json:"total_calls"`
	FailedCalls int       `json:"failed_calls"`
	LastError   string    `json:"last_error,omitempty"`
	LastCallAt  time.Time `json:"last_call_at"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// ProviderGateway routes a model id to the provider that serves it and
// tracks per-provider health.
type ProviderGateway interface {
	Execute(ctx context.Context, modelID, questionText, companyName string) (*AIResponse, error)
	Health() []ProviderHealth
}

// CostService prices token usage per model.
type CostService interface {
	CalculateCost(modelID string, inputTokens, outputTokens int) float64
}

// ExtractionService parses brand tags out of raw response content and
// persists deduplicated mentions and citations.
type ExtractionService interface {
	ProcessResponse(ctx context.Context, company *models.Company, response *models.Response, citations []CitationData) (*ExtractionResult, error)
}

// ExtractionResult summarizes what one response contributed.
type ExtractionResult struct {
	MentionCount   int
	CitationCount  int
	NewCompetitors int
	CompanyMention bool
}

// SentimentService computes structured brand-sentiment ratings for a run.
type SentimentService interface {
	ComputeRunSentiment(ctx context.Context, run *models.ReportRun, company *models.Company) error
}

// UnitFailure records one (question, model) unit that exhausted its retries.
type UnitFailure struct {
	QuestionID uuid.UUID `json:"question_id"`
	AIModel    string    `json:"ai_model"`
	Error      string    `json:"error"`
}

// MatrixSummary is the fan-out join result: every unit settled, success or
// terminal failure.
type MatrixSummary struct {
	UnitsTotal     int           `json:"units_total"`
	UnitsSucceeded int           `json:"units_succeeded"`
	UnitsFailed    int           `json:"units_failed"`
	QuestionsTotal int           `json:"questions_total"`
	ModelsTotal    int           `json:"models_total"`
	TokensUsed     int           `json:"tokens_used"`
	UsdCost        float64       `json:"usd_cost"`
	Failures       []UnitFailure `json:"failures,omitempty"`
}

// FanOutService dispatches the (question x model) cross-product with bounded
// concurrency and waits for every unit to settle.
type FanOutService interface {
	RunQuestionMatrix(ctx context.Context, run *models.ReportRun, data *RunData) (*MatrixSummary, error)
}

// MetricsService derives analytics rows from a run's raw responses and
// mentions. Safe to re-run at any time; persistence is upsert-keyed.
type MetricsService interface {
	ComputeAndPersistMetrics(ctx context.Context, reportRunID, companyID uuid.UUID) error
	GetFullReportMetrics(ctx context.Context, reportRunID uuid.UUID, aiModel string) (*models.ReportMetric, error)
}

// QueueResult is what QueueReport returns to callers.
type QueueResult struct {
	RunID   uuid.UUID        `json:"run_id"`
	IsNew   bool             `json:"is_new"`
	Status  models.RunStatus `json:"status"`
	Message string           `json:"message,omitempty"`
}

// SchedulerService decides when a company gets a new run and enqueues it.
type SchedulerService interface {
	QueueReport(ctx context.Context, companyID uuid.UUID, force bool) (*QueueResult, error)
	GetRunStatus(ctx context.Context, runID uuid.UUID) (*models.ReportRun, error)
	TriggerAllEligible(ctx context.Context, reason string, delayMinutes int) (int, error)
}

// StuckRunReport summarizes one recovery sweep.
type StuckRunReport struct {
	Checked      int         `json:"checked"`
	MarkedFailed []uuid.UUID `json:"marked_failed"`
	Suspicious   []uuid.UUID `json:"suspicious"`
}

// SystemHealth is the operator-facing health snapshot.
type SystemHealth struct {
	Database          string           `json:"database"`
	Queue             string           `json:"queue"`
	RecentSuccessRate *float64         `json:"recent_report_success_rate"`
	RunCounts         map[string]int   `json:"run_counts"`
	Providers         []ProviderHealth `json:"providers,omitempty"`
	CheckedAt         time.Time        `json:"checked_at"`
}

// RecoveryService detects stuck and inconsistent runs and repairs what it can.
type RecoveryService interface {
	SweepStuckRuns(ctx context.Context) (*StuckRunReport, error)
	RemediateMissingMetrics(ctx context.Context) ([]uuid.UUID, error)
	SystemHealth(ctx context.Context) (*SystemHealth, error)
}

// Alerter delivers operator alerts. Fire-and-forget: a failed alert is
// logged and never blocks pipeline progress.
type Alerter interface {
	Alert(ctx context.Context, component, message string, details map[string]interface{})
}
