// internal/repositories/postgresql/repositories.go
package postgresql

import (
	"github.com/jmoiron/sqlx"

	"github.com/brandbeacon/beacon-workflows/internal/repositories"
)

// Repos bundles every Postgres-backed repository over one connection pool.
type Repos struct {
	Company         repositories.CompanyRepository
	Competitor      repositories.CompetitorRepository
	Question        repositories.QuestionRepository
	ReportRun       repositories.ReportRunRepository
	Response        repositories.ResponseRepository
	Citation        repositories.CitationRepository
	Mention         repositories.MentionRepository
	SentimentRating repositories.SentimentRatingRepository
	ReportMetric    repositories.ReportMetricRepository
	History         repositories.HistoryRepository
}

func New(db *sqlx.DB) *Repos {
	return &Repos{
		Company:         NewCompanyRepo(db),
		Competitor:      NewCompetitorRepo(db),
		Question:        NewQuestionRepo(db),
		ReportRun:       NewReportRunRepo(db),
		Response:        NewResponseRepo(db),
		Citation:        NewCitationRepo(db),
		Mention:         NewMentionRepo(db),
		SentimentRating: NewSentimentRatingRepo(db),
		ReportMetric:    NewReportMetricRepo(db),
		History:         NewHistoryRepo(db),
	}
}
