// internal/models/models.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// RunStatus is the lifecycle state of a report run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// AIModelAll is the sentinel model id for metrics aggregated across every
// model used in a run.
const AIModelAll = "all"

// AIModelSummary is the sentinel model id for the designated summary
// sentiment computation.
const AIModelSummary = "summary"

// Company is a tracked organization whose brand visibility we measure.
type Company struct {
	CompanyID      uuid.UUID      `db:"company_id" json:"company_id"`
	Name           string         `db:"name" json:"name"`
	Website        string         `db:"website" json:"website"`
	OwnerUserID    uuid.UUID      `db:"owner_user_id" json:"owner_user_id"`
	Timezone       string         `db:"timezone" json:"timezone"`
	EnabledModels  pq.StringArray `db:"enabled_models" json:"enabled_models"`
	PlanModelsMax  int            `db:"plan_models_max" json:"plan_models_max"`
	PlanPromptsMax int            `db:"plan_prompts_max" json:"plan_prompts_max"`
	IsActive       bool           `db:"is_active" json:"is_active"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// Competitor is a rival brand tracked for a company. Within a company no two
// competitors share a normalized name or normalized website.
type Competitor struct {
	CompetitorID      uuid.UUID `db:"competitor_id" json:"competitor_id"`
	CompanyID         uuid.UUID `db:"company_id" json:"company_id"`
	Name              string    `db:"name" json:"name"`
	NormalizedName    string    `db:"normalized_name" json:"normalized_name"`
	NormalizedWebsite string    `db:"normalized_website" json:"normalized_website"`
	IsGenerated       bool      `db:"is_generated" json:"is_generated"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Question is a prompt run against every enabled model each report cycle.
// Questions are soft-disabled rather than deleted to preserve history.
type Question struct {
	QuestionID   uuid.UUID `db:"question_id" json:"question_id"`
	CompanyID    uuid.UUID `db:"company_id" json:"company_id"`
	QueryText    string    `db:"query_text" json:"query_text"`
	QuestionType string    `db:"question_type" json:"question_type"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ReportRun is one execution of the full report pipeline for one company.
type ReportRun struct {
	ReportRunID uuid.UUID `db:"report_run_id" json:"report_run_id"`
	CompanyID   uuid.UUID `db:"company_id" json:"company_id"`
	Status      RunStatus `db:"status" json:"status"`
	StepStatus  string    `db:"step_status" json:"step_status"`
	TokensUsed  int       `db:"tokens_used" json:"tokens_used"`
	UsdCost     float64   `db:"usd_cost" json:"usd_cost"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Response is one model's answer to one question within a run.
type Response struct {
	ResponseID   uuid.UUID `db:"response_id" json:"response_id"`
	ReportRunID  uuid.UUID `db:"report_run_id" json:"report_run_id"`
	QuestionID   uuid.UUID `db:"question_id" json:"question_id"`
	AIModel      string    `db:"ai_model" json:"ai_model"`
	Content      string    `db:"content" json:"content"`
	InputTokens  int       `db:"input_tokens" json:"input_tokens"`
	OutputTokens int       `db:"output_tokens" json:"output_tokens"`
	UsdCost      float64   `db:"usd_cost" json:"usd_cost"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Citation is a web source referenced by a response.
type Citation struct {
	CitationID uuid.UUID `db:"citation_id" json:"citation_id"`
	ResponseID uuid.UUID `db:"response_id" json:"response_id"`
	Title      *string   `db:"title" json:"title,omitempty"`
	URL        string    `db:"url" json:"url"`
	Domain     string    `db:"domain" json:"domain"`
	Position   int       `db:"position" json:"position"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Mention records one entity appearing in a response. Exactly one of
// CompanyID and CompetitorID is set. Position is the 1-based rank of the
// entity's first appearance in the response.
type Mention struct {
	MentionID    uuid.UUID  `db:"mention_id" json:"mention_id"`
	ResponseID   uuid.UUID  `db:"response_id" json:"response_id"`
	Position     int        `db:"position" json:"position"`
	CompanyID    *uuid.UUID `db:"company_id" json:"company_id,omitempty"`
	CompetitorID *uuid.UUID `db:"competitor_id" json:"competitor_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// IsCompanyMention reports whether the mention refers to the tracked company.
func (m *Mention) IsCompanyMention() bool {
	return m.CompanyID != nil
}

// SentimentScore is a structured brand-sentiment rating on a 0-10 scale.
type SentimentScore struct {
	Overall    float64 `json:"overall"`
	Quality    float64 `json:"quality"`
	PriceValue float64 `json:"price_value"`
	Trust      float64 `json:"trust"`
}

// Average is the scalar projection used for deltas and history points.
func (s SentimentScore) Average() float64 {
	return (s.Overall + s.Quality + s.PriceValue + s.Trust) / 4.0
}

// SentimentRating is a persisted sentiment computation for one run and model.
// AIModel "summary" marks the designated cross-model summary rating.
type SentimentRating struct {
	SentimentRatingID uuid.UUID `db:"sentiment_rating_id" json:"sentiment_rating_id"`
	ReportRunID       uuid.UUID `db:"report_run_id" json:"report_run_id"`
	AIModel           string    `db:"ai_model" json:"ai_model"`
	Overall           float64   `db:"overall" json:"overall"`
	Quality           float64   `db:"quality" json:"quality"`
	PriceValue        float64   `db:"price_value" json:"price_value"`
	Trust             float64   `db:"trust" json:"trust"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// Score reassembles the structured rating object.
func (r *SentimentRating) Score() SentimentScore {
	return SentimentScore{Overall: r.Overall, Quality: r.Quality, PriceValue: r.PriceValue, Trust: r.Trust}
}

// CompetitorRanking is one row of the competitor leaderboard: every tracked
// competitor plus the company itself, ranked by share of voice.
type CompetitorRanking struct {
	Name         string   `json:"name"`
	Website      string   `json:"website"`
	ShareOfVoice float64  `json:"share_of_voice"`
	Change       *float64 `json:"change"`
	IsCompany    bool     `json:"is_company"`
}

// CitationRanking is one row of the citation-source leaderboard, grouped by
// normalized domain.
type CitationRanking struct {
	Domain string  `json:"domain"`
	Count  int     `json:"count"`
	Share  float64 `json:"share"`
}

// TopQuestion is the materialized per-question ranking entry.
type TopQuestion struct {
	QuestionID   uuid.UUID `json:"question_id"`
	Text         string    `json:"text"`
	QuestionType string    `json:"question_type"`
	Mentioned    bool      `json:"mentioned"`
	BestPosition *int      `json:"best_position"`
	AvgPosition  *float64  `json:"avg_position"`
}

// SentimentDetail is one per-model sentiment entry in a metric row.
type SentimentDetail struct {
	AIModel string         `json:"ai_model"`
	Score   SentimentScore `json:"score"`
}

// ReportMetric is the derived analytics row for one (run, model) pair.
// AIModel "all" aggregates across every model in the run. Change fields are
// nil, not zero, when no prior COMPLETED report exists for the company/model.
type ReportMetric struct {
	ReportMetricID         uuid.UUID             `db:"report_metric_id" json:"report_metric_id"`
	ReportRunID            uuid.UUID             `db:"report_run_id" json:"report_run_id"`
	CompanyID              uuid.UUID             `db:"company_id" json:"company_id"`
	AIModel                string                `db:"ai_model" json:"ai_model"`
	ShareOfVoice           float64               `db:"share_of_voice" json:"share_of_voice"`
	ShareOfVoiceChange     *float64              `db:"share_of_voice_change" json:"share_of_voice_change"`
	AverageInclusionRate   float64               `db:"average_inclusion_rate" json:"average_inclusion_rate"`
	AverageInclusionChange *float64              `db:"average_inclusion_change" json:"average_inclusion_change"`
	AveragePosition        float64               `db:"average_position" json:"average_position"`
	AveragePositionChange  *float64              `db:"average_position_change" json:"average_position_change"`
	TopRankingsCount       int                   `db:"top_rankings_count" json:"top_rankings_count"`
	RankingsChange         *float64              `db:"rankings_change" json:"rankings_change"`
	SentimentScore         NullableScore         `db:"sentiment_score" json:"sentiment_score"`
	SentimentChange        *float64              `db:"sentiment_change" json:"sentiment_change"`
	CompetitorRankings     CompetitorRankingList `db:"competitor_rankings" json:"competitor_rankings"`
	CitationRankings       CitationRankingList   `db:"citation_rankings" json:"citation_rankings"`
	TopQuestions           TopQuestionList       `db:"top_questions" json:"top_questions"`
	SentimentDetails       SentimentDetailList   `db:"sentiment_details" json:"sentiment_details"`
	CreatedAt              time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time             `db:"updated_at" json:"updated_at"`
}

// ShareOfVoicePoint is one share-of-voice time-series sample. At most one
// point exists per (company, day, model).
type ShareOfVoicePoint struct {
	PointID     uuid.UUID `db:"point_id" json:"point_id"`
	CompanyID   uuid.UUID `db:"company_id" json:"company_id"`
	PointDate   time.Time `db:"point_date" json:"point_date"`
	AIModel     string    `db:"ai_model" json:"ai_model"`
	Value       float64   `db:"value" json:"value"`
	ReportRunID uuid.UUID `db:"report_run_id" json:"report_run_id"`
}

// SentimentPoint is one sentiment time-series sample, same keying as
// ShareOfVoicePoint.
type SentimentPoint struct {
	PointID     uuid.UUID `db:"point_id" json:"point_id"`
	CompanyID   uuid.UUID `db:"company_id" json:"company_id"`
	PointDate   time.Time `db:"point_date" json:"point_date"`
	AIModel     string    `db:"ai_model" json:"ai_model"`
	Value       float64   `db:"value" json:"value"`
	ReportRunID uuid.UUID `db:"report_run_id" json:"report_run_id"`
}
