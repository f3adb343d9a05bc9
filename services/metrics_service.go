// services/metrics_service.go
package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/brandbeacon/beacon-workflows/internal/models"
)

type metricsService struct {
	repos *RepositoryManager
}

func NewMetricsService(repos *RepositoryManager) MetricsService {
	return &metricsService{repos: repos}
}

// runSnapshot is all raw data for one run, loaded once and sliced per scope.
type runSnapshot struct {
	run         *models.ReportRun
	company     *models.Company
	competitors []*models.Competitor
	questions   []*models.Question
	responses   []*models.Response
	mentions    []*models.Mention
	citations   []*models.Citation
	ratings     []*models.SentimentRating

	modelByResponse map[uuid.UUID]string
}

// ComputeAndPersistMetrics derives one ReportMetric row per scope, where the
// scopes are the sentinel "all" plus every distinct model used in the run.
// It reads only persisted raw data, so it can be re-run for backfill or
// repair at any time; every write is an upsert.
func (s *metricsService) ComputeAndPersistMetrics(ctx context.Context, reportRunID, companyID uuid.UUID) error {
	snapshot, err := s.loadSnapshot(ctx, reportRunID, companyID)
	if err != nil {
		return err
	}
	if len(snapshot.responses) == 0 {
		return fmt.Errorf("run %s has no responses, nothing to compute", reportRunID)
	}

	scopes := []string{models.AIModelAll}
	seen := map[string]bool{}
	for _, resp := range snapshot.responses {
		if !seen[resp.AIModel] {
			seen[resp.AIModel] = true
			scopes = append(scopes, resp.AIModel)
		}
	}

	pointDate := s.pointDate(snapshot.company)

	for _, scope := range scopes {
		metric := s.computeScope(snapshot, scope)

		previous, err := s.repos.MetricRepo.GetPrevious(ctx, companyID, scope, reportRunID)
		if err != nil {
			return err
		}
		applyChanges(metric, previous)

		if err := s.repos.MetricRepo.Upsert(ctx, metric); err != nil {
			return err
		}

		if err := s.repos.HistoryRepo.UpsertShareOfVoice(ctx, &models.ShareOfVoicePoint{
			CompanyID:   companyID,
			PointDate:   pointDate,
			AIModel:     scope,
			Value:       metric.ShareOfVoice,
			ReportRunID: reportRunID,
		}); err != nil {
			return err
		}

		if metric.SentimentScore.Score != nil {
			if err := s.repos.HistoryRepo.UpsertSentiment(ctx, &models.SentimentPoint{
				CompanyID:   companyID,
				PointDate:   pointDate,
				AIModel:     scope,
				Value:       metric.SentimentScore.Score.Average(),
				ReportRunID: reportRunID,
			}); err != nil {
				return err
			}
		}
	}

	log.Printf("[ComputeAndPersistMetrics] run %s: persisted %d metric scopes", reportRunID, len(scopes))
	return nil
}

func (s *metricsService) GetFullReportMetrics(ctx context.Context, reportRunID uuid.UUID, aiModel string) (*models.ReportMetric, error) {
	if aiModel == "" {
		aiModel = models.AIModelAll
	}
	return s.repos.MetricRepo.Get(ctx, reportRunID, aiModel)
}

func (s *metricsService) loadSnapshot(ctx context.Context, reportRunID, companyID uuid.UUID) (*runSnapshot, error) {
	run, err := s.repos.ReportRunRepo.GetByID(ctx, reportRunID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("report run %s not found", reportRunID)
	}
	company, err := s.repos.CompanyRepo.GetByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, fmt.Errorf("company %s not found", companyID)
	}

	competitors, err := s.repos.CompetitorRepo.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	questions, err := s.repos.QuestionRepo.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	responses, err := s.repos.ResponseRepo.ListByRun(ctx, reportRunID)
	if err != nil {
		return nil, err
	}
	mentions, err := s.repos.MentionRepo.ListByRun(ctx, reportRunID)
	if err != nil {
		return nil, err
	}
	citations, err := s.repos.CitationRepo.ListByRun(ctx, reportRunID)
	if err != nil {
		return nil, err
	}
	ratings, err := s.repos.SentimentRepo.ListByRun(ctx, reportRunID)
	if err != nil {
		return nil, err
	}

	modelByResponse := make(map[uuid.UUID]string, len(responses))
	for _, resp := range responses {
		modelByResponse[resp.ResponseID] = resp.AIModel
	}

	return &runSnapshot{
		run:             run,
		company:         company,
		competitors:     competitors,
		questions:       questions,
		responses:       responses,
		mentions:        mentions,
		citations:       citations,
		ratings:         ratings,
		modelByResponse: modelByResponse,
	}, nil
}

// pointDate normalizes "today" to a calendar day in the company's timezone,
// falling back to UTC when the timezone is unset or invalid.
func (s *metricsService) pointDate(company *models.Company) time.Time {
	loc := time.UTC
	if company.Timezone != "" {
		if parsed, err := time.LoadLocation(company.Timezone); err == nil {
			loc = parsed
		} else {
			log.Printf("[pointDate] WARNING: invalid timezone %q for company %s, using UTC", company.Timezone, company.CompanyID)
		}
	}
	now := time.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func (sn *runSnapshot) inScope(scope, model string) bool {
	return scope == models.AIModelAll || scope == model
}

func (s *metricsService) computeScope(sn *runSnapshot, scope string) *models.ReportMetric {
	var scopedResponses []*models.Response
	for _, resp := range sn.responses {
		if sn.inScope(scope, resp.AIModel) {
			scopedResponses = append(scopedResponses, resp)
		}
	}
	var scopedMentions []*models.Mention
	for _, m := range sn.mentions {
		if sn.inScope(scope, sn.modelByResponse[m.ResponseID]) {
			scopedMentions = append(scopedMentions, m)
		}
	}

	metric := &models.ReportMetric{
		ReportRunID: sn.run.ReportRunID,
		CompanyID:   sn.company.CompanyID,
		AIModel:     scope,
	}

	totalMentions := len(scopedMentions)
	companyMentions := 0
	positionSum := 0
	respondedWithCompany := make(map[uuid.UUID]bool)
	for _, m := range scopedMentions {
		if m.IsCompanyMention() {
			companyMentions++
			positionSum += m.Position
			respondedWithCompany[m.ResponseID] = true
			if m.Position == 1 {
				metric.TopRankingsCount++
			}
		}
	}

	// Share of Voice is 0, never NaN, when the scope has no mentions at all.
	if totalMentions > 0 {
		metric.ShareOfVoice = 100.0 * float64(companyMentions) / float64(totalMentions)
	}
	if len(scopedResponses) > 0 {
		metric.AverageInclusionRate = 100.0 * float64(len(respondedWithCompany)) / float64(len(scopedResponses))
	}
	if companyMentions > 0 {
		metric.AveragePosition = float64(positionSum) / float64(companyMentions)
	}

	metric.CompetitorRankings = s.competitorRankings(sn, scope, scopedMentions, totalMentions, companyMentions)
	metric.CitationRankings = s.citationRankings(sn, scope)
	metric.TopQuestions = s.topQuestions(sn, scopedResponses, scopedMentions)
	metric.SentimentScore, metric.SentimentDetails = s.sentiment(sn, scope)

	return metric
}

func (s *metricsService) competitorRankings(sn *runSnapshot, scope string, scopedMentions []*models.Mention, totalMentions, companyMentions int) models.CompetitorRankingList {
	mentionsByCompetitor := make(map[uuid.UUID]int)
	for _, m := range scopedMentions {
		if m.CompetitorID != nil {
			mentionsByCompetitor[*m.CompetitorID]++
		}
	}

	share := func(count int) float64 {
		if totalMentions == 0 {
			return 0
		}
		return 100.0 * float64(count) / float64(totalMentions)
	}

	rankings := models.CompetitorRankingList{{
		Name:         sn.company.Name,
		Website:      sn.company.Website,
		ShareOfVoice: share(companyMentions),
		IsCompany:    true,
	}}
	for _, competitor := range sn.competitors {
		rankings = append(rankings, models.CompetitorRanking{
			Name:         competitor.Name,
			Website:      competitor.NormalizedWebsite,
			ShareOfVoice: share(mentionsByCompetitor[competitor.CompetitorID]),
		})
	}

	sort.SliceStable(rankings, func(i, j int) bool {
		if rankings[i].ShareOfVoice != rankings[j].ShareOfVoice {
			return rankings[i].ShareOfVoice > rankings[j].ShareOfVoice
		}
		return rankings[i].Name < rankings[j].Name
	})
	return rankings
}

func (s *metricsService) citationRankings(sn *runSnapshot, scope string) models.CitationRankingList {
	counts := make(map[string]int)
	total := 0
	for _, c := range sn.citations {
		if !sn.inScope(scope, sn.modelByResponse[c.ResponseID]) {
			continue
		}
		counts[c.Domain]++
		total++
	}

	rankings := make(models.CitationRankingList, 0, len(counts))
	for domain, count := range counts {
		rankings = append(rankings, models.CitationRanking{
			Domain: domain,
			Count:  count,
			Share:  100.0 * float64(count) / float64(total),
		})
	}
	sort.SliceStable(rankings, func(i, j int) bool {
		if rankings[i].Count != rankings[j].Count {
			return rankings[i].Count > rankings[j].Count
		}
		return rankings[i].Domain < rankings[j].Domain
	})
	return rankings
}

// topQuestions ranks every question: mentioned questions first by best
// position ascending, then unmentioned questions, ties broken alphabetically.
func (s *metricsService) topQuestions(sn *runSnapshot, scopedResponses []*models.Response, scopedMentions []*models.Mention) models.TopQuestionList {
	companyPositions := make(map[uuid.UUID][]int) // response id -> positions
	for _, m := range scopedMentions {
		if m.IsCompanyMention() {
			companyPositions[m.ResponseID] = append(companyPositions[m.ResponseID], m.Position)
		}
	}

	questionByID := make(map[uuid.UUID]*models.Question, len(sn.questions))
	for _, q := range sn.questions {
		questionByID[q.QuestionID] = q
	}

	type questionAgg struct {
		question  *models.Question
		positions []int
		answered  bool
	}
	aggs := make(map[uuid.UUID]*questionAgg)
	for _, resp := range scopedResponses {
		question := questionByID[resp.QuestionID]
		if question == nil {
			continue
		}
		agg, ok := aggs[resp.QuestionID]
		if !ok {
			agg = &questionAgg{question: question}
			aggs[resp.QuestionID] = agg
		}
		agg.answered = true
		agg.positions = append(agg.positions, companyPositions[resp.ResponseID]...)
	}

	list := make(models.TopQuestionList, 0, len(aggs))
	for _, agg := range aggs {
		entry := models.TopQuestion{
			QuestionID:   agg.question.QuestionID,
			Text:         agg.question.QueryText,
			QuestionType: agg.question.QuestionType,
			Mentioned:    len(agg.positions) > 0,
		}
		if len(agg.positions) > 0 {
			best := agg.positions[0]
			sum := 0
			for _, p := range agg.positions {
				if p < best {
					best = p
				}
				sum += p
			}
			avg := float64(sum) / float64(len(agg.positions))
			entry.BestPosition = &best
			entry.AvgPosition = &avg
		}
		list = append(list, entry)
	}

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Mentioned != list[j].Mentioned {
			return list[i].Mentioned
		}
		if list[i].Mentioned && *list[i].BestPosition != *list[j].BestPosition {
			return *list[i].BestPosition < *list[j].BestPosition
		}
		return list[i].Text < list[j].Text
	})
	return list
}

// sentiment picks the scope's rating: the designated summary rating for the
// aggregate scope (falling back to the first per-model rating), or the
// model's own rating for a model scope. Details list every per-model rating
// in scope.
func (s *metricsService) sentiment(sn *runSnapshot, scope string) (models.NullableScore, models.SentimentDetailList) {
	details := models.SentimentDetailList{}
	var summary *models.SentimentScore
	var firstModel *models.SentimentScore
	var own *models.SentimentScore

	for _, rating := range sn.ratings {
		score := rating.Score()
		switch {
		case rating.AIModel == models.AIModelSummary:
			summary = &score
		default:
			if sn.inScope(scope, rating.AIModel) {
				details = append(details, models.SentimentDetail{AIModel: rating.AIModel, Score: score})
			}
			if firstModel == nil {
				copied := score
				firstModel = &copied
			}
			if rating.AIModel == scope {
				copied := score
				own = &copied
			}
		}
	}
	sort.SliceStable(details, func(i, j int) bool { return details[i].AIModel < details[j].AIModel })

	if scope == models.AIModelAll {
		if summary != nil {
			return models.NullableScore{Score: summary}, details
		}
		return models.NullableScore{Score: firstModel}, details
	}
	return models.NullableScore{Score: own}, details
}

// applyChanges fills the *Change fields as current minus previous. They stay
// nil, distinguishable from zero, when no prior COMPLETED report exists.
func applyChanges(metric *models.ReportMetric, previous *models.ReportMetric) {
	if previous == nil {
		return
	}

	metric.ShareOfVoiceChange = delta(metric.ShareOfVoice, previous.ShareOfVoice)
	metric.AverageInclusionChange = delta(metric.AverageInclusionRate, previous.AverageInclusionRate)
	metric.AveragePositionChange = delta(metric.AveragePosition, previous.AveragePosition)
	metric.RankingsChange = delta(float64(metric.TopRankingsCount), float64(previous.TopRankingsCount))

	if metric.SentimentScore.Score != nil && previous.SentimentScore.Score != nil {
		metric.SentimentChange = delta(metric.SentimentScore.Score.Average(), previous.SentimentScore.Score.Average())
	}

	// Per-entity ranking deltas match by name; an entity absent from the
	// previous report reads as stable (0), not null.
	previousShare := make(map[string]float64, len(previous.CompetitorRankings))
	for _, row := range previous.CompetitorRankings {
		previousShare[row.Name] = row.ShareOfVoice
	}
	for i := range metric.CompetitorRankings {
		change := 0.0
		if prev, ok := previousShare[metric.CompetitorRankings[i].Name]; ok {
			change = metric.CompetitorRankings[i].ShareOfVoice - prev
		}
		metric.CompetitorRankings[i].Change = &change
	}
}

func delta(current, previous float64) *float64 {
	d := current - previous
	return &d
}
