package services_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/brandbeacon/beacon-workflows/internal/config"
	"github.com/brandbeacon/beacon-workflows/internal/models"
	"github.com/brandbeacon/beacon-workflows/services"
)

// fakeStore is the single in-memory backing store shared by the per-repository
// fakes below. One store per test; the repository fakes are thin views on it.
type fakeStore struct {
	mu sync.Mutex

	companies   map[uuid.UUID]*models.Company
	competitors []*models.Competitor
	questions   []*models.Question
	runs        map[uuid.UUID]*models.ReportRun
	responses   []*models.Response
	citations   []*models.Citation
	mentions    []*models.Mention
	ratings     map[string]*models.SentimentRating
	metrics     map[string]*models.ReportMetric
	sovPoints   map[string]*models.ShareOfVoicePoint
	sentPoints  map[string]*models.SentimentPoint

	// competitorRace makes the next competitor Create lose an insert race:
	// the winning row appears under a different id and Create returns a
	// unique violation.
	competitorRace bool

	runCreates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		companies:  map[uuid.UUID]*models.Company{},
		runs:       map[uuid.UUID]*models.ReportRun{},
		ratings:    map[string]*models.SentimentRating{},
		metrics:    map[string]*models.ReportMetric{},
		sovPoints:  map[string]*models.ShareOfVoicePoint{},
		sentPoints: map[string]*models.SentimentPoint{},
	}
}

func newTestRepos(store *fakeStore) *services.RepositoryManager {
	return &services.RepositoryManager{
		CompanyRepo:    &fakeCompanyRepo{store},
		CompetitorRepo: &fakeCompetitorRepo{store},
		QuestionRepo:   &fakeQuestionRepo{store},
		ReportRunRepo:  &fakeReportRunRepo{store},
		ResponseRepo:   &fakeResponseRepo{store},
		CitationRepo:   &fakeCitationRepo{store},
		MentionRepo:    &fakeMentionRepo{store},
		SentimentRepo:  &fakeSentimentRepo{store},
		MetricRepo:     &fakeMetricRepo{store},
		HistoryRepo:    &fakeHistoryRepo{store},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			FanOutConcurrency:      2,
			UnitMaxAttempts:        2,
			DefaultModelsMax:       4,
			DefaultPromptsMax:      25,
			LockTTLSeconds:         60,
			RateLimitMax:           3,
			RateLimitWindowSeconds: 60,
			CitationKeepSubdomains: []string{"docs", "api"},
		},
		Recovery: config.RecoveryConfig{
			StuckAfterMinutes: 180,
			BackupHourUTC:     14,
		},
	}
}

func byRunAndModel(runID uuid.UUID, aiModel string) string {
	return fmt.Sprintf("%s|%s", runID, aiModel)
}

func byCompanyDateModel(companyID uuid.UUID, date time.Time, aiModel string) string {
	return fmt.Sprintf("%s|%s|%s", companyID, date.Format("2006-01-02"), aiModel)
}

type fakeCompanyRepo struct{ s *fakeStore }

func (r *fakeCompanyRepo) GetByID(ctx context.Context, companyID uuid.UUID) (*models.Company, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.companies[companyID], nil
}

func (r *fakeCompanyRepo) ListActive(ctx context.Context) ([]*models.Company, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Company
	for _, c := range r.s.companies {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCompanyRepo) ListEligibleForScheduled(ctx context.Context) ([]*models.Company, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Company
	for _, c := range r.s.companies {
		if !c.IsActive {
			continue
		}
		for _, run := range r.s.runs {
			if run.CompanyID == c.CompanyID && run.Status == models.RunStatusCompleted {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

type fakeCompetitorRepo struct{ s *fakeStore }

func (r *fakeCompetitorRepo) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*models.Competitor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Competitor
	for _, c := range r.s.competitors {
		if c.CompanyID == companyID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCompetitorRepo) Create(ctx context.Context, competitor *models.Competitor) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.competitorRace {
		r.s.competitorRace = false
		winner := *competitor
		winner.CompetitorID = uuid.New()
		r.s.competitors = append(r.s.competitors, &winner)
		return &pq.Error{Code: "23505"}
	}

	for _, existing := range r.s.competitors {
		if existing.CompanyID != competitor.CompanyID {
			continue
		}
		if existing.NormalizedName == competitor.NormalizedName ||
			(competitor.NormalizedWebsite != "" && existing.NormalizedWebsite == competitor.NormalizedWebsite) {
			return &pq.Error{Code: "23505"}
		}
	}
	if competitor.CompetitorID == uuid.Nil {
		competitor.CompetitorID = uuid.New()
	}
	r.s.competitors = append(r.s.competitors, competitor)
	return nil
}

func (r *fakeCompetitorRepo) Find(ctx context.Context, companyID uuid.UUID, normalizedName, normalizedWebsite string) (*models.Competitor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.competitors {
		if c.CompanyID != companyID {
			continue
		}
		if c.NormalizedName == normalizedName || (normalizedWebsite != "" && c.NormalizedWebsite == normalizedWebsite) {
			return c, nil
		}
	}
	return nil, nil
}

type fakeQuestionRepo struct{ s *fakeStore }

func (r *fakeQuestionRepo) ListActiveByCompany(ctx context.Context, companyID uuid.UUID) ([]*models.Question, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Question
	for _, q := range r.s.questions {
		if q.CompanyID == companyID && q.IsActive {
			out = append(out, q)
		}
	}
	return out, nil
}

func (r *fakeQuestionRepo) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*models.Question, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Question
	for _, q := range r.s.questions {
		if q.CompanyID == companyID {
			out = append(out, q)
		}
	}
	return out, nil
}

type fakeReportRunRepo struct{ s *fakeStore }

func (r *fakeReportRunRepo) Create(ctx context.Context, run *models.ReportRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if run.ReportRunID == uuid.Nil {
		run.ReportRunID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.UpdatedAt = run.CreatedAt
	r.s.runs[run.ReportRunID] = run
	r.s.runCreates++
	return nil
}

func (r *fakeReportRunRepo) GetByID(ctx context.Context, runID uuid.UUID) (*models.ReportRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.runs[runID], nil
}

func (r *fakeReportRunRepo) FindInWindow(ctx context.Context, companyID uuid.UUID, from, to time.Time) (*models.ReportRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	// Mirrors the SQL ordering: non-FAILED runs beat FAILED ones, then
	// newest first.
	var best *models.ReportRun
	for _, run := range r.s.runs {
		if run.CompanyID != companyID || run.CreatedAt.Before(from) || !run.CreatedAt.Before(to) {
			continue
		}
		if best == nil {
			best = run
			continue
		}
		bestFailed := best.Status == models.RunStatusFailed
		runFailed := run.Status == models.RunStatusFailed
		if bestFailed != runFailed {
			if bestFailed {
				best = run
			}
			continue
		}
		if run.CreatedAt.After(best.CreatedAt) {
			best = run
		}
	}
	return best, nil
}

func (r *fakeReportRunRepo) UpdateStatus(ctx context.Context, runID uuid.UUID, status models.RunStatus, stepStatus string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[runID]
	if !ok {
		return fmt.Errorf("report run %s not found", runID)
	}
	run.Status = status
	run.StepStatus = stepStatus
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeReportRunRepo) UpdateStepStatus(ctx context.Context, runID uuid.UUID, stepStatus string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if run, ok := r.s.runs[runID]; ok {
		run.StepStatus = stepStatus
		run.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *fakeReportRunRepo) AddUsage(ctx context.Context, runID uuid.UUID, tokens int, usdCost float64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if run, ok := r.s.runs[runID]; ok {
		run.TokensUsed += tokens
		run.UsdCost += usdCost
	}
	return nil
}

func (r *fakeReportRunRepo) HasCompleted(ctx context.Context, companyID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, run := range r.s.runs {
		if run.CompanyID == companyID && run.Status == models.RunStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeReportRunRepo) ListStuck(ctx context.Context, cutoff time.Time) ([]*models.ReportRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ReportRun
	for _, run := range r.s.runs {
		if run.Status == models.RunStatusRunning && run.UpdatedAt.Before(cutoff) {
			out = append(out, run)
		}
	}
	return out, nil
}

func (r *fakeReportRunRepo) ListCompletedMissingMetrics(ctx context.Context, since time.Time) ([]*models.ReportRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ReportRun
	for _, run := range r.s.runs {
		if run.Status != models.RunStatusCompleted || run.CreatedAt.Before(since) {
			continue
		}
		if _, ok := r.s.metrics[byRunAndModel(run.ReportRunID, models.AIModelAll)]; !ok {
			out = append(out, run)
		}
	}
	return out, nil
}

func (r *fakeReportRunRepo) CountByStatusSince(ctx context.Context, since time.Time) (map[models.RunStatus]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := map[models.RunStatus]int{}
	for _, run := range r.s.runs {
		if !run.CreatedAt.Before(since) {
			counts[run.Status]++
		}
	}
	return counts, nil
}

type fakeResponseRepo struct{ s *fakeStore }

func (r *fakeResponseRepo) Create(ctx context.Context, response *models.Response) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if response.ResponseID == uuid.Nil {
		response.ResponseID = uuid.New()
	}
	r.s.responses = append(r.s.responses, response)
	return nil
}

func (r *fakeResponseRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.Response, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Response
	for _, resp := range r.s.responses {
		if resp.ReportRunID == runID {
			out = append(out, resp)
		}
	}
	return out, nil
}

func (r *fakeResponseRepo) CountByRun(ctx context.Context, runID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, resp := range r.s.responses {
		if resp.ReportRunID == runID {
			count++
		}
	}
	return count, nil
}

type fakeCitationRepo struct{ s *fakeStore }

func (r *fakeCitationRepo) BulkCreate(ctx context.Context, citations []*models.Citation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range citations {
		if c.CitationID == uuid.Nil {
			c.CitationID = uuid.New()
		}
		r.s.citations = append(r.s.citations, c)
	}
	return nil
}

func (r *fakeCitationRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.Citation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	responses := map[uuid.UUID]bool{}
	for _, resp := range r.s.responses {
		if resp.ReportRunID == runID {
			responses[resp.ResponseID] = true
		}
	}
	var out []*models.Citation
	for _, c := range r.s.citations {
		if responses[c.ResponseID] {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeMentionRepo struct{ s *fakeStore }

func (r *fakeMentionRepo) BulkCreate(ctx context.Context, mentions []*models.Mention) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range mentions {
		if m.MentionID == uuid.Nil {
			m.MentionID = uuid.New()
		}
		r.s.mentions = append(r.s.mentions, m)
	}
	return nil
}

func (r *fakeMentionRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.Mention, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	responses := map[uuid.UUID]bool{}
	for _, resp := range r.s.responses {
		if resp.ReportRunID == runID {
			responses[resp.ResponseID] = true
		}
	}
	var out []*models.Mention
	for _, m := range r.s.mentions {
		if responses[m.ResponseID] {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeSentimentRepo struct{ s *fakeStore }

func (r *fakeSentimentRepo) Upsert(ctx context.Context, rating *models.SentimentRating) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rating.SentimentRatingID == uuid.Nil {
		rating.SentimentRatingID = uuid.New()
	}
	r.s.ratings[byRunAndModel(rating.ReportRunID, rating.AIModel)] = rating
	return nil
}

func (r *fakeSentimentRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.SentimentRating, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.SentimentRating
	for _, rating := range r.s.ratings {
		if rating.ReportRunID == runID {
			out = append(out, rating)
		}
	}
	return out, nil
}

type fakeMetricRepo struct{ s *fakeStore }

func (r *fakeMetricRepo) Upsert(ctx context.Context, metric *models.ReportMetric) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := byRunAndModel(metric.ReportRunID, metric.AIModel)
	if existing, ok := r.s.metrics[key]; ok {
		metric.ReportMetricID = existing.ReportMetricID
	} else if metric.ReportMetricID == uuid.Nil {
		metric.ReportMetricID = uuid.New()
	}
	copied := *metric
	r.s.metrics[key] = &copied
	return nil
}

func (r *fakeMetricRepo) Get(ctx context.Context, runID uuid.UUID, aiModel string) (*models.ReportMetric, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.metrics[byRunAndModel(runID, aiModel)], nil
}

func (r *fakeMetricRepo) GetPrevious(ctx context.Context, companyID uuid.UUID, aiModel string, excludeRunID uuid.UUID) (*models.ReportMetric, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var candidates []*models.ReportMetric
	for _, m := range r.s.metrics {
		if m.CompanyID != companyID || m.AIModel != aiModel || m.ReportRunID == excludeRunID {
			continue
		}
		run := r.s.runs[m.ReportRunID]
		if run == nil || run.Status != models.RunStatusCompleted {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := r.s.runs[candidates[i].ReportRunID], r.s.runs[candidates[j].ReportRunID]
		if !ri.CreatedAt.Equal(rj.CreatedAt) {
			return ri.CreatedAt.After(rj.CreatedAt)
		}
		return ri.ReportRunID.String() > rj.ReportRunID.String()
	})
	return candidates[0], nil
}

func (r *fakeMetricRepo) Exists(ctx context.Context, runID uuid.UUID, aiModel string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.metrics[byRunAndModel(runID, aiModel)]
	return ok, nil
}

type fakeHistoryRepo struct{ s *fakeStore }

func (r *fakeHistoryRepo) UpsertShareOfVoice(ctx context.Context, point *models.ShareOfVoicePoint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.sovPoints[byCompanyDateModel(point.CompanyID, point.PointDate, point.AIModel)] = point
	return nil
}

func (r *fakeHistoryRepo) UpsertSentiment(ctx context.Context, point *models.SentimentPoint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.sentPoints[byCompanyDateModel(point.CompanyID, point.PointDate, point.AIModel)] = point
	return nil
}

func (r *fakeHistoryRepo) ListShareOfVoice(ctx context.Context, companyID uuid.UUID, aiModel string, from, to time.Time) ([]*models.ShareOfVoicePoint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ShareOfVoicePoint
	for _, p := range r.s.sovPoints {
		if p.CompanyID == companyID && p.AIModel == aiModel && !p.PointDate.Before(from) && p.PointDate.Before(to) {
			out = append(out, p)
		}
	}
	return out, nil
}

// fakeRedis is a minimal in-memory stand-in for the lock manager's and rate
// limiter's Redis client. TTLs are tracked but never expire mid-test; tests
// expire a counter explicitly with expireWindow.
type fakeRedis struct {
	mu       sync.Mutex
	data     map[string]string
	counters map[string]int64
	ttls     map[string]time.Duration
	ttlArms  int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		data:     map[string]string{},
		counters: map[string]int64{},
		ttls:     map[string]time.Duration{},
	}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := keys[0]
	token := fmt.Sprint(args[0])
	if f.data[key] != token {
		return redis.NewCmdResult(int64(0), nil)
	}
	// Both lock scripts are ownership-gated; release (single arg) deletes,
	// extend keeps the key.
	if len(args) == 1 {
		delete(f.data, key)
	}
	return redis.NewCmdResult(int64(1), nil)
}

func (f *fakeRedis) PTTL(ctx context.Context, key string) *redis.DurationCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.data[key]; !exists {
		return redis.NewDurationResult(-2, nil)
	}
	return redis.NewDurationResult(time.Minute, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, exists := f.data[key]; exists {
			delete(f.data, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[key]++
	return redis.NewIntResult(f.counters[key], nil)
}

func (f *fakeRedis) ExpireNX(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, armed := f.ttls[key]; armed {
		return redis.NewBoolResult(false, nil)
	}
	f.ttls[key] = expiration
	f.ttlArms++
	return redis.NewBoolResult(true, nil)
}

// expireWindow simulates Redis dropping an expired counter.
func (f *fakeRedis) expireWindow(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counters, key)
	delete(f.ttls, key)
}

// fakeRateLimiter scripts Allow responses.
type fakeRateLimiter struct {
	mu      sync.Mutex
	allowed bool
	err     error
	calls   int
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.allowed, f.err
}

// fakeEventSender records sent events.
type fakeEventSender struct {
	mu     sync.Mutex
	events []any
	err    error
}

func (f *fakeEventSender) Send(ctx context.Context, evt any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.events = append(f.events, evt)
	return fmt.Sprintf("evt-%d", len(f.events)), nil
}

func (f *fakeEventSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// fakeAlerter records alerts.
type fakeAlerter struct {
	mu     sync.Mutex
	alerts []recordedAlert
}

type recordedAlert struct {
	Component string
	Message   string
	Details   map[string]interface{}
}

func (f *fakeAlerter) Alert(ctx context.Context, component, message string, details map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, recordedAlert{Component: component, Message: message, Details: details})
}

func (f *fakeAlerter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

// fakeGateway scripts per-unit outcomes keyed by "model|question".
type fakeGateway struct {
	mu        sync.Mutex
	responses map[string]*services.AIResponse
	errors    map[string]error
	fallback  *services.AIResponse
	calls     map[string]int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		responses: map[string]*services.AIResponse{},
		errors:    map[string]error{},
		fallback:  &services.AIResponse{Content: "no brands here", InputTokens: 10, OutputTokens: 20, UsdCost: 0.001},
		calls:     map[string]int{},
	}
}

func unitKey(modelID, questionText string) string {
	return fmt.Sprintf("%s|%s", modelID, questionText)
}

func (f *fakeGateway) Execute(ctx context.Context, modelID, questionText, companyName string) (*services.AIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := unitKey(modelID, questionText)
	f.calls[key]++
	if err, ok := f.errors[key]; ok {
		return nil, err
	}
	if resp, ok := f.responses[key]; ok {
		return resp, nil
	}
	return f.fallback, nil
}

func (f *fakeGateway) Health() []services.ProviderHealth {
	return nil
}
