package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/claimscope/analyzer/internal/classifier"
	"github.com/claimscope/analyzer/internal/learning"
	"github.com/claimscope/analyzer/internal/metrics"
	"github.com/claimscope/analyzer/internal/models"
	"github.com/claimscope/analyzer/internal/persistence"
	"github.com/claimscope/analyzer/internal/repository"
)

var (
	ErrResultNotFound  = errors.New("result not found")
	ErrResultConfirmed = errors.New("result already confirmed")
	ErrNoExtractor     = errors.New("claim extraction is not configured")
)

const (
	syncAttempts  = 3
	claimCacheTTL = 30 * time.Minute
	sourceManual  = "manual"
	sourceURL     = "url"
)

// ClaimSource fetches claim lines from a product page.
type ClaimSource interface {
	Extract(ctx context.Context, pageURL, selector string) ([]string, error)
}

// ClaimCache keeps extracted claim lines per page. A miss returns redis.Nil.
type ClaimCache interface {
	GetCachedClaims(ctx context.Context, pageURL, selector string) ([]string, error)
	CacheClaims(ctx context.Context, pageURL, selector string, claims []string, expiration time.Duration) error
}

type Options struct {
	// Contributor identifies this instance in the shared learning state.
	Contributor string
	Persistence persistence.Options
	History     *repository.RepositoryManager
	Extractor   ClaimSource
	Cache       ClaimCache
}

// AnalyzerService owns the session results and the learning state. Every
// operation runs under one mutex, so classification and mutation are
// applied one at a time.
type AnalyzerService struct {
	mu          sync.Mutex
	classifier  *classifier.Classifier
	learner     *learning.Learner
	coordinator *persistence.Coordinator
	results     map[string]*models.AnalysisResult
	order       []string
	source      map[string]string

	// savedRevision is the learner revision last known to match the store.
	savedRevision uint64

	contributor string
	history     *repository.RepositoryManager
	extractor   ClaimSource
	cache       ClaimCache
	logger      *logrus.Logger
	now         func() time.Time
	pending     sync.WaitGroup
}

// NewAnalyzerService wires the service to a storage backend. A nil backend
// keeps the learning state in memory.
func NewAnalyzerService(backend persistence.Backend, opts Options, logger *logrus.Logger) *AnalyzerService {
	s := &AnalyzerService{
		classifier:  classifier.New(logger),
		learner:     learning.New(nil, logger),
		results:     make(map[string]*models.AnalysisResult),
		source:      make(map[string]string),
		contributor: opts.Contributor,
		history:     opts.History,
		extractor:   opts.Extractor,
		cache:       opts.Cache,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	s.coordinator = persistence.New(backend, s.snapshot, opts.Persistence, logger)
	s.coordinator.OnSaved(s.saved)
	return s
}

// Initialize loads the stored learning state. A missing state keeps the
// empty one.
func (s *AnalyzerService) Initialize(ctx context.Context) error {
	state, err := s.coordinator.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state != nil {
		s.learner.Replace(state)
	}
	s.savedRevision = s.learner.Revision()
	s.logger.WithFields(logrus.Fields{
		"backend": s.coordinator.BackendName(),
		"learned": s.learner.State().LearnedCount(),
	}).Info("Learning state initialized")
	return nil
}

// Close flushes unsaved learning changes and waits for history writes.
func (s *AnalyzerService) Close(ctx context.Context) error {
	err := s.coordinator.Close(ctx)
	s.pending.Wait()
	return err
}

// snapshot returns a copy to persist, stamped with this contributor. The
// live state only takes the stamp once the save succeeds.
func (s *AnalyzerService) snapshot() (*models.LearningState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.learner.Snapshot()
	if err != nil {
		return nil, err
	}
	s.stamp(state, s.now())
	return state, nil
}

// saved records that state reached the store.
func (s *AnalyzerService) saved(state *models.LearningState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state.Revision < s.savedRevision {
		return
	}
	s.savedRevision = state.Revision
	if state.LastSyncTime != nil {
		s.stamp(s.learner.State(), *state.LastSyncTime)
	}
}

func (s *AnalyzerService) stamp(state *models.LearningState, now time.Time) {
	if s.contributor != "" {
		c := state.Contributors[s.contributor]
		c.LastContribution = now
		c.TotalContributions++
		state.Contributors[s.contributor] = c
		state.LastContributor = s.contributor
	}
	state.LastSyncTime = &now
	state.SyncSource = s.coordinator.BackendName()
}

func validateCategory(category string) error {
	if category == "" {
		return nil
	}
	if _, ok := classifier.Categories()[category]; !ok {
		return &learning.ValidationError{Field: "category", Reason: fmt.Sprintf("unknown product category %q", category)}
	}
	return nil
}

// Analyze classifies every non-blank line of text and adds the results to
// the session.
func (s *AnalyzerService) Analyze(text, category string) ([]*models.AnalysisResult, error) {
	if err := validateCategory(category); err != nil {
		return nil, err
	}
	return s.classifyLines(classifier.SplitLines(text), category, sourceManual), nil
}

// AnalyzeURL extracts claim lines from a product page and classifies them.
// Extracted lines are cached per page when a cache is configured.
func (s *AnalyzerService) AnalyzeURL(ctx context.Context, pageURL, selector, category string) ([]*models.AnalysisResult, error) {
	if err := validateCategory(category); err != nil {
		return nil, err
	}
	if s.extractor == nil {
		return nil, ErrNoExtractor
	}

	claims, err := s.cachedClaims(ctx, pageURL, selector)
	if err != nil {
		return nil, err
	}
	return s.classifyLines(claims, category, sourceURL), nil
}

func (s *AnalyzerService) cachedClaims(ctx context.Context, pageURL, selector string) ([]string, error) {
	if s.cache != nil {
		claims, err := s.cache.GetCachedClaims(ctx, pageURL, selector)
		switch {
		case err == nil:
			s.logger.WithField("url", pageURL).Debug("Claims served from cache")
			return claims, nil
		case !errors.Is(err, redis.Nil):
			s.logger.WithError(err).Warn("Failed to read claim cache")
		}
	}

	claims, err := s.extractor.Extract(ctx, pageURL, selector)
	if err != nil {
		return nil, fmt.Errorf("failed to extract claims from %s: %w", pageURL, err)
	}

	if s.cache != nil {
		if err := s.cache.CacheClaims(ctx, pageURL, selector, claims, claimCacheTTL); err != nil {
			s.logger.WithError(err).Warn("Failed to cache claims")
		}
	}
	return claims, nil
}

func (s *AnalyzerService) classifyLines(lines []string, category, source string) []*models.AnalysisResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.learner.State()
	out := make([]*models.AnalysisResult, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r := s.classifier.Classify(line, category, state)
		s.results[r.ID] = r
		s.order = append(s.order, r.ID)
		s.source[r.ID] = source
		out = append(out, r.Clone())
	}
	metrics.RecordClassification(category, out)

	s.logger.WithFields(logrus.Fields{
		"category": category,
		"source":   source,
		"results":  len(out),
	}).Info("Claims analyzed")
	return out
}

// Results returns the session results in analysis order.
func (s *AnalyzerService) Results() []*models.AnalysisResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.AnalysisResult, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.results[id].Clone())
	}
	return out
}

func (s *AnalyzerService) Result(id string) (*models.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[id]
	if !ok {
		return nil, ErrResultNotFound
	}
	return r.Clone(), nil
}

// ClearResults drops the session results. The learning state is kept.
func (s *AnalyzerService) ClearResults() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.order)
	s.results = make(map[string]*models.AnalysisResult)
	s.source = make(map[string]string)
	s.order = nil
	return n
}

// editable returns the live result for id, rejecting confirmed ones.
// Callers hold s.mu.
func (s *AnalyzerService) editable(id string) (*models.AnalysisResult, error) {
	r, ok := s.results[id]
	if !ok {
		return nil, ErrResultNotFound
	}
	if r.Confirmed {
		return nil, ErrResultConfirmed
	}
	return r, nil
}

// Confirm accepts a result unmodified and reinforces its keywords.
func (s *AnalyzerService) Confirm(id string) (*models.AnalysisResult, error) {
	s.mu.Lock()
	r, err := s.editable(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.learner.Confirm(r)
	out := r.Clone()
	source := s.source[id]
	s.mu.Unlock()

	metrics.RecordLearningEvent("confirm")
	s.coordinator.Schedule()
	s.recordResult(out, source)
	return out, nil
}

// Correct edits one dimension of a result and learns from it.
func (s *AnalyzerService) Correct(id string, c learning.Correction) (*models.AnalysisResult, models.CorrectionRecord, error) {
	s.mu.Lock()
	r, err := s.editable(id)
	if err != nil {
		s.mu.Unlock()
		return nil, models.CorrectionRecord{}, err
	}
	record, err := s.learner.Correct(r, c)
	if err != nil {
		s.mu.Unlock()
		return nil, models.CorrectionRecord{}, err
	}
	out := r.Clone()
	s.mu.Unlock()

	metrics.RecordLearningEvent("correct_" + string(record.CorrectionType))
	s.coordinator.Schedule()
	s.recordCorrection(record)
	return out, record, nil
}

// SaveCorrection closes the editing session on a result.
func (s *AnalyzerService) SaveCorrection(id string) (*models.AnalysisResult, error) {
	s.mu.Lock()
	r, err := s.editable(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.learner.SaveCorrection(r)
	out := r.Clone()
	source := s.source[id]
	s.mu.Unlock()

	metrics.RecordLearningEvent("save_correction")
	s.coordinator.Schedule()
	s.recordResult(out, source)
	return out, nil
}

// AddKeyword teaches a literal and saves immediately. It reports false when
// the literal was already learned for that label.
func (s *AnalyzerService) AddKeyword(ctx context.Context, d models.Dimension, label, keyword string) (bool, error) {
	s.mu.Lock()
	added, err := s.learner.AddKeyword(d, label, keyword)
	s.mu.Unlock()
	if err != nil || !added {
		return added, err
	}

	metrics.RecordLearningEvent("add_keyword")
	return true, s.coordinator.SaveNow(ctx)
}

func (s *AnalyzerService) DeleteKeyword(d models.Dimension, label, keyword string) (bool, error) {
	s.mu.Lock()
	removed, err := s.learner.DeleteKeyword(d, label, keyword)
	s.mu.Unlock()
	if err != nil || !removed {
		return removed, err
	}

	metrics.RecordLearningEvent("delete_keyword")
	s.coordinator.Schedule()
	return true, nil
}

func (s *AnalyzerService) EditKeyword(d models.Dimension, label, oldKeyword, newKeyword string) (bool, error) {
	s.mu.Lock()
	changed, err := s.learner.EditKeyword(d, label, oldKeyword, newKeyword)
	s.mu.Unlock()
	if err != nil || !changed {
		return changed, err
	}

	metrics.RecordLearningEvent("edit_keyword")
	s.coordinator.Schedule()
	return true, nil
}

func (s *AnalyzerService) ClearLabel(d models.Dimension, label string) (int, error) {
	s.mu.Lock()
	n, err := s.learner.ClearLabel(d, label)
	s.mu.Unlock()
	if err != nil || n == 0 {
		return n, err
	}

	metrics.RecordLearningEvent("clear_label")
	s.coordinator.Schedule()
	return n, nil
}

func (s *AnalyzerService) ClearDimension(d models.Dimension) (int, error) {
	s.mu.Lock()
	n, err := s.learner.ClearDimension(d)
	s.mu.Unlock()
	if err != nil || n == 0 {
		return n, err
	}

	metrics.RecordLearningEvent("clear_dimension")
	s.coordinator.Schedule()
	return n, nil
}

// Import merges an exported learning payload into the current state.
func (s *AnalyzerService) Import(data []byte) (models.LearningSummary, error) {
	s.mu.Lock()
	if err := s.learner.Import(data); err != nil {
		s.mu.Unlock()
		return models.LearningSummary{}, err
	}
	summary := s.summaryLocked()
	s.mu.Unlock()

	metrics.RecordLearningEvent("import")
	s.coordinator.Schedule()
	return summary, nil
}

// Export returns the learning state with the fixed dictionary attached.
func (s *AnalyzerService) Export() (*models.ExportPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.learner.Snapshot()
	if err != nil {
		return nil, err
	}
	return &models.ExportPayload{
		LearningState:      state,
		ExportDate:         s.now(),
		BaseKeywordMapping: classifier.BaseKeywordMapping(),
	}, nil
}

// ClearLearning resets the learning state and saves the empty state.
func (s *AnalyzerService) ClearLearning(ctx context.Context) error {
	s.mu.Lock()
	s.learner.Reset()
	s.mu.Unlock()

	metrics.RecordLearningEvent("reset")
	return s.coordinator.SaveNow(ctx)
}

// SaveNow persists the current state immediately.
func (s *AnalyzerService) SaveNow(ctx context.Context) error {
	return s.coordinator.SaveNow(ctx)
}

// Sync reloads the stored state and replaces the local one. Local changes
// are flushed first, and the replace only happens when nothing changed
// locally since that flush. Otherwise the flush is retried; if local
// changes keep arriving the local state is kept and saved later.
func (s *AnalyzerService) Sync(ctx context.Context) (models.LearningSummary, error) {
	for attempt := 1; attempt <= syncAttempts; attempt++ {
		if err := s.coordinator.Flush(ctx); err != nil {
			return models.LearningSummary{}, err
		}
		state, err := s.coordinator.Load(ctx)
		if err != nil {
			return models.LearningSummary{}, err
		}

		s.mu.Lock()
		if state == nil {
			summary := s.summaryLocked()
			s.mu.Unlock()
			return summary, nil
		}
		if s.learner.Revision() == s.savedRevision {
			s.learner.Replace(state)
			s.savedRevision = s.learner.Revision()
			summary := s.summaryLocked()
			s.mu.Unlock()
			s.logger.WithField("backend", s.coordinator.BackendName()).Info("Learning state synchronized")
			return summary, nil
		}
		s.mu.Unlock()
	}

	s.coordinator.Schedule()
	s.logger.WithField("backend", s.coordinator.BackendName()).Warn("Learning state kept local changes made during sync")
	return s.LearningSummary(), nil
}

// Statistics returns the label distribution over the session results.
func (s *AnalyzerService) Statistics() models.LabelStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.LabelStatistics{
		Efficacy: make(map[string]int),
		Types:    make(map[string]int),
		Duration: make(map[string]int),
	}
	for _, id := range s.order {
		r := s.results[id]
		stats.Total++
		for _, label := range r.Efficacy {
			stats.Efficacy[label]++
		}
		for _, label := range r.Types {
			stats.Types[label]++
		}
		stats.Duration[r.Duration]++
	}
	return stats
}

// LearningSummary reports learning counters and the store in use.
func (s *AnalyzerService) LearningSummary() models.LearningSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

func (s *AnalyzerService) summaryLocked() models.LearningSummary {
	summary := s.learner.Summary()
	summary.Store = s.coordinator.BackendName()
	return summary
}

// LearnedKeywords returns the learned literals of a dimension with their
// scores, labels in canonical order.
func (s *AnalyzerService) LearnedKeywords(d models.Dimension) (map[string][]KeywordScore, error) {
	d, err := models.ParseDimension(string(d))
	if err != nil {
		return nil, &learning.ValidationError{Field: "dimension", Reason: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.learner.State()
	out := make(map[string][]KeywordScore, len(state.NewKeywords[d]))
	for label, keywords := range state.NewKeywords[d] {
		entries := make([]KeywordScore, 0, len(keywords))
		for _, kw := range keywords {
			entries = append(entries, KeywordScore{Keyword: kw, Score: state.Score(kw)})
		}
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })
		out[label] = entries
	}
	return out, nil
}

// KeywordScore pairs a learned literal with its trust score.
type KeywordScore struct {
	Keyword string  `json:"keyword"`
	Score   float64 `json:"score"`
}

// PersistenceStatus reports the save state machine.
func (s *AnalyzerService) PersistenceStatus() persistence.Status {
	return s.coordinator.Status()
}

func (s *AnalyzerService) recordResult(r *models.AnalysisResult, source string) {
	if s.history == nil {
		return
	}
	if source == "" {
		source = sourceManual
	}
	record := models.NewAnalysisRecord(r, s.contributor, source)
	s.async("analysis record", func() error {
		return s.history.AnalysisRecords.Create(record)
	})
}

func (s *AnalyzerService) recordCorrection(c models.CorrectionRecord) {
	if s.history == nil {
		return
	}
	entry := models.NewCorrectionLog(c, s.contributor)
	s.async("correction log", func() error {
		return s.history.CorrectionLogs.Create(entry)
	})
}

func (s *AnalyzerService) async(what string, write func() error) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := write(); err != nil {
			s.logger.WithError(err).WithField("entry", what).Error("Failed to write history")
		}
	}()
}
