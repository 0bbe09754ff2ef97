package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimscope/analyzer/internal/learning"
	"github.com/claimscope/analyzer/internal/models"
	"github.com/claimscope/analyzer/internal/persistence"
	"github.com/claimscope/analyzer/internal/repository"
	"github.com/claimscope/analyzer/internal/store"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// slowOptions keeps scheduled saves from firing during a test; Close
// flushes them.
func slowOptions() persistence.Options {
	return persistence.Options{
		Debounce:      time.Hour,
		FollowUpDelay: 10 * time.Millisecond,
		ConflictGrace: time.Second,
		SaveTimeout:   time.Second,
	}
}

func newTestService(t *testing.T, backend persistence.Backend, opts Options) *AnalyzerService {
	t.Helper()
	if opts.Contributor == "" {
		opts.Contributor = "user_test"
	}
	opts.Persistence = slowOptions()
	s := NewAnalyzerService(backend, opts, testLogger())
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func TestAnalyzerService_Analyze(t *testing.T) {
	s := newTestService(t, store.NewMemoryStore(), Options{})

	results, err := s.Analyze("深层滋润肌肤\n\n   \n 温和不刺激 ", "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "深层滋润肌肤", results[0].Text)
	assert.Contains(t, results[0].Efficacy, "保湿")
	assert.Equal(t, "温和不刺激", results[1].Text)
	assert.Contains(t, results[1].Types, "温和宣称")

	all := s.Results()
	require.Len(t, all, 2)
	assert.Equal(t, results[0].ID, all[0].ID)

	_, err = s.Analyze("深层滋润肌肤", "pets")
	var ve *learning.ValidationError
	assert.True(t, errors.As(err, &ve))

	assert.Equal(t, 2, s.ClearResults())
	assert.Empty(t, s.Results())
}

func TestAnalyzerService_ResultsAreCopies(t *testing.T) {
	s := newTestService(t, store.NewMemoryStore(), Options{})

	results, err := s.Analyze("深层滋润肌肤", "")
	require.NoError(t, err)
	results[0].Efficacy = []string{"tampered"}

	stored, err := s.Result(results[0].ID)
	require.NoError(t, err)
	assert.Contains(t, stored.Efficacy, "保湿")
}

func TestAnalyzerService_ConfirmLocksResult(t *testing.T) {
	s := newTestService(t, store.NewMemoryStore(), Options{})
	results, err := s.Analyze("深层滋润肌肤", "")
	require.NoError(t, err)
	id := results[0].ID

	confirmed, err := s.Confirm(id)
	require.NoError(t, err)
	assert.True(t, confirmed.Confirmed)

	_, err = s.Confirm(id)
	assert.ErrorIs(t, err, ErrResultConfirmed)
	_, _, err = s.Correct(id, learning.Correction{Dimension: models.DimensionEfficacy, Kind: models.CorrectionDelete, Values: []string{"保湿"}})
	assert.ErrorIs(t, err, ErrResultConfirmed)
	_, err = s.SaveCorrection(id)
	assert.ErrorIs(t, err, ErrResultConfirmed)

	_, err = s.Confirm("missing")
	assert.ErrorIs(t, err, ErrResultNotFound)

	summary := s.LearningSummary()
	assert.Equal(t, 1, summary.Stats.Confirmations)
	assert.Equal(t, "memory", summary.Store)
}

func TestAnalyzerService_CorrectionTeachesKeyword(t *testing.T) {
	s := newTestService(t, store.NewMemoryStore(), Options{})
	results, err := s.Analyze("含有积雪草", "")
	require.NoError(t, err)
	require.Equal(t, []string{models.FallbackEfficacy}, results[0].Efficacy)

	corrected, record, err := s.Correct(results[0].ID, learning.Correction{
		Dimension: models.DimensionEfficacy,
		Kind:      models.CorrectionReplace,
		Values:    []string{"修护"},
		Keyword:   "积雪草",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"修护"}, corrected.Efficacy)
	assert.Equal(t, "积雪草", record.UserKeyword)

	next, err := s.Analyze("积雪草精华", "")
	require.NoError(t, err)
	assert.Contains(t, next[0].Efficacy, "修护")

	var learned []models.Match
	for _, m := range next[0].Matches {
		if m.Origin == models.OriginLearned {
			learned = append(learned, m)
		}
	}
	require.Len(t, learned, 1)
	assert.Equal(t, "积雪草", learned[0].Keyword)

	_, _, err = s.Correct(next[0].ID, learning.Correction{Dimension: "dimension9", Kind: models.CorrectionAdd, Values: []string{"修护"}})
	var ve *learning.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestAnalyzerService_AddKeywordSavesImmediately(t *testing.T) {
	backend := store.NewMemoryStore()
	s := newTestService(t, backend, Options{})
	ctx := context.Background()

	added, err := s.AddKeyword(ctx, models.DimensionDuration, "持久", "一整天")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 1, backend.Saves())

	added, err = s.AddKeyword(ctx, models.DimensionDuration, "持久", "一整天")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, backend.Saves())

	stored, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"一整天"}, stored.NewKeywords[models.DimensionDuration]["持久"])
	assert.Equal(t, "user_test", stored.LastContributor)
	assert.Equal(t, 1, stored.Contributors["user_test"].TotalContributions)
	assert.Equal(t, "memory", stored.SyncSource)
	assert.NotNil(t, stored.LastSyncTime)
}

func TestAnalyzerService_AddKeywordFailureReturned(t *testing.T) {
	backend := store.NewMemoryStore()
	s := newTestService(t, backend, Options{})
	backend.FailWith(&store.TransportError{Op: "save", Err: errors.New("offline")})

	added, err := s.AddKeyword(context.Background(), models.DimensionType, "质地", "啫喱")
	assert.True(t, added)
	var te *store.TransportError
	assert.True(t, errors.As(err, &te))
	assert.True(t, s.PersistenceStatus().Dirty)
}

func TestAnalyzerService_InitializeAndSync(t *testing.T) {
	backend := store.NewMemoryStore()
	ctx := context.Background()

	seed := models.NewLearningState()
	seed.NewKeywords[models.DimensionEfficacy]["修护"] = []string{"积雪草"}
	require.NoError(t, backend.Save(ctx, seed))

	a := newTestService(t, backend, Options{Contributor: "user_a"})
	b := newTestService(t, backend, Options{Contributor: "user_b"})

	results, err := b.Analyze("积雪草精华", "")
	require.NoError(t, err)
	assert.Contains(t, results[0].Efficacy, "修护")

	_, err = a.AddKeyword(ctx, models.DimensionType, "质地", "啫喱")
	require.NoError(t, err)

	summary, err := b.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LearnedKeywords[models.DimensionType])
	assert.Equal(t, 1, summary.LearnedKeywords[models.DimensionEfficacy])
}

func TestAnalyzerService_SyncPushesUnsavedChanges(t *testing.T) {
	backend := store.NewMemoryStore()
	s := newTestService(t, backend, Options{})
	ctx := context.Background()

	_, err := s.AddKeyword(ctx, models.DimensionType, "质地", "啫喱")
	require.NoError(t, err)
	removed, err := s.DeleteKeyword(models.DimensionType, "质地", "啫喱")
	require.NoError(t, err)
	require.True(t, removed)
	require.True(t, s.PersistenceStatus().Dirty)

	summary, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.LearnedKeywords[models.DimensionType])
	assert.Equal(t, 1, summary.Blacklisted)
	assert.Equal(t, 2, backend.Saves())
}

// gatedStore holds every save until gate is closed.
type gatedStore struct {
	*store.MemoryStore
	started chan struct{}
	gate    chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		MemoryStore: store.NewMemoryStore(),
		started:     make(chan struct{}, 8),
		gate:        make(chan struct{}),
	}
}

func (g *gatedStore) Save(ctx context.Context, state *models.LearningState) error {
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.MemoryStore.Save(ctx, state)
}

type syncOutcome struct {
	summary models.LearningSummary
	err     error
}

func TestAnalyzerService_SyncKeepsChangeQueuedBehindInFlightSave(t *testing.T) {
	backend := newGatedStore()
	ctx := context.Background()

	seed := models.NewLearningState()
	seed.NewKeywords[models.DimensionEfficacy]["修护"] = []string{"积雪草"}
	require.NoError(t, backend.MemoryStore.Save(ctx, seed))

	s := newTestService(t, backend, Options{})

	saveDone := make(chan error, 1)
	go func() { saveDone <- s.SaveNow(ctx) }()
	<-backend.started

	// queued behind the in-flight save and reported as success
	added, err := s.AddKeyword(ctx, models.DimensionType, "质地", "啫喱")
	require.NoError(t, err)
	require.True(t, added)
	assert.Equal(t, "saving+pending", s.PersistenceStatus().State)

	syncDone := make(chan syncOutcome, 1)
	go func() {
		summary, err := s.Sync(ctx)
		syncDone <- syncOutcome{summary, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(backend.gate)

	require.NoError(t, <-saveDone)
	outcome := <-syncDone
	require.NoError(t, outcome.err)
	assert.Equal(t, 1, outcome.summary.LearnedKeywords[models.DimensionType])
	assert.Equal(t, 1, outcome.summary.LearnedKeywords[models.DimensionEfficacy])

	stored, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"啫喱"}, stored.NewKeywords.Bucket(models.DimensionType, "质地"))
	assert.Equal(t, 2, stored.Contributors["user_test"].TotalContributions)

	exported, err := s.Export()
	require.NoError(t, err)
	assert.Equal(t, []string{"啫喱"}, exported.NewKeywords.Bucket(models.DimensionType, "质地"))
	assert.False(t, s.PersistenceStatus().Dirty)
}

func TestAnalyzerService_FailedSaveLeavesContributorUnstamped(t *testing.T) {
	backend := store.NewMemoryStore()
	s := newTestService(t, backend, Options{})
	ctx := context.Background()

	backend.FailWith(&store.TransportError{Op: "save", Err: errors.New("offline")})
	_, err := s.AddKeyword(ctx, models.DimensionType, "质地", "啫喱")
	require.Error(t, err)

	exported, err := s.Export()
	require.NoError(t, err)
	_, stamped := exported.Contributors["user_test"]
	assert.False(t, stamped)
	assert.Nil(t, exported.LastSyncTime)
	assert.Empty(t, exported.LastContributor)

	backend.FailWith(nil)
	require.NoError(t, s.SaveNow(ctx))

	stored, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Contributors["user_test"].TotalContributions)

	exported, err = s.Export()
	require.NoError(t, err)
	assert.Equal(t, 1, exported.Contributors["user_test"].TotalContributions)
	assert.Equal(t, "user_test", exported.LastContributor)
	assert.NotNil(t, exported.LastSyncTime)
	assert.Equal(t, "memory", exported.SyncSource)
}

func TestAnalyzerService_SaveAfterCloseFails(t *testing.T) {
	s := newTestService(t, store.NewMemoryStore(), Options{})
	require.NoError(t, s.Close(context.Background()))
	assert.ErrorIs(t, s.SaveNow(context.Background()), persistence.ErrClosed)
}

func TestAnalyzerService_InitializeFailure(t *testing.T) {
	backend := store.NewMemoryStore()
	backend.FailWith(&store.TransportError{Op: "load", Err: errors.New("offline")})

	s := NewAnalyzerService(backend, Options{Persistence: slowOptions()}, testLogger())
	assert.Error(t, s.Initialize(context.Background()))
}

func TestAnalyzerService_KeywordManagement(t *testing.T) {
	s := newTestService(t, store.NewMemoryStore(), Options{})
	ctx := context.Background()

	_, err := s.AddKeyword(ctx, models.DimensionEfficacy, "修护", "积雪草")
	require.NoError(t, err)
	_, err = s.AddKeyword(ctx, models.DimensionEfficacy, "修护", "神经酰胺")
	require.NoError(t, err)

	changed, err := s.EditKeyword(models.DimensionEfficacy, "修护", "积雪草", "积雪草提取物")
	require.NoError(t, err)
	assert.True(t, changed)

	keywords, err := s.LearnedKeywords("功效")
	require.NoError(t, err)
	require.Len(t, keywords["修护"], 2)

	n, err := s.ClearLabel(models.DimensionEfficacy, "修护")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.AddKeyword(ctx, models.DimensionType, "质地", "啫喱")
	require.NoError(t, err)
	n, err = s.ClearDimension(models.DimensionType)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.ClearDimension("nope")
	assert.Error(t, err)
}

func TestAnalyzerService_ImportExport(t *testing.T) {
	s := newTestService(t, store.NewMemoryStore(), Options{})

	_, err := s.Import([]byte(`{"keywordScores": {}}`))
	var ve *learning.ValidationError
	require.True(t, errors.As(err, &ve))

	summary, err := s.Import([]byte(`{"newKeywords": {"类型": {"质地": ["啫喱"]}}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LearnedKeywords[models.DimensionType])

	payload, err := s.Export()
	require.NoError(t, err)
	assert.Equal(t, []string{"啫喱"}, payload.NewKeywords[models.DimensionType]["质地"])
	assert.Equal(t, "保湿", payload.BaseKeywordMapping[models.DimensionEfficacy]["保湿|滋润|水润|锁水|补水|保水|润泽|湿润|水分|水嫩"])
	assert.False(t, payload.ExportDate.IsZero())
}

func TestAnalyzerService_ClearLearning(t *testing.T) {
	backend := store.NewMemoryStore()
	s := newTestService(t, backend, Options{})
	ctx := context.Background()

	_, err := s.AddKeyword(ctx, models.DimensionType, "质地", "啫喱")
	require.NoError(t, err)
	require.NoError(t, s.ClearLearning(ctx))

	stored, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored.NewKeywords[models.DimensionType])
	assert.Equal(t, 0, s.LearningSummary().LearnedKeywords[models.DimensionType])
}

func TestAnalyzerService_Statistics(t *testing.T) {
	s := newTestService(t, store.NewMemoryStore(), Options{})
	_, err := s.Analyze("深层滋润肌肤\n持久保湿\n温和亲肤", "")
	require.NoError(t, err)

	stats := s.Statistics()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Efficacy["保湿"])
	assert.Equal(t, 1, stats.Efficacy[models.FallbackEfficacy])
	assert.Equal(t, 1, stats.Duration["持久"])
	assert.Equal(t, 2, stats.Duration[models.DefaultDuration])
}

func TestAnalyzerService_CloseFlushesScheduledSave(t *testing.T) {
	backend := store.NewMemoryStore()
	s := newTestService(t, backend, Options{})

	results, err := s.Analyze("深层滋润肌肤", "")
	require.NoError(t, err)
	_, err = s.Confirm(results[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, backend.Saves())

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 1, backend.Saves())
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	lines []string
	err   error
}

func (f *fakeExtractor) Extract(ctx context.Context, pageURL, selector string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.lines, f.err
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]string
}

func (f *fakeCache) GetCachedClaims(ctx context.Context, pageURL, selector string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	claims, ok := f.entries[pageURL+"|"+selector]
	if !ok {
		return nil, redis.Nil
	}
	return claims, nil
}

func (f *fakeCache) CacheClaims(ctx context.Context, pageURL, selector string, claims []string, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[pageURL+"|"+selector] = claims
	return nil
}

func TestAnalyzerService_AnalyzeURL(t *testing.T) {
	extractor := &fakeExtractor{lines: []string{"深层滋润肌肤", "温和不刺激"}}
	cache := &fakeCache{entries: map[string][]string{}}
	s := newTestService(t, store.NewMemoryStore(), Options{Extractor: extractor, Cache: cache})
	ctx := context.Background()

	results, err := s.AnalyzeURL(ctx, "https://shop.example/p/1", "", "face")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "face", results[0].Category)

	_, err = s.AnalyzeURL(ctx, "https://shop.example/p/1", "", "face")
	require.NoError(t, err)
	assert.Equal(t, 1, extractor.calls)
	assert.Len(t, s.Results(), 4)

	extractor.err = errors.New("timeout")
	_, err = s.AnalyzeURL(ctx, "https://shop.example/p/2", "", "")
	assert.Error(t, err)

	bare := newTestService(t, store.NewMemoryStore(), Options{})
	_, err = bare.AnalyzeURL(ctx, "https://shop.example/p/1", "", "")
	assert.ErrorIs(t, err, ErrNoExtractor)
}

type fakeRecords struct {
	mu      sync.Mutex
	records []*models.AnalysisRecord
}

func (f *fakeRecords) Create(record *models.AnalysisRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeRecords) GetByResultID(resultID string) (*models.AnalysisRecord, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRecords) GetRecent(limit int) ([]models.AnalysisRecord, error) {
	return nil, nil
}

func (f *fakeRecords) CountByEfficacy() ([]models.LabelCount, error) {
	return nil, nil
}

type fakeCorrections struct {
	mu      sync.Mutex
	entries []*models.CorrectionLog
}

func (f *fakeCorrections) Create(entry *models.CorrectionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeCorrections) GetByResultID(resultID string) ([]models.CorrectionLog, error) {
	return nil, nil
}

func (f *fakeCorrections) GetRecent(limit int) ([]models.CorrectionLog, error) {
	return nil, nil
}

func TestAnalyzerService_WritesHistory(t *testing.T) {
	records := &fakeRecords{}
	corrections := &fakeCorrections{}
	history := &repository.RepositoryManager{AnalysisRecords: records, CorrectionLogs: corrections}
	s := newTestService(t, store.NewMemoryStore(), Options{History: history})

	results, err := s.Analyze("深层滋润肌肤\n温和不刺激", "")
	require.NoError(t, err)

	_, _, err = s.Correct(results[0].ID, learning.Correction{
		Dimension: models.DimensionDuration,
		Kind:      models.CorrectionReplace,
		Values:    []string{"持久"},
	})
	require.NoError(t, err)
	_, err = s.SaveCorrection(results[0].ID)
	require.NoError(t, err)
	_, err = s.Confirm(results[1].ID)
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background()))

	require.Len(t, corrections.entries, 1)
	assert.Equal(t, results[0].ID, corrections.entries[0].ResultID)
	assert.Equal(t, "user_test", corrections.entries[0].Contributor)

	require.Len(t, records.records, 2)
	byID := map[string]*models.AnalysisRecord{}
	for _, r := range records.records {
		byID[r.ResultID] = r
	}
	assert.Equal(t, "持久", byID[results[0].ID].Duration)
	assert.Equal(t, "manual", byID[results[1].ID].Source)
}
