package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimscope/analyzer/internal/health"
	"github.com/claimscope/analyzer/internal/models"
	"github.com/claimscope/analyzer/internal/persistence"
	"github.com/claimscope/analyzer/internal/services"
	"github.com/claimscope/analyzer/internal/store"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`

	RequestID string `json:"request_id"`
}

type testServer struct {
	router  *gin.Engine
	backend *store.MemoryStore
	service *services.AnalyzerService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	backend := store.NewMemoryStore()
	service := services.NewAnalyzerService(backend, services.Options{
		Contributor: "user_router",
		Persistence: persistence.Options{
			Debounce:      time.Hour,
			FollowUpDelay: 10 * time.Millisecond,
			ConflictGrace: time.Second,
			SaveTimeout:   time.Second,
		},
	}, logger)
	require.NoError(t, service.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	router := NewRouter(ctx, RouterConfig{
		Service:   service,
		Health:    health.NewHealthChecker(nil, backend, backend.Name(), logger),
		RateLimit: 1000,
		Logger:    logger,
	})
	return &testServer{router: router, backend: backend, service: service}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestRouter_AnalyzeAndFeedback(t *testing.T) {
	ts := newTestServer(t)

	w, env := ts.do(t, http.MethodPost, "/api/v1/analyze", gin.H{"text": "深层滋润肌肤\n含有积雪草"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var analyzed models.AnalyzeResponse
	decode(t, env.Data, &analyzed)
	require.Equal(t, 2, analyzed.Total)
	assert.Contains(t, analyzed.Results[0].Efficacy, "保湿")
	assert.Equal(t, []string{models.FallbackEfficacy}, analyzed.Results[1].Efficacy)

	firstID := analyzed.Results[0].ID
	secondID := analyzed.Results[1].ID

	w, _ = ts.do(t, http.MethodGet, "/api/v1/results/"+firstID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/api/v1/results/"+firstID+"/confirm", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, env = ts.do(t, http.MethodPost, "/api/v1/results/"+firstID+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, env.Success)

	w, env = ts.do(t, http.MethodPost, "/api/v1/results/"+secondID+"/corrections", gin.H{
		"dimension": "efficacy",
		"kind":      "replace",
		"values":    []string{"修护"},
		"keyword":   "积雪草",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var corrected struct {
		Result     models.AnalysisResult   `json:"result"`
		Correction models.CorrectionRecord `json:"correction"`
	}
	decode(t, env.Data, &corrected)
	assert.Equal(t, []string{"修护"}, corrected.Result.Efficacy)

	w, _ = ts.do(t, http.MethodPost, "/api/v1/results/"+secondID+"/save", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = ts.do(t, http.MethodGet, "/api/v1/results", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Total int `json:"total"`
	}
	decode(t, env.Data, &listed)
	assert.Equal(t, 2, listed.Total)

	w, _ = ts.do(t, http.MethodDelete, "/api/v1/results", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = ts.do(t, http.MethodGet, "/api/v1/results/"+firstID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_AnalyzeValidation(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodPost, "/api/v1/analyze", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/api/v1/analyze", gin.H{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/api/v1/analyze", gin.H{"text": strings.Repeat("保", 30000)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := ts.do(t, http.MethodPost, "/api/v1/analyze", gin.H{"text": "保湿", "category": "pets"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error, "category")

	w, _ = ts.do(t, http.MethodPost, "/api/v1/results/missing/corrections", gin.H{
		"dimension": "efficacy",
		"kind":      "add",
		"values":    []string{"修护"},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_AnalyzeURLWithoutExtractor(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodPost, "/api/v1/analyze/url", gin.H{"url": "https://example.com/p/1"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_KeywordLifecycle(t *testing.T) {
	ts := newTestServer(t)

	w, env := ts.do(t, http.MethodPost, "/api/v1/learning/keywords", gin.H{
		"dimension": "type",
		"label":     "质地",
		"keyword":   "啫喱",
	})
	require.Equal(t, http.StatusCreated, w.Code, env.Error)
	assert.Equal(t, 1, ts.backend.Saves())

	w, _ = ts.do(t, http.MethodPost, "/api/v1/learning/keywords", gin.H{
		"dimension": "type",
		"label":     "质地",
		"keyword":   "啫喱",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/api/v1/learning/keywords", gin.H{
		"dimension": "type",
		"label":     "not-a-label",
		"keyword":   "啫喱",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = ts.do(t, http.MethodGet, "/api/v1/learning/keywords/type", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var keywords map[string][]services.KeywordScore
	decode(t, env.Data, &keywords)
	require.Len(t, keywords["质地"], 1)
	assert.Equal(t, "啫喱", keywords["质地"][0].Keyword)

	w, _ = ts.do(t, http.MethodGet, "/api/v1/learning/keywords/dimension9", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodPut, "/api/v1/learning/keywords", gin.H{
		"dimension":   "type",
		"label":       "质地",
		"old_keyword": "啫喱",
		"new_keyword": "凝露",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, env = ts.do(t, http.MethodDelete, "/api/v1/learning/keywords", gin.H{
		"dimension": "type",
		"label":     "质地",
		"keyword":   "凝露",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var removed struct {
		Removed bool `json:"removed"`
	}
	decode(t, env.Data, &removed)
	assert.True(t, removed.Removed)

	w, _ = ts.do(t, http.MethodDelete, "/api/v1/learning/labels/type/"+url.PathEscape("质地"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = ts.do(t, http.MethodDelete, "/api/v1/learning/dimensions/type", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ImportExport(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodPost, "/api/v1/learning/import", `{"keywordScores": {}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := ts.do(t, http.MethodPost, "/api/v1/learning/import", `{"newKeywords": {"类型": {"质地": ["啫喱"]}}}`)
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	var summary models.LearningSummary
	decode(t, env.Data, &summary)
	assert.Equal(t, 1, summary.LearnedKeywords[models.DimensionType])

	w, _ = ts.do(t, http.MethodGet, "/api/v1/learning/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	var payload models.ExportPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, []string{"啫喱"}, payload.NewKeywords[models.DimensionType]["质地"])
	assert.NotEmpty(t, payload.BaseKeywordMapping[models.DimensionEfficacy])
}

func TestRouter_Persistence(t *testing.T) {
	ts := newTestServer(t)

	w, env := ts.do(t, http.MethodPost, "/api/v1/learning/save", nil)
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	assert.Equal(t, 1, ts.backend.Saves())

	w, _ = ts.do(t, http.MethodPost, "/api/v1/learning/sync", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = ts.do(t, http.MethodGet, "/api/v1/learning", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var learning struct {
		Summary     models.LearningSummary `json:"summary"`
		Persistence persistence.Status     `json:"persistence"`
	}
	decode(t, env.Data, &learning)
	assert.Equal(t, "memory", learning.Summary.Store)

	ts.backend.FailWith(&store.TransportError{Op: "save", StatusCode: 502, Err: errors.New("bad gateway")})
	w, _ = ts.do(t, http.MethodPost, "/api/v1/learning/save", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w, _ = ts.do(t, http.MethodDelete, "/api/v1/learning", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestRouter_ReferenceData(t *testing.T) {
	ts := newTestServer(t)

	w, env := ts.do(t, http.MethodGet, "/api/v1/taxonomy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var taxonomy models.TaxonomyResponse
	decode(t, env.Data, &taxonomy)
	assert.Contains(t, taxonomy.Categories, "hair")
	assert.Contains(t, taxonomy.Efficacy, "保湿")

	_, _ = ts.do(t, http.MethodPost, "/api/v1/analyze", gin.H{"text": "深层滋润肌肤"})
	w, env = ts.do(t, http.MethodGet, "/api/v1/statistics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.LabelStatistics
	decode(t, env.Data, &stats)
	assert.Equal(t, 1, stats.Total)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	ts.backend.FailWith(errors.New("unreachable"))
	w, _ = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_EnvelopeEchoesRequestID(t *testing.T) {
	ts := newTestServer(t)

	w, env := ts.do(t, http.MethodGet, "/api/v1/results/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, env.RequestID)
	assert.Equal(t, w.Header().Get("X-Request-ID"), env.RequestID)
}
