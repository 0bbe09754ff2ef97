package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimscope/analyzer/internal/models"
)

const testPath = "data/learning.json"

// fakeContents emulates the contents API for one file.
type fakeContents struct {
	t        *testing.T
	mu       sync.Mutex
	content  []byte
	sha      string
	puts     []PutContentRequest
	gets     int
	failGets int
	conflict bool
}

func (f *fakeContents) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	assert.Equal(f.t, "Bearer test-token", r.Header.Get("Authorization"))
	assert.Equal(f.t, "/repos/acme/claims-data/contents/"+testPath, r.URL.Path)
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		f.gets++
		assert.Equal(f.t, "main", r.URL.Query().Get("ref"))
		if f.failGets > 0 {
			f.failGets--
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"message":"upstream unavailable"}`))
			return
		}
		if f.content == nil {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		json.NewEncoder(w).Encode(ContentFile{
			Type:     "file",
			Encoding: "base64",
			Path:     testPath,
			Size:     len(f.content),
			Content:  wrap(base64.StdEncoding.EncodeToString(f.content), 60),
			SHA:      f.sha,
		})
	case http.MethodPut:
		var req PutContentRequest
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.puts = append(f.puts, req)
		if f.conflict || req.SHA != f.sha {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"message":"is at a different sha"}`))
			return
		}
		data, err := base64.StdEncoding.DecodeString(req.Content)
		assert.NoError(f.t, err)
		f.content = data
		f.sha = strings.Repeat("a", len(f.puts))
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(PutContentResponse{Commit: Commit{SHA: "commit-" + f.sha}})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func wrap(s string, width int) string {
	var b strings.Builder
	for len(s) > width {
		b.WriteString(s[:width])
		b.WriteString("\n")
		s = s[width:]
	}
	b.WriteString(s)
	return b.String()
}

func newTestStore(t *testing.T, handler http.Handler) (*GitHubStore, *httptest.Server) {
	server := httptest.NewServer(handler)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	client := NewClient(GitHubOptions{
		BaseURL: server.URL,
		Owner:   "acme",
		Repo:    "claims-data",
		Branch:  "main",
		Token:   "test-token",
		Retry:   RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}, logger)
	return NewGitHubStore(client, testPath, logger), server
}

func TestGitHubStore_LoadNotFound(t *testing.T) {
	fake := &fakeContents{t: t}
	store, server := newTestStore(t, fake)
	defer server.Close()

	state, err := store.Load(context.Background())
	assert.Nil(t, state)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 1, fake.gets)
}

func TestGitHubStore_SaveThenLoad(t *testing.T) {
	fake := &fakeContents{t: t}
	store, server := newTestStore(t, fake)
	defer server.Close()
	ctx := context.Background()

	state := models.NewLearningState()
	state.NewKeywords[models.DimensionEfficacy]["修护"] = []string{"神经酰胺"}
	state.KeywordScores["神经酰胺"] = 0.8
	state.LastContributor = "user_test"

	require.NoError(t, store.Save(ctx, state))
	require.Len(t, fake.puts, 1)
	assert.Empty(t, fake.puts[0].SHA)
	assert.Equal(t, "main", fake.puts[0].Branch)
	assert.Contains(t, fake.puts[0].Message, "user_test")

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"神经酰胺"}, loaded.NewKeywords[models.DimensionEfficacy]["修护"])
	assert.InDelta(t, 0.8, loaded.KeywordScores["神经酰胺"], 1e-9)

	// the second write must carry the sha of the first
	require.NoError(t, store.Save(ctx, loaded))
	require.Len(t, fake.puts, 2)
	assert.Equal(t, "a", fake.puts[1].SHA)
}

func TestGitHubStore_SaveConflict(t *testing.T) {
	fake := &fakeContents{t: t, conflict: true}
	store, server := newTestStore(t, fake)
	defer server.Close()

	err := store.Save(context.Background(), models.NewLearningState())
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, testPath, ce.Path)
	assert.Equal(t, http.StatusConflict, ce.StatusCode)
}

func TestGitHubStore_LoadRetriesTransportErrors(t *testing.T) {
	fake := &fakeContents{t: t, content: []byte(`{"newKeywords":{"持续性":{"持久":["一整天"]}}}`), sha: "abc", failGets: 2}
	store, server := newTestStore(t, fake)
	defer server.Close()

	state, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, fake.gets)
	assert.Equal(t, []string{"一整天"}, state.NewKeywords[models.DimensionDuration]["持久"])
	assert.NotNil(t, state.KeywordScores)
}

func TestGitHubStore_LoadGivesUp(t *testing.T) {
	fake := &fakeContents{t: t, failGets: 10}
	store, server := newTestStore(t, fake)
	defer server.Close()

	_, err := store.Load(context.Background())
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.Contains(t, err.Error(), "upstream unavailable")
	assert.Equal(t, 3, fake.gets)
}

func TestClient_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/repos/acme/claims-data", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Repository{FullName: "acme/claims-data", DefaultBranch: "main"})
	}))
	defer server.Close()

	client := NewClient(GitHubOptions{BaseURL: server.URL, Owner: "acme", Repo: "claims-data", Token: "t"}, logrus.New())
	repo, err := client.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acme/claims-data", repo.FullName)
	assert.Equal(t, "closed", client.BreakerState())
}

func TestClient_ErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer server.Close()

	client := NewClient(GitHubOptions{BaseURL: server.URL, Owner: "acme", Repo: "claims-data", Token: "bad"}, logrus.New())
	_, err := client.GetContent(context.Background(), testPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad credentials")
	assert.False(t, retryable(err))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Load(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))

	state := models.NewLearningState()
	state.KeywordScores["啫喱"] = 0.5
	require.NoError(t, store.Save(ctx, state))
	assert.Equal(t, 1, store.Saves())

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, loaded.KeywordScores["啫喱"], 1e-9)

	store.FailWith(&TransportError{Op: "save", Err: errors.New("offline")})
	assert.Error(t, store.Save(ctx, state))
	assert.Equal(t, 1, store.Saves())
}
