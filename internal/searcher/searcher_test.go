package searcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/projectsearch/internal/embedder"
	"github.com/dshills/projectsearch/internal/embedder/embeddertest"
	"github.com/dshills/projectsearch/internal/metrics"
	"github.com/dshills/projectsearch/internal/projectstore"
	"github.com/dshills/projectsearch/internal/ranker"
	"github.com/dshills/projectsearch/internal/storage"
	"github.com/dshills/projectsearch/pkg/types"
)

const testDim = 384

var corpus = []types.ProjectInput{
	{Title: "Java Project", Budget: 1000, Description: "Java development of enterprise backend services and APIs", Tags: []string{"java"}},
	{Title: "Python Automation", Budget: 800, Description: "Python automation scripts for data processing pipelines", Tags: []string{"python"}},
	{Title: "Web Development", Budget: 1500, Description: "Web development with HTML/CSS/JS for a responsive company site", Tags: []string{"web"}},
	{Title: "Database Tuning", Budget: 1200, Description: "Database performance and security hardening for production", Tags: []string{"sql"}},
	{Title: "Machine Learning", Budget: 3000, Description: "Machine learning algorithms for customer churn prediction", Tags: []string{"ml"}},
}

// setupTestSearcher loads the five-project corpus into an in-memory store
func setupTestSearcher(t *testing.T, opts projectstore.Options) (*Searcher, *projectstore.Store, *embeddertest.Stub, *metrics.Metrics) {
	t.Helper()
	st := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = st.Close() })

	stub := embeddertest.NewStub(testDim)
	store := projectstore.New(st, stub, opts)
	for _, in := range corpus {
		_, err := store.CreateProject(context.Background(), in)
		require.NoError(t, err)
	}

	m := metrics.New()
	return NewSearcher(store, nil, m), store, stub, m
}

func titles(resp *types.SearchResponse) []string {
	out := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = r.Project.Title
	}
	return out
}

func TestSearchSemantic_DeterministicRanking(t *testing.T) {
	s, _, _, m := setupTestSearcher(t, projectstore.Options{})

	resp, err := s.SearchSemantic(context.Background(), "web development")
	require.NoError(t, err)

	assert.Equal(t, types.SearchModeSemantic, resp.Mode)
	assert.Empty(t, resp.FallbackReason)
	require.Equal(t, 5, resp.TotalResults)
	assert.Equal(t, []string{
		"Web Development",
		"Java Project",
		// Zero scores keep ascending id order
		"Python Automation",
		"Database Tuning",
		"Machine Learning",
	}, titles(resp))

	for i, r := range resp.Results {
		assert.NoError(t, r.Validate())
		assert.Equal(t, i+1, r.Rank)
		if i > 0 {
			assert.LessOrEqual(t, r.Score, resp.Results[i-1].Score)
		}
	}
	assert.InDelta(t, 0.5, resp.Results[0].Score, 1e-6)

	again, err := s.SearchSemantic(context.Background(), "web development")
	require.NoError(t, err)
	assert.Equal(t, titles(resp), titles(again))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Searches.WithLabelValues("semantic", "semantic")))
}

func TestSearchSemantic_Limit(t *testing.T) {
	s, _, _, _ := setupTestSearcher(t, projectstore.Options{})

	resp, err := s.Search(context.Background(), SearchRequest{Query: "machine learning", Limit: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "Machine Learning", resp.Results[0].Project.Title)
}

func TestSearchSemantic_ExcludesDegradedProjects(t *testing.T) {
	s, store, stub, _ := setupTestSearcher(t, projectstore.Options{})
	ctx := context.Background()

	stub.SetFailing(true)
	degraded, err := store.CreateProject(ctx, types.ProjectInput{
		Title:       "Web Scraper",
		Description: "Web development crawler",
	})
	require.NoError(t, err)
	stub.SetFailing(false)

	resp, err := s.SearchSemantic(ctx, "web development")
	require.NoError(t, err)
	assert.Len(t, resp.Results, 5)
	assert.NotContains(t, titles(resp), "Web Scraper")

	kw, err := s.SearchKeyword(ctx, "crawler")
	require.NoError(t, err)
	require.Len(t, kw.Results, 1)
	assert.Equal(t, degraded.ID, kw.Results[0].Project.ID)
}

func TestSearchKeyword_CaseInsensitive(t *testing.T) {
	s, _, _, _ := setupTestSearcher(t, projectstore.Options{})

	resp, err := s.SearchKeyword(context.Background(), "java")
	require.NoError(t, err)
	assert.Equal(t, types.SearchModeKeyword, resp.Mode)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "Java Project", resp.Results[0].Project.Title)
	assert.Zero(t, resp.Results[0].Score)
	assert.Equal(t, 1, resp.Results[0].Rank)

	// "JS" in the web description does not match "java"
	assert.Equal(t, []string{"Java Project"}, titles(resp))
}

func TestSearchSemantic_FallbackOnProviderError(t *testing.T) {
	s, _, stub, m := setupTestSearcher(t, projectstore.Options{})
	stub.SetFailing(true)

	resp, err := s.SearchSemantic(context.Background(), "web development")
	require.NoError(t, err)
	assert.Equal(t, types.SearchModeKeywordFallback, resp.Mode)
	assert.Equal(t, FallbackProviderError, resp.FallbackReason)
	assert.Equal(t, []string{"Web Development"}, titles(resp))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Searches.WithLabelValues("semantic", "keyword_fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderFailures.WithLabelValues("search")))
}

func TestSearchSemantic_FallbackOnDeadline(t *testing.T) {
	s, _, stub, _ := setupTestSearcher(t, projectstore.Options{})
	stub.SetBlocking(true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	resp, err := s.SearchSemantic(ctx, "python")
	require.NoError(t, err)
	assert.Equal(t, types.SearchModeKeywordFallback, resp.Mode)
	assert.Equal(t, FallbackDeadline, resp.FallbackReason)
	assert.Equal(t, []string{"Python Automation"}, titles(resp))
}

func TestSearchSemantic_FallbackOnEmbedTimeout(t *testing.T) {
	s, _, stub, _ := setupTestSearcher(t, projectstore.Options{EmbedTimeout: 20 * time.Millisecond})
	stub.SetBlocking(true)

	resp, err := s.SearchSemantic(context.Background(), "database")
	require.NoError(t, err)
	assert.Equal(t, FallbackDeadline, resp.FallbackReason)
	assert.Equal(t, []string{"Database Tuning"}, titles(resp))
}

func TestSearchSemantic_CallerCancel(t *testing.T) {
	s, _, stub, _ := setupTestSearcher(t, projectstore.Options{})
	stub.SetBlocking(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.SearchSemantic(ctx, "web development")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearch_Validation(t *testing.T) {
	s, _, _, _ := setupTestSearcher(t, projectstore.Options{})
	ctx := context.Background()

	tests := []struct {
		name    string
		req     SearchRequest
		wantErr error
	}{
		{"empty query", SearchRequest{Query: ""}, types.ErrEmptyQuery},
		{"blank query", SearchRequest{Query: " \t"}, types.ErrEmptyQuery},
		{"blank keyword", SearchRequest{Query: " ", Mode: types.SearchModeKeyword}, types.ErrEmptyQuery},
		{"negative limit", SearchRequest{Query: "x", Limit: -1}, types.ErrValidation},
		{"unknown mode", SearchRequest{Query: "x", Mode: "hybrid"}, types.ErrValidation},
		{"fallback is not requestable", SearchRequest{Query: "x", Mode: types.SearchModeKeywordFallback}, types.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Search(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// racingStore deletes a ranked project between listing and resolution
type racingStore struct {
	Store
	deleted int64
}

func (r *racingStore) GetProjects(ctx context.Context, ids []int64) ([]*types.Project, error) {
	kept := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != r.deleted {
			kept = append(kept, id)
		}
	}
	return r.Store.GetProjects(ctx, kept)
}

func TestSearchSemantic_SkipsProjectsDeletedMidSearch(t *testing.T) {
	_, store, _, _ := setupTestSearcher(t, projectstore.Options{})

	entries, err := store.ListAllWithEmbeddings(context.Background())
	require.NoError(t, err)
	s := NewSearcher(&racingStore{Store: store, deleted: entries[0].ProjectID}, nil, nil)

	resp, err := s.SearchSemantic(context.Background(), "java development")
	require.NoError(t, err)
	assert.Len(t, resp.Results, 4)
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
	}
}

// failingStore reports a storage failure on listing
type failingStore struct {
	Store
}

func (failingStore) ListAllWithEmbeddings(ctx context.Context) ([]ranker.Entry, error) {
	return nil, types.ErrPersistence
}

func (failingStore) Embed(ctx context.Context, text string) (*embedder.Embedding, error) {
	return &embedder.Embedding{Vector: []float32{1}}, nil
}

func TestSearchSemantic_PersistenceErrorIsReturned(t *testing.T) {
	s := NewSearcher(failingStore{}, nil, nil)

	_, err := s.SearchSemantic(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrPersistence))
}
