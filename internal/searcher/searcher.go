package searcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/projectsearch/internal/embedder"
	"github.com/dshills/projectsearch/internal/metrics"
	"github.com/dshills/projectsearch/internal/ranker"
	"github.com/dshills/projectsearch/pkg/types"
)

// Fallback reasons reported in SearchResponse.FallbackReason
const (
	FallbackProviderError = "provider_error"
	FallbackDeadline      = "deadline_exceeded"
)

// Store is the part of the project store the searcher reads from
type Store interface {
	Embed(ctx context.Context, text string) (*embedder.Embedding, error)
	ListAllWithEmbeddings(ctx context.Context) ([]ranker.Entry, error)
	GetProjects(ctx context.Context, ids []int64) ([]*types.Project, error)
	GetProjectsByKeyword(ctx context.Context, keyword string) ([]*types.Project, error)
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query string
	Mode  types.SearchMode // Empty selects semantic
	Limit int              // 0 returns every match
}

// Searcher answers semantic and keyword queries. It keeps no state between
// calls; the query embedding cache lives in the embedder.
type Searcher struct {
	store   Store
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewSearcher creates a new Searcher instance
func NewSearcher(store Store, logger *zap.Logger, m *metrics.Metrics) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{
		store:   store,
		logger:  logger,
		metrics: m,
	}
}

// Search dispatches on req.Mode
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*types.SearchResponse, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	startTime := time.Now()
	var response *types.SearchResponse
	var err error

	switch req.Mode {
	case types.SearchModeSemantic:
		response, err = s.semanticSearch(ctx, req)
	case types.SearchModeKeyword:
		response, err = s.keywordSearch(ctx, req, types.SearchModeKeyword)
	}
	if err != nil {
		return nil, err
	}

	response.Duration = time.Since(startTime)
	s.metrics.RecordSearch(string(req.Mode), string(response.Mode), response.Duration)
	s.logger.Debug("search completed",
		zap.String("requested_mode", string(req.Mode)),
		zap.String("mode", string(response.Mode)),
		zap.Int("results", response.TotalResults),
		zap.Duration("duration", response.Duration))
	return response, nil
}

// SearchSemantic ranks every embedded project against query
func (s *Searcher) SearchSemantic(ctx context.Context, query string) (*types.SearchResponse, error) {
	return s.Search(ctx, SearchRequest{Query: query, Mode: types.SearchModeSemantic})
}

// SearchKeyword returns substring matches in ascending id order
func (s *Searcher) SearchKeyword(ctx context.Context, keyword string) (*types.SearchResponse, error) {
	return s.Search(ctx, SearchRequest{Query: keyword, Mode: types.SearchModeKeyword})
}

// semanticSearch embeds the query, ranks the corpus, and resolves ids in
// rank order. Provider failures fall back to keyword search.
func (s *Searcher) semanticSearch(ctx context.Context, req SearchRequest) (*types.SearchResponse, error) {
	emb, err := s.store.Embed(ctx, req.Query)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return s.fallback(ctx, req, err)
	}

	entries, err := s.store.ListAllWithEmbeddings(ctx)
	if err != nil {
		return nil, err
	}

	scored := ranker.TopK(ranker.Rank(emb.Vector, entries), req.Limit)
	ids := make([]int64, len(scored))
	scores := make(map[int64]float64, len(scored))
	for i, sc := range scored {
		ids[i] = sc.ProjectID
		scores[sc.ProjectID] = sc.Score
	}

	// Projects deleted since the listing are skipped by GetProjects
	projects, err := s.store.GetProjects(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, len(projects))
	for i, p := range projects {
		results[i] = types.SearchResult{
			Project: p,
			Rank:    i + 1,
			Score:   scores[p.ID],
		}
	}

	return &types.SearchResponse{
		Results:      results,
		TotalResults: len(results),
		Mode:         types.SearchModeSemantic,
	}, nil
}

// fallback answers a semantic request with keyword search. An expired
// deadline is detached so the keyword lookup can still run.
func (s *Searcher) fallback(ctx context.Context, req SearchRequest, cause error) (*types.SearchResponse, error) {
	reason := FallbackProviderError
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = FallbackDeadline
	}
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}

	s.metrics.RecordProviderFailure("search")
	s.logger.Warn("semantic search unavailable, falling back to keyword search",
		zap.String("reason", reason),
		zap.Error(cause))

	response, err := s.keywordSearch(ctx, req, types.SearchModeKeywordFallback)
	if err != nil {
		return nil, err
	}
	response.FallbackReason = reason
	return response, nil
}

func (s *Searcher) keywordSearch(ctx context.Context, req SearchRequest, mode types.SearchMode) (*types.SearchResponse, error) {
	projects, err := s.store.GetProjectsByKeyword(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(projects) > req.Limit {
		projects = projects[:req.Limit]
	}

	results := make([]types.SearchResult, len(projects))
	for i, p := range projects {
		results[i] = types.SearchResult{Project: p, Rank: i + 1}
	}

	return &types.SearchResponse{
		Results:      results,
		TotalResults: len(results),
		Mode:         mode,
	}, nil
}

// validateRequest ensures search request is valid
func validateRequest(req *SearchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return types.ErrEmptyQuery
	}
	if req.Limit < 0 {
		return fmt.Errorf("%w: limit must be >= 0", types.ErrValidation)
	}
	switch req.Mode {
	case "":
		req.Mode = types.SearchModeSemantic
	case types.SearchModeSemantic, types.SearchModeKeyword:
	default:
		return fmt.Errorf("%w: unsupported search mode: %s", types.ErrValidation, req.Mode)
	}
	return nil
}
