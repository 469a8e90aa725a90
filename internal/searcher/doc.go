// Package searcher answers free-text queries against the project store.
//
// Two modes are supported:
//   - semantic: embed the query, score every embedded project by cosine
//     similarity, and return projects in descending score order (ties by
//     ascending id)
//   - keyword: case-insensitive substring match over title, description,
//     and tags, in ascending id order
//
// # Basic Usage
//
//	s := searcher.NewSearcher(store, logger, metrics)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query: "web development",
//	    Mode:  types.SearchModeSemantic,
//	    Limit: 10,
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %s (score: %.3f)\n", r.Rank, r.Project.Title, r.Score)
//	}
//
// # Fallback
//
// When the embedding provider fails or the query deadline expires, a
// semantic request is answered with keyword results instead of an error.
// The response then has Mode == types.SearchModeKeywordFallback and a
// FallbackReason of "provider_error" or "deadline_exceeded". A caller that
// cancels its context gets the cancellation error back.
//
// Degraded projects (stored without an embedding) never appear in semantic
// results but are always found by keyword search.
package searcher
