package types

import "time"

// scoreTolerance absorbs float rounding in cosine scores
const scoreTolerance = 1e-6

// SearchMode identifies which path produced a result set
type SearchMode string

const (
	SearchModeSemantic        SearchMode = "semantic"         // Ranked by cosine similarity
	SearchModeKeyword         SearchMode = "keyword"          // Substring match, requested directly
	SearchModeKeywordFallback SearchMode = "keyword_fallback" // Substring match after a provider failure
)

// SearchResult is a single project in a result set
type SearchResult struct {
	Project *Project
	Rank    int     // Position in result set (1-based)
	Score   float64 // Cosine similarity for semantic results, 0 for keyword results
}

// SearchResponse has the same shape for every mode so callers can ignore
// the difference between semantic and fallback results if they want to.
type SearchResponse struct {
	Results        []SearchResult
	TotalResults   int
	Mode           SearchMode
	FallbackReason string // Set only when Mode is SearchModeKeywordFallback
	Duration       time.Duration
}

// Projects returns the projects in result order
func (r *SearchResponse) Projects() []*Project {
	out := make([]*Project, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Project
	}
	return out
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.Project == nil || sr.Project.ID <= 0 {
		return ErrInvalidID
	}
	if sr.Rank < 1 {
		return ErrInvalidRank
	}
	if sr.Score < -1-scoreTolerance || sr.Score > 1+scoreTolerance {
		return ErrInvalidRelevanceScore
	}
	return nil
}
