package types

import "errors"

// Error taxonomy shared by the store, searcher, and transports.
// Callers classify failures with errors.Is.
var (
	// ErrValidation covers empty titles, negative budgets, and malformed tags.
	// It is always returned before any write happens.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a project id does not exist
	ErrNotFound = errors.New("project not found")

	// ErrPersistence wraps storage-layer failures. The transaction has been
	// rolled back by the time the caller sees it.
	ErrPersistence = errors.New("persistence failure")

	// ErrProviderUnavailable means the embedding call failed or timed out
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrEmptyQuery is returned for blank search text
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrForbidden is returned when the editor is not allowed to mutate a project
	ErrForbidden = errors.New("editor is not permitted to modify project")
)

// Validation detail errors, always wrapped together with ErrValidation
var (
	ErrEmptyTitle      = errors.New("title cannot be empty")
	ErrNegativeBudget  = errors.New("budget must be >= 0")
	ErrInvalidBudget   = errors.New("budget must be a finite number")
	ErrMalformedTag    = errors.New("malformed tag")
	ErrInvalidID       = errors.New("invalid project ID")
	ErrDimensionChange = errors.New("embedding dimension does not match configured dimension")
)

// Search result errors
var (
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between -1 and 1")
)
