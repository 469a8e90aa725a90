package storage

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a requested row doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrTxDone is returned when a Tx is used after its callback returned
	ErrTxDone = errors.New("transaction already finished")
	// ErrReadOnly is returned for writes attempted inside View
	ErrReadOnly = errors.New("read-only transaction")
)

// Reader is the read side shared by a Storage and an open transaction
type Reader interface {
	// Project operations
	GetProject(ctx context.Context, id int64) (*ProjectRecord, error)
	ListProjectIDs(ctx context.Context, filter ListFilter) ([]int64, error)

	// Tag operations
	ListTags(ctx context.Context, projectID int64) ([]string, error)

	// Embedding operations
	GetEmbedding(ctx context.Context, projectID int64) (*Embedding, error)
	ListEmbeddings(ctx context.Context) ([]*Embedding, error)

	// Search operations
	SearchKeyword(ctx context.Context, keyword string) ([]int64, error)

	// Status operations
	Status(ctx context.Context) (*Status, error)
}

// Writer mutates the store. Writer methods are only reachable through WithTx.
type Writer interface {
	InsertProject(ctx context.Context, project *ProjectRecord) error
	UpdateProject(ctx context.Context, project *ProjectRecord) error
	DeleteProject(ctx context.Context, id int64) error

	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
	DeleteEmbedding(ctx context.Context, projectID int64) error

	AddTags(ctx context.Context, projectID int64, tags []string) error
	RemoveTags(ctx context.Context, projectID int64, tags []string) error
}

// Tx represents an open read-write transaction
type Tx interface {
	Reader
	Writer
}

// Storage defines the interface for persisting projects, their tags, and their embeddings
type Storage interface {
	Reader

	// WithTx runs fn inside a single read-write transaction. The transaction
	// commits when fn returns nil and rolls back otherwise. Callers that must
	// not observe cancellation pass a context.WithoutCancel context.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn against one consistent read-only snapshot
	View(ctx context.Context, fn func(r Reader) error) error

	// Backend names the implementation (sqlite, badger, memory)
	Backend() string

	Close() error
}

// ProjectRecord is the stored row of a project, without tags or embedding
type ProjectRecord struct {
	ID          int64
	Title       string
	Budget      float64
	Description string
	OwnerID     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a copy of the record
func (r *ProjectRecord) Clone() *ProjectRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Embedding is the stored vector for a project
type Embedding struct {
	ProjectID int64
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// Clone returns a deep copy of the embedding
func (e *Embedding) Clone() *Embedding {
	if e == nil {
		return nil
	}
	c := *e
	c.Vector = slices.Clone(e.Vector)
	return &c
}

// ListFilter narrows ListProjectIDs
type ListFilter struct {
	// MissingEmbedding keeps only projects that need a (new) embedding
	MissingEmbedding bool
	// Dimension, when > 0 together with MissingEmbedding, also keeps projects
	// whose stored embedding has a different dimension
	Dimension int
}

// Matches reports whether a project with the given embedding (nil when degraded) passes the filter
func (f ListFilter) Matches(emb *Embedding) bool {
	if !f.MissingEmbedding {
		return true
	}
	if emb == nil {
		return true
	}
	return f.Dimension > 0 && emb.Dimension != f.Dimension
}

// Status reports store-wide counters
type Status struct {
	Backend         string
	SchemaVersion   string
	Projects        int
	Embeddings      int
	Tags            int
	DegradedCount   int
	DimensionCounts map[int]int
	SizeBytes       int64
}

// KeywordPattern lowercases keyword for case-insensitive substring matching
func KeywordPattern(keyword string) string {
	return strings.ToLower(strings.TrimSpace(keyword))
}

// MatchesKeyword reports whether pattern (already passed through KeywordPattern)
// is a case-insensitive substring of the title, the description, or any tag.
func MatchesKeyword(pattern string, rec *ProjectRecord, tags []string) bool {
	if pattern == "" {
		return false
	}
	if strings.Contains(strings.ToLower(rec.Title), pattern) ||
		strings.Contains(strings.ToLower(rec.Description), pattern) {
		return true
	}
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), pattern) {
			return true
		}
	}
	return false
}
