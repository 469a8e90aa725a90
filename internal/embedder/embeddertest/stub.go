// Package embeddertest provides a controllable embedder for tests.
package embeddertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dshills/projectsearch/internal/embedder"
)

// ErrStubFailure is returned while a Stub is failing
var ErrStubFailure = errors.New("stub provider failure")

// Stub wraps the local hashed bag-of-words provider and can be switched
// into failing, blocking, or wrong-dimension modes.
type Stub struct {
	local *embedder.LocalProvider

	mu       sync.Mutex
	failing  bool
	blocking bool
	override int
	onCall   func(text string)

	calls atomic.Int64
}

// NewStub creates a Stub of the given dimension
func NewStub(dimension int) *Stub {
	local, _ := embedder.NewLocalProvider(dimension, nil)
	return &Stub{local: local}
}

// SetFailing makes every call return ErrStubFailure
func (s *Stub) SetFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

// OnCall registers fn to run at the start of every GenerateEmbedding call.
// Nil removes the hook.
func (s *Stub) OnCall(fn func(text string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCall = fn
}

// SetBlocking makes every call wait for its context to end
func (s *Stub) SetBlocking(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocking = v
}

// SetVectorDimension makes calls return vectors of dim elements while still
// reporting the original Dimension. Zero restores normal behavior.
func (s *Stub) SetVectorDimension(dim int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = dim
}

// Calls is the number of provider calls made so far
func (s *Stub) Calls() int64 {
	return s.calls.Load()
}

func (s *Stub) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	s.calls.Add(1)

	s.mu.Lock()
	failing, blocking, override, onCall := s.failing, s.blocking, s.override, s.onCall
	s.mu.Unlock()

	if onCall != nil {
		onCall(req.Text)
	}

	if blocking {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if failing {
		return nil, ErrStubFailure
	}
	if override > 0 {
		return &embedder.Embedding{
			Vector:    embedder.HashedBagOfWords(req.Text, override),
			Dimension: override,
			Provider:  s.Provider(),
			Model:     s.Model(),
		}, nil
	}
	return s.local.GenerateEmbedding(ctx, req)
}

func (s *Stub) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	if err := embedder.ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	embeddings := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := s.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return &embedder.BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   s.Provider(),
		Model:      s.Model(),
	}, nil
}

func (s *Stub) Dimension() int   { return s.local.Dimension() }
func (s *Stub) Provider() string { return "stub" }
func (s *Stub) Model() string    { return s.local.Model() }
func (s *Stub) Close() error     { return nil }
