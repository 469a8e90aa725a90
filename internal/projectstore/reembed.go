package projectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/projectsearch/internal/embedder"
	"github.com/dshills/projectsearch/internal/storage"
)

// Pending is a project whose embedding needs to be (re)computed
type Pending struct {
	ID          int64
	Description string
}

// ListProjectsNeedingEmbedding returns degraded projects and projects whose
// vector does not have the configured dimension. With all set it returns
// every project.
func (s *Store) ListProjectsNeedingEmbedding(ctx context.Context, all bool) ([]Pending, error) {
	filter := storage.ListFilter{MissingEmbedding: !all, Dimension: s.Dimension()}

	var pending []Pending
	err := s.storage.View(ctx, func(r storage.Reader) error {
		ids, err := r.ListProjectIDs(ctx, filter)
		if err != nil {
			return err
		}
		pending = make([]Pending, 0, len(ids))
		for _, id := range ids {
			rec, err := r.GetProject(ctx, id)
			if err != nil {
				return err
			}
			pending = append(pending, Pending{ID: id, Description: rec.Description})
		}
		return nil
	})
	if err != nil {
		return nil, s.wrapErr(err, 0)
	}
	return pending, nil
}

// SetEmbedding stores emb for a project if its description still equals
// expected. It reports false when the project changed or disappeared in the
// meantime. A nil emb removes the embedding.
func (s *Store) SetEmbedding(ctx context.Context, id int64, expected string, emb *embedder.Embedding) (bool, error) {
	applied := false
	txCtx := context.WithoutCancel(ctx)
	err := s.storage.WithTx(txCtx, func(tx storage.Tx) error {
		rec, err := tx.GetProject(txCtx, id)
		if err != nil {
			return err
		}
		if rec.Description != expected {
			return nil
		}
		applied = true
		if emb == nil {
			return tx.DeleteEmbedding(txCtx, id)
		}
		return tx.UpsertEmbedding(txCtx, &storage.Embedding{
			ProjectID: id,
			Vector:    emb.Vector,
			Provider:  emb.Provider,
			Model:     emb.Model,
		})
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, s.wrapErr(err, id)
	}
	return applied, nil
}

// EmbedBatch embeds texts in one provider call bounded by the embed timeout
func (s *Store) EmbedBatch(ctx context.Context, texts []string) (*embedder.BatchEmbeddingResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", embedder.ErrProviderFailed, len(resp.Embeddings), len(texts))
	}
	return resp, nil
}
