// Package projectstore is the transactional project store. It validates
// input, computes description embeddings outside the transaction, and then
// commits the project row, its tag set, and its embedding atomically.
package projectstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/projectsearch/internal/embedder"
	"github.com/dshills/projectsearch/internal/metrics"
	"github.com/dshills/projectsearch/internal/ranker"
	"github.com/dshills/projectsearch/internal/storage"
	"github.com/dshills/projectsearch/pkg/types"
)

// EmbeddingPolicy decides what a write does when the provider fails
type EmbeddingPolicy string

const (
	// PolicyDegrade stores the project without an embedding
	PolicyDegrade EmbeddingPolicy = "degrade"
	// PolicyRequire fails the write with types.ErrProviderUnavailable
	PolicyRequire EmbeddingPolicy = "require"
)

// EditorPolicy decides who may edit a project
type EditorPolicy string

const (
	// EditorOwner only lets the owner edit
	EditorOwner EditorPolicy = "owner"
	// EditorAny lets anyone edit; foreign edits are logged
	EditorAny EditorPolicy = "any"
)

const (
	// DefaultEmbedTimeout bounds a single provider call
	DefaultEmbedTimeout = 10 * time.Second

	// maxEditAttempts bounds optimistic retries when a concurrent edit
	// changes the description between the read and the commit
	maxEditAttempts = 3
)

var errConcurrentEdit = errors.New("description changed concurrently")

// Options configures a Store
type Options struct {
	EmbeddingPolicy EmbeddingPolicy
	EditorPolicy    EditorPolicy
	EmbedTimeout    time.Duration
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
}

// Store implements project persistence on top of a storage backend
type Store struct {
	storage  storage.Storage
	embedder embedder.Embedder
	policy   EmbeddingPolicy
	editors  EditorPolicy
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New creates a Store. Zero-valued options select degrade, owner-only
// editing, and DefaultEmbedTimeout.
func New(st storage.Storage, emb embedder.Embedder, opts Options) *Store {
	if opts.EmbeddingPolicy == "" {
		opts.EmbeddingPolicy = PolicyDegrade
	}
	if opts.EditorPolicy == "" {
		opts.EditorPolicy = EditorOwner
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = DefaultEmbedTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{
		storage:  st,
		embedder: emb,
		policy:   opts.EmbeddingPolicy,
		editors:  opts.EditorPolicy,
		timeout:  opts.EmbedTimeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Dimension is the embedding dimension every stored vector must have
func (s *Store) Dimension() int {
	return s.embedder.Dimension()
}

// CreateProject validates the input, embeds the description, and inserts
// the project with its tags and embedding in one transaction.
func (s *Store) CreateProject(ctx context.Context, in types.ProjectInput) (*types.Project, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	emb, err := s.embedForWrite(ctx, in.Description, "create")
	if err != nil {
		return nil, err
	}

	rec := &storage.ProjectRecord{
		Title:       in.Title,
		Budget:      in.Budget,
		Description: in.Description,
		OwnerID:     in.OwnerID,
	}

	txCtx := context.WithoutCancel(ctx)
	err = s.storage.WithTx(txCtx, func(tx storage.Tx) error {
		if err := tx.InsertProject(txCtx, rec); err != nil {
			return err
		}
		if len(in.Tags) > 0 {
			if err := tx.AddTags(txCtx, rec.ID, in.Tags); err != nil {
				return err
			}
		}
		if emb != nil {
			return tx.UpsertEmbedding(txCtx, &storage.Embedding{
				ProjectID: rec.ID,
				Vector:    emb.Vector,
				Provider:  emb.Provider,
				Model:     emb.Model,
			})
		}
		return nil
	})
	if err != nil {
		return nil, s.wrapErr(err, 0)
	}

	project := assemble(rec, in.Tags, emb)
	if emb == nil {
		s.metrics.RecordDegradedWrite()
	}
	s.logger.Info("project created",
		zap.Int64("project_id", project.ID),
		zap.Int("tags", len(project.Tags)),
		zap.Bool("embedded", project.HasEmbedding()))
	return project, nil
}

// EditProject replaces title, budget, description, and tag set. The
// embedding is recomputed only when the description changes.
func (s *Store) EditProject(ctx context.Context, id int64, in types.EditInput) (*types.Project, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return s.edit(ctx, id, false, func(*storage.ProjectRecord, []string) (types.EditInput, error) {
		return in, nil
	})
}

// PatchProject changes only the fields set in patch. The merge is made
// against the state the edit transaction commits over, so fields left out
// of the patch never overwrite a concurrent edit.
func (s *Store) PatchProject(ctx context.Context, id int64, patch types.ProjectPatch) (*types.Project, error) {
	return s.edit(ctx, id, true, func(rec *storage.ProjectRecord, tags []string) (types.EditInput, error) {
		in := patch.Apply(rec.Title, rec.Budget, rec.Description, tags)
		if err := in.Validate(); err != nil {
			return in, err
		}
		return in, nil
	})
}

// resolveFunc builds the edit from the project state read before the transaction
type resolveFunc func(rec *storage.ProjectRecord, tags []string) (types.EditInput, error)

// edit retries editOnce while a concurrent write invalidates what it read.
// With strict set any field change counts; otherwise only the description.
func (s *Store) edit(ctx context.Context, id int64, strict bool, resolve resolveFunc) (*types.Project, error) {
	var err error
	for attempt := 0; attempt < maxEditAttempts; attempt++ {
		var project *types.Project
		project, err = s.editOnce(ctx, id, strict, resolve)
		if !errors.Is(err, errConcurrentEdit) {
			return project, err
		}
		s.logger.Debug("concurrent change, retrying edit",
			zap.Int64("project_id", id), zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("%w: project %d: %w", types.ErrPersistence, id, err)
}

func (s *Store) editOnce(ctx context.Context, id int64, strict bool, resolve resolveFunc) (*types.Project, error) {
	var current *storage.ProjectRecord
	var currentTags []string
	err := s.storage.View(ctx, func(r storage.Reader) error {
		var err error
		if current, err = r.GetProject(ctx, id); err != nil {
			return err
		}
		currentTags, err = r.ListTags(ctx, id)
		return err
	})
	if err != nil {
		return nil, s.wrapErr(err, id)
	}
	in, err := resolve(current, currentTags)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(current, in.EditorID); err != nil {
		return nil, err
	}

	descChanged := in.Description != current.Description
	var emb *embedder.Embedding
	if descChanged {
		if emb, err = s.embedForWrite(ctx, in.Description, "edit"); err != nil {
			return nil, err
		}
	}

	rec := &storage.ProjectRecord{
		ID:          id,
		Title:       in.Title,
		Budget:      in.Budget,
		Description: in.Description,
		OwnerID:     current.OwnerID,
		CreatedAt:   current.CreatedAt,
	}
	var stored *storage.Embedding

	txCtx := context.WithoutCancel(ctx)
	err = s.storage.WithTx(txCtx, func(tx storage.Tx) error {
		latest, err := tx.GetProject(txCtx, id)
		if err != nil {
			return err
		}
		if latest.Description != current.Description {
			return errConcurrentEdit
		}

		latestTags, err := tx.ListTags(txCtx, id)
		if err != nil {
			return err
		}
		if strict && (latest.Title != current.Title || latest.Budget != current.Budget ||
			!slices.Equal(latestTags, currentTags)) {
			return errConcurrentEdit
		}
		add, remove := types.DiffTags(latestTags, in.Tags)
		if len(add) > 0 {
			if err := tx.AddTags(txCtx, id, add); err != nil {
				return err
			}
		}
		if len(remove) > 0 {
			if err := tx.RemoveTags(txCtx, id, remove); err != nil {
				return err
			}
		}

		if err := tx.UpdateProject(txCtx, rec); err != nil {
			return err
		}

		if descChanged {
			if emb == nil {
				// A stale vector would rank the new description by the old text
				return tx.DeleteEmbedding(txCtx, id)
			}
			stored = &storage.Embedding{
				ProjectID: id,
				Vector:    emb.Vector,
				Provider:  emb.Provider,
				Model:     emb.Model,
			}
			return tx.UpsertEmbedding(txCtx, stored)
		}

		stored, err = tx.GetEmbedding(txCtx, id)
		if errors.Is(err, storage.ErrNotFound) {
			stored = nil
			return nil
		}
		return err
	})
	if err != nil {
		if errors.Is(err, errConcurrentEdit) {
			return nil, err
		}
		return nil, s.wrapErr(err, id)
	}

	project := assemble(rec, in.Tags, nil)
	if stored != nil {
		project.Embedding = append([]float32(nil), stored.Vector...)
	}
	if descChanged && emb == nil {
		s.metrics.RecordDegradedWrite()
	}
	s.logger.Info("project edited",
		zap.Int64("project_id", id),
		zap.Int64("editor_id", in.EditorID),
		zap.Bool("description_changed", descChanged),
		zap.Bool("embedded", project.HasEmbedding()))
	return project, nil
}

// authorize applies the editor policy
func (s *Store) authorize(rec *storage.ProjectRecord, editorID int64) error {
	if editorID == rec.OwnerID {
		return nil
	}
	if s.editors == EditorAny {
		s.logger.Warn("project edited by non-owner",
			zap.Int64("project_id", rec.ID),
			zap.Int64("owner_id", rec.OwnerID),
			zap.Int64("editor_id", editorID))
		return nil
	}
	return fmt.Errorf("%w: editor %d on project %d", types.ErrForbidden, editorID, rec.ID)
}

// DeleteProject removes the project, its embedding, and its tags atomically
func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	txCtx := context.WithoutCancel(ctx)
	err := s.storage.WithTx(txCtx, func(tx storage.Tx) error {
		return tx.DeleteProject(txCtx, id)
	})
	if err != nil {
		return s.wrapErr(err, id)
	}
	s.logger.Info("project deleted", zap.Int64("project_id", id))
	return nil
}

// GetProjectByID returns a project with its tags and embedding
func (s *Store) GetProjectByID(ctx context.Context, id int64) (*types.Project, error) {
	var project *types.Project
	err := s.storage.View(ctx, func(r storage.Reader) error {
		var err error
		project, err = load(ctx, r, id)
		return err
	})
	if err != nil {
		return nil, s.wrapErr(err, id)
	}
	return project, nil
}

// GetProjects resolves ids in order from one snapshot, skipping ids that no
// longer exist.
func (s *Store) GetProjects(ctx context.Context, ids []int64) ([]*types.Project, error) {
	projects := make([]*types.Project, 0, len(ids))
	err := s.storage.View(ctx, func(r storage.Reader) error {
		for _, id := range ids {
			p, err := load(ctx, r, id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			projects = append(projects, p)
		}
		return nil
	})
	if err != nil {
		return nil, s.wrapErr(err, 0)
	}
	return projects, nil
}

// AddTags adds tags to a project. Tags already present are ignored.
func (s *Store) AddTags(ctx context.Context, id int64, tags []string) error {
	normalized, err := types.NormalizeTags(tags)
	if err != nil {
		return err
	}
	txCtx := context.WithoutCancel(ctx)
	err = s.storage.WithTx(txCtx, func(tx storage.Tx) error {
		return tx.AddTags(txCtx, id, normalized)
	})
	return s.wrapErr(err, id)
}

// RemoveTags removes tags from a project. Tags not present are ignored.
func (s *Store) RemoveTags(ctx context.Context, id int64, tags []string) error {
	normalized, err := types.NormalizeTags(tags)
	if err != nil {
		return err
	}
	txCtx := context.WithoutCancel(ctx)
	err = s.storage.WithTx(txCtx, func(tx storage.Tx) error {
		return tx.RemoveTags(txCtx, id, normalized)
	})
	return s.wrapErr(err, id)
}

// GetProjectsByKeyword returns projects whose title, description, or any
// tag contains keyword, case-insensitively, in ascending id order.
func (s *Store) GetProjectsByKeyword(ctx context.Context, keyword string) ([]*types.Project, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, types.ErrEmptyQuery
	}

	var projects []*types.Project
	err := s.storage.View(ctx, func(r storage.Reader) error {
		ids, err := r.SearchKeyword(ctx, keyword)
		if err != nil {
			return err
		}
		projects = make([]*types.Project, 0, len(ids))
		for _, id := range ids {
			p, err := load(ctx, r, id)
			if err != nil {
				return err
			}
			projects = append(projects, p)
		}
		return nil
	})
	if err != nil {
		return nil, s.wrapErr(err, 0)
	}
	return projects, nil
}

// ListAllWithEmbeddings returns every (id, vector) pair of the configured
// dimension. Degraded projects and vectors of another dimension are left out.
func (s *Store) ListAllWithEmbeddings(ctx context.Context) ([]ranker.Entry, error) {
	embs, err := s.storage.ListEmbeddings(ctx)
	if err != nil {
		return nil, s.wrapErr(err, 0)
	}

	dim := s.Dimension()
	entries := make([]ranker.Entry, 0, len(embs))
	skipped := 0
	for _, e := range embs {
		if len(e.Vector) != dim {
			skipped++
			continue
		}
		entries = append(entries, ranker.Entry{ProjectID: e.ProjectID, Vector: e.Vector})
	}
	if skipped > 0 {
		s.logger.Warn("embeddings with unexpected dimension ignored",
			zap.Int("skipped", skipped), zap.Int("dimension", dim))
	}
	return entries, nil
}

// Status reports store-wide counters
func (s *Store) Status(ctx context.Context) (*storage.Status, error) {
	status, err := s.storage.Status(ctx)
	if err != nil {
		return nil, s.wrapErr(err, 0)
	}
	return status, nil
}

// embedForWrite embeds text for a create or edit. A nil embedding with a
// nil error means the project is stored degraded.
func (s *Store) embedForWrite(ctx context.Context, text, operation string) (*embedder.Embedding, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	emb, err := s.Embed(ctx, text)
	if err == nil {
		return emb, nil
	}

	s.metrics.RecordProviderFailure(operation)
	if s.policy == PolicyRequire {
		return nil, fmt.Errorf("%w: %w", types.ErrProviderUnavailable, err)
	}
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, ctx.Err()
	}
	s.logger.Warn("embedding failed, storing project without embedding",
		zap.String("operation", operation), zap.Error(err))
	return nil, nil
}

// Embed calls the provider with the configured timeout and checks the
// vector dimension.
func (s *Store) Embed(ctx context.Context, text string) (*embedder.Embedding, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		return nil, err
	}
	if len(emb.Vector) != s.Dimension() {
		return nil, fmt.Errorf("%w: got %d, want %d", types.ErrDimensionChange, len(emb.Vector), s.Dimension())
	}
	return emb.Clone(), nil
}

// wrapErr maps storage errors onto the public taxonomy
func (s *Store) wrapErr(err error, id int64) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		if id > 0 {
			return fmt.Errorf("%w: id %d", types.ErrNotFound, id)
		}
		return types.ErrNotFound
	case errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrForbidden),
		errors.Is(err, types.ErrProviderUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		s.logger.Error("storage failure", zap.Int64("project_id", id), zap.Error(err))
		return fmt.Errorf("%w: %w", types.ErrPersistence, err)
	}
}

// load reads one project with tags and embedding from r
func load(ctx context.Context, r storage.Reader, id int64) (*types.Project, error) {
	rec, err := r.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	tags, err := r.ListTags(ctx, id)
	if err != nil {
		return nil, err
	}
	project := assemble(rec, tags, nil)

	emb, err := r.GetEmbedding(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		project.Embedding = emb.Vector
	}
	return project, nil
}

func assemble(rec *storage.ProjectRecord, tags []string, emb *embedder.Embedding) *types.Project {
	project := &types.Project{
		ID:          rec.ID,
		Title:       rec.Title,
		Budget:      rec.Budget,
		Description: rec.Description,
		Tags:        append([]string{}, tags...),
		OwnerID:     rec.OwnerID,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	if emb != nil {
		project.Embedding = append([]float32(nil), emb.Vector...)
	}
	return project
}
