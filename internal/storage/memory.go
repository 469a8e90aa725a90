package storage

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// memoryState is one consistent snapshot of the in-memory store
type memoryState struct {
	nextID     int64
	projects   map[int64]*ProjectRecord
	tags       map[int64]map[string]struct{}
	embeddings map[int64]*Embedding
}

func (st *memoryState) clone() *memoryState {
	c := &memoryState{
		nextID:     st.nextID,
		projects:   maps.Clone(st.projects),
		tags:       make(map[int64]map[string]struct{}, len(st.tags)),
		embeddings: maps.Clone(st.embeddings),
	}
	for id, set := range st.tags {
		c.tags[id] = maps.Clone(set)
	}
	return c
}

// MemoryStorage is a process-local Storage. Write transactions run against a
// private copy of the state and swap it in on commit, so a failed transaction
// leaves nothing behind. Stored records are never mutated in place.
type MemoryStorage struct {
	mu    sync.RWMutex
	state *memoryState
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Tx      = (*memoryTx)(nil)
)

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		state: &memoryState{
			nextID:     1,
			projects:   make(map[int64]*ProjectRecord),
			tags:       make(map[int64]map[string]struct{}),
			embeddings: make(map[int64]*Embedding),
		},
	}
}

// Backend returns "memory"
func (m *MemoryStorage) Backend() string {
	return "memory"
}

// Close is a no-op
func (m *MemoryStorage) Close() error {
	return nil
}

// WithTx serializes writers behind the store lock
func (m *MemoryStorage) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{state: m.state.clone()}
	err := fn(tx)
	tx.done = true
	if err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

// View reads from the state committed when it starts
func (m *MemoryStorage) View(ctx context.Context, fn func(r Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{state: m.snapshot(), readOnly: true}
	err := fn(tx)
	tx.done = true
	return err
}

func (m *MemoryStorage) snapshot() *memoryState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *MemoryStorage) GetProject(ctx context.Context, id int64) (*ProjectRecord, error) {
	return m.snapshot().getProject(id)
}

func (m *MemoryStorage) ListProjectIDs(ctx context.Context, filter ListFilter) ([]int64, error) {
	return m.snapshot().listProjectIDs(filter), nil
}

func (m *MemoryStorage) ListTags(ctx context.Context, projectID int64) ([]string, error) {
	return m.snapshot().listTags(projectID), nil
}

func (m *MemoryStorage) GetEmbedding(ctx context.Context, projectID int64) (*Embedding, error) {
	return m.snapshot().getEmbedding(projectID)
}

func (m *MemoryStorage) ListEmbeddings(ctx context.Context) ([]*Embedding, error) {
	return m.snapshot().listEmbeddings(), nil
}

func (m *MemoryStorage) SearchKeyword(ctx context.Context, keyword string) ([]int64, error) {
	return m.snapshot().searchKeyword(keyword), nil
}

func (m *MemoryStorage) Status(ctx context.Context) (*Status, error) {
	status := m.snapshot().status()
	status.Backend = m.Backend()
	return status, nil
}

// snapshot reads; a committed state is never mutated after the swap

func (st *memoryState) getProject(id int64) (*ProjectRecord, error) {
	rec, ok := st.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (st *memoryState) sortedIDs() []int64 {
	return slices.Sorted(maps.Keys(st.projects))
}

func (st *memoryState) listProjectIDs(filter ListFilter) []int64 {
	ids := make([]int64, 0, len(st.projects))
	for _, id := range st.sortedIDs() {
		if filter.Matches(st.embeddings[id]) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (st *memoryState) listTags(projectID int64) []string {
	set := st.tags[projectID]
	if len(set) == 0 {
		return []string{}
	}
	return slices.Sorted(maps.Keys(set))
}

func (st *memoryState) getEmbedding(projectID int64) (*Embedding, error) {
	emb, ok := st.embeddings[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	return emb.Clone(), nil
}

func (st *memoryState) listEmbeddings() []*Embedding {
	ids := slices.Sorted(maps.Keys(st.embeddings))
	out := make([]*Embedding, 0, len(ids))
	for _, id := range ids {
		out = append(out, st.embeddings[id].Clone())
	}
	return out
}

func (st *memoryState) searchKeyword(keyword string) []int64 {
	pattern := KeywordPattern(keyword)
	ids := make([]int64, 0)
	if pattern == "" {
		return ids
	}
	for _, id := range st.sortedIDs() {
		if MatchesKeyword(pattern, st.projects[id], st.listTags(id)) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (st *memoryState) status() *Status {
	status := &Status{
		Projects:        len(st.projects),
		Embeddings:      len(st.embeddings),
		DimensionCounts: make(map[int]int),
	}
	for id := range st.projects {
		status.Tags += len(st.tags[id])
		if _, ok := st.embeddings[id]; !ok {
			status.DegradedCount++
		}
	}
	for _, emb := range st.embeddings {
		status.DimensionCounts[emb.Dimension]++
	}
	return status
}

// memoryTx works on a private state copy owned by one WithTx call
type memoryTx struct {
	state    *memoryState
	done     bool
	readOnly bool
}

func (t *memoryTx) check() error {
	if t.done {
		return ErrTxDone
	}
	return nil
}

func (t *memoryTx) checkWrite() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return t.check()
}

func (t *memoryTx) GetProject(ctx context.Context, id int64) (*ProjectRecord, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.state.getProject(id)
}

func (t *memoryTx) ListProjectIDs(ctx context.Context, filter ListFilter) ([]int64, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.state.listProjectIDs(filter), nil
}

func (t *memoryTx) ListTags(ctx context.Context, projectID int64) ([]string, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.state.listTags(projectID), nil
}

func (t *memoryTx) GetEmbedding(ctx context.Context, projectID int64) (*Embedding, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.state.getEmbedding(projectID)
}

func (t *memoryTx) ListEmbeddings(ctx context.Context) ([]*Embedding, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.state.listEmbeddings(), nil
}

func (t *memoryTx) SearchKeyword(ctx context.Context, keyword string) ([]int64, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.state.searchKeyword(keyword), nil
}

func (t *memoryTx) Status(ctx context.Context) (*Status, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	status := t.state.status()
	status.Backend = "memory"
	return status, nil
}

func (t *memoryTx) InsertProject(ctx context.Context, project *ProjectRecord) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	now := time.Now().UTC()
	project.ID = t.state.nextID
	project.CreatedAt = now
	project.UpdatedAt = now
	t.state.nextID++
	t.state.projects[project.ID] = project.Clone()
	return nil
}

func (t *memoryTx) UpdateProject(ctx context.Context, project *ProjectRecord) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	existing, ok := t.state.projects[project.ID]
	if !ok {
		return ErrNotFound
	}
	updated := existing.Clone()
	updated.Title = project.Title
	updated.Budget = project.Budget
	updated.Description = project.Description
	updated.UpdatedAt = time.Now().UTC()
	t.state.projects[project.ID] = updated
	project.UpdatedAt = updated.UpdatedAt
	return nil
}

func (t *memoryTx) DeleteProject(ctx context.Context, id int64) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.projects[id]; !ok {
		return ErrNotFound
	}
	delete(t.state.projects, id)
	delete(t.state.tags, id)
	delete(t.state.embeddings, id)
	return nil
}

func (t *memoryTx) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.projects[embedding.ProjectID]; !ok {
		return ErrNotFound
	}
	embedding.Dimension = len(embedding.Vector)
	embedding.CreatedAt = time.Now().UTC()
	t.state.embeddings[embedding.ProjectID] = embedding.Clone()
	return nil
}

func (t *memoryTx) DeleteEmbedding(ctx context.Context, projectID int64) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	delete(t.state.embeddings, projectID)
	return nil
}

func (t *memoryTx) AddTags(ctx context.Context, projectID int64, tags []string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.projects[projectID]; !ok {
		return ErrNotFound
	}
	set := t.state.tags[projectID]
	if set == nil {
		set = make(map[string]struct{}, len(tags))
		t.state.tags[projectID] = set
	}
	for _, tag := range tags {
		set[tag] = struct{}{}
	}
	return nil
}

func (t *memoryTx) RemoveTags(ctx context.Context, projectID int64, tags []string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.projects[projectID]; !ok {
		return ErrNotFound
	}
	set := t.state.tags[projectID]
	for _, tag := range tags {
		delete(set, tag)
	}
	if len(set) == 0 {
		delete(t.state.tags, projectID)
	}
	return nil
}
