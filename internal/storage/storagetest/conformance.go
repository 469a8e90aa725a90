// Package storagetest holds a behavioural test suite that every
// storage.Storage backend must pass.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/projectsearch/internal/storage"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Storage

var errBoom = errors.New("boom")

// Run executes the conformance suite against the backend built by newStore
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"InsertAndGet", testInsertAndGet},
		{"IDsNeverReused", testIDsNeverReused},
		{"UpdateProject", testUpdateProject},
		{"DeleteRemovesEverything", testDeleteRemovesEverything},
		{"NotFound", testNotFound},
		{"TagsIdempotent", testTagsIdempotent},
		{"TagsCaseSensitive", testTagsCaseSensitive},
		{"EmbeddingUpsert", testEmbeddingUpsert},
		{"EmbeddingIsCopied", testEmbeddingIsCopied},
		{"ListEmbeddingsOrdered", testListEmbeddingsOrdered},
		{"ListProjectIDsFilter", testListProjectIDsFilter},
		{"RollbackOnError", testRollbackOnError},
		{"TxSeesOwnWrites", testTxSeesOwnWrites},
		{"View", testView},
		{"SearchKeyword", testSearchKeyword},
		{"SearchKeywordLiteral", testSearchKeywordLiteral},
		{"SearchKeywordUnicode", testSearchKeywordUnicode},
		{"Status", testStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func insert(t *testing.T, s storage.Storage, title, description string, tags ...string) int64 {
	t.Helper()
	rec := &storage.ProjectRecord{Title: title, Budget: 100, Description: description, OwnerID: 7}
	err := s.WithTx(context.Background(), func(tx storage.Tx) error {
		if err := tx.InsertProject(context.Background(), rec); err != nil {
			return err
		}
		return tx.AddTags(context.Background(), rec.ID, tags)
	})
	require.NoError(t, err)
	require.Greater(t, rec.ID, int64(0))
	return rec.ID
}

func upsertVector(t *testing.T, s storage.Storage, id int64, vector []float32) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.UpsertEmbedding(context.Background(), &storage.Embedding{
			ProjectID: id, Vector: vector, Provider: "test", Model: "m",
		})
	})
	require.NoError(t, err)
}

func testInsertAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	id := insert(t, s, "Java Project", "A Java project", "java", "backend")

	rec, err := s.GetProject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "Java Project", rec.Title)
	assert.Equal(t, 100.0, rec.Budget)
	assert.Equal(t, "A Java project", rec.Description)
	assert.Equal(t, int64(7), rec.OwnerID)
	assert.False(t, rec.CreatedAt.IsZero())

	tags, err := s.ListTags(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"backend", "java"}, tags)

	_, err = s.GetEmbedding(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testIDsNeverReused(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	first := insert(t, s, "one", "")
	second := insert(t, s, "two", "")
	assert.Greater(t, second, first)

	require.NoError(t, s.WithTx(ctx, func(tx storage.Tx) error {
		return tx.DeleteProject(ctx, second)
	}))

	third := insert(t, s, "three", "")
	assert.Greater(t, third, second)
}

func testUpdateProject(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	id := insert(t, s, "old", "old desc")

	err := s.WithTx(ctx, func(tx storage.Tx) error {
		return tx.UpdateProject(ctx, &storage.ProjectRecord{ID: id, Title: "new", Budget: 5, Description: "new desc"})
	})
	require.NoError(t, err)

	rec, err := s.GetProject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new", rec.Title)
	assert.Equal(t, 5.0, rec.Budget)
	assert.Equal(t, "new desc", rec.Description)
	assert.Equal(t, int64(7), rec.OwnerID, "owner is immutable")
}

func testDeleteRemovesEverything(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	id := insert(t, s, "doomed", "gone soon", "a", "b")
	upsertVector(t, s, id, []float32{1, 2, 3})
	keep := insert(t, s, "survivor", "", "a")

	require.NoError(t, s.WithTx(ctx, func(tx storage.Tx) error {
		return tx.DeleteProject(ctx, id)
	}))

	_, err := s.GetProject(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetEmbedding(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	tags, err := s.ListTags(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, tags)

	embs, err := s.ListEmbeddings(ctx)
	require.NoError(t, err)
	assert.Empty(t, embs)

	ids, err := s.SearchKeyword(ctx, "a")
	require.NoError(t, err)
	assert.NotContains(t, ids, id)

	tags, err = s.ListTags(ctx, keep)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, tags)
}

func testNotFound(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	_, err := s.GetProject(ctx, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	writes := map[string]func(tx storage.Tx) error{
		"update": func(tx storage.Tx) error {
			return tx.UpdateProject(ctx, &storage.ProjectRecord{ID: 999, Title: "x"})
		},
		"delete":     func(tx storage.Tx) error { return tx.DeleteProject(ctx, 999) },
		"addTags":    func(tx storage.Tx) error { return tx.AddTags(ctx, 999, []string{"x"}) },
		"removeTags": func(tx storage.Tx) error { return tx.RemoveTags(ctx, 999, []string{"x"}) },
		"embedding": func(tx storage.Tx) error {
			return tx.UpsertEmbedding(ctx, &storage.Embedding{ProjectID: 999, Vector: []float32{1}})
		},
	}
	for name, write := range writes {
		err := s.WithTx(ctx, write)
		assert.ErrorIs(t, err, storage.ErrNotFound, name)
	}
}

func testTagsIdempotent(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	id := insert(t, s, "p", "", "x")

	for i := 0; i < 3; i++ {
		require.NoError(t, s.WithTx(ctx, func(tx storage.Tx) error {
			return tx.AddTags(ctx, id, []string{"x", "y"})
		}))
	}
	tags, err := s.ListTags(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, tags)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.WithTx(ctx, func(tx storage.Tx) error {
			return tx.RemoveTags(ctx, id, []string{"y", "absent"})
		}))
	}
	tags, err = s.ListTags(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, tags)
}

func testTagsCaseSensitive(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	id := insert(t, s, "p", "", "Go", "go")

	tags, err := s.ListTags(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "go"}, tags)
}

func testEmbeddingUpsert(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	id := insert(t, s, "p", "")

	upsertVector(t, s, id, []float32{1, 0, 0})
	upsertVector(t, s, id, []float32{0, 1, 0, 0})

	emb, err := s.GetEmbedding(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0, 0}, emb.Vector)
	assert.Equal(t, 4, emb.Dimension)
	assert.Equal(t, "test", emb.Provider)

	embs, err := s.ListEmbeddings(ctx)
	require.NoError(t, err)
	assert.Len(t, embs, 1, "one embedding per project")

	require.NoError(t, s.WithTx(ctx, func(tx storage.Tx) error {
		return tx.DeleteEmbedding(ctx, id)
	}))
	_, err = s.GetEmbedding(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testEmbeddingIsCopied(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	id := insert(t, s, "p", "")

	vector := []float32{1, 2, 3}
	upsertVector(t, s, id, vector)
	vector[0] = 99

	emb, err := s.GetEmbedding(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, float32(1), emb.Vector[0])

	emb.Vector[1] = 42
	again, err := s.GetEmbedding(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, again.Vector)
}

func testListEmbeddingsOrdered(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	a := insert(t, s, "a", "")
	b := insert(t, s, "b", "")
	c := insert(t, s, "c", "")
	upsertVector(t, s, c, []float32{3})
	upsertVector(t, s, a, []float32{1})
	_ = b

	embs, err := s.ListEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, embs, 2)
	assert.Equal(t, a, embs[0].ProjectID)
	assert.Equal(t, c, embs[1].ProjectID)
}

func testListProjectIDsFilter(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	good := insert(t, s, "good", "")
	degraded := insert(t, s, "degraded", "")
	stale := insert(t, s, "stale", "")
	upsertVector(t, s, good, []float32{1, 2})
	upsertVector(t, s, stale, []float32{1, 2, 3})

	all, err := s.ListProjectIDs(ctx, storage.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{good, degraded, stale}, all)

	missing, err := s.ListProjectIDs(ctx, storage.ListFilter{MissingEmbedding: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{degraded}, missing)

	mismatched, err := s.ListProjectIDs(ctx, storage.ListFilter{MissingEmbedding: true, Dimension: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{degraded, stale}, mismatched)
}

func testRollbackOnError(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	id := insert(t, s, "stable", "desc", "keep")
	upsertVector(t, s, id, []float32{1, 1})

	err := s.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.UpdateProject(ctx, &storage.ProjectRecord{ID: id, Title: "changed", Description: "changed"}); err != nil {
			return err
		}
		if err := tx.AddTags(ctx, id, []string{"new"}); err != nil {
			return err
		}
		if err := tx.RemoveTags(ctx, id, []string{"keep"}); err != nil {
			return err
		}
		if err := tx.DeleteEmbedding(ctx, id); err != nil {
			return err
		}
		rec := &storage.ProjectRecord{Title: "ghost"}
		if err := tx.InsertProject(ctx, rec); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	rec, err := s.GetProject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "stable", rec.Title)
	assert.Equal(t, "desc", rec.Description)

	tags, err := s.ListTags(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, tags)

	emb, err := s.GetEmbedding(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, emb.Vector)

	ids, err := s.ListProjectIDs(ctx, storage.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, ids)
}

func testTxSeesOwnWrites(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	err := s.WithTx(ctx, func(tx storage.Tx) error {
		rec := &storage.ProjectRecord{Title: "fresh", Description: "inside"}
		if err := tx.InsertProject(ctx, rec); err != nil {
			return err
		}
		if err := tx.AddTags(ctx, rec.ID, []string{"t"}); err != nil {
			return err
		}
		got, err := tx.GetProject(ctx, rec.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, "fresh", got.Title)

		tags, err := tx.ListTags(ctx, rec.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, []string{"t"}, tags)

		ids, err := tx.SearchKeyword(ctx, "INSIDE")
		if err != nil {
			return err
		}
		assert.Equal(t, []int64{rec.ID}, ids)
		return nil
	})
	require.NoError(t, err)
}

func testSearchKeyword(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	java := insert(t, s, "Java Project", "Backend services", "enterprise")
	python := insert(t, s, "Python Automation", "Scripts for JAVA interop", "scripting")
	web := insert(t, s, "Web Development", "Responsive sites", "Frontend", "javascript")
	_ = insert(t, s, "Database Management", "SQL tuning", "sql")

	ids, err := s.SearchKeyword(ctx, "java")
	require.NoError(t, err)
	assert.Equal(t, []int64{java, python, web}, ids, "title, description and tag matches, ascending id")

	ids, err = s.SearchKeyword(ctx, "FRONTEND")
	require.NoError(t, err)
	assert.Equal(t, []int64{web}, ids)

	ids, err = s.SearchKeyword(ctx, "nothing matches this")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.SearchKeyword(ctx, "   ")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testSearchKeywordLiteral(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	pct := insert(t, s, "100% coverage", "")
	_ = insert(t, s, "1000 coverage", "")
	under := insert(t, s, "snake_case", "")
	_ = insert(t, s, "snakeXcase", "")

	ids, err := s.SearchKeyword(ctx, "0%")
	require.NoError(t, err)
	assert.Equal(t, []int64{pct}, ids)

	ids, err = s.SearchKeyword(ctx, "e_c")
	require.NoError(t, err)
	assert.Equal(t, []int64{under}, ids)
}

func testSearchKeywordUnicode(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ecole := insert(t, s, "ÉCOLE Portal", "Inscriptions en ligne")
	cafe := insert(t, s, "Menu", "Carte du café", "Straße")

	tests := []struct {
		keyword string
		want    []int64
	}{
		{"ÉCOLE", []int64{ecole}},
		{"école", []int64{ecole}},
		{"CAFÉ", []int64{cafe}},
		{"straße", []int64{cafe}},
	}
	for _, tt := range tests {
		ids, err := s.SearchKeyword(ctx, tt.keyword)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ids, tt.keyword)
	}
}

func testStatus(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	a := insert(t, s, "a", "", "x", "y")
	_ = insert(t, s, "b", "", "x")
	upsertVector(t, s, a, []float32{1, 2, 3})

	status, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.Backend(), status.Backend)
	assert.Equal(t, 2, status.Projects)
	assert.Equal(t, 1, status.Embeddings)
	assert.Equal(t, 3, status.Tags)
	assert.Equal(t, 1, status.DegradedCount)
	assert.Equal(t, map[int]int{3: 1}, status.DimensionCounts)
}

func testView(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	id := insert(t, s, "viewed", "desc", "x")
	upsertVector(t, s, id, []float32{1, 2})

	err := s.View(ctx, func(r storage.Reader) error {
		rec, err := r.GetProject(ctx, id)
		if err != nil {
			return err
		}
		assert.Equal(t, "viewed", rec.Title)

		tags, err := r.ListTags(ctx, id)
		if err != nil {
			return err
		}
		assert.Equal(t, []string{"x"}, tags)

		emb, err := r.GetEmbedding(ctx, id)
		if err != nil {
			return err
		}
		assert.Equal(t, []float32{1, 2}, emb.Vector)
		return nil
	})
	require.NoError(t, err)

	err = s.View(ctx, func(r storage.Reader) error { return errBoom })
	assert.ErrorIs(t, err, errBoom)

	err = s.View(ctx, func(r storage.Reader) error {
		if w, ok := r.(storage.Writer); ok {
			return w.AddTags(ctx, id, []string{"sneaky"})
		}
		return nil
	})
	_ = err
	tags, err := s.ListTags(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, tags, "View never persists writes")
}
