package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	return storage
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	assert.NotNil(t, storage.db)
	assert.Equal(t, "sqlite", storage.Backend())
}

func TestClose(t *testing.T) {
	storage := setupTestDB(t)
	err := storage.Close()
	assert.NoError(t, err)
}

func TestMigrations_Idempotent(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, storage.db))
	require.NoError(t, ApplyMigrations(ctx, storage.db))

	version, err := SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestMigrations_Rollback(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))
	version, err := SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	require.NoError(t, RollbackMigration(ctx, storage.db))
	version, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", version)

	assert.Error(t, RollbackMigration(ctx, storage.db))

	// Re-applying brings the schema back
	require.NoError(t, ApplyMigrations(ctx, storage.db))
	version, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestSQLiteStorage_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.db")
	ctx := context.Background()

	first, err := NewSQLiteStorage(path)
	require.NoError(t, err)

	rec := &ProjectRecord{Title: "Durable", Description: "on disk"}
	require.NoError(t, first.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertProject(ctx, rec); err != nil {
			return err
		}
		if err := tx.AddTags(ctx, rec.ID, []string{"disk"}); err != nil {
			return err
		}
		return tx.UpsertEmbedding(ctx, &Embedding{ProjectID: rec.ID, Vector: []float32{0.5, -0.5}, Provider: "p", Model: "m"})
	}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.GetProject(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Durable", got.Title)

	emb, err := second.GetEmbedding(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.5}, emb.Vector)
	assert.Equal(t, 2, emb.Dimension)

	status, err := second.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, status.SchemaVersion)
	assert.Greater(t, status.SizeBytes, int64(0))
}

func TestSQLiteStorage_RejectsNegativeBudget(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	err := storage.WithTx(ctx, func(tx Tx) error {
		return tx.InsertProject(ctx, &ProjectRecord{Title: "bad", Budget: -1})
	})
	assert.Error(t, err)

	ids, err := storage.ListProjectIDs(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, ids)
}
