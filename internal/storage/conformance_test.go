package storage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/projectsearch/internal/storage"
	"github.com/dshills/projectsearch/internal/storage/storagetest"
)

func TestSQLiteConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, err := storage.NewSQLiteStorage(":memory:")
		require.NoError(t, err)
		return s
	})
}

func TestMemoryConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return storage.NewMemoryStorage()
	})
}
