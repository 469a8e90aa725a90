// Package storage provides persistence for projects, their tag sets, and
// their embedding vectors.
//
// The storage layer manages:
//   - Project rows (title, budget, description, owner)
//   - Tag sets, one row per (project, tag) pair
//   - One embedding vector per project, or none for degraded projects
//
// Three backends implement the Storage interface:
//   - SQLiteStorage: database/sql over mattn/go-sqlite3 (cgo) or modernc.org/sqlite (pure Go)
//   - badger.Backend: an embedded BadgerDB key-value store (subpackage badger)
//   - MemoryStorage: process-local maps, used for tests and ephemeral runs
//
// # Database Schema
//
// Tables (SQLite backend):
//   - projects: id (AUTOINCREMENT, never reused), title, budget, description, owner_id
//   - project_tags: (project_id, tag) primary key
//   - project_embeddings: project_id primary key, little-endian float32 vector blob
//   - schema_version: applied semver migrations
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.projectsearch/projects.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	rec, err := db.GetProject(ctx, 42)
//	if errors.Is(err, storage.ErrNotFound) {
//	    // ...
//	}
//
// # Transactions
//
// All writes go through WithTx. The callback's error decides the outcome:
//
//	err := db.WithTx(ctx, func(tx storage.Tx) error {
//	    if err := tx.InsertProject(ctx, rec); err != nil {
//	        return err
//	    }
//	    if err := tx.AddTags(ctx, rec.ID, tags); err != nil {
//	        return err // rolls back the insert too
//	    }
//	    return tx.UpsertEmbedding(ctx, emb)
//	})
//
// # Keyword Search
//
// SearchKeyword is a case-insensitive substring match over title,
// description and tags, returning each matching id once in ascending order.
// The SQLite backend folds case with LOWER(), which only folds ASCII; the
// badger and memory backends fold full Unicode.
//
// # Build Modes
//
// Pure Go (default):
//
//	CGO_ENABLED=0 go build ./...
//
// CGO with mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags sqlite_cgo ./...
package storage
