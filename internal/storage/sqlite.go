package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

var (
	_ Storage = (*SQLiteStorage)(nil)
	_ Tx      = (*sqliteTx)(nil)
)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer; this also serializes same-id writes
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Backend returns "sqlite"
func (s *SQLiteStorage) Backend() string {
	return "sqlite"
}

// WithTx runs fn in a transaction, committing on nil and rolling back otherwise
func (s *SQLiteStorage) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(&sqliteTx{tx: sqlTx, storage: s}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// View runs fn in a transaction that is always rolled back
func (s *SQLiteStorage) View(ctx context.Context, fn func(r Reader) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	return fn(&sqliteTx{tx: sqlTx, storage: s})
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Project operations

func (s *SQLiteStorage) insertProjectWithQuerier(ctx context.Context, q querier, project *ProjectRecord) error {
	query := `
		INSERT INTO projects (title, budget, description, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query,
		project.Title, project.Budget, project.Description, project.OwnerID, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	project.ID = id
	project.CreatedAt = now
	project.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) getProjectWithQuerier(ctx context.Context, q querier, id int64) (*ProjectRecord, error) {
	query := `
		SELECT id, title, budget, description, owner_id, created_at, updated_at
		FROM projects
		WHERE id = ?
	`
	var project ProjectRecord
	err := q.QueryRowContext(ctx, query, id).Scan(
		&project.ID, &project.Title, &project.Budget, &project.Description,
		&project.OwnerID, &project.CreatedAt, &project.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %d: %w", id, err)
	}
	return &project, nil
}

func (s *SQLiteStorage) GetProject(ctx context.Context, id int64) (*ProjectRecord, error) {
	return s.getProjectWithQuerier(ctx, s.querier(), id)
}

func (s *SQLiteStorage) updateProjectWithQuerier(ctx context.Context, q querier, project *ProjectRecord) error {
	query := `
		UPDATE projects
		SET title = ?, budget = ?, description = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query,
		project.Title, project.Budget, project.Description, now, project.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}
	project.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) deleteProjectWithQuerier(ctx context.Context, q querier, id int64) error {
	// ON DELETE CASCADE only fires with foreign_keys=ON
	if _, err := q.ExecContext(ctx, "DELETE FROM project_tags WHERE project_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete tags: %w", err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM project_embeddings WHERE project_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	result, err := q.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return requireAffected(result)
}

func (s *SQLiteStorage) listProjectIDsWithQuerier(ctx context.Context, q querier, filter ListFilter) ([]int64, error) {
	query := `
		SELECT p.id, e.dimension
		FROM projects p
		LEFT JOIN project_embeddings e ON e.project_id = p.id
		ORDER BY p.id
	`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		var dimension sql.NullInt64
		if err := rows.Scan(&id, &dimension); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		var emb *Embedding
		if dimension.Valid {
			emb = &Embedding{ProjectID: id, Dimension: int(dimension.Int64)}
		}
		if filter.Matches(emb) {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

func (s *SQLiteStorage) ListProjectIDs(ctx context.Context, filter ListFilter) ([]int64, error) {
	return s.listProjectIDsWithQuerier(ctx, s.querier(), filter)
}

func (s *SQLiteStorage) projectExists(ctx context.Context, q querier, id int64) error {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM projects WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check project %d: %w", id, err)
	}
	return nil
}

// Tag operations

func (s *SQLiteStorage) listTagsWithQuerier(ctx context.Context, q querier, projectID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT tag FROM project_tags WHERE project_id = ? ORDER BY tag", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tags := make([]string, 0)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (s *SQLiteStorage) ListTags(ctx context.Context, projectID int64) ([]string, error) {
	return s.listTagsWithQuerier(ctx, s.querier(), projectID)
}

func (s *SQLiteStorage) addTagsWithQuerier(ctx context.Context, q querier, projectID int64, tags []string) error {
	if err := s.projectExists(ctx, q, projectID); err != nil {
		return err
	}
	for _, tag := range tags {
		if _, err := q.ExecContext(ctx,
			"INSERT OR IGNORE INTO project_tags (project_id, tag) VALUES (?, ?)", projectID, tag); err != nil {
			return fmt.Errorf("failed to add tag %q: %w", tag, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) removeTagsWithQuerier(ctx context.Context, q querier, projectID int64, tags []string) error {
	if err := s.projectExists(ctx, q, projectID); err != nil {
		return err
	}
	for _, tag := range tags {
		if _, err := q.ExecContext(ctx,
			"DELETE FROM project_tags WHERE project_id = ? AND tag = ?", projectID, tag); err != nil {
			return fmt.Errorf("failed to remove tag %q: %w", tag, err)
		}
	}
	return nil
}

// Embedding operations

func (s *SQLiteStorage) upsertEmbeddingWithQuerier(ctx context.Context, q querier, embedding *Embedding) error {
	if err := s.projectExists(ctx, q, embedding.ProjectID); err != nil {
		return err
	}
	query := `
		INSERT INTO project_embeddings (project_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model,
			created_at = excluded.created_at
	`
	now := time.Now().UTC()
	_, err := q.ExecContext(ctx, query,
		embedding.ProjectID, serializeVector(embedding.Vector), len(embedding.Vector),
		embedding.Provider, embedding.Model, now)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	embedding.Dimension = len(embedding.Vector)
	embedding.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) getEmbeddingWithQuerier(ctx context.Context, q querier, projectID int64) (*Embedding, error) {
	query := `
		SELECT project_id, vector, dimension, provider, model, created_at
		FROM project_embeddings
		WHERE project_id = ?
	`
	var embedding Embedding
	var blob []byte
	err := q.QueryRowContext(ctx, query, projectID).Scan(
		&embedding.ProjectID, &blob, &embedding.Dimension,
		&embedding.Provider, &embedding.Model, &embedding.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}
	if embedding.Vector, err = deserializeVector(blob); err != nil {
		return nil, fmt.Errorf("project %d: %w", projectID, err)
	}
	return &embedding, nil
}

func (s *SQLiteStorage) GetEmbedding(ctx context.Context, projectID int64) (*Embedding, error) {
	return s.getEmbeddingWithQuerier(ctx, s.querier(), projectID)
}

func (s *SQLiteStorage) deleteEmbeddingWithQuerier(ctx context.Context, q querier, projectID int64) error {
	_, err := q.ExecContext(ctx, "DELETE FROM project_embeddings WHERE project_id = ?", projectID)
	if err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) listEmbeddingsWithQuerier(ctx context.Context, q querier) ([]*Embedding, error) {
	query := `
		SELECT project_id, vector, dimension, provider, model, created_at
		FROM project_embeddings
		ORDER BY project_id
	`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	embeddings := make([]*Embedding, 0)
	for rows.Next() {
		var embedding Embedding
		var blob []byte
		if err := rows.Scan(&embedding.ProjectID, &blob, &embedding.Dimension,
			&embedding.Provider, &embedding.Model, &embedding.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		if embedding.Vector, err = deserializeVector(blob); err != nil {
			return nil, fmt.Errorf("project %d: %w", embedding.ProjectID, err)
		}
		embeddings = append(embeddings, &embedding)
	}
	return embeddings, rows.Err()
}

func (s *SQLiteStorage) ListEmbeddings(ctx context.Context) ([]*Embedding, error) {
	return s.listEmbeddingsWithQuerier(ctx, s.querier())
}

// Search operations

// searchKeywordWithQuerier scans projects with their tags and matches in Go;
// SQLite's LOWER and LIKE fold ASCII only.
func (s *SQLiteStorage) searchKeywordWithQuerier(ctx context.Context, q querier, keyword string) ([]int64, error) {
	pattern := KeywordPattern(keyword)
	if pattern == "" {
		return []int64{}, nil
	}

	query := `
		SELECT p.id, p.title, p.description, t.tag
		FROM projects p
		LEFT JOIN project_tags t ON t.project_id = p.id
		ORDER BY p.id, t.tag
	`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute keyword search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]int64, 0)
	var current *ProjectRecord
	var tags []string
	flush := func() {
		if current != nil && MatchesKeyword(pattern, current, tags) {
			ids = append(ids, current.ID)
		}
	}

	for rows.Next() {
		var rec ProjectRecord
		var tag sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Description, &tag); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if current == nil || current.ID != rec.ID {
			flush()
			current = &rec
			tags = tags[:0]
		}
		if tag.Valid {
			tags = append(tags, tag.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	flush()
	return ids, nil
}

func (s *SQLiteStorage) SearchKeyword(ctx context.Context, keyword string) ([]int64, error) {
	return s.searchKeywordWithQuerier(ctx, s.querier(), keyword)
}

// Status operations

func (s *SQLiteStorage) statusWithQuerier(ctx context.Context, q querier) (*Status, error) {
	status := &Status{
		Backend:         s.Backend(),
		DimensionCounts: make(map[int]int),
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM projects", &status.Projects},
		{"SELECT COUNT(*) FROM project_embeddings", &status.Embeddings},
		{"SELECT COUNT(*) FROM project_tags", &status.Tags},
		{`SELECT COUNT(*) FROM projects p
		  LEFT JOIN project_embeddings e ON e.project_id = p.id
		  WHERE e.project_id IS NULL`, &status.DegradedCount},
	}
	for _, c := range counts {
		if err := q.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count: %w", err)
		}
	}

	rows, err := q.QueryContext(ctx, "SELECT dimension, COUNT(*) FROM project_embeddings GROUP BY dimension")
	if err != nil {
		return nil, fmt.Errorf("failed to count dimensions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var dimension, count int
		if err := rows.Scan(&dimension, &count); err != nil {
			return nil, fmt.Errorf("failed to scan dimension count: %w", err)
		}
		status.DimensionCounts[dimension] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var pageCount, pageSize int64
	if err := q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.SizeBytes = pageCount * pageSize
	}

	return status, nil
}

func (s *SQLiteStorage) Status(ctx context.Context) (*Status, error) {
	status, err := s.statusWithQuerier(ctx, s.querier())
	if err != nil {
		return nil, err
	}
	if status.SchemaVersion, err = SchemaVersion(ctx, s.db); err != nil {
		return nil, err
	}
	return status, nil
}

// requireAffected maps a zero-row write to ErrNotFound
func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Transaction implementations - every call goes through the tx querier

func (t *sqliteTx) GetProject(ctx context.Context, id int64) (*ProjectRecord, error) {
	return t.storage.getProjectWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) ListProjectIDs(ctx context.Context, filter ListFilter) ([]int64, error) {
	return t.storage.listProjectIDsWithQuerier(ctx, t.querier(), filter)
}

func (t *sqliteTx) ListTags(ctx context.Context, projectID int64) ([]string, error) {
	return t.storage.listTagsWithQuerier(ctx, t.querier(), projectID)
}

func (t *sqliteTx) GetEmbedding(ctx context.Context, projectID int64) (*Embedding, error) {
	return t.storage.getEmbeddingWithQuerier(ctx, t.querier(), projectID)
}

func (t *sqliteTx) ListEmbeddings(ctx context.Context) ([]*Embedding, error) {
	return t.storage.listEmbeddingsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) SearchKeyword(ctx context.Context, keyword string) ([]int64, error) {
	return t.storage.searchKeywordWithQuerier(ctx, t.querier(), keyword)
}

func (t *sqliteTx) Status(ctx context.Context) (*Status, error) {
	return t.storage.statusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) InsertProject(ctx context.Context, project *ProjectRecord) error {
	return t.storage.insertProjectWithQuerier(ctx, t.querier(), project)
}

func (t *sqliteTx) UpdateProject(ctx context.Context, project *ProjectRecord) error {
	return t.storage.updateProjectWithQuerier(ctx, t.querier(), project)
}

func (t *sqliteTx) DeleteProject(ctx context.Context, id int64) error {
	return t.storage.deleteProjectWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return t.storage.upsertEmbeddingWithQuerier(ctx, t.querier(), embedding)
}

func (t *sqliteTx) DeleteEmbedding(ctx context.Context, projectID int64) error {
	return t.storage.deleteEmbeddingWithQuerier(ctx, t.querier(), projectID)
}

func (t *sqliteTx) AddTags(ctx context.Context, projectID int64, tags []string) error {
	return t.storage.addTagsWithQuerier(ctx, t.querier(), projectID, tags)
}

func (t *sqliteTx) RemoveTags(ctx context.Context, projectID int64, tags []string) error {
	return t.storage.removeTagsWithQuerier(ctx, t.querier(), projectID, tags)
}
