// Package badger implements storage.Storage on top of BadgerDB, an embedded
// key-value store. Projects, embeddings and tags live under separate key
// prefixes with BigEndian ids so prefix scans return rows in id order.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/dshills/projectsearch/internal/storage"
)

const (
	defaultSequenceBandwidth = 100
	maxConflictRetries       = 3
)

// Backend wraps a BadgerDB instance and implements storage.Storage
type Backend struct {
	db     *badger.DB
	idSeq  *badger.Sequence
	logger *zap.Logger
}

var (
	_ storage.Storage = (*Backend)(nil)
	_ storage.Tx      = (*badgerTx)(nil)
)

// badgerLoggerAdapter adapts zap to the badger.Logger interface
type badgerLoggerAdapter struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Errorf(msg, items...)
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warnf(msg, items...)
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Infof(msg, items...)
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debugf(msg, items...)
}

// Open opens a BadgerDB database at dirPath, creating the directory if needed.
// inMemory ignores dirPath and keeps everything in RAM.
func Open(dirPath string, inMemory bool, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(dirPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			if err := os.MkdirAll(dirPath, 0755); err != nil {
				return nil, err
			}
			if info, err = os.Stat(dirPath); err != nil {
				return nil, err
			}
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", dirPath)
		}
		opts = badger.DefaultOptions(dirPath)
	}

	opts.Logger = &badgerLoggerAdapter{logger: logger.Named("badger").Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	idSeq, err := db.GetSequence([]byte(projectIDSeq), defaultSequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	return &Backend{db: db, idSeq: idSeq, logger: logger}, nil
}

// Close releases the id sequence and closes the database
func (b *Backend) Close() error {
	seqErr := b.idSeq.Release()
	return errors.Join(seqErr, b.db.Close())
}

// Backend returns "badger"
func (b *Backend) Backend() string {
	return "badger"
}

// view runs fn in a read-only transaction
func (b *Backend) view(fn func(txn *badger.Txn) error) error {
	txn := b.db.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

// WithTx runs fn in a read-write transaction and commits on success.
// Commit conflicts with a concurrent writer are retried.
func (b *Backend) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = b.withTxOnce(ctx, fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		b.logger.Debug("transaction conflict, retrying", zap.Int("attempt", attempt+1))
	}
	return err
}

func (b *Backend) withTxOnce(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	tx := &badgerTx{txn: txn, backend: b}
	if err := fn(tx); err != nil {
		return err
	}
	return txn.Commit()
}

// View runs fn against a read-only badger transaction
func (b *Backend) View(ctx context.Context, fn func(r storage.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.view(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn, backend: b})
	})
}

func (b *Backend) nextID() (int64, error) {
	id, err := b.idSeq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if id == 0 {
		if id, err = b.idSeq.Next(); err != nil {
			return 0, err
		}
	}
	return int64(id), nil
}

// Storage reads outside a transaction

func (b *Backend) GetProject(ctx context.Context, id int64) (rec *storage.ProjectRecord, err error) {
	err = b.view(func(txn *badger.Txn) error {
		rec, err = readProject(txn, id)
		return err
	})
	return rec, err
}

func (b *Backend) ListProjectIDs(ctx context.Context, filter storage.ListFilter) (ids []int64, err error) {
	err = b.view(func(txn *badger.Txn) error {
		ids, err = listProjectIDs(txn, filter)
		return err
	})
	return ids, err
}

func (b *Backend) ListTags(ctx context.Context, projectID int64) (tags []string, err error) {
	err = b.view(func(txn *badger.Txn) error {
		tags = listTags(txn, projectID)
		return nil
	})
	return tags, err
}

func (b *Backend) GetEmbedding(ctx context.Context, projectID int64) (emb *storage.Embedding, err error) {
	err = b.view(func(txn *badger.Txn) error {
		emb, err = readEmbedding(txn, projectID)
		return err
	})
	return emb, err
}

func (b *Backend) ListEmbeddings(ctx context.Context) (embs []*storage.Embedding, err error) {
	err = b.view(func(txn *badger.Txn) error {
		embs, err = listEmbeddings(txn)
		return err
	})
	return embs, err
}

func (b *Backend) SearchKeyword(ctx context.Context, keyword string) (ids []int64, err error) {
	err = b.view(func(txn *badger.Txn) error {
		ids, err = searchKeyword(txn, keyword)
		return err
	})
	return ids, err
}

func (b *Backend) Status(ctx context.Context) (status *storage.Status, err error) {
	err = b.view(func(txn *badger.Txn) error {
		status, err = readStatus(txn)
		return err
	})
	if err != nil {
		return nil, err
	}
	lsm, vlog := b.db.Size()
	status.SizeBytes = lsm + vlog
	return status, nil
}

// Shared helpers over a badger transaction

func readProject(txn *badger.Txn, id int64) (*storage.ProjectRecord, error) {
	item, err := txn.Get(makeProjectKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec *storage.ProjectRecord
	err = item.Value(func(val []byte) error {
		rec, err = unmarshalProject(id, val)
		return err
	})
	return rec, err
}

func readEmbedding(txn *badger.Txn, projectID int64) (*storage.Embedding, error) {
	item, err := txn.Get(makeEmbeddingKey(projectID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var emb *storage.Embedding
	err = item.Value(func(val []byte) error {
		emb, err = unmarshalEmbedding(projectID, val)
		return err
	})
	return emb, err
}

func projectExists(txn *badger.Txn, id int64) error {
	_, err := txn.Get(makeProjectKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.ErrNotFound
	}
	return err
}

// forEachProject visits projects in ascending id order
func forEachProject(txn *badger.Txn, fn func(rec *storage.ProjectRecord) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(projectPrefix)
	iter := txn.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		item := iter.Item()
		id := idFromKey(item.Key(), projectPrefix)
		var rec *storage.ProjectRecord
		err := item.Value(func(val []byte) error {
			var err error
			rec, err = unmarshalProject(id, val)
			return err
		})
		if err != nil {
			return fmt.Errorf("project %d: %w", id, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func listProjectIDs(txn *badger.Txn, filter storage.ListFilter) ([]int64, error) {
	ids := make([]int64, 0)
	err := forEachProject(txn, func(rec *storage.ProjectRecord) error {
		emb, err := readEmbedding(txn, rec.ID)
		if errors.Is(err, storage.ErrNotFound) {
			emb = nil
		} else if err != nil {
			return err
		}
		if filter.Matches(emb) {
			ids = append(ids, rec.ID)
		}
		return nil
	})
	return ids, err
}

func listTags(txn *badger.Txn, projectID int64) []string {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialTagKey(projectID)
	opts.PrefetchValues = false
	iter := txn.NewIterator(opts)
	defer iter.Close()

	tags := make([]string, 0)
	for iter.Rewind(); iter.Valid(); iter.Next() {
		tags = append(tags, tagFromKey(iter.Item().Key()))
	}
	slices.Sort(tags)
	return tags
}

func listEmbeddings(txn *badger.Txn) ([]*storage.Embedding, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(embeddingPrefix)
	iter := txn.NewIterator(opts)
	defer iter.Close()

	embs := make([]*storage.Embedding, 0)
	for iter.Rewind(); iter.Valid(); iter.Next() {
		item := iter.Item()
		id := idFromKey(item.Key(), embeddingPrefix)
		err := item.Value(func(val []byte) error {
			emb, err := unmarshalEmbedding(id, val)
			if err != nil {
				return err
			}
			embs = append(embs, emb)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("embedding %d: %w", id, err)
		}
	}
	return embs, nil
}

func searchKeyword(txn *badger.Txn, keyword string) ([]int64, error) {
	pattern := storage.KeywordPattern(keyword)
	ids := make([]int64, 0)
	if pattern == "" {
		return ids, nil
	}
	err := forEachProject(txn, func(rec *storage.ProjectRecord) error {
		if storage.MatchesKeyword(pattern, rec, listTags(txn, rec.ID)) {
			ids = append(ids, rec.ID)
		}
		return nil
	})
	return ids, err
}

func readStatus(txn *badger.Txn) (*storage.Status, error) {
	status := &storage.Status{
		Backend:         "badger",
		DimensionCounts: make(map[int]int),
	}
	err := forEachProject(txn, func(rec *storage.ProjectRecord) error {
		status.Projects++
		status.Tags += len(listTags(txn, rec.ID))
		return nil
	})
	if err != nil {
		return nil, err
	}

	embs, err := listEmbeddings(txn)
	if err != nil {
		return nil, err
	}
	status.Embeddings = len(embs)
	status.DegradedCount = status.Projects - len(embs)
	for _, emb := range embs {
		status.DimensionCounts[emb.Dimension]++
	}
	return status, nil
}

// deleteByPrefix removes every key under prefix
func deleteByPrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := txn.NewIterator(opts)

	var keys [][]byte
	for iter.Rewind(); iter.Valid(); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil))
	}
	iter.Close()

	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// badgerTx is a storage.Tx over one read-write badger transaction
type badgerTx struct {
	txn     *badger.Txn
	backend *Backend
}

func (t *badgerTx) GetProject(ctx context.Context, id int64) (*storage.ProjectRecord, error) {
	return readProject(t.txn, id)
}

func (t *badgerTx) ListProjectIDs(ctx context.Context, filter storage.ListFilter) ([]int64, error) {
	return listProjectIDs(t.txn, filter)
}

func (t *badgerTx) ListTags(ctx context.Context, projectID int64) ([]string, error) {
	return listTags(t.txn, projectID), nil
}

func (t *badgerTx) GetEmbedding(ctx context.Context, projectID int64) (*storage.Embedding, error) {
	return readEmbedding(t.txn, projectID)
}

func (t *badgerTx) ListEmbeddings(ctx context.Context) ([]*storage.Embedding, error) {
	return listEmbeddings(t.txn)
}

func (t *badgerTx) SearchKeyword(ctx context.Context, keyword string) ([]int64, error) {
	return searchKeyword(t.txn, keyword)
}

func (t *badgerTx) Status(ctx context.Context) (*storage.Status, error) {
	return readStatus(t.txn)
}

func (t *badgerTx) InsertProject(ctx context.Context, project *storage.ProjectRecord) error {
	id, err := t.backend.nextID()
	if err != nil {
		return fmt.Errorf("failed to allocate id: %w", err)
	}
	now := time.Now().UTC()
	project.ID = id
	project.CreatedAt = now
	project.UpdatedAt = now

	value, err := marshalProject(project)
	if err != nil {
		return err
	}
	return t.txn.Set(makeProjectKey(id), value)
}

func (t *badgerTx) UpdateProject(ctx context.Context, project *storage.ProjectRecord) error {
	existing, err := readProject(t.txn, project.ID)
	if err != nil {
		return err
	}
	existing.Title = project.Title
	existing.Budget = project.Budget
	existing.Description = project.Description
	existing.UpdatedAt = time.Now().UTC()

	value, err := marshalProject(existing)
	if err != nil {
		return err
	}
	if err := t.txn.Set(makeProjectKey(project.ID), value); err != nil {
		return err
	}
	project.UpdatedAt = existing.UpdatedAt
	return nil
}

func (t *badgerTx) DeleteProject(ctx context.Context, id int64) error {
	if err := projectExists(t.txn, id); err != nil {
		return err
	}
	if err := deleteByPrefix(t.txn, makePartialTagKey(id)); err != nil {
		return err
	}
	if err := t.txn.Delete(makeEmbeddingKey(id)); err != nil {
		return err
	}
	return t.txn.Delete(makeProjectKey(id))
}

func (t *badgerTx) UpsertEmbedding(ctx context.Context, embedding *storage.Embedding) error {
	if err := projectExists(t.txn, embedding.ProjectID); err != nil {
		return err
	}
	embedding.Dimension = len(embedding.Vector)
	embedding.CreatedAt = time.Now().UTC()

	value, err := marshalEmbedding(embedding)
	if err != nil {
		return err
	}
	return t.txn.Set(makeEmbeddingKey(embedding.ProjectID), value)
}

func (t *badgerTx) DeleteEmbedding(ctx context.Context, projectID int64) error {
	return t.txn.Delete(makeEmbeddingKey(projectID))
}

func (t *badgerTx) AddTags(ctx context.Context, projectID int64, tags []string) error {
	if err := projectExists(t.txn, projectID); err != nil {
		return err
	}
	for _, tag := range tags {
		if err := t.txn.Set(makeTagKey(projectID, tag), nil); err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTx) RemoveTags(ctx context.Context, projectID int64, tags []string) error {
	if err := projectExists(t.txn, projectID); err != nil {
		return err
	}
	for _, tag := range tags {
		if err := t.txn.Delete(makeTagKey(projectID, tag)); err != nil {
			return err
		}
	}
	return nil
}
