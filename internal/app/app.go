// Package app wires configuration into a running set of components.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dshills/projectsearch/internal/config"
	"github.com/dshills/projectsearch/internal/embedder"
	"github.com/dshills/projectsearch/internal/metrics"
	"github.com/dshills/projectsearch/internal/projectstore"
	"github.com/dshills/projectsearch/internal/reembed"
	"github.com/dshills/projectsearch/internal/searcher"
	"github.com/dshills/projectsearch/internal/storage"
	badgerstore "github.com/dshills/projectsearch/internal/storage/badger"
	"github.com/dshills/projectsearch/pkg/types"
)

// DefaultDataDir is where databases live when storage.path is empty
const DefaultDataDir = "~/.projectsearch"

// App holds the wired components
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Storage    storage.Storage
	Embedder   embedder.Embedder
	Store      *projectstore.Store
	Searcher   *searcher.Searcher
	Reembedder *reembed.Reembedder
}

// New opens storage and the embedding provider and builds the services
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	st, err := OpenStorage(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	emb, err := embedder.New(cfg.EmbedderConfig())
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return Wire(cfg, logger, st, emb), nil
}

// Wire builds the services around an already opened storage and embedder
func Wire(cfg *config.Config, logger *zap.Logger, st storage.Storage, emb embedder.Embedder) *App {
	m := metrics.New()

	opts := cfg.StoreOptions()
	opts.Logger = logger.Named("store")
	opts.Metrics = m
	store := projectstore.New(st, emb, opts)

	logger.Info("project search initialized",
		zap.String("backend", st.Backend()),
		zap.String("provider", emb.Provider()),
		zap.String("model", emb.Model()),
		zap.Int("dimension", emb.Dimension()),
		zap.String("embedding_policy", string(opts.EmbeddingPolicy)),
		zap.String("editor_policy", string(opts.EditorPolicy)))

	return &App{
		Config:     cfg,
		Logger:     logger,
		Metrics:    m,
		Storage:    st,
		Embedder:   emb,
		Store:      store,
		Searcher:   searcher.NewSearcher(store, logger.Named("search"), m),
		Reembedder: reembed.New(store, logger.Named("reembed"), m),
	}
}

// Search applies the configured default limit and deadline
func (a *App) Search(ctx context.Context, req searcher.SearchRequest) (*types.SearchResponse, error) {
	if req.Limit == 0 {
		req.Limit = a.Config.Search.DefaultLimit
	}
	if a.Config.Search.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.Search.Timeout)
		defer cancel()
	}
	return a.Searcher.Search(ctx, req)
}

// Reembed runs the re-embedding worker with the configured pool size
func (a *App) Reembed(ctx context.Context, all bool) (*reembed.Statistics, error) {
	return a.Reembedder.Run(ctx, &reembed.Config{
		Workers:   a.Config.Reembed.Workers,
		BatchSize: a.Config.Reembed.BatchSize,
		All:       all,
		RateLimit: a.Config.Reembed.RateLimit,
	})
}

// Close releases the embedder and storage
func (a *App) Close() error {
	embErr := a.Embedder.Close()
	stErr := a.Storage.Close()
	_ = a.Logger.Sync()
	return errors.Join(embErr, stErr)
}

// OpenStorage opens the configured backend
func OpenStorage(cfg config.StorageConfig, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemoryStorage(), nil

	case config.BackendSQLite:
		path := cfg.Path
		if path == "" {
			dir, err := expandHome(DefaultDataDir)
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "projects.db")
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		logger.Debug("opening sqlite storage",
			zap.String("path", path),
			zap.String("driver", storage.DriverName),
			zap.String("build_mode", storage.BuildMode))
		return storage.NewSQLiteStorage(path)

	case config.BackendBadger:
		path := cfg.Path
		if path == "" {
			dir, err := expandHome(DefaultDataDir)
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "badger")
		}
		logger.Debug("opening badger storage", zap.String("path", path))
		return badgerstore.Open(path, false, logger)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// expandHome replaces a leading ~ with the user's home directory
func expandHome(path string) (string, error) {
	if path != "~" && !hasHomePrefix(path) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

func hasHomePrefix(path string) bool {
	return len(path) >= 2 && path[0] == '~' && path[1] == '/'
}
