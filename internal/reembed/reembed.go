package reembed

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dshills/projectsearch/internal/embedder"
	"github.com/dshills/projectsearch/internal/metrics"
	"github.com/dshills/projectsearch/internal/projectstore"
)

// ErrAlreadyRunning is returned when a run is started while another is active
var ErrAlreadyRunning = errors.New("re-embedding already in progress")

// DefaultBatchSize is the number of descriptions sent per provider call
const DefaultBatchSize = embedder.DefaultBatchSize

// Config contains configuration for a run
type Config struct {
	Workers   int  // Number of concurrent batches (default: runtime.NumCPU())
	BatchSize int  // Descriptions per provider call (default: DefaultBatchSize)
	All       bool // Recompute every embedding, not only missing or mismatched ones

	// RateLimit caps provider calls per second across workers; 0 is unlimited
	RateLimit float64
}

// Statistics contains statistics about a run
type Statistics struct {
	Candidates    int
	Updated       int
	Skipped       int // Blank descriptions, or projects edited or deleted during the run
	Failed        int
	Duration      time.Duration
	ErrorMessages []string
}

// Reembedder recomputes project embeddings in the background
type Reembedder struct {
	store   *projectstore.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	lock    RunLock
}

// New creates a new Reembedder instance
func New(store *projectstore.Store, logger *zap.Logger, m *metrics.Metrics) *Reembedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reembedder{
		store:   store,
		logger:  logger,
		metrics: m,
	}
}

// counters tracks per-run progress across workers
type counters struct {
	updated atomic.Int32
	skipped atomic.Int32
	failed  atomic.Int32

	mu       sync.Mutex
	messages []string
}

func (c *counters) fail(id int64, err error) {
	c.failed.Add(1)
	c.mu.Lock()
	c.messages = append(c.messages, fmt.Sprintf("project %d: %v", id, err))
	c.mu.Unlock()
}

// Run embeds every project that needs it. Provider failures are counted
// per project and do not stop the run; storage failures do.
func (r *Reembedder) Run(ctx context.Context, config *Config) (*Statistics, error) {
	if !r.lock.TryAcquire() {
		return nil, ErrAlreadyRunning
	}
	defer r.lock.Release()

	if config == nil {
		config = &Config{}
	}
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	batchSize := config.BatchSize
	if batchSize <= 0 || batchSize > embedder.MaxBatchSize {
		batchSize = DefaultBatchSize
	}

	startTime := time.Now()
	pending, err := r.store.ListProjectsNeedingEmbedding(ctx, config.All)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	var c counters
	work := make([]projectstore.Pending, 0, len(pending))
	for _, p := range pending {
		if strings.TrimSpace(p.Description) == "" {
			c.skipped.Add(1)
			r.metrics.RecordReembed("skipped")
			continue
		}
		work = append(work, p)
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < len(work); i += batchSize {
		batch := work[i:min(i+batchSize, len(work))]
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
			}
			return r.embedBatch(gctx, batch, &c)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &Statistics{
		Candidates:    len(pending),
		Updated:       int(c.updated.Load()),
		Skipped:       int(c.skipped.Load()),
		Failed:        int(c.failed.Load()),
		Duration:      time.Since(startTime),
		ErrorMessages: c.messages,
	}
	r.logger.Info("re-embedding finished",
		zap.Bool("all", config.All),
		zap.Int("candidates", stats.Candidates),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// embedBatch embeds one batch with a single provider call and commits each
// project in its own transaction.
func (r *Reembedder) embedBatch(ctx context.Context, batch []projectstore.Pending, c *counters) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.Description
	}

	resp, err := r.store.EmbedBatch(ctx, texts)
	if err != nil {
		// A timed-out batch fails its projects; only the run's own context ends the run
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.metrics.RecordProviderFailure("reembed")
		r.logger.Warn("batch embedding failed", zap.Int("batch_size", len(batch)), zap.Error(err))
		for _, p := range batch {
			c.fail(p.ID, err)
			r.metrics.RecordReembed("failed")
		}
		return nil
	}

	for i, p := range batch {
		e := resp.Embeddings[i]
		if len(e.Vector) != r.store.Dimension() {
			c.fail(p.ID, fmt.Errorf("%w: got %d, want %d", embedder.ErrDimensionMismatch, len(e.Vector), r.store.Dimension()))
			r.metrics.RecordReembed("failed")
			continue
		}

		applied, err := r.store.SetEmbedding(ctx, p.ID, p.Description, e)
		if err != nil {
			return fmt.Errorf("failed to store embedding for project %d: %w", p.ID, err)
		}
		if applied {
			c.updated.Add(1)
			r.metrics.RecordReembed("updated")
		} else {
			c.skipped.Add(1)
			r.metrics.RecordReembed("skipped")
		}
	}
	return nil
}
