// Package config loads projectsearch configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dshills/projectsearch/internal/embedder"
	"github.com/dshills/projectsearch/internal/logging"
	"github.com/dshills/projectsearch/internal/projectstore"
)

// Storage backends
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full application configuration
type Config struct {
	Storage   StorageConfig   `koanf:"storage"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Projects  ProjectsConfig  `koanf:"projects"`
	Search    SearchConfig    `koanf:"search"`
	Reembed   ReembedConfig   `koanf:"reembed"`
	Logging   logging.Config  `koanf:"logging"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// StorageConfig selects and locates the storage backend
type StorageConfig struct {
	Backend string `koanf:"backend"` // sqlite, badger, memory
	Path    string `koanf:"path"`    // Database file (sqlite) or directory (badger); empty uses ~/.projectsearch
}

// EmbeddingConfig configures the embedding provider and write policy
type EmbeddingConfig struct {
	Provider  string        `koanf:"provider"` // openai, local; empty detects from OPENAI_API_KEY
	BaseURL   string        `koanf:"base_url"`
	APIKey    string        `koanf:"api_key"`
	Model     string        `koanf:"model"`
	Dimension int           `koanf:"dimension"`
	CacheSize int           `koanf:"cache_size"`
	Timeout   time.Duration `koanf:"timeout"`
	Policy    string        `koanf:"policy"` // degrade, require
}

// ProjectsConfig configures project mutation rules
type ProjectsConfig struct {
	EditorPolicy string `koanf:"editor_policy"` // owner, any
}

// SearchConfig configures query handling
type SearchConfig struct {
	DefaultLimit int           `koanf:"default_limit"` // 0 returns every match
	Timeout      time.Duration `koanf:"timeout"`       // Overall semantic search deadline
}

// ReembedConfig configures the re-embedding worker
type ReembedConfig struct {
	Workers   int     `koanf:"workers"`
	BatchSize int     `koanf:"batch_size"`
	RateLimit float64 `koanf:"rate_limit"` // Provider calls per second; 0 is unlimited
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero values
func applyDefaults(cfg *Config) {
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendSQLite
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = embedder.DetectProvider()
	}
	if cfg.Embedding.Dimension == 0 {
		if cfg.Embedding.Provider == embedder.ProviderOpenAI {
			cfg.Embedding.Dimension = embedder.OpenAIDimension
		} else {
			cfg.Embedding.Dimension = embedder.LocalDimension
		}
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = embedder.DefaultCacheSize
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = projectstore.DefaultEmbedTimeout
	}
	if cfg.Embedding.Policy == "" {
		cfg.Embedding.Policy = string(projectstore.PolicyDegrade)
	}

	if cfg.Projects.EditorPolicy == "" {
		cfg.Projects.EditorPolicy = string(projectstore.EditorOwner)
	}

	if cfg.Search.Timeout == 0 {
		cfg.Search.Timeout = 15 * time.Second
	}

	if cfg.Reembed.BatchSize == 0 {
		cfg.Reembed.BatchSize = embedder.DefaultBatchSize
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "127.0.0.1:9464"
	}
}

// Validate checks enumerations and ranges
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]string{BackendSQLite, BackendBadger, BackendMemory}, c.Storage.Backend) {
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}

	if !slices.Contains([]string{embedder.ProviderOpenAI, embedder.ProviderLocal}, c.Embedding.Provider) {
		errs = append(errs, fmt.Errorf("embedding.provider: unknown provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension: must be positive, got %d", c.Embedding.Dimension))
	}
	if c.Embedding.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("embedding.cache_size: must be >= 0, got %d", c.Embedding.CacheSize))
	}
	if c.Embedding.Timeout < 0 {
		errs = append(errs, fmt.Errorf("embedding.timeout: must be positive, got %s", c.Embedding.Timeout))
	}
	switch projectstore.EmbeddingPolicy(c.Embedding.Policy) {
	case projectstore.PolicyDegrade, projectstore.PolicyRequire:
	default:
		errs = append(errs, fmt.Errorf("embedding.policy: unknown policy %q", c.Embedding.Policy))
	}

	switch projectstore.EditorPolicy(c.Projects.EditorPolicy) {
	case projectstore.EditorOwner, projectstore.EditorAny:
	default:
		errs = append(errs, fmt.Errorf("projects.editor_policy: unknown policy %q", c.Projects.EditorPolicy))
	}

	if c.Search.DefaultLimit < 0 {
		errs = append(errs, fmt.Errorf("search.default_limit: must be >= 0, got %d", c.Search.DefaultLimit))
	}
	if c.Search.Timeout < 0 {
		errs = append(errs, fmt.Errorf("search.timeout: must be positive, got %s", c.Search.Timeout))
	}

	if c.Reembed.Workers < 0 {
		errs = append(errs, fmt.Errorf("reembed.workers: must be >= 0, got %d", c.Reembed.Workers))
	}
	if c.Reembed.BatchSize < 0 || c.Reembed.BatchSize > embedder.MaxBatchSize {
		errs = append(errs, fmt.Errorf("reembed.batch_size: must be between 1 and %d, got %d", embedder.MaxBatchSize, c.Reembed.BatchSize))
	}

	if c.Reembed.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("reembed.rate_limit: must be >= 0, got %g", c.Reembed.RateLimit))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// EmbedderConfig converts the embedding section for embedder.New
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  c.Embedding.Provider,
		BaseURL:   c.Embedding.BaseURL,
		APIKey:    c.Embedding.APIKey,
		Model:     c.Embedding.Model,
		Dimension: c.Embedding.Dimension,
		CacheSize: c.Embedding.CacheSize,
	}
}

// StoreOptions converts the policy settings for projectstore.New
func (c *Config) StoreOptions() projectstore.Options {
	return projectstore.Options{
		EmbeddingPolicy: projectstore.EmbeddingPolicy(c.Embedding.Policy),
		EditorPolicy:    projectstore.EditorPolicy(c.Projects.EditorPolicy),
		EmbedTimeout:    c.Embedding.Timeout,
	}
}
