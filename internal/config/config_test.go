package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/projectsearch/internal/embedder"
	"github.com/dshills/projectsearch/internal/projectstore"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, EnvPrefix) {
			t.Setenv(name, "")
			require.NoError(t, os.Unsetenv(name))
		}
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadBytes(nil)
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, embedder.ProviderLocal, cfg.Embedding.Provider)
	assert.Equal(t, embedder.LocalDimension, cfg.Embedding.Dimension)
	assert.Equal(t, projectstore.DefaultEmbedTimeout, cfg.Embedding.Timeout)
	assert.Equal(t, "degrade", cfg.Embedding.Policy)
	assert.Equal(t, "owner", cfg.Projects.EditorPolicy)
	assert.Equal(t, embedder.DefaultBatchSize, cfg.Reembed.BatchSize)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, *Default(), *cfg)
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadBytes([]byte(`
storage:
  backend: badger
  path: /tmp/projects
embedding:
  provider: openai
  base_url: http://localhost:8080/v1
  model: nomic-embed-text
  dimension: 768
  timeout: 3s
  policy: require
projects:
  editor_policy: any
search:
  default_limit: 25
  timeout: 2s
reembed:
  workers: 4
  batch_size: 10
logging:
  level: debug
  format: console
metrics:
  enabled: true
  addr: ":9000"
`))
	require.NoError(t, err)

	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/projects", cfg.Storage.Path)
	assert.Equal(t, embedder.ProviderOpenAI, cfg.Embedding.Provider)
	assert.Equal(t, "http://localhost:8080/v1", cfg.Embedding.BaseURL)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, 3*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, 25, cfg.Search.DefaultLimit)
	assert.Equal(t, 2*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 4, cfg.Reembed.Workers)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)

	opts := cfg.StoreOptions()
	assert.Equal(t, projectstore.PolicyRequire, opts.EmbeddingPolicy)
	assert.Equal(t, projectstore.EditorAny, opts.EditorPolicy)
	assert.Equal(t, 3*time.Second, opts.EmbedTimeout)

	ec := cfg.EmbedderConfig()
	assert.Equal(t, "nomic-embed-text", ec.Model)
	assert.Equal(t, 768, ec.Dimension)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROJECTSEARCH_STORAGE_BACKEND", "memory")
	t.Setenv("PROJECTSEARCH_EMBEDDING_POLICY", "require")
	t.Setenv("PROJECTSEARCH_PROJECTS_EDITOR_POLICY", "any")
	t.Setenv("PROJECTSEARCH_EMBEDDING_TIMEOUT", "250ms")

	cfg, err := LoadBytes([]byte("storage:\n  backend: sqlite\n"))
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, "require", cfg.Embedding.Policy)
	assert.Equal(t, "any", cfg.Projects.EditorPolicy)
	assert.Equal(t, 250*time.Millisecond, cfg.Embedding.Timeout)
}

func TestOpenAIDimensionDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadBytes(nil)
	require.NoError(t, err)
	assert.Equal(t, embedder.ProviderOpenAI, cfg.Embedding.Provider)
	assert.Equal(t, embedder.OpenAIDimension, cfg.Embedding.Dimension)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "cohere" }},
		{"negative dimension", func(c *Config) { c.Embedding.Dimension = -1 }},
		{"unknown policy", func(c *Config) { c.Embedding.Policy = "retry" }},
		{"unknown editor policy", func(c *Config) { c.Projects.EditorPolicy = "admins" }},
		{"negative limit", func(c *Config) { c.Search.DefaultLimit = -5 }},
		{"batch too large", func(c *Config) { c.Reembed.BatchSize = embedder.MaxBatchSize + 1 }},
		{"negative rate limit", func(c *Config) { c.Reembed.RateLimit = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg := Default()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: memory\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	clearEnv(t)
	_, err := LoadBytes([]byte("storage: [unclosed"))
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "storage.backend", envKey("PROJECTSEARCH_STORAGE_BACKEND"))
	assert.Equal(t, "embedding.base_url", envKey("PROJECTSEARCH_EMBEDDING_BASE_URL"))
	assert.Equal(t, "debug", envKey("PROJECTSEARCH_DEBUG"))
}
