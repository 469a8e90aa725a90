package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		e, err := New(Config{Provider: "LOCAL", Dimension: 32, CacheSize: 5})
		require.NoError(t, err)
		assert.Equal(t, ProviderLocal, e.Provider())
		assert.Equal(t, 32, e.Dimension())
		assert.NoError(t, e.Close())
	})

	t.Run("empty provider defaults to local", func(t *testing.T) {
		e, err := New(Config{})
		require.NoError(t, err)
		assert.Equal(t, ProviderLocal, e.Provider())
		assert.Equal(t, LocalDimension, e.Dimension())
	})

	t.Run("openai compatible server", func(t *testing.T) {
		e, err := New(Config{Provider: "openai", BaseURL: "http://localhost:11434/v1", Model: "nomic-embed-text", Dimension: 768})
		require.NoError(t, err)
		assert.Equal(t, ProviderOpenAI, e.Provider())
		assert.Equal(t, "nomic-embed-text", e.Model())
		assert.Equal(t, 768, e.Dimension())
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := New(Config{Provider: "jina"})
		assert.ErrorIs(t, err, ErrUnsupportedProvider)
	})
}

func TestDetectProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	assert.Equal(t, ProviderLocal, DetectProvider())

	t.Setenv("OPENAI_API_KEY", "sk-test")
	assert.Equal(t, ProviderOpenAI, DetectProvider())
}
