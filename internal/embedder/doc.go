// Package embedder turns text into fixed-dimension vectors.
//
// Two providers are available:
//   - local: an offline hashed bag-of-words model, deterministic and dependency free
//   - openai: any OpenAI-compatible /embeddings endpoint, through langchaingo
//
// Every provider returns vectors of exactly Dimension() elements; a remote
// model that answers with a different length fails with ErrDimensionMismatch
// instead of polluting the store with incomparable vectors.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "local", CacheSize: 1000})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "Web development with HTML, CSS and JavaScript",
//	})
//
// # Batch Processing
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: descriptions,
//	})
//
// Batches are limited to MaxBatchSize texts.
//
// # Caching
//
// Single-text requests are cached in an LRU keyed by the SHA-256 of the
// text. Cached vectors are copied on the way in and on the way out.
//
// # Retries
//
// Remote calls retry with exponential backoff (MaxRetries attempts). Context
// cancellation and permanent errors stop retrying immediately.
package embedder
