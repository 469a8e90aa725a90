// Package reembed recomputes project embeddings.
//
// A run lists projects stored without an embedding (or with a vector whose
// dimension no longer matches the provider), embeds their descriptions in
// batches across a bounded worker pool, and commits each vector in its own
// transaction. A project whose description changed after it was listed is
// skipped; the edit already produced a fresh embedding or degraded it.
//
// Set Config.All after switching models to recompute every embedding.
//
//	r := reembed.New(store, logger, metrics)
//	stats, err := r.Run(ctx, &reembed.Config{Workers: 4})
//	fmt.Printf("updated %d, failed %d\n", stats.Updated, stats.Failed)
//
// Only one run may be active per Reembedder; a concurrent Run returns
// ErrAlreadyRunning.
package reembed
