// Package rag assembles supporting context for agents: a knowledge-base
// similarity search and an external web search, fanned out concurrently
// and merged into one ranked bundle.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"souschef/internal/models"
)

// ErrRetrieval is returned only when every requested source failed
var ErrRetrieval = errors.New("all retrieval sources failed")

// KnowledgeBase is the vector-index side of the fan-out
type KnowledgeBase interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Search(ctx context.Context, queryVec []float32, topK int, filters map[string]string) ([]models.RetrievalChunk, error)
}

// Coordinator fans a query out to the knowledge base and external
// search, caches recent results and degrades to the surviving source
// when one side fails.
type Coordinator struct {
	kb       KnowledgeBase
	external ExternalSearcher
	cache    *QueryCache
	flight   singleflight.Group

	defaults models.RetrievalOptions
}

// NewCoordinator wires a coordinator. external may be nil, in which case
// IncludeExternal requests degrade to knowledge-base-only bundles.
func NewCoordinator(kb KnowledgeBase, external ExternalSearcher, cache *QueryCache, defaults models.RetrievalOptions) *Coordinator {
	if defaults.TopK <= 0 {
		defaults.TopK = 5
	}
	if cache == nil {
		cache = NewQueryCache(5*time.Minute, nil)
	}
	return &Coordinator{
		kb:       kb,
		external: external,
		cache:    cache,
		defaults: defaults,
	}
}

// Defaults returns the coordinator's default retrieval options
func (c *Coordinator) Defaults() models.RetrievalOptions {
	return c.defaults
}

// Retrieve assembles a bundle for query. Identical (query, opts) pairs
// within the cache TTL are served from the cache without touching the
// backends; concurrent identical misses share one backend call.
func (c *Coordinator) Retrieve(ctx context.Context, query string, opts models.RetrievalOptions) (*models.RetrievalBundle, error) {
	if opts.TopK <= 0 {
		opts.TopK = c.defaults.TopK
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = c.defaults.MinSimilarity
	}

	key := CacheKey(query, opts)
	if bundle, ok := c.cache.Get(ctx, key); ok {
		return bundle, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		bundle, err := c.retrieve(ctx, query, opts)
		if err != nil {
			return nil, err
		}
		// A degraded bundle reflects a transient backend outage; caching
		// it would pin the outage for the full TTL.
		if !bundle.Degraded {
			c.cache.Set(ctx, key, bundle)
		}
		return bundle, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.RetrievalBundle), nil
}

func (c *Coordinator) retrieve(ctx context.Context, query string, opts models.RetrievalOptions) (*models.RetrievalBundle, error) {
	// Shared cancellation scope for the fan-out; the timeout bounds the
	// join, not each side individually.
	fanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type kbResult struct {
		chunks []models.RetrievalChunk
		err    error
	}
	type extResult struct {
		chunks []models.RetrievalChunk
		err    error
	}

	kbCh := make(chan kbResult, 1)
	go func() {
		chunks, err := c.searchKnowledge(fanCtx, query, opts)
		kbCh <- kbResult{chunks, err}
	}()

	wantExternal := opts.IncludeExternal && c.external != nil
	extCh := make(chan extResult, 1)
	if wantExternal {
		go func() {
			chunks, err := c.external.Search(fanCtx, query, opts.TopK)
			extCh <- extResult{chunks, err}
		}()
	} else {
		extCh <- extResult{}
	}

	kb := <-kbCh
	ext := <-extCh

	if kb.err != nil && wantExternal && ext.err != nil {
		return nil, fmt.Errorf("%w: knowledge: %v; external: %v", ErrRetrieval, kb.err, ext.err)
	}
	if kb.err != nil && !wantExternal {
		return nil, fmt.Errorf("%w: knowledge: %v", ErrRetrieval, kb.err)
	}

	bundle := &models.RetrievalBundle{
		Knowledge: kb.chunks,
		External:  ext.chunks,
	}
	if kb.err != nil {
		log.Printf("⚠️  [RAG] Knowledge search failed, degrading to external only: %v", kb.err)
		bundle.Degraded = true
	}
	if wantExternal && ext.err != nil {
		log.Printf("⚠️  [RAG] External search failed, degrading to knowledge only: %v", ext.err)
		bundle.Degraded = true
	}
	return bundle, nil
}

// searchKnowledge over-fetches 2×topK, filters by minSimilarity and
// truncates to topK. Ties keep index insertion order.
func (c *Coordinator) searchKnowledge(ctx context.Context, query string, opts models.RetrievalOptions) ([]models.RetrievalChunk, error) {
	vec, err := c.kb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	raw, err := c.kb.Search(ctx, vec, 2*opts.TopK, nil)
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}

	filtered := make([]models.RetrievalChunk, 0, len(raw))
	for _, chunk := range raw {
		if chunk.Similarity >= opts.MinSimilarity {
			filtered = append(filtered, chunk)
		}
	}
	if len(filtered) > opts.TopK {
		filtered = filtered[:opts.TopK]
	}
	return filtered, nil
}

// CacheSize reports the query cache's local item count
func (c *Coordinator) CacheSize() int {
	return c.cache.ItemCount()
}
