package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"souschef/internal/models"
)

// QueryCache holds recent retrieval bundles keyed on normalized queries.
// Always has an in-process tier; a Redis tier is added when the process
// is configured with a shared instance so replicas reuse each other's
// retrievals.
type QueryCache struct {
	local *gocache.Cache
	redis *redis.Client
	ttl   time.Duration
}

// NewQueryCache creates a cache with the given TTL. redisClient may be nil.
func NewQueryCache(ttl time.Duration, redisClient *redis.Client) *QueryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		local: gocache.New(ttl, 2*ttl),
		redis: redisClient,
		ttl:   ttl,
	}
}

// CacheKey builds the cache key for a query + options pair. The query is
// normalized (case, whitespace) so trivially different phrasings hit.
func CacheKey(query string, opts models.RetrievalOptions) string {
	return fmt.Sprintf("rag:%s|k=%d|s=%.2f|x=%t",
		NormalizeQuery(query), opts.TopK, opts.MinSimilarity, opts.IncludeExternal)
}

// NormalizeQuery collapses whitespace and lowercases the query
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Get returns a cached bundle, checking the local tier first
func (c *QueryCache) Get(ctx context.Context, key string) (*models.RetrievalBundle, bool) {
	if v, ok := c.local.Get(key); ok {
		return v.(*models.RetrievalBundle), true
	}
	if c.redis != nil {
		raw, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var bundle models.RetrievalBundle
			if err := json.Unmarshal(raw, &bundle); err == nil {
				c.local.Set(key, &bundle, gocache.DefaultExpiration)
				return &bundle, true
			}
		} else if err != redis.Nil {
			log.Printf("⚠️  [RAG-CACHE] Redis read failed: %v", err)
		}
	}
	return nil, false
}

// Set stores a bundle in every configured tier
func (c *QueryCache) Set(ctx context.Context, key string, bundle *models.RetrievalBundle) {
	c.local.Set(key, bundle, gocache.DefaultExpiration)
	if c.redis != nil {
		raw, err := json.Marshal(bundle)
		if err == nil {
			if err := c.redis.Set(ctx, key, raw, c.ttl).Err(); err != nil {
				log.Printf("⚠️  [RAG-CACHE] Redis write failed: %v", err)
			}
		}
	}
}

// ItemCount reports the local tier size for the health endpoint
func (c *QueryCache) ItemCount() int {
	return c.local.ItemCount()
}
