// Package cache stores generated fragments keyed by the full text of
// the request that produced them. Keys stay raw text rather than
// hashes so the semantic tier can embed them.
package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"foundry/internal/embedding"
)

// Cache is the lookup contract the engine consumes. A miss is (_,
// false); implementations never fail a generation, they just miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

// Stats counts cache traffic for one tier.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// =============================================================================
// EXACT CACHE
// =============================================================================

// Exact is an O(1) map cache over verbatim keys.
type Exact struct {
	mu      sync.RWMutex
	entries map[string]string
	hits    uint64
	misses  uint64
}

// NewExact returns an empty exact-match cache.
func NewExact() *Exact {
	return &Exact{entries: make(map[string]string)}
}

func (c *Exact) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return value, ok
}

func (c *Exact) Set(_ context.Context, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

// Stats returns a snapshot of traffic counters.
func (c *Exact) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}

// =============================================================================
// SEMANTIC CACHE
// =============================================================================

type semanticEntry struct {
	key    string
	vector []float32
	value  string
}

// Semantic matches keys by embedding similarity. Lookups scan every
// entry, so it suits prompt-sized working sets, not bulk storage.
type Semantic struct {
	embedder  embedding.Embedder
	threshold float64
	max       int
	logger    *zap.Logger

	mu      sync.RWMutex
	entries []semanticEntry
	hits    uint64
	misses  uint64
}

// NewSemantic returns a similarity cache with a 0.90 cosine threshold
// and no entry bound.
func NewSemantic(embedder embedding.Embedder) *Semantic {
	return &Semantic{
		embedder:  embedder,
		threshold: 0.90,
		logger:    zap.NewNop(),
	}
}

// WithThreshold sets the minimum cosine similarity for a hit.
func (c *Semantic) WithThreshold(t float64) *Semantic {
	c.threshold = t
	return c
}

// WithMaxEntries bounds the cache; once full, the oldest entry is
// evicted on insert. Zero means unbounded.
func (c *Semantic) WithMaxEntries(n int) *Semantic {
	c.max = n
	return c
}

// WithLogger routes embed failures to a logger instead of dropping
// them silently.
func (c *Semantic) WithLogger(logger *zap.Logger) *Semantic {
	c.logger = logger
	return c
}

// Get embeds the key and returns the best entry at or above the
// threshold. Embedding failures count as misses.
func (c *Semantic) Get(ctx context.Context, key string) (string, bool) {
	vector, err := c.embedder.Embed(ctx, key)
	if err != nil {
		c.logger.Debug("semantic cache embed failed", zap.Error(err))
		c.miss()
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	best := -1
	bestScore := 0.0
	for i := range c.entries {
		score, err := embedding.Cosine(vector, c.entries[i].vector)
		if err != nil {
			continue
		}
		if score >= c.threshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		c.misses++
		return "", false
	}
	c.hits++
	return c.entries[best].value, true
}

// Set embeds and stores the pair. A key that is already present is
// updated in place.
func (c *Semantic) Set(ctx context.Context, key, value string) {
	vector, err := c.embedder.Embed(ctx, key)
	if err != nil {
		c.logger.Debug("semantic cache embed failed, entry dropped", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if c.entries[i].key == key {
			c.entries[i].vector = vector
			c.entries[i].value = value
			return
		}
	}
	c.entries = append(c.entries, semanticEntry{key: key, vector: vector, value: value})
	if c.max > 0 && len(c.entries) > c.max {
		c.entries = append(c.entries[:0], c.entries[1:]...)
	}
}

func (c *Semantic) miss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// Stats returns a snapshot of traffic counters.
func (c *Semantic) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}

// =============================================================================
// TIERED CACHE
// =============================================================================

// Tiered reads the exact tier first and falls back to the semantic
// tier; writes land in both. A semantic hit is promoted into the exact
// tier under the requested key.
type Tiered struct {
	exact    *Exact
	semantic *Semantic
}

// NewTiered combines an exact tier with a semantic tier over the given
// embedder.
func NewTiered(embedder embedding.Embedder) *Tiered {
	return &Tiered{
		exact:    NewExact(),
		semantic: NewSemantic(embedder),
	}
}

// WithThreshold sets the semantic tier's similarity threshold.
func (c *Tiered) WithThreshold(t float64) *Tiered {
	c.semantic.WithThreshold(t)
	return c
}

// WithMaxEntries bounds the semantic tier.
func (c *Tiered) WithMaxEntries(n int) *Tiered {
	c.semantic.WithMaxEntries(n)
	return c
}

// WithLogger routes semantic tier failures to a logger.
func (c *Tiered) WithLogger(logger *zap.Logger) *Tiered {
	c.semantic.WithLogger(logger)
	return c
}

func (c *Tiered) Get(ctx context.Context, key string) (string, bool) {
	if value, ok := c.exact.Get(ctx, key); ok {
		return value, true
	}
	value, ok := c.semantic.Get(ctx, key)
	if ok {
		c.exact.Set(ctx, key, value)
	}
	return value, ok
}

func (c *Tiered) Set(ctx context.Context, key, value string) {
	c.exact.Set(ctx, key, value)
	c.semantic.Set(ctx, key, value)
}

// TieredStats pairs the per-tier counters.
type TieredStats struct {
	Exact    Stats
	Semantic Stats
}

// Stats returns snapshots for both tiers.
func (c *Tiered) Stats() TieredStats {
	return TieredStats{Exact: c.exact.Stats(), Semantic: c.semantic.Stats()}
}
