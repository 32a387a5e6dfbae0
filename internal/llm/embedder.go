package llm

import (
	"context"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Normalize scales v to unit length in place and returns it. Zero
// vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// CachingEmbedder wraps an Embedder with an LRU cache keyed by input
// text. Repeated embeddings of the same text (dedup checks, recall
// queries, re-ingests) skip the provider round trip, and the cache also
// guarantees determinism for identical inputs within its window.
type CachingEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

var _ Embedder = (*CachingEmbedder)(nil)

// NewCachingEmbedder wraps inner with a cache of the given size.
func NewCachingEmbedder(inner Embedder, size int) (*CachingEmbedder, error) {
	if size < 1 {
		size = 4096
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachingEmbedder{inner: inner, cache: cache}, nil
}

// Dimension returns the wrapped embedder's vector width.
func (c *CachingEmbedder) Dimension() int {
	return c.inner.Dimension()
}

// Embed serves cached vectors where possible and forwards only the
// misses to the wrapped embedder, preserving input order.
func (c *CachingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = fresh[j]
		c.cache.Add(missTexts[j], fresh[j])
	}
	return out, nil
}
