package embedding

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lancejames221b/haivemind/internal/domain/memory"
	"github.com/lancejames221b/haivemind/internal/port/cache"
	embeddingport "github.com/lancejames221b/haivemind/internal/port/embedding"
)

// CachingProvider wraps another embeddingport.Provider with a content-hash
// keyed cache, so re-storing identical text (common across agents reporting
// the same fact) skips the embedding round-trip entirely.
type CachingProvider struct {
	inner embeddingport.Provider
	cache cache.Cache
	ttl   time.Duration
}

// NewCachingProvider wraps inner with ttl-bounded caching through store.
func NewCachingProvider(inner embeddingport.Provider, store cache.Cache, ttl time.Duration) *CachingProvider {
	return &CachingProvider{inner: inner, cache: store, ttl: ttl}
}

// Dimension delegates to the wrapped provider.
func (p *CachingProvider) Dimension() int {
	return p.inner.Dimension()
}

// Embed returns a cached vector per text when available, embedding only the
// cache misses and writing them back before returning.
func (p *CachingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, t := range texts {
		key := cacheKey(t)
		data, ok, err := p.cache.Get(ctx, key)
		if err != nil {
			slog.Debug("embedding cache get failed, falling back to live embed", "error", err)
			ok = false
		}
		if ok {
			var vec []float32
			if err := json.Unmarshal(data, &vec); err == nil {
				result[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return result, nil
	}

	embedded, err := p.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		result[idx] = embedded[j]
		if data, err := json.Marshal(embedded[j]); err == nil {
			if err := p.cache.Set(ctx, cacheKey(missTexts[j]), data, p.ttl); err != nil {
				slog.Debug("embedding cache set failed", "error", err)
			}
		}
	}

	return result, nil
}

func cacheKey(text string) string {
	return "embedding:" + memory.HashContent(text)
}
