package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tobyv/researchmem/internal/observability"
)

// CacheConfig tunes the caching wrapper
type CacheConfig struct {
	Timeout    time.Duration // per-attempt bound on gateway calls
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // backoff base, doubled per retry
}

// DefaultCacheConfig returns sensible bounds for gateway calls
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
	}
}

// CachedProvider wraps a Provider with a content-hash keyed cache and
// bounded retries. Repeated text never re-invokes the gateway within the
// cache's lifetime, which is the owning scope's lifetime.
type CachedProvider struct {
	inner  Provider
	cfg    CacheConfig
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string][]float32
}

// NewCachedProvider wraps inner with caching and retry behavior
func NewCachedProvider(inner Provider, cfg CacheConfig, logger zerolog.Logger) *CachedProvider {
	observability.EnsureRegistered()
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCacheConfig().Timeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultCacheConfig().BaseDelay
	}
	return &CachedProvider{
		inner:  inner,
		cfg:    cfg,
		logger: logger,
		cache:  make(map[string][]float32),
	}
}

func (p *CachedProvider) Dimension() int {
	return p.inner.Dimension()
}

// Embed returns vectors for texts, serving cached entries and batching the
// misses into a single gateway call.
func (p *CachedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var missTexts []string
	var missIdx []int

	p.mu.RLock()
	for i, text := range texts {
		key := ContentKey(text)
		if vec, ok := p.cache[key]; ok {
			out[i] = vec
			observability.RecordEmbedCacheHit()
		} else {
			missTexts = append(missTexts, text)
			missIdx = append(missIdx, i)
			observability.RecordEmbedCacheMiss()
		}
	}
	p.mu.RUnlock()

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := p.embedWithRetry(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	for j, vec := range vecs {
		out[missIdx[j]] = vec
		p.cache[ContentKey(missTexts[j])] = vec
	}
	p.mu.Unlock()

	return out, nil
}

func (p *CachedProvider) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.cfg.BaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		vecs, err := p.inner.Embed(attemptCtx, texts)
		cancel()

		if err == nil {
			if len(vecs) != len(texts) {
				return nil, fmt.Errorf("embedding gateway returned %d vectors for %d texts", len(vecs), len(texts))
			}
			return vecs, nil
		}

		lastErr = err
		p.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("batch", len(texts)).
			Msg("Embedding gateway call failed")

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	observability.RecordEmbedFailure()
	return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, lastErr)
}

// Len returns the number of cached vectors
func (p *CachedProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

// ContentKey returns the cache key for a text: hex sha256 of the raw bytes.
func ContentKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
