package evidence

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// Backend is the pluggable nearest-neighbor index behind a Store. Add
// replaces by chunk ID; dedup/merge policy lives in the Store.
type Backend interface {
	Add(ctx context.Context, chunk *Chunk) error
	Get(ctx context.Context, id string) (*Chunk, bool, error)
	Search(ctx context.Context, query []float32, k int, pathPrefix string) ([]Hit, error)
	Items(ctx context.Context) ([]*Chunk, error)
	Len(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
	Close() error
}

// MemoryBackend is a brute-force cosine index. It is the default backend
// for ephemeral scopes: everything lives in one map, searches scan it.
type MemoryBackend struct {
	mu     sync.RWMutex
	chunks map[string]*Chunk
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{chunks: make(map[string]*Chunk)}
}

func (b *MemoryBackend) Add(ctx context.Context, chunk *Chunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks[chunk.ID] = chunk.Clone()
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, id string) (*Chunk, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.chunks[id]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

func (b *MemoryBackend) Search(ctx context.Context, query []float32, k int, pathPrefix string) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	b.mu.RLock()
	hits := make([]Hit, 0, len(b.chunks))
	for _, c := range b.chunks {
		if c.EmbedFailed || len(c.Embedding) == 0 {
			continue
		}
		if !pathWithin(c.ConceptPath, pathPrefix) {
			continue
		}
		hits = append(hits, hitFromChunk(c, cosine(query, c.Embedding)))
	}
	b.mu.RUnlock()

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (b *MemoryBackend) Items(ctx context.Context) ([]*Chunk, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	items := make([]*Chunk, 0, len(b.chunks))
	for _, c := range b.chunks {
		items = append(items, c.Clone())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (b *MemoryBackend) Len(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.chunks), nil
}

func (b *MemoryBackend) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = make(map[string]*Chunk)
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}

// sortHits orders by score descending, breaking ties toward the more
// recently updated source.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].LastUpdated.After(hits[j].LastUpdated)
	})
}

// pathWithin reports whether chunkPath lies within the subtree named by
// prefix. An empty prefix matches everything; a chunk without a path only
// matches the empty prefix.
func pathWithin(chunkPath, prefix string) bool {
	if prefix == "" {
		return true
	}
	if chunkPath == prefix {
		return true
	}
	return strings.HasPrefix(chunkPath, prefix+" > ")
}

func cosine(u, v []float32) float64 {
	n := len(u)
	if len(v) < n {
		n = len(v)
	}
	var dot, nu, nv float64
	for i := 0; i < n; i++ {
		dot += float64(u[i]) * float64(v[i])
		nu += float64(u[i]) * float64(u[i])
		nv += float64(v[i]) * float64(v[i])
	}
	if nu == 0 || nv == 0 {
		return 0
	}
	return dot / (math.Sqrt(nu) * math.Sqrt(nv))
}
