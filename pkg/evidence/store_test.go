package evidence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChunk(id string, vec []float32) *Chunk {
	return &Chunk{
		ID:         id,
		Text:       "text for " + id,
		TokenCount: 3,
		SplitAlgo:  "sliding_800_160",
		Sources:    []Provenance{{URL: "https://example.com/" + id, Selector: "#"}},
		Embedding:  vec,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore("scope-a", NewMemoryBackend(), zerolog.Nop())
}

func TestUpsertIdempotence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.Upsert(ctx, testChunk("h1", []float32{1, 0}))
	require.NoError(t, err)
	assert.True(t, inserted)

	for i := 0; i < 5; i++ {
		inserted, err = s.Upsert(ctx, testChunk("h1", []float32{1, 0}))
		require.NoError(t, err)
		assert.False(t, inserted)
	}

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "re-inserting the same hash must not change cardinality")
}

func TestUpsertMergesProvenance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c1 := testChunk("h1", []float32{1, 0})
	c1.Sources = []Provenance{{URL: "https://a.example/post", Selector: "#"}}
	_, err := s.Upsert(ctx, c1)
	require.NoError(t, err)

	c2 := testChunk("h1", []float32{1, 0})
	c2.Sources = []Provenance{{URL: "https://b.example/mirror", Selector: "#"}}
	_, err = s.Upsert(ctx, c2)
	require.NoError(t, err)

	items, err := s.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Len(t, items[0].Sources, 2, "both provenance entries must be kept")
}

func TestUpsertNewerLastUpdatedWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	c1 := testChunk("h1", []float32{1, 0})
	c1.LastUpdated = newer
	_, err := s.Upsert(ctx, c1)
	require.NoError(t, err)

	c2 := testChunk("h1", []float32{1, 0})
	c2.LastUpdated = older
	_, err = s.Upsert(ctx, c2)
	require.NoError(t, err)

	items, _ := s.Items(ctx)
	require.Len(t, items, 1)
	assert.Equal(t, newer, items[0].LastUpdated, "older timestamp must not overwrite newer")
}

func TestUpsertRejectsForeignScope(t *testing.T) {
	s := newTestStore(t)
	c := testChunk("h1", []float32{1, 0})
	c.ScopeID = "scope-b"

	_, err := s.Upsert(context.Background(), c)
	assert.Error(t, err)
}

func TestUpsertRejectsMissingHash(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert(context.Background(), &Chunk{Text: "no hash"})
	assert.Error(t, err)
}

func TestConcurrentUpsertsSameHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	urls := []string{"https://a.example", "https://b.example", "https://c.example", "https://d.example"}
	for _, url := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			c := testChunk("h1", []float32{1, 0})
			c.Sources = []Provenance{{URL: u, Selector: "#"}}
			_, err := s.Upsert(ctx, c)
			assert.NoError(t, err)
		}(url)
	}
	wg.Wait()

	items, err := s.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1, "concurrent upserts of one hash must not double-insert")
	assert.Len(t, items[0].Sources, len(urls), "every loser's provenance must still be merged")
}

func TestSearchOrderingAndTieBreak(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	near := testChunk("near", []float32{1, 0})
	far := testChunk("far", []float32{0, 1})
	require.NoError(t, upsert(t, s, near))
	require.NoError(t, upsert(t, s, far))

	// Two chunks with identical vectors but different freshness
	stale := testChunk("stale", []float32{0.9, 0.1})
	stale.LastUpdated = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := testChunk("fresh", []float32{0.9, 0.1})
	fresh.LastUpdated = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, upsert(t, s, stale))
	require.NoError(t, upsert(t, s, fresh))

	hits, err := s.Search(ctx, []float32{1, 0}, 4, "")
	require.NoError(t, err)
	require.Len(t, hits, 4)

	assert.Equal(t, "near", hits[0].ChunkID)
	assert.Equal(t, "fresh", hits[1].ChunkID, "tie must break toward newer last_updated")
	assert.Equal(t, "stale", hits[2].ChunkID)
	assert.Equal(t, "far", hits[3].ChunkID)
}

func TestSearchPathFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inside := testChunk("inside", []float32{0.5, 0.5})
	inside.ConceptPath = "Core Web Vitals > Cumulative Layout Shift"
	outside := testChunk("outside", []float32{1, 0}) // globally highest score
	outside.ConceptPath = "Core Web Vitals > Largest Contentful Paint"

	require.NoError(t, upsert(t, s, inside))
	require.NoError(t, upsert(t, s, outside))

	hits, err := s.Search(ctx, []float32{1, 0}, 10, "Core Web Vitals > Cumulative Layout Shift")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "inside", hits[0].ChunkID,
		"a filtered search must exclude higher-scoring hits outside the subtree")
}

func TestSearchExcludesEmbedFailedChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	failed := testChunk("failed", nil)
	failed.EmbedFailed = true
	require.NoError(t, upsert(t, s, failed))
	require.NoError(t, upsert(t, s, testChunk("ok", []float32{1, 0})))

	hits, err := s.Search(ctx, []float32{1, 0}, 10, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ok", hits[0].ChunkID)

	// the failed chunk is still recorded, just not searchable
	n, _ := s.Len(ctx)
	assert.Equal(t, 2, n)
}

func TestResetCompleteness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, upsert(t, s, testChunk("h1", []float32{1, 0})))
	require.NoError(t, s.Reset(ctx))

	hits, err := s.Search(ctx, []float32{1, 0}, 10, "")
	require.NoError(t, err)
	assert.Empty(t, hits)

	inserted, err := s.Upsert(ctx, testChunk("h1", []float32{1, 0}))
	require.NoError(t, err)
	assert.True(t, inserted, "an add after reset starts from an empty state")
}

func TestScopeIsolation(t *testing.T) {
	ctx := context.Background()
	a := NewStore("scope-a", NewMemoryBackend(), zerolog.Nop())
	b := NewStore("scope-b", NewMemoryBackend(), zerolog.Nop())

	require.NoError(t, upsert(t, b, testChunk("only-in-b", []float32{1, 0})))

	hits, err := a.Search(ctx, []float32{1, 0}, 10, "")
	require.NoError(t, err)
	assert.Empty(t, hits, "a search in scope A must never see scope B's chunks")
}

func upsert(t *testing.T, s *Store, c *Chunk) error {
	t.Helper()
	_, err := s.Upsert(context.Background(), c)
	return err
}
