package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashingProviderDeterministic(t *testing.T) {
	p := NewHashingProvider(384, "")

	a, err := p.Embed(context.Background(), []string{"cumulative layout shift"})
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), []string{"cumulative layout shift"})
	require.NoError(t, err)

	assert.Equal(t, a[0], b[0])
	assert.Len(t, a[0], 384)
}

func TestHashingProviderSimilarity(t *testing.T) {
	p := NewHashingProvider(384, "")
	ctx := context.Background()

	vecs, err := p.Embed(ctx, []string{
		"layout shift metrics for web pages",
		"layout shift metrics for web sites",
		"recipes for sourdough bread",
	})
	require.NoError(t, err)

	near := Cosine(vecs[0], vecs[1])
	far := Cosine(vecs[0], vecs[2])
	assert.Greater(t, near, far, "overlapping token sets should score higher")
}

func TestHashingProviderEmptyText(t *testing.T) {
	p := NewHashingProvider(64, "")
	vecs, err := p.Embed(context.Background(), []string{"   "})
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 64), vecs[0])
}

func TestHashingProviderNamespaceSeparation(t *testing.T) {
	a := NewHashingProvider(128, "ns_a")
	b := NewHashingProvider(128, "ns_b")

	va, _ := a.Embed(context.Background(), []string{"concept index"})
	vb, _ := b.Embed(context.Background(), []string{"concept index"})
	assert.NotEqual(t, va[0], vb[0])
}

func TestHashingProviderRespectsCancel(t *testing.T) {
	p := NewHashingProvider(64, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Embed(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}
