package chunker

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmptyInput(t *testing.T) {
	c, err := New(100, 0.2, nil)
	require.NoError(t, err)

	assert.Empty(t, c.Split("", SourceMeta{}))
	assert.Empty(t, c.Split("   \n\t  ", SourceMeta{}))
}

func TestSplitSingleWindow(t *testing.T) {
	c, err := New(100, 0.2, nil)
	require.NoError(t, err)

	drafts := c.Split("layout shift happens when content moves unexpectedly.", SourceMeta{URL: "https://example.com/a"})
	require.Len(t, drafts, 1)

	d := drafts[0]
	assert.Equal(t, 7, d.TokenCount)
	assert.Equal(t, 0, d.StartIdx)
	assert.Equal(t, 7, d.EndIdx)
	assert.Equal(t, "sliding_100_20", d.SplitAlgo)
	assert.Equal(t, "https://example.com/a", d.URL)
	assert.True(t, strings.HasPrefix(d.Hash, "sha256:"))
}

func TestSplitOverlappingWindows(t *testing.T) {
	c, err := New(10, 0.2, nil)
	require.NoError(t, err)

	words := make([]string, 35)
	for i := range words {
		words[i] = "tok"
	}
	drafts := c.Split(strings.Join(words, " "), SourceMeta{})
	require.Greater(t, len(drafts), 1)

	for i := 1; i < len(drafts); i++ {
		assert.Less(t, drafts[i].StartIdx, drafts[i-1].EndIdx, "windows must overlap")
		assert.Greater(t, drafts[i].StartIdx, drafts[i-1].StartIdx, "windows must advance")
	}
	last := drafts[len(drafts)-1]
	assert.Equal(t, 35, last.EndIdx, "final window must reach the end")
}

func TestSplitPrefersSentenceBoundary(t *testing.T) {
	c, err := New(10, 0.0, nil)
	require.NoError(t, err)

	// A sentence ends at token 8 of the first 10-token window.
	text := "one two three four five six seven eight. nine ten eleven twelve thirteen fourteen fifteen sixteen."
	drafts := c.Split(text, SourceMeta{})
	require.GreaterOrEqual(t, len(drafts), 2)
	assert.Equal(t, 8, drafts[0].EndIdx, "window should end after the sentence-final token")
	assert.True(t, strings.HasSuffix(drafts[0].Text, "eight."))
}

func TestSplitIdenticalTextSameHash(t *testing.T) {
	c, err := New(100, 0.2, nil)
	require.NoError(t, err)

	text := "CLS is a layout stability metric."
	a := c.Split(text, SourceMeta{URL: "https://a.example"})
	b := c.Split(text, SourceMeta{URL: "https://b.example"})

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].Hash, b[0].Hash, "hash depends on text only, not provenance")
	assert.NotEqual(t, a[0].URL, b[0].URL)
}

func TestSplitCarriesProvenance(t *testing.T) {
	c, err := New(100, 0.2, nil)
	require.NoError(t, err)

	updated := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	drafts := c.Split("some evidence text here.", SourceMeta{
		URL:         "https://example.com/doc",
		Selector:    "#main",
		LastUpdated: updated,
	})
	require.Len(t, drafts, 1)
	assert.Equal(t, "#main", drafts[0].Selector)
	assert.Equal(t, updated, drafts[0].LastUpdated)
}

func TestHashNormalization(t *testing.T) {
	assert.Equal(t, Hash("Hello   World"), Hash("hello world"))
	assert.NotEqual(t, Hash("hello world"), Hash("hello worlds"))
}

func TestNewRejectsBadParams(t *testing.T) {
	_, err := New(0, 0.2, nil)
	assert.Error(t, err)

	_, err = New(100, 1.0, nil)
	assert.Error(t, err)

	_, err = New(100, 0.2, []string{"("})
	assert.Error(t, err)
}
