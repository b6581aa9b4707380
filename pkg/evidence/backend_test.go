package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathWithin(t *testing.T) {
	cases := []struct {
		chunkPath string
		prefix    string
		want      bool
	}{
		{"", "", true},
		{"A > B", "", true},
		{"A > B", "A > B", true},
		{"A > B > C", "A > B", true},
		{"A > B", "A > B > C", false},
		{"A > BC", "A > B", false}, // label prefix is not a path prefix
		{"", "A", false},
		{"X > Y", "A", false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, pathWithin(tc.chunkPath, tc.prefix),
			"pathWithin(%q, %q)", tc.chunkPath, tc.prefix)
	}
}

func TestSnippet(t *testing.T) {
	short := "short text"
	assert.Equal(t, short, Snippet(short))

	long := ""
	for i := 0; i < 400; i++ {
		long += "x"
	}
	s := Snippet(long)
	assert.Len(t, []rune(s), snippetRunes+1)
	assert.Equal(t, '…', []rune(s)[snippetRunes])
}

func TestChunkClone(t *testing.T) {
	c := testChunk("h1", []float32{1, 2})
	clone := c.Clone()

	clone.Sources[0].URL = "mutated"
	clone.Embedding[0] = 99

	assert.Equal(t, "https://example.com/h1", c.Sources[0].URL)
	assert.Equal(t, float32(1), c.Embedding[0])
}

func TestHasSource(t *testing.T) {
	c := testChunk("h1", nil)
	assert.True(t, c.HasSource(Provenance{URL: "https://example.com/h1", Selector: "#"}))
	assert.False(t, c.HasSource(Provenance{URL: "https://other.example", Selector: "#"}))
}
