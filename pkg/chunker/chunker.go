// Package chunker splits harvested page text into overlapping, hashable
// windows ready for embedding.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// SourceMeta carries provenance for the document being split
type SourceMeta struct {
	URL         string
	Selector    string
	LastUpdated time.Time // zero when the source page claims no timestamp
}

// Draft is a chunk before embedding. Hash doubles as the dedup key: the
// same window text always yields the same Draft.Hash regardless of source.
type Draft struct {
	Hash        string
	Text        string
	TokenCount  int
	StartIdx    int // token start offset within the filtered document
	EndIdx      int // token end offset (exclusive)
	SplitAlgo   string
	URL         string
	Selector    string
	LastUpdated time.Time
}

// Chunker splits text into sliding windows of roughly Size tokens with
// Overlap-fraction carryover, preferring to end windows on sentence
// boundaries.
type Chunker struct {
	size        int
	overlap     int // tokens
	boilerplate *BoilerplateFilter
	algo        string
}

// New creates a chunker with a target window size in tokens and an overlap
// fraction in [0, 1). Nil patterns select the default boilerplate filter.
func New(sizeTokens int, overlapFrac float64, patterns []string) (*Chunker, error) {
	if sizeTokens <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", sizeTokens)
	}
	if overlapFrac < 0 || overlapFrac >= 1 {
		return nil, fmt.Errorf("overlap fraction must be in [0, 1), got %v", overlapFrac)
	}

	filter, err := NewBoilerplateFilter(patterns)
	if err != nil {
		return nil, err
	}

	overlap := int(float64(sizeTokens) * overlapFrac)
	return &Chunker{
		size:        sizeTokens,
		overlap:     overlap,
		boilerplate: filter,
		algo:        fmt.Sprintf("sliding_%d_%d", sizeTokens, overlap),
	}, nil
}

// Split chunks text into Drafts. Empty or whitespace-only input returns an
// empty slice; there are no other failure modes.
func (c *Chunker) Split(text string, meta SourceMeta) []Draft {
	filtered := c.boilerplate.Strip(text)
	tokens := strings.Fields(filtered)
	n := len(tokens)
	if n == 0 {
		return nil
	}

	var drafts []Draft
	start := 0
	for start < n {
		end := start + c.size
		if end >= n {
			end = n
		} else {
			end = snapToSentence(tokens, start, end)
		}

		window := tokens[start:end]
		windowText := strings.Join(window, " ")

		drafts = append(drafts, Draft{
			Hash:        Hash(windowText),
			Text:        windowText,
			TokenCount:  len(window),
			StartIdx:    start,
			EndIdx:      end,
			SplitAlgo:   c.algo,
			URL:         meta.URL,
			Selector:    meta.Selector,
			LastUpdated: meta.LastUpdated,
		})

		if end == n {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return drafts
}

// snapToSentence pulls the window end back to just after the last
// sentence-final token, when one exists in the window's second half.
// Splitting mid-sentence is allowed only when unavoidable.
func snapToSentence(tokens []string, start, end int) int {
	floor := start + (end-start)/2
	for i := end - 1; i > floor; i-- {
		if endsSentence(tokens[i]) {
			return i + 1
		}
	}
	return end
}

func endsSentence(tok string) bool {
	trimmed := strings.TrimRight(tok, `"')]}`)
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// Hash returns the content hash of a window: sha256 over the normalized
// (lowercased, whitespace-collapsed) text, prefixed for format visibility.
func Hash(text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(normalized))
	return "sha256:" + hex.EncodeToString(sum[:])
}
