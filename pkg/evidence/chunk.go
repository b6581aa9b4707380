package evidence

import (
	"time"
	"unicode/utf8"
)

// Provenance points back into the originating document
type Provenance struct {
	URL      string `json:"url"`
	Selector string `json:"selector"`
}

// Chunk is a hashed, embedded window of harvested text. ID is the content
// hash of the normalized window text, so identical text from different pages
// is one logical chunk with accumulated provenance.
type Chunk struct {
	ID          string       `json:"id"`
	ScopeID     string       `json:"scope_id"`
	Text        string       `json:"text"`
	TokenCount  int          `json:"token_count"`
	StartIdx    int          `json:"start_idx"`
	EndIdx      int          `json:"end_idx"`
	SplitAlgo   string       `json:"split_algo"`
	Sources     []Provenance `json:"sources"`
	Embedding   []float32    `json:"embedding,omitempty"`
	EmbedFailed bool         `json:"embed_failed,omitempty"`
	ConceptPath string       `json:"concept_path,omitempty"`
	LastUpdated time.Time    `json:"last_updated,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Clone returns a deep copy. Backends hand out clones so readers never see
// a chunk mid-mutation.
func (c *Chunk) Clone() *Chunk {
	clone := *c
	clone.Sources = append([]Provenance(nil), c.Sources...)
	clone.Embedding = append([]float32(nil), c.Embedding...)
	return &clone
}

// HasSource reports whether the chunk already records the given provenance
func (c *Chunk) HasSource(p Provenance) bool {
	for _, s := range c.Sources {
		if s == p {
			return true
		}
	}
	return false
}

// Hit is a transient retrieval result. It is derived on every search and
// never persisted.
type Hit struct {
	ChunkID     string    `json:"chunk_id"`
	Score       float64   `json:"score"`
	Snippet     string    `json:"snippet"`
	Text        string    `json:"text"`
	SourceURL   string    `json:"source_url"`
	LastUpdated time.Time `json:"last_updated"`
	ConceptPath string    `json:"concept_path,omitempty"`
	Vector      []float32 `json:"-"`
}

const snippetRunes = 300

// Snippet truncates text to the snippet length on a rune boundary
func Snippet(text string) string {
	if utf8.RuneCountInString(text) <= snippetRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:snippetRunes]) + "…"
}

// hitFromChunk derives a Hit; the first recorded source wins as the primary
// provenance pointer.
func hitFromChunk(c *Chunk, score float64) Hit {
	h := Hit{
		ChunkID:     c.ID,
		Score:       score,
		Snippet:     Snippet(c.Text),
		Text:        c.Text,
		LastUpdated: c.LastUpdated,
		ConceptPath: c.ConceptPath,
		Vector:      append([]float32(nil), c.Embedding...),
	}
	if len(c.Sources) > 0 {
		h.SourceURL = c.Sources[0].URL
	}
	return h
}
