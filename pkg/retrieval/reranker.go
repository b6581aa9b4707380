package retrieval

import (
	"context"
	"strings"
)

// Reranker is the external rerank capability. Score returns a relevance
// of passage to query; higher is better. Implementations may be slow or
// unavailable, so the pipeline applies a timeout and degrades to kNN
// order on failure.
type Reranker interface {
	Score(ctx context.Context, query, passage string) (float64, error)
}

// LexicalReranker scores by token overlap (Jaccard over lowercased
// words). Cheap and local; useful as a second opinion next to pure
// embedding similarity.
type LexicalReranker struct{}

func (LexicalReranker) Score(_ context.Context, query, passage string) (float64, error) {
	qs := tokenSet(query)
	ps := tokenSet(passage)
	if len(qs) == 0 || len(ps) == 0 {
		return 0, nil
	}
	inter := 0
	for tok := range qs {
		if ps[tok] {
			inter++
		}
	}
	return float64(inter) / float64(len(qs)+len(ps)-inter), nil
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if tok != "" {
			out[tok] = true
		}
	}
	return out
}
