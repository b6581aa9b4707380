package concept

import (
	"context"
	"regexp"
	"strings"
)

// Relation classifies how one concept label stands to another.
type Relation string

const (
	SameLevel    Relation = "same_level"
	MoreSpecific Relation = "more_specific"
	MoreGeneral  Relation = "more_general"
)

// Comparator is the capability the index uses for judgements it cannot
// make from embeddings alone: relative generality of two labels, and
// folding a supporting chunk into a node's micro-summary. Implementations
// are not required to be deterministic.
type Comparator interface {
	// CompareGenerality returns the relation of label a to label b.
	CompareGenerality(ctx context.Context, a, b string) (Relation, error)

	// MergeSummaries folds addition into existing and returns a bounded
	// summary. existing may be empty for the first supporting chunk.
	MergeSummaries(ctx context.Context, existing, addition string) (string, error)
}

var wordRe = regexp.MustCompile(`[A-Za-z0-9]+`)

// HeuristicComparator is the cheap, deterministic fallback. Generality is
// judged from token-length specificity plus a containment bias ("CLS
// mitigation for images" contains "CLS", so it is the more specific of
// the two). Summary merging is word-level concatenation under a cap.
type HeuristicComparator struct {
	// MaxSummaryWords bounds MergeSummaries output. Zero means 50.
	MaxSummaryWords int
}

func NewHeuristicComparator() *HeuristicComparator {
	return &HeuristicComparator{MaxSummaryWords: 50}
}

func (c *HeuristicComparator) CompareGenerality(_ context.Context, a, b string) (Relation, error) {
	scoreA := specificityScore(a)
	scoreB := specificityScore(b)

	var bias float64
	if diff := scoreA - scoreB; diff > 0.15*max(1.0, scoreB) {
		bias = 1.0
	} else if -diff > 0.15*max(1.0, scoreB) {
		bias = -1.0
	}

	if labelContains(b, a) {
		bias += 0.5 // a mentions b, so a is the more specific
	}
	if labelContains(a, b) {
		bias -= 0.5
	}

	switch {
	case bias > 0.15:
		return MoreSpecific, nil
	case bias < -0.15:
		return MoreGeneral, nil
	default:
		return SameLevel, nil
	}
}

func (c *HeuristicComparator) MergeSummaries(_ context.Context, existing, addition string) (string, error) {
	limit := c.MaxSummaryWords
	if limit <= 0 {
		limit = 50
	}
	words := strings.Fields(existing)
	words = append(words, strings.Fields(addition)...)
	if len(words) > limit {
		words = words[:limit]
	}
	return strings.Join(words, " "), nil
}

// specificityScore is a proxy for how specific a label is: word count
// weighted by the share of substantial tokens.
func specificityScore(text string) float64 {
	toks := wordRe.FindAllString(text, -1)
	longer := 0
	for _, t := range toks {
		if len(t) >= 4 {
			longer++
		}
	}
	return float64(len(toks)) + 0.25*float64(longer)
}

// labelContains reports whether needle appears inside haystack after
// punctuation normalization.
func labelContains(needle, haystack string) bool {
	return strings.Contains(normalizeLabel(haystack), normalizeLabel(needle))
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeLabel(s string) string {
	return strings.TrimSpace(nonAlnumRe.ReplaceAllString(strings.ToLower(s), " "))
}
