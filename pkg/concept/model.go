package concept

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	generalityPrompt = `You compare two research concept labels. Answer with exactly one word:
"more_specific" if A is a narrower case of B,
"more_general" if A is a broader category containing B,
"same_level" otherwise.

A: %s
B: %s`

	mergePrompt = `Merge the following summary and new finding into a single summary of at most 50 words. Output only the summary text.

Summary: %s
New finding: %s`
)

// ModelComparator answers generality and summary-merge questions with a
// model call. Callers must not assume determinism; the index tolerates
// either answer by attaching tentatively.
type ModelComparator struct {
	client   anthropic.Client
	model    string
	fallback Comparator
}

// NewModelComparator builds a comparator backed by the given model. The
// heuristic comparator serves as fallback when the model call fails or
// returns an unparseable answer.
func NewModelComparator(apiKey, model string) *ModelComparator {
	return &ModelComparator{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:    model,
		fallback: NewHeuristicComparator(),
	}
}

func (c *ModelComparator) CompareGenerality(ctx context.Context, a, b string) (Relation, error) {
	text, err := c.complete(ctx, fmt.Sprintf(generalityPrompt, a, b), 16)
	if err != nil {
		return c.fallback.CompareGenerality(ctx, a, b)
	}
	switch Relation(strings.ToLower(strings.TrimSpace(text))) {
	case MoreSpecific:
		return MoreSpecific, nil
	case MoreGeneral:
		return MoreGeneral, nil
	case SameLevel:
		return SameLevel, nil
	}
	return c.fallback.CompareGenerality(ctx, a, b)
}

func (c *ModelComparator) MergeSummaries(ctx context.Context, existing, addition string) (string, error) {
	text, err := c.complete(ctx, fmt.Sprintf(mergePrompt, existing, addition), 128)
	if err != nil || strings.TrimSpace(text) == "" {
		return c.fallback.MergeSummaries(ctx, existing, addition)
	}
	return strings.TrimSpace(text), nil
}

func (c *ModelComparator) complete(ctx context.Context, prompt string, maxTokens int64) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(tb.Text)
		}
	}
	return out.String(), nil
}
