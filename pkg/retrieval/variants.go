package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// VariantGenerator turns a section topic into signature query variants.
// It is an external collaborator: implementations may call a model, so
// callers must tolerate failure and fall back to the bare topic.
type VariantGenerator interface {
	Variants(ctx context.Context, topic string) ([]string, error)
}

// maxVariants caps the fan-out per retrieval.
const maxVariants = 4

// TemplateVariants is the cheap deterministic generator: the base form,
// a question paraphrase, and a counterfactual form probing limitations.
type TemplateVariants struct{}

func (TemplateVariants) Variants(_ context.Context, topic string) ([]string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("empty topic")
	}
	return []string{
		topic,
		"what is known about " + topic,
		"limitations and counterexamples of " + topic,
	}, nil
}

const variantPrompt = `Generate %d short search query variants for the research topic below: the topic itself rephrased, one paraphrase, and one negated/counterfactual form. One query per line, no numbering.

Topic: %s`

// ModelVariants asks a model for paraphrased and negated signature
// queries, falling back to templates when the call fails.
type ModelVariants struct {
	client   anthropic.Client
	model    string
	fallback TemplateVariants
}

func NewModelVariants(apiKey, model string) *ModelVariants {
	return &ModelVariants{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (g *ModelVariants) Variants(ctx context.Context, topic string) ([]string, error) {
	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf(variantPrompt, maxVariants-1, topic))),
		},
	})
	if err != nil {
		return g.fallback.Variants(ctx, topic)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	variants := []string{strings.TrimSpace(topic)}
	for _, line := range strings.Split(text.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == topic {
			continue
		}
		variants = append(variants, line)
		if len(variants) == maxVariants {
			break
		}
	}
	if len(variants) < 2 {
		return g.fallback.Variants(ctx, topic)
	}
	return variants, nil
}
