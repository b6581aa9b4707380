package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tobyv/researchmem/internal/observability"
	"github.com/tobyv/researchmem/internal/tracing"
	"github.com/tobyv/researchmem/pkg/concept"
	"github.com/tobyv/researchmem/pkg/embedding"
	"github.com/tobyv/researchmem/pkg/evidence"
)

// topPerVariant is how many nearest neighbors each signature variant
// contributes to the candidate union.
const topPerVariant = 20

// rerankKeepMultiplier scales RerankTopN into the candidate count kept
// after reranking, so diversity selection still has room to choose.
const rerankKeepMultiplier = 4

// Config tunes one pipeline instance.
type Config struct {
	K               int
	RerankTopN      int
	DiversityLambda float64
	RerankTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		K:               8,
		RerankTopN:      5,
		DiversityLambda: 0.7,
		RerankTimeout:   2 * time.Second,
	}
}

// Pipeline turns a section topic into a diverse, provenance-checked
// evidence set: signature variants fan out to kNN searches, the union is
// optionally reranked, and MMR picks the final k.
type Pipeline struct {
	store    *evidence.Store
	index    *concept.Index // nil disables concept-path narrowing
	embedder embedding.Provider
	variants VariantGenerator
	reranker Reranker // nil disables reranking
	cfg      Config
	logger   zerolog.Logger
}

func NewPipeline(store *evidence.Store, index *concept.Index, embedder embedding.Provider, variants VariantGenerator, reranker Reranker, cfg Config, logger zerolog.Logger) *Pipeline {
	observability.EnsureRegistered()
	if variants == nil {
		variants = TemplateVariants{}
	}
	return &Pipeline{
		store:    store,
		index:    index,
		embedder: embedder,
		variants: variants,
		reranker: reranker,
		cfg:      cfg,
		logger:   logger.With().Str("component", "retrieval").Logger(),
	}
}

// Retrieve returns up to cfg.K evidence hits for the topic, most useful
// first. Every returned hit carries full provenance.
func (p *Pipeline) Retrieve(ctx context.Context, topic string) ([]evidence.Hit, error) {
	ctx, span := tracing.StartSpan(ctx, "researchmem.retrieval", "retrieval.retrieve",
		attribute.String("topic", topic))
	defer span.End()
	start := time.Now()
	defer func() { observability.RecordRetrieve(time.Since(start)) }()

	queries, err := p.variants.Variants(ctx, topic)
	if err != nil || len(queries) == 0 {
		p.logger.Warn().Err(err).Str("topic", topic).Msg("variant generation failed, querying with bare topic")
		queries = []string{topic}
	}
	if len(queries) > maxVariants {
		queries = queries[:maxVariants]
	}

	pathFilter := ""
	if p.index != nil {
		if labels, err := p.index.ResolvePath(ctx, topic); err != nil {
			p.logger.Warn().Err(err).Msg("concept path resolution failed, searching unfiltered")
		} else {
			pathFilter = concept.PathString(labels)
		}
	}

	candidates, err := p.gather(ctx, queries, pathFilter)
	if err != nil {
		return nil, err
	}
	candidates = p.dropInvalid(candidates)
	if len(candidates) == 0 {
		return nil, nil
	}

	if p.reranker != nil {
		candidates = p.rerank(ctx, topic, candidates)
	}

	return mmrSelect(candidates, p.cfg.K, p.cfg.DiversityLambda), nil
}

// gather runs one kNN search per signature variant and unions the
// results by chunk id, keeping each chunk's best score.
func (p *Pipeline) gather(ctx context.Context, queries []string, pathFilter string) ([]evidence.Hit, error) {
	vecs, err := p.embedder.Embed(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("embed signature variants: %w", err)
	}

	byID := map[string]evidence.Hit{}
	for _, qv := range vecs {
		hits, err := p.store.Search(ctx, qv, topPerVariant, pathFilter)
		if err != nil {
			return nil, fmt.Errorf("variant search: %w", err)
		}
		for _, h := range hits {
			if prev, ok := byID[h.ChunkID]; !ok || h.Score > prev.Score {
				byID[h.ChunkID] = h
			}
		}
	}

	out := make([]evidence.Hit, 0, len(byID))
	for _, h := range byID {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out, nil
}

// dropInvalid removes hits lacking provenance. Such hits must never be
// surfaced as evidence.
func (p *Pipeline) dropInvalid(hits []evidence.Hit) []evidence.Hit {
	out := hits[:0]
	for _, h := range hits {
		if h.SourceURL == "" || h.LastUpdated.IsZero() {
			observability.RecordDroppedHit()
			p.logger.Warn().Str("chunk_id", h.ChunkID).Msg("dropping hit without provenance")
			continue
		}
		out = append(out, h)
	}
	return out
}

// rerank rescores candidates with the external reranker under a timeout.
// Any failure keeps the kNN order; reranking is never a hard failure.
func (p *Pipeline) rerank(ctx context.Context, topic string, candidates []evidence.Hit) []evidence.Hit {
	rctx := ctx
	if p.cfg.RerankTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, p.cfg.RerankTimeout)
		defer cancel()
	}

	rescored := make([]evidence.Hit, len(candidates))
	for i, h := range candidates {
		score, err := p.reranker.Score(rctx, topic, h.Text)
		if err != nil {
			observability.RecordRerankSkipped()
			p.logger.Warn().Err(err).Msg("reranker unavailable, keeping knn order")
			return candidates
		}
		h.Score = score
		rescored[i] = h
	}

	sort.Slice(rescored, func(i, j int) bool { return rescored[i].Score > rescored[j].Score })
	keep := p.cfg.RerankTopN * rerankKeepMultiplier
	if keep > 0 && len(rescored) > keep {
		rescored = rescored[:keep]
	}
	return rescored
}
