package scope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/tobyv/researchmem/internal/config"
	"github.com/tobyv/researchmem/internal/observability"
	"github.com/tobyv/researchmem/pkg/audit"
	"github.com/tobyv/researchmem/pkg/chunker"
	"github.com/tobyv/researchmem/pkg/concept"
	"github.com/tobyv/researchmem/pkg/embedding"
	"github.com/tobyv/researchmem/pkg/evidence"
	"github.com/tobyv/researchmem/pkg/retrieval"
)

// ErrScopeClosed is returned for any operation after destroy has begun.
var ErrScopeClosed = errors.New("scope is closed")

// Scope bundles one task's evidence store, concept index, and retrieval
// pipeline. All state is private to the scope and dies with it unless
// the scope was configured to persist.
type Scope struct {
	id         string
	cfg        config.MemoryConfig
	store      *evidence.Store
	index      *concept.Index // nil when the concept index is disabled
	pipeline   *retrieval.Pipeline
	chunker    *chunker.Chunker
	embedder   embedding.Provider
	comparator concept.Comparator
	logger     zerolog.Logger

	lifecycle gate
}

// ID returns the scope identifier.
func (s *Scope) ID() string { return s.id }

// Add harvests one document into the scope: boilerplate-filtered sliding
// windows are hashed, embedded, and upserted. Embedding failure does not
// lose the text; affected chunks are stored unembedded and excluded from
// search until re-added.
func (s *Scope) Add(ctx context.Context, url, text, selector string, lastUpdated time.Time) ([]*evidence.Chunk, error) {
	if err := s.lifecycle.enter(); err != nil {
		return nil, err
	}
	defer s.lifecycle.leave()

	drafts := s.chunker.Split(text, chunker.SourceMeta{
		URL:         url,
		Selector:    selector,
		LastUpdated: lastUpdated,
	})
	if len(drafts) == 0 {
		return nil, nil
	}

	texts := make([]string, len(drafts))
	for i, d := range drafts {
		texts[i] = d.Text
	}
	vecs, embedErr := s.embedder.Embed(ctx, texts)
	if embedErr != nil {
		observability.RecordEmbedFailure()
		s.logger.Warn().Err(embedErr).Str("url", url).Msg("embedding failed, storing chunks unembedded")
	}

	now := time.Now().UTC()
	chunks := make([]*evidence.Chunk, 0, len(drafts))
	for i, d := range drafts {
		c := &evidence.Chunk{
			ID:          d.Hash,
			ScopeID:     s.id,
			Text:        d.Text,
			TokenCount:  d.TokenCount,
			StartIdx:    d.StartIdx,
			EndIdx:      d.EndIdx,
			SplitAlgo:   d.SplitAlgo,
			Sources:     []evidence.Provenance{{URL: d.URL, Selector: d.Selector}},
			LastUpdated: d.LastUpdated,
			CreatedAt:   now,
		}
		if embedErr == nil && i < len(vecs) {
			c.Embedding = vecs[i]
		} else {
			c.EmbedFailed = true
		}
		if _, err := s.store.Upsert(ctx, c); err != nil {
			return chunks, fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// InsertConcept places a concept label into the scope's hierarchy and
// returns the node id it landed on.
func (s *Scope) InsertConcept(ctx context.Context, label string) (string, error) {
	if err := s.lifecycle.enter(); err != nil {
		return "", err
	}
	defer s.lifecycle.leave()
	if s.index == nil {
		return "", errors.New("concept index is disabled for this scope")
	}
	return s.index.Insert(ctx, label)
}

// Tag links a stored chunk to a concept: the chunk's vector and text
// support the node, and the chunk is stamped with the node's path so
// subtree-filtered search can find it.
func (s *Scope) Tag(ctx context.Context, chunkID, label string) error {
	if err := s.lifecycle.enter(); err != nil {
		return err
	}
	defer s.lifecycle.leave()
	if s.index == nil {
		return errors.New("concept index is disabled for this scope")
	}

	chunk, ok, err := s.store.Get(ctx, chunkID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("chunk %s not found in scope %s", chunkID, s.id)
	}

	nodeID, err := s.index.Insert(ctx, label)
	if err != nil {
		return err
	}
	if err := s.index.Attach(ctx, nodeID, chunk.Embedding, chunk.Text); err != nil {
		return err
	}

	labels, err := s.index.PathOf(nodeID)
	if err != nil {
		return err
	}
	chunk.ConceptPath = concept.PathString(labels)
	_, err = s.store.Upsert(ctx, chunk)
	return err
}

// Search embeds the query and runs a raw kNN search, optionally narrowed
// to the subtree named by pathPrefix ("A > B" form).
func (s *Scope) Search(ctx context.Context, query string, k int, pathPrefix string) ([]evidence.Hit, error) {
	if err := s.lifecycle.enter(); err != nil {
		return nil, err
	}
	defer s.lifecycle.leave()

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.store.Search(ctx, vecs[0], k, pathPrefix)
}

// Retrieve runs the full retrieval pipeline for a section topic.
func (s *Scope) Retrieve(ctx context.Context, topic string) ([]evidence.Hit, error) {
	if err := s.lifecycle.enter(); err != nil {
		return nil, err
	}
	defer s.lifecycle.leave()
	return s.pipeline.Retrieve(ctx, topic)
}

// ResolvePath returns the "A > B > C" concept path best matching the
// query, or the empty string when the index is disabled or the query
// resolves to the root.
func (s *Scope) ResolvePath(ctx context.Context, query string) (string, error) {
	if err := s.lifecycle.enter(); err != nil {
		return "", err
	}
	defer s.lifecycle.leave()
	if s.index == nil {
		return "", nil
	}
	labels, err := s.index.ResolvePath(ctx, query)
	if err != nil {
		return "", err
	}
	return concept.PathString(labels), nil
}

// Snapshot writes a complete replayable record of the scope's chunks and
// concept events to the sink.
func (s *Scope) Snapshot(ctx context.Context, sink io.Writer) error {
	if err := s.lifecycle.enter(); err != nil {
		return err
	}
	defer s.lifecycle.leave()

	chunks, err := s.store.Items(ctx)
	if err != nil {
		return fmt.Errorf("collect chunks: %w", err)
	}
	var nodes []*concept.Node
	var events []concept.Event
	if s.index != nil {
		nodes = s.index.Nodes()
		events = s.index.Events()
	}
	return audit.Write(sink, s.id, chunks, nodes, events)
}

// Replay loads a previously written snapshot into the scope. The snapshot
// must belong to the same scope id.
func (s *Scope) Replay(ctx context.Context, snap *audit.Snapshot) error {
	if err := s.lifecycle.enter(); err != nil {
		return err
	}
	defer s.lifecycle.leave()

	if snap.Header.ScopeID != s.id {
		return fmt.Errorf("snapshot belongs to scope %q, not %q", snap.Header.ScopeID, s.id)
	}
	for _, c := range snap.Chunks {
		if _, err := s.store.Upsert(ctx, c); err != nil {
			return fmt.Errorf("replay chunk %s: %w", c.ID, err)
		}
	}
	if s.index != nil && len(snap.Nodes) > 0 {
		if err := s.index.Restore(snap.Nodes, snap.Events); err != nil {
			return fmt.Errorf("replay concept tree: %w", err)
		}
	}
	return nil
}

// Reset irrecoverably discards the scope's chunks and concept tree while
// keeping the scope usable.
func (s *Scope) Reset(ctx context.Context) error {
	if err := s.lifecycle.enter(); err != nil {
		return err
	}
	defer s.lifecycle.leave()

	if err := s.store.Reset(ctx); err != nil {
		return err
	}
	if s.index != nil {
		fresh, err := concept.NewIndex(ctx, s.id, conceptConfig(s.cfg), s.embedder, s.comparator, s.logger)
		if err != nil {
			return fmt.Errorf("rebuild concept index: %w", err)
		}
		if err := s.index.Restore(fresh.Nodes(), nil); err != nil {
			return fmt.Errorf("reset concept index: %w", err)
		}
	}
	return nil
}

// Len returns the number of chunks currently held.
func (s *Scope) Len(ctx context.Context) (int, error) {
	if err := s.lifecycle.enter(); err != nil {
		return 0, err
	}
	defer s.lifecycle.leave()
	return s.store.Len(ctx)
}

// close blocks new operations and waits for in-flight ones, then releases
// backend resources. Non-persistent scopes are purged.
func (s *Scope) close(ctx context.Context) error {
	s.lifecycle.shut()
	s.lifecycle.drain()

	if !s.cfg.Persist {
		if err := s.store.Reset(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("purge on destroy failed")
		}
	}
	return s.store.Close()
}

func conceptConfig(cfg config.MemoryConfig) concept.Config {
	return concept.Config{
		RelatednessThreshold:  cfg.RelatednessThreshold,
		RelatednessMargin:     cfg.RelatednessMargin,
		PromotionThreshold:    cfg.PromotionThreshold,
		SummaryRetentionCount: cfg.SummaryRetentionCount,
	}
}
