// Package evidence implements the per-scope evidence cache: an
// append-mostly index of hashed, embedded chunks with provenance, searchable
// by nearest neighbor with an optional concept-path filter.
package evidence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tobyv/researchmem/internal/observability"
	"github.com/tobyv/researchmem/internal/tracing"
)

// Store binds a Backend to a single scope. Scope isolation is structural:
// a Store is constructed for one scope ID and its backend is private to it,
// so a search can never observe another scope's chunks.
type Store struct {
	scopeID string
	backend Backend
	logger  zerolog.Logger

	// mu serializes the read-merge-write in Upsert so two concurrent
	// upserts of the same hash cannot double-insert.
	mu sync.Mutex
}

// NewStore creates a store bound to scopeID
func NewStore(scopeID string, backend Backend, logger zerolog.Logger) *Store {
	observability.EnsureRegistered()
	return &Store{
		scopeID: scopeID,
		backend: backend,
		logger:  logger.With().Str("scope_id", scopeID).Logger(),
	}
}

// ScopeID returns the owning scope
func (s *Store) ScopeID() string {
	return s.scopeID
}

// Upsert inserts a chunk or merges it into the existing record with the
// same hash. Returns true when this was a new insert. Re-inserting an
// existing hash refreshes metadata only: provenance accumulates and the
// newer LastUpdated wins.
func (s *Store) Upsert(ctx context.Context, chunk *Chunk) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "researchmem.evidence", "evidence.upsert",
		attribute.String("chunk_id", chunk.ID))
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordUpsert(time.Since(start)) }()

	if chunk.ID == "" {
		return false, fmt.Errorf("chunk has no content hash")
	}
	if chunk.ScopeID != "" && chunk.ScopeID != s.scopeID {
		return false, fmt.Errorf("chunk belongs to scope %q, store is bound to %q", chunk.ScopeID, s.scopeID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found, err := s.backend.Get(ctx, chunk.ID)
	if err != nil {
		return false, fmt.Errorf("backend lookup failed: %w", err)
	}

	if found {
		merged := mergeChunk(existing, chunk)
		if err := s.backend.Add(ctx, merged); err != nil {
			return false, fmt.Errorf("backend merge write failed: %w", err)
		}
		s.logger.Debug().Str("chunk_id", chunk.ID).Msg("Duplicate chunk, provenance merged")
		return false, nil
	}

	insert := chunk.Clone()
	insert.ScopeID = s.scopeID
	if insert.CreatedAt.IsZero() {
		insert.CreatedAt = time.Now().UTC()
	}
	if err := s.backend.Add(ctx, insert); err != nil {
		return false, fmt.Errorf("backend insert failed: %w", err)
	}
	return true, nil
}

// mergeChunk applies the metadata-refresh policy for a duplicate hash
func mergeChunk(existing, incoming *Chunk) *Chunk {
	merged := existing.Clone()

	for _, src := range incoming.Sources {
		if !merged.HasSource(src) {
			merged.Sources = append(merged.Sources, src)
		}
	}
	if incoming.LastUpdated.After(merged.LastUpdated) {
		merged.LastUpdated = incoming.LastUpdated
	}
	// A successful embedding replaces a previously failed one
	if merged.EmbedFailed && !incoming.EmbedFailed && len(incoming.Embedding) > 0 {
		merged.Embedding = append([]float32(nil), incoming.Embedding...)
		merged.EmbedFailed = false
	}
	// Retagging moves the chunk: an incoming path replaces the old one.
	if incoming.ConceptPath != "" {
		merged.ConceptPath = incoming.ConceptPath
	}
	return merged
}

// Search runs kNN over the scope's chunks. pathPrefix, when non-empty,
// restricts results to chunks whose concept path lies within that subtree.
// Ties are broken toward the more recently updated source.
func (s *Store) Search(ctx context.Context, query []float32, k int, pathPrefix string) ([]Hit, error) {
	ctx, span := tracing.StartSpan(ctx, "researchmem.evidence", "evidence.search",
		attribute.Int("k", k),
		attribute.String("path_filter", pathPrefix))
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordSearch(time.Since(start)) }()

	hits, err := s.backend.Search(ctx, query, k, pathPrefix)
	if err != nil {
		return nil, fmt.Errorf("backend search failed: %w", err)
	}
	return hits, nil
}

// Get returns a copy of one chunk by content hash
func (s *Store) Get(ctx context.Context, id string) (*Chunk, bool, error) {
	return s.backend.Get(ctx, id)
}

// Items returns a copy of all chunks, for snapshots
func (s *Store) Items(ctx context.Context) ([]*Chunk, error) {
	return s.backend.Items(ctx)
}

// Len returns the number of stored chunks
func (s *Store) Len(ctx context.Context) (int, error) {
	return s.backend.Len(ctx)
}

// Reset atomically discards all chunks for the scope
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Reset(ctx); err != nil {
		return fmt.Errorf("backend reset failed: %w", err)
	}
	s.logger.Info().Msg("Evidence store reset")
	return nil
}

// Close releases backend resources
func (s *Store) Close() error {
	return s.backend.Close()
}
