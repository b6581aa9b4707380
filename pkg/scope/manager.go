package scope

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tobyv/researchmem/internal/config"
	"github.com/tobyv/researchmem/internal/observability"
	"github.com/tobyv/researchmem/pkg/chunker"
	"github.com/tobyv/researchmem/pkg/concept"
	"github.com/tobyv/researchmem/pkg/embedding"
	"github.com/tobyv/researchmem/pkg/evidence"
	"github.com/tobyv/researchmem/pkg/retrieval"
)

var (
	ErrScopeNotFound = errors.New("scope not found")
	ErrScopeExists   = errors.New("scope already exists")
)

// gate guards a scope's lifecycle: operations enter and leave, destroy
// shuts the gate so new operations fail fast, then drains in-flight ones
// before the caller purges state.
type gate struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func (g *gate) enter() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrScopeClosed
	}
	g.wg.Add(1)
	return nil
}

func (g *gate) leave() { g.wg.Done() }

func (g *gate) shut() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func (g *gate) drain() { g.wg.Wait() }

// Deps are the collaborators shared by all scopes a manager creates.
type Deps struct {
	Embedder      embedding.Provider
	Comparator    concept.Comparator         // nil selects the heuristic
	Variants      retrieval.VariantGenerator // nil selects templates
	Reranker      retrieval.Reranker         // nil disables reranking
	DataDir       string
	RerankTimeout time.Duration
	Logger        zerolog.Logger
}

// Manager owns the scope table. All operations on memory state go
// through a scope obtained from Get; unknown or destroyed scopes fail
// fast rather than being created implicitly.
type Manager struct {
	deps Deps

	mu     sync.RWMutex
	scopes map[string]*Scope

	sched *cron.Cron
}

func NewManager(deps Deps) (*Manager, error) {
	observability.EnsureRegistered()
	if deps.Embedder == nil {
		return nil, errors.New("manager requires an embedding provider")
	}
	if deps.Comparator == nil {
		deps.Comparator = concept.NewHeuristicComparator()
	}
	if deps.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		deps.DataDir = filepath.Join(home, ".researchmem")
	}
	if err := os.MkdirAll(deps.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	m := &Manager{
		deps:   deps,
		scopes: make(map[string]*Scope),
	}
	deps.Logger.Info().Str("data_dir", deps.DataDir).Msg("Scope manager initialized")
	return m, nil
}

// validateScopeID rejects ids that would be unsafe as file names.
func validateScopeID(id string) error {
	if id == "" {
		return errors.New("scope id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return errors.New("scope id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return errors.New("scope id cannot contain path separators")
	}
	return nil
}

// Create builds a new scope with its own evidence store and, when
// enabled, concept index. Persistent scopes land in a per-scope SQLite
// file under the data directory.
func (m *Manager) Create(ctx context.Context, id string, cfg config.MemoryConfig) (*Scope, error) {
	if err := validateScopeID(id); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, errors.New("memory layer is disabled in configuration")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.scopes[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrScopeExists, id)
	}

	logger := m.deps.Logger.With().Str("scope_id", id).Logger()

	var backend evidence.Backend
	if cfg.Persist {
		b, err := evidence.NewSQLiteBackend(filepath.Join(m.deps.DataDir, id+".db"), m.deps.Embedder.Dimension())
		if err != nil {
			return nil, fmt.Errorf("open persistent backend: %w", err)
		}
		backend = b
	} else {
		backend = evidence.NewMemoryBackend()
	}
	store := evidence.NewStore(id, backend, logger)

	var index *concept.Index
	if cfg.UseConceptIndex {
		var err error
		index, err = concept.NewIndex(ctx, id, conceptConfig(cfg), m.deps.Embedder, m.deps.Comparator, logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("build concept index: %w", err)
		}
	}

	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap, nil)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build chunker: %w", err)
	}

	pipeline := retrieval.NewPipeline(store, index, m.deps.Embedder, m.deps.Variants, m.deps.Reranker, retrieval.Config{
		K:               cfg.K,
		RerankTopN:      cfg.RerankTopN,
		DiversityLambda: cfg.DiversityLambda,
		RerankTimeout:   m.deps.RerankTimeout,
	}, logger)

	s := &Scope{
		id:         id,
		cfg:        cfg,
		store:      store,
		index:      index,
		pipeline:   pipeline,
		chunker:    ch,
		embedder:   m.deps.Embedder,
		comparator: m.deps.Comparator,
		logger:     logger,
	}
	m.scopes[id] = s
	observability.SetActiveScopes(len(m.scopes))
	logger.Info().Bool("persist", cfg.Persist).Bool("concept_index", index != nil).Msg("Scope created")
	return s, nil
}

// Get returns an existing scope or fails fast.
func (m *Manager) Get(id string) (*Scope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scopes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScopeNotFound, id)
	}
	return s, nil
}

// Destroy removes the scope from the table immediately, drains in-flight
// operations, and purges non-persistent state.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.scopes[id]
	if ok {
		delete(m.scopes, id)
		observability.SetActiveScopes(len(m.scopes))
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrScopeNotFound, id)
	}

	if err := s.close(ctx); err != nil {
		return fmt.Errorf("close scope %s: %w", id, err)
	}
	s.logger.Info().Msg("Scope destroyed")
	return nil
}

// Scopes lists active scope ids in stable order.
func (m *Manager) Scopes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.scopes))
	for id := range m.scopes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StartAutoSnapshot schedules periodic snapshots of every active scope
// using a cron expression ("0 * * * *" for hourly).
func (m *Manager) StartAutoSnapshot(spec string) error {
	if m.sched != nil {
		return errors.New("auto-snapshot already running")
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, m.snapshotAll); err != nil {
		return fmt.Errorf("invalid snapshot schedule %q: %w", spec, err)
	}
	c.Start()
	m.sched = c
	m.deps.Logger.Info().Str("schedule", spec).Msg("Auto-snapshot scheduled")
	return nil
}

func (m *Manager) snapshotAll() {
	ctx := context.Background()
	dir := filepath.Join(m.deps.DataDir, "snapshots")
	if err := os.MkdirAll(dir, 0700); err != nil {
		m.deps.Logger.Error().Err(err).Msg("snapshot directory unavailable")
		return
	}

	for _, id := range m.Scopes() {
		s, err := m.Get(id)
		if err != nil {
			continue // destroyed between listing and snapshot
		}
		path := filepath.Join(dir, fmt.Sprintf("%s-%s.jsonl", id, time.Now().UTC().Format("20060102T150405Z")))
		f, err := os.Create(path)
		if err != nil {
			s.logger.Error().Err(err).Msg("snapshot file creation failed")
			continue
		}
		if err := s.Snapshot(ctx, f); err != nil {
			s.logger.Error().Err(err).Msg("scheduled snapshot failed")
		}
		f.Close()
	}
}

// Close stops scheduling and destroys every scope.
func (m *Manager) Close(ctx context.Context) error {
	if m.sched != nil {
		m.sched.Stop()
		m.sched = nil
	}
	var firstErr error
	for _, id := range m.Scopes() {
		if err := m.Destroy(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
