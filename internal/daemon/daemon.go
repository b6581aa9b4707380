package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tobyv/researchmem/internal/config"
	"github.com/tobyv/researchmem/internal/logger"
	"github.com/tobyv/researchmem/internal/observability"
	"github.com/tobyv/researchmem/internal/tracing"
	"github.com/tobyv/researchmem/pkg/concept"
	"github.com/tobyv/researchmem/pkg/embedding"
	"github.com/tobyv/researchmem/pkg/retrieval"
	"github.com/tobyv/researchmem/pkg/scope"
)

// Daemon hosts a long-lived scope manager: it exposes prometheus metrics,
// schedules periodic audit snapshots, and hot-reloads memory tuning knobs
// from the config file. Scopes created while it runs pick up the current
// knobs; scopes already open keep the knobs they were created with.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	manager   *scope.Manager
	watcher   *config.Watcher
	metricsWg sync.WaitGroup
	metrics   *http.Server
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	memory    config.MemoryConfig
	startTime time.Time
	running   bool

	tracingEnabled bool
}

// New creates a daemon from the loaded configuration.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("researchmem-daemon"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		memory:         cfg.Memory,
		tracingEnabled: true,
	}

	mgr, err := scope.NewManager(buildDeps(cfg, log))
	if err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize scope manager: %w", err)
	}
	d.manager = mgr
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// buildDeps assembles the manager's capabilities from config. Model-backed
// capabilities need an API key; everything degrades to a local
// implementation without one.
func buildDeps(cfg *config.Config, log *logger.Logger) scope.Deps {
	zl := log.GetZerolog()

	var inner embedding.Provider
	if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey != "" {
		inner = embedding.NewOpenAIProvider(cfg.Embedding.APIKey, cfg.Embedding.Model)
	} else {
		inner = embedding.NewHashingProvider(cfg.Embedding.Dimension, "researchmem_v1")
	}

	var comparator concept.Comparator
	if cfg.Comparator.Mode == "model" && cfg.Comparator.APIKey != "" {
		comparator = concept.NewModelComparator(cfg.Comparator.APIKey, cfg.Comparator.Model)
	} else {
		comparator = concept.NewHeuristicComparator()
	}

	var reranker retrieval.Reranker
	if cfg.Reranker.Enabled {
		reranker = retrieval.LexicalReranker{}
	}

	return scope.Deps{
		Embedder:      embedding.NewCachedProvider(inner, embedding.DefaultCacheConfig(), zl),
		Comparator:    comparator,
		Reranker:      reranker,
		DataDir:       cfg.DataDir,
		RerankTimeout: time.Duration(cfg.Reranker.TimeoutMS) * time.Millisecond,
		Logger:        zl,
	}
}

// Start brings up the metrics endpoint, snapshot schedule, and PID file.
func (d *Daemon) Start(loader *config.Loader) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	log := d.logger.GetZerolog()

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		d.metrics = &http.Server{Addr: d.config.MetricsAddr, Handler: mux}
		d.metricsWg.Add(1)
		go func() {
			defer d.metricsWg.Done()
			if err := d.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		log.Info().Str("addr", d.config.MetricsAddr).Msg("Metrics endpoint started")
	}

	if d.config.SnapshotSchedule != "" {
		if err := d.manager.StartAutoSnapshot(d.config.SnapshotSchedule); err != nil {
			log.Warn().Err(err).Msg("Failed to start snapshot schedule")
		} else {
			log.Info().Str("spec", d.config.SnapshotSchedule).Msg("Snapshot schedule started")
		}
	}

	if loader != nil {
		w, err := config.NewWatcher(loader, log, d.applyConfig)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create config watcher")
		} else if err := w.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start config watcher")
		} else {
			d.watcher = w
		}
	}

	log.Info().Msg("Daemon started")
	return nil
}

// applyConfig takes the memory tuning knobs from a freshly reloaded config.
// Capabilities and the data directory are fixed for the process lifetime.
func (d *Daemon) applyConfig(cfg *config.Config) {
	d.mu.Lock()
	old := d.memory
	d.memory = cfg.Memory
	d.mu.Unlock()

	if old != cfg.Memory {
		d.logger.Info().
			Int("k", cfg.Memory.K).
			Float64("relatedness_threshold", cfg.Memory.RelatednessThreshold).
			Int("promotion_threshold", cfg.Memory.PromotionThreshold).
			Msg("Memory tuning knobs reloaded")
	}
}

// MemoryConfig returns the current per-scope defaults, reflecting any
// hot-reloads since start.
func (d *Daemon) MemoryConfig() config.MemoryConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.memory
}

// CreateScope opens a scope using the current memory defaults.
func (d *Daemon) CreateScope(ctx context.Context, id string) (*scope.Scope, error) {
	return d.manager.Create(ctx, id, d.MemoryConfig())
}

// Manager returns the scope manager.
func (d *Daemon) Manager() *scope.Manager {
	return d.manager
}

// Stop shuts the daemon down gracefully, draining every open scope.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	log := d.logger.GetZerolog()
	log.Info().Msg("Stopping daemon")

	if d.watcher != nil {
		d.watcher.Stop()
	}

	if d.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metrics.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shut down metrics server")
		}
		cancel()
		d.metricsWg.Wait()
	}

	if err := d.manager.Close(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to close scope manager")
	}

	if err := d.lifecycle.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.cancel()

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	log.Info().Msg("Daemon stopped")
	return nil
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Status reports whether the daemon is running and for how long.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Scopes = d.manager.Scopes()
	}
	return status
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Scopes    []string
}
