package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tobyv/researchmem/internal/config"
	"github.com/tobyv/researchmem/internal/logger"
	"github.com/tobyv/researchmem/pkg/audit"
	"github.com/tobyv/researchmem/pkg/scope"
)

var replayDataDir string

var replayCmd = &cobra.Command{
	Use:   "replay <snapshot.jsonl>",
	Short: "Replay a snapshot into a persistent scope",
	Long: `Replay validates a snapshot and rebuilds the scope it records into a
persistent SQLite-backed store under the data directory, so the evidence
and concept tree can be queried after the original task ended.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayDataDir, "data-dir", "", "data directory (default is $HOME/.researchmem)")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	snap, err := audit.Read(f)
	if err != nil {
		return fmt.Errorf("snapshot is not replayable: %w", err)
	}

	dataDir := replayDataDir
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	mgr, err := scope.NewManager(scope.Deps{
		Embedder: buildEmbedder(cfg, log.GetZerolog()),
		DataDir:  dataDir,
		Logger:   log.GetZerolog(),
	})
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer mgr.Close(ctx)

	memCfg := cfg.Memory
	memCfg.Persist = true
	s, err := mgr.Create(ctx, snap.Header.ScopeID, memCfg)
	if err != nil {
		return fmt.Errorf("create scope %s: %w", snap.Header.ScopeID, err)
	}
	if err := s.Replay(ctx, snap); err != nil {
		return err
	}

	n, err := s.Len(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "replayed scope %s: %d chunk(s), %d concept node(s)\n",
		snap.Header.ScopeID, n, len(snap.Nodes))
	return nil
}
