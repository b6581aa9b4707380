package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tobyv/researchmem/internal/config"
	"github.com/tobyv/researchmem/internal/daemon"
	"github.com/tobyv/researchmem/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the researchmem daemon",
	Long: `Start the researchmem daemon. The daemon hosts live memory scopes,
exposes prometheus metrics, writes scheduled audit snapshots, and
hot-reloads tuning knobs when the config file changes.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if daemon.IsRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
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

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	if err := d.Start(loader); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "researchmem daemon started (data dir: %s)\n", cfg.DataDir)
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "metrics: http://%s/metrics\n", cfg.MetricsAddr)
	}

	d.Wait()
	return nil
}
