package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Swind/go-fiber-runner/core"
	"github.com/Swind/go-fiber-runner/internal/config"
	"github.com/Swind/go-fiber-runner/internal/logging"
)

var (
	flagConfig string
	flagDebug  bool

	cfg    *config.Configuration
	logger *zap.Logger
)

// NewRootCmd creates the root cobra command for the fibersched CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fibersched",
		Short: "fibersched - cooperative fiber scheduler",
		Long:  "fibersched runs synthetic fiber workloads on a cooperative scheduler, either once or behind an HTTP API.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagDebug {
				if err := cmd.Flags().Set("log-level", "debug"); err != nil {
					return fmt.Errorf("enabling debug logging: %w", err)
				}
			}
			var err error
			cfg, err = config.Load(flagConfig, cmd.Flags())
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			logger = logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
			zap.ReplaceGlobals(logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a YAML/JSON/TOML config file")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error) (or FIBERS_LOG_LEVEL env)")
	root.PersistentFlags().String("log-format", "console", "Log format (console, json) (or FIBERS_LOG_FORMAT env)")
	root.PersistentFlags().Int("threads", 4, "Number of scheduler workers (or FIBERS_SCHEDULER_THREADS env)")
	root.PersistentFlags().String("name", "fibersched", "Scheduler name")
	root.PersistentFlags().String("idle", config.IdleSignal, "Idle policy (signal, spin, backoff)")

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
	)

	return root
}

// newScheduler builds a scheduler from the loaded configuration.
func newScheduler(metrics core.Metrics) *core.Scheduler {
	sc := cfg.Scheduler
	return core.NewSchedulerWithConfig(sc.Threads, sc.Name, &core.SchedulerConfig{
		Logger:          core.NewZapLogger(logger.Named("scheduler")),
		Metrics:         metrics,
		Idler:           sc.Idler(),
		HistoryCapacity: sc.HistoryCapacity,
	})
}
