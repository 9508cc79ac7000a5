package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/sagaflow/internal/config"
	"github.com/aretw0/sagaflow/internal/logging"
	"github.com/aretw0/sagaflow/pkg/registry"
	"github.com/spf13/cobra"
)

// NewRootCommand builds the sagaflow command tree over the definitions in reg.
func NewRootCommand(reg *registry.Registry) *cobra.Command {
	if reg == nil {
		reg = registry.New()
	}

	root := &cobra.Command{
		Use:   "sagaflow",
		Short: "Sagaflow runs and inspects crash-recoverable sagas",
		Long: `Sagaflow drives sagas: ordered local and remote steps whose paused state
survives restarts. Use it to consume replies, start executions and inspect the store.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "Config file (default sagaflow.yaml or $SAGAFLOW_CONFIG)")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")

	root.AddCommand(
		newServeCommand(reg),
		newStartCommand(reg),
		newSagaCommand(reg),
		newGraphCommand(reg),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command tree and exits non-zero on error.
func Execute(reg *registry.Registry) {
	if err := NewRootCommand(reg).Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Log.Level = "debug"
	}
	return cfg, logging.FromConfig(cfg.Log.Format, cfg.Log.Level), nil
}

// openApp loads configuration and builds the App. The caller must Close it.
func openApp(ctx context.Context, cmd *cobra.Command, reg *registry.Registry) (*App, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	app, err := Build(ctx, cfg, reg, logger)
	if err != nil {
		return nil, fmt.Errorf("error initializing sagaflow: %w", err)
	}
	return app, nil
}
