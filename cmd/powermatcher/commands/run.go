package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/anaelectric/powermatcher/internal/cluster"
	"github.com/anaelectric/powermatcher/internal/config"
	"github.com/anaelectric/powermatcher/internal/logging"
	"github.com/anaelectric/powermatcher/internal/printer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a cluster in the foreground",
	Long: `Build the market tree described by powermatcher.yml and run it until
interrupted: agents bid on their schedules and the auctioneer clears the
market every clearing_interval.

Environment:
  POWERMATCHER_REDIS_URL  overrides redis.url and enables the Redis bridge`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "file", "f", "powermatcher.yml", "Path to the cluster configuration")
	rootCmd.AddCommand(runCmd)
}

// loadConfig loads path and applies environment overrides, reporting failures
// the way every command does.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, printer.Error(
				fmt.Sprintf("%s not found", path),
				"No cluster configuration found.",
				[]string{"Create one with:\n  powermatcher init"},
			)
		}
		return nil, printer.Error("invalid configuration", err.Error(), nil)
	}
	cfg.ApplyEnvironment(os.Getenv)
	return cfg, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	c, err := cluster.Build(cfg, logger)
	if err != nil {
		return printer.Error("failed to build cluster", err.Error(), nil)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting cluster", zap.String("config", configPath), zap.String("version", version))
	if err := c.Run(ctx); err != nil {
		return printer.Error("cluster stopped with an error", err.Error(), nil)
	}
	return nil
}
