package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zeus-ci/zeus/internal/config"
	"github.com/zeus-ci/zeus/internal/logger"
	"github.com/zeus-ci/zeus/internal/persistence"
)

// loadConfig reads the configuration file and applies the database flags
// shared by every command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var searchDirs []string
	if dir, _ := cmd.Flags().GetString("config-dir"); dir != "" {
		searchDirs = append(searchDirs, dir)
	}

	cfg, err := config.Load(searchDirs...)
	if err != nil {
		return nil, err
	}

	if protocol, _ := cmd.Flags().GetString("sqlalchemy-protocol"); protocol != "" {
		cfg.Database.Protocol = protocol
	}
	if args, _ := cmd.Flags().GetString("sqlalchemy-protocol-args"); args != "" {
		cfg.Database.Args = args
	}
	return cfg, nil
}

// setupContext builds the command context: configured logger attached,
// cancellation on SIGINT/SIGTERM.
func setupContext(cfg *config.Config) (context.Context, context.CancelFunc, error) {
	opts := []logger.Option{
		logger.WithLevel(cfg.Logging.Level),
		logger.WithFormat(cfg.Logging.Format),
	}
	if cfg.Logging.Filepath != "" {
		f, err := os.OpenFile(cfg.Logging.Filepath,
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		opts = append(opts, logger.WithLogFile(f))
	}

	ctx := logger.WithLogger(context.Background(), logger.NewLogger(opts...))
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	return ctx, cancel, nil
}

func openStore(cfg *config.Config) (*persistence.Store, error) {
	store, err := persistence.Open(cfg.Database.Protocol, cfg.Database.Args)
	if err != nil {
		return nil, fmt.Errorf("open store (%s): %w", cfg.Database.Protocol, err)
	}
	return store, nil
}
