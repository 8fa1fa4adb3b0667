package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zeus-ci/zeus/internal/allocator"
	"github.com/zeus-ci/zeus/internal/logger"
)

// CmdAllocator starts the shared container-allocation service.
func CmdAllocator() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allocator",
		Short: "Serve the cross-process container quota arbiter",
		RunE:  runAllocator,
	}
	cmd.Flags().Int("port", 0, "port to bind")
	return cmd
}

func runAllocator(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.ResourceAllocator.Port = port
	}

	ctx, cancel, err := setupContext(cfg)
	if err != nil {
		return err
	}
	defer cancel()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	addr := fmt.Sprintf(":%d", cfg.ResourceAllocator.Port)
	logger.Info(ctx, "starting resource allocator", "addr", addr)
	return allocator.NewServer(addr, store).Start(ctx)
}
