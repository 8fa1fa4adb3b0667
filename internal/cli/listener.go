package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zeus-ci/zeus/internal/listener"
	"github.com/zeus-ci/zeus/internal/logger"
)

// CmdListener starts the webhook HTTP server.
func CmdListener() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listener",
		Short: "Receive upstream push webhooks and persist them as builds",
		RunE:  runListener,
	}
	cmd.Flags().String("listen-address", "", "address to bind")
	cmd.Flags().Int("port", 0, "port to bind")
	return cmd
}

func runListener(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("listen-address"); addr != "" {
		cfg.Listener.Address = addr
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Listener.Port = port
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

	addr := fmt.Sprintf("%s:%d", cfg.Listener.Address, cfg.Listener.Port)
	logger.Info(ctx, "starting webhook listener", "addr", addr)
	return listener.New(addr, store, githubFactory).Start(ctx)
}
