package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zeus-ci/zeus/internal/allocator"
	"github.com/zeus-ci/zeus/internal/executor"
	"github.com/zeus-ci/zeus/internal/logger"
	"github.com/zeus-ci/zeus/internal/models"
	"github.com/zeus-ci/zeus/internal/pipeline"
	"github.com/zeus-ci/zeus/internal/runner"
)

// CmdRun executes one pipeline locally without the coordinator or a
// database, for a repository slab given on the command line.
func CmdRun() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <owner/name>",
		Short: "Fetch and execute a repository's pipeline locally",
		Args:  cobra.ExactArgs(1),
		RunE:  runStandalone,
	}
	cmd.Flags().String("ref", "", "ref to check out (tags/<t> or a commit SHA)")
	cmd.Flags().Int("threads", 1, "stage concurrency")
	cmd.Flags().StringArray("env", nil, "extra KEY=VALUE bindings for every stage")
	return cmd
}

func runStandalone(cmd *cobra.Command, args []string) error {
	slab := args[0]
	if !strings.Contains(slab, "/") {
		return fmt.Errorf("repository must be given as owner/name, got %q", slab)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel, err := setupContext(cfg)
	if err != nil {
		return err
	}
	defer cancel()

	ref, _ := cmd.Flags().GetString("ref")
	threads, _ := cmd.Flags().GetInt("threads")
	env, _ := cmd.Flags().GetStringArray("env")

	spec, err := pipeline.NewFetcher().Fetch(ctx, slab, ref)
	if err != nil {
		return err
	}

	engine := &runner.Engine{
		Exec: executor.Local{},
		Tickets: allocator.Local{
			Registry: allocator.NewRegistry(),
			Limit:    models.DefaultContainerLimit,
		},
		WorkspaceRoot: cfg.Workspace.Root,
		BuildLogDir:   cfg.BuildLogDir,
		NumThreads:    threads,
	}

	owner, _, _ := strings.Cut(slab, "/")
	status, err := engine.Run(ctx, spec, runner.Request{
		Slab:     slab,
		Ref:      ref,
		Username: owner,
		Env:      env,
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "pipeline finished", "status", status.String())
	if status != models.StatusPassed {
		return fmt.Errorf("pipeline %s", status)
	}
	return nil
}
