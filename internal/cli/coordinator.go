package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeus-ci/zeus/internal/allocator"
	"github.com/zeus-ci/zeus/internal/coordinator"
	"github.com/zeus-ci/zeus/internal/executor"
	"github.com/zeus-ci/zeus/internal/logger"
	"github.com/zeus-ci/zeus/internal/pipeline"
	"github.com/zeus-ci/zeus/internal/reporter"
	"github.com/zeus-ci/zeus/internal/runner"
)

// CmdCoordinator starts the build coordinator daemon.
func CmdCoordinator() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Poll for created builds and execute them on a bounded worker pool",
		RunE:  runCoordinator,
	}
	cmd.Flags().Int("runner-threads", 0, "stage concurrency per build")
	cmd.Flags().Int("concurrent-builds", 0, "number of build workers")
	cmd.Flags().Int("build-poll-sec", 10, "interval between database polling for new builds")
	return cmd
}

func runCoordinator(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if threads, _ := cmd.Flags().GetInt("runner-threads"); threads > 0 {
		cfg.BuildCoordinator.RunnerThreads = threads
	}
	if builds, _ := cmd.Flags().GetInt("concurrent-builds"); builds > 0 {
		cfg.BuildCoordinator.ConcurrentBuilds = builds
	}
	if cmd.Flags().Changed("build-poll-sec") {
		cfg.BuildCoordinator.BuildPollSec, _ = cmd.Flags().GetInt("build-poll-sec")
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

	tickets := allocator.NewClient(fmt.Sprintf("http://%s:%d",
		cfg.ResourceAllocator.Address, cfg.ResourceAllocator.Port))

	engine := &runner.Engine{
		Exec:          executor.Local{},
		Tickets:       tickets,
		WorkspaceRoot: cfg.Workspace.Root,
		BuildLogDir:   cfg.BuildLogDir,
		NumThreads:    cfg.BuildCoordinator.RunnerThreads,
	}

	coord := coordinator.New(store, pipeline.NewFetcher(), engine, githubFactory, coordinator.Config{
		ConcurrentBuilds: cfg.BuildCoordinator.ConcurrentBuilds,
		PollInterval:     time.Duration(cfg.BuildCoordinator.BuildPollSec) * time.Second,
	})

	logger.Info(ctx, "starting build coordinator",
		"runner_threads", cfg.BuildCoordinator.RunnerThreads,
		"concurrent_builds", cfg.BuildCoordinator.ConcurrentBuilds)
	return coord.Run(ctx)
}

func githubFactory(token string) reporter.StatusReporter {
	return reporter.NewGitHub(token)
}
