// Package coordinator drives the build queue: it polls the store for
// created builds, dispatches them to a bounded worker pool, and reports
// commit status upstream as each build progresses.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zeus-ci/zeus/internal/logger"
	"github.com/zeus-ci/zeus/internal/metrics"
	"github.com/zeus-ci/zeus/internal/models"
	"github.com/zeus-ci/zeus/internal/persistence"
	"github.com/zeus-ci/zeus/internal/pipeline"
	"github.com/zeus-ci/zeus/internal/reporter"
	"github.com/zeus-ci/zeus/internal/runner"
)

// ErrRefNotDetected indicates a push ref that is neither a branch nor a
// tag; the build errors without running any workflow.
var ErrRefNotDetected = errors.New("ref not detected")

// Runner executes every workflow of one build. The production
// implementation is runner.Engine; tests substitute their own.
type Runner interface {
	Run(ctx context.Context, spec *pipeline.Spec, req runner.Request) (models.Status, error)
}

// Config sizes the coordinator's pools and pacing.
type Config struct {
	ConcurrentBuilds int
	PollInterval     time.Duration
}

// queueDepth bounds how many claimed-but-unstarted builds sit between the
// poller and the workers.
const queueDepth = 64

// Coordinator is the long-running build dispatch loop.
type Coordinator struct {
	store       *persistence.Store
	fetcher     *pipeline.Fetcher
	runner      Runner
	newReporter reporter.Factory
	cfg         Config
}

// New wires a Coordinator; zero config fields get the documented defaults.
func New(store *persistence.Store, fetcher *pipeline.Fetcher, r Runner, factory reporter.Factory, cfg Config) *Coordinator {
	if cfg.ConcurrentBuilds <= 0 {
		cfg.ConcurrentBuilds = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	return &Coordinator{
		store:       store,
		fetcher:     fetcher,
		runner:      r,
		newReporter: factory,
		cfg:         cfg,
	}
}

// Run polls for created builds and feeds the worker pool until ctx is
// cancelled, then drains: no new builds start, in-flight builds finish.
func (c *Coordinator) Run(ctx context.Context) error {
	queue := make(chan int64, queueDepth)

	var wg sync.WaitGroup
	for i := range c.cfg.ConcurrentBuilds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Debug(ctx, "build worker started", "worker", i)
			for id := range queue {
				if ctx.Err() != nil {
					// not started: the build stays created for the next run
					continue
				}
				c.process(ctx, id)
			}
		}()
	}

	logger.Info(ctx, "entering coordinator main loop",
		"concurrent_builds", c.cfg.ConcurrentBuilds, "poll_interval", c.cfg.PollInterval)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

poll:
	for {
		select {
		case <-ctx.Done():
			break poll
		case <-ticker.C:
		}
		if len(queue) > 0 {
			continue
		}

		builds, err := c.store.ListBuildsByStatus(context.WithoutCancel(ctx), models.StatusCreated)
		if err != nil {
			logger.Error(ctx, "build poll failed", "err", err)
			continue
		}
		// newest first; a full queue waits for the next poll
	enqueue:
		for i := len(builds) - 1; i >= 0; i-- {
			select {
			case queue <- builds[i].ID:
			default:
				break enqueue
			}
		}
	}

	logger.Info(ctx, "received exit command, closing build workers")
	close(queue)
	wg.Wait()
	return nil
}

// process runs one dequeued build to a terminal status. Any failure of the
// machinery marks the build errored and the worker keeps consuming.
func (c *Coordinator) process(ctx context.Context, id int64) {
	// status writes and reporting must survive coordinator shutdown
	dbCtx := context.WithoutCancel(ctx)

	build, err := c.store.GetBuild(dbCtx, id)
	if err != nil {
		logger.Error(ctx, "cannot load queued build", "build", id, "err", err)
		return
	}
	// claim immediately: the poller only considers status == created
	if err := c.store.UpdateBuildStatus(dbCtx, id, models.StatusStarting); err != nil {
		logger.Error(ctx, "cannot claim build", "build", id, "err", err)
		return
	}
	build.Status = models.StatusStarting

	var rep reporter.StatusReporter
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "build worker panicked", "build", id, "panic", r)
			c.finish(dbCtx, build, rep, models.StatusError, reporter.StateError)
		}
	}()

	repo, err := c.store.GetRepo(dbCtx, build.RepoName)
	if err != nil {
		c.finish(dbCtx, build, nil, models.StatusError, reporter.StateError)
		logger.Error(ctx, "repo lookup failed", "build", id, "err", err)
		return
	}
	user, err := c.store.GetUser(dbCtx, repo.Username)
	if err != nil {
		c.finish(dbCtx, build, nil, models.StatusError, reporter.StateError)
		logger.Error(ctx, "user lookup failed", "build", id, "err", err)
		return
	}

	rep = c.newReporter(user.Token)
	c.report(dbCtx, rep, build, reporter.StatePending)

	ref, refEnv, err := deriveRef(build)
	if err != nil {
		logger.Error(ctx, "cannot derive build ref", "build", id, "ref", build.Ref, "err", err)
		c.finish(dbCtx, build, rep, models.StatusError, reporter.StateError)
		return
	}

	if err := c.store.UpdateBuildStatus(dbCtx, id, models.StatusRunning); err != nil {
		logger.Error(ctx, "cannot mark build running", "build", id, "err", err)
		c.finish(dbCtx, build, rep, models.StatusError, reporter.StateError)
		return
	}

	spec, err := c.fetcher.Fetch(dbCtx, build.RepoName, ref)
	if err != nil {
		logger.Error(ctx, "pipeline fetch failed", "build", id, "err", err)
		c.finish(dbCtx, build, rep, models.StatusFailed, reporter.StateFailure)
		return
	}

	env := append(repo.ShellEnv(), refEnv...)
	status, err := c.runner.Run(ctx, spec, runner.Request{
		BuildID:  id,
		Slab:     build.RepoName,
		Ref:      ref,
		Username: repo.Username,
		Env:      env,
	})
	if err != nil {
		logger.Error(ctx, "build errored", "build", id, "err", err)
		c.finish(dbCtx, build, rep, models.StatusError, reporter.StateError)
		return
	}

	c.finish(dbCtx, build, rep, status, reporter.StateForStatus(status))
	logger.Info(ctx, "build finished", "build", id, "status", status.String())
}

func (c *Coordinator) finish(ctx context.Context, build models.Build, rep reporter.StatusReporter, status models.Status, state reporter.State) {
	if err := c.store.UpdateBuildStatus(ctx, build.ID, status); err != nil {
		logger.Error(ctx, "cannot persist build status",
			"build", build.ID, "status", status.String(), "err", err)
	}
	metrics.BuildsFinished.WithLabelValues(status.String()).Inc()
	if rep != nil {
		c.report(ctx, rep, build, state)
	}
}

func (c *Coordinator) report(ctx context.Context, rep reporter.StatusReporter, build models.Build, state reporter.State) {
	if err := rep.UpdateStatus(ctx, build, state); err != nil {
		logger.Warn(ctx, "status report failed",
			"build", build.ID, "state", string(state), "err", err)
	}
}

// deriveRef maps the pushed ref onto the ref to check out and the
// ZEUS_TAG / ZEUS_BRANCH bindings every stage receives.
func deriveRef(build models.Build) (string, []string, error) {
	payload, err := build.ParsePayload()
	if err != nil {
		return "", nil, err
	}

	switch {
	case strings.HasPrefix(build.Ref, "refs/tags/"):
		tag := strings.TrimPrefix(build.Ref, "refs/tags/")
		branch := strings.TrimPrefix(payload.BaseRef, "refs/heads/")
		return strings.TrimPrefix(build.Ref, "refs/"), []string{
			"ZEUS_TAG=" + tag,
			"ZEUS_BRANCH=" + branch,
		}, nil
	case strings.HasPrefix(build.Ref, "refs/heads/"):
		branch := strings.TrimPrefix(build.Ref, "refs/heads/")
		return payload.After, []string{
			"ZEUS_TAG=",
			"ZEUS_BRANCH=" + branch,
		}, nil
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrRefNotDetected, build.Ref)
	}
}
