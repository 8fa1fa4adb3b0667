package runner

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/zeus-ci/zeus/internal/executor"
	"github.com/zeus-ci/zeus/internal/logger"
	"github.com/zeus-ci/zeus/internal/models"
	"github.com/zeus-ci/zeus/internal/pipeline"
)

// Request identifies one build execution: the repository slab, the ref to
// check out, and the environment every stage receives.
type Request struct {
	BuildID  int64
	Slab     string
	Ref      string
	Username string
	Env      []string
}

// CloneURL returns the HTTPS clone URL for the request's repository.
func (r Request) CloneURL() string {
	return fmt.Sprintf("https://github.com/%s.git", r.Slab)
}

// Engine runs every workflow of a build against a pipeline spec.
type Engine struct {
	Exec    executor.Interface
	Tickets Tickets

	WorkspaceRoot string
	BuildLogDir   string
	NumThreads    int
	PollInterval  time.Duration
}

// Run instantiates and executes one Workflow per entry of the spec and
// returns the build's aggregate result. A workflow that cannot be
// constructed counts as errored; the remaining workflows still run.
func (e *Engine) Run(ctx context.Context, spec *pipeline.Spec, req Request) (models.Status, error) {
	env := slices.Clone(req.Env)
	env = append(env, "ZEUS_USERNAME="+req.Username)

	names := lo.Keys(spec.Workflows)
	slices.Sort(names)

	var results []models.Status
	for _, name := range names {
		workflow, err := NewWorkflow(WorkflowConfig{
			Name:          name,
			BuildID:       req.BuildID,
			Jobs:          spec.Jobs,
			Spec:          spec.Workflows[name],
			CloneURL:      req.CloneURL(),
			Ref:           req.Ref,
			Username:      req.Username,
			Env:           env,
			NumThreads:    e.NumThreads,
			PollInterval:  e.PollInterval,
			WorkspaceRoot: e.WorkspaceRoot,
			BuildLogDir:   e.BuildLogDir,
			Exec:          e.Exec,
			Tickets:       e.Tickets,
		})
		if err != nil {
			logger.Error(ctx, "workflow construction failed",
				"build", req.BuildID, "workflow", name, "err", err)
			results = append(results, models.StatusError)
			continue
		}

		status, err := workflow.Run(ctx)
		if err != nil {
			logger.Error(ctx, "workflow errored",
				"build", req.BuildID, "workflow", name, "err", err)
			status = models.StatusError
		}
		results = append(results, status)
	}

	return models.AggregateStatus(results), nil
}
