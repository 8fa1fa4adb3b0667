package runner

import (
	"context"
	"fmt"

	"github.com/zeus-ci/zeus/internal/executor"
	"github.com/zeus-ci/zeus/internal/pipeline"
)

// runStep executes one pipeline step inside the stage's container. The
// returned Output carries the captured streams appended to the stage log;
// a failing step reports through Output.Success, while the error return is
// reserved for the machinery itself breaking.
func runStep(ctx context.Context, c *Container, cloneURL, ref string, step pipeline.Step) (executor.Output, error) {
	switch step.Kind {
	case pipeline.StepCheckout:
		return runCheckout(ctx, c, cloneURL, ref)
	case pipeline.StepRun:
		return c.Exec(ctx, step.Command)
	case pipeline.StepPersist:
		ok, err := c.Persist(ctx, step.Root, step.Paths)
		return boolOutput(ok, "persist to workspace failed"), err
	case pipeline.StepAttach:
		ok, err := c.Attach(ctx, step.At)
		return boolOutput(ok, "attach workspace failed"), err
	default:
		return executor.Output{}, fmt.Errorf("unsupported step kind %v", step.Kind)
	}
}

// runCheckout clones into the container's working directory and, when the
// build targets a specific ref, checks it out. A bare branch push relies on
// the commit SHA resolved upstream as the ref.
func runCheckout(ctx context.Context, c *Container, cloneURL, ref string) (executor.Output, error) {
	out, err := c.Exec(ctx, fmt.Sprintf("git clone %s .", cloneURL))
	if err != nil || !out.Success() || ref == "" {
		return out, err
	}

	co, err := c.Exec(ctx, "git checkout "+ref)
	if err != nil {
		return out, err
	}
	return executor.Output{
		Stdout:   out.Stdout + co.Stdout,
		Stderr:   out.Stderr + co.Stderr,
		ExitCode: co.ExitCode,
	}, nil
}

func boolOutput(ok bool, failure string) executor.Output {
	if ok {
		return executor.Output{}
	}
	return executor.Output{Stderr: failure + "\n", ExitCode: 1}
}
