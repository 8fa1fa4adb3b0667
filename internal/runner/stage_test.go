package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeus-ci/zeus/internal/executor"
	"github.com/zeus-ci/zeus/internal/models"
	"github.com/zeus-ci/zeus/internal/pipeline"
)

func newTestStage(t *testing.T, docker *fakeDocker, job pipeline.Job, runWhen pipeline.RunWhen, env []string) *Stage {
	t.Helper()
	workspace, err := NewWorkspace(t.TempDir(), "cafebabe")
	require.NoError(t, err)

	stage, err := NewStage(StageConfig{
		Name:      "unit",
		Job:       job,
		RunWhen:   runWhen,
		ExecID:    "cafebabe",
		CloneURL:  "https://github.com/octocat/hello.git",
		Ref:       "tags/v1.0.0",
		Username:  "octocat",
		Env:       env,
		Exec:      docker,
		Tickets:   &countingTickets{},
		Workspace: workspace,
	})
	require.NoError(t, err)
	return stage
}

func TestStageRunPasses(t *testing.T) {
	docker := newFakeDocker()
	docker.results["make"] = stdoutOutput("built\n")

	stage := newTestStage(t, docker,
		testJob("alpine", runCommand("make")),
		pipeline.RunWhen{}, []string{"ZEUS_BRANCH=main", "ZEUS_TAG="})

	require.NoError(t, stage.Run(context.Background()))
	assert.Equal(t, models.StatusPassed, stage.State())
	assert.Equal(t, "built\n", stage.Stdout())
	assert.GreaterOrEqual(t, stage.Duration().Nanoseconds(), int64(0))
}

func TestStageFirstFailingStepStopsExecution(t *testing.T) {
	docker := newFakeDocker()
	docker.results["step-one"] = executor.Output{
		Stdout: "started\n", Stderr: "broken\n", ExitCode: 2,
	}

	stage := newTestStage(t, docker,
		testJob("alpine", runCommand("step-one"), runCommand("step-two")),
		pipeline.RunWhen{}, []string{"ZEUS_BRANCH=main", "ZEUS_TAG="})

	require.NoError(t, stage.Run(context.Background()))
	assert.Equal(t, models.StatusFailed, stage.State())
	assert.Contains(t, stage.Stdout(), "started")
	assert.Contains(t, stage.Stderr(), "broken")
	assert.NotContains(t, docker.execCommands(), "step-two")
}

func TestStageGuardMismatchNeverTouchesContainer(t *testing.T) {
	docker := newFakeDocker()

	stage := newTestStage(t, docker,
		testJob("alpine", runCommand("true")),
		pipeline.RunWhen{Branch: "^main$"},
		[]string{"ZEUS_BRANCH=feature-x", "ZEUS_TAG="})

	require.NoError(t, stage.Run(context.Background()))
	assert.Equal(t, models.StatusSkipped, stage.State())
	assert.Empty(t, docker.commands())
}

func TestStageCheckout(t *testing.T) {
	docker := newFakeDocker()

	stage := newTestStage(t, docker,
		testJob("alpine", pipeline.Step{Kind: pipeline.StepCheckout}),
		pipeline.RunWhen{}, []string{"ZEUS_BRANCH=main", "ZEUS_TAG=v1.0.0"})

	require.NoError(t, stage.Run(context.Background()))
	assert.Equal(t, models.StatusPassed, stage.State())

	cmds := docker.execCommands()
	assert.Contains(t, cmds, "git clone https://github.com/octocat/hello.git .")
	assert.Contains(t, cmds, "git checkout tags/v1.0.0")
}

func TestStageContainerStartFailureFailsStage(t *testing.T) {
	docker := newFakeDocker()
	docker.failRun["alpine"] = "image not found"

	stage := newTestStage(t, docker,
		testJob("alpine", runCommand("true")),
		pipeline.RunWhen{}, []string{"ZEUS_BRANCH=main", "ZEUS_TAG="})

	require.NoError(t, stage.Run(context.Background()))
	assert.Equal(t, models.StatusFailed, stage.State())
	assert.Contains(t, stage.Stderr(), "image not found")
}
