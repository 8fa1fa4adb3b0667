package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeus-ci/zeus/internal/models"
	"github.com/zeus-ci/zeus/internal/pipeline"
)

func newTestEngine(t *testing.T, docker *fakeDocker) *Engine {
	t.Helper()
	return &Engine{
		Exec:          docker,
		Tickets:       &countingTickets{},
		WorkspaceRoot: t.TempDir(),
		BuildLogDir:   t.TempDir(),
		NumThreads:    2,
		PollInterval:  5 * time.Millisecond,
	}
}

func TestEngineRunAggregatesWorkflows(t *testing.T) {
	docker := newFakeDocker()
	docker.results["boom"] = failedOutput("nope")

	spec := &pipeline.Spec{
		Jobs: map[string]pipeline.Job{
			"ok":   testJob("alpine", runCommand("true")),
			"bad":  testJob("alpine", runCommand("boom")),
			"also": testJob("alpine", runCommand("true")),
		},
		Workflows: pipeline.Workflows{
			"green": {Stages: []pipeline.StageEntry{stageEntry("ok")}},
			"red":   {Stages: []pipeline.StageEntry{stageEntry("bad"), stageEntry("also")}},
		},
	}

	status, err := newTestEngine(t, docker).Run(context.Background(), spec, Request{
		BuildID:  42,
		Slab:     "octocat/hello",
		Ref:      "abc123",
		Username: "octocat",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, status)
}

func TestEngineRunAddsUsernameBinding(t *testing.T) {
	docker := newFakeDocker()
	spec := &pipeline.Spec{
		Jobs: map[string]pipeline.Job{"ok": testJob("alpine", runCommand("true"))},
		Workflows: pipeline.Workflows{
			"main": {Stages: []pipeline.StageEntry{stageEntry("ok")}},
		},
	}

	_, err := newTestEngine(t, docker).Run(context.Background(), spec, Request{
		BuildID:  1,
		Slab:     "octocat/hello",
		Username: "octocat",
		Env:      []string{"ZEUS_BRANCH=main", "ZEUS_TAG="},
	})
	require.NoError(t, err)

	idx := docker.indexOf(func(argv []string) bool {
		for _, a := range argv {
			if a == "ZEUS_USERNAME=octocat" {
				return true
			}
		}
		return false
	})
	assert.GreaterOrEqual(t, idx, 0)
}

func TestEngineRunConstructionErrorIsWorkflowError(t *testing.T) {
	docker := newFakeDocker()
	spec := &pipeline.Spec{
		Jobs: map[string]pipeline.Job{"ok": testJob("alpine", runCommand("true"))},
		Workflows: pipeline.Workflows{
			"broken": {Stages: []pipeline.StageEntry{stageEntry("ghost")}},
			"fine":   {Stages: []pipeline.StageEntry{stageEntry("ok")}},
		},
	}

	status, err := newTestEngine(t, docker).Run(context.Background(), spec, Request{
		BuildID:  1,
		Slab:     "octocat/hello",
		Username: "octocat",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, status)

	// the intact workflow still ran
	assert.NotEmpty(t, docker.containersStarted())
}

func TestRequestCloneURL(t *testing.T) {
	req := Request{Slab: "octocat/hello"}
	assert.Equal(t, "https://github.com/octocat/hello.git", req.CloneURL())
}
