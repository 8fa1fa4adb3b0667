package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
jobs:
  build:
    docker:
      - image: golang:1.24
    working_directory: ~/project
    steps:
      - checkout
      - run:
          name: compile
          command: go build ./...
      - persist_to_workspace:
          root: ~/project
          paths: bin/*
  test:
    docker:
      - image: golang:1.24
    steps:
      - attach_workspace:
          at: ~/project
      - run:
          command: go test ./...
workflows:
  version: 2
  commit:
    stages:
      - build
      - test:
          requires: [build]
          run_when:
            branch: "^main$"
`

func TestParseFullConfig(t *testing.T) {
	spec, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	require.Len(t, spec.Jobs, 2)
	buildJob := spec.Jobs["build"]
	assert.Equal(t, "golang:1.24", buildJob.Image())
	assert.Equal(t, "~/project", buildJob.WorkingDirectory)

	require.Len(t, buildJob.Steps, 3)
	assert.Equal(t, StepCheckout, buildJob.Steps[0].Kind)
	assert.Equal(t, StepRun, buildJob.Steps[1].Kind)
	assert.Equal(t, "compile", buildJob.Steps[1].Name)
	assert.Equal(t, "go build ./...", buildJob.Steps[1].Command)
	assert.Equal(t, StepPersist, buildJob.Steps[2].Kind)
	assert.Equal(t, "~/project", buildJob.Steps[2].Root)
	assert.Equal(t, "bin/*", buildJob.Steps[2].Paths)

	testJob := spec.Jobs["test"]
	require.Len(t, testJob.Steps, 2)
	assert.Equal(t, StepAttach, testJob.Steps[0].Kind)
	assert.Equal(t, "~/project", testJob.Steps[0].At)

	// the reserved version key is never a workflow
	require.Len(t, spec.Workflows, 1)
	commit, ok := spec.Workflows["commit"]
	require.True(t, ok)

	require.Len(t, commit.Stages, 2)
	assert.Equal(t, "build", commit.Stages[0].Name)
	assert.Empty(t, commit.Stages[0].Requires)
	assert.True(t, commit.Stages[0].RunWhen.Zero())

	assert.Equal(t, "test", commit.Stages[1].Name)
	assert.Equal(t, []string{"build"}, commit.Stages[1].Requires)
	assert.Equal(t, "^main$", commit.Stages[1].RunWhen.Branch)
}

func TestParseRunWhenTag(t *testing.T) {
	spec, err := Parse([]byte(`
jobs:
  deploy:
    docker: [{image: alpine}]
    steps:
      - run: {command: ./deploy.sh}
workflows:
  release:
    stages:
      - deploy:
          run_when:
            tag: "^v"
`))
	require.NoError(t, err)
	stage := spec.Workflows["release"].Stages[0]
	assert.Equal(t, "^v", stage.RunWhen.Tag)
	assert.Empty(t, stage.RunWhen.Branch)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{
			name: "UnsupportedBareStep",
			in: `
jobs:
  a:
    docker: [{image: alpine}]
    steps: [teleport]
workflows:
  w:
    stages: [a]
`,
		},
		{
			name: "UnknownStepVariant",
			in: `
jobs:
  a:
    docker: [{image: alpine}]
    steps:
      - frobnicate: {x: 1}
workflows:
  w:
    stages: [a]
`,
		},
		{
			name: "MissingImage",
			in: `
jobs:
  a:
    steps: [checkout]
workflows:
  w:
    stages: [a]
`,
		},
		{
			name: "NoSteps",
			in: `
jobs:
  a:
    docker: [{image: alpine}]
workflows:
  w:
    stages: [a]
`,
		},
		{
			name: "MultiKeyStageEntry",
			in: `
jobs:
  a:
    docker: [{image: alpine}]
    steps: [checkout]
workflows:
  w:
    stages:
      - a: {requires: []}
        b: {requires: []}
`,
		},
		{
			name: "NotYAML",
			in:   "jobs: [",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.in))
			require.Error(t, err)
		})
	}
}
