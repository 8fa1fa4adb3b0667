package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeus-ci/zeus/internal/executor"
	"github.com/zeus-ci/zeus/internal/pipeline"
)

// fakeDocker emulates the docker CLI: containers always launch unless the
// image is marked broken, execs return scripted outputs, and `docker cp`
// from a container materializes a file in the destination directory so
// workspace handoff can be observed end to end.
type fakeDocker struct {
	mu      sync.Mutex
	argv    [][]string
	results map[string]executor.Output // sh -c command -> output
	failRun map[string]string          // image -> stderr of failing docker run
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		results: make(map[string]executor.Output),
		failRun: make(map[string]string),
	}
}

func (f *fakeDocker) Run(_ context.Context, argv ...string) (executor.Output, error) {
	f.mu.Lock()
	f.argv = append(f.argv, argv)
	f.mu.Unlock()

	switch argv[1] {
	case "run":
		image := argv[len(argv)-1]
		f.mu.Lock()
		msg, broken := f.failRun[image]
		f.mu.Unlock()
		if broken {
			return executor.Output{Stderr: msg, ExitCode: 125}, nil
		}
		return executor.Output{Stdout: "deadbeef\n"}, nil

	case "exec":
		command := argv[len(argv)-1]
		f.mu.Lock()
		out, ok := f.results[command]
		f.mu.Unlock()
		if ok {
			return out, nil
		}
		return executor.Output{}, nil

	case "cp":
		src, dst := argv[2], argv[3]
		if _, path, ok := strings.Cut(src, ":"); ok {
			// container -> workspace: materialize the file
			err := os.WriteFile(filepath.Join(dst, filepath.Base(path)), []byte("payload"), 0o644)
			if err != nil {
				return executor.Output{Stderr: err.Error(), ExitCode: 1}, nil
			}
		}
		return executor.Output{}, nil

	default:
		return executor.Output{}, nil
	}
}

func (f *fakeDocker) commands() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.argv))
	copy(out, f.argv)
	return out
}

// containersStarted returns the names passed to successful docker run calls.
func (f *fakeDocker) containersStarted() []string {
	var names []string
	for _, argv := range f.commands() {
		if argv[1] == "run" {
			if _, broken := f.failRun[argv[len(argv)-1]]; !broken {
				names = append(names, argv[5])
			}
		}
	}
	return names
}

// execCommands returns every sh -c command executed, in order.
func (f *fakeDocker) execCommands() []string {
	var cmds []string
	for _, argv := range f.commands() {
		if argv[1] == "exec" {
			cmds = append(cmds, argv[len(argv)-1])
		}
	}
	return cmds
}

// indexOf returns the position of the first recorded command matching pred,
// or -1.
func (f *fakeDocker) indexOf(pred func(argv []string) bool) int {
	for i, argv := range f.commands() {
		if pred(argv) {
			return i
		}
	}
	return -1
}

// countingTickets is an in-process ticket source tracking peak concurrency.
// A limit of zero means unlimited.
type countingTickets struct {
	mu       sync.Mutex
	limit    int
	inUse    int
	peak     int
	acquired int
	released int
}

func (c *countingTickets) Acquire(ctx context.Context, _ string) error {
	for {
		c.mu.Lock()
		if c.limit <= 0 || c.inUse < c.limit {
			c.inUse++
			c.acquired++
			if c.inUse > c.peak {
				c.peak = c.inUse
			}
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (c *countingTickets) Release(_ context.Context, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUse > 0 {
		c.inUse--
	}
	c.released++
}

func stdoutOutput(stdout string) executor.Output {
	return executor.Output{Stdout: stdout}
}

func failedOutput(stderr string) executor.Output {
	return executor.Output{Stderr: stderr + "\n", ExitCode: 1}
}

func testJob(image string, steps ...pipeline.Step) pipeline.Job {
	return pipeline.Job{
		Docker: []pipeline.DockerImage{{Image: image}},
		Steps:  steps,
	}
}

func runCommand(command string) pipeline.Step {
	return pipeline.Step{Kind: pipeline.StepRun, Command: command}
}

func stageEntry(name string, requires ...string) pipeline.StageEntry {
	return pipeline.StageEntry{Name: name, Requires: requires}
}
