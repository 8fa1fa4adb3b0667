package runner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/zeus-ci/zeus/internal/executor"
	"github.com/zeus-ci/zeus/internal/logger"
	"github.com/zeus-ci/zeus/internal/metrics"
	"github.com/zeus-ci/zeus/internal/models"
	"github.com/zeus-ci/zeus/internal/pipeline"
)

// StageConfig binds one workflow stage to its job spec and build context.
type StageConfig struct {
	Name     string
	Job      pipeline.Job
	Requires []string
	RunWhen  pipeline.RunWhen

	ExecID   string
	CloneURL string
	Ref      string
	Username string
	Env      []string

	Exec      executor.Interface
	Tickets   Tickets
	Workspace *Workspace
}

// Stage is one node of the workflow DAG: a container plus an ordered step
// list behind an optional branch/tag guard.
type Stage struct {
	Name     string
	Requires []string

	job      pipeline.Job
	branchRe *regexp.Regexp
	tagRe    *regexp.Regexp

	execID   string
	cloneURL string
	ref      string
	username string
	env      []string
	branch   string
	tag      string

	exec      executor.Interface
	tickets   Tickets
	workspace *Workspace

	requires []*Stage

	mu       sync.Mutex
	state    models.Status
	stdout   strings.Builder
	stderr   strings.Builder
	duration time.Duration
}

// NewStage validates the guard patterns and derives the stage's branch and
// tag from the ZEUS_BRANCH / ZEUS_TAG bindings in its environment.
func NewStage(cfg StageConfig) (*Stage, error) {
	s := &Stage{
		Name:      cfg.Name,
		Requires:  cfg.Requires,
		job:       cfg.Job,
		execID:    cfg.ExecID,
		cloneURL:  cfg.CloneURL,
		ref:       cfg.Ref,
		username:  cfg.Username,
		env:       cfg.Env,
		exec:      cfg.Exec,
		tickets:   cfg.Tickets,
		workspace: cfg.Workspace,
		state:     models.StatusCreated,
	}

	for _, env := range cfg.Env {
		if v, ok := strings.CutPrefix(env, "ZEUS_BRANCH="); ok {
			s.branch = v
		} else if v, ok := strings.CutPrefix(env, "ZEUS_TAG="); ok {
			s.tag = v
		}
	}

	var err error
	if cfg.RunWhen.Branch != "" {
		if s.branchRe, err = regexp.Compile(cfg.RunWhen.Branch); err != nil {
			return nil, fmt.Errorf("stage %s: branch guard: %w", cfg.Name, err)
		}
	}
	if cfg.RunWhen.Tag != "" {
		if s.tagRe, err = regexp.Compile(cfg.RunWhen.Tag); err != nil {
			return nil, fmt.Errorf("stage %s: tag guard: %w", cfg.Name, err)
		}
	}
	return s, nil
}

// State returns the stage's current lifecycle state.
func (s *Stage) State() models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stage) setState(state models.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Stdout returns the captured stdout of every executed step, in order.
func (s *Stage) Stdout() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdout.String()
}

// Stderr returns the captured stderr of every executed step, in order.
func (s *Stage) Stderr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stderr.String()
}

// Duration returns the container wall-clock time of a finished stage.
func (s *Stage) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Stage) appendOutput(out executor.Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stdout.WriteString(out.Stdout)
	s.stderr.WriteString(out.Stderr)
}

// guarded reports whether the stage's run condition excludes this build.
func (s *Stage) guarded() bool {
	if s.branchRe != nil && !s.branchRe.MatchString(s.branch) {
		return true
	}
	if s.tagRe != nil && !s.tagRe.MatchString(s.tag) {
		return true
	}
	return false
}

// Run executes the stage to a terminal state. A guard mismatch skips the
// stage without touching a container; the first failing step fails it; an
// unexpected error from the machinery marks it errored.
func (s *Stage) Run(ctx context.Context) error {
	if s.guarded() {
		logger.Debug(ctx, "skipping guarded stage",
			"stage", s.Name, "branch", s.branch, "tag", s.tag)
		s.setState(models.StatusSkipped)
		return nil
	}

	container := NewContainer(ContainerConfig{
		StageName:        s.Name,
		Image:            s.job.Image(),
		ExecID:           s.execID,
		WorkingDirectory: s.job.WorkingDirectory,
		Username:         s.username,
		Env:              s.env,
		Exec:             s.exec,
		Tickets:          s.tickets,
		Workspace:        s.workspace,
	})
	defer container.Stop(context.WithoutCancel(ctx))

	if err := container.Start(ctx); err != nil {
		if errors.Is(err, ErrContainerStart) {
			logger.Error(ctx, "stage failed to start container", "stage", s.Name, "err", err)
			s.appendOutput(executor.Output{Stderr: err.Error() + "\n", ExitCode: 1})
			s.setState(models.StatusFailed)
			return nil
		}
		s.setState(models.StatusError)
		return err
	}

	s.setState(models.StatusRunning)
	logger.Info(ctx, "running stage", "stage", s.Name, "exec_id", s.execID)

	for _, step := range s.job.Steps {
		logger.Debug(ctx, "executing step", "stage", s.Name, "step", step.String())
		out, err := runStep(ctx, container, s.cloneURL, s.ref, step)
		s.appendOutput(out)
		if err != nil {
			s.setState(models.StatusError)
			return fmt.Errorf("stage %s: step %s: %w", s.Name, step.Kind, err)
		}
		if !out.Success() {
			logger.Error(ctx, "stage failed", "stage", s.Name, "step", step.String())
			s.setState(models.StatusFailed)
			return nil
		}
	}

	s.mu.Lock()
	s.duration = container.Duration()
	s.mu.Unlock()
	metrics.StageDuration.WithLabelValues(s.Name).Observe(container.Duration().Seconds())
	logger.Infof(ctx, "stage %s passed in %.2f seconds", s.Name, container.Duration().Seconds())
	s.setState(models.StatusPassed)
	return nil
}
