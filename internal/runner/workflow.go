package runner

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/zeus-ci/zeus/internal/executor"
	"github.com/zeus-ci/zeus/internal/logger"
	"github.com/zeus-ci/zeus/internal/models"
	"github.com/zeus-ci/zeus/internal/pipeline"
)

const defaultPollInterval = time.Second

// WorkflowConfig describes one workflow of one build.
type WorkflowConfig struct {
	Name    string
	BuildID int64

	Jobs map[string]pipeline.Job
	Spec pipeline.WorkflowSpec

	CloneURL string
	Ref      string
	Username string
	Env      []string

	NumThreads   int
	PollInterval time.Duration

	WorkspaceRoot string
	BuildLogDir   string

	Exec    executor.Interface
	Tickets Tickets
}

// Workflow is the runtime DAG of stages for one workflow entry of a build.
// It owns a workspace directory created on construction and reclaimed on
// teardown.
type Workflow struct {
	Name    string
	BuildID int64
	ExecID  string

	stages map[string]*Stage
	order  []string

	numThreads   int
	pollInterval time.Duration
	buildLogDir  string
	workspace    *Workspace
}

// NewWorkflow validates the stage list against the job map (unknown jobs,
// duplicate stages, unknown or cyclic requires are construction errors),
// creates the workspace, and binds every stage to this execution.
func NewWorkflow(cfg WorkflowConfig) (*Workflow, error) {
	execID := newExecID()

	workspace, err := NewWorkspace(cfg.WorkspaceRoot, execID)
	if err != nil {
		return nil, err
	}

	w := &Workflow{
		Name:         cfg.Name,
		BuildID:      cfg.BuildID,
		ExecID:       execID,
		stages:       make(map[string]*Stage),
		numThreads:   max(cfg.NumThreads, 1),
		pollInterval: cfg.PollInterval,
		buildLogDir:  cfg.BuildLogDir,
		workspace:    workspace,
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}

	fail := func(err error) (*Workflow, error) {
		_ = workspace.Remove()
		return nil, err
	}

	for _, entry := range cfg.Spec.Stages {
		job, ok := cfg.Jobs[entry.Name]
		if !ok {
			return fail(fmt.Errorf("workflow %s: unknown job %s", cfg.Name, entry.Name))
		}
		if _, dup := w.stages[entry.Name]; dup {
			return fail(fmt.Errorf("workflow %s: duplicate stage %s", cfg.Name, entry.Name))
		}
		stage, err := NewStage(StageConfig{
			Name:      entry.Name,
			Job:       job,
			Requires:  entry.Requires,
			RunWhen:   entry.RunWhen,
			ExecID:    execID,
			CloneURL:  cfg.CloneURL,
			Ref:       cfg.Ref,
			Username:  cfg.Username,
			Env:       cfg.Env,
			Exec:      cfg.Exec,
			Tickets:   cfg.Tickets,
			Workspace: workspace,
		})
		if err != nil {
			return fail(fmt.Errorf("workflow %s: %w", cfg.Name, err))
		}
		w.stages[entry.Name] = stage
		w.order = append(w.order, entry.Name)
	}

	for _, stage := range w.stages {
		for _, name := range stage.Requires {
			required, ok := w.stages[name]
			if !ok {
				return fail(fmt.Errorf("workflow %s: stage %s requires unknown stage %s",
					cfg.Name, stage.Name, name))
			}
			stage.requires = append(stage.requires, required)
		}
	}

	if err := w.detectCycles(); err != nil {
		return fail(err)
	}
	return w, nil
}

// Stages returns the stages in declaration order.
func (w *Workflow) Stages() []*Stage {
	stages := make([]*Stage, 0, len(w.order))
	for _, name := range w.order {
		stages = append(stages, w.stages[name])
	}
	return stages
}

func (w *Workflow) detectCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	colors := make(map[string]int, len(w.stages))

	var visit func(s *Stage) error
	visit = func(s *Stage) error {
		switch colors[s.Name] {
		case visiting:
			return fmt.Errorf("workflow %s: requires cycle through stage %s", w.Name, s.Name)
		case done:
			return nil
		}
		colors[s.Name] = visiting
		for _, req := range s.requires {
			if err := visit(req); err != nil {
				return err
			}
		}
		colors[s.Name] = done
		return nil
	}

	for _, name := range w.order {
		if err := visit(w.stages[name]); err != nil {
			return err
		}
	}
	return nil
}

// runnableStages returns the stages ready to start and transitions stages
// whose requirements can no longer pass to skipped.
func (w *Workflow) runnableStages(ctx context.Context) []*Stage {
	var runnable []*Stage
	for _, name := range w.order {
		stage := w.stages[name]
		if stage.State() != models.StatusCreated {
			continue
		}

		ready, dead := true, false
		for _, req := range stage.requires {
			switch req.State() {
			case models.StatusPassed:
			case models.StatusFailed, models.StatusSkipped, models.StatusError:
				dead = true
			default:
				ready = false
			}
		}
		switch {
		case dead:
			logger.Info(ctx, "skipping stage", "workflow", w.Name, "stage", stage.Name)
			stage.setState(models.StatusSkipped)
		case ready:
			runnable = append(runnable, stage)
		}
	}
	return runnable
}

func (w *Workflow) active(cancelled bool) bool {
	for _, stage := range w.stages {
		switch stage.State() {
		case models.StatusStarting, models.StatusRunning:
			return true
		case models.StatusCreated:
			if !cancelled {
				return true
			}
		}
	}
	return false
}

// Run executes the stage DAG with bounded parallelism and returns the
// workflow's aggregate result. Cancellation stops launching new stages
// while in-flight stages run to termination.
func (w *Workflow) Run(ctx context.Context) (models.Status, error) {
	defer func() {
		if err := w.workspace.Remove(); err != nil {
			logger.Warn(ctx, "workspace removal failed", "workflow", w.Name, "err", err)
		}
	}()

	logger.Debug(ctx, "running workflow",
		"workflow", w.Name, "build", w.BuildID, "exec_id", w.ExecID)

	queue := make(chan *Stage)
	var wg sync.WaitGroup
	for range w.numThreads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// in-flight stages run to termination even when the
			// scheduler's context is cancelled
			stageCtx := context.WithoutCancel(ctx)
			for stage := range queue {
				if err := stage.Run(stageCtx); err != nil {
					logger.Error(ctx, "stage errored",
						"workflow", w.Name, "stage", stage.Name, "err", err)
				}
			}
		}()
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for w.active(ctx.Err() != nil) {
		if ctx.Err() == nil {
			for _, stage := range w.runnableStages(ctx) {
				stage.setState(models.StatusStarting)
				queue <- stage
			}
		}
		<-ticker.C
	}
	close(queue)
	wg.Wait()

	if err := w.writeStageLogs(); err != nil {
		logger.Warn(ctx, "could not write build logs", "workflow", w.Name, "err", err)
	}
	logger.Info(ctx, "workflow finished", "workflow", w.Name, "summary", w.statusSummary())

	return w.result(), nil
}

func (w *Workflow) result() models.Status {
	states := lo.Map(w.Stages(), func(s *Stage, _ int) models.Status { return s.State() })
	return models.AggregateStatus(states)
}

func (w *Workflow) statusSummary() string {
	grouped := lo.GroupBy(w.Stages(), func(s *Stage) models.Status { return s.State() })

	var parts []string
	for _, state := range []models.Status{models.StatusFailed, models.StatusPassed, models.StatusSkipped, models.StatusError} {
		stages := grouped[state]
		if len(stages) == 0 {
			continue
		}
		names := lo.Map(stages, func(s *Stage, _ int) string { return s.Name })
		parts = append(parts, fmt.Sprintf("%d %s [%s]",
			len(stages), state, strings.Join(names, ", ")))
	}
	if len(parts) == 0 {
		return "no stages run"
	}
	return strings.Join(parts, " || ")
}

// writeStageLogs appends every stage's captured output to the per-workflow
// log file under <buildLogDir>/<buildID>/<workflow>.
func (w *Workflow) writeStageLogs() error {
	if w.buildLogDir == "" {
		return nil
	}
	dir := filepath.Join(w.buildLogDir, strconv.FormatInt(w.BuildID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(dir, w.Name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, stage := range w.Stages() {
		if _, err := fmt.Fprintf(f, "STDOUT:\n%s\n\nSTDERR:\n%s\n\n",
			stage.Stdout(), stage.Stderr()); err != nil {
			return err
		}
	}
	return nil
}

func newExecID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
