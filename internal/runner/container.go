package runner

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/zeus-ci/zeus/internal/executor"
	"github.com/zeus-ci/zeus/internal/logger"
)

// ErrContainerStart indicates the container runtime refused to launch the
// image; the owning stage fails rather than errors.
var ErrContainerStart = errors.New("container start failed")

// Tickets grants and returns container slots counted against per-user
// quotas. Acquire blocks until a slot is granted or ctx ends.
type Tickets interface {
	Acquire(ctx context.Context, username string) error
	Release(ctx context.Context, username string)
}

// ContainerConfig describes one container to run a stage in.
type ContainerConfig struct {
	StageName        string
	Image            string
	ExecID           string
	WorkingDirectory string
	Username         string
	Env              []string

	Exec      executor.Interface
	Tickets   Tickets
	Workspace *Workspace
}

// Container is the handle to one ephemeral container. Exactly one runtime
// instance exists while the handle is started; Stop is idempotent and safe
// after a failed Start.
type Container struct {
	name      string
	stageName string
	image     string
	username  string
	env       []string

	configuredDir string
	workDir       string

	exec      executor.Interface
	tickets   Tickets
	workspace *Workspace

	launched   bool
	ticketHeld bool
	stopped    bool
	startedAt  time.Time
	duration   time.Duration
}

// NewContainer builds a handle named <stage>-<execID>. The environment
// always carries ZEUS_JOB naming the stage.
func NewContainer(cfg ContainerConfig) *Container {
	env := make([]string, 0, len(cfg.Env)+1)
	env = append(env, cfg.Env...)
	env = append(env, "ZEUS_JOB="+cfg.StageName)

	return &Container{
		name:          fmt.Sprintf("%s-%s", cfg.StageName, cfg.ExecID),
		stageName:     cfg.StageName,
		image:         cfg.Image,
		username:      cfg.Username,
		env:           env,
		configuredDir: cfg.WorkingDirectory,
		exec:          cfg.Exec,
		tickets:       cfg.Tickets,
		workspace:     cfg.Workspace,
	}
}

// Start acquires a container slot for the owning user, blocking until
// granted, then launches a detached container. A working directory
// beginning with "~" is resolved against $HOME inside the container,
// created, and becomes the default directory for subsequent execs.
func (c *Container) Start(ctx context.Context) error {
	logger.Debug(ctx, "waiting for container allocation", "user", c.username, "container", c.name)
	if err := c.tickets.Acquire(ctx, c.username); err != nil {
		return fmt.Errorf("acquire container slot for %s: %w", c.username, err)
	}
	c.ticketHeld = true
	c.startedAt = time.Now()

	out, err := c.exec.Run(ctx, "docker", "run", "--detach", "-ti", "--name", c.name, c.image)
	if err != nil || !out.Success() {
		c.releaseTicket(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrContainerStart, err)
		}
		return fmt.Errorf("%w: %s", ErrContainerStart, strings.TrimSpace(out.Stderr))
	}
	c.launched = true

	if strings.HasPrefix(c.configuredDir, "~") {
		home, err := c.Exec(ctx, "echo $HOME")
		if err != nil {
			return fmt.Errorf("resolve container home: %w", err)
		}
		dir := strings.Replace(c.configuredDir, "~", strings.TrimRight(home.Stdout, "\n"), 1)
		if _, err := c.Exec(ctx, "mkdir -p "+dir); err != nil {
			return fmt.Errorf("create working directory %s: %w", dir, err)
		}
		c.workDir = dir
	}
	return nil
}

// Exec runs `sh -c command` inside the container with the configured
// environment and default working directory. A non-zero exit is reported
// through the Output, never as an error.
func (c *Container) Exec(ctx context.Context, command string) (executor.Output, error) {
	argv := []string{"docker", "exec"}
	if c.workDir != "" {
		argv = append(argv, "-w", c.workDir)
	}
	for _, env := range c.env {
		argv = append(argv, "-e", env)
	}
	argv = append(argv, c.name, "sh", "-c", command)
	return c.exec.Run(ctx, argv...)
}

// Persist shell-expands the glob under root inside the container and copies
// every match into the workflow's workspace. It reports success iff every
// copy succeeded; a glob matching nothing succeeds with nothing copied.
func (c *Container) Persist(ctx context.Context, root, paths string) (bool, error) {
	out, err := c.Exec(ctx, fmt.Sprintf("cd %s && echo $PWD/$(ls -d %s)", root, paths))
	if err != nil {
		return false, err
	}
	if !out.Success() {
		logger.Debug(ctx, "persist glob matched nothing", "root", root, "paths", paths)
		return true, nil
	}

	for _, line := range strings.Split(out.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		for _, f := range fields {
			if strings.HasSuffix(f, "/") {
				// empty expansion: echo printed the bare $PWD/ prefix
				continue
			}
			src := f
			if !strings.HasPrefix(src, "/") {
				// later matches are relative to $PWD; every match has as
				// many components as f, so strip that many from the first
				pwd := fields[0]
				for range strings.Count(f, "/") + 1 {
					pwd = path.Dir(pwd)
				}
				src = path.Join(pwd, src)
			}
			cp, err := c.exec.Run(ctx, "docker", "cp", c.name+":"+src, c.workspace.Dir())
			if err != nil {
				return false, err
			}
			if !cp.Success() {
				logger.Error(ctx, "persist to workspace failed", "src", src, "stderr", cp.Stderr)
				return false, nil
			}
		}
	}
	return true, nil
}

// Attach ensures dest exists inside the container and copies every entry of
// the workflow's workspace into it.
func (c *Container) Attach(ctx context.Context, dest string) (bool, error) {
	if _, err := c.Exec(ctx, "mkdir -p "+dest); err != nil {
		return false, err
	}
	entries, err := c.workspace.Entries()
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		cp, err := c.exec.Run(ctx, "docker", "cp", entry, c.name+":"+dest)
		if err != nil {
			return false, err
		}
		if !cp.Success() {
			logger.Error(ctx, "attach workspace failed", "entry", entry, "stderr", cp.Stderr)
			return false, nil
		}
	}
	return true, nil
}

// Stop force-removes the container and releases the allocator ticket. It is
// idempotent and safe to call after a failed Start.
func (c *Container) Stop(ctx context.Context) {
	if c.stopped {
		return
	}
	c.stopped = true

	if c.launched {
		if out, err := c.exec.Run(ctx, "docker", "rm", "-f", c.name); err != nil || !out.Success() {
			logger.Warn(ctx, "container removal failed", "container", c.name)
		}
		c.launched = false
	}
	c.releaseTicket(ctx)
	c.duration = time.Since(c.startedAt)
}

// Duration returns the elapsed container lifetime, live until Stop.
func (c *Container) Duration() time.Duration {
	if c.stopped {
		return c.duration
	}
	return time.Since(c.startedAt)
}

func (c *Container) releaseTicket(ctx context.Context) {
	if !c.ticketHeld {
		return
	}
	c.ticketHeld = false
	c.tickets.Release(ctx, c.username)
}
