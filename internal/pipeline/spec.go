// Package pipeline models the .zeusci/config.yml pipeline description and
// fetches it from the repository at the pushed ref.
package pipeline

import (
	"fmt"

	"github.com/goccy/go-yaml"
)

// Spec is one parsed pipeline file: a job map and the workflows over it.
type Spec struct {
	Jobs      map[string]Job `yaml:"jobs"`
	Workflows Workflows      `yaml:"workflows"`
}

// Job describes the container and ordered step list of one DAG node.
type Job struct {
	Docker           []DockerImage `yaml:"docker"`
	WorkingDirectory string        `yaml:"working_directory"`
	Steps            []Step        `yaml:"steps"`
}

// DockerImage is one entry of a job's docker list; only the first is used.
type DockerImage struct {
	Image string `yaml:"image"`
}

// Image returns the container image the job runs in.
func (j Job) Image() string {
	if len(j.Docker) == 0 {
		return ""
	}
	return j.Docker[0].Image
}

// Workflows maps workflow name to its stage list. The reserved "version"
// key is dropped during decoding and never treated as a workflow.
type Workflows map[string]WorkflowSpec

// WorkflowSpec is the ordered stage list of one workflow.
type WorkflowSpec struct {
	Stages []StageEntry `yaml:"stages"`
}

// StageEntry is one workflow stage: either a bare job name or a job name
// with requires and a run guard.
type StageEntry struct {
	Name     string
	Requires []string
	RunWhen  RunWhen
}

// RunWhen guards a stage on the build's branch or tag. Both patterns are
// unanchored regular expressions.
type RunWhen struct {
	Branch string `yaml:"branch"`
	Tag    string `yaml:"tag"`
}

// Zero reports whether no guard is configured.
func (r RunWhen) Zero() bool {
	return r.Branch == "" && r.Tag == ""
}

type stageOptions struct {
	Requires []string `yaml:"requires"`
	RunWhen  RunWhen  `yaml:"run_when"`
}

// UnmarshalYAML accepts either a bare job name or a single-key mapping of
// job name to stage options.
func (e *StageEntry) UnmarshalYAML(unmarshal func(any) error) error {
	var name string
	if err := unmarshal(&name); err == nil {
		e.Name = name
		return nil
	}

	var m map[string]stageOptions
	if err := unmarshal(&m); err != nil {
		return fmt.Errorf("stage entry: %w", err)
	}
	if len(m) != 1 {
		return fmt.Errorf("stage entry must name exactly one job, got %d", len(m))
	}
	for name, opts := range m {
		e.Name = name
		e.Requires = opts.Requires
		e.RunWhen = opts.RunWhen
	}
	return nil
}

// UnmarshalYAML drops the reserved "version" key before decoding the
// workflow entries.
func (w *Workflows) UnmarshalYAML(unmarshal func(any) error) error {
	var raw map[string]any
	if err := unmarshal(&raw); err != nil {
		return err
	}

	out := Workflows{}
	for name, v := range raw {
		if name == "version" {
			continue
		}
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("workflow %s: %w", name, err)
		}
		var spec WorkflowSpec
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return fmt.Errorf("workflow %s: %w", name, err)
		}
		out[name] = spec
	}
	*w = out
	return nil
}

// Parse decodes and validates one pipeline file.
func Parse(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	for name, job := range spec.Jobs {
		if job.Image() == "" {
			return nil, fmt.Errorf("job %s: docker image missing", name)
		}
		if len(job.Steps) == 0 {
			return nil, fmt.Errorf("job %s: no steps", name)
		}
	}
	return &spec, nil
}
