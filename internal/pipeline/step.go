package pipeline

import "fmt"

// StepKind discriminates the step variant.
type StepKind int

const (
	StepCheckout StepKind = iota
	StepRun
	StepPersist
	StepAttach
)

func (k StepKind) String() string {
	switch k {
	case StepCheckout:
		return "checkout"
	case StepRun:
		return "run"
	case StepPersist:
		return "persist_to_workspace"
	case StepAttach:
		return "attach_workspace"
	default:
		return "unknown"
	}
}

// Step is one unit of work inside a container, a tagged variant over
// checkout, run, persist_to_workspace and attach_workspace.
type Step struct {
	Kind StepKind

	// run
	Name    string
	Command string

	// persist_to_workspace
	Root  string
	Paths string

	// attach_workspace
	At string
}

func (s Step) String() string {
	switch s.Kind {
	case StepRun:
		if s.Name != "" {
			return fmt.Sprintf("run: %s", s.Name)
		}
		return fmt.Sprintf("run: %s", s.Command)
	case StepPersist:
		return fmt.Sprintf("persist_to_workspace: root(%s) paths(%s)", s.Root, s.Paths)
	case StepAttach:
		return fmt.Sprintf("attach_workspace: %s", s.At)
	default:
		return s.Kind.String()
	}
}

type runStepSpec struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
}

type persistStepSpec struct {
	Root  string `yaml:"root"`
	Paths string `yaml:"paths"`
}

type attachStepSpec struct {
	At string `yaml:"at"`
}

// UnmarshalYAML accepts the bare "checkout" string or a single-key mapping
// for the other variants.
func (s *Step) UnmarshalYAML(unmarshal func(any) error) error {
	var bare string
	if err := unmarshal(&bare); err == nil {
		if bare != "checkout" {
			return fmt.Errorf("unsupported step %q", bare)
		}
		s.Kind = StepCheckout
		return nil
	}

	var m struct {
		Run     *runStepSpec     `yaml:"run"`
		Persist *persistStepSpec `yaml:"persist_to_workspace"`
		Attach  *attachStepSpec  `yaml:"attach_workspace"`
	}
	if err := unmarshal(&m); err != nil {
		return fmt.Errorf("step: %w", err)
	}

	switch {
	case m.Run != nil:
		s.Kind = StepRun
		s.Name = m.Run.Name
		s.Command = m.Run.Command
	case m.Persist != nil:
		s.Kind = StepPersist
		s.Root = m.Persist.Root
		s.Paths = m.Persist.Paths
	case m.Attach != nil:
		s.Kind = StepAttach
		s.At = m.Attach.At
	default:
		return fmt.Errorf("step: no recognized variant")
	}
	return nil
}
