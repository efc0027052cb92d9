package pipeline

import (
	"fmt"
	"time"
)

// Step is the smallest unit of execution: one invocation of a named action.
// Steps are immutable once the graph is built; they are owned by their stage.
type Step struct {
	Name   string
	Action string // action name dispatched by the executor ("sh", "git-checkout", ...)

	// Command is the action's primary argument (the command line for "sh",
	// the in-container command for "docker-run"). It is handed to the action
	// verbatim; engine-level ${VAR} references inside it are validated but
	// not rewritten, the action resolves them from its environment.
	Command string

	// With carries named action parameters (repository URL, image, probe URL,
	// ...). Values are ${VAR}-expanded against the stage overlay at launch.
	With map[string]string

	// Env is the step-local environment overlay, applied on top of the stage
	// overlay for this step only.
	Env map[string]string

	// Timeout bounds the action's wall-clock time. Mandatory: graphs with a
	// non-positive step timeout do not validate. When the step retries, each
	// attempt gets a fresh timeout.
	Timeout time.Duration

	// Retries is how many extra attempts a failed step gets before the
	// failure counts. Only command and launch failures are retried; timeouts
	// and aborts are final. Zero means a single attempt.
	Retries int

	// ContinueOnError prevents a failure of this step from failing the
	// enclosing stage. The failure is still recorded in the step result.
	ContinueOnError bool
}

// SecretRef binds a credential identifier to an environment variable in the
// stage-local overlay. The resolved value exists only for the overlay's
// lifetime and is masked in all captured output.
type SecretRef struct {
	ID  string
	Env string
}

// PostActions are hooks keyed by terminal status. Always runs first and
// unconditionally; then exactly one of Success or Failure. Hook failures are
// recorded but never change the outcome they follow.
type PostActions struct {
	Always  []Step
	Success []Step
	Failure []Step
}

func (p *PostActions) empty() bool {
	return p == nil || (len(p.Always) == 0 && len(p.Success) == 0 && len(p.Failure) == 0)
}

// Stage is a named, ordered sequence of steps sharing a stage-local
// environment overlay. Stages either run all their steps or short-circuit on
// the first failing step whose ContinueOnError is false.
type Stage struct {
	Name string

	// When gates the stage; a nil predicate always passes. A gated-out stage
	// is reported skipped and executes nothing, not even its post hooks.
	When When

	// Env is the stage-local overlay, discarded when the stage ends. It
	// shadows the global environment for the stage's duration only.
	Env map[string]string

	// Secrets are resolved into the overlay just before the first step runs.
	Secrets []SecretRef

	// Steps run strictly in order.
	Steps []Step

	// Post hooks run with the same overlay after the steps finish or the
	// stage short-circuits.
	Post *PostActions
}

// Group is one slot in the graph's execution order. A group with a single
// stage runs sequentially like any other; a group with several stages is a
// parallel group whose members run concurrently over a read-only snapshot of
// the global context. The group fails if any member fails.
type Group struct {
	Name   string // empty for single-stage groups
	Stages []*Stage
}

// Parallel reports whether the group fans out.
func (g Group) Parallel() bool { return len(g.Stages) > 1 }

// Graph is an ordered set of stage groups with a global environment and
// pipeline-level post hooks. Graphs are data: building one performs no I/O,
// and a validated graph can be run any number of times.
type Graph struct {
	Name   string
	Env    map[string]string
	Groups []Group

	// Post hooks run after the graph finishes, whatever the terminal status.
	Post *PostActions

	// ReportOnly disables pipeline-level fail-fast: every stage is evaluated
	// even after a failure, and the terminal status aggregates all of them.
	ReportOnly bool

	// Budget is the overall wall-clock allowance, checked between group
	// transitions. Zero means unbounded (each step still has its own
	// timeout). Exceeding the budget aborts the run.
	Budget time.Duration
}

// NewGraph creates an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{Name: name, Env: map[string]string{}}
}

// AddStage appends a sequential stage.
func (g *Graph) AddStage(s *Stage) *Graph {
	g.Groups = append(g.Groups, Group{Stages: []*Stage{s}})
	return g
}

// AddParallel appends a parallel group. Panics if fewer than two stages are
// given; a single stage is not a group.
func (g *Graph) AddParallel(name string, stages ...*Stage) *Graph {
	if len(stages) < 2 {
		panic("pipeline: parallel group needs at least two stages")
	}
	g.Groups = append(g.Groups, Group{Name: name, Stages: stages})
	return g
}

// Stages returns every stage in declaration order, flattening groups.
func (g *Graph) Stages() []*Stage {
	var out []*Stage
	for _, grp := range g.Groups {
		out = append(out, grp.Stages...)
	}
	return out
}

// Validate checks the graph's structural invariants: named stages and steps,
// unique stage names, positive step timeouts, well-formed secret bindings.
// Reference validation against a concrete environment happens per run, in
// Controller.Run, because it depends on the run's global environment.
func (g *Graph) Validate() error {
	if len(g.Groups) == 0 {
		return fmt.Errorf("graph %q has no stages", g.Name)
	}
	seen := map[string]bool{}
	for _, grp := range g.Groups {
		if len(grp.Stages) == 0 {
			return fmt.Errorf("graph %q contains an empty group", g.Name)
		}
		for _, st := range grp.Stages {
			if st.Name == "" {
				return fmt.Errorf("graph %q contains an unnamed stage", g.Name)
			}
			if seen[st.Name] {
				return fmt.Errorf("duplicate stage name %q", st.Name)
			}
			seen[st.Name] = true
			if len(st.Steps) == 0 {
				return fmt.Errorf("stage %q has no steps", st.Name)
			}
			for i := range st.Steps {
				if err := validateStep(st.Name, &st.Steps[i]); err != nil {
					return err
				}
			}
			for _, ref := range st.Secrets {
				if ref.ID == "" || ref.Env == "" {
					return fmt.Errorf("stage %q: secret binding needs both id and env", st.Name)
				}
			}
			if err := validatePost(st.Name, st.Post); err != nil {
				return err
			}
		}
	}
	return validatePost(g.Name, g.Post)
}

func validateStep(owner string, s *Step) error {
	if s.Name == "" {
		return fmt.Errorf("stage %q contains an unnamed step", owner)
	}
	if s.Action == "" {
		return fmt.Errorf("step %q in %q has no action", s.Name, owner)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("step %q in %q has no timeout", s.Name, owner)
	}
	if s.Retries < 0 {
		return fmt.Errorf("step %q in %q has negative retries", s.Name, owner)
	}
	return nil
}

func validatePost(owner string, p *PostActions) error {
	if p == nil {
		return nil
	}
	for _, set := range [][]Step{p.Always, p.Success, p.Failure} {
		for i := range set {
			if err := validateStep(owner+" post", &set[i]); err != nil {
				return err
			}
		}
	}
	return nil
}
