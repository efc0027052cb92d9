package definition

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/piperunner/internal/pipeline"
)

// DefaultStepTimeout applies when neither the document nor the caller
// provides a step timeout.
const DefaultStepTimeout = 10 * time.Minute

// BuildOptions adjust how a document becomes a graph.
type BuildOptions struct {
	// DefaultTimeout applies to steps without their own timeout when the
	// document's defaults section has none either. Zero means
	// DefaultStepTimeout.
	DefaultTimeout time.Duration
}

// Build turns a parsed document into an executable graph and validates its
// structure. Building is pure data transformation, no I/O; the caller runs
// the graph through a pipeline.Controller.
func Build(doc *Document, opts BuildOptions) (*pipeline.Graph, error) {
	if doc.Pipeline == "" {
		return nil, fmt.Errorf("definition has no pipeline name")
	}

	b := &builder{fallback: opts.DefaultTimeout}
	if b.fallback <= 0 {
		b.fallback = DefaultStepTimeout
	}
	if t := doc.Defaults.Timeout; t != "" {
		d, err := parseDuration(t, "defaults.timeout")
		if err != nil {
			return nil, err
		}
		b.fallback = d
	}

	g := pipeline.NewGraph(doc.Pipeline)
	g.ReportOnly = doc.ReportOnly
	for k, v := range doc.Env {
		g.Env[k] = v
	}
	if doc.Budget != "" {
		d, err := parseDuration(doc.Budget, "budget")
		if err != nil {
			return nil, err
		}
		g.Budget = d
	}

	for i, entry := range doc.Stages {
		if entry.group() {
			if err := b.addGroup(g, i, entry); err != nil {
				return nil, err
			}
			continue
		}
		st, err := b.stage(entry.StageDoc)
		if err != nil {
			return nil, err
		}
		g.AddStage(st)
	}

	var err error
	g.Post, err = b.post("pipeline", doc.Post)
	if err != nil {
		return nil, err
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

type builder struct {
	fallback time.Duration
}

func (b *builder) addGroup(g *pipeline.Graph, idx int, entry StageEntry) error {
	if entry.Parallel == "" {
		return fmt.Errorf("stages[%d]: parallel group needs a name", idx)
	}
	if entry.Name != "" || len(entry.Steps) > 0 {
		return fmt.Errorf("parallel group %q cannot carry stage fields of its own", entry.Parallel)
	}
	if len(entry.Stages) < 2 {
		return fmt.Errorf("parallel group %q needs at least two stages", entry.Parallel)
	}
	members := make([]*pipeline.Stage, 0, len(entry.Stages))
	for _, sd := range entry.Stages {
		st, err := b.stage(sd)
		if err != nil {
			return err
		}
		members = append(members, st)
	}
	g.AddParallel(entry.Parallel, members...)
	return nil
}

func (b *builder) stage(sd StageDoc) (*pipeline.Stage, error) {
	st := &pipeline.Stage{Name: sd.Name}

	when, err := ParseWhen(sd.When)
	if err != nil {
		return nil, fmt.Errorf("stage %q: %w", sd.Name, err)
	}
	st.When = when

	if len(sd.Env) > 0 {
		st.Env = make(map[string]string, len(sd.Env))
		for k, v := range sd.Env {
			st.Env[k] = v
		}
	}
	for _, sec := range sd.Secrets {
		st.Secrets = append(st.Secrets, pipeline.SecretRef{ID: sec.ID, Env: sec.Env})
	}
	for i, step := range sd.Steps {
		ps, err := b.step(fmt.Sprintf("stage %q", sd.Name), i, step)
		if err != nil {
			return nil, err
		}
		st.Steps = append(st.Steps, ps)
	}

	st.Post, err = b.post(fmt.Sprintf("stage %q", sd.Name), sd.Post)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// step converts one step document, applying the run sugar, a synthesized
// name when none is given and the fallback timeout.
func (b *builder) step(owner string, idx int, sd StepDoc) (pipeline.Step, error) {
	s := pipeline.Step{
		Name:            sd.Name,
		Action:          sd.Action,
		Command:         sd.Command,
		Retries:         sd.Retries,
		ContinueOnError: sd.ContinueOnError,
	}

	switch {
	case sd.Run != "" && sd.Action != "":
		return s, fmt.Errorf("%s step %d: run and action are mutually exclusive", owner, idx+1)
	case sd.Run != "" && sd.Command != "":
		return s, fmt.Errorf("%s step %d: run and command are mutually exclusive", owner, idx+1)
	case sd.Run != "":
		s.Action = "sh"
		s.Command = sd.Run
	}

	if s.Name == "" {
		s.Name = fmt.Sprintf("step-%d", idx+1)
	}
	if len(sd.With) > 0 {
		s.With = make(map[string]string, len(sd.With))
		for k, v := range sd.With {
			s.With[k] = v
		}
	}
	if len(sd.Env) > 0 {
		s.Env = make(map[string]string, len(sd.Env))
		for k, v := range sd.Env {
			s.Env[k] = v
		}
	}

	s.Timeout = b.fallback
	if sd.Timeout != "" {
		d, err := parseDuration(sd.Timeout, fmt.Sprintf("%s step %d timeout", owner, idx+1))
		if err != nil {
			return s, err
		}
		s.Timeout = d
	}
	return s, nil
}

func (b *builder) post(owner string, pd *PostDoc) (*pipeline.PostActions, error) {
	if pd == nil {
		return nil, nil
	}
	convert := func(kind string, docs []StepDoc) ([]pipeline.Step, error) {
		steps := make([]pipeline.Step, 0, len(docs))
		for i, sd := range docs {
			s, err := b.step(owner+" post "+kind, i, sd)
			if err != nil {
				return nil, err
			}
			steps = append(steps, s)
		}
		return steps, nil
	}

	pa := &pipeline.PostActions{}
	var err error
	if pa.Always, err = convert("always", pd.Always); err != nil {
		return nil, err
	}
	if pa.Success, err = convert("success", pd.Success); err != nil {
		return nil, err
	}
	if pa.Failure, err = convert("failure", pd.Failure); err != nil {
		return nil, err
	}
	return pa, nil
}

func parseDuration(s, where string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration %q: %w", where, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s duration must be positive: %s", where, s)
	}
	return d, nil
}
