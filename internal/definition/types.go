package definition

// Document is the YAML pipeline definition as written by users. Load parses
// and schema-validates one; Build turns it into an executable graph.
type Document struct {
	Pipeline   string            `yaml:"pipeline"`
	Env        map[string]string `yaml:"env,omitempty"`
	ReportOnly bool              `yaml:"report_only,omitempty"`
	Budget     string            `yaml:"budget,omitempty"`
	Defaults   Defaults          `yaml:"defaults,omitempty"`
	Stages     []StageEntry      `yaml:"stages"`
	Post       *PostDoc          `yaml:"post,omitempty"`
}

// Defaults are document-wide fallbacks applied while building the graph.
type Defaults struct {
	Timeout string `yaml:"timeout,omitempty"`
}

// StageDoc is one stage: sequential steps plus gating, env overlay, secret
// bindings and post hooks.
type StageDoc struct {
	Name    string            `yaml:"name,omitempty"`
	When    string            `yaml:"when,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Secrets []SecretDoc       `yaml:"secrets,omitempty"`
	Steps   []StepDoc         `yaml:"steps,omitempty"`
	Post    *PostDoc          `yaml:"post,omitempty"`
}

// StageEntry is one slot in the stages list: either a stage, or a named
// parallel group of stages.
type StageEntry struct {
	StageDoc `yaml:",inline"`

	Parallel string     `yaml:"parallel,omitempty"`
	Stages   []StageDoc `yaml:"stages,omitempty"`
}

// group reports whether the entry declares a parallel group.
func (e StageEntry) group() bool {
	return e.Parallel != "" || len(e.Stages) > 0
}

// StepDoc is one step. `run` is sugar for a shell step: `run: make test` is
// `action: sh` with that command line.
type StepDoc struct {
	Name            string            `yaml:"name,omitempty"`
	Action          string            `yaml:"action,omitempty"`
	Run             string            `yaml:"run,omitempty"`
	Command         string            `yaml:"command,omitempty"`
	With            map[string]string `yaml:"with,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
	Timeout         string            `yaml:"timeout,omitempty"`
	Retries         int               `yaml:"retries,omitempty"`
	ContinueOnError bool              `yaml:"continue_on_error,omitempty"`
}

// SecretDoc binds a credential id to a stage-local environment variable.
type SecretDoc struct {
	ID  string `yaml:"id"`
	Env string `yaml:"env"`
}

// PostDoc holds post hook steps keyed by outcome.
type PostDoc struct {
	Always  []StepDoc `yaml:"always,omitempty"`
	Success []StepDoc `yaml:"success,omitempty"`
	Failure []StepDoc `yaml:"failure,omitempty"`
}
