package pipeline

import (
	"os"
	"sort"
	"strconv"
	"time"

	"git.home.luguber.info/inful/piperunner/internal/secrets"
)

// Environment variable names the engine injects into every run from the run
// metadata. They shadow same-named variables from the graph or run spec.
const (
	EnvRunID     = "RUN_ID"
	EnvRunNumber = "RUN_NUMBER"
	EnvPipeline  = "PIPELINE"
	EnvBranch    = "BRANCH"
	EnvWorkspace = "WORKSPACE"
)

// Meta is the per-run metadata: what `when` predicates see, and the source of
// the engine-injected environment variables.
type Meta struct {
	RunID     string
	Number    int
	Pipeline  string
	Branch    string
	Workspace string
	StartedAt time.Time
}

func (m Meta) envVars() map[string]string {
	return map[string]string{
		EnvRunID:     m.RunID,
		EnvRunNumber: strconv.Itoa(m.Number),
		EnvPipeline:  m.Pipeline,
		EnvBranch:    m.Branch,
		EnvWorkspace: m.Workspace,
	}
}

// ExecContext carries the global environment, the secret resolver capability
// and the run metadata for exactly one run. The global layer is frozen at
// construction; all mutation happens in per-stage overlays that are discarded
// when their stage ends. Safe for concurrent use by parallel stages.
type ExecContext struct {
	meta     Meta
	global   map[string]string
	resolver secrets.Resolver
	redactor *secrets.Redactor
}

// NewExecContext builds the context for one run. Graph environment and
// run-spec environment should be merged by the caller; metadata variables
// (RUN_ID, BRANCH, ...) are layered on top and always win.
func NewExecContext(meta Meta, env map[string]string, resolver secrets.Resolver) *ExecContext {
	global := make(map[string]string, len(env)+5)
	for k, v := range env {
		global[k] = v
	}
	for k, v := range meta.envVars() {
		global[k] = v
	}
	return &ExecContext{
		meta:     meta,
		global:   global,
		resolver: resolver,
		redactor: secrets.NewRedactor(),
	}
}

// Meta returns the run metadata.
func (c *ExecContext) Meta() Meta { return c.meta }

// Redactor returns the run-wide output redactor.
func (c *ExecContext) Redactor() *secrets.Redactor { return c.redactor }

// Lookup reads a variable from the global layer.
func (c *ExecContext) Lookup(key string) (string, bool) {
	v, ok := c.global[key]
	return v, ok
}

// ResolveSecret fetches a credential value and registers it for redaction.
// The value must only ever be written into a stage overlay.
func (c *ExecContext) ResolveSecret(id string) (string, error) {
	if c.resolver == nil {
		return "", secrets.ErrCredentialNotFound
	}
	v, err := c.resolver.Resolve(id)
	if err != nil {
		return "", err
	}
	c.redactor.Add(v)
	return v, nil
}

// NewOverlay creates an empty stage-scoped overlay over the global layer.
func (c *ExecContext) NewOverlay() *Overlay {
	return &Overlay{ctx: c, local: map[string]string{}}
}

// Overlay is the stage-local copy-on-write view of the execution context.
// Local entries shadow the global layer for the stage's duration; the overlay
// is dropped when the stage returns and never leaks into the next stage.
// An overlay belongs to a single stage goroutine and is not locked.
type Overlay struct {
	ctx   *ExecContext
	local map[string]string
}

// Set writes a stage-local variable.
func (o *Overlay) Set(key, value string) { o.local[key] = value }

// Lookup reads through the overlay: local first, then global.
func (o *Overlay) Lookup(key string) (string, bool) {
	if v, ok := o.local[key]; ok {
		return v, true
	}
	return o.ctx.Lookup(key)
}

// Expand resolves ${NAME} references in s against the overlay.
func (o *Overlay) Expand(s string) string {
	return expandRefs(s, o.Lookup)
}

// Environ flattens the layered context into KEY=VALUE pairs for spawning a
// process: host environment, then global layer, then overlay, then the given
// step-local variables, later layers shadowing earlier ones. Step-local
// values are ${NAME}-expanded against the overlay first.
func (o *Overlay) Environ(stepEnv map[string]string) []string {
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				merged[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range o.ctx.global {
		merged[k] = v
	}
	for k, v := range o.local {
		merged[k] = v
	}
	for k, v := range stepEnv {
		merged[k] = o.Expand(v)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

func (o *Overlay) redact(s string) string { return o.ctx.redactor.Redact(s) }

func (o *Overlay) workdir() string { return o.ctx.meta.Workspace }
