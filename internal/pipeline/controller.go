package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/piperunner/internal/logfields"
	"git.home.luguber.info/inful/piperunner/internal/metrics"
	"git.home.luguber.info/inful/piperunner/internal/retry"
	"git.home.luguber.info/inful/piperunner/internal/secrets"
)

// Notifier receives run lifecycle events. The controller calls it inline, so
// implementations that talk to the network should buffer or fire-and-forget.
type Notifier interface {
	RunStarted(ctx context.Context, report *Report)
	StageFinished(ctx context.Context, report *Report, stage StageResult)
	RunCompleted(ctx context.Context, report *Report)
}

// NoopNotifier ignores all events.
type NoopNotifier struct{}

func (NoopNotifier) RunStarted(context.Context, *Report)                 {}
func (NoopNotifier) StageFinished(context.Context, *Report, StageResult) {}
func (NoopNotifier) RunCompleted(context.Context, *Report)               {}

// RunSpec identifies and parameterizes one run of a graph.
type RunSpec struct {
	RunID     string // generated when empty
	Number    int
	Branch    string
	Workspace string
	Env       map[string]string // layered over the graph environment
	Resolver  secrets.Resolver
}

// Controller drives a graph through its groups, assembles the report and
// guarantees the post phase runs exactly once per run. A controller holds no
// per-run state and may execute runs concurrently.
type Controller struct {
	exec      Executor
	runner    *Runner
	recorder  metrics.Recorder
	notifier  Notifier
	cleanup   func(Meta) error
	outputCap int
	backoff   retry.Policy
}

type Option func(*Controller)

// WithRecorder wires a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithNotifier wires a lifecycle event notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithOutputCap overrides the per-step output capture limit in bytes.
func WithOutputCap(n int) Option {
	return func(c *Controller) { c.outputCap = n }
}

// WithRetryPolicy overrides the backoff applied between attempts of steps
// that declare retries.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Controller) { c.backoff = p }
}

// WithCleanup registers a function invoked after the post hooks of every
// run, typically to tear down the run workspace.
func WithCleanup(fn func(Meta) error) Option {
	return func(c *Controller) { c.cleanup = fn }
}

func NewController(exec Executor, opts ...Option) *Controller {
	c := &Controller{
		exec:      exec,
		recorder:  metrics.NoopRecorder{},
		notifier:  NoopNotifier{},
		outputCap: DefaultOutputCap,
		backoff:   retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.runner = NewRunner(c.exec, c.outputCap, c.backoff)
	return c
}

// Run executes the graph and returns the finalized report. The error is
// non-nil only when the run could not start at all: an invalid graph or an
// unresolvable variable reference. Once the first stage runs, every outcome
// including abort is expressed through the report.
func (c *Controller) Run(ctx context.Context, g *Graph, spec RunSpec) (*Report, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline %q: %w", g.Name, err)
	}

	meta := Meta{
		RunID:     spec.RunID,
		Number:    spec.Number,
		Pipeline:  g.Name,
		Branch:    spec.Branch,
		Workspace: spec.Workspace,
		StartedAt: time.Now(),
	}
	if meta.RunID == "" {
		meta.RunID = uuid.NewString()
	}

	env := make(map[string]string, len(g.Env)+len(spec.Env))
	for k, v := range g.Env {
		env[k] = v
	}
	for k, v := range spec.Env {
		env[k] = v
	}
	ec := NewExecContext(meta, env, spec.Resolver)

	if err := checkReferences(g, ec); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", g.Name, err)
	}

	log := slog.With(
		logfields.RunID(meta.RunID),
		logfields.Pipeline(g.Name),
		logfields.Branch(meta.Branch))
	log.Info("Run started", logfields.RunNumber(meta.Number))

	report := newReport(meta)
	c.notifier.RunStarted(ctx, report)

	var deadline time.Time
	if g.Budget > 0 {
		deadline = meta.StartedAt.Add(g.Budget)
	}

	aborted := false
	failed := false
	for i, grp := range g.Groups {
		if ctx.Err() != nil {
			report.markNotRun(remainingStages(g.Groups[i:]), "abort requested")
			aborted = true
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			log.Warn("Run budget exhausted", slog.Duration("budget", g.Budget))
			report.markNotRun(remainingStages(g.Groups[i:]),
				fmt.Sprintf("run budget %s exhausted", g.Budget))
			aborted = true
			break
		}

		for _, sr := range c.runGroup(ctx, ec, grp, g.ReportOnly) {
			report.addStage(sr)
			c.notifier.StageFinished(ctx, report, sr)
			if sr.Status == StageFailed {
				failed = true
			}
		}

		if failed && !g.ReportOnly {
			reason := "earlier stage failed"
			if ctx.Err() != nil {
				reason = "abort requested"
			}
			report.markNotRun(remainingStages(g.Groups[i+1:]), reason)
			break
		}
	}

	switch {
	case aborted || ctx.Err() != nil:
		report.complete(RunAborted)
	case failed:
		report.complete(RunFailed)
	default:
		report.complete(RunCompleted)
	}

	c.dispatchPost(ctx, g, ec, report, log)

	report.finalize(time.Now())
	c.recorder.ObserveRunDuration(report.Duration)
	c.recorder.IncRunOutcome(strings.ToLower(string(report.Status)))
	log.Info("Run finished",
		logfields.Status(string(report.Status)),
		logfields.DurationMS(float64(report.Duration.Milliseconds())))
	c.notifier.RunCompleted(ctx, report)
	return report, nil
}

func remainingStages(groups []Group) []*Stage {
	var out []*Stage
	for _, g := range groups {
		out = append(out, g.Stages...)
	}
	return out
}
