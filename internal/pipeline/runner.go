package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/piperunner/internal/logfields"
	"git.home.luguber.info/inful/piperunner/internal/retry"
)

// DefaultOutputCap bounds how much combined step output is kept per step.
const DefaultOutputCap = 64 << 10

// Executor launches one step invocation and blocks until it finishes.
// Implementations stream combined stdout and stderr to inv.Output (safe for
// concurrent writes) and return the exit code. A non-nil error means the
// invocation could not be launched or supervised; a command that ran and
// failed is a nil error with a non-zero exit code.
type Executor interface {
	Exec(ctx context.Context, inv Invocation) (exitCode int, err error)
}

// Invocation is everything an executor needs to run one step.
type Invocation struct {
	Stage   string
	Step    string
	Action  string
	Command string            // passed verbatim; the engine never rewrites it
	With    map[string]string // action parameters, already expanded
	Env     []string          // full KEY=VALUE environment
	Dir     string            // working directory, normally the run workspace
	Output  io.Writer
}

// Runner executes single steps. It expands parameters against the stage
// overlay, enforces the per-attempt timeout, re-runs retryable failures with
// backoff and turns every failure mode into a StepResult instead of an error.
type Runner struct {
	exec      Executor
	outputCap int
	backoff   retry.Policy
}

func NewRunner(exec Executor, outputCap int, backoff retry.Policy) *Runner {
	if outputCap <= 0 {
		outputCap = DefaultOutputCap
	}
	if backoff == (retry.Policy{}) {
		backoff = retry.DefaultPolicy()
	}
	return &Runner{exec: exec, outputCap: outputCap, backoff: backoff}
}

// Run executes one step in the given scope. The returned result is complete:
// classified outcome, exit code, duration and redacted output. A step with
// retries is re-attempted on command and launch failures only; timeouts and
// aborts end it immediately. All attempts share one output capture, and the
// result's duration spans them, backoff waits included.
func (r *Runner) Run(ctx context.Context, stage string, step Step, scope *Overlay) StepResult {
	res := StepResult{Step: step.Name, Action: step.Action, StartedAt: time.Now()}

	params := make(map[string]string, len(step.With))
	for k, v := range step.With {
		params[k] = scope.Expand(v)
	}

	buf := newCapture(r.outputCap)
	inv := Invocation{
		Stage:   stage,
		Step:    step.Name,
		Action:  step.Action,
		Command: step.Command,
		With:    params,
		Env:     scope.Environ(step.Env),
		Dir:     scope.workdir(),
		Output:  buf,
	}

	for attempt := 1; ; attempt++ {
		res.ExitCode, res.Failure, res.Message = r.attempt(ctx, step, inv)
		if attempt > 1 {
			res.Attempts = attempt
		}
		if res.Failure == FailureNone || attempt > step.Retries {
			break
		}
		if res.Failure != FailureExit && res.Failure != FailureLaunch {
			break
		}
		delay := r.backoff.Delay(attempt)
		slog.Debug("Step attempt failed, retrying",
			logfields.Stage(stage),
			logfields.Step(step.Name),
			logfields.Attempt(attempt),
			slog.Duration("delay", delay))
		fmt.Fprintf(buf, "[attempt %d/%d failed, retrying in %s]\n", attempt, step.Retries+1, delay)
		if !sleepCtx(ctx, delay) {
			break
		}
	}

	res.Duration = time.Since(res.StartedAt)
	res.Output, res.Truncated = buf.contents(scope.redact)
	res.Message = scope.redact(res.Message)
	return res
}

// attempt performs a single invocation under its own timeout and classifies
// the outcome. The returned message is not yet redacted.
func (r *Runner) attempt(ctx context.Context, step Step, inv Invocation) (int, FailureKind, string) {
	stepCtx := ctx
	cancel := func() {}
	if step.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
	}
	defer cancel()

	code, err := r.exec.Exec(stepCtx, inv)
	switch {
	case err == nil && code == 0:
		return 0, FailureNone, ""
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded) && !errors.Is(ctx.Err(), context.Canceled):
		return -1, FailureTimeout, fmt.Sprintf("step exceeded timeout of %s", step.Timeout)
	case stepCtx.Err() != nil:
		return -1, FailureAborted, "abort requested"
	case err != nil:
		return -1, FailureLaunch, err.Error()
	default:
		return code, FailureExit, ""
	}
}

// sleepCtx waits out the delay unless the context ends first, reporting
// whether the full delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// capture is a bounded, concurrency-safe sink for combined step output.
// Bytes past the cap are counted and discarded.
type capture struct {
	mu      sync.Mutex
	buf     []byte
	max     int
	dropped int64
}

func newCapture(max int) *capture { return &capture{max: max} }

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room := c.max - len(c.buf); room > 0 {
		if room >= len(p) {
			c.buf = append(c.buf, p...)
			return len(p), nil
		}
		c.buf = append(c.buf, p[:room]...)
		c.dropped += int64(len(p) - room)
		return len(p), nil
	}
	c.dropped += int64(len(p))
	return len(p), nil
}

// contents returns the redacted capture. When output was dropped, the kept
// prefix is cut back to the last complete line and a truncation marker is
// appended, so a secret is never split across the truncation point.
func (c *capture) contents(redact func(string) string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped == 0 {
		return redact(string(c.buf)), false
	}
	kept := c.buf
	trimmed := c.dropped
	if i := bytes.LastIndexByte(kept, '\n'); i >= 0 {
		trimmed += int64(len(kept) - i - 1)
		kept = kept[:i+1]
	}
	return redact(string(kept)) + fmt.Sprintf("[output truncated, %d bytes dropped]\n", trimmed), true
}
