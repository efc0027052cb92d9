package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/piperunner/internal/logfields"
	"git.home.luguber.info/inful/piperunner/internal/metrics"
)

// runStage executes one stage against the shared execution context. The
// stage gets its own overlay; everything it sets there, secret bindings
// included, vanishes when this function returns.
func (c *Controller) runStage(ctx context.Context, ec *ExecContext, st *Stage, group string) StageResult {
	res := StageResult{Stage: st.Name, Group: group, StartedAt: time.Now()}
	log := slog.With(logfields.RunID(ec.Meta().RunID), logfields.Stage(st.Name))

	if st.When != nil && !st.When.Evaluate(ec.Meta()) {
		res.Status = StageSkipped
		res.Reason = "when: " + st.When.String()
		log.Info("Stage skipped",
			logfields.Branch(ec.Meta().Branch),
			slog.String("when", st.When.String()))
		return res
	}

	log.Info("Stage started")
	scope := ec.NewOverlay()
	for k, v := range st.Env {
		scope.Set(k, expandRefs(v, ec.Lookup))
	}

	res.Status = StageSucceeded
	for _, ref := range st.Secrets {
		v, err := ec.ResolveSecret(ref.ID)
		if err != nil {
			// Binding credentials is a step of its own in the report, so
			// the failure kind survives into the serialized result.
			res.Steps = append(res.Steps, StepResult{
				Step:      ref.ID,
				Action:    "credentials",
				ExitCode:  -1,
				Failure:   FailureCredential,
				Message:   fmt.Sprintf("credential %q: %v", ref.ID, err),
				StartedAt: time.Now(),
			})
			res.Status = StageFailed
			res.Reason = fmt.Sprintf("credential %q: %v", ref.ID, err)
			log.Error("Credential resolution failed",
				slog.String("credential", ref.ID), logfields.Error(err))
			break
		}
		scope.Set(ref.Env, v)
	}

	if res.Status == StageSucceeded {
		for _, step := range st.Steps {
			if ctx.Err() != nil {
				res.Status = StageFailed
				res.Reason = "abort requested"
				break
			}
			sr := c.runner.Run(ctx, st.Name, step, scope)
			c.recorder.ObserveStepDuration(st.Name, step.Name, sr.Duration)
			if !sr.OK() && step.ContinueOnError {
				sr.Continued = true
				log.Warn("Step failed, continuing",
					logfields.Step(step.Name),
					slog.String("reason", failureReason(sr)))
			}
			res.Steps = append(res.Steps, sr)
			if !sr.OK() && !step.ContinueOnError {
				res.Status = StageFailed
				res.Reason = fmt.Sprintf("step %s: %s", step.Name, failureReason(sr))
				break
			}
		}
	}

	// Post hooks run even when the stage failed or the run is being
	// aborted. They reuse the stage overlay and a context detached from
	// run cancellation, bounded only by their own step timeouts.
	res.Post = c.runHooks(context.WithoutCancel(ctx), st.Name, st.Post, scope, res.Status == StageSucceeded, log)

	res.Duration = time.Since(res.StartedAt)
	c.recorder.ObserveStageDuration(st.Name, res.Duration)
	c.recorder.IncStageResult(st.Name, resultLabel(res.Status))
	if res.Status == StageSucceeded {
		log.Info("Stage succeeded", logfields.DurationMS(float64(res.Duration.Milliseconds())))
	} else {
		log.Error("Stage failed",
			slog.String("reason", res.Reason),
			logfields.DurationMS(float64(res.Duration.Milliseconds())))
	}
	return res
}

// runHooks executes post steps in declaration order: the always list first,
// then success or failure depending on the outcome they follow. Hook
// failures are logged and recorded but never change an already-decided
// stage or run outcome.
func (c *Controller) runHooks(ctx context.Context, stage string, post *PostActions, scope *Overlay, success bool, log *slog.Logger) []StepResult {
	if post.empty() {
		return nil
	}
	hooks := append([]Step(nil), post.Always...)
	if success {
		hooks = append(hooks, post.Success...)
	} else {
		hooks = append(hooks, post.Failure...)
	}
	var results []StepResult
	for _, h := range hooks {
		sr := c.runner.Run(ctx, stage, h, scope)
		if !sr.OK() {
			log.Warn("Post action failed",
				logfields.Step(h.Name),
				slog.String("reason", failureReason(sr)))
		}
		results = append(results, sr)
	}
	return results
}

func resultLabel(s StageStatus) metrics.ResultLabel {
	switch s {
	case StageSucceeded:
		return metrics.ResultSucceeded
	case StageSkipped:
		return metrics.ResultSkipped
	case StageNotRun:
		return metrics.ResultNotRun
	default:
		return metrics.ResultFailed
	}
}

func failureReason(r StepResult) string {
	switch r.Failure {
	case FailureTimeout, FailureCredential:
		return r.Message
	case FailureLaunch:
		return "launch failure: " + r.Message
	case FailureAborted:
		return "abort requested"
	default:
		return fmt.Sprintf("exit code %d", r.ExitCode)
	}
}
