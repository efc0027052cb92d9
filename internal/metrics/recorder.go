package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSucceeded ResultLabel = "succeeded"
	ResultFailed    ResultLabel = "failed"
	ResultSkipped   ResultLabel = "skipped"
	ResultNotRun    ResultLabel = "not_run"
)

// Recorder defines observability hooks for run, stage and step metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe for nil receivers when using the NoopRecorder (allowing
// optional injection).
type Recorder interface {
	ObserveRunDuration(d time.Duration)
	ObserveStageDuration(stage string, d time.Duration)
	ObserveStepDuration(stage, step string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	IncRunOutcome(outcome string) // outcome: completed|failed|aborted
	SetActiveRuns(n int)
	SetQueueLength(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveRunDuration(time.Duration)                  {}
func (NoopRecorder) ObserveStageDuration(string, time.Duration)        {}
func (NoopRecorder) ObserveStepDuration(string, string, time.Duration) {}
func (NoopRecorder) IncStageResult(string, ResultLabel)                {}
func (NoopRecorder) IncRunOutcome(string)                              {}
func (NoopRecorder) SetActiveRuns(int)                                 {}
func (NoopRecorder) SetQueueLength(int)                                {}
