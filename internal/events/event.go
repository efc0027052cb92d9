// Package events publishes run lifecycle notifications to external
// consumers. The engine stays decoupled from delivery: a Bridge adapts the
// pipeline's Notifier callbacks into typed events and hands them to an
// Emitter (slog, NATS, or a fan-out of several). Emission failure never
// fails a run.
package events

import (
	"time"

	"git.home.luguber.info/inful/piperunner/internal/pipeline"
)

// Type discriminates event payloads. Consumers subscribed to the configured
// subject filter on this field.
type Type string

const (
	TypeRunStarted    Type = "run_started"
	TypeStageFinished Type = "stage_finished"
	TypeRunCompleted  Type = "run_completed"
)

// Event is one run lifecycle notification. A single flat shape covers all
// three types; the stage and summary sections are populated only where they
// apply and omitted from the JSON otherwise.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Run identity, present on every event.
	RunID     string `json:"run_id"`
	RunNumber int    `json:"run_number"`
	Pipeline  string `json:"pipeline"`
	Branch    string `json:"branch,omitempty"`

	// Stage outcome, stage_finished only.
	Stage       string `json:"stage,omitempty"`
	Group       string `json:"group,omitempty"`
	StageStatus string `json:"stage_status,omitempty"`
	Reason      string `json:"reason,omitempty"`

	// Run summary, run_completed only.
	RunStatus       string   `json:"run_status,omitempty"`
	StagesSucceeded int      `json:"stages_succeeded,omitempty"`
	StagesFailed    int      `json:"stages_failed,omitempty"`
	StagesSkipped   int      `json:"stages_skipped,omitempty"`
	StagesNotRun    int      `json:"stages_not_run,omitempty"`
	FailedStages    []string `json:"failed_stages,omitempty"`

	// DurationMS is the stage duration on stage_finished and the run
	// duration on run_completed.
	DurationMS int64 `json:"duration_ms,omitempty"`
}

func base(t Type, r *pipeline.Report) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		RunID:     r.RunID,
		RunNumber: r.Number,
		Pipeline:  r.Pipeline,
		Branch:    r.Branch,
	}
}

// NewRunStarted builds the event announcing a run has begun executing.
func NewRunStarted(r *pipeline.Report) Event {
	return base(TypeRunStarted, r)
}

// NewStageFinished builds the event for one settled stage outcome.
func NewStageFinished(r *pipeline.Report, st pipeline.StageResult) Event {
	ev := base(TypeStageFinished, r)
	ev.Stage = st.Stage
	ev.Group = st.Group
	ev.StageStatus = string(st.Status)
	ev.Reason = st.Reason
	ev.DurationMS = st.Duration.Milliseconds()
	return ev
}

// NewRunCompleted builds the terminal event with the run summary.
func NewRunCompleted(r *pipeline.Report) Event {
	ev := base(TypeRunCompleted, r)
	ev.RunStatus = string(r.Status)
	ev.StagesSucceeded, ev.StagesFailed, ev.StagesSkipped, ev.StagesNotRun = r.Counts()
	ev.FailedStages = r.FailedStages()
	ev.DurationMS = r.Duration.Milliseconds()
	return ev
}
