package pipeline

import "time"

// RunStatus is the lifecycle state of a run. A run starts in RunRunning and
// ends in exactly one of the three terminal states.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunAborted   RunStatus = "ABORTED"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool { return s != RunRunning }

// StageStatus is the outcome of a single stage.
type StageStatus string

const (
	StageSucceeded StageStatus = "SUCCEEDED"
	StageFailed    StageStatus = "FAILED"
	StageSkipped   StageStatus = "SKIPPED"
	StageNotRun    StageStatus = "NOT_RUN"
)

// FailureKind classifies why a step did not succeed.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureExit       FailureKind = "non_zero_exit"
	FailureTimeout    FailureKind = "timeout"
	FailureLaunch     FailureKind = "launch_failure"
	FailureCredential FailureKind = "credential_not_found"
	FailureAborted    FailureKind = "abort_requested"
)

// StepResult records one step execution. Output is already redacted and
// capped; Truncated marks that the capture limit was hit.
type StepResult struct {
	Step      string        `json:"step"`
	Action    string        `json:"action"`
	ExitCode  int           `json:"exit_code"`
	Failure   FailureKind   `json:"failure,omitempty"`
	Message   string        `json:"message,omitempty"`
	Output    string        `json:"output,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Continued bool          `json:"continued,omitempty"`

	// Attempts is the total attempt count when the step was retried; zero
	// when the first attempt was decisive.
	Attempts  int           `json:"attempts,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// OK reports whether the step succeeded.
func (r StepResult) OK() bool { return r.Failure == FailureNone }

// StageResult records one stage outcome, including its post hook results.
type StageResult struct {
	Stage     string        `json:"stage"`
	Group     string        `json:"group,omitempty"`
	Status    StageStatus   `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	Steps     []StepResult  `json:"steps,omitempty"`
	Post      []StepResult  `json:"post,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Report is the full record of one run: ordered stage outcomes, pipeline
// post hook results and the terminal status. The engine stops mutating a
// report before Run returns it; treat it as read-only from then on.
type Report struct {
	RunID     string        `json:"run_id"`
	Number    int           `json:"run_number"`
	Pipeline  string        `json:"pipeline"`
	Branch    string        `json:"branch"`
	Status    RunStatus     `json:"status"`
	Stages    []StageResult `json:"stages"`
	Post      []StepResult  `json:"post,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`

	final bool
}

func newReport(m Meta) *Report {
	return &Report{
		RunID:     m.RunID,
		Number:    m.Number,
		Pipeline:  m.Pipeline,
		Branch:    m.Branch,
		Status:    RunRunning,
		StartedAt: m.StartedAt,
	}
}

func (r *Report) addStage(res StageResult) {
	if r.final {
		return
	}
	r.Stages = append(r.Stages, res)
}

// markNotRun records stages that were never reached, preserving order.
func (r *Report) markNotRun(stages []*Stage, reason string) {
	for _, st := range stages {
		r.addStage(StageResult{Stage: st.Name, Status: StageNotRun, Reason: reason})
	}
}

func (r *Report) complete(status RunStatus) {
	if r.final || r.Status.Terminal() {
		return
	}
	r.Status = status
}

func (r *Report) finalize(now time.Time) {
	if r.final {
		return
	}
	r.EndedAt = now
	r.Duration = now.Sub(r.StartedAt)
	r.final = true
}

// Counts tallies stage outcomes for summaries.
func (r *Report) Counts() (succeeded, failed, skipped, notRun int) {
	for _, st := range r.Stages {
		switch st.Status {
		case StageSucceeded:
			succeeded++
		case StageFailed:
			failed++
		case StageSkipped:
			skipped++
		case StageNotRun:
			notRun++
		}
	}
	return
}

// FailedStages returns the names of stages that failed, in order.
func (r *Report) FailedStages() []string {
	var names []string
	for _, st := range r.Stages {
		if st.Status == StageFailed {
			names = append(names, st.Stage)
		}
	}
	return names
}
