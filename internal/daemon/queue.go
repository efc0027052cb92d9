package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"git.home.luguber.info/inful/piperunner/internal/logfields"
	"git.home.luguber.info/inful/piperunner/internal/metrics"
	"git.home.luguber.info/inful/piperunner/internal/pipeline"
)

// Trigger records what caused a run to be queued.
type Trigger string

const (
	TriggerManual    Trigger = "manual"    // one-shot CLI run routed through the daemon
	TriggerAPI       Trigger = "api"       // POST /api/v1/runs
	TriggerScheduled Trigger = "scheduled" // periodic schedule fired
	TriggerWatch     Trigger = "watch"     // definition file changed on disk
)

// JobStatus is the queue-level state of a run job. It tracks the job through
// the queue; the pipeline outcome itself lives in the attached report.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobAborted   JobStatus = "aborted"
)

// ErrQueueFull is returned by Enqueue when the queue has no free slot.
var ErrQueueFull = errors.New("run queue is full")

// RunJob is one queued pipeline run. Its ID doubles as the run ID, so the
// report produced by the run carries the same identifier.
type RunJob struct {
	ID          string           `json:"id"`
	Trigger     Trigger          `json:"trigger"`
	Branch      string           `json:"branch,omitempty"`
	Status      JobStatus        `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Duration    time.Duration    `json:"duration,omitempty"`
	Error       string           `json:"error,omitempty"`
	Report      *pipeline.Report `json:"report,omitempty"`

	cancel context.CancelFunc
}

// Launcher executes one run job to completion and returns the run report.
// The daemon implements it; tests substitute fakes.
type Launcher interface {
	Launch(ctx context.Context, job *RunJob) (*pipeline.Report, error)
}

// RunQueue holds pending run jobs and executes them on a fixed pool of
// workers. Finished jobs move into a bounded in-memory history.
type RunQueue struct {
	jobs        chan *RunJob
	workers     int
	maxSize     int
	mu          sync.RWMutex
	queued      map[string]*RunJob
	active      map[string]*RunJob
	history     []*RunJob
	historySize int
	stopChan    chan struct{}
	wg          sync.WaitGroup
	launcher    Launcher
	recorder    metrics.Recorder
}

// NewRunQueue creates a run queue backed by the given launcher. Non-positive
// sizes fall back to the daemon defaults.
func NewRunQueue(launcher Launcher, maxSize, workers, historySize int) *RunQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	if workers <= 0 {
		workers = 2
	}
	if historySize <= 0 {
		historySize = 50
	}

	return &RunQueue{
		jobs:        make(chan *RunJob, maxSize),
		workers:     workers,
		maxSize:     maxSize,
		queued:      make(map[string]*RunJob),
		active:      make(map[string]*RunJob),
		history:     make([]*RunJob, 0),
		historySize: historySize,
		stopChan:    make(chan struct{}),
		launcher:    launcher,
		recorder:    metrics.NoopRecorder{},
	}
}

// SetRecorder wires a metrics recorder for queue gauges.
func (q *RunQueue) SetRecorder(r metrics.Recorder) {
	if r != nil {
		q.recorder = r
	}
}

// Start begins processing jobs with the configured number of workers.
func (q *RunQueue) Start(ctx context.Context) {
	slog.Info("Starting run queue", slog.Int("workers", q.workers), slog.Int("max_size", q.maxSize))

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop shuts the queue down: active jobs are cancelled and the workers are
// waited for. Jobs still waiting in the queue are dropped.
func (q *RunQueue) Stop(ctx context.Context) {
	slog.Info("Stopping run queue")

	close(q.stopChan)

	q.mu.Lock()
	for _, job := range q.active {
		if job.cancel != nil {
			job.cancel()
		}
	}
	q.mu.Unlock()

	q.wg.Wait()
	slog.Info("Run queue stopped")
}

// Enqueue adds a job to the queue without blocking. A full queue yields
// ErrQueueFull.
func (q *RunQueue) Enqueue(job *RunJob) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	job.Status = JobQueued
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case q.jobs <- job:
		q.queued[job.ID] = job
		q.recorder.SetQueueLength(len(q.jobs))
		slog.Info("Run job enqueued",
			logfields.RunID(job.ID),
			logfields.Trigger(string(job.Trigger)),
			logfields.Branch(job.Branch))
		return nil
	default:
		return ErrQueueFull
	}
}

// Length returns the number of jobs waiting in the queue.
func (q *RunQueue) Length() int {
	return len(q.jobs)
}

// GetQueuedJobs returns value snapshots of jobs waiting for a worker.
func (q *RunQueue) GetQueuedJobs() []RunJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return snapshotJobs(q.queued)
}

// GetActiveJobs returns value snapshots of currently executing jobs.
func (q *RunQueue) GetActiveJobs() []RunJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return snapshotJobs(q.active)
}

// GetHistory returns value snapshots of finished jobs, oldest first.
func (q *RunQueue) GetHistory() []RunJob {
	q.mu.RLock()
	defer q.mu.RUnlock()

	history := make([]RunJob, 0, len(q.history))
	for _, job := range q.history {
		history = append(history, snapshotJob(job))
	}
	return history
}

// GetJob looks a job up by ID across active, queued and finished jobs.
func (q *RunQueue) GetJob(id string) (RunJob, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if job, ok := q.active[id]; ok {
		return snapshotJob(job), true
	}
	if job, ok := q.queued[id]; ok {
		return snapshotJob(job), true
	}
	for i := len(q.history) - 1; i >= 0; i-- {
		if q.history[i].ID == id {
			return snapshotJob(q.history[i]), true
		}
	}
	return RunJob{}, false
}

// Abort cancels an actively executing job. The run winds down cooperatively,
// so the job stays active until its abort path finishes.
func (q *RunQueue) Abort(id string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, ok := q.active[id]
	if !ok {
		return fmt.Errorf("run %s is not active", id)
	}
	if job.cancel != nil {
		job.cancel()
	}
	slog.Info("Run job abort requested", logfields.RunID(id))
	return nil
}

// worker processes jobs from the queue until stopped.
func (q *RunQueue) worker(ctx context.Context, workerID string) {
	defer q.wg.Done()

	slog.Debug("Run worker started", logfields.Worker(workerID))

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Run worker stopped by context", logfields.Worker(workerID))
			return
		case <-q.stopChan:
			slog.Debug("Run worker stopped by stop signal", logfields.Worker(workerID))
			return
		case job := <-q.jobs:
			if job != nil {
				q.processJob(ctx, job, workerID)
			}
		}
	}
}

// processJob executes a single job and records its outcome.
func (q *RunQueue) processJob(ctx context.Context, job *RunJob, workerID string) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	q.mu.Lock()
	delete(q.queued, job.ID)
	job.cancel = cancel
	job.Status = JobRunning
	job.StartedAt = &start
	q.active[job.ID] = job
	q.recorder.SetQueueLength(len(q.jobs))
	q.recorder.SetActiveRuns(len(q.active))
	q.mu.Unlock()

	slog.Info("Run job started",
		logfields.RunID(job.ID),
		logfields.Trigger(string(job.Trigger)),
		logfields.Worker(workerID))

	report, err := q.launcher.Launch(jobCtx, job)

	end := time.Now()
	q.mu.Lock()
	delete(q.active, job.ID)
	job.cancel = nil
	job.CompletedAt = &end
	job.Duration = end.Sub(start)
	job.Report = report
	switch {
	case err != nil:
		job.Status = JobFailed
		job.Error = err.Error()
	case report != nil && report.Status == pipeline.RunCompleted:
		job.Status = JobCompleted
	case report != nil && report.Status == pipeline.RunAborted:
		job.Status = JobAborted
	default:
		job.Status = JobFailed
	}
	status := job.Status
	duration := job.Duration
	q.addToHistory(job)
	q.recorder.SetActiveRuns(len(q.active))
	q.mu.Unlock()

	if err != nil {
		slog.Error("Run job failed to launch",
			logfields.RunID(job.ID),
			slog.Duration("duration", duration),
			logfields.Error(err))
		return
	}
	slog.Info("Run job finished",
		logfields.RunID(job.ID),
		logfields.Status(string(status)),
		slog.Duration("duration", duration))
}

// addToHistory appends a finished job, keeping only the most recent entries.
// Callers must hold q.mu.
func (q *RunQueue) addToHistory(job *RunJob) {
	q.history = append(q.history, job)

	if len(q.history) > q.historySize {
		copy(q.history, q.history[len(q.history)-q.historySize:])
		q.history = q.history[:q.historySize]
	}
}

// snapshotJob copies a job for handing out. Mutating the copy does not
// affect queue state.
func snapshotJob(job *RunJob) RunJob {
	c := *job
	c.cancel = nil
	return c
}

func snapshotJobs(jobs map[string]*RunJob) []RunJob {
	out := make([]RunJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, snapshotJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
