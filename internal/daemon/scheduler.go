package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/piperunner/internal/logfields"
)

// Scheduler wraps gocron for periodic run triggers.
type Scheduler struct {
	scheduler gocron.Scheduler
	enqueuer  interface {
		Enqueue(job *RunJob) error
	}
}

// NewScheduler creates a new scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
	}, nil
}

// SetEnqueuer injects the queue the scheduled runs are submitted to.
func (s *Scheduler) SetEnqueuer(e interface{ Enqueue(job *RunJob) error }) { s.enqueuer = e }

// Start begins the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// ScheduleRun registers a periodic run trigger for the given branch.
// Returns the gocron job ID for later management.
func (s *Scheduler) ScheduleRun(interval time.Duration, branch string) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("schedule interval must be positive, got %s", interval)
	}

	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.enqueueRun, branch),
		gocron.WithName(fmt.Sprintf("run-every-%s", interval)),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create periodic run job: %w", err)
	}

	return job.ID().String(), nil
}

// enqueueRun is called by gocron when a schedule fires.
func (s *Scheduler) enqueueRun(branch string) {
	if s.enqueuer == nil {
		slog.Error("Scheduler enqueuer not set")
		return
	}

	job := &RunJob{
		ID:        uuid.NewString(),
		Trigger:   TriggerScheduled,
		Branch:    branch,
		CreatedAt: time.Now(),
	}

	slog.Info("Enqueuing scheduled run",
		logfields.RunID(job.ID),
		logfields.Branch(branch))

	if err := s.enqueuer.Enqueue(job); err != nil {
		slog.Error("Failed to enqueue scheduled run",
			logfields.RunID(job.ID),
			logfields.Error(err))
	}
}
