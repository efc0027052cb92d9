package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureEnqueuer struct {
	jobs chan *RunJob
}

func (c *captureEnqueuer) Enqueue(job *RunJob) error {
	select {
	case c.jobs <- job:
	default:
	}
	return nil
}

func TestSchedulerEnqueuesRuns(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)

	enq := &captureEnqueuer{jobs: make(chan *RunJob, 8)}
	s.SetEnqueuer(enq)

	_, err = s.ScheduleRun(20*time.Millisecond, "develop")
	require.NoError(t, err)

	ctx := context.Background()
	s.Start(ctx)
	defer func() { require.NoError(t, s.Stop(ctx)) }()

	select {
	case job := <-enq.jobs:
		require.NotEmpty(t, job.ID)
		require.Equal(t, TriggerScheduled, job.Trigger)
		require.Equal(t, "develop", job.Branch)
		require.False(t, job.CreatedAt.IsZero())
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled run was not enqueued")
	}
}

func TestScheduleRunRejectsNonPositiveInterval(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)

	_, err = s.ScheduleRun(0, "main")
	require.Error(t, err)
	_, err = s.ScheduleRun(-time.Second, "main")
	require.Error(t, err)
}

func TestScheduleRunReturnsJobID(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)

	id, err := s.ScheduleRun(time.Hour, "main")
	require.NoError(t, err)
	require.NotEmpty(t, id)
}
