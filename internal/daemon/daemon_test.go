package daemon

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/piperunner/internal/config"
	"git.home.luguber.info/inful/piperunner/internal/definition"
	"git.home.luguber.info/inful/piperunner/internal/pipeline"
	"git.home.luguber.info/inful/piperunner/internal/version"
)

const daemonDefinition = `pipeline: daemon-test
stages:
  - name: greet
    steps:
      - name: hello
        run: echo hello
`

func testGraph(t *testing.T) *pipeline.Graph {
	t.Helper()
	doc, err := definition.Parse([]byte(daemonDefinition))
	require.NoError(t, err)
	g, err := definition.Build(doc, definition.BuildOptions{})
	require.NoError(t, err)
	return g
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace.Root = t.TempDir()
	cfg.Daemon = &config.DaemonConfig{
		Listen:    "127.0.0.1:0",
		QueueSize: 4,
		Workers:   1,
		History:   4,
	}
	return cfg
}

func TestNewDaemonValidation(t *testing.T) {
	g := testGraph(t)

	_, err := NewDaemon(nil, g, "")
	require.Error(t, err)

	_, err = NewDaemon(config.Default(), g, "")
	require.Error(t, err)

	_, err = NewDaemon(testConfig(t), nil, "")
	require.Error(t, err)
}

func TestDaemonStartStop(t *testing.T) {
	d, err := NewDaemon(testConfig(t), testGraph(t), "")
	require.NoError(t, err)
	require.Equal(t, StatusStopped, d.GetStatus())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	require.Eventually(t, func() bool {
		return d.GetStatus() == StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	data := d.StatusData()
	require.Equal(t, StatusRunning, data.Status)
	require.Equal(t, version.Version, data.Version)
	require.Equal(t, "daemon-test", data.Pipeline.Name)
	require.Equal(t, 1, data.Pipeline.Stages)
	require.Equal(t, 4, data.Queue.Capacity)
	require.Equal(t, 1, data.Queue.Workers)

	// A second Start while running is rejected.
	require.Error(t, d.Start(ctx))

	require.NoError(t, d.Stop(context.Background()))
	require.Equal(t, StatusStopped, d.GetStatus())

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	// Stop is idempotent.
	require.NoError(t, d.Stop(context.Background()))
}

func TestDaemonSubmitRunDefaultsBranch(t *testing.T) {
	d, err := NewDaemon(testConfig(t), testGraph(t), "")
	require.NoError(t, err)

	job, err := d.SubmitRun(TriggerManual, "")
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	require.Equal(t, JobQueued, job.Status)
	require.Equal(t, "main", job.Branch)

	got, ok := d.GetJob(job.ID)
	require.True(t, ok)
	require.Equal(t, JobQueued, got.Status)

	job2, err := d.SubmitRun(TriggerAPI, "develop")
	require.NoError(t, err)
	require.Equal(t, "develop", job2.Branch)
}

func TestDaemonLaunchRunsPipeline(t *testing.T) {
	cfg := testConfig(t)
	d, err := NewDaemon(cfg, testGraph(t), "")
	require.NoError(t, err)

	report, err := d.Launch(context.Background(), &RunJob{ID: "run-e2e", Branch: "main"})
	require.NoError(t, err)
	require.Equal(t, pipeline.RunCompleted, report.Status)
	require.Equal(t, "run-e2e", report.RunID)
	require.Equal(t, "daemon-test", report.Pipeline)
	require.Equal(t, 1, report.Number)
	require.Len(t, report.Stages, 1)
	require.Equal(t, pipeline.StageSucceeded, report.Stages[0].Status)
	require.Contains(t, report.Stages[0].Steps[0].Output, "hello")

	// Ephemeral workspaces are removed after the run.
	entries, err := os.ReadDir(cfg.Workspace.Root)
	require.NoError(t, err)
	require.Empty(t, entries)

	// Run numbers increase per launch.
	report2, err := d.Launch(context.Background(), &RunJob{ID: "run-e2e-2", Branch: "main"})
	require.NoError(t, err)
	require.Equal(t, 2, report2.Number)
}

func TestDaemonQueueIntegration(t *testing.T) {
	cfg := testConfig(t)
	d, err := NewDaemon(cfg, testGraph(t), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.queue.Start(ctx)
	defer d.queue.Stop(ctx)

	job, err := d.SubmitRun(TriggerAPI, "develop")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok := d.GetJob(job.ID)
		return ok && got.Status == JobCompleted
	}, 5*time.Second, 20*time.Millisecond)

	got, _ := d.GetJob(job.ID)
	require.NotNil(t, got.Report)
	require.Equal(t, pipeline.RunCompleted, got.Report.Status)
	require.Equal(t, "develop", got.Report.Branch)
	require.Equal(t, job.ID, got.Report.RunID)

	data := d.StatusData()
	require.NotNil(t, data.LastRun)
	require.Equal(t, job.ID, data.LastRun.ID)
	require.EqualValues(t, 1, data.Queue.RunsTotal)
}
