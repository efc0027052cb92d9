package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/piperunner/internal/actions"
	"git.home.luguber.info/inful/piperunner/internal/config"
	"git.home.luguber.info/inful/piperunner/internal/definition"
	"git.home.luguber.info/inful/piperunner/internal/events"
	"git.home.luguber.info/inful/piperunner/internal/logfields"
	"git.home.luguber.info/inful/piperunner/internal/metrics"
	"git.home.luguber.info/inful/piperunner/internal/pipeline"
	"git.home.luguber.info/inful/piperunner/internal/secrets"
	"git.home.luguber.info/inful/piperunner/internal/workspace"
)

// Status represents the lifecycle state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Daemon is the long-running mode of the runner. It owns the run queue, the
// HTTP API, the scheduler and the definition watcher, and executes queued
// jobs against the currently loaded graph.
type Daemon struct {
	config         *config.Config
	definitionPath string
	graph          atomic.Pointer[pipeline.Graph]
	status         atomic.Value // Status
	startTime      time.Time
	stopChan       chan struct{}
	mu             sync.RWMutex

	queue     *RunQueue
	scheduler *Scheduler
	watcher   *DefinitionWatcher
	server    *Server

	controller *pipeline.Controller
	recorder   metrics.Recorder
	emitter    events.Emitter
	resolver   secrets.Resolver

	runCounter atomic.Int64
}

var (
	_ Launcher = (*Daemon)(nil)
	_ Backend  = (*Daemon)(nil)
)

// NewDaemon wires up a daemon for the given configuration and graph. The
// definition path is only needed when file watching is enabled.
func NewDaemon(cfg *config.Config, g *pipeline.Graph, definitionPath string) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if cfg.Daemon == nil {
		return nil, fmt.Errorf("daemon configuration is required")
	}
	if g == nil {
		return nil, fmt.Errorf("pipeline graph is required")
	}

	d := &Daemon{
		config:         cfg,
		definitionPath: definitionPath,
		stopChan:       make(chan struct{}),
		recorder:       metrics.NoopRecorder{},
		resolver:       cfg.Resolver(),
	}
	d.graph.Store(g)
	d.status.Store(StatusStopped)

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prom.NewRegistry()
		d.recorder = metrics.NewPrometheusRecorder(reg)
		metricsHandler = metrics.HTTPHandler(reg)
	}

	var emitter events.Emitter = events.LogEmitter{}
	if cfg.Events != nil {
		ne, err := events.NewNATSEmitter(cfg.Events.NATSURL, cfg.Events.Subject)
		if err != nil {
			return nil, fmt.Errorf("failed to create event emitter: %w", err)
		}
		emitter = ne
	}
	d.emitter = emitter

	// One controller serves all runs; per-run state travels in the RunSpec.
	d.controller = pipeline.NewController(actions.Default(),
		pipeline.WithRecorder(d.recorder),
		pipeline.WithNotifier(events.NewBridge(emitter)),
		pipeline.WithOutputCap(cfg.Defaults.OutputCap),
		pipeline.WithRetryPolicy(cfg.RetryPolicy()),
	)

	d.queue = NewRunQueue(d, cfg.Daemon.QueueSize, cfg.Daemon.Workers, cfg.Daemon.History)
	d.queue.SetRecorder(d.recorder)

	scheduler, err := NewScheduler()
	if err != nil {
		return nil, err
	}
	scheduler.SetEnqueuer(d.queue)
	for _, sc := range cfg.Daemon.Schedules {
		every, err := time.ParseDuration(sc.Every)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule interval %q: %w", sc.Every, err)
		}
		branch := sc.Branch
		if branch == "" {
			branch = cfg.Defaults.Branch
		}
		if _, err := scheduler.ScheduleRun(every, branch); err != nil {
			return nil, err
		}
	}
	d.scheduler = scheduler

	if cfg.Daemon.Watch && definitionPath != "" {
		watcher, err := NewDefinitionWatcher(definitionPath, d)
		if err != nil {
			return nil, fmt.Errorf("failed to create definition watcher: %w", err)
		}
		d.watcher = watcher
	}

	d.server = NewServer(cfg, d, metricsHandler)

	return d, nil
}

// Start starts the daemon components and blocks until the daemon is stopped
// or the context is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.GetStatus() != StatusStopped {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not in stopped state: %s", d.GetStatus())
	}

	d.status.Store(StatusStarting)
	d.startTime = time.Now()

	g := d.graph.Load()
	slog.Info("Starting piperunner daemon",
		logfields.Pipeline(g.Name),
		slog.String("listen", d.config.Daemon.Listen),
		slog.Int("workers", d.config.Daemon.Workers))

	if err := d.server.Start(ctx); err != nil {
		d.status.Store(StatusError)
		d.mu.Unlock()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	d.queue.Start(ctx)
	d.scheduler.Start(ctx)

	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			slog.Error("Failed to start definition watcher", logfields.Error(err))
		} else {
			slog.Info("Definition watcher started", logfields.Path(d.definitionPath))
		}
	}

	d.status.Store(StatusRunning)
	slog.Info("Daemon started",
		slog.Int("schedules", len(d.config.Daemon.Schedules)),
		slog.Bool("watch", d.watcher != nil))

	// Release the lock before blocking so /status and Stop stay reachable.
	d.mu.Unlock()

	d.mainLoop(ctx)

	if d.GetStatus() == StatusRunning {
		d.status.Store(StatusStopping)
	}
	slog.Info("Main loop exited, daemon stopping")

	return nil
}

// mainLoop blocks until the daemon is told to stop.
func (d *Daemon) mainLoop(ctx context.Context) {
	select {
	case <-ctx.Done():
		slog.Info("Main loop stopped by context cancellation")
	case <-d.stopChan:
		slog.Info("Main loop stopped by stop signal")
	}
}

// Stop gracefully shuts down the daemon. It is safe to call while Start is
// still blocking and safe to call more than once.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.GetStatus() == StatusStopped {
		return nil
	}

	d.status.Store(StatusStopping)
	slog.Info("Stopping piperunner daemon")

	select {
	case <-d.stopChan:
		// Already signalled
	default:
		close(d.stopChan)
	}

	// Stop components in reverse start order
	if d.watcher != nil {
		if err := d.watcher.Stop(ctx); err != nil {
			slog.Error("Failed to stop definition watcher", logfields.Error(err))
		}
	}

	if d.scheduler != nil {
		if err := d.scheduler.Stop(ctx); err != nil {
			slog.Error("Failed to stop scheduler", logfields.Error(err))
		}
	}

	if d.queue != nil {
		d.queue.Stop(ctx)
	}

	if d.server != nil {
		if err := d.server.Stop(ctx); err != nil {
			slog.Error("Failed to stop HTTP server", logfields.Error(err))
		}
	}

	if d.emitter != nil {
		if err := d.emitter.Close(); err != nil {
			slog.Error("Failed to close event emitter", logfields.Error(err))
		}
	}

	d.status.Store(StatusStopped)
	slog.Info("Daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))

	return nil
}

// GetStatus returns the current daemon status.
func (d *Daemon) GetStatus() Status {
	status, ok := d.status.Load().(Status)
	if !ok {
		return StatusError
	}
	return status
}

// SubmitRun queues a new run. An empty branch falls back to the configured
// default.
func (d *Daemon) SubmitRun(trigger Trigger, branch string) (RunJob, error) {
	if branch == "" {
		branch = d.config.Defaults.Branch
	}

	job := &RunJob{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Branch:    branch,
		CreatedAt: time.Now(),
	}

	// Snapshot before Enqueue: once queued, a worker may pick the job up.
	snapshot := *job
	snapshot.Status = JobQueued

	if err := d.queue.Enqueue(job); err != nil {
		return RunJob{}, err
	}
	return snapshot, nil
}

// GetQueuedJobs returns jobs waiting for a worker.
func (d *Daemon) GetQueuedJobs() []RunJob { return d.queue.GetQueuedJobs() }

// GetActiveJobs returns currently executing jobs.
func (d *Daemon) GetActiveJobs() []RunJob { return d.queue.GetActiveJobs() }

// GetHistory returns finished jobs, oldest first.
func (d *Daemon) GetHistory() []RunJob { return d.queue.GetHistory() }

// GetJob looks a job up by run ID.
func (d *Daemon) GetJob(id string) (RunJob, bool) { return d.queue.GetJob(id) }

// AbortJob cancels an actively executing run.
func (d *Daemon) AbortJob(id string) error { return d.queue.Abort(id) }

// SwapGraph atomically replaces the graph used by subsequent runs. Runs
// already executing keep the graph they started with.
func (d *Daemon) SwapGraph(g *pipeline.Graph) {
	d.graph.Store(g)
	slog.Info("Pipeline graph swapped",
		logfields.Pipeline(g.Name),
		slog.Int("stages", len(g.Stages())))
}

// buildOptions returns the graph build options derived from the runner
// configuration, shared by the initial load and watcher reloads.
func (d *Daemon) buildOptions() definition.BuildOptions {
	return definition.BuildOptions{DefaultTimeout: d.config.StepTimeout()}
}

// Launch executes one queued run against the current graph. It implements
// Launcher for the run queue.
func (d *Daemon) Launch(ctx context.Context, job *RunJob) (*pipeline.Report, error) {
	g := d.graph.Load()
	if g == nil {
		return nil, fmt.Errorf("no pipeline graph loaded")
	}

	var ws *workspace.Manager
	if d.config.Workspace.Persistent {
		ws = workspace.NewPersistentManager(d.config.Workspace.Root, "working")
	} else {
		ws = workspace.NewManager(d.config.Workspace.Root)
	}
	if err := ws.Create(job.ID); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			slog.Warn("Workspace cleanup failed", logfields.RunID(job.ID), logfields.Error(err))
		}
	}()

	spec := pipeline.RunSpec{
		RunID:     job.ID,
		Number:    int(d.runCounter.Add(1)),
		Branch:    job.Branch,
		Workspace: ws.GetPath(),
		Resolver:  d.resolver,
	}

	return d.controller.Run(ctx, g, spec)
}
