package daemon

import (
	"time"

	"git.home.luguber.info/inful/piperunner/internal/version"
)

// StatusData is the daemon self-description served by /status.
type StatusData struct {
	Status      Status       `json:"status"`
	Version     string       `json:"version"`
	StartTime   time.Time    `json:"start_time"`
	Uptime      string       `json:"uptime"`
	Pipeline    PipelineInfo `json:"pipeline"`
	Queue       QueueInfo    `json:"queue"`
	LastRun     *RunJob      `json:"last_run,omitempty"`
	LastUpdated time.Time    `json:"last_updated"`
}

// PipelineInfo describes the currently loaded graph.
type PipelineInfo struct {
	Name          string `json:"name"`
	Stages        int    `json:"stages"`
	Groups        int    `json:"groups"`
	DefaultBranch string `json:"default_branch"`
}

// QueueInfo summarizes the run queue.
type QueueInfo struct {
	Length    int   `json:"length"`
	Active    int   `json:"active"`
	Workers   int   `json:"workers"`
	Capacity  int   `json:"capacity"`
	RunsTotal int64 `json:"runs_total"`
}

// StatusData collects the current daemon state for the status endpoint.
func (d *Daemon) StatusData() StatusData {
	d.mu.RLock()
	startTime := d.startTime
	d.mu.RUnlock()

	g := d.graph.Load()

	data := StatusData{
		Status:      d.GetStatus(),
		Version:     version.Version,
		StartTime:   startTime,
		Uptime:      time.Since(startTime).Truncate(time.Second).String(),
		LastUpdated: time.Now(),
		Pipeline: PipelineInfo{
			Name:          g.Name,
			Stages:        len(g.Stages()),
			Groups:        len(g.Groups),
			DefaultBranch: d.config.Defaults.Branch,
		},
		Queue: QueueInfo{
			Length:    d.queue.Length(),
			Active:    len(d.queue.GetActiveJobs()),
			Workers:   d.config.Daemon.Workers,
			Capacity:  d.config.Daemon.QueueSize,
			RunsTotal: d.runCounter.Load(),
		},
	}

	if history := d.queue.GetHistory(); len(history) > 0 {
		last := history[len(history)-1]
		data.LastRun = &last
	}

	return data
}
