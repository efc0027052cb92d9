package pipeline

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/piperunner/internal/logfields"
)

// dispatchPost runs the pipeline-level post hooks followed by workspace
// cleanup. The phase uses a context detached from run cancellation so post
// actions still run after an abort, each bounded by its own step timeout.
// The run outcome is already decided when this is called; a failing hook
// only adds a failed entry to the post section of the report.
func (c *Controller) dispatchPost(ctx context.Context, g *Graph, ec *ExecContext, report *Report, log *slog.Logger) {
	detached := context.WithoutCancel(ctx)
	if !g.Post.empty() {
		scope := ec.NewOverlay()
		report.Post = c.runHooks(detached, "", g.Post, scope, report.Status == RunCompleted, log)
	}
	if c.cleanup != nil {
		if err := c.cleanup(ec.Meta()); err != nil {
			log.Warn("Workspace cleanup failed", logfields.Error(err))
		}
	}
}
