package events

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/piperunner/internal/logfields"
	"git.home.luguber.info/inful/piperunner/internal/pipeline"
)

// Bridge adapts an Emitter to the engine's Notifier callbacks. Delivery
// problems are logged and swallowed; a broken event sink must not change a
// run's outcome.
type Bridge struct {
	emitter Emitter
}

// NewBridge wraps an emitter for use as a pipeline notifier.
func NewBridge(e Emitter) *Bridge {
	return &Bridge{emitter: e}
}

func (b *Bridge) RunStarted(ctx context.Context, r *pipeline.Report) {
	b.emit(ctx, NewRunStarted(r))
}

func (b *Bridge) StageFinished(ctx context.Context, r *pipeline.Report, st pipeline.StageResult) {
	b.emit(ctx, NewStageFinished(r, st))
}

func (b *Bridge) RunCompleted(ctx context.Context, r *pipeline.Report) {
	b.emit(ctx, NewRunCompleted(r))
}

func (b *Bridge) emit(ctx context.Context, ev Event) {
	if b.emitter == nil {
		return
	}
	if err := b.emitter.Emit(ctx, ev); err != nil {
		slog.Warn("Event emission failed",
			slog.String("event", string(ev.Type)),
			logfields.RunID(ev.RunID),
			logfields.Error(err))
	}
}

var _ pipeline.Notifier = (*Bridge)(nil)
