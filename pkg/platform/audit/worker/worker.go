package worker

import (
	"context"
	"log/slog"

	audit "mismobridge/pkg/platform/audit"
)

// HandleFunc persists one event.
type HandleFunc func(ctx context.Context, event audit.Event) error

// Worker drains an inbox of audit events. Failures are logged and the worker
// moves on; the inbox owner decides when to stop by closing the channel.
type Worker struct {
	inbox  <-chan audit.Event
	handle HandleFunc
	logger *slog.Logger
}

func NewWorker(inbox <-chan audit.Event, handle HandleFunc, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{inbox: inbox, handle: handle, logger: logger}
}

// Run processes events until the inbox is closed and empty.
func (w *Worker) Run(ctx context.Context) {
	for event := range w.inbox {
		if err := w.handle(ctx, event); err != nil {
			w.logger.WarnContext(ctx, "failed to persist audit event",
				"run_id", event.RunID.String(),
				"action", event.Action,
				"error", err,
			)
		}
	}
}
