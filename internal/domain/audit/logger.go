package audit

import (
	"context"
	"log/slog"

	"evalportal/internal/requestctx"
)

// Enqueuer runs work off the request path.
type Enqueuer interface {
	Enqueue(jobType string, run func(context.Context) error)
}

// Logger records events asynchronously when a store is configured and always
// writes a structured log line.
type Logger struct {
	store *Service
	jobs  Enqueuer
}

func NewLogger(store *Service, jobs Enqueuer) *Logger {
	return &Logger{store: store, jobs: jobs}
}

func (l *Logger) Log(ctx context.Context, evt Event, details any) {
	if evt.RequestID == "" {
		evt.RequestID = requestctx.GetRequestID(ctx)
	}
	if evt.IP == "" {
		evt.IP = requestctx.GetClientIP(ctx)
	}
	slog.Info("audit",
		"action", evt.Action,
		"actorId", evt.ActorID,
		"entityType", evt.EntityType,
		"entityId", evt.EntityID,
		"requestId", evt.RequestID,
	)
	if l == nil || l.store == nil || l.store.DB == nil {
		return
	}
	record := func(ctx context.Context) error {
		return l.store.Record(ctx, evt, details)
	}
	if l.jobs == nil {
		if err := record(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("audit record failed", "action", evt.Action, "err", err)
		}
		return
	}
	l.jobs.Enqueue("audit:"+evt.Action, record)
}
