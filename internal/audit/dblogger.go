package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/veltrix/authzcore/internal/storage"
)

// DBLogger persists audit events through the relational store,
// falling back to the JSON stdout logger when the write fails.
type DBLogger struct {
	Queries  *storage.Queries
	Logger   *slog.Logger
	Clock    func() time.Time
	fallback *JSONLogger
}

// NewDBLogger constructs a DBLogger with its JSON fallback wired in.
func NewDBLogger(q *storage.Queries, logger *slog.Logger) *DBLogger {
	return &DBLogger{Queries: q, Logger: logger, fallback: NewJSONLogger(logger)}
}

func (d *DBLogger) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now().UTC()
}

// Log writes the event to the database. On failure it logs a WARN and
// falls through to the JSON logger so the event is not lost entirely.
// It never returns an error and never fails the caller's primary
// operation.
func (d *DBLogger) Log(ctx context.Context, actionKey string, f Fields) {
	event := toEvent(d.now, actionKey, f)

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		d.Logger.Warn("audit_payload_marshal_failed", "action", actionKey, "error", err)
		payload = []byte("{}")
	}

	if err := d.Queries.CreateAuditEvent(ctx, event, payload); err != nil {
		d.Logger.Warn("audit_write_failed", "action", actionKey, "error", err)
		d.fallback.Log(ctx, actionKey, f)
	}
}
