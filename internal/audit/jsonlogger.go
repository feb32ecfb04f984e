package audit

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// JSONLogger writes structured audit events to stdout under a
// "log_type": "AUDIT_TRAIL" marker aggregators can route to a separate
// index. Used both as the DBLogger's failure fallback and standalone
// in tests.
type JSONLogger struct {
	logger *slog.Logger
}

func NewJSONLogger(base *slog.Logger) *JSONLogger {
	if base == nil {
		base = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return &JSONLogger{logger: base}
}

func (j *JSONLogger) Log(ctx context.Context, actionKey string, f Fields) {
	j.logger.InfoContext(ctx, "audit_event",
		"log_type", "AUDIT_TRAIL",
		"action", actionKey,
		"tenant_id", nullUUIDString(f.TenantID),
		"actor_user", nullUUIDString(f.ActorUser),
		"actor_service", nullUUIDString(f.ActorSvc),
		"entity_kind", f.EntityKind,
		"entity_id", f.EntityID.String(),
		"occurred_utc", time.Now().UTC(),
		"payload", f.Payload,
	)
}

func nullUUIDString(u uuid.NullUUID) string {
	if !u.Valid {
		return ""
	}
	return u.UUID.String()
}
