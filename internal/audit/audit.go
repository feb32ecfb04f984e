// Package audit implements the audit emitter: every state-changing
// operation fans out a structured event here. The sink is consulted
// best-effort; a failure to record logs a WARN and never fails the
// primary operation.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/veltrix/authzcore/internal/domain"
)

// Fields carries one audit event's attributes. Payload must never
// contain plaintext credentials, tokens, OTP codes, or signing
// secrets; callers are responsible for that redaction before calling
// Log.
type Fields struct {
	TenantID   uuid.NullUUID
	ActorUser  uuid.NullUUID
	ActorSvc   uuid.NullUUID
	EntityKind string
	EntityID   uuid.UUID
	Payload    map[string]any
}

// Sink is the contract every state-changing operation writes to. Log
// never returns an error: implementations swallow failures internally,
// since audit writes must not veto the primary operation.
type Sink interface {
	Log(ctx context.Context, actionKey string, f Fields)
}

// toEvent builds the domain.AuditEvent row for a Log call, stamping
// OccurredUTC from the supplied clock.
func toEvent(now func() time.Time, actionKey string, f Fields) *domain.AuditEvent {
	return &domain.AuditEvent{
		ID:          uuid.New(),
		TenantID:    f.TenantID,
		ActorUserID: f.ActorUser,
		ActorSvcID:  f.ActorSvc,
		ActionKey:   actionKey,
		EntityKind:  f.EntityKind,
		EntityID:    f.EntityID,
		OccurredUTC: now(),
		Payload:     f.Payload,
	}
}
