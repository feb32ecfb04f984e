package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent is an append-only record of a state-changing operation.
// Payload must never contain plaintext credentials,
// tokens, OTP codes, or signing secrets.
type AuditEvent struct {
	ID          uuid.UUID
	TenantID    uuid.NullUUID
	ActorUserID uuid.NullUUID
	ActorSvcID  uuid.NullUUID
	ActionKey   string
	EntityKind  string
	EntityID    uuid.UUID
	OccurredUTC time.Time
	Payload     map[string]any
}

// Fixed action-key enumeration, kept as a closed set of string
// constants in the same way as the reason_key vocabulary used by the
// authorization engine (the two sets are distinct).
const (
	ActionUserRegister        = "user.register"
	ActionLoginSuccess        = "auth.login.success"
	ActionLoginFailure        = "auth.login.failure"
	ActionLogout              = "auth.logout"
	ActionRefresh             = "auth.refresh"
	ActionSessionReplay       = "auth.session.replay"
	ActionOTPIssue            = "otp.issue"
	ActionOTPVerify           = "otp.verify"
	ActionRoleCreate          = "role.create"
	ActionCapabilityAttach    = "role.capability.attach"
	ActionCapabilityDetach    = "role.capability.detach"
	ActionAssignmentCreate    = "assignment.create"
	ActionAssignmentTerminate = "assignment.terminate"
	ActionVisibilityCreate    = "visibility.create"
	ActionVisibilityRevoke    = "visibility.revoke"
	ActionServiceRegister     = "service.register"
	ActionServiceRotate       = "service.secret.rotate"
	ActionServiceDisable      = "service.disable"
	ActionServiceEnable       = "service.enable"
	ActionInvitationCreate    = "invitation.create"
	ActionInvitationAccept    = "invitation.accept"
)
