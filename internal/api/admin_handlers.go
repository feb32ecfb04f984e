package api

import (
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veltrix/authzcore/internal/api/helpers"
	"github.com/veltrix/authzcore/internal/api/middleware"
	"github.com/veltrix/authzcore/internal/apperr"
	"github.com/veltrix/authzcore/internal/audit"
	"github.com/veltrix/authzcore/internal/credential"
	"github.com/veltrix/authzcore/internal/domain"
	"github.com/veltrix/authzcore/internal/invite"
	"github.com/veltrix/authzcore/internal/storage"
)

// pathID parses the {id} route parameter as a UUID.
func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// invalidateContext drops the cached auth context for a user after a
// grant-affecting mutation. No-op when no cache is configured.
func (s *Server) invalidateContext(r *http.Request, tenantID, userID uuid.UUID) {
	if s.Contexts == nil {
		return
	}
	if err := s.Contexts.Invalidate(r.Context(), tenantID, userID); err != nil {
		s.Logger.Warn("context_cache_invalidate_failed", "error", err, "user_id", userID)
	}
}

func (s *Server) auditActor(r *http.Request, action, entityKind string, entityID uuid.UUID, payload map[string]any) {
	tenantID, _ := middleware.GetTenantID(r.Context())
	userID, _ := middleware.GetUserID(r.Context())
	f := audit.Fields{
		EntityKind: entityKind,
		EntityID:   entityID,
		Payload:    payload,
	}
	if tenantID != uuid.Nil {
		f.TenantID = uuid.NullUUID{UUID: tenantID, Valid: true}
	}
	if userID != uuid.Nil {
		f.ActorUser = uuid.NullUUID{UUID: userID, Valid: true}
	}
	s.Audit.Log(r.Context(), action, f)
}

// --- tenants (admin-key guarded) ---------------------------------------

type CreateTenantRequest struct {
	Slug  string `json:"slug"`
	Label string `json:"label"`
}

func (s *Server) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	tenant, err := domain.NewTenant(uuid.New(), req.Slug, req.Label)
	if err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if err := s.DB.CreateTenant(r.Context(), tenant); err != nil {
		helpers.RespondAppError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenant.ID,
		"slug":      tenant.Slug,
	})
}

// --- org nodes ---------------------------------------------------------

type CreateOrgNodeRequest struct {
	TypeCode string     `json:"type_code"`
	Label    string     `json:"label"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
}

func (s *Server) CreateOrgNode(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.MustGetTenantID(r.Context())
	q := middleware.MustGetQueries(r.Context())

	var req CreateOrgNodeRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	var parentID uuid.NullUUID
	if req.ParentID != nil {
		// Parent must exist in the same tenant; the tenant-filtered
		// lookup yields NotFound for foreign parents, never Forbidden,
		// to avoid existence leaks.
		if _, err := q.GetOrgNode(r.Context(), tenantID, *req.ParentID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				helpers.RespondReason(w, http.StatusNotFound, apperr.ReasonNotFound, "parent org node")
				return
			}
			helpers.RespondAppError(w, err)
			return
		}
		parentID = uuid.NullUUID{UUID: *req.ParentID, Valid: true}
	}

	node, err := domain.NewOrgNode(uuid.New(), tenantID, req.TypeCode, req.Label, parentID)
	if err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if err := q.CreateOrgNode(r.Context(), node); err != nil {
		helpers.RespondAppError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]uuid.UUID{"org_node_id": node.ID})
}

func (s *Server) DeactivateOrgNode(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.MustGetTenantID(r.Context())
	q := middleware.MustGetQueries(r.Context())

	id, err := pathID(r)
	if err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "invalid org node id")
		return
	}
	if _, err := q.GetOrgNode(r.Context(), tenantID, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			helpers.RespondReason(w, http.StatusNotFound, apperr.ReasonNotFound, "")
			return
		}
		helpers.RespondAppError(w, err)
		return
	}
	// Closure rows are retained so historical assignments stay
	// resolvable.
	if err := q.SetOrgNodeActive(r.Context(), tenantID, id, false); err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- roles & capabilities ----------------------------------------------

type CreateRoleRequest struct {
	Label string `json:"label"`
}

func (s *Server) CreateRole(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.MustGetTenantID(r.Context())
	q := middleware.MustGetQueries(r.Context())

	var req CreateRoleRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	role, err := domain.NewRole(uuid.New(), tenantID, req.Label)
	if err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if err := q.CreateRole(r.Context(), role); err != nil {
		helpers.RespondAppError(w, err)
		return
	}

	s.auditActor(r, domain.ActionRoleCreate, "role", role.ID, map[string]any{"label": role.Label})
	helpers.RespondJSON(w, http.StatusOK, map[string]uuid.UUID{"role_id": role.ID})
}

type AttachCapabilityRequest struct {
	CapabilityKey string `json:"capability_key"`
}

func (s *Server) AttachCapability(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.MustGetTenantID(r.Context())
	q := middleware.MustGetQueries(r.Context())

	roleID, err := pathID(r)
	if err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "invalid role id")
		return
	}
	var req AttachCapabilityRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.CapabilityKey == "" {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "capability_key required")
		return
	}

	if _, err := q.GetRole(r.Context(), tenantID, roleID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			helpers.RespondReason(w, http.StatusNotFound, apperr.ReasonNotFound, "")
			return
		}
		helpers.RespondAppError(w, err)
		return
	}
	if err := q.AttachCapability(r.Context(), roleID, req.CapabilityKey); err != nil {
		helpers.RespondAppError(w, err)
		return
	}

	s.auditActor(r, domain.ActionCapabilityAttach, "role", roleID, map[string]any{"capability": req.CapabilityKey})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) DetachCapability(w http.ResponseWriter, r *http.Request) {
	q := middleware.MustGetQueries(r.Context())

	roleID, err := pathID(r)
	if err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "invalid role id")
		return
	}
	capKey := chi.URLParam(r, "key")
	if err := q.DetachCapability(r.Context(), roleID, capKey); err != nil {
		helpers.RespondAppError(w, err)
		return
	}

	s.auditActor(r, domain.ActionCapabilityDetach, "role", roleID, map[string]any{"capability": capKey})
	w.WriteHeader(http.StatusNoContent)
}

type CreateCapabilityRequest struct {
	Key string `json:"key"`
}

// CreateCapability appends a capability key to the global registry.
// The wildcard is seeded by migration and can never be re-created
// through this endpoint.
func (s *Server) CreateCapability(w http.ResponseWriter, r *http.Request) {
	q := middleware.MustGetQueries(r.Context())

	var req CreateCapabilityRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if req.Key == domain.WildcardCapability {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "the wildcard capability cannot be created")
		return
	}
	if _, err := domain.NewCapability(req.Key); err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	if err := q.SeedCapability(r.Context(), req.Key); err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"key": req.Key})
}

// --- assignments -------------------------------------------------------

type CreateAssignmentRequest struct {
	UserID    uuid.UUID  `json:"user_id"`
	OrgNodeID uuid.UUID  `json:"org_node_id"`
	RoleID    uuid.UUID  `json:"role_id"`
	EndUTC    *time.Time `json:"end_utc,omitempty"`
}

func (s *Server) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.MustGetTenantID(r.Context())
	q := middleware.MustGetQueries(r.Context())

	var req CreateAssignmentRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	// All three foreign keys must resolve inside the caller's tenant.
	if _, err := q.GetUserByID(r.Context(), tenantID, req.UserID); err != nil {
		s.respondLookup(w, err, "user")
		return
	}
	if _, err := q.GetOrgNode(r.Context(), tenantID, req.OrgNodeID); err != nil {
		s.respondLookup(w, err, "org node")
		return
	}
	if _, err := q.GetRole(r.Context(), tenantID, req.RoleID); err != nil {
		s.respondLookup(w, err, "role")
		return
	}

	assignment := domain.NewOrgAssignment(uuid.New(), tenantID, req.UserID, req.OrgNodeID, req.RoleID)
	if req.EndUTC != nil {
		if err := domain.ValidateEnd(assignment.StartUTC, req.EndUTC); err != nil {
			helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
			return
		}
		assignment.EndUTC = req.EndUTC
	}
	if err := q.CreateAssignment(r.Context(), assignment); err != nil {
		helpers.RespondAppError(w, err)
		return
	}

	s.invalidateContext(r, tenantID, req.UserID)
	s.auditActor(r, domain.ActionAssignmentCreate, "org_assignment", assignment.ID, map[string]any{
		"user_id":     req.UserID,
		"org_node_id": req.OrgNodeID,
		"role_id":     req.RoleID,
	})
	helpers.RespondJSON(w, http.StatusOK, map[string]uuid.UUID{"assignment_id": assignment.ID})
}

// TerminateAssignment sets end_utc = now. Terminating an
// already-ended assignment is a no-op, so the handler is idempotent.
func (s *Server) TerminateAssignment(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.MustGetTenantID(r.Context())
	q := middleware.MustGetQueries(r.Context())

	id, err := pathID(r)
	if err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "invalid assignment id")
		return
	}
	assignment, err := q.GetAssignment(r.Context(), tenantID, id)
	if err != nil {
		s.respondLookup(w, err, "")
		return
	}
	if err := q.TerminateAssignment(r.Context(), tenantID, id, time.Now().UTC()); err != nil {
		helpers.RespondAppError(w, err)
		return
	}

	s.invalidateContext(r, tenantID, assignment.UserID)
	s.auditActor(r, domain.ActionAssignmentTerminate, "org_assignment", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// --- visibility grants -------------------------------------------------

type CreateVisibilityGrantRequest struct {
	UserID      uuid.UUID `json:"user_id"`
	OrgNodeID   uuid.UUID `json:"org_node_id"`
	AccessScope string    `json:"access_scope"`
}

func (s *Server) CreateVisibilityGrant(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.MustGetTenantID(r.Context())
	q := middleware.MustGetQueries(r.Context())

	var req CreateVisibilityGrantRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	scope := domain.AccessScope(req.AccessScope)
	if scope != domain.AccessRead && scope != domain.AccessAnalyze {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "access_scope must be read or analyze")
		return
	}
	if _, err := q.GetUserByID(r.Context(), tenantID, req.UserID); err != nil {
		s.respondLookup(w, err, "user")
		return
	}
	if _, err := q.GetOrgNode(r.Context(), tenantID, req.OrgNodeID); err != nil {
		s.respondLookup(w, err, "org node")
		return
	}

	grant := domain.NewVisibilityGrant(uuid.New(), tenantID, req.UserID, req.OrgNodeID, scope)
	if err := q.CreateVisibilityGrant(r.Context(), grant); err != nil {
		helpers.RespondAppError(w, err)
		return
	}

	s.invalidateContext(r, tenantID, req.UserID)
	s.auditActor(r, domain.ActionVisibilityCreate, "visibility_grant", grant.ID, map[string]any{
		"user_id":      req.UserID,
		"org_node_id":  req.OrgNodeID,
		"access_scope": scope,
	})
	helpers.RespondJSON(w, http.StatusOK, map[string]uuid.UUID{"grant_id": grant.ID})
}

func (s *Server) RevokeVisibilityGrant(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.MustGetTenantID(r.Context())
	q := middleware.MustGetQueries(r.Context())

	id, err := pathID(r)
	if err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "invalid grant id")
		return
	}
	grant, err := q.GetVisibilityGrant(r.Context(), tenantID, id)
	if err != nil {
		s.respondLookup(w, err, "")
		return
	}
	if err := q.RevokeVisibilityGrant(r.Context(), tenantID, id, time.Now().UTC()); err != nil {
		helpers.RespondAppError(w, err)
		return
	}

	s.invalidateContext(r, tenantID, grant.UserID)
	s.auditActor(r, domain.ActionVisibilityRevoke, "visibility_grant", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// --- invitations -------------------------------------------------------

type CreateInvitationRequest struct {
	Email         string    `json:"email"`
	TargetRoleID  uuid.UUID `json:"target_role_id"`
	TargetOrgNode uuid.UUID `json:"target_org_node_id"`
}

func (s *Server) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.MustGetTenantID(r.Context())
	inviterID := middleware.MustGetUserID(r.Context())
	q := middleware.MustGetQueries(r.Context())

	var req CreateInvitationRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if req.Email == "" {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "email required")
		return
	}
	if _, err := q.GetRole(r.Context(), tenantID, req.TargetRoleID); err != nil {
		s.respondLookup(w, err, "role")
		return
	}
	if _, err := q.GetOrgNode(r.Context(), tenantID, req.TargetOrgNode); err != nil {
		s.respondLookup(w, err, "org node")
		return
	}

	token, err := s.Invites.Create(r.Context(), tenantID, inviterID, req.TargetOrgNode, req.TargetRoleID, req.Email)
	if err != nil {
		helpers.RespondAppError(w, err)
		return
	}

	// The raw token is returned exactly once; it is also dispatched via
	// the notify sink. It never appears in audit payloads.
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"token": token})
}

type AcceptInvitationRequest struct {
	Token        string `json:"token"`
	Password     string `json:"password"`
	DisplayLabel string `json:"display_label"`
}

func (s *Server) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req AcceptInvitationRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if req.Token == "" || utf8.RuneCountInString(req.Password) < 12 {
		helpers.RespondReason(w, http.StatusBadRequest, apperr.ReasonWeakPassword, "token and a 12+ character password required")
		return
	}

	ip, ua := clientNet(r)
	user, pair, err := s.Invites.Accept(r.Context(), req.Token, req.Password, req.DisplayLabel, ip, ua)
	if err != nil {
		switch {
		case errors.Is(err, invite.ErrInvitationNotFound):
			helpers.RespondReason(w, http.StatusNotFound, apperr.ReasonNotFound, "")
		case errors.Is(err, invite.ErrInvitationExpired):
			helpers.RespondReason(w, http.StatusConflict, apperr.ReasonExpired, "")
		case errors.Is(err, invite.ErrInvitationConsumed):
			helpers.RespondReason(w, http.StatusConflict, apperr.ReasonInvalidInvitation, "")
		case errors.Is(err, credential.ErrEmailTaken):
			helpers.RespondReason(w, http.StatusConflict, apperr.ReasonEmailTaken, "")
		default:
			helpers.RespondAppError(w, err)
		}
		return
	}

	helpers.RespondJSON(w, http.StatusOK, TokenPairResponse{
		UserID:  user.ID,
		Access:  pair.AccessToken,
		Refresh: pair.RefreshToken,
	})
}

// respondLookup maps a storage lookup failure, labeling what was not
// found without leaking cross-tenant existence.
func (s *Server) respondLookup(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, storage.ErrNotFound) {
		helpers.RespondReason(w, http.StatusNotFound, apperr.ReasonNotFound, what)
		return
	}
	helpers.RespondAppError(w, err)
}
