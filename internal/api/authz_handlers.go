package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/veltrix/authzcore/internal/api/helpers"
	"github.com/veltrix/authzcore/internal/api/middleware"
	"github.com/veltrix/authzcore/internal/apperr"
	"github.com/veltrix/authzcore/internal/authz"
)

// EvaluateRequest is the body of POST /authz/evaluate.
type EvaluateRequest struct {
	Subject struct {
		UserID   uuid.UUID `json:"user_id"`
		TenantID uuid.UUID `json:"tenant_id"`
	} `json:"subject"`
	CapKey   string `json:"cap_key"`
	Resource struct {
		OwnerUserID *uuid.UUID `json:"owner_user_id,omitempty"`
		OrgNodeID   *uuid.UUID `json:"org_node_id,omitempty"`
	} `json:"resource"`
}

// DecisionResponse is the Decision wire shape.
type DecisionResponse struct {
	Allow               bool       `json:"allow"`
	ReasonKey           string     `json:"reason_key"`
	MatchedAssignmentID *uuid.UUID `json:"matched_assignment_id,omitempty"`
	MatchedOrgNodeID    *uuid.UUID `json:"matched_org_node_id,omitempty"`
}

// Evaluate answers a capability check on behalf of a calling service.
// The route is service-authenticated; the calling service must
// additionally hold the authz.evaluate permission.
func (s *Server) Evaluate(w http.ResponseWriter, r *http.Request) {
	serviceID, err := middleware.GetServiceID(r.Context())
	if err != nil {
		helpers.RespondReason(w, http.StatusForbidden, apperr.ReasonPrincipalNotSvc, "")
		return
	}

	allowed, err := s.Verifier.HasPermission(r.Context(), serviceID, PermEvaluate)
	if err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	if !allowed {
		helpers.RespondReason(w, http.StatusForbidden, apperr.ReasonNoPermission, "")
		return
	}

	var req EvaluateRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if req.Subject.UserID == uuid.Nil || req.Subject.TenantID == uuid.Nil || req.CapKey == "" {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "subject and cap_key required")
		return
	}

	resource := authz.Resource{}
	if req.Resource.OwnerUserID != nil {
		resource.OwnerUserID = uuid.NullUUID{UUID: *req.Resource.OwnerUserID, Valid: true}
	}
	if req.Resource.OrgNodeID != nil {
		resource.OrgNodeID = uuid.NullUUID{UUID: *req.Resource.OrgNodeID, Valid: true}
	}

	decision, err := s.Engine.Evaluate(r.Context(),
		authz.Subject{UserID: req.Subject.UserID, TenantID: req.Subject.TenantID},
		req.CapKey, resource)
	if err != nil {
		helpers.RespondAppError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, decisionResponse(decision))
}

func decisionResponse(d authz.Decision) DecisionResponse {
	resp := DecisionResponse{Allow: d.Allow, ReasonKey: d.ReasonKey}
	if d.MatchedAssignmentID.Valid {
		id := d.MatchedAssignmentID.UUID
		resp.MatchedAssignmentID = &id
	}
	if d.MatchedOrgNodeID.Valid {
		id := d.MatchedOrgNodeID.UUID
		resp.MatchedOrgNodeID = &id
	}
	return resp
}
