package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veltrix/authzcore/internal/api/helpers"
	"github.com/veltrix/authzcore/internal/api/middleware"
	"github.com/veltrix/authzcore/internal/apperr"
	"github.com/veltrix/authzcore/internal/servicetrust"
	"github.com/veltrix/authzcore/internal/storage"
)

// requireAdminKey guards the provisioning surface with the
// out-of-band ADMIN_API_KEY credential, compared constant-time.
func (s *Server) requireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AdminAPIKey == "" {
			helpers.RespondReason(w, http.StatusForbidden, apperr.ReasonNoPermission, "admin api disabled")
			return
		}
		presented := r.Header.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.AdminAPIKey)) != 1 {
			helpers.RespondReason(w, http.StatusUnauthorized, apperr.ReasonUnauthenticated, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RegisterServiceRequest is the body of POST /svc/register.
type RegisterServiceRequest struct {
	TenantID        *uuid.UUID `json:"tenant_id,omitempty"`
	Key             string     `json:"key"`
	Label           string     `json:"label"`
	RateLimitPerMin int        `json:"rate_limit_per_min"`
}

// RegisterService creates a service principal and returns its
// plaintext secret exactly once.
func (s *Server) RegisterService(w http.ResponseWriter, r *http.Request) {
	var req RegisterServiceRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if req.Key == "" {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "key required")
		return
	}

	tenantID := uuid.Nil
	if req.TenantID != nil {
		tenantID = *req.TenantID
	}
	svc, secret, err := s.Registry.RegisterService(r.Context(), tenantID, req.Key, req.Label, req.RateLimitPerMin)
	if err != nil {
		helpers.RespondAppError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"svc_id":     svc.ID,
		"svc_secret": secret,
	})
}

func (s *Server) RotateServiceSecret(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "invalid service id")
		return
	}
	secret, err := s.Registry.RotateSecret(r.Context(), id)
	if err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"svc_secret": secret})
}

func (s *Server) DisableService(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "invalid service id")
		return
	}
	if err := s.Registry.DisableService(r.Context(), id); err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) EnableService(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "invalid service id")
		return
	}
	if err := s.Registry.EnableService(r.Context(), id); err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type GrantServicePermissionRequest struct {
	PermKey string `json:"perm_key"`
}

func (s *Server) GrantServicePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "invalid service id")
		return
	}
	var req GrantServicePermissionRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.PermKey == "" {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "perm_key required")
		return
	}
	if _, err := s.DB.GetServiceByID(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			helpers.RespondReason(w, http.StatusNotFound, apperr.ReasonNotFound, "")
			return
		}
		helpers.RespondAppError(w, err)
		return
	}
	if err := s.DB.GrantServicePermission(r.Context(), id, req.PermKey); err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) RevokeServicePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "invalid service id")
		return
	}
	permKey := chi.URLParam(r, "key")
	if err := s.DB.RevokeServicePermission(r.Context(), id, permKey); err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// IssueServiceToken mints a rotating bearer token for a service that
// authenticated via Basic or signed envelope (POST /svc/token).
func (s *Server) IssueServiceToken(w http.ResponseWriter, r *http.Request) {
	serviceID, err := middleware.GetServiceID(r.Context())
	if err != nil {
		helpers.RespondReason(w, http.StatusUnauthorized, apperr.ReasonUnauthenticated, "")
		return
	}
	token, err := s.Verifier.IssueToken(r.Context(), serviceID, 0)
	if err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"token": token})
}

type RenewServiceTokenRequest struct {
	Token string `json:"token"`
}

// RenewServiceToken performs the rotating exchange on a service bearer
// token; reuse of a rotated token revokes the whole family, mirroring
// refresh-session semantics.
func (s *Server) RenewServiceToken(w http.ResponseWriter, r *http.Request) {
	var req RenewServiceTokenRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Token == "" {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "token required")
		return
	}
	token, err := s.Verifier.RenewToken(r.Context(), req.Token, 0)
	if err != nil {
		switch {
		case errors.Is(err, servicetrust.ErrServiceTokenReplay):
			helpers.RespondReason(w, http.StatusConflict, apperr.ReasonSessionReplay, "")
		case errors.Is(err, servicetrust.ErrServiceTokenExpired):
			helpers.RespondReason(w, http.StatusUnauthorized, apperr.ReasonExpired, "")
		default:
			helpers.RespondAppError(w, err)
		}
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"token": token})
}
