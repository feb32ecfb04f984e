package api

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/mail"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/veltrix/authzcore/internal/api/helpers"
	"github.com/veltrix/authzcore/internal/api/middleware"
	"github.com/veltrix/authzcore/internal/apperr"
	"github.com/veltrix/authzcore/internal/authz"
	"github.com/veltrix/authzcore/internal/credential"
	"github.com/veltrix/authzcore/internal/domain"
)

// TokenPairResponse is the access/refresh pair returned by register,
// login, refresh, and invitation acceptance. OTP login (VerifyOTP)
// returns only the "access" and "refresh" fields, without user_id.
type TokenPairResponse struct {
	UserID  uuid.UUID `json:"user_id"`
	Access  string    `json:"access"`
	Refresh string    `json:"refresh"`
}

func clientNet(r *http.Request) (net.IP, string) {
	return helpers.GetRealIP(r), r.UserAgent()
}

// RegisterRequest defines the expected JSON body for registration.
type RegisterRequest struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	Email        string    `json:"email"`
	Password     string    `json:"password"`
	DisplayLabel string    `json:"display_label"`
}

func (req *RegisterRequest) Validate() error {
	if req.TenantID == uuid.Nil {
		return fmt.Errorf("tenant_id required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return fmt.Errorf("invalid email format")
	}
	if len(req.DisplayLabel) > 100 {
		return fmt.Errorf("display label too long (max 100 chars)")
	}
	return nil
}

func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if utf8.RuneCountInString(req.Password) < 12 {
		helpers.RespondReason(w, http.StatusBadRequest, apperr.ReasonWeakPassword, "password must be at least 12 characters")
		return
	}

	ip, ua := clientNet(r)
	user, pair, err := s.Credentials.Register(r.Context(), req.TenantID, req.Email, req.Password, req.DisplayLabel, ip, ua)
	if err != nil {
		if errors.Is(err, credential.ErrEmailTaken) {
			helpers.RespondReason(w, http.StatusConflict, apperr.ReasonEmailTaken, "")
			return
		}
		helpers.RespondAppError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, TokenPairResponse{
		UserID:  user.ID,
		Access:  pair.AccessToken,
		Refresh: pair.RefreshToken,
	})
}

// LoginRequest defines the expected JSON body for login.
type LoginRequest struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Email    string    `json:"email"`
	Password string    `json:"password"`
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if req.TenantID == uuid.Nil || req.Email == "" || req.Password == "" {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "tenant_id, email and password required")
		return
	}

	ip, ua := clientNet(r)
	user, pair, err := s.Credentials.Login(r.Context(), req.TenantID, req.Email, req.Password, ip, ua)
	if err != nil {
		if errors.Is(err, credential.ErrBadCredentials) {
			helpers.RespondReason(w, http.StatusUnauthorized, apperr.ReasonBadCredentials, "")
			return
		}
		helpers.RespondAppError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, TokenPairResponse{
		UserID:  user.ID,
		Access:  pair.AccessToken,
		Refresh: pair.RefreshToken,
	})
}

// RefreshRequest carries the refresh token for the rotating exchange.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "refresh_token required")
		return
	}

	ip, ua := clientNet(r)
	user, pair, err := s.Credentials.Refresh(r.Context(), req.RefreshToken, ip, ua)
	if err != nil {
		switch {
		case errors.Is(err, credential.ErrSessionReplay):
			helpers.RespondReason(w, http.StatusConflict, apperr.ReasonSessionReplay, "")
		case errors.Is(err, credential.ErrSessionExpired):
			helpers.RespondReason(w, http.StatusUnauthorized, apperr.ReasonExpired, "")
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

// LogoutRequest carries the refresh token whose session is revoked.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "refresh_token required")
		return
	}
	if err := s.Credentials.Logout(r.Context(), req.RefreshToken); err != nil {
		helpers.RespondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendOTPRequest defines the expected JSON body for OTP issuance.
type SendOTPRequest struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	Destination string    `json:"destination"`
	Channel     string    `json:"channel"`
	Purpose     string    `json:"purpose"`
}

func (s *Server) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if req.TenantID == uuid.Nil || req.Destination == "" {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "tenant_id and destination required")
		return
	}
	channel := domain.OtpChannel(req.Channel)
	switch channel {
	case domain.ChannelEmail, domain.ChannelSMS, domain.ChannelWhatsApp:
	default:
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "unknown channel")
		return
	}
	purpose := domain.OtpPurpose(req.Purpose)
	switch purpose {
	case domain.PurposeLogin, domain.PurposeVerifyEmail, domain.PurposeVerifyPhone:
	default:
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "unknown purpose")
		return
	}

	otpID, err := s.Credentials.IssueOTP(r.Context(), req.TenantID, req.Destination, channel, purpose)
	if err != nil {
		if errors.Is(err, credential.ErrOTPRateLimited) {
			helpers.RespondReason(w, http.StatusTooManyRequests, apperr.ReasonRateLimited, "")
			return
		}
		helpers.RespondAppError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]uuid.UUID{"otp_id": otpID})
}

// VerifyOTPRequest defines the expected JSON body for OTP verification.
type VerifyOTPRequest struct {
	OtpID uuid.UUID `json:"otp_id"`
	Code  string    `json:"code"`
}

func (s *Server) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if req.OtpID == uuid.Nil || req.Code == "" {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "otp_id and code required")
		return
	}

	ip, ua := clientNet(r)
	pair, err := s.Credentials.CompleteOTP(r.Context(), req.OtpID, req.Code, ip, ua)
	if err != nil {
		status := http.StatusUnauthorized
		reason := credential.ReasonForOTPError(err)
		switch reason {
		case apperr.ReasonMaxAttempts:
			status = http.StatusTooManyRequests
		case apperr.ReasonExpired:
			status = http.StatusUnauthorized
		}
		helpers.RespondReason(w, status, reason, "")
		return
	}

	if pair == nil {
		helpers.RespondJSON(w, http.StatusOK, map[string]bool{"verified": true})
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{
		"access":  pair.AccessToken,
		"refresh": pair.RefreshToken,
	})
}

// AuthContextResponse is the stable AuthContext wire shape.
type AuthContextResponse struct {
	UserID           uuid.UUID                 `json:"user_id"`
	TenantID         uuid.UUID                 `json:"tenant_id"`
	Email            string                    `json:"email,omitempty"`
	DisplayLabel     string                    `json:"display_label,omitempty"`
	Assignments      []AssignmentResponse      `json:"assignments"`
	VisibilityGrants []VisibilityGrantResponse `json:"visibility_grants"`
}

type AssignmentResponse struct {
	AssignmentID uuid.UUID `json:"assignment_id"`
	OrgNodeID    uuid.UUID `json:"org_node_id"`
	OrgNodeLabel string    `json:"org_node_label"`
	RoleID       uuid.UUID `json:"role_id"`
	RoleLabel    string    `json:"role_label"`
	Capabilities []string  `json:"capabilities"`
}

type VisibilityGrantResponse struct {
	GrantID         uuid.UUID `json:"grant_id"`
	OrgNodeID       uuid.UUID `json:"org_node_id"`
	AccessScopeCode string    `json:"access_scope_code"`
}

// GetAuthContext returns the caller's active assignments and grants,
// used by BFFs to prime UI.
func (s *Server) GetAuthContext(w http.ResponseWriter, r *http.Request) {
	userID := middleware.MustGetUserID(r.Context())
	tenantID := middleware.MustGetTenantID(r.Context())

	authCtx, err := s.Engine.GetContext(r.Context(), authz.Subject{UserID: userID, TenantID: tenantID})
	if err != nil {
		helpers.RespondAppError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, authContextResponse(authCtx, time.Now().UTC()))
}

// authContextResponse flattens an engine AuthContext into the wire
// shape, keeping only assignments and grants active at now.
func authContextResponse(authCtx *authz.AuthContext, now time.Time) AuthContextResponse {
	resp := AuthContextResponse{
		UserID:           authCtx.UserID,
		TenantID:         authCtx.TenantID,
		Email:            authCtx.Email,
		DisplayLabel:     authCtx.DisplayLabel,
		Assignments:      []AssignmentResponse{},
		VisibilityGrants: []VisibilityGrantResponse{},
	}
	for _, a := range authCtx.ActiveAssignments(now) {
		resp.Assignments = append(resp.Assignments, AssignmentResponse{
			AssignmentID: a.AssignmentID,
			OrgNodeID:    a.OrgNodeID,
			OrgNodeLabel: a.OrgNodeLabel,
			RoleID:       a.RoleID,
			RoleLabel:    a.RoleLabel,
			Capabilities: a.Capabilities,
		})
	}
	for _, g := range authCtx.ActiveVisibilityGrants(now) {
		resp.VisibilityGrants = append(resp.VisibilityGrants, VisibilityGrantResponse{
			GrantID:         g.GrantID,
			OrgNodeID:       g.OrgNodeID,
			AccessScopeCode: string(g.AccessScope),
		})
	}
	return resp
}
