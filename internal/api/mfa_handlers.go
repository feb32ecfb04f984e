package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/veltrix/authzcore/internal/api/helpers"
	"github.com/veltrix/authzcore/internal/api/middleware"
	"github.com/veltrix/authzcore/internal/apperr"
	"github.com/veltrix/authzcore/internal/domain"
	"github.com/veltrix/authzcore/internal/storage"
)

// SetupMFA enrolls the authenticated user with an authenticator-app
// TOTP secret, returning the secret and a QR code PNG. The secret is
// stored sealed as a totp identity row; a re-enrollment replaces it.
func (s *Server) SetupMFA(w http.ResponseWriter, r *http.Request) {
	userID := middleware.MustGetUserID(r.Context())
	email, _ := middleware.GetEmail(r.Context())
	q := middleware.MustGetQueries(r.Context())

	account := email
	if account == "" {
		account = userID.String()
	}

	secret, qrPNG, err := s.MFA.GenerateSecret(account)
	if err != nil {
		helpers.RespondAppError(w, err)
		return
	}

	existing, err := q.GetUserIdentity(r.Context(), userID, domain.ProviderTOTP)
	switch {
	case err == nil:
		if err := q.UpdateUserIdentityCredential(r.Context(), existing.ID, secret); err != nil {
			helpers.RespondAppError(w, err)
			return
		}
	case errors.Is(err, storage.ErrNotFound):
		identity := &domain.UserIdentity{
			ID:              uuid.New(),
			UserID:          userID,
			Provider:        domain.ProviderTOTP,
			ProviderSubject: userID.String(),
			CredentialHash:  secret,
			CreatedAt:       time.Now().UTC(),
		}
		if err := q.CreateUserIdentity(r.Context(), identity); err != nil {
			helpers.RespondAppError(w, err)
			return
		}
	default:
		helpers.RespondAppError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{
		"secret": secret,
		"qr_png": base64.StdEncoding.EncodeToString(qrPNG),
	})
}

type VerifyMFARequest struct {
	Code string `json:"code"`
}

// VerifyMFA checks a TOTP code against the caller's enrolled secret.
func (s *Server) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	userID := middleware.MustGetUserID(r.Context())
	q := middleware.MustGetQueries(r.Context())

	var req VerifyMFARequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Code == "" {
		helpers.RespondReason(w, http.StatusBadRequest, "validation", "code required")
		return
	}

	identity, err := q.GetUserIdentity(r.Context(), userID, domain.ProviderTOTP)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			helpers.RespondReason(w, http.StatusNotFound, apperr.ReasonNotFound, "no totp enrollment")
			return
		}
		helpers.RespondAppError(w, err)
		return
	}

	if !s.MFA.ValidateCode(req.Code, identity.CredentialHash) {
		helpers.RespondReason(w, http.StatusUnauthorized, apperr.ReasonBadCredentials, "")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]bool{"verified": true})
}
