package api

import (
	"net/http"

	"github.com/veltrix/authzcore/internal/api/helpers"
)

// HealthHandler validates both API liveness and database connectivity.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Pool.Ping(r.Context()); err != nil {
			s.Logger.Error("health_check_failed", "error", err, "detail", "database_unreachable")
			helpers.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
			})
			return
		}
		helpers.RespondJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
		})
	}
}

// GetJWKS exports the token service's public keyset for OIDC-style
// consumers.
func (s *Server) GetJWKS(w http.ResponseWriter, r *http.Request) {
	helpers.RespondJSON(w, http.StatusOK, s.Tokens.GetJWKS())
}
