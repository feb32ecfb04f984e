package api

import (
	"log/slog"
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	customMiddleware "github.com/veltrix/authzcore/internal/api/middleware"
	"github.com/veltrix/authzcore/internal/audit"
	"github.com/veltrix/authzcore/internal/authz"
	"github.com/veltrix/authzcore/internal/cache"
	"github.com/veltrix/authzcore/internal/credential"
	"github.com/veltrix/authzcore/internal/invite"
	"github.com/veltrix/authzcore/internal/servicetrust"
	"github.com/veltrix/authzcore/internal/storage"
	"github.com/veltrix/authzcore/internal/token"
)

// Capability keys guarding the administrative wire surface. These are
// ordinary capabilities evaluated through the engine, seeded by the
// initial migration alongside the wildcard.
const (
	CapOrgCreate        = "iam.org:create"
	CapRoleCreate       = "iam.role:create"
	CapCapabilityCreate = "iam.capability:create"
	CapAssignmentWrite  = "iam.assignment:create"
	CapVisibilityWrite  = "iam.visibility:create"
	CapInvitationCreate = "iam.invitation:create"
)

// PermEvaluate is the flat service permission required to call
// POST /authz/evaluate.
const PermEvaluate = "authz.evaluate"

// Server wires the HTTP surface to the domain components. Handlers
// hang off it as methods.
type Server struct {
	Router *chi.Mux
	Pool   *pgxpool.Pool
	DB     *storage.Queries
	Logger *slog.Logger

	Engine      *authz.Engine
	Credentials *credential.Manager
	Invites     *invite.Manager
	Verifier    *servicetrust.Verifier
	Registry    *servicetrust.Registry
	Tokens      *token.Service
	Contexts    *cache.ContextCache // nil when Redis is absent
	Audit       audit.Sink
	MFA         *credential.TOTPEnroller

	AdminAPIKey string
}

// ServerConfig carries the dependencies NewServer wires together.
type ServerConfig struct {
	Pool        *pgxpool.Pool
	Queries     *storage.Queries
	Engine      *authz.Engine
	Credentials *credential.Manager
	Invites     *invite.Manager
	Verifier    *servicetrust.Verifier
	Registry    *servicetrust.Registry
	Tokens      *token.Service
	Contexts    *cache.ContextCache
	Audit       audit.Sink
	MFA         *credential.TOTPEnroller
	AdminAPIKey string
	Logger      *slog.Logger
	CORSOrigins []string
}

// NewServer builds the router: core middleware, the public auth
// surface, the authenticated user surface, the capability-guarded
// admin surface, the signed service surface, and the admin-key
// provisioning surface.
func NewServer(cfg ServerConfig) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	sentryHandler := sentryhttp.New(sentryhttp.Options{
		Repanic: true,
	})
	r.Use(sentryHandler.Handle)

	r.Use(customMiddleware.RequestLogger)
	r.Use(customMiddleware.PanicRecovery)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(customMiddleware.CORS(cfg.CORSOrigins))
	}

	limiter := customMiddleware.NewIPRateLimiter(5, 10)
	r.Use(limiter.Middleware)

	r.Use(customMiddleware.TenantContext(cfg.Pool))

	server := &Server{
		Router:      r,
		Pool:        cfg.Pool,
		DB:          cfg.Queries,
		Logger:      cfg.Logger,
		Engine:      cfg.Engine,
		Credentials: cfg.Credentials,
		Invites:     cfg.Invites,
		Verifier:    cfg.Verifier,
		Registry:    cfg.Registry,
		Tokens:      cfg.Tokens,
		Contexts:    cfg.Contexts,
		Audit:       cfg.Audit,
		MFA:         cfg.MFA,
		AdminAPIKey: cfg.AdminAPIKey,
	}

	requireAuth := customMiddleware.Auth(cfg.Credentials)
	requireService := customMiddleware.ServiceAuth(cfg.Verifier)

	r.Get("/health", server.HealthHandler())
	r.Get("/.well-known/jwks.json", server.GetJWKS)

	r.Route("/api/v1", func(r chi.Router) {
		// Public user auth surface.
		r.Post("/auth/register", server.Register)
		r.Post("/auth/login", server.Login)
		r.Post("/auth/refresh", server.Refresh)
		r.Post("/auth/otp/send", server.SendOTP)
		r.Post("/auth/otp/verify", server.VerifyOTP)
		r.Post("/invitations/accept", server.AcceptInvitation)

		// Service trust plane: token issuance rides on Basic/envelope
		// auth, renewal on the presented token itself.
		r.With(requireService).Post("/svc/token", server.IssueServiceToken)
		r.Post("/svc/token/renew", server.RenewServiceToken)

		// Service-only evaluation endpoint.
		r.With(requireService).Post("/authz/evaluate", server.Evaluate)

		// Authenticated user surface.
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(customMiddleware.CSRFMiddleware)

			r.Get("/auth/context", server.GetAuthContext)
			r.Post("/auth/logout", server.Logout)

			r.Post("/auth/mfa/setup", server.SetupMFA)
			r.Post("/auth/mfa/verify", server.VerifyMFA)

			r.With(server.requireCapability(CapOrgCreate)).Post("/orgs", server.CreateOrgNode)
			r.With(server.requireCapability(CapOrgCreate)).Post("/orgs/{id}/deactivate", server.DeactivateOrgNode)

			r.With(server.requireCapability(CapRoleCreate)).Post("/roles", server.CreateRole)
			r.With(server.requireCapability(CapRoleCreate)).Post("/roles/{id}/capabilities", server.AttachCapability)
			r.With(server.requireCapability(CapRoleCreate)).Delete("/roles/{id}/capabilities/{key}", server.DetachCapability)

			r.With(server.requireCapability(CapCapabilityCreate)).Post("/capabilities", server.CreateCapability)

			r.With(server.requireCapability(CapAssignmentWrite)).Post("/assignments", server.CreateAssignment)
			r.With(server.requireCapability(CapAssignmentWrite)).Post("/assignments/{id}/terminate", server.TerminateAssignment)

			r.With(server.requireCapability(CapVisibilityWrite)).Post("/visibility-grants", server.CreateVisibilityGrant)
			r.With(server.requireCapability(CapVisibilityWrite)).Post("/visibility-grants/{id}/revoke", server.RevokeVisibilityGrant)

			r.With(server.requireCapability(CapInvitationCreate)).Post("/invitations", server.CreateInvitation)
		})

		// Admin-key provisioning surface.
		r.Group(func(r chi.Router) {
			r.Use(server.requireAdminKey)

			r.Post("/tenants", server.CreateTenant)
			r.Post("/svc/register", server.RegisterService)
			r.Post("/svc/{id}/rotate", server.RotateServiceSecret)
			r.Post("/svc/{id}/disable", server.DisableService)
			r.Post("/svc/{id}/enable", server.EnableService)
			r.Post("/svc/{id}/permissions", server.GrantServicePermission)
			r.Delete("/svc/{id}/permissions/{key}", server.RevokeServicePermission)
		})
	})

	return server
}

// requireCapability adapts the engine-backed middleware to this
// server's engine instance. Admin mutations are tenant-wide
// capabilities with no per-resource scope, so resourceOf is nil.
func (s *Server) requireCapability(capKey string) func(http.Handler) http.Handler {
	return customMiddleware.RequireCapability(s.Engine, capKey, nil)
}
