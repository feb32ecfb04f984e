package servicetrust

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veltrix/authzcore/internal/audit"
	"github.com/veltrix/authzcore/internal/credential"
	"github.com/veltrix/authzcore/internal/domain"
)

// Registry manages the service-principal lifecycle: registration,
// secret rotation, and enable/disable. It shares the same
// SecretBox as Verifier so a freshly minted secret can be verified
// immediately without a round trip through the database.
type Registry struct {
	Queries Store
	Secrets *SecretBox
	Audit   audit.Sink
	Clock   func() time.Time
}

func (r *Registry) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

// RegisterService creates a new service principal with its first
// secret generation, returning the plaintext secret exactly once.
// tenantID is the zero UUID for a platform-level service.
func (r *Registry) RegisterService(ctx context.Context, tenantID uuid.UUID, key, label string, rateLimitPerMin int) (*domain.Service, string, error) {
	svc := &domain.Service{
		ID:              uuid.New(),
		Key:             key,
		Label:           label,
		State:           domain.ServiceActive,
		RateLimitPerMin: rateLimitPerMin,
		CreatedAt:       r.now(),
	}
	if tenantID != uuid.Nil {
		svc.TenantID = uuid.NullUUID{UUID: tenantID, Valid: true}
	}
	if err := r.Queries.CreateService(ctx, svc); err != nil {
		return nil, "", err
	}

	secret, err := r.mintSecret(ctx, svc.ID)
	if err != nil {
		return nil, "", err
	}

	r.Audit.Log(ctx, domain.ActionServiceRegister, audit.Fields{
		TenantID:   svc.TenantID,
		EntityKind: "service",
		EntityID:   svc.ID,
		Payload:    map[string]any{"key": key},
	})

	return svc, secret, nil
}

// RotateSecret mints a new secret generation for an existing service and
// revokes the previous generation, returning the new plaintext secret.
// The new secret is accepted as soon as it is minted; the prior secret
// is rejected from the moment this call returns.
func (r *Registry) RotateSecret(ctx context.Context, serviceID uuid.UUID) (string, error) {
	prior, err := r.Queries.ActiveServiceSecrets(ctx, serviceID)
	if err != nil {
		return "", err
	}

	secret, err := r.mintSecret(ctx, serviceID)
	if err != nil {
		return "", err
	}

	now := r.now()
	for _, p := range prior {
		if err := r.Queries.RevokeServiceSecret(ctx, p.ID, now); err != nil {
			return "", err
		}
	}

	r.Audit.Log(ctx, domain.ActionServiceRotate, audit.Fields{
		EntityKind: "service",
		EntityID:   serviceID,
	})

	return secret, nil
}

func (r *Registry) mintSecret(ctx context.Context, serviceID uuid.UUID) (string, error) {
	raw, err := credential.GenerateSecureToken(32)
	if err != nil {
		return "", err
	}
	sealed, err := r.Secrets.Seal(raw)
	if err != nil {
		return "", fmt.Errorf("servicetrust: seal secret: %w", err)
	}

	row := &domain.ServiceSecret{
		ID:         uuid.New(),
		ServiceID:  serviceID,
		SecretHash: sealed,
		CreatedAt:  r.now(),
	}
	if err := r.Queries.CreateServiceSecret(ctx, row); err != nil {
		return "", err
	}
	return raw, nil
}

// DisableService immediately revokes a service's ability to
// authenticate.
func (r *Registry) DisableService(ctx context.Context, serviceID uuid.UUID) error {
	if err := r.Queries.SetServiceState(ctx, serviceID, domain.ServiceDisabled); err != nil {
		return err
	}
	r.Audit.Log(ctx, domain.ActionServiceDisable, audit.Fields{
		EntityKind: "service",
		EntityID:   serviceID,
	})
	return nil
}

// EnableService reinstates a previously disabled service.
func (r *Registry) EnableService(ctx context.Context, serviceID uuid.UUID) error {
	if err := r.Queries.SetServiceState(ctx, serviceID, domain.ServiceActive); err != nil {
		return err
	}
	r.Audit.Log(ctx, domain.ActionServiceEnable, audit.Fields{
		EntityKind: "service",
		EntityID:   serviceID,
	})
	return nil
}
