package middleware

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/veltrix/authzcore/internal/storage"
)

// contextKey is a custom type for context keys to avoid collisions.
// This prevents accidental key conflicts with other packages.
type contextKey string

// Context keys for request-scoped values.
const (
	UserIDKey    contextKey = "user_id"
	TenantIDKey  contextKey = "tenant_id"
	EmailKey     contextKey = "email"
	ServiceIDKey contextKey = "service_id"
	QueriesKey   contextKey = "queries"
)

// GetQueries returns the request-scoped, RLS-bound Queries handle
// TenantContext installs: every handler reads and writes through this
// rather than holding a direct pool reference, so tenant scoping is
// enforced uniformly.
func GetQueries(ctx context.Context) (*storage.Queries, error) {
	val := ctx.Value(QueriesKey)
	if val == nil {
		return nil, fmt.Errorf("queries not found in context")
	}
	q, ok := val.(*storage.Queries)
	if !ok {
		return nil, fmt.Errorf("queries has wrong type: %T", val)
	}
	return q, nil
}

// MustGetQueries extracts the Queries handle and panics if not found.
func MustGetQueries(ctx context.Context) *storage.Queries {
	q, err := GetQueries(ctx)
	if err != nil {
		panic(fmt.Sprintf("CRITICAL: %v", err))
	}
	return q
}

// GetEmail safely extracts the authenticated principal's email from context.
func GetEmail(ctx context.Context) (string, error) {
	val := ctx.Value(EmailKey)
	if val == nil {
		return "", fmt.Errorf("email not found in context")
	}
	email, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("email has wrong type: %T", val)
	}
	return email, nil
}

// GetServiceID safely extracts an authenticated service principal's ID
// from context, set by ServiceAuth instead of Auth.
func GetServiceID(ctx context.Context) (uuid.UUID, error) {
	val := ctx.Value(ServiceIDKey)
	if val == nil {
		return uuid.Nil, fmt.Errorf("service_id not found in context")
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("service_id has wrong type: %T", val)
	}
	return id, nil
}

// GetUserID safely extracts the user ID from context.
// Returns an error if the value is missing or wrong type.
func GetUserID(ctx context.Context) (uuid.UUID, error) {
	val := ctx.Value(UserIDKey)
	if val == nil {
		return uuid.Nil, fmt.Errorf("user_id not found in context")
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("user_id has wrong type: %T", val)
	}
	return id, nil
}

// GetTenantID safely extracts the tenant ID from context.
// Returns an error if the value is missing or wrong type.
func GetTenantID(ctx context.Context) (uuid.UUID, error) {
	val := ctx.Value(TenantIDKey)
	if val == nil {
		return uuid.Nil, fmt.Errorf("tenant_id not found in context")
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("tenant_id has wrong type: %T", val)
	}
	return id, nil
}

// MustGetUserID extracts user ID and panics if not found.
// Use only in contexts where UserID is guaranteed to be set by middleware.
func MustGetUserID(ctx context.Context) uuid.UUID {
	id, err := GetUserID(ctx)
	if err != nil {
		panic(fmt.Sprintf("CRITICAL: %v", err))
	}
	return id
}

// MustGetTenantID extracts tenant ID and panics if not found.
// Use only in contexts where TenantID is guaranteed to be set by middleware.
func MustGetTenantID(ctx context.Context) uuid.UUID {
	id, err := GetTenantID(ctx)
	if err != nil {
		panic(fmt.Sprintf("CRITICAL: %v", err))
	}
	return id
}
