// Package cache provides Redis-backed decorators for the
// authorization engine's hot paths: a short-TTL AuthContext cache and
// the service trust plane's nonce-replay cache. Both are best-effort;
// correctness always derives from the store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/veltrix/authzcore/internal/authz"
)

// NewClient parses a redis:// URL and verifies connectivity.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}
	return client, nil
}

// ContextCache wraps an authz.ContextLoader with a short-TTL Redis
// cache, keyed per (tenant, user). Assignment and grant mutations call
// Invalidate; role and capability edits ride out the TTL, trading a
// small staleness window for simplicity.
type ContextCache struct {
	Redis  *redis.Client
	Source authz.ContextLoader
	TTL    time.Duration
}

const DefaultContextTTL = 30 * time.Second

func (c *ContextCache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return DefaultContextTTL
}

func contextKey(tenantID, userID uuid.UUID) string {
	return fmt.Sprintf("authctx:%s:%s", tenantID, userID)
}

// LoadAuthContext satisfies authz.ContextLoader, serving from cache
// when present and falling through to Source (and repopulating) on a
// miss or any cache error. A Redis outage degrades to direct reads and
// never blocks evaluation.
func (c *ContextCache) LoadAuthContext(ctx context.Context, tenantID, userID uuid.UUID) (*authz.AuthContext, error) {
	key := contextKey(tenantID, userID)

	if raw, err := c.Redis.Get(ctx, key).Bytes(); err == nil {
		var cached authz.AuthContext
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return &cached, nil
		}
	}

	authCtx, err := c.Source.LoadAuthContext(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(authCtx); err == nil {
		c.Redis.Set(ctx, key, raw, c.ttl())
	}

	return authCtx, nil
}

// Invalidate drops the cached context for a user, used after mutating
// their assignments or grants so the next evaluation sees it immediately.
func (c *ContextCache) Invalidate(ctx context.Context, tenantID, userID uuid.UUID) error {
	return c.Redis.Del(ctx, contextKey(tenantID, userID)).Err()
}

// NonceCache implements servicetrust.NonceCache against Redis: SetNX
// both records and answers the replay check atomically.
type NonceCache struct {
	Redis *redis.Client
}

func (n *NonceCache) SeenOrRemember(ctx context.Context, clientID, nonce string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("svcnonce:%s:%s", clientID, nonce)
	ok, err := n.Redis.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: nonce setnx: %w", err)
	}
	return !ok, nil
}
