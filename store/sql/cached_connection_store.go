package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-identity-sync/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const connectionCacheKeyPrefix = "identity-sync::connection::v1"

// LeasingConnectionStore is a connection store that also owns the run lease.
type LeasingConnectionStore interface {
	core.ConnectionStore
	core.ConnectionLease
}

// CachedConnectionStore serves connection reads from a cache and drops the
// entry on every write, including lease changes.
type CachedConnectionStore struct {
	base  LeasingConnectionStore
	cache repositorycache.CacheService
}

func NewCachedConnectionStore(base LeasingConnectionStore, cacheService repositorycache.CacheService) (*CachedConnectionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base connection store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: connection cache service is required")
	}
	return &CachedConnectionStore{base: base, cache: cacheService}, nil
}

// ConnectionCacheKey returns identity-sync::connection::v1::<id> with the id
// URL-path escaped.
func ConnectionCacheKey(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", fmt.Errorf("sqlstore: connection id is required")
	}
	return connectionCacheKeyPrefix + "::" + url.PathEscape(trimmed), nil
}

func (s *CachedConnectionStore) Get(ctx context.Context, id string) (core.ConnectionConfig, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.ConnectionConfig{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	key, err := ConnectionCacheKey(id)
	if err != nil {
		return core.ConnectionConfig{}, err
	}
	conn, err := repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (core.ConnectionConfig, error) {
		return s.base.Get(ctx, id)
	})
	if err != nil {
		return core.ConnectionConfig{}, err
	}
	return cloneConnection(conn), nil
}

func (s *CachedConnectionStore) Save(ctx context.Context, conn core.ConnectionConfig) (core.ConnectionConfig, error) {
	if s == nil || s.base == nil {
		return core.ConnectionConfig{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	saved, err := s.base.Save(ctx, conn)
	if err != nil {
		return core.ConnectionConfig{}, err
	}
	return saved, s.invalidate(ctx, conn.ID)
}

func (s *CachedConnectionStore) List(ctx context.Context) ([]core.ConnectionConfig, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	return s.base.List(ctx)
}

func (s *CachedConnectionStore) SaveSyncOutcome(ctx context.Context, id string, outcome core.SyncOutcome) error {
	if s == nil || s.base == nil {
		return fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	if err := s.base.SaveSyncOutcome(ctx, id, outcome); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

func (s *CachedConnectionStore) AcquireLease(ctx context.Context, connectionID string, holder string, ttl time.Duration) error {
	if s == nil || s.base == nil {
		return fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	if err := s.base.AcquireLease(ctx, connectionID, holder, ttl); err != nil {
		return err
	}
	return s.invalidate(ctx, connectionID)
}

func (s *CachedConnectionStore) ReleaseLease(ctx context.Context, connectionID string, holder string, outcome core.SyncOutcome) error {
	if s == nil || s.base == nil {
		return fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	if err := s.base.ReleaseLease(ctx, connectionID, holder, outcome); err != nil {
		return err
	}
	return s.invalidate(ctx, connectionID)
}

func (s *CachedConnectionStore) invalidate(ctx context.Context, id string) error {
	key, err := ConnectionCacheKey(id)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, key)
}

func cloneConnection(conn core.ConnectionConfig) core.ConnectionConfig {
	out := conn
	out.CredentialRef = append([]byte(nil), conn.CredentialRef...)
	out.Scopes = append([]string(nil), conn.Scopes...)
	out.AttributeMappings = append([]core.AttributeMapping(nil), conn.AttributeMappings...)
	out.ImportStats = cloneStats(conn.ImportStats)
	out.LastSyncAt = cloneTimePointer(conn.LastSyncAt)
	out.LeaseExpiresAt = cloneTimePointer(conn.LeaseExpiresAt)
	return out
}
