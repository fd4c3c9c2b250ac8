package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultLeaseTTL = 30 * time.Minute

type leaseEntry struct {
	holder    string
	expiresAt time.Time
}

// MemoryConnectionLease is a process local lease. When Store is set the
// running status and final outcome are also written to the connection.
type MemoryConnectionLease struct {
	Store ConnectionStore

	mu     sync.Mutex
	leases map[string]leaseEntry
	nowFn  func() time.Time
}

func NewMemoryConnectionLease(store ConnectionStore) *MemoryConnectionLease {
	return &MemoryConnectionLease{
		Store:  store,
		leases: make(map[string]leaseEntry),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryConnectionLease) AcquireLease(ctx context.Context, connectionID string, holder string, ttl time.Duration) error {
	if l == nil {
		return fmt.Errorf("core: connection lease is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	holder = strings.TrimSpace(holder)
	if connectionID == "" || holder == "" {
		return fmt.Errorf("core: connection id and lease holder are required")
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}

	now := l.now()
	l.mu.Lock()
	if l.leases == nil {
		l.leases = make(map[string]leaseEntry)
	}
	if current, ok := l.leases[connectionID]; ok && current.holder != holder && now.Before(current.expiresAt) {
		l.mu.Unlock()
		return fmt.Errorf("%w: connection %q", ErrConnectionLeaseHeld, connectionID)
	}
	l.leases[connectionID] = leaseEntry{holder: holder, expiresAt: now.Add(ttl)}
	l.mu.Unlock()

	if l.Store != nil {
		return l.Store.SaveSyncOutcome(ctx, connectionID, SyncOutcome{Status: SyncStatusRunning})
	}
	return nil
}

func (l *MemoryConnectionLease) ReleaseLease(ctx context.Context, connectionID string, holder string, outcome SyncOutcome) error {
	if l == nil {
		return nil
	}
	connectionID = strings.TrimSpace(connectionID)
	l.mu.Lock()
	current, ok := l.leases[connectionID]
	if ok && current.holder == strings.TrimSpace(holder) {
		delete(l.leases, connectionID)
	}
	l.mu.Unlock()
	if !ok || current.holder != strings.TrimSpace(holder) {
		return nil
	}
	if l.Store != nil {
		return l.Store.SaveSyncOutcome(ctx, connectionID, outcome)
	}
	return nil
}

func (l *MemoryConnectionLease) now() time.Time {
	if l.nowFn != nil {
		return l.nowFn()
	}
	return time.Now().UTC()
}
