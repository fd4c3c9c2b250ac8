package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-identity-sync/core"
	"github.com/uptrace/bun"
)

const defaultLeaseTTL = 30 * time.Minute

// ConnectionStore persists connection configs and doubles as the database
// lease: a conditional UPDATE claims lease_holder only while it is free or
// expired.
type ConnectionStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewConnectionStore(db *bun.DB) (*ConnectionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &ConnectionStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *ConnectionStore) Get(ctx context.Context, id string) (core.ConnectionConfig, error) {
	if s == nil || s.db == nil {
		return core.ConnectionConfig{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.ConnectionConfig{}, fmt.Errorf("sqlstore: connection id is required")
	}
	record := &connectionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ConnectionConfig{}, fmt.Errorf("%w: %q", core.ErrConnectionNotFound, id)
		}
		return core.ConnectionConfig{}, err
	}
	return record.toDomain(), nil
}

// Save inserts or replaces the connection configuration. Run state columns
// are owned by SaveSyncOutcome and the lease and are left untouched on update.
func (s *ConnectionStore) Save(ctx context.Context, conn core.ConnectionConfig) (core.ConnectionConfig, error) {
	if s == nil || s.db == nil {
		return core.ConnectionConfig{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if strings.TrimSpace(conn.ID) == "" {
		return core.ConnectionConfig{}, fmt.Errorf("sqlstore: connection id is required")
	}
	record := newConnectionRecord(conn, s.clock())
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("source_type = EXCLUDED.source_type").
		Set("credential_ref = EXCLUDED.credential_ref").
		Set("base_url = EXCLUDED.base_url").
		Set("token_url = EXCLUDED.token_url").
		Set("scopes = EXCLUDED.scopes").
		Set("import_urls = EXCLUDED.import_urls").
		Set("attribute_mappings = EXCLUDED.attribute_mappings").
		Set("sync_interval_seconds = EXCLUDED.sync_interval_seconds").
		Set("enable_user_import = EXCLUDED.enable_user_import").
		Set("enable_group_import = EXCLUDED.enable_group_import").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.ConnectionConfig{}, err
	}
	return s.Get(ctx, record.ID)
}

func (s *ConnectionStore) List(ctx context.Context) ([]core.ConnectionConfig, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	records := make([]*connectionRecord, 0)
	if err := s.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.ConnectionConfig, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *ConnectionStore) SaveSyncOutcome(ctx context.Context, id string, outcome core.SyncOutcome) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	return s.writeOutcome(ctx, s.db, strings.TrimSpace(id), "", outcome, false)
}

// AcquireLease claims the connection for holder. A lease held by another
// holder that has not expired yields core.ErrConnectionLeaseHeld.
func (s *ConnectionStore) AcquireLease(ctx context.Context, connectionID string, holder string, ttl time.Duration) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	holder = strings.TrimSpace(holder)
	if connectionID == "" || holder == "" {
		return fmt.Errorf("sqlstore: connection id and lease holder are required")
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	now := s.clock()
	expiresAt := now.Add(ttl)

	res, err := s.db.NewUpdate().
		Model((*connectionRecord)(nil)).
		Set("lease_holder = ?", holder).
		Set("lease_expires_at = ?", expiresAt).
		Set("sync_status = ?", string(core.SyncStatusRunning)).
		Set("updated_at = ?", now).
		Where("id = ?", connectionID).
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.
				Where("lease_holder = ''").
				WhereOr("lease_holder = ?", holder).
				WhereOr("lease_expires_at IS NULL").
				WhereOr("lease_expires_at < ?", now)
		}).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, getErr := s.Get(ctx, connectionID); getErr != nil {
		return getErr
	}
	return fmt.Errorf("%w: connection %q", core.ErrConnectionLeaseHeld, connectionID)
}

// ReleaseLease clears the lease held by holder and records the outcome. A
// lease taken over by another holder is left alone.
func (s *ConnectionStore) ReleaseLease(ctx context.Context, connectionID string, holder string, outcome core.SyncOutcome) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	holder = strings.TrimSpace(holder)
	if holder == "" {
		return nil
	}
	return s.writeOutcome(ctx, s.db, strings.TrimSpace(connectionID), holder, outcome, true)
}

func (s *ConnectionStore) writeOutcome(
	ctx context.Context,
	db bun.IDB,
	id string,
	holder string,
	outcome core.SyncOutcome,
	release bool,
) error {
	if id == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	status := outcome.Status
	if status == "" {
		status = core.SyncStatusIdle
	}
	query := db.NewUpdate().
		Model((*connectionRecord)(nil)).
		Set("sync_status = ?", string(status)).
		Set("last_error = ?", outcome.LastError).
		Set("updated_at = ?", s.clock()).
		Where("id = ?", id)
	if outcome.Stats != nil {
		payload, err := json.Marshal(outcome.Stats)
		if err != nil {
			return fmt.Errorf("sqlstore: encode import stats: %w", err)
		}
		query = query.Set("import_stats = ?", string(payload))
	}
	if !outcome.LastSyncAt.IsZero() {
		query = query.Set("last_sync_at = ?", outcome.LastSyncAt.UTC())
	}
	if release {
		query = query.
			Set("lease_holder = ''").
			Set("lease_expires_at = NULL").
			Where("lease_holder = ?", holder)
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 && !release {
		return fmt.Errorf("%w: %q", core.ErrConnectionNotFound, id)
	}
	return nil
}

func (s *ConnectionStore) clock() time.Time {
	if s != nil && s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}
