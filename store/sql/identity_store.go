package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-identity-sync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type IdentityStore struct {
	db   *bun.DB
	repo repository.Repository[*identityRecord]
}

func NewIdentityStore(db *bun.DB) (*IdentityStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*identityRecord](db, identityHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid identity repository wiring: %w", err)
		}
	}
	return &IdentityStore{db: db, repo: repo}, nil
}

func (s *IdentityStore) Create(ctx context.Context, identity core.Identity) (core.Identity, error) {
	if s == nil || s.repo == nil {
		return core.Identity{}, fmt.Errorf("sqlstore: identity store is not configured")
	}
	if strings.TrimSpace(identity.ID) == "" {
		identity.ID = uuid.NewString()
	}
	record := newIdentityRecord(identity, time.Now().UTC())
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Identity{}, err
	}
	return created.toDomain(), nil
}

func (s *IdentityStore) Get(ctx context.Context, id string) (core.Identity, error) {
	if s == nil || s.db == nil {
		return core.Identity{}, fmt.Errorf("sqlstore: identity store is not configured")
	}
	record := &identityRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Identity{}, fmt.Errorf("%w: %q", core.ErrIdentityNotFound, id)
		}
		return core.Identity{}, err
	}
	return record.toDomain(), nil
}

func (s *IdentityStore) Update(ctx context.Context, identity core.Identity) (core.Identity, error) {
	if s == nil || s.repo == nil {
		return core.Identity{}, fmt.Errorf("sqlstore: identity store is not configured")
	}
	current, err := s.Get(ctx, identity.ID)
	if err != nil {
		return core.Identity{}, err
	}
	identity.CreatedAt = current.CreatedAt
	record := newIdentityRecord(identity, time.Now().UTC())
	updated, err := s.repo.Update(ctx, record, repository.UpdateByID(record.ID))
	if err != nil {
		return core.Identity{}, err
	}
	return updated.toDomain(), nil
}

func (s *IdentityStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: identity store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*identityRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return err
}

// List filters by exact username and case-insensitive email.
func (s *IdentityStore) List(ctx context.Context, filter core.IdentityFilter) ([]core.Identity, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: identity store is not configured")
	}
	selectors := []repository.SelectCriteria{repository.OrderBy("created_at ASC")}
	if email := strings.TrimSpace(filter.Email); email != "" {
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("lower(?TableAlias.email) = ?", strings.ToLower(email))
		}))
	}
	if username := strings.TrimSpace(filter.Username); username != "" {
		selectors = append(selectors, repository.SelectBy("username", "=", username))
	}
	if connectionID := strings.TrimSpace(filter.SourceConnectionID); connectionID != "" {
		selectors = append(selectors, repository.SelectBy("source_connection_id", "=", connectionID))
	}
	if filter.Limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(filter.Limit, filter.Offset))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.Identity, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
