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

type GroupStore struct {
	db   *bun.DB
	repo repository.Repository[*groupRecord]
}

func NewGroupStore(db *bun.DB) (*GroupStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*groupRecord](db, groupHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid group repository wiring: %w", err)
		}
	}
	return &GroupStore{db: db, repo: repo}, nil
}

func (s *GroupStore) Create(ctx context.Context, group core.Group) (core.Group, error) {
	if s == nil || s.repo == nil {
		return core.Group{}, fmt.Errorf("sqlstore: group store is not configured")
	}
	if strings.TrimSpace(group.ID) == "" {
		group.ID = uuid.NewString()
	}
	created, err := s.repo.Create(ctx, newGroupRecord(group, time.Now().UTC()))
	if err != nil {
		return core.Group{}, err
	}
	return created.toDomain(), nil
}

func (s *GroupStore) Get(ctx context.Context, id string) (core.Group, error) {
	if s == nil || s.db == nil {
		return core.Group{}, fmt.Errorf("sqlstore: group store is not configured")
	}
	record := &groupRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Group{}, fmt.Errorf("%w: %q", core.ErrGroupNotFound, id)
		}
		return core.Group{}, err
	}
	return record.toDomain(), nil
}

func (s *GroupStore) Update(ctx context.Context, group core.Group) (core.Group, error) {
	if s == nil || s.repo == nil {
		return core.Group{}, fmt.Errorf("sqlstore: group store is not configured")
	}
	current, err := s.Get(ctx, group.ID)
	if err != nil {
		return core.Group{}, err
	}
	group.CreatedAt = current.CreatedAt
	record := newGroupRecord(group, time.Now().UTC())
	updated, err := s.repo.Update(ctx, record, repository.UpdateByID(record.ID))
	if err != nil {
		return core.Group{}, err
	}
	return updated.toDomain(), nil
}

func (s *GroupStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: group store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*groupRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return err
}

func (s *GroupStore) List(ctx context.Context, filter core.GroupFilter) ([]core.Group, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: group store is not configured")
	}
	selectors := []repository.SelectCriteria{repository.OrderBy("created_at ASC")}
	if externalID := strings.TrimSpace(filter.ExternalID); externalID != "" {
		selectors = append(selectors, repository.SelectBy("external_id", "=", externalID))
	}
	if name := strings.TrimSpace(filter.Name); name != "" {
		selectors = append(selectors, repository.SelectBy("name", "=", name))
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
	out := make([]core.Group, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
