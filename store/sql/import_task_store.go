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
	"github.com/uptrace/bun"
)

type ImportTaskStore struct {
	db   *bun.DB
	repo repository.Repository[*importTaskRecord]
}

func NewImportTaskStore(db *bun.DB) (*ImportTaskStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*importTaskRecord](db, importTaskHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid import task repository wiring: %w", err)
		}
	}
	return &ImportTaskStore{db: db, repo: repo}, nil
}

func (s *ImportTaskStore) Create(ctx context.Context, task core.ImportTask) (core.ImportTask, error) {
	if s == nil || s.repo == nil {
		return core.ImportTask{}, fmt.Errorf("sqlstore: import task store is not configured")
	}
	if strings.TrimSpace(task.ID) == "" {
		return core.ImportTask{}, fmt.Errorf("sqlstore: import task id is required")
	}
	created, err := s.repo.Create(ctx, newImportTaskRecord(task, time.Now().UTC()))
	if err != nil {
		return core.ImportTask{}, err
	}
	return created.toDomain(), nil
}

func (s *ImportTaskStore) Get(ctx context.Context, id string) (core.ImportTask, error) {
	if s == nil || s.db == nil {
		return core.ImportTask{}, fmt.Errorf("sqlstore: import task store is not configured")
	}
	record := &importTaskRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ImportTask{}, fmt.Errorf("%w: %q", core.ErrImportTaskNotFound, id)
		}
		return core.ImportTask{}, err
	}
	return record.toDomain(), nil
}

func (s *ImportTaskStore) Update(ctx context.Context, task core.ImportTask) (core.ImportTask, error) {
	if s == nil || s.db == nil {
		return core.ImportTask{}, fmt.Errorf("sqlstore: import task store is not configured")
	}
	record := newImportTaskRecord(task, time.Now().UTC())
	res, err := s.db.NewUpdate().
		Model(record).
		ExcludeColumn("created_at").
		Where("id = ?", record.ID).
		Exec(ctx)
	if err != nil {
		return core.ImportTask{}, err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return core.ImportTask{}, fmt.Errorf("%w: %q", core.ErrImportTaskNotFound, record.ID)
	}
	return s.Get(ctx, record.ID)
}

// ListByConnection returns the newest tasks first.
func (s *ImportTaskStore) ListByConnection(ctx context.Context, connectionID string, limit int) ([]core.ImportTask, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: import task store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.SelectBy("connection_id", "=", strings.TrimSpace(connectionID)),
		repository.OrderBy("created_at DESC"),
	}
	if limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(limit, 0))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.ImportTask, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
