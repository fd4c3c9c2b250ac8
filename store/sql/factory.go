package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-identity-sync/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type FactoryOption func(*RepositoryFactory)

// WithConnectionCache serves connection reads through cacheService.
func WithConnectionCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cacheService = cacheService
	}
}

type RepositoryFactory struct {
	db           *bun.DB
	cacheService repositorycache.CacheService

	connectionStore LeasingConnectionStore
	identityStore   *IdentityStore
	groupStore      *GroupStore
	importTaskStore *ImportTaskStore
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.connectionStore != nil && f.importTaskStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) ConnectionStore() core.ConnectionStore {
	if f == nil || f.connectionStore == nil {
		return nil
	}
	return f.connectionStore
}

// ConnectionLease returns the database lease backed by the connection table.
func (f *RepositoryFactory) ConnectionLease() core.ConnectionLease {
	if f == nil || f.connectionStore == nil {
		return nil
	}
	return f.connectionStore
}

func (f *RepositoryFactory) IdentityStore() core.IdentityStore {
	if f == nil || f.identityStore == nil {
		return nil
	}
	return f.identityStore
}

func (f *RepositoryFactory) GroupStore() core.GroupStore {
	if f == nil || f.groupStore == nil {
		return nil
	}
	return f.groupStore
}

func (f *RepositoryFactory) ImportTaskStore() core.ImportTaskStore {
	if f == nil || f.importTaskStore == nil {
		return nil
	}
	return f.importTaskStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	connectionStore, err := NewConnectionStore(f.db)
	if err != nil {
		return err
	}
	f.connectionStore = connectionStore
	if f.cacheService != nil {
		cached, err := NewCachedConnectionStore(connectionStore, f.cacheService)
		if err != nil {
			return err
		}
		f.connectionStore = cached
	}

	identityStore, err := NewIdentityStore(f.db)
	if err != nil {
		return err
	}
	f.identityStore = identityStore

	groupStore, err := NewGroupStore(f.db)
	if err != nil {
		return err
	}
	f.groupStore = groupStore

	importTaskStore, err := NewImportTaskStore(f.db)
	if err != nil {
		return err
	}
	f.importTaskStore = importTaskStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
