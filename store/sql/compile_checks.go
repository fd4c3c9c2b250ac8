package sqlstore

import "github.com/goliatone/go-identity-sync/core"

var (
	_ core.ConnectionStore        = (*ConnectionStore)(nil)
	_ core.ConnectionLease        = (*ConnectionStore)(nil)
	_ core.ConnectionStore        = (*CachedConnectionStore)(nil)
	_ core.ConnectionLease        = (*CachedConnectionStore)(nil)
	_ core.IdentityStore          = (*IdentityStore)(nil)
	_ core.GroupStore             = (*GroupStore)(nil)
	_ core.ImportTaskStore        = (*ImportTaskStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
