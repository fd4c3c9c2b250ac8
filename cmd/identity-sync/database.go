package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	syncmigrations "github.com/goliatone/go-identity-sync/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

type persistenceConfig struct {
	driver string
	server string
}

func (c persistenceConfig) GetDebug() bool {
	return false
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.server
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "identity-sync"
}

func openPersistence(ctx context.Context, cfg settings) (*persistence.Client, error) {
	sqlDB, err := sql.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBDriver, err)
	}

	migrationDialect, err := syncmigrations.DialectForDriver(cfg.DBDriver)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	var dialect schema.Dialect = sqlitedialect.New()
	if migrationDialect == syncmigrations.DialectPostgres {
		dialect = pgdialect.New()
	} else {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{driver: cfg.DBDriver, server: cfg.DatabaseDSN}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}
	if !cfg.Migrate {
		return client, nil
	}

	if _, err := syncmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect == migrationDialect {
			client.RegisterSQLMigrations(fsys)
		}
		return nil
	}, syncmigrations.WithValidationTargets(migrationDialect)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return client, nil
}
