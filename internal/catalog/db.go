// Package catalog implements the relational store for crate
// metadata, authorship, ownership, tokens, sessions, and the
// lookup tables joined to a crate.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/postgres"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/remind101/migrate"
	_ "modernc.org/sqlite"

	"github.com/cratehub/registry/internal/catalog/migrations"
	"github.com/cratehub/registry/internal/config"
)

// DB is the catalog's connection handle. Every query goes through a
// single database/sql.DB regardless of dialect, since that's the
// interface both the pgx and modernc.org/sqlite drivers, and
// remind101/migrate, already speak.
type DB struct {
	sql     *sql.DB
	dialect goqu.DialectWrapper
	driver  string
}

// Open connects according to cfg, running schema migrations if
// doMigrate is true, and returns a ready DB.
func Open(ctx context.Context, cfg config.DatabaseConfig, doMigrate bool) (*DB, error) {
	var (
		driverName string
		dsn        string
		dialect    string
		set        []migrate.Migration
	)
	switch {
	case cfg.IsEphemeral():
		driverName, dsn, dialect, set = "sqlite", ":memory:", "sqlite3", migrations.SQLite
	default:
		driverName, dsn, dialect, set = "pgx", cfg.URL, "postgres", migrations.Postgres
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", driverName, err)
	}
	if driverName == "sqlite" {
		// A :memory: database is one connection's worth of state;
		// a second pooled connection would see an empty database.
		sqlDB.SetMaxOpenConns(1)
		if _, err := sqlDB.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			return nil, fmt.Errorf("catalog: enable foreign keys: %w", err)
		}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}

	if doMigrate {
		migrator := migrate.NewPostgresMigrator(sqlDB)
		migrator.Table = migrations.MigrationTable
		if err := migrator.Exec(migrate.Up, set...); err != nil {
			return nil, fmt.Errorf("catalog: migrate: %w", err)
		}
	}

	return &DB{sql: sqlDB, dialect: goqu.Dialect(dialect), driver: driverName}, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.sql.Close()
}
