// Package migrations contains the catalog's schema migrations.
//
// It's expected that github.com/remind101/migrate will be used to
// apply these, keyed by which dialect the open database speaks.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/remind101/migrate"
)

// MigrationTable is the name of the table remind101/migrate uses to
// track applied migration ids.
const MigrationTable = "registry_migrations"

// Postgres and SQLite hold the ordered migrations for each dialect.
var (
	Postgres []migrate.Migration
	SQLite   []migrate.Migration
)

func init() {
	Postgres = load(pgFS, "postgres")
	SQLite = load(liteFS, "sqlite")
}

//go:embed postgres/*.sql
var pgFS embed.FS

//go:embed sqlite/*.sql
var liteFS embed.FS

func load(sys embed.FS, dir string) []migrate.Migration {
	ents, err := fs.ReadDir(sys, dir)
	if err != nil {
		panic(fmt.Errorf("programmer error: unable to read embed: %w", err))
	}

	ms := make([]migrate.Migration, 0, len(ents))
	id := 1
	for _, ent := range ents {
		if path.Ext(ent.Name()) != ".sql" {
			continue
		}
		if !ent.Type().IsRegular() {
			continue
		}

		p := path.Join(dir, ent.Name())
		ms = append(ms, migrate.Migration{
			ID: id,
			Up: func(tx *sql.Tx) error {
				f, err := sys.Open(p)
				if err != nil {
					return fmt.Errorf("unable to open migration %q: %w", p, err)
				}
				defer f.Close()
				var b strings.Builder
				if _, err := io.Copy(&b, f); err != nil {
					return fmt.Errorf("unable to read migration %q: %w", p, err)
				}
				if _, err := tx.Exec(b.String()); err != nil {
					return fmt.Errorf("unable to exec migration %q: %w", p, err)
				}
				return nil
			},
		})
		id++
	}

	return ms
}
