package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v8"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cratehub/registry"
)

// querier is satisfied by *sql.DB and *sql.Tx, letting every query
// helper run inside or outside an explicit transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx wraps an open catalog transaction. Callers obtain one via
// DB.BeginTx and must Commit or Rollback it.
type Tx struct {
	tx      *sql.Tx
	dialect goqu.DialectWrapper
}

// BeginTx starts the single transaction the publish pipeline opens at
// step 6 and commits at step 10.
func (db *DB) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, &registry.Error{Op: "BeginTx", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	return &Tx{tx: tx, dialect: db.dialect}, nil
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// UpsertCrate creates or updates the row for c (matched by canon_name)
// and returns the row's id with CreatedAt/UpdatedAt populated.
func (t *Tx) UpsertCrate(ctx context.Context, c registry.Crate) (_ registry.Crate, err error) {
	ctx, span := tracer.Start(ctx, "Tx.UpsertCrate", trace.WithAttributes(attribute.String("crate.canon_name", c.CanonName)))
	defer endSpan(span, &err)()
	return upsertCrate(ctx, t.tx, t.dialect, c)
}

func upsertCrate(ctx context.Context, q querier, dialect goqu.DialectWrapper, c registry.Crate) (registry.Crate, error) {
	existing, err := getCrateByCanonName(ctx, q, dialect, c.CanonName)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		insert, args, err := dialect.Insert("crates").Rows(goqu.Record{
			"name":          c.Name,
			"canon_name":    c.CanonName,
			"description":   c.Description,
			"documentation": c.Documentation,
			"repository":    c.Repository,
		}).ToSQL()
		if err != nil {
			return registry.Crate{}, fmt.Errorf("catalog: build insert: %w", err)
		}
		res, err := q.ExecContext(ctx, insert, args...)
		if err != nil {
			return registry.Crate{}, &registry.Error{Op: "UpsertCrate", Kind: registry.ErrDatabaseUnavailable, Inner: err}
		}
		id, err := res.LastInsertId()
		if err != nil {
			// Postgres drivers don't implement LastInsertId; fall
			// back to looking the row back up by its unique key.
			return getCrateByCanonName(ctx, q, dialect, c.CanonName)
		}
		c.ID = id
		return getCrateByID(ctx, q, dialect, id)
	case err != nil:
		return registry.Crate{}, err
	default:
		update, args, err := dialect.Update("crates").Set(goqu.Record{
			"name":          c.Name,
			"description":   c.Description,
			"documentation": c.Documentation,
			"repository":    c.Repository,
			"updated_at":    nowColumn(),
		}).Where(goqu.Ex{"id": existing.ID}).ToSQL()
		if err != nil {
			return registry.Crate{}, fmt.Errorf("catalog: build update: %w", err)
		}
		if _, err := q.ExecContext(ctx, update, args...); err != nil {
			return registry.Crate{}, &registry.Error{Op: "UpsertCrate", Kind: registry.ErrDatabaseUnavailable, Inner: err}
		}
		return getCrateByID(ctx, q, dialect, existing.ID)
	}
}

// nowColumn lets the database itself stamp updated_at via its local
// clock function, rather than racing wall clocks between the pipeline
// and the database server. goqu renders this as a literal.
func nowColumn() goqu.Expression {
	return goqu.L("CURRENT_TIMESTAMP")
}

func scanCrate(row *sql.Row) (registry.Crate, error) {
	var c registry.Crate
	var createdAt, updatedAt any
	if err := row.Scan(&c.ID, &c.Name, &c.CanonName, &c.Description, &c.Documentation, &c.Repository, &c.Downloads, &createdAt, &updatedAt); err != nil {
		return registry.Crate{}, err
	}
	c.CreatedAt = toTime(createdAt)
	c.UpdatedAt = toTime(updatedAt)
	return c, nil
}

// toTime accepts either a time.Time (pgx) or an RFC3339 string
// (modernc.org/sqlite) for a TIMESTAMPTZ/TEXT column.
func toTime(v any) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		t, _ := time.Parse(time.RFC3339, x)
		return t
	case []byte:
		t, _ := time.Parse(time.RFC3339, string(x))
		return t
	default:
		return time.Time{}
	}
}

var crateColumns = []any{"id", "name", "canon_name", "description", "documentation", "repository", "downloads", "created_at", "updated_at"}

func getCrateByCanonName(ctx context.Context, q querier, dialect goqu.DialectWrapper, canonName string) (registry.Crate, error) {
	query, args, err := dialect.From("crates").Select(crateColumns...).Where(goqu.Ex{"canon_name": canonName}).ToSQL()
	if err != nil {
		return registry.Crate{}, fmt.Errorf("catalog: build select: %w", err)
	}
	return scanCrate(q.QueryRowContext(ctx, query, args...))
}

func getCrateByID(ctx context.Context, q querier, dialect goqu.DialectWrapper, id int64) (registry.Crate, error) {
	query, args, err := dialect.From("crates").Select(crateColumns...).Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return registry.Crate{}, fmt.Errorf("catalog: build select: %w", err)
	}
	return scanCrate(q.QueryRowContext(ctx, query, args...))
}

// GetCrateByName returns the crate whose name or canon_name matches
// name, after normalizing it. Returns registry.ErrRecordMissing if
// absent.
func (db *DB) GetCrateByName(ctx context.Context, name string) (_ registry.Crate, err error) {
	ctx, span := tracer.Start(ctx, "DB.GetCrateByName", trace.WithAttributes(attribute.String("crate.name", name)))
	defer endSpan(span, &err)()
	c, err := getCrateByCanonName(ctx, db.sql, db.dialect, registry.Normalize(name))
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Crate{}, &registry.Error{Op: "GetCrateByName", Kind: registry.ErrRecordMissing, Message: name}
	}
	if err != nil {
		return registry.Crate{}, &registry.Error{Op: "GetCrateByName", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	return c, nil
}

// GetCratesByIDs returns crates for the given ids, in no particular
// order, skipping any id that no longer exists.
func (db *DB) GetCratesByIDs(ctx context.Context, ids []int64) ([]registry.Crate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in := make([]any, len(ids))
	for i, id := range ids {
		in[i] = id
	}
	query, args, err := db.dialect.From("crates").Select(crateColumns...).Where(goqu.Ex{"id": in}).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("catalog: build select: %w", err)
	}
	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &registry.Error{Op: "GetCratesByIDs", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	defer rows.Close()

	var out []registry.Crate
	for rows.Next() {
		var c registry.Crate
		var createdAt, updatedAt any
		if err := rows.Scan(&c.ID, &c.Name, &c.CanonName, &c.Description, &c.Documentation, &c.Repository, &c.Downloads, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt, c.UpdatedAt = toTime(createdAt), toTime(updatedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// IncrementDownloads bumps a crate's download counter by one. Not
// run inside the caller's transaction: the spec accepts an
// approximate, non-transactional counter here.
func (db *DB) IncrementDownloads(ctx context.Context, canonName string) error {
	query, args, err := db.dialect.Update("crates").
		Set(goqu.Record{"downloads": goqu.L("downloads + 1")}).
		Where(goqu.Ex{"canon_name": canonName}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("catalog: build update: %w", err)
	}
	if _, err := db.sql.ExecContext(ctx, query, args...); err != nil {
		return &registry.Error{Op: "IncrementDownloads", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	return nil
}
