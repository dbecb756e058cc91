package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v8"

	"github.com/cratehub/registry"
)

// CreateSession inserts a new session row.
func (db *DB) CreateSession(ctx context.Context, s registry.Session) error {
	insert, args, err := db.dialect.Insert("sessions").Rows(goqu.Record{
		"id":        s.ID,
		"author_id": s.AuthorID,
		"expiry":    s.Expiry,
		"data":      s.Data,
	}).ToSQL()
	if err != nil {
		return err
	}
	if _, err := db.sql.ExecContext(ctx, insert, args...); err != nil {
		return &registry.Error{Op: "CreateSession", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	return nil
}

// GetSession looks up a session by id, regardless of whether it has
// expired; callers check Expired themselves.
func (db *DB) GetSession(ctx context.Context, id string) (registry.Session, error) {
	query, args, err := db.dialect.From("sessions").Select("id", "author_id", "expiry", "data").Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return registry.Session{}, err
	}
	var s registry.Session
	var expiry any
	err = db.sql.QueryRowContext(ctx, query, args...).Scan(&s.ID, &s.AuthorID, &expiry, &s.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Session{}, &registry.Error{Op: "GetSession", Kind: registry.ErrRecordMissing}
	}
	if err != nil {
		return registry.Session{}, &registry.Error{Op: "GetSession", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	s.Expiry = toTime(expiry)
	return s, nil
}

// DeleteSession removes a session row unconditionally.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	del, args, err := db.dialect.Delete("sessions").Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return err
	}
	if _, err := db.sql.ExecContext(ctx, del, args...); err != nil {
		return &registry.Error{Op: "DeleteSession", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	return nil
}

// DeleteExpiredSessions removes every session whose expiry is before
// now, and reports how many rows were removed. Run periodically by
// cmd/registry-janitor.
func (db *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	del, args, err := db.dialect.Delete("sessions").Where(goqu.Ex{"expiry": goqu.Op{"lt": now}}).ToSQL()
	if err != nil {
		return 0, err
	}
	res, err := db.sql.ExecContext(ctx, del, args...)
	if err != nil {
		return 0, &registry.Error{Op: "DeleteExpiredSessions", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}
