package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/doug-martin/goqu/v8"

	"github.com/cratehub/registry"
)

// ListOwners returns every author with ownership of crateID.
func (db *DB) ListOwners(ctx context.Context, crateID int64) ([]registry.Author, error) {
	query, args, err := db.dialect.From("crate_authors").
		Join(goqu.T("authors"), goqu.On(goqu.Ex{"crate_authors.author_id": goqu.I("authors.id")})).
		Select("authors.id", "authors.email", "authors.name").
		Where(goqu.Ex{"crate_authors.crate_id": crateID}).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &registry.Error{Op: "ListOwners", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	defer rows.Close()
	var out []registry.Author
	for rows.Next() {
		var a registry.Author
		if err := rows.Scan(&a.ID, &a.Email, &a.Name); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// IsOwner reports whether authorID owns crateID.
func (db *DB) IsOwner(ctx context.Context, crateID, authorID int64) (bool, error) {
	query, args, err := db.dialect.From("crate_authors").Select(goqu.COUNT("id")).
		Where(goqu.Ex{"crate_id": crateID, "author_id": authorID}).ToSQL()
	if err != nil {
		return false, err
	}
	var n int64
	if err := db.sql.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, &registry.Error{Op: "IsOwner", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	return n > 0, nil
}

// AddOwners adds each author in emails (matched by email) as an
// owner of crateID. Unknown emails fail the whole call with
// ErrUnknownAuthor.
func (db *DB) AddOwners(ctx context.Context, crateID int64, emails []string) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, email := range emails {
		a, err := getAuthorByEmail(ctx, tx.tx, tx.dialect, email)
		if errors.Is(err, sql.ErrNoRows) {
			return &registry.Error{Op: "AddOwners", Kind: registry.ErrUnknownAuthor, Message: email}
		}
		if err != nil {
			return &registry.Error{Op: "AddOwners", Kind: registry.ErrDatabaseUnavailable, Inner: err}
		}
		insert, args, err := tx.dialect.Insert("crate_authors").Rows(goqu.Record{"crate_id": crateID, "author_id": a.ID}).ToSQL()
		if err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx, insert, args...); err != nil {
			return &registry.Error{Op: "AddOwners", Kind: registry.ErrDatabaseUnavailable, Inner: err}
		}
	}
	return tx.Commit()
}

// RemoveOwners removes each author in emails from crateID's owner
// set. Fails with ErrEmptyOwnerSet if doing so would leave no owners.
func (db *DB) RemoveOwners(ctx context.Context, crateID int64, emails []string) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, email := range emails {
		a, err := getAuthorByEmail(ctx, tx.tx, tx.dialect, email)
		if errors.Is(err, sql.ErrNoRows) {
			return &registry.Error{Op: "RemoveOwners", Kind: registry.ErrUnknownAuthor, Message: email}
		}
		if err != nil {
			return &registry.Error{Op: "RemoveOwners", Kind: registry.ErrDatabaseUnavailable, Inner: err}
		}
		del, args, err := tx.dialect.Delete("crate_authors").Where(goqu.Ex{"crate_id": crateID, "author_id": a.ID}).ToSQL()
		if err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx, del, args...); err != nil {
			return &registry.Error{Op: "RemoveOwners", Kind: registry.ErrDatabaseUnavailable, Inner: err}
		}
	}

	countQuery, cargs, err := tx.dialect.From("crate_authors").Select(goqu.COUNT("id")).Where(goqu.Ex{"crate_id": crateID}).ToSQL()
	if err != nil {
		return err
	}
	var remaining int64
	if err := tx.tx.QueryRowContext(ctx, countQuery, cargs...).Scan(&remaining); err != nil {
		return &registry.Error{Op: "RemoveOwners", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	if remaining == 0 {
		return &registry.Error{Op: "RemoveOwners", Kind: registry.ErrEmptyOwnerSet}
	}
	return tx.Commit()
}
