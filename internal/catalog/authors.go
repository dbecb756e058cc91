package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/doug-martin/goqu/v8"

	"github.com/cratehub/registry"
)

func getAuthorByEmail(ctx context.Context, q querier, dialect goqu.DialectWrapper, email string) (registry.Author, error) {
	query, args, err := dialect.From("authors").
		Select("id", "email", "name", "passwd", "github_id", "gitlab_id").
		Where(goqu.Ex{"email": email}).ToSQL()
	if err != nil {
		return registry.Author{}, err
	}
	var a registry.Author
	err = q.QueryRowContext(ctx, query, args...).Scan(&a.ID, &a.Email, &a.Name, &a.Passwd, &a.GithubID, &a.GitlabID)
	return a, err
}

// GetAuthorByEmail looks up an author by email, returning
// ErrUnknownAuthor if absent.
func (db *DB) GetAuthorByEmail(ctx context.Context, email string) (registry.Author, error) {
	a, err := getAuthorByEmail(ctx, db.sql, db.dialect, email)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Author{}, &registry.Error{Op: "GetAuthorByEmail", Kind: registry.ErrUnknownAuthor, Message: email}
	}
	if err != nil {
		return registry.Author{}, &registry.Error{Op: "GetAuthorByEmail", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	return a, nil
}

// GetAuthorByID looks up an author by surrogate id.
func (db *DB) GetAuthorByID(ctx context.Context, id int64) (registry.Author, error) {
	query, args, err := db.dialect.From("authors").
		Select("id", "email", "name", "passwd", "github_id", "gitlab_id").
		Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return registry.Author{}, err
	}
	var a registry.Author
	err = db.sql.QueryRowContext(ctx, query, args...).Scan(&a.ID, &a.Email, &a.Name, &a.Passwd, &a.GithubID, &a.GitlabID)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Author{}, &registry.Error{Op: "GetAuthorByID", Kind: registry.ErrUnknownAuthor}
	}
	if err != nil {
		return registry.Author{}, &registry.Error{Op: "GetAuthorByID", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	return a, nil
}

// CreateAuthor inserts a new author row along with its one-to-one
// salt, returning the author with its assigned id.
func (db *DB) CreateAuthor(ctx context.Context, email, name string, passwd, salt []byte) (registry.Author, error) {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return registry.Author{}, &registry.Error{Op: "CreateAuthor", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	defer tx.Rollback()

	insert, args, err := db.dialect.Insert("authors").Rows(goqu.Record{
		"email":  email,
		"name":   name,
		"passwd": passwd,
	}).ToSQL()
	if err != nil {
		return registry.Author{}, err
	}
	res, err := tx.ExecContext(ctx, insert, args...)
	if err != nil {
		return registry.Author{}, &registry.Error{Op: "CreateAuthor", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		a, lookupErr := getAuthorByEmail(ctx, tx, db.dialect, email)
		if lookupErr != nil {
			return registry.Author{}, &registry.Error{Op: "CreateAuthor", Kind: registry.ErrDatabaseUnavailable, Inner: lookupErr}
		}
		id = a.ID
	}

	saltInsert, sargs, err := db.dialect.Insert("salts").Rows(goqu.Record{
		"author_id": id,
		"salt":      salt,
	}).ToSQL()
	if err != nil {
		return registry.Author{}, err
	}
	if _, err := tx.ExecContext(ctx, saltInsert, sargs...); err != nil {
		return registry.Author{}, &registry.Error{Op: "CreateAuthor", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}

	if err := tx.Commit(); err != nil {
		return registry.Author{}, &registry.Error{Op: "CreateAuthor", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	return registry.Author{ID: id, Email: email, Name: name, Passwd: passwd}, nil
}

// GetSalt returns the per-author salt used in the server-side
// password KDF.
func (db *DB) GetSalt(ctx context.Context, authorID int64) ([]byte, error) {
	query, args, err := db.dialect.From("salts").Select("salt").Where(goqu.Ex{"author_id": authorID}).ToSQL()
	if err != nil {
		return nil, err
	}
	var salt []byte
	err = db.sql.QueryRowContext(ctx, query, args...).Scan(&salt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &registry.Error{Op: "GetSalt", Kind: registry.ErrUnknownAuthor}
	}
	if err != nil {
		return nil, &registry.Error{Op: "GetSalt", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	return salt, nil
}

// CreateToken issues a new author token row.
func (db *DB) CreateToken(ctx context.Context, authorID int64, name, token string) (registry.AuthorToken, error) {
	insert, args, err := db.dialect.Insert("author_tokens").Rows(goqu.Record{
		"author_id": authorID,
		"name":      name,
		"token":     token,
	}).ToSQL()
	if err != nil {
		return registry.AuthorToken{}, err
	}
	res, err := db.sql.ExecContext(ctx, insert, args...)
	if err != nil {
		return registry.AuthorToken{}, &registry.Error{Op: "CreateToken", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	id, _ := res.LastInsertId()
	return registry.AuthorToken{ID: id, Name: name, Token: token, AuthorID: authorID}, nil
}

// GetAuthorByToken resolves the Authorization header's bearer value
// to its owning author. Returns ErrUnauthorized if no token matches.
func (db *DB) GetAuthorByToken(ctx context.Context, token string) (registry.Author, error) {
	query, args, err := db.dialect.From("author_tokens").
		Join(goqu.T("authors"), goqu.On(goqu.Ex{"author_tokens.author_id": goqu.I("authors.id")})).
		Select("authors.id", "authors.email", "authors.name").
		Where(goqu.Ex{"author_tokens.token": token}).ToSQL()
	if err != nil {
		return registry.Author{}, err
	}
	var a registry.Author
	err = db.sql.QueryRowContext(ctx, query, args...).Scan(&a.ID, &a.Email, &a.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Author{}, &registry.Error{Op: "GetAuthorByToken", Kind: registry.ErrUnauthorized}
	}
	if err != nil {
		return registry.Author{}, &registry.Error{Op: "GetAuthorByToken", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	return a, nil
}

// ListTokens returns every token belonging to authorID. Token values
// are withheld, matching the boundary contract that a token is only
// ever shown once, at creation.
func (db *DB) ListTokens(ctx context.Context, authorID int64) ([]registry.AuthorToken, error) {
	query, args, err := db.dialect.From("author_tokens").Select("id", "name").Where(goqu.Ex{"author_id": authorID}).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &registry.Error{Op: "ListTokens", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	defer rows.Close()
	var out []registry.AuthorToken
	for rows.Next() {
		var t registry.AuthorToken
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		t.AuthorID = authorID
		out = append(out, t)
	}
	return out, rows.Err()
}

// RevokeToken deletes tokenID if it belongs to authorID.
func (db *DB) RevokeToken(ctx context.Context, authorID, tokenID int64) error {
	del, args, err := db.dialect.Delete("author_tokens").Where(goqu.Ex{"id": tokenID, "author_id": authorID}).ToSQL()
	if err != nil {
		return err
	}
	res, err := db.sql.ExecContext(ctx, del, args...)
	if err != nil {
		return &registry.Error{Op: "RevokeToken", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &registry.Error{Op: "RevokeToken", Kind: registry.ErrRecordMissing}
	}
	return nil
}
