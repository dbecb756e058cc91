package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v8"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cratehub/registry"
)

// ReplaceKeywords clears and re-inserts crateID's keyword junctions,
// creating any keyword row that doesn't already exist. A keyword not
// seen before is never an error and is not reported back to the caller.
func (t *Tx) ReplaceKeywords(ctx context.Context, crateID int64, names []string) error {
	del, args, err := t.dialect.Delete("crate_keywords").Where(goqu.Ex{"crate_id": crateID}).ToSQL()
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, del, args...); err != nil {
		return &registry.Error{Op: "ReplaceKeywords", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	for _, name := range names {
		id, err := upsertLookup(ctx, t.tx, t.dialect, "keywords", goqu.Record{"name": name}, goqu.Ex{"name": name})
		if err != nil {
			return err
		}
		if err := linkJunction(ctx, t.tx, t.dialect, "crate_keywords", "crate_id", "keyword_id", crateID, id); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceCategories clears and re-inserts crateID's category
// junctions. Categories are a closed, admin-seeded set: a tag with no
// matching row is skipped and reported back as a warning by the
// caller, never created here.
func (t *Tx) ReplaceCategories(ctx context.Context, crateID int64, tags []string) (unknown []string, err error) {
	del, args, err := t.dialect.Delete("crate_categories").Where(goqu.Ex{"crate_id": crateID}).ToSQL()
	if err != nil {
		return nil, err
	}
	if _, err := t.tx.ExecContext(ctx, del, args...); err != nil {
		return nil, &registry.Error{Op: "ReplaceCategories", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	for _, tag := range tags {
		query, qargs, err := t.dialect.From("categories").Select("id").Where(goqu.Ex{"tag": tag}).ToSQL()
		if err != nil {
			return nil, err
		}
		var id int64
		switch err := t.tx.QueryRowContext(ctx, query, qargs...).Scan(&id); {
		case errors.Is(err, sql.ErrNoRows):
			unknown = append(unknown, tag)
			continue
		case err != nil:
			return nil, &registry.Error{Op: "ReplaceCategories", Kind: registry.ErrDatabaseUnavailable, Inner: err}
		}
		if err := linkJunction(ctx, t.tx, t.dialect, "crate_categories", "crate_id", "category_id", crateID, id); err != nil {
			return nil, err
		}
	}
	return unknown, nil
}

// knownBadgeTypes is the closed set of badge_type values the frontend
// knows how to render, mirroring the client ecosystem's own badge
// catalog. A badge outside this set is skipped and reported back as a
// warning by the caller, the same way ReplaceCategories treats an
// unrecognized tag.
var knownBadgeTypes = map[string]bool{
	"appveyor":                          true,
	"circle-ci":                         true,
	"cirrus-ci":                         true,
	"codecov":                           true,
	"coveralls":                         true,
	"gitlab":                            true,
	"travis-ci":                         true,
	"azure-devops":                      true,
	"bitbucket-pipelines":               true,
	"is-it-maintained-issue-resolution": true,
	"is-it-maintained-open-issues":      true,
	"maintenance":                       true,
}

// ReplaceBadges clears and re-inserts crateID's badges, skipping any
// badge_type outside knownBadgeTypes.
func (t *Tx) ReplaceBadges(ctx context.Context, crateID int64, badges []registry.Badge) (unknown []string, err error) {
	del, args, err := t.dialect.Delete("crate_badges").Where(goqu.Ex{"crate_id": crateID}).ToSQL()
	if err != nil {
		return nil, err
	}
	if _, err := t.tx.ExecContext(ctx, del, args...); err != nil {
		return nil, &registry.Error{Op: "ReplaceBadges", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	for _, b := range badges {
		if !knownBadgeTypes[b.BadgeType] {
			unknown = append(unknown, b.BadgeType)
			continue
		}
		insert, iargs, err := t.dialect.Insert("crate_badges").Rows(goqu.Record{
			"crate_id":   crateID,
			"badge_type": b.BadgeType,
			"params":     string(b.Params),
		}).ToSQL()
		if err != nil {
			return nil, err
		}
		if _, err := t.tx.ExecContext(ctx, insert, iargs...); err != nil {
			return nil, &registry.Error{Op: "ReplaceBadges", Kind: registry.ErrDatabaseUnavailable, Inner: err}
		}
	}
	return unknown, nil
}

func upsertLookup(ctx context.Context, q querier, dialect goqu.DialectWrapper, table string, values, match goqu.Ex) (int64, error) {
	query, args, err := dialect.From(table).Select("id").Where(match).ToSQL()
	if err != nil {
		return 0, err
	}
	var id int64
	err = q.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, &registry.Error{Op: "upsertLookup", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}

	insert, iargs, err := dialect.Insert(table).Rows(values).ToSQL()
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, insert, iargs...)
	if err != nil {
		// Another concurrent publish may have inserted the same
		// lookup row between our SELECT and INSERT; re-select.
		var rowErr error
		id, rowErr = func() (int64, error) {
			var id int64
			rowErr := q.QueryRowContext(ctx, query, args...).Scan(&id)
			return id, rowErr
		}()
		if rowErr != nil {
			return 0, &registry.Error{Op: "upsertLookup", Kind: registry.ErrDatabaseUnavailable, Inner: err}
		}
		return id, nil
	}
	id, err = res.LastInsertId()
	if err != nil {
		if scanErr := q.QueryRowContext(ctx, query, args...).Scan(&id); scanErr != nil {
			return 0, &registry.Error{Op: "upsertLookup", Kind: registry.ErrDatabaseUnavailable, Inner: scanErr}
		}
	}
	return id, nil
}

func linkJunction(ctx context.Context, q querier, dialect goqu.DialectWrapper, table, leftCol, rightCol string, left, right int64) error {
	insert, args, err := dialect.Insert(table).Rows(goqu.Record{leftCol: left, rightCol: right}).ToSQL()
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, insert, args...); err != nil {
		return &registry.Error{Op: "linkJunction", Kind: registry.ErrDatabaseUnavailable, Inner: fmt.Errorf("%s: %w", table, err)}
	}
	return nil
}

// ListCategories returns every admin-seeded category.
func (db *DB) ListCategories(ctx context.Context) ([]registry.Category, error) {
	query, args, err := db.dialect.From("categories").Select("id", "tag", "name", "description").Order(goqu.I("tag").Asc()).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &registry.Error{Op: "ListCategories", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	defer rows.Close()
	var out []registry.Category
	for rows.Next() {
		var c registry.Category
		if err := rows.Scan(&c.ID, &c.Tag, &c.Name, &c.Description); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListKeywordsAndCategories returns the keyword names and category
// tags attached to a crate, for the crate-info response. The two
// junction tables are independent of each other, so they're queried
// concurrently rather than one after the other.
func (db *DB) ListKeywordsAndCategories(ctx context.Context, crateID int64) (keywords, categories []string, err error) {
	ctx, span := tracer.Start(ctx, "DB.ListKeywordsAndCategories", trace.WithAttributes(attribute.Int64("crate.id", crateID)))
	defer endSpan(span, &err)()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		kw, err := db.listCrateKeywords(ctx, crateID)
		keywords = kw
		return err
	})
	g.Go(func() error {
		cat, err := db.listCrateCategories(ctx, crateID)
		categories = cat
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return keywords, categories, nil
}

func (db *DB) listCrateKeywords(ctx context.Context, crateID int64) ([]string, error) {
	kq, kargs, err := db.dialect.From("crate_keywords").
		Join(goqu.T("keywords"), goqu.On(goqu.Ex{"crate_keywords.keyword_id": goqu.I("keywords.id")})).
		Select("keywords.name").Where(goqu.Ex{"crate_keywords.crate_id": crateID}).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := db.sql.QueryContext(ctx, kq, kargs...)
	if err != nil {
		return nil, &registry.Error{Op: "ListKeywordsAndCategories", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	defer rows.Close()
	var keywords []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		keywords = append(keywords, name)
	}
	return keywords, rows.Err()
}

func (db *DB) listCrateCategories(ctx context.Context, crateID int64) ([]string, error) {
	cq, cargs, err := db.dialect.From("crate_categories").
		Join(goqu.T("categories"), goqu.On(goqu.Ex{"crate_categories.category_id": goqu.I("categories.id")})).
		Select("categories.tag").Where(goqu.Ex{"crate_categories.crate_id": crateID}).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := db.sql.QueryContext(ctx, cq, cargs...)
	if err != nil {
		return nil, &registry.Error{Op: "ListKeywordsAndCategories", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}
	defer rows.Close()
	var categories []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		categories = append(categories, tag)
	}
	return categories, rows.Err()
}
