package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/cratehub/registry"
	"github.com/cratehub/registry/internal/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), config.DatabaseConfig{URL: config.MemoryDatabaseURL}, true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertCrateCreatesThenUpdates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	c, err := tx.UpsertCrate(ctx, registry.Crate{Name: "foo-bar", CanonName: "foo_bar", Description: "first"})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if c.ID == 0 {
		t.Fatal("expected a non-zero id")
	}

	tx2, err := db.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := tx2.UpsertCrate(ctx, registry.Crate{Name: "foo-bar", CanonName: "foo_bar", Description: "second"})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatal(err)
	}
	if c2.ID != c.ID {
		t.Errorf("expected same id on update, got %d and %d", c.ID, c2.ID)
	}
	if c2.Description != "second" {
		t.Errorf("Description = %q, want second", c2.Description)
	}

	got, err := db.GetCrateByName(ctx, "foo-bar")
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "second" {
		t.Errorf("GetCrateByName description = %q, want second", got.Description)
	}
}

func TestGetCrateByNameMissing(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetCrateByName(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected an error for a missing crate")
	}
}

func TestReplaceKeywordsAndCategories(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	seedCategory(t, db, "command-line-utilities", "Command line utilities")

	tx, err := db.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	c, err := tx.UpsertCrate(ctx, registry.Crate{Name: "foo-bar", CanonName: "foo_bar"})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.ReplaceKeywords(ctx, c.ID, []string{"cli", "tool"}); err != nil {
		t.Fatal(err)
	}
	unknown, err := tx.ReplaceCategories(ctx, c.ID, []string{"command-line-utilities", "no-such-tag"})
	if err != nil {
		t.Fatal(err)
	}
	if len(unknown) != 1 || unknown[0] != "no-such-tag" {
		t.Errorf("unknown categories = %v, want [no-such-tag]", unknown)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	keywords, categories, err := db.ListKeywordsAndCategories(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(keywords) != 2 {
		t.Errorf("keywords = %v, want 2 entries", keywords)
	}
	if len(categories) != 1 || categories[0] != "command-line-utilities" {
		t.Errorf("categories = %v, want [command-line-utilities]", categories)
	}
}

func seedCategory(t *testing.T, db *DB, tag, name string) {
	t.Helper()
	insert, args, err := db.dialect.Insert("categories").Rows(map[string]any{"tag": tag, "name": name}).ToSQL()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.sql.ExecContext(context.Background(), insert, args...); err != nil {
		t.Fatal(err)
	}
}

func TestOwnersAddAndRemove(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.CreateAuthor(ctx, "a@example.test", "Author A", []byte("digest"), []byte("salt")); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateAuthor(ctx, "b@example.test", "Author B", []byte("digest"), []byte("salt")); err != nil {
		t.Fatal(err)
	}

	tx, err := db.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	c, err := tx.UpsertCrate(ctx, registry.Crate{Name: "foo-bar", CanonName: "foo_bar"})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := db.AddOwners(ctx, c.ID, []string{"a@example.test", "b@example.test"}); err != nil {
		t.Fatal(err)
	}
	owners, err := db.ListOwners(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(owners) != 2 {
		t.Fatalf("owners = %v, want 2", owners)
	}

	if err := db.RemoveOwners(ctx, c.ID, []string{"a@example.test"}); err != nil {
		t.Fatal(err)
	}
	owners, err = db.ListOwners(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(owners) != 1 || owners[0].Email != "b@example.test" {
		t.Fatalf("owners after remove = %v", owners)
	}

	if err := db.RemoveOwners(ctx, c.ID, []string{"b@example.test"}); err == nil {
		t.Fatal("expected empty-owner-set error")
	}
}

func TestAddOwnersUnknownAuthor(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	tx, err := db.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	c, err := tx.UpsertCrate(ctx, registry.Crate{Name: "foo-bar", CanonName: "foo_bar"})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := db.AddOwners(ctx, c.ID, []string{"nobody@example.test"}); err == nil {
		t.Fatal("expected unknown-author error")
	}
}

func TestTokenLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a, err := db.CreateAuthor(ctx, "a@example.test", "Author A", []byte("digest"), []byte("salt"))
	if err != nil {
		t.Fatal(err)
	}

	tok, err := db.CreateToken(ctx, a.ID, "laptop", "tok-abc123")
	if err != nil {
		t.Fatal(err)
	}

	got, err := db.GetAuthorByToken(ctx, "tok-abc123")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != a.ID {
		t.Errorf("GetAuthorByToken returned author %d, want %d", got.ID, a.ID)
	}

	if _, err := db.GetAuthorByToken(ctx, "not-a-token"); err == nil {
		t.Fatal("expected unauthorized for unknown token")
	}

	tokens, err := db.ListTokens(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 1 {
		t.Fatalf("tokens = %v, want 1", tokens)
	}

	if err := db.RevokeToken(ctx, a.ID, tok.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetAuthorByToken(ctx, "tok-abc123"); err == nil {
		t.Fatal("expected unauthorized after revocation")
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a, err := db.CreateAuthor(ctx, "a@example.test", "Author A", []byte("digest"), []byte("salt"))
	if err != nil {
		t.Fatal(err)
	}

	s := registry.Session{ID: "sess-1", AuthorID: &a.ID, Expiry: time.Now().Add(-time.Hour), Data: []byte("{}")}
	if err := db.CreateSession(ctx, s); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Expired(time.Now()) {
		t.Error("expected session to report expired")
	}

	n, err := db.DeleteExpiredSessions(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("DeleteExpiredSessions removed %d rows, want 1", n)
	}

	if _, err := db.GetSession(ctx, "sess-1"); err == nil {
		t.Fatal("expected session to be gone")
	}
}

func TestIncrementDownloads(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	tx, err := db.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	c, err := tx.UpsertCrate(ctx, registry.Crate{Name: "foo-bar", CanonName: "foo_bar"})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := db.IncrementDownloads(ctx, "foo_bar"); err != nil {
		t.Fatal(err)
	}
	if err := db.IncrementDownloads(ctx, "foo_bar"); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetCrateByName(ctx, "foo-bar")
	if err != nil {
		t.Fatal(err)
	}
	if got.Downloads != 2 {
		t.Errorf("Downloads = %d, want 2", got.Downloads)
	}
}
