// Package index defines the crate index manager contract shared by
// the subprocess (command-line git) and library (go-git) backends,
// plus the sharded path and JSON-lines record logic common to both.
package index

import (
	"context"

	"github.com/cratehub/registry"
)

// Manager reads, writes, and publishes per-crate records in a git
// tree. Mutating calls must run under the caller's per-crate lock
// (internal/lockset); Core additionally serializes writes to the
// shared working tree with its own mutex.
type Manager interface {
	// LatestRecord returns the most recently appended record for name,
	// the crate's literal published name (its sharded file is keyed by
	// name, not canon_name).
	LatestRecord(ctx context.Context, name string) (registry.IndexRecord, error)
	// AllRecords returns every record for name in publication order.
	AllRecords(ctx context.Context, name string) ([]registry.IndexRecord, error)
	// MatchRecord returns the record whose version satisfies req,
	// preferring the highest matching version.
	MatchRecord(ctx context.Context, name, req string) (registry.IndexRecord, error)
	// AddRecord appends rec to its crate's file, creating the sharded
	// file if this is the crate's first version, and commits the change
	// locally. It does not push.
	AddRecord(ctx context.Context, rec registry.IndexRecord) error
	// AlterRecord applies f to the record at (name, vers) and rewrites
	// it in place. A no-op mutation (f returns its input unchanged)
	// produces no new commit.
	AlterRecord(ctx context.Context, name, vers string, f func(registry.IndexRecord) registry.IndexRecord) error
	// URLFromConfig returns the configured remote URL for the index,
	// as published to clients.
	URLFromConfig() string
	// CommitAndPush pushes whatever local commits are pending to the
	// remote. Safe to retry after a remote-push-failed error without
	// re-staging.
	CommitAndPush(ctx context.Context, message, authorName, authorEmail string) error
}
