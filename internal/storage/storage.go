// Package storage defines the blob-storage manager contract shared
// by the disk and object-store backends.
package storage

import (
	"context"
	"io"
)

// Manager stores and retrieves a crate's archive and rendered README
// blobs. Every accepted (name, version) pair has both, the README
// possibly empty.
type Manager interface {
	// PutCrate writes an archive blob for (name, vers), replacing any
	// existing blob at that key. name is the crate's literal published
	// name: a Cargo client downloads by that exact string.
	PutCrate(ctx context.Context, name, vers string, r io.Reader) error
	// GetCrate opens the archive blob for (name, vers). The caller
	// must close the returned reader.
	GetCrate(ctx context.Context, name, vers string) (io.ReadCloser, error)
	// DeleteCrate removes the archive blob for (name, vers), if
	// present. Used by publish compensation; it is not an error for
	// the blob to already be absent.
	DeleteCrate(ctx context.Context, name, vers string) error
	// PutReadme writes the rendered README blob for (name, vers).
	PutReadme(ctx context.Context, name, vers string, html []byte) error
	// GetReadme returns the rendered README blob for (name, vers).
	GetReadme(ctx context.Context, name, vers string) ([]byte, error)
	// DeleteReadme removes the README blob for (name, vers), if
	// present. Used by publish compensation alongside DeleteCrate.
	DeleteReadme(ctx context.Context, name, vers string) error
}

// CrateKey is the storage key convention for an archive blob: the
// client ecosystem's own "name/version" layout, keyed by the crate's
// literal published name.
func CrateKey(name, vers string) string {
	return name + "/" + vers
}

// ReadmeKey is the storage key convention for a rendered README blob.
func ReadmeKey(name, vers string) string {
	return name + "/" + vers + ".readme.html"
}

type notFounder interface {
	NotFound() bool
}

// IsNotFound reports whether err indicates a GetCrate miss, the
// condition the publish pipeline surfaces as record-missing. GetReadme
// reports a miss as empty content with a nil error instead.
func IsNotFound(err error) bool {
	nf, ok := err.(notFounder)
	return ok && nf.NotFound()
}
