// Package disk implements the storage manager against a local
// directory tree, writing every blob via a temp-file-then-rename so a
// reader never observes a partially-written blob.
package disk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cratehub/registry/internal/storage"
)

// Store is a storage.Manager rooted at Dir.
type Store struct {
	Dir string
}

// New returns a Store rooted at dir, creating dir if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("disk: create root: %w", err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.Dir, filepath.FromSlash(key))
}

// put copies r atomically to the location for key.
func (s *Store) put(key string, r io.Reader) error {
	full := s.path(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, full)
}

func (s *Store) PutCrate(ctx context.Context, name, vers string, r io.Reader) error {
	return s.put(storage.CrateKey(name, vers), r)
}

func (s *Store) GetCrate(ctx context.Context, name, vers string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(storage.CrateKey(name, vers)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &notFoundError{key: storage.CrateKey(name, vers)}
	}
	return f, err
}

func (s *Store) DeleteCrate(ctx context.Context, name, vers string) error {
	err := os.Remove(s.path(storage.CrateKey(name, vers)))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Store) PutReadme(ctx context.Context, name, vers string, html []byte) error {
	return s.put(storage.ReadmeKey(name, vers), bytes.NewReader(html))
}

func (s *Store) GetReadme(ctx context.Context, name, vers string) ([]byte, error) {
	b, err := os.ReadFile(s.path(storage.ReadmeKey(name, vers)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

func (s *Store) DeleteReadme(ctx context.Context, name, vers string) error {
	err := os.Remove(s.path(storage.ReadmeKey(name, vers)))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

type notFoundError struct{ key string }

func (e *notFoundError) Error() string { return fmt.Sprintf("disk: no blob at %s", e.key) }
func (e *notFoundError) NotFound() bool { return true }
