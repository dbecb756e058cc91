// Package subprocess implements the index manager by shelling out to
// the system's git binary, the way the command-line index variant
// always has: no library replaces "run git(1) in the working tree".
package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/cratehub/registry/internal/index"
)

// Tree runs git(1) against a checked-out working tree at Dir.
type Tree struct {
	Dir    string
	Remote string
}

// Open verifies Dir is a git working tree (running `git rev-parse
// --is-inside-work-tree` in it) and returns a Manager backed by it.
func Open(ctx context.Context, dir, remote string) (index.Manager, error) {
	t := &Tree{Dir: dir, Remote: remote}
	out, err := t.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return nil, fmt.Errorf("subprocess: %s is not a git working tree: %w", dir, err)
	}
	if bytes.TrimSpace(out) == nil {
		return nil, fmt.Errorf("subprocess: %s is not a git working tree", dir)
	}
	return index.NewCore(t), nil
}

func (t *Tree) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = t.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git %v: %w: %s", args, err, stderr.String())
	}
	return out, nil
}

func (t *Tree) ReadFile(path string) ([]byte, bool, error) {
	b, err := os.ReadFile(filepath.Join(t.Dir, path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (t *Tree) WriteFile(path string, data []byte) error {
	full := filepath.Join(t.Dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
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

func (t *Tree) StageAndCommit(ctx context.Context, paths []string, message, authorName, authorEmail string) error {
	args := append([]string{"add"}, paths...)
	if _, err := t.run(ctx, args...); err != nil {
		return err
	}
	// Nothing staged: a no-op alteration produced byte-identical content.
	diff, err := t.run(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(diff)) == 0 {
		return nil
	}
	_, err = t.run(ctx, "-c", fmt.Sprintf("user.name=%s", authorName), "-c", fmt.Sprintf("user.email=%s", authorEmail), "commit", "-m", message)
	return err
}

func (t *Tree) Push(ctx context.Context) error {
	_, err := t.run(ctx, "push", "origin", "HEAD")
	return err
}

func (t *Tree) RemoteURL() string {
	return t.Remote
}
