// Package librarygit implements the index manager in-process with
// go-git, for deployments that would rather not depend on a git
// binary being present in the runtime image.
package librarygit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	gopath "path"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/cratehub/registry/internal/index"
)

// Tree drives an in-process git.Repository checkout.
type Tree struct {
	repo   *git.Repository
	wt     *git.Worktree
	remote string
	auth   transport.AuthMethod
}

// Open clones remote into dir if dir isn't already a checkout, or
// opens the existing checkout, and returns a Manager backed by it.
//
// Credentials for an ssh:// remote are resolved from the calling
// user's ssh-agent, matching go-git's own default; an https:// remote
// is expected to already be reachable without extra credentials (e.g.
// via a pre-configured .netrc) since the spec does not define a
// dedicated HTTPS credential source for this variant.
func Open(ctx context.Context, dir, remote string) (index.Manager, error) {
	var auth transport.AuthMethod
	if ep, err := transport.NewEndpoint(remote); err == nil && ep.Protocol == "ssh" {
		if sshAuth, err := ssh.NewSSHAgentAuth("git"); err == nil {
			auth = sshAuth
		}
	}

	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:  remote,
			Auth: auth,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("librarygit: open %s: %w", dir, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("librarygit: worktree: %w", err)
	}

	t := &Tree{repo: repo, wt: wt, remote: remote, auth: auth}
	return index.NewCore(t), nil
}

func (t *Tree) ReadFile(path string) ([]byte, bool, error) {
	f, err := t.wt.Filesystem.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// WriteFile replaces dst's content via a temp file plus rename against
// the worktree filesystem, so a write failure partway through leaves
// dst untouched rather than truncated, mirroring the subprocess
// backend's recovery guarantee.
func (t *Tree) WriteFile(dst string, data []byte) error {
	dir := gopath.Dir(dst)
	if err := t.wt.Filesystem.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := t.wt.Filesystem.TempFile(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		t.wt.Filesystem.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		t.wt.Filesystem.Remove(tmpName)
		return err
	}
	return t.wt.Filesystem.Rename(tmpName, dst)
}

func (t *Tree) StageAndCommit(ctx context.Context, paths []string, message, authorName, authorEmail string) error {
	for _, p := range paths {
		if _, err := t.wt.Add(p); err != nil {
			return fmt.Errorf("librarygit: add %s: %w", p, err)
		}
	}
	status, err := t.wt.Status()
	if err != nil {
		return fmt.Errorf("librarygit: status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	_, err = t.wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("librarygit: commit: %w", err)
	}
	return nil
}

func (t *Tree) Push(ctx context.Context) error {
	err := t.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       t.auth,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("librarygit: push: %w", err)
	}
	return nil
}

func (t *Tree) RemoteURL() string {
	return t.remote
}
