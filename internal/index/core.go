package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/Masterminds/semver"

	"github.com/cratehub/registry"
)

// Tree abstracts the git plumbing a backend must provide. Both the
// subprocess and go-git backends implement it; Core contains every
// bit of logic that doesn't depend on which one is in play.
type Tree interface {
	// ReadFile returns the current working-tree content of path and
	// whether it exists.
	ReadFile(path string) ([]byte, bool, error)
	// WriteFile atomically replaces path's content in the working
	// tree (temp file + rename), without staging or committing.
	WriteFile(path string, data []byte) error
	// StageAndCommit stages paths and commits them. No-op (returns nil,
	// no commit created) if the stage produces no diff.
	StageAndCommit(ctx context.Context, paths []string, message, authorName, authorEmail string) error
	// Push pushes pending local commits to the configured remote.
	Push(ctx context.Context) error
	// RemoteURL returns the configured remote URL.
	RemoteURL() string
}

// Core implements Manager against a Tree, serializing the write path
// so the shared working tree never has two operations dirtying it at
// once, per the specification's single-writer requirement on the
// index working tree.
type Core struct {
	t  Tree
	mu sync.Mutex
}

// NewCore wraps t as a Manager.
func NewCore(t Tree) *Core {
	return &Core{t: t}
}

func (c *Core) LatestRecord(ctx context.Context, name string) (registry.IndexRecord, error) {
	records, err := c.AllRecords(ctx, name)
	if err != nil {
		return registry.IndexRecord{}, err
	}
	if len(records) == 0 {
		return registry.IndexRecord{}, &registry.Error{Op: "LatestRecord", Kind: registry.ErrRecordMissing, Message: name}
	}
	return records[len(records)-1], nil
}

func (c *Core) AllRecords(ctx context.Context, name string) ([]registry.IndexRecord, error) {
	b, ok, err := c.t.ReadFile(ShardPath(name))
	if err != nil {
		return nil, &registry.Error{Op: "AllRecords", Kind: registry.ErrStorageUnavailable, Inner: err}
	}
	if !ok {
		return nil, nil
	}
	return decodeRecords(b)
}

func (c *Core) MatchRecord(ctx context.Context, name, req string) (registry.IndexRecord, error) {
	records, err := c.AllRecords(ctx, name)
	if err != nil {
		return registry.IndexRecord{}, err
	}
	constraint, err := semver.NewConstraint(req)
	if err != nil {
		return registry.IndexRecord{}, &registry.Error{Op: "MatchRecord", Kind: registry.ErrBadSemver, Message: req, Inner: err}
	}
	var best *registry.IndexRecord
	var bestVer *semver.Version
	for i := range records {
		v, err := semver.NewVersion(records[i].Vers)
		if err != nil {
			continue
		}
		if !constraint.Check(v) {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			bestVer = v
			best = &records[i]
		}
	}
	if best == nil {
		return registry.IndexRecord{}, &registry.Error{Op: "MatchRecord", Kind: registry.ErrRecordMissing, Message: fmt.Sprintf("%s %s", name, req)}
	}
	return *best, nil
}

// AddRecord appends rec's line to its crate's file and commits the
// change locally. It does not push; call CommitAndPush to publish.
func (c *Core) AddRecord(ctx context.Context, rec registry.IndexRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := ShardPath(rec.Name)
	existing, _, err := c.t.ReadFile(p)
	if err != nil {
		return &registry.Error{Op: "AddRecord", Kind: registry.ErrStorageUnavailable, Inner: err}
	}

	updated, err := appendRecordLine(existing, rec)
	if err != nil {
		return &registry.Error{Op: "AddRecord", Kind: registry.ErrBadMetadata, Inner: err}
	}

	if err := c.t.WriteFile(p, updated); err != nil {
		// Working tree is left as it was: WriteFile is atomic (temp
		// file + rename) so a failure here never leaves a partial line.
		return &registry.Error{Op: "AddRecord", Kind: registry.ErrStorageUnavailable, Inner: err}
	}

	msg := fmt.Sprintf("Updating crate '%s#%s'", rec.Name, rec.Vers)
	if err := c.t.StageAndCommit(ctx, []string{p}, msg, "registry", "registry@localhost"); err != nil {
		return &registry.Error{Op: "AddRecord", Kind: registry.ErrRemotePushFailed, Inner: err}
	}
	return nil
}

// AlterRecord rewrites the record at (name, vers) via f and commits
// the change, unless f's result is identical to the input.
func (c *Core) AlterRecord(ctx context.Context, name, vers string, f func(registry.IndexRecord) registry.IndexRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := ShardPath(name)
	existing, ok, err := c.t.ReadFile(p)
	if err != nil {
		return &registry.Error{Op: "AlterRecord", Kind: registry.ErrStorageUnavailable, Inner: err}
	}
	if !ok {
		return &registry.Error{Op: "AlterRecord", Kind: registry.ErrRecordMissing, Message: name}
	}
	records, err := decodeRecords(existing)
	if err != nil {
		return &registry.Error{Op: "AlterRecord", Kind: registry.ErrInternal, Inner: err}
	}

	idx := -1
	for i, rec := range records {
		if rec.Vers == vers {
			idx = i
			break
		}
	}
	if idx == -1 {
		return &registry.Error{Op: "AlterRecord", Kind: registry.ErrRecordMissing, Message: name + "#" + vers}
	}

	altered := f(records[idx])
	if recordsEqual(altered, records[idx]) {
		return nil // idempotent: no new commit
	}
	records[idx] = altered

	encoded, err := encodeRecords(records)
	if err != nil {
		return &registry.Error{Op: "AlterRecord", Kind: registry.ErrInternal, Inner: err}
	}
	if err := c.t.WriteFile(p, encoded); err != nil {
		return &registry.Error{Op: "AlterRecord", Kind: registry.ErrStorageUnavailable, Inner: err}
	}

	msg := fmt.Sprintf("Updating crate '%s#%s'", name, vers)
	if err := c.t.StageAndCommit(ctx, []string{p}, msg, "registry", "registry@localhost"); err != nil {
		return &registry.Error{Op: "AlterRecord", Kind: registry.ErrRemotePushFailed, Inner: err}
	}
	return nil
}

func (c *Core) URLFromConfig() string {
	return c.t.RemoteURL()
}

func (c *Core) CommitAndPush(ctx context.Context, message, authorName, authorEmail string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.t.Push(ctx); err != nil {
		return &registry.Error{Op: "CommitAndPush", Kind: registry.ErrRemotePushFailed, Inner: err}
	}
	return nil
}

func recordsEqual(a, b registry.IndexRecord) bool {
	ab, err := encodeRecords([]registry.IndexRecord{a})
	if err != nil {
		return false
	}
	bb, err := encodeRecords([]registry.IndexRecord{b})
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
