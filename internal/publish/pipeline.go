// Package publish implements the registry's one serialized critical
// section: accepting a publish frame, validating it against the
// catalog and index, and committing it across storage, the index, the
// catalog, and the search index, with compensation on partial
// failure.
package publish

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Masterminds/semver"
	"github.com/quay/zlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cratehub/registry"
	"github.com/cratehub/registry/internal/catalog"
	"github.com/cratehub/registry/internal/index"
	"github.com/cratehub/registry/internal/lockset"
	"github.com/cratehub/registry/internal/search"
	"github.com/cratehub/registry/internal/storage"
)

// endSpan records err on span, if non-nil, before closing it. Meant
// to be deferred right after tracer.Start.
func endSpan(span trace.Span, err *error) func() {
	return func() {
		if *err != nil {
			span.RecordError(*err)
			span.SetStatus(codes.Error, (*err).Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

const (
	DefaultMaxMetadataBytes = 10 << 20
	DefaultMaxArchiveBytes  = 512 << 20
	DefaultMaxConcurrent    = 8
)

// Options are the dependencies and tunables a Pipeline is built from.
type Options struct {
	DB      *catalog.DB
	Index   index.Manager
	Storage storage.Manager
	Search  *search.Index
	Locks   *lockset.Set

	MaxConcurrentPublish int
	MaxMetadataBytes     int64
	MaxArchiveBytes      int64
}

// Pipeline is the publish/yank/ownership orchestrator. One instance
// is shared by every request handler.
type Pipeline struct {
	*Options
	sem chan struct{}
}

// New validates opts and returns a ready-to-use Pipeline.
func New(opts *Options) (*Pipeline, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("field DB cannot be nil")
	}
	if opts.Index == nil {
		return nil, fmt.Errorf("field Index cannot be nil")
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("field Storage cannot be nil")
	}
	if opts.Search == nil {
		return nil, fmt.Errorf("field Search cannot be nil")
	}
	if opts.Locks == nil {
		return nil, fmt.Errorf("field Locks cannot be nil")
	}
	if opts.MaxConcurrentPublish <= 0 {
		opts.MaxConcurrentPublish = DefaultMaxConcurrent
	}
	if opts.MaxMetadataBytes <= 0 {
		opts.MaxMetadataBytes = DefaultMaxMetadataBytes
	}
	if opts.MaxArchiveBytes <= 0 {
		opts.MaxArchiveBytes = DefaultMaxArchiveBytes
	}
	return &Pipeline{
		Options: opts,
		sem:     make(chan struct{}, opts.MaxConcurrentPublish),
	}, nil
}

// Publish runs the full publish algorithm for the frame read from
// body, as the author already authenticated by the caller.
func (p *Pipeline) Publish(ctx context.Context, author registry.Author, body io.Reader) (result Result, err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "publish/Pipeline.Publish")
	ctx, span := tracer.Start(ctx, "Pipeline.Publish")
	defer endSpan(span, &err)()
	defer observe("publish", &err)()

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	default:
		return Result{}, &registry.Error{Op: "Publish", Kind: registry.ErrServerBusy, Message: "too many concurrent publishes"}
	}

	metaBytes, archive, err := parseFrame(body, p.MaxMetadataBytes, p.MaxArchiveBytes)
	if err != nil {
		return Result{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return Result{}, &registry.Error{Op: "Publish", Kind: registry.ErrBadMetadata, Inner: err}
	}

	vers, err := registry.ParseVersion(meta.Vers)
	if err != nil {
		return Result{}, err
	}
	canonName := registry.Normalize(meta.Name)
	span.SetAttributes(attribute.String("crate.name", meta.Name), attribute.String("crate.vers", meta.Vers))

	lockCtx, release := p.Locks.Lock(ctx, canonName)
	defer release()
	if err := lockCtx.Err(); err != nil {
		return Result{}, &registry.Error{Op: "Publish", Kind: registry.ErrServerBusy, Inner: err}
	}
	ctx = lockCtx

	existing, err := p.DB.GetCrateByName(ctx, canonName)
	exists := true
	switch {
	case errors.Is(err, registry.ErrRecordMissing):
		exists = false
	case err != nil:
		return Result{}, err
	}

	if exists {
		owner, err := p.DB.IsOwner(ctx, existing.ID, author.ID)
		if err != nil {
			return Result{}, err
		}
		if !owner {
			return Result{}, &registry.Error{Op: "Publish", Kind: registry.ErrForbidden, Message: canonName}
		}
		if existing.Name != meta.Name {
			return Result{}, &registry.Error{Op: "Publish", Kind: registry.ErrNameCollision, Message: meta.Name}
		}
	}

	deps, err := convertDeps(meta.Deps)
	if err != nil {
		return Result{}, err
	}
	for i, d := range meta.Deps {
		if d.Registry != "" {
			continue // dependency resolved against another registry, not ours to validate
		}
		if _, err := p.DB.GetCrateByName(ctx, d.Name); err != nil {
			if errors.Is(err, registry.ErrRecordMissing) {
				return Result{}, &registry.Error{Op: "Publish", Kind: registry.ErrMissingDependency, Message: meta.Deps[i].Name}
			}
			return Result{}, err
		}
	}

	if exists {
		records, err := p.Index.AllRecords(ctx, meta.Name)
		if err != nil {
			return Result{}, err
		}
		for _, rec := range records {
			old, err := registry.ParseVersion(rec.Vers)
			if err != nil {
				continue
			}
			if !vers.GreaterThan(old) {
				return Result{}, &registry.Error{Op: "Publish", Kind: registry.ErrVersionNotGreater, Message: fmt.Sprintf("%s is not greater than already-published %s", vers, old)}
			}
		}
	}

	var warnings Warnings

	tx, err := p.DB.BeginTx(ctx)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	crate, err := tx.UpsertCrate(ctx, registry.Crate{
		Name:          meta.Name,
		CanonName:     canonName,
		Description:   meta.Description,
		Documentation: meta.Documentation,
		Repository:    meta.Repository,
	})
	if err != nil {
		return Result{}, err
	}
	if err := tx.ReplaceKeywords(ctx, crate.ID, meta.Keywords); err != nil {
		return Result{}, err
	}
	unknownCategories, err := tx.ReplaceCategories(ctx, crate.ID, meta.Categories)
	if err != nil {
		return Result{}, err
	}
	warnings.InvalidCategories = unknownCategories
	unknownBadges, err := tx.ReplaceBadges(ctx, crate.ID, badgesFromMetadata(crate.ID, meta.Badges))
	if err != nil {
		return Result{}, err
	}
	warnings.InvalidBadges = unknownBadges

	sum := sha256.Sum256(archive)
	cksum := hex.EncodeToString(sum[:])

	if err := p.Storage.PutCrate(ctx, meta.Name, meta.Vers, bytes.NewReader(archive)); err != nil {
		return Result{}, &registry.Error{Op: "Publish", Kind: registry.ErrStorageUnavailable, Inner: err}
	}

	source, missing, err := extractReadme(archive, meta)
	if err != nil {
		p.Storage.DeleteCrate(ctx, meta.Name, meta.Vers)
		return Result{}, &registry.Error{Op: "Publish", Kind: registry.ErrMalformedUpload, Inner: err}
	}
	if missing != "" {
		warnings.Other = append(warnings.Other, missing)
	}
	html, err := renderReadme(source)
	if err != nil {
		p.Storage.DeleteCrate(ctx, meta.Name, meta.Vers)
		return Result{}, &registry.Error{Op: "Publish", Kind: registry.ErrInternal, Inner: err}
	}
	if err := p.Storage.PutReadme(ctx, meta.Name, meta.Vers, html); err != nil {
		p.Storage.DeleteCrate(ctx, meta.Name, meta.Vers)
		return Result{}, &registry.Error{Op: "Publish", Kind: registry.ErrStorageUnavailable, Inner: err}
	}

	rec := registry.IndexRecord{
		Name:     meta.Name,
		Vers:     meta.Vers,
		Deps:     deps,
		Cksum:    cksum,
		Features: meta.Features,
		Yanked:   false,
		Links:    meta.Links,
	}
	if err := p.Index.AddRecord(ctx, rec); err != nil {
		p.rollbackBlobs(ctx, meta.Name, meta.Vers)
		return Result{}, err
	}
	msg := fmt.Sprintf("Updating crate '%s#%s'", meta.Name, meta.Vers)
	if err := p.Index.CommitAndPush(ctx, msg, "registry", "registry@localhost"); err != nil {
		// The local commit stays in the working tree; the caller can
		// retry CommitAndPush without re-appending the record.
		p.rollbackBlobs(ctx, meta.Name, meta.Vers)
		return Result{}, err
	}

	if err := p.Search.Upsert(ctx, search.Document{
		ID:          crate.ID,
		Name:        meta.Name,
		Description: meta.Description,
		Categories:  meta.Categories,
		Keywords:    meta.Keywords,
	}); err != nil {
		zlog.Warn(ctx).Err(err).Msg("search index upsert failed, publish continues")
	}

	if err := tx.Commit(); err != nil {
		zlog.Error(ctx).Err(err).Str("crate", canonName).Str("vers", meta.Vers).
			Msg("catalog commit failed after index push; reconciliation required")
		return Result{}, &registry.Error{Op: "Publish", Kind: registry.ErrDatabaseUnavailable, Inner: err}
	}

	// The publisher of a new crate becomes its first owner.
	if !exists {
		if err := p.DB.AddOwners(ctx, crate.ID, []string{author.Email}); err != nil {
			return Result{}, err
		}
	}

	return Result{Warnings: warnings}, nil
}

// rollbackBlobs removes the archive and README blobs written earlier
// in the current publish attempt. Best effort: a failure here is
// logged, not returned, since the caller is already reporting the
// original error.
func (p *Pipeline) rollbackBlobs(ctx context.Context, name, vers string) {
	if err := p.Storage.DeleteCrate(ctx, name, vers); err != nil {
		zlog.Warn(ctx).Err(err).Msg("compensation: failed to delete crate blob")
	}
	if err := p.Storage.DeleteReadme(ctx, name, vers); err != nil {
		zlog.Warn(ctx).Err(err).Msg("compensation: failed to delete readme blob")
	}
}

// Yank flips yanked to true for (name, vers). Idempotent; caller must
// be an owner.
func (p *Pipeline) Yank(ctx context.Context, author registry.Author, name, vers string) error {
	return p.setYanked(ctx, author, name, vers, true)
}

// Unyank flips yanked to false for (name, vers).
func (p *Pipeline) Unyank(ctx context.Context, author registry.Author, name, vers string) error {
	return p.setYanked(ctx, author, name, vers, false)
}

func (p *Pipeline) setYanked(ctx context.Context, author registry.Author, name, vers string, yanked bool) (err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "publish/Pipeline.setYanked")
	ctx, span := tracer.Start(ctx, "Pipeline.setYanked", trace.WithAttributes(
		attribute.String("crate.name", name), attribute.String("crate.vers", vers), attribute.Bool("yanked", yanked)))
	defer endSpan(span, &err)()
	op := "yank"
	if !yanked {
		op = "unyank"
	}
	defer observe(op, &err)()
	canonName := registry.Normalize(name)

	lockCtx, release := p.Locks.Lock(ctx, canonName)
	defer release()
	if err := lockCtx.Err(); err != nil {
		return &registry.Error{Op: "setYanked", Kind: registry.ErrServerBusy, Inner: err}
	}
	ctx = lockCtx

	crate, err := p.DB.GetCrateByName(ctx, canonName)
	if err != nil {
		return err
	}
	owner, err := p.DB.IsOwner(ctx, crate.ID, author.ID)
	if err != nil {
		return err
	}
	if !owner {
		return &registry.Error{Op: "setYanked", Kind: registry.ErrForbidden, Message: canonName}
	}

	return p.Index.AlterRecord(ctx, name, vers, func(rec registry.IndexRecord) registry.IndexRecord {
		rec.Yanked = yanked
		return rec
	})
}

// AddOwners adds emails as owners of name.
func (p *Pipeline) AddOwners(ctx context.Context, author registry.Author, name string, emails []string) error {
	crate, ctx, release, err := p.authorizedCrate(ctx, author, name)
	defer release()
	if err != nil {
		return err
	}
	return p.DB.AddOwners(ctx, crate.ID, emails)
}

// RemoveOwners removes emails from name's owner set.
func (p *Pipeline) RemoveOwners(ctx context.Context, author registry.Author, name string, emails []string) error {
	crate, ctx, release, err := p.authorizedCrate(ctx, author, name)
	defer release()
	if err != nil {
		return err
	}
	return p.DB.RemoveOwners(ctx, crate.ID, emails)
}

// authorizedCrate resolves name to its crate row under the crate's
// per-canon_name lock, which the caller must release, and checks that
// author owns it.
func (p *Pipeline) authorizedCrate(ctx context.Context, author registry.Author, name string) (registry.Crate, context.Context, context.CancelFunc, error) {
	canonName := registry.Normalize(name)
	lockCtx, release := p.Locks.Lock(ctx, canonName)
	if err := lockCtx.Err(); err != nil {
		return registry.Crate{}, lockCtx, release, &registry.Error{Op: "authorizedCrate", Kind: registry.ErrServerBusy, Inner: err}
	}

	crate, err := p.DB.GetCrateByName(lockCtx, canonName)
	if err != nil {
		return registry.Crate{}, lockCtx, release, err
	}
	owner, err := p.DB.IsOwner(lockCtx, crate.ID, author.ID)
	if err != nil {
		return registry.Crate{}, lockCtx, release, err
	}
	if !owner {
		return registry.Crate{}, lockCtx, release, &registry.Error{Op: "authorizedCrate", Kind: registry.ErrForbidden, Message: name}
	}
	return crate, lockCtx, release, nil
}

// Download increments the crate's download counter and returns its
// archive stream. The caller is responsible for closing it.
func (p *Pipeline) Download(ctx context.Context, name, vers string) (_ io.ReadCloser, err error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Download", trace.WithAttributes(
		attribute.String("crate.name", name), attribute.String("crate.vers", vers)))
	defer endSpan(span, &err)()
	defer observe("download", &err)()

	r, err := p.Storage.GetCrate(ctx, name, vers)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, &registry.Error{Op: "Download", Kind: registry.ErrRecordMissing, Message: name + "#" + vers}
		}
		return nil, &registry.Error{Op: "Download", Kind: registry.ErrStorageUnavailable, Inner: err}
	}
	if err := p.DB.IncrementDownloads(ctx, registry.Normalize(name)); err != nil {
		zlog.Warn(ctx).Err(err).Msg("download counter increment failed")
	}
	return r, nil
}

func convertDeps(deps []Dependency) ([]registry.Dependency, error) {
	out := make([]registry.Dependency, 0, len(deps))
	for _, d := range deps {
		if _, err := semver.NewConstraint(d.VersionReq); err != nil {
			return nil, &registry.Error{Op: "convertDeps", Kind: registry.ErrBadSemver, Message: d.VersionReq, Inner: err}
		}
		name := d.Name
		pkg := ""
		if d.ExplicitNameInToml != "" {
			pkg = d.Name
			name = d.ExplicitNameInToml
		}
		out = append(out, registry.Dependency{
			Name:            name,
			Req:             d.VersionReq,
			Features:        d.Features,
			Optional:        d.Optional,
			DefaultFeatures: d.DefaultFeatures,
			Target:          d.Target,
			Kind:            d.Kind,
			Registry:        d.Registry,
			Package:         pkg,
		})
	}
	return out, nil
}

func badgesFromMetadata(crateID int64, badges map[string]Badge) []registry.Badge {
	out := make([]registry.Badge, 0, len(badges))
	for badgeType, params := range badges {
		b, err := json.Marshal(params)
		if err != nil {
			continue
		}
		out = append(out, registry.Badge{CrateID: crateID, BadgeType: badgeType, Params: b})
	}
	return out
}

