package publish

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/cratehub/registry"
	"github.com/cratehub/registry/internal/catalog"
	"github.com/cratehub/registry/internal/config"
	"github.com/cratehub/registry/internal/index"
	"github.com/cratehub/registry/internal/lockset"
	"github.com/cratehub/registry/internal/search"
	"github.com/cratehub/registry/internal/storage/disk"
)

// memTree is a minimal in-memory index.Tree, duplicated from the
// index package's own test fake since it isn't exported.
type memTree struct {
	files map[string][]byte
}

func newMemTree() *memTree { return &memTree{files: make(map[string][]byte)} }

func (m *memTree) ReadFile(path string) ([]byte, bool, error) {
	b, ok := m.files[path]
	return b, ok, nil
}
func (m *memTree) WriteFile(path string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.files[path] = cp
	return nil
}
func (m *memTree) StageAndCommit(ctx context.Context, paths []string, message, authorName, authorEmail string) error {
	return nil
}
func (m *memTree) Push(ctx context.Context) error { return nil }
func (m *memTree) RemoteURL() string              { return "https://example.test/index.git" }

func newTestPipeline(t *testing.T) (*Pipeline, *catalog.DB) {
	t.Helper()
	db, err := catalog.Open(context.Background(), config.DatabaseConfig{URL: config.MemoryDatabaseURL}, true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := disk.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	idx := index.NewCore(newMemTree())
	sx, err := search.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sx.Close() })

	p, err := New(&Options{
		DB:      db,
		Index:   idx,
		Storage: store,
		Search:  sx,
		Locks:   lockset.New(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return p, db
}

func buildArchive(t *testing.T, name, vers string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	root := name + "-" + vers
	for path, content := range files {
		hdr := &tar.Header{
			Name: root + "/" + path,
			Mode: 0o644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func buildFrame(t *testing.T, meta Metadata, archive []byte) []byte {
	t.Helper()
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	writeLen := func(n int) {
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(n))
		buf.Write(lb[:])
	}
	writeLen(len(metaBytes))
	buf.Write(metaBytes)
	writeLen(len(archive))
	buf.Write(archive)
	return buf.Bytes()
}

func createTestAuthor(t *testing.T, db *catalog.DB, email string) registry.Author {
	t.Helper()
	a, err := db.CreateAuthor(context.Background(), email, "Test Author", []byte("digest"), []byte("salt"))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestPublishFirstVersion(t *testing.T) {
	p, db := newTestPipeline(t)
	author := createTestAuthor(t, db, "a@example.test")

	meta := Metadata{
		Name:        "demo-crate",
		Vers:        "1.0.0",
		Description: "a demo crate",
		Keywords:    []string{"demo"},
		Readme:      "# Demo\n\nHello.",
	}
	archive := buildArchive(t, meta.Name, meta.Vers, nil)
	frame := buildFrame(t, meta, archive)

	result, err := p.Publish(context.Background(), author, bytes.NewReader(frame))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Warnings.InvalidCategories) != 0 {
		t.Errorf("unexpected invalid categories: %v", result.Warnings.InvalidCategories)
	}

	crate, err := db.GetCrateByName(context.Background(), "demo-crate")
	if err != nil {
		t.Fatal(err)
	}
	if crate.Description != meta.Description {
		t.Errorf("Description = %q, want %q", crate.Description, meta.Description)
	}

	rec, err := p.Index.LatestRecord(context.Background(), "demo-crate")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Vers != "1.0.0" {
		t.Errorf("index record vers = %q, want 1.0.0", rec.Vers)
	}
	if rec.Cksum == "" {
		t.Error("expected a populated checksum")
	}

	html, err := p.Storage.GetReadme(context.Background(), "demo-crate", "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(html) == 0 {
		t.Error("expected rendered readme content")
	}
}

func TestPublishSecondVersionMustBeGreater(t *testing.T) {
	p, db := newTestPipeline(t)
	author := createTestAuthor(t, db, "a@example.test")

	meta := Metadata{Name: "demo-crate", Vers: "1.0.0"}
	frame := buildFrame(t, meta, buildArchive(t, meta.Name, meta.Vers, nil))
	if _, err := p.Publish(context.Background(), author, bytes.NewReader(frame)); err != nil {
		t.Fatal(err)
	}

	meta2 := Metadata{Name: "demo-crate", Vers: "0.9.0"}
	frame2 := buildFrame(t, meta2, buildArchive(t, meta2.Name, meta2.Vers, nil))
	_, err := p.Publish(context.Background(), author, bytes.NewReader(frame2))
	if !errIsKind(err, registry.ErrVersionNotGreater) {
		t.Fatalf("expected version-not-greater, got %v", err)
	}
}

func TestPublishByNonOwnerIsForbidden(t *testing.T) {
	p, db := newTestPipeline(t)
	owner := createTestAuthor(t, db, "owner@example.test")
	intruder := createTestAuthor(t, db, "intruder@example.test")

	meta := Metadata{Name: "demo-crate", Vers: "1.0.0"}
	frame := buildFrame(t, meta, buildArchive(t, meta.Name, meta.Vers, nil))
	if _, err := p.Publish(context.Background(), owner, bytes.NewReader(frame)); err != nil {
		t.Fatal(err)
	}

	meta2 := Metadata{Name: "demo-crate", Vers: "2.0.0"}
	frame2 := buildFrame(t, meta2, buildArchive(t, meta2.Name, meta2.Vers, nil))
	_, err := p.Publish(context.Background(), intruder, bytes.NewReader(frame2))
	if !errIsKind(err, registry.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestPublishMissingDependency(t *testing.T) {
	p, db := newTestPipeline(t)
	author := createTestAuthor(t, db, "a@example.test")

	meta := Metadata{
		Name: "demo-crate",
		Vers: "1.0.0",
		Deps: []Dependency{{Name: "no-such-crate", VersionReq: "^1.0"}},
	}
	frame := buildFrame(t, meta, buildArchive(t, meta.Name, meta.Vers, nil))
	_, err := p.Publish(context.Background(), author, bytes.NewReader(frame))
	if !errIsKind(err, registry.ErrMissingDependency) {
		t.Fatalf("expected missing-dependency, got %v", err)
	}
}

func TestPublishUnknownCategoryIsWarningNotError(t *testing.T) {
	p, db := newTestPipeline(t)
	author := createTestAuthor(t, db, "a@example.test")

	meta := Metadata{Name: "demo-crate", Vers: "1.0.0", Categories: []string{"not-a-real-category"}}
	frame := buildFrame(t, meta, buildArchive(t, meta.Name, meta.Vers, nil))
	result, err := p.Publish(context.Background(), author, bytes.NewReader(frame))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Warnings.InvalidCategories) != 1 || result.Warnings.InvalidCategories[0] != "not-a-real-category" {
		t.Errorf("Warnings.InvalidCategories = %v", result.Warnings.InvalidCategories)
	}
}

func TestYankAndUnyank(t *testing.T) {
	p, db := newTestPipeline(t)
	author := createTestAuthor(t, db, "a@example.test")

	meta := Metadata{Name: "demo-crate", Vers: "1.0.0"}
	frame := buildFrame(t, meta, buildArchive(t, meta.Name, meta.Vers, nil))
	if _, err := p.Publish(context.Background(), author, bytes.NewReader(frame)); err != nil {
		t.Fatal(err)
	}

	if err := p.Yank(context.Background(), author, "demo-crate", "1.0.0"); err != nil {
		t.Fatal(err)
	}
	rec, err := p.Index.LatestRecord(context.Background(), "demo-crate")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Yanked {
		t.Error("expected record to be yanked")
	}

	if err := p.Unyank(context.Background(), author, "demo-crate", "1.0.0"); err != nil {
		t.Fatal(err)
	}
	rec, err = p.Index.LatestRecord(context.Background(), "demo-crate")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Yanked {
		t.Error("expected record to be unyanked")
	}
}

func TestAddAndRemoveOwners(t *testing.T) {
	p, db := newTestPipeline(t)
	owner := createTestAuthor(t, db, "owner@example.test")
	createTestAuthor(t, db, "second@example.test")

	meta := Metadata{Name: "demo-crate", Vers: "1.0.0"}
	frame := buildFrame(t, meta, buildArchive(t, meta.Name, meta.Vers, nil))
	if _, err := p.Publish(context.Background(), owner, bytes.NewReader(frame)); err != nil {
		t.Fatal(err)
	}

	if err := p.AddOwners(context.Background(), owner, "demo-crate", []string{"second@example.test"}); err != nil {
		t.Fatal(err)
	}
	if err := p.RemoveOwners(context.Background(), owner, "demo-crate", []string{"owner@example.test"}); err != nil {
		t.Fatal(err)
	}
	if err := p.RemoveOwners(context.Background(), second, "demo-crate", []string{"second@example.test"}); !errIsKind(err, registry.ErrEmptyOwnerSet) {
		t.Fatalf("expected empty-owner-set, got %v", err)
	}
}

func TestDownloadIncrementsCounter(t *testing.T) {
	p, db := newTestPipeline(t)
	author := createTestAuthor(t, db, "a@example.test")

	meta := Metadata{Name: "demo-crate", Vers: "1.0.0"}
	frame := buildFrame(t, meta, buildArchive(t, meta.Name, meta.Vers, nil))
	if _, err := p.Publish(context.Background(), author, bytes.NewReader(frame)); err != nil {
		t.Fatal(err)
	}

	r, err := p.Download(context.Background(), "demo-crate", "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	r.Close()

	crate, err := db.GetCrateByName(context.Background(), "demo-crate")
	if err != nil {
		t.Fatal(err)
	}
	if crate.Downloads != 1 {
		t.Errorf("Downloads = %d, want 1", crate.Downloads)
	}
}

func errIsKind(err error, kind registry.ErrorKind) bool {
	re, ok := err.(*registry.Error)
	return ok && re.Kind == kind
}
