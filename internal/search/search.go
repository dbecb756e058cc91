// Package search maintains a full-text index over crate name and
// description, kept consistent with the catalog by an explicit upsert
// from the publish pipeline after each publish.
package search

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/cratehub/registry"
)

// Document is the indexed representation of a crate.
type Document struct {
	ID          int64    `json:"-"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Categories  []string `json:"categories"`
	Keywords    []string `json:"keywords"`
}

// Result is one page of a search query. Degraded is set when the
// index is unavailable (construction failed, a prior write failed,
// or this query itself failed) and the empty result is a fallback,
// not a real zero-hit answer.
type Result struct {
	IDs      []int64
	Total    int
	Degraded bool
}

// Index wraps an in-process bleve index. A query never fails: once
// degraded (construction or a write failed) it answers every query
// with an empty, Degraded result. Writes on a degraded index return a
// search-index-degraded error, which the publish pipeline logs
// without failing the publish.
type Index struct {
	mu       sync.RWMutex
	bl       bleve.Index
	degraded atomic.Bool
}

const (
	defaultPerPage = 15
	maxPerPage     = 100
)

// New builds a fresh in-memory bleve index. A deployment that wants a
// persistent index passes a non-empty path to NewAt instead.
func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		i := &Index{}
		i.degraded.Store(true)
		return i, markDegraded(err)
	}
	return &Index{bl: idx}, nil
}

// NewAt opens or creates a bleve index rooted at path, so the search
// index survives process restarts without a full catalog replay.
func NewAt(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		i := &Index{}
		i.degraded.Store(true)
		return i, fmt.Errorf("search: open %s: %w", path, err)
	}
	return &Index{bl: idx}, nil
}

func markDegraded(err error) error {
	return &registry.Error{Op: "search.New", Kind: registry.ErrSearchIndexDegraded, Inner: err}
}

// buildMapping indexes name, description, categories, and keywords as
// analyzed text; id is kept out of the mapping since it lives in the
// document key instead.
func buildMapping() *mapping.IndexMappingImpl {
	doc := bleve.NewDocumentMapping()
	text := bleve.NewTextFieldMapping()
	doc.AddFieldMappingsAt("name", text)
	doc.AddFieldMappingsAt("description", text)
	doc.AddFieldMappingsAt("categories", text)
	doc.AddFieldMappingsAt("keywords", text)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

// Degraded reports whether the index is running without a working
// backing store. In that state a query returns an empty result and a
// write changes nothing and returns an error.
func (x *Index) Degraded() bool {
	return x.degraded.Load()
}

// Upsert indexes or reindexes doc by its crate id. A failure here is
// logged by the caller and never fails the publish pipeline.
func (x *Index) Upsert(ctx context.Context, doc Document) error {
	if x.degraded.Load() {
		return markDegraded(fmt.Errorf("index unavailable"))
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.bl.Index(idKey(doc.ID), doc); err != nil {
		x.degraded.Store(true)
		return markDegraded(err)
	}
	return nil
}

// Delete removes a crate's document by id.
func (x *Index) Delete(ctx context.Context, id int64) error {
	if x.degraded.Load() {
		return markDegraded(fmt.Errorf("index unavailable"))
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.bl.Delete(idKey(id)); err != nil {
		x.degraded.Store(true)
		return markDegraded(err)
	}
	return nil
}

// Query searches name, description, categories, and keywords for q,
// returning crate ids ordered by relevance. per_page is clamped to
// maxPerPage and defaulted to defaultPerPage when zero.
func (x *Index) Query(ctx context.Context, q string, page, perPage int) (Result, error) {
	if x.degraded.Load() {
		return Result{Degraded: true}, nil
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if page < 0 {
		page = 0
	}

	query := bleve.NewDisjunctionQuery(
		bleve.NewMatchQuery(q),
		bleve.NewMatchPhraseQuery(q),
	)
	req := bleve.NewSearchRequestOptions(query, perPage, page*perPage, false)

	x.mu.RLock()
	defer x.mu.RUnlock()
	res, err := x.bl.SearchInContext(ctx, req)
	if err != nil {
		return Result{Degraded: true}, nil // a query failure degrades to empty, never an error
	}

	ids := make([]int64, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := idFromKey(hit.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return Result{IDs: ids, Total: int(res.Total)}, nil
}

// Close releases the underlying index resources.
func (x *Index) Close() error {
	if x.bl == nil {
		return nil
	}
	return x.bl.Close()
}

func idKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func idFromKey(key string) (int64, error) {
	return strconv.ParseInt(key, 10, 64)
}
