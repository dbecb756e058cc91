package search

import (
	"context"
	"testing"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestUpsertThenQueryFindsMatch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, Document{ID: 1, Name: "tokio", Description: "an async runtime"}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, Document{ID: 2, Name: "serde", Description: "serialization framework"}); err != nil {
		t.Fatal(err)
	}

	res, err := idx.Query(ctx, "async runtime", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.IDs) != 1 || res.IDs[0] != 1 {
		t.Fatalf("IDs = %v, want [1]", res.IDs)
	}
	if res.Degraded {
		t.Error("did not expect a degraded result")
	}
}

func TestDeleteRemovesFromResults(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, Document{ID: 1, Name: "tokio", Description: "an async runtime"}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Delete(ctx, 1); err != nil {
		t.Fatal(err)
	}
	res, err := idx.Query(ctx, "tokio", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.IDs) != 0 {
		t.Fatalf("IDs = %v, want none after delete", res.IDs)
	}
}

func TestQueryPerPageLimitsHits(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		if err := idx.Upsert(ctx, Document{ID: i, Name: "demo", Description: "demo crate"}); err != nil {
			t.Fatal(err)
		}
	}
	res, err := idx.Query(ctx, "demo", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.IDs) != 2 {
		t.Fatalf("IDs count = %d, want 2", len(res.IDs))
	}
	if res.Total != 5 {
		t.Errorf("Total = %d, want 5", res.Total)
	}
}

func TestDegradedIndexAnswersEmpty(t *testing.T) {
	idx := &Index{}
	idx.degraded.Store(true)

	res, err := idx.Query(context.Background(), "anything", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Degraded {
		t.Error("expected a degraded result")
	}
	if err := idx.Upsert(context.Background(), Document{ID: 1}); err == nil {
		t.Error("expected Upsert to fail on a degraded index")
	}
}
