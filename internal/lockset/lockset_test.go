package lockset

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestTryLockExclusive(t *testing.T) {
	s := New()
	lc1, done1 := s.TryLock(context.Background(), "foo_bar")
	if err := lc1.Err(); err != nil {
		t.Fatalf("first TryLock should succeed: %v", err)
	}
	defer done1()

	lc2, done2 := s.TryLock(context.Background(), "foo_bar")
	defer done2()
	if err := lc2.Err(); err == nil {
		t.Fatal("second TryLock on the same key should fail while held")
	}
}

func TestTryLockDistinctKeys(t *testing.T) {
	s := New()
	lc1, done1 := s.TryLock(context.Background(), "foo_bar")
	defer done1()
	if err := lc1.Err(); err != nil {
		t.Fatal(err)
	}

	lc2, done2 := s.TryLock(context.Background(), "baz_qux")
	defer done2()
	if err := lc2.Err(); err != nil {
		t.Fatal("distinct keys must not contend")
	}
}

func TestLockReleaseReacquire(t *testing.T) {
	s := New()
	lc, done := s.Lock(context.Background(), "foo_bar")
	if err := lc.Err(); err != nil {
		t.Fatal(err)
	}
	done()

	lc2, done2 := s.TryLock(context.Background(), "foo_bar")
	defer done2()
	if err := lc2.Err(); err != nil {
		t.Fatal("lock should be free after release")
	}
}

func TestLockBlocksUntilReleased(t *testing.T) {
	s := New()
	_, done1 := s.Lock(context.Background(), "foo_bar")

	var wg sync.WaitGroup
	wg.Add(1)
	acquiredAt := make(chan time.Time, 1)
	go func() {
		defer wg.Done()
		lc, done := s.Lock(context.Background(), "foo_bar")
		acquiredAt <- time.Now()
		done()
		_ = lc
	}()

	time.Sleep(20 * time.Millisecond)
	releasedAt := time.Now()
	done1()
	wg.Wait()

	if (<-acquiredAt).Before(releasedAt) {
		t.Fatal("second Lock acquired before the first was released")
	}
}

func TestLockCanceledByParent(t *testing.T) {
	s := New()
	_, done1 := s.Lock(context.Background(), "foo_bar")
	defer done1()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	lc, done := s.Lock(ctx, "foo_bar")
	defer done()
	if err := lc.Err(); err == nil {
		t.Fatal("expected Lock to be canceled by parent context timeout")
	}
}

func TestConcurrentDistinctKeysNoContention(t *testing.T) {
	s := New()
	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			lc, done := s.Lock(context.Background(), key)
			defer done()
			if err := lc.Err(); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
}
