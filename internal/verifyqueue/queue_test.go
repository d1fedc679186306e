package verifyqueue

import (
	"errors"
	"testing"
	"time"

	"github.com/ironledger/ironchain/internal/xcrypto"
)

type testItem struct {
	hash   xcrypto.H256
	parent xcrypto.H256
	fail   bool
}

func newTestQueue(t *testing.T, signal chan string) *Queue[testItem, testItem] {
	t.Helper()
	create := func(in testItem) (testItem, error) { return in, nil }
	verify := func(v testItem, checkSeal bool) error {
		if v.fail {
			return errors.New("boom")
		}
		return nil
	}
	sizeOf := func(testItem) int { return 1 }
	parentOf := func(in testItem) xcrypto.H256 { return in.parent }
	q := NewQueue[testItem, testItem]("test", signal, create, verify, sizeOf, parentOf, Config{Workers: 1})
	t.Cleanup(q.Close)
	return q
}

func waitForDrain(t *testing.T, q *Queue[testItem, testItem], want int) []testItem {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		items := q.DrainVerified(want)
		if len(items) >= want {
			return items
		}
		if len(items) > 0 {
			// put back: re-import is not supported, so just sleep and retry
			// accumulation by importing nothing further; tests size want<=available.
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d verified items", want)
	return nil
}

func TestQueueVerifiesInOrder(t *testing.T) {
	q := newTestQueue(t, nil)
	h1 := xcrypto.Hash([]byte("a"))
	h2 := xcrypto.Hash([]byte("b"))
	if err := q.Import(h1, testItem{hash: h1}); err != nil {
		t.Fatalf("import h1: %v", err)
	}
	if err := q.Import(h2, testItem{hash: h2}); err != nil {
		t.Fatalf("import h2: %v", err)
	}
	items := waitForDrain(t, q, 2)
	if items[0].hash != h1 || items[1].hash != h2 {
		t.Fatalf("expected order preserved, got %v", items)
	}
}

func TestQueueAlreadyQueued(t *testing.T) {
	q := newTestQueue(t, nil)
	h := xcrypto.Hash([]byte("a"))
	if err := q.Import(h, testItem{hash: h}); err != nil {
		t.Fatalf("first import: %v", err)
	}
	if err := q.Import(h, testItem{hash: h}); err == nil {
		t.Fatalf("expected AlreadyQueued on duplicate import")
	}
}

func TestQueueKnownBadAndDescendantSweep(t *testing.T) {
	q := newTestQueue(t, nil)
	bad := xcrypto.Hash([]byte("bad"))
	child := xcrypto.Hash([]byte("child"))

	if err := q.Import(bad, testItem{hash: bad, fail: true}); err != nil {
		t.Fatalf("import bad: %v", err)
	}
	// give the worker a moment to drain the bad item before importing the child
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !q.IsBad(bad) {
		time.Sleep(5 * time.Millisecond)
	}
	if !q.IsBad(bad) {
		t.Fatalf("expected bad hash to be marked bad")
	}
	if err := q.Import(child, testItem{hash: child, parent: bad}); err == nil {
		t.Fatalf("expected KnownBad rejection for child of bad parent")
	}
}

func TestQueueMemCapRejectsOversizedImport(t *testing.T) {
	create := func(in testItem) (testItem, error) { return in, nil }
	verify := func(testItem, bool) error { return nil }
	sizeOf := func(testItem) int { return FloorMemCap + 1 }
	parentOf := func(in testItem) xcrypto.H256 { return in.parent }
	q := NewQueue[testItem, testItem]("test", nil, create, verify, sizeOf, parentOf, Config{Workers: 1, MemCap: FloorMemCap})
	defer q.Close()
	h := xcrypto.Hash([]byte("x"))
	if err := q.Import(h, testItem{hash: h}); err == nil {
		t.Fatalf("expected memory cap rejection")
	}
}
