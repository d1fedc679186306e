package trie

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ironledger/ironchain/internal/kv"
)

func TestTrieRoundTrip(t *testing.T) {
	db := kv.NewMemStore()
	tr := New(db)

	want := map[string][]byte{
		"alpha":   []byte("1"),
		"bravo":   []byte("2"),
		"charlie": []byte("3"),
		"delta":   []byte("4"),
	}
	for k, v := range want {
		if _, err := tr.Insert([]byte(k), v); err != nil {
			t.Fatalf("insert %s: %v", k, err)
		}
	}
	for k, v := range want {
		got, ok, err := tr.Get([]byte(k))
		if err != nil {
			t.Fatalf("get %s: %v", k, err)
		}
		if !ok || !bytes.Equal(got, v) {
			t.Fatalf("get %s = (%v, %v), want %v", k, got, ok, v)
		}
	}

	for k := range want {
		if _, err := tr.Remove([]byte(k)); err != nil {
			t.Fatalf("remove %s: %v", k, err)
		}
	}
	if !tr.IsEmpty() {
		t.Fatalf("trie not empty after removing every key")
	}
	if tr.Root() != EmptyRoot {
		t.Fatalf("root = %s, want empty root %s", tr.Root(), EmptyRoot)
	}
}

func TestMerkleDeterminismAcrossInsertOrder(t *testing.T) {
	entries := map[string][]byte{
		"k1": []byte("v1"),
		"k2": []byte("v2"),
		"k3": []byte("v3"),
		"k4": []byte("v4"),
		"k5": []byte("v5"),
	}
	orders := [][]string{
		{"k1", "k2", "k3", "k4", "k5"},
		{"k5", "k4", "k3", "k2", "k1"},
		{"k3", "k1", "k5", "k2", "k4"},
	}
	var roots []string
	for _, order := range orders {
		db := kv.NewMemStore()
		tr := New(db)
		for _, k := range order {
			if _, err := tr.Insert([]byte(k), entries[k]); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
		roots = append(roots, tr.Root().String())
	}
	for i := 1; i < len(roots); i++ {
		if roots[i] != roots[0] {
			t.Fatalf("root mismatch across insertion orders: %s vs %s", roots[0], roots[i])
		}
	}
}

func TestCacheCheckpointRevert(t *testing.T) {
	db := kv.NewMemStore()
	tr := New(db)
	c := NewCache(tr)

	c.Set([]byte("a"), []byte("1"))
	if _, err := c.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	c.Checkpoint()
	c.Set([]byte("a"), []byte("2"))
	c.Set([]byte("b"), []byte("new"))

	c.Checkpoint()
	c.Set([]byte("a"), []byte("3"))
	c.Delete([]byte("b"))
	c.RevertToCheckpoint() // undo inner checkpoint

	v, ok, _ := c.Get([]byte("a"))
	if !ok || string(v) != "2" {
		t.Fatalf("after inner revert, a = (%s, %v), want (2, true)", v, ok)
	}
	v, ok, _ = c.Get([]byte("b"))
	if !ok || string(v) != "new" {
		t.Fatalf("after inner revert, b = (%s, %v), want (new, true)", v, ok)
	}

	c.RevertToCheckpoint() // undo outer checkpoint
	v, ok, _ = c.Get([]byte("a"))
	if !ok || string(v) != "1" {
		t.Fatalf("after outer revert, a = (%s, %v), want (1, true)", v, ok)
	}
	_, ok, _ = c.Get([]byte("b"))
	if ok {
		t.Fatalf("after outer revert, b should be absent")
	}
}

func TestCacheDiscardCheckpointMerges(t *testing.T) {
	db := kv.NewMemStore()
	tr := New(db)
	c := NewCache(tr)

	c.Checkpoint()
	c.Set([]byte("x"), []byte("1"))
	c.Checkpoint()
	c.Set([]byte("x"), []byte("2"))
	c.DiscardCheckpoint() // merge inner into outer, keeping x=2

	c.RevertToCheckpoint() // now reverts all the way back to before x existed
	if _, ok, _ := c.Get([]byte("x")); ok {
		t.Fatalf("x should be absent after reverting the merged checkpoint")
	}
}

func TestInsertDescendingSplitsAndRemoveCompacts(t *testing.T) {
	db := kv.NewMemStore()
	tr := New(db)
	n := 64
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = fmt.Sprintf("key-%03d", i)
		if _, err := tr.Insert([]byte(keys[i]), []byte(keys[i])); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	for i, k := range keys {
		if i%2 == 0 {
			continue
		}
		if _, err := tr.Remove([]byte(k)); err != nil {
			t.Fatalf("remove %s: %v", k, err)
		}
	}
	for i, k := range keys {
		v, ok, err := tr.Get([]byte(k))
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if i%2 == 0 {
			if !ok || string(v) != k {
				t.Fatalf("expected %s present with value %s, got (%s,%v)", k, k, v, ok)
			}
		} else if ok {
			t.Fatalf("expected %s removed, still present", k)
		}
	}
}
