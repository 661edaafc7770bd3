package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func raw(s string) json.RawMessage { return json.RawMessage(`"` + s + `"`) }

// build inserts each key after the previous one, producing the given order.
func build(t *testing.T, keys ...string) *Store {
	t.Helper()
	st := New()
	prev := ""
	for _, k := range keys {
		if _, err := st.InsertAfter(k, raw(k), prev); err != nil {
			t.Fatalf("InsertAfter(%q, %q): %v", k, prev, err)
		}
		prev = k
	}
	return st
}

// checkIndex verifies that the key→position index matches the sequence.
func checkIndex(t *testing.T, st *Store) {
	t.Helper()
	if len(st.index) != len(st.entries) {
		t.Fatalf("index size %d, entries %d", len(st.index), len(st.entries))
	}
	for i, e := range st.entries {
		if got, ok := st.IndexOf(e.Key); !ok || got != i {
			t.Errorf("IndexOf(%q): got %d,%v want %d", e.Key, got, ok, i)
		}
	}
}

func TestInsertAfter_Chain(t *testing.T) {
	st := build(t, "a", "b", "c", "d")

	if diff := cmp.Diff([]string{"a", "b", "c", "d"}, st.Keys()); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}
	if st.Len() != 4 {
		t.Errorf("Len: got %d, want 4", st.Len())
	}
	checkIndex(t, st)
}

func TestInsertAfter_HeadShiftsOthers(t *testing.T) {
	st := New()
	if i, err := st.InsertAfter("b", raw("1"), ""); err != nil || i != 0 {
		t.Fatalf("first insert: got %d, %v", i, err)
	}
	i, err := st.InsertAfter("a", raw("2"), "")
	if err != nil {
		t.Fatalf("head insert: %v", err)
	}
	if i != 0 {
		t.Errorf("head index: got %d, want 0", i)
	}
	if pos, _ := st.IndexOf("b"); pos != 1 {
		t.Errorf("b shifted to %d, want 1", pos)
	}
	checkIndex(t, st)
}

func TestInsertAfter_TailIsAppend(t *testing.T) {
	st := build(t, "a", "b")
	i, err := st.InsertAfter("c", raw("c"), "b")
	if err != nil {
		t.Fatalf("InsertAfter tail: %v", err)
	}
	if i != 2 {
		t.Errorf("index: got %d, want 2", i)
	}
}

func TestInsertAfter_Middle(t *testing.T) {
	st := build(t, "a", "b")
	i, err := st.InsertAfter("c", raw("c"), "a")
	if err != nil {
		t.Fatalf("InsertAfter: %v", err)
	}
	if i != 1 {
		t.Errorf("index: got %d, want 1", i)
	}
	if diff := cmp.Diff([]string{"a", "c", "b"}, st.Keys()); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}
	checkIndex(t, st)
}

func TestInsertAfter_MissingReference_NoPartialInsert(t *testing.T) {
	st := build(t, "a")
	_, err := st.InsertAfter("x", raw("x"), "missing")
	if !errors.Is(err, ErrReferenceNotFound) {
		t.Fatalf("err: got %v, want ErrReferenceNotFound", err)
	}
	if st.Len() != 1 {
		t.Errorf("Len after failed insert: got %d, want 1", st.Len())
	}
	if _, ok := st.IndexOf("x"); ok {
		t.Error("IndexOf(x): present after failed insert")
	}
}

func TestInsertAfter_Duplicate(t *testing.T) {
	st := build(t, "a", "b")
	_, err := st.InsertAfter("a", raw("new"), "b")
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("err: got %v, want ErrDuplicateKey", err)
	}
	e, _ := st.Get(0)
	if string(e.Value) != `"a"` {
		t.Errorf("value overwritten: got %s", e.Value)
	}
}

func TestInsertAfter_EmptyKey(t *testing.T) {
	_, err := New().InsertAfter("", raw("x"), "")
	if !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("err: got %v, want ErrEmptyKey", err)
	}
}

func TestUpdate(t *testing.T) {
	st := build(t, "a", "b", "c")
	i, err := st.Update("b", raw("B"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if i != 1 {
		t.Errorf("index: got %d, want 1", i)
	}
	e, _ := st.Get(1)
	if string(e.Value) != `"B"` {
		t.Errorf("value: got %s, want \"B\"", e.Value)
	}

	if _, err := st.Update("zz", raw("z")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Update missing: got %v, want ErrKeyNotFound", err)
	}
}

func TestRemove(t *testing.T) {
	st := build(t, "a", "b", "c")
	i, err := st.Remove("a")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if i != 0 {
		t.Errorf("index: got %d, want 0", i)
	}
	if diff := cmp.Diff([]string{"b", "c"}, st.Keys()); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}
	checkIndex(t, st)

	if _, err := st.Remove("a"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Remove twice: got %v, want ErrKeyNotFound", err)
	}
}

func TestMove(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		prev     string
		wantOld  int
		wantNew  int
		wantKeys []string
	}{
		{"to head", "c", "", 2, 0, []string{"c", "a", "b", "d"}},
		{"forward", "a", "c", 0, 2, []string{"b", "c", "a", "d"}},
		{"backward", "d", "a", 3, 1, []string{"a", "d", "b", "c"}},
		{"to tail", "b", "d", 1, 3, []string{"a", "c", "d", "b"}},
		{"same place", "b", "a", 1, 1, []string{"a", "b", "c", "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := build(t, "a", "b", "c", "d")
			oldIdx, newIdx, err := st.Move(tt.key, tt.prev)
			if err != nil {
				t.Fatalf("Move: %v", err)
			}
			if oldIdx != tt.wantOld || newIdx != tt.wantNew {
				t.Errorf("Move: got (%d,%d), want (%d,%d)", oldIdx, newIdx, tt.wantOld, tt.wantNew)
			}
			if diff := cmp.Diff(tt.wantKeys, st.Keys()); diff != "" {
				t.Errorf("Keys mismatch (-want +got):\n%s", diff)
			}
			if pos, _ := st.IndexOf(tt.key); pos != newIdx {
				t.Errorf("IndexOf after move: got %d, want %d", pos, newIdx)
			}
			checkIndex(t, st)
		})
	}
}

func TestMove_Errors(t *testing.T) {
	st := build(t, "a", "b")

	if _, _, err := st.Move("a", "a"); !errors.Is(err, ErrReferenceNotFound) {
		t.Errorf("move after self: got %v, want ErrReferenceNotFound", err)
	}
	if _, _, err := st.Move("a", "missing"); !errors.Is(err, ErrReferenceNotFound) {
		t.Errorf("move after missing: got %v, want ErrReferenceNotFound", err)
	}
	if _, _, err := st.Move("missing", ""); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("move missing key: got %v, want ErrKeyNotFound", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, st.Keys()); diff != "" {
		t.Errorf("store changed by failed moves (-want +got):\n%s", diff)
	}
}

func TestGet_OutOfRange(t *testing.T) {
	st := build(t, "a")
	for _, i := range []int{-1, 1, 5} {
		if _, err := st.Get(i); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Get(%d): got %v, want ErrIndexOutOfRange", i, err)
		}
	}
}

func TestClear(t *testing.T) {
	st := build(t, "a", "b")
	st.Clear()
	if st.Len() != 0 {
		t.Errorf("Len after Clear: got %d, want 0", st.Len())
	}
	if _, ok := st.IndexOf("a"); ok {
		t.Error("IndexOf(a) after Clear: still present")
	}
	// Keys are reusable after a clear.
	if _, err := st.InsertAfter("a", raw("a"), ""); err != nil {
		t.Errorf("InsertAfter after Clear: %v", err)
	}
}

func TestSizeTracksInsertsMinusRemoves(t *testing.T) {
	st := New()
	prev := ""
	for i := range 20 {
		k := fmt.Sprintf("k%02d", i)
		if _, err := st.InsertAfter(k, raw(k), prev); err != nil {
			t.Fatalf("InsertAfter: %v", err)
		}
		prev = k
	}
	for i := 0; i < 20; i += 3 {
		if _, err := st.Remove(fmt.Sprintf("k%02d", i)); err != nil {
			t.Fatalf("Remove: %v", err)
		}
	}
	if st.Len() != 20-7 {
		t.Errorf("Len: got %d, want %d", st.Len(), 20-7)
	}
	keys := st.Keys()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Errorf("chain order broken at %d: %q >= %q", i, keys[i-1], keys[i])
		}
	}
	checkIndex(t, st)
}
