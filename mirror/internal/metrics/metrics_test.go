package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/obsidianstack/snapsync/mirror/internal/cache"
	"github.com/obsidianstack/snapsync/mirror/internal/store"
	"github.com/obsidianstack/snapsync/pkg/types"
)

func newRegistered(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	c := NewCollector()
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return c, reg
}

func TestObserveEvent_ByType(t *testing.T) {
	c, _ := newRegistered(t)
	c.ObserveEvent(types.Inserted)
	c.ObserveEvent(types.Inserted)
	c.ObserveEvent(types.Moved)

	if v := testutil.ToFloat64(c.events.WithLabelValues("inserted")); v != 2 {
		t.Errorf("inserted: got %v, want 2", v)
	}
	if v := testutil.ToFloat64(c.events.WithLabelValues("moved")); v != 1 {
		t.Errorf("moved: got %v, want 1", v)
	}
}

func TestObserveApplyError_Kinds(t *testing.T) {
	c, _ := newRegistered(t)
	tests := []struct {
		err  error
		kind string
	}{
		{fmt.Errorf("insert: %w", store.ErrDuplicateKey), "duplicate_key"},
		{fmt.Errorf("update: %w", store.ErrKeyNotFound), "key_not_found"},
		{fmt.Errorf("move: %w", store.ErrReferenceNotFound), "reference_not_found"},
		{store.ErrEmptyKey, "empty_key"},
		{&cache.ParseError{Key: "k", Err: errors.New("bad")}, "parse"},
		{errors.New("something"), "other"},
	}
	for _, tt := range tests {
		c.ObserveApplyError(tt.err)
		if v := testutil.ToFloat64(c.applyErrors.WithLabelValues(tt.kind)); v != 1 {
			t.Errorf("%s: got %v, want 1", tt.kind, v)
		}
	}
}

func TestNilCollector_NoPanic(t *testing.T) {
	var c *Collector
	c.ObserveEvent(types.Updated)
	c.ObserveApplyError(store.ErrKeyNotFound)
	c.SetEntries(3)
	c.SetListeners(2)
	c.SetUpstreamActive(true)
	c.CacheHit()
	c.CacheMiss()
	c.ParseFailed()
}

func TestSnapshot_FlattensSamples(t *testing.T) {
	c, reg := newRegistered(t)
	c.SetEntries(7)
	c.SetUpstreamActive(true)
	c.ObserveEvent(types.Removed)
	c.CacheHit()

	snap, err := Snapshot(reg)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	want := map[string]float64{
		"snapsync_entries":                       7,
		"snapsync_upstream_active":               1,
		`snapsync_events_total{type="removed"}`: 1,
		"snapsync_cache_hits_total":              1,
	}
	for k, v := range want {
		if got, ok := snap[k]; !ok || got != v {
			t.Errorf("%s: got %v (present=%v), want %v", k, got, ok, v)
		}
	}
}

func TestWriteText_Exposition(t *testing.T) {
	c, reg := newRegistered(t)
	c.SetListeners(4)

	var buf bytes.Buffer
	if err := WriteText(&buf, reg); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "# TYPE snapsync_listeners gauge") {
		t.Errorf("missing TYPE line in:\n%s", out)
	}
	if !strings.Contains(out, "snapsync_listeners 4") {
		t.Errorf("missing sample in:\n%s", out)
	}
}
