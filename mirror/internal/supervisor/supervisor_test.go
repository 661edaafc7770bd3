package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/obsidianstack/snapsync/mirror/internal/events"
	"github.com/obsidianstack/snapsync/mirror/internal/mux"
	"github.com/obsidianstack/snapsync/mirror/internal/syncarray"
	"github.com/obsidianstack/snapsync/pkg/types"
)

// --- helpers ----------------------------------------------------------------

// fakeSource keeps every open handler so tests can play the feed.
type fakeSource struct {
	mu       sync.Mutex
	open     map[mux.Handle]mux.Handler
	opens    int
	failNext int
}

func newFakeSource() *fakeSource {
	return &fakeSource{open: make(map[mux.Handle]mux.Handler)}
}

func (s *fakeSource) Subscribe(h mux.Handler) (mux.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return "", errors.New("feed unavailable")
	}
	s.opens++
	id := mux.Handle(fmt.Sprintf("h%d", s.opens))
	s.open[id] = h
	return id, nil
}

func (s *fakeSource) Unsubscribe(id mux.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.open[id]; !ok {
		return fmt.Errorf("unknown handle %s", id)
	}
	delete(s.open, id)
	return nil
}

// cancelAll plays a feed that drops every stream.
func (s *fakeSource) cancelAll(err error) {
	s.mu.Lock()
	hs := make([]mux.Handler, 0, len(s.open))
	for id, h := range s.open {
		hs = append(hs, h)
		delete(s.open, id)
	}
	s.mu.Unlock()
	for _, h := range hs {
		h.OnCancelled(err)
	}
}

func (s *fakeSource) openCount() (open, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open), s.opens
}

type eventLog struct {
	mu  sync.Mutex
	evs []string
}

func (l *eventLog) OnChange(ev types.ChangeEvent) {
	l.mu.Lock()
	l.evs = append(l.evs, fmt.Sprintf("%s %s", ev.Type, ev.Key))
	l.mu.Unlock()
}
func (l *eventLog) OnInitialSyncComplete() {}
func (l *eventLog) OnCancelled(error)      {}

func (l *eventLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.evs)
}

func (l *eventLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.evs
	l.evs = nil
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 3s")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func start(t *testing.T, sup *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func newSupervisor(src *fakeSource) *Supervisor {
	return New(func() *Array { return syncarray.NewRaw(src) }, time.Millisecond, 4*time.Millisecond)
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

// --- tests ------------------------------------------------------------------

func TestRun_KeepsUpstreamOpenWithoutClients(t *testing.T) {
	src := newFakeSource()
	sup := newSupervisor(src)
	start(t, sup)

	waitFor(t, func() bool { open, _ := src.openCount(); return open == 1 })
	if got := sup.Status().Upstream; got != "active" {
		t.Errorf("upstream: got %q, want active", got)
	}
}

func TestRun_ReplacesArrayAfterCancel(t *testing.T) {
	src := newFakeSource()
	sup := newSupervisor(src)
	log := &eventLog{}
	sup.AddListener(log)
	start(t, sup)

	first := sup.Current()
	waitFor(t, func() bool { return first.Listeners() == 2 })
	if err := first.OnChildAdded("a", raw(`1`), ""); err != nil {
		t.Fatalf("OnChildAdded: %v", err)
	}
	first.OnInitialSyncComplete()

	src.cancelAll(errors.New("feed restarted"))

	waitFor(t, func() bool {
		open, total := src.openCount()
		return open == 1 && total == 2
	})
	second := sup.Current()
	if second == first {
		t.Fatal("Current: array was not replaced")
	}
	waitFor(t, func() bool { return second.Listeners() == 2 })
	if second.Len() != 0 {
		t.Errorf("new array: got %d entries, want 0", second.Len())
	}
	if first.Len() != 1 {
		t.Errorf("old array: got %d entries, want its last-known 1", first.Len())
	}

	// The long-lived listener follows the new array after a reset.
	if err := second.OnChildAdded("b", raw(`2`), ""); err != nil {
		t.Fatalf("OnChildAdded on new array: %v", err)
	}
	waitFor(t, func() bool { return log.count() >= 3 })
	if diff := cmp.Diff([]string{"inserted a", "reset ", "inserted b"}, log.take()); diff != "" {
		t.Errorf("listener events (-want +got):\n%s", diff)
	}

	st := sup.Status()
	if st.Generation != 2 || st.Restarts != 1 || st.LastError != "feed restarted" {
		t.Errorf("status: got %+v", st)
	}
}

func TestRun_RetriesFailedSubscribe(t *testing.T) {
	src := newFakeSource()
	src.failNext = 3
	sup := newSupervisor(src)
	start(t, sup)

	waitFor(t, func() bool { open, _ := src.openCount(); return open == 1 })
	if sup.Status().Restarts != 0 {
		t.Errorf("restarts: got %d, want 0 (subscribe failures reuse the array)", sup.Status().Restarts)
	}
}

func TestRun_ShutdownClosesUpstream(t *testing.T) {
	src := newFakeSource()
	sup := newSupervisor(src)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()
	waitFor(t, func() bool { open, _ := src.openCount(); return open == 1 })

	cancel()
	<-done
	if open, _ := src.openCount(); open != 0 {
		t.Errorf("open upstream after shutdown: got %d, want 0", open)
	}
}

func TestItems_StaleUntilSynced(t *testing.T) {
	src := newFakeSource()
	sup := newSupervisor(src)
	restored := []types.Entry{{Key: "old", Value: raw(`0`)}}
	sup.Restore(restored)

	items, stale := sup.Items()
	if !stale || len(items) != 1 || items[0].Key != "old" {
		t.Fatalf("before sync: got %v stale=%v", items, stale)
	}
	if !sup.Status().Stale {
		t.Error("Status.Stale: got false before sync")
	}

	start(t, sup)
	waitFor(t, func() bool { open, _ := src.openCount(); return open == 1 })
	arr := sup.Current()
	arr.OnChildAdded("new", raw(`1`), "") //nolint:errcheck
	arr.OnInitialSyncComplete()

	items, stale = sup.Items()
	if stale || len(items) != 1 || items[0].Key != "new" {
		t.Errorf("after sync: got %v stale=%v", items, stale)
	}
	if sup.Status().Stale {
		t.Error("Status.Stale: got true after sync")
	}
}

func TestItems_RestoredNotServedAfterReplace(t *testing.T) {
	src := newFakeSource()
	sup := newSupervisor(src)
	sup.Restore([]types.Entry{{Key: "old", Value: raw(`0`)}})

	start(t, sup)
	waitFor(t, func() bool { open, _ := src.openCount(); return open == 1 })
	arr := sup.Current()
	arr.OnChildAdded("new", raw(`1`), "") //nolint:errcheck
	arr.OnInitialSyncComplete()

	src.cancelAll(errors.New("stream reset"))
	waitFor(t, func() bool {
		open, total := src.openCount()
		return sup.Status().Generation == 2 && open == 1 && total == 2
	})

	// The replacement has not synced yet.
	items, stale := sup.Items()
	if stale || len(items) != 0 {
		t.Errorf("after replace: got %v stale=%v, want empty live data", items, stale)
	}
	if st := sup.Status(); st.Stale || st.Synced {
		t.Errorf("Status after replace: stale=%v synced=%v, want false/false", st.Stale, st.Synced)
	}
}

func TestItemByKey(t *testing.T) {
	src := newFakeSource()
	sup := newSupervisor(src)
	start(t, sup)
	waitFor(t, func() bool { open, _ := src.openCount(); return open == 1 })

	arr := sup.Current()
	arr.OnChildAdded("a", raw(`1`), "")  //nolint:errcheck
	arr.OnChildAdded("b", raw(`2`), "a") //nolint:errcheck

	e, i, err := sup.ItemByKey("b")
	if err != nil || i != 1 || string(e.Value) != "2" {
		t.Errorf("ItemByKey(b): got %+v, %d, %v", e, i, err)
	}
	if _, _, err := sup.ItemByKey("zz"); !IsNotFound(err) {
		t.Errorf("ItemByKey(zz): got %v, want not found", err)
	}
}

func TestSnapshot_VersionChangesAcrossReplace(t *testing.T) {
	src := newFakeSource()
	sup := newSupervisor(src)
	_, v1 := sup.Snapshot()
	sup.replace()
	_, v2 := sup.Snapshot()
	if v1 == v2 {
		t.Errorf("version unchanged across replace: %d", v1)
	}
}

func TestView_FollowsReplacement(t *testing.T) {
	src := newFakeSource()
	sup := newSupervisor(src)
	sup.Restore([]types.Entry{{Key: "old", Value: raw(`0`)}})

	first := sup.Current()
	if err := first.Subscribe(&events.Funcs{}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	first.OnChildAdded("a", raw(`1`), "") //nolint:errcheck

	var got []types.Entry
	sup.View(func(entries []types.Entry) { got = entries })
	if len(got) != 1 || got[0].Key != "a" {
		t.Errorf("View: got %v, want the live entry only", got)
	}

	sup.replace()
	sup.View(func(entries []types.Entry) { got = entries })
	if len(got) != 0 {
		t.Errorf("View after replace: got %v, want empty", got)
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := newBackoff(100*time.Millisecond, 400*time.Millisecond)
	var last time.Duration
	for range 6 {
		last = b.next()
	}
	// Capped at 400ms, ±25 % jitter.
	if last < 300*time.Millisecond || last > 500*time.Millisecond {
		t.Errorf("capped delay: got %v", last)
	}
	b.reset()
	if d := b.next(); d < 75*time.Millisecond || d > 125*time.Millisecond {
		t.Errorf("after reset: got %v", d)
	}
}
