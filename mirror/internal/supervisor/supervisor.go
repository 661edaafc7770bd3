package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/obsidianstack/snapsync/mirror/internal/events"
	"github.com/obsidianstack/snapsync/mirror/internal/syncarray"
	"github.com/obsidianstack/snapsync/pkg/types"
)

// Array is the synchronized array type the mirror serves.
type Array = syncarray.Array[json.RawMessage]

// Factory builds a fresh, unsubscribed Array.
type Factory func() *Array

// Status summarizes the supervised mirror.
type Status struct {
	Generation uint64 `json:"generation"`
	Restarts   int    `json:"restarts"`
	Entries    int    `json:"entries"`
	Synced     bool   `json:"synced"`
	Upstream   string `json:"upstream"`
	Listeners  int    `json:"listeners"`
	Cancelled  bool   `json:"cancelled"`
	LastError  string `json:"last_error,omitempty"`
	Stale      bool   `json:"stale"`
}

// Supervisor owns the current Array and replaces it after cancellation.
type Supervisor struct {
	factory Factory
	initial time.Duration
	max     time.Duration

	mu        sync.RWMutex
	cur       *Array
	gen       uint64
	restarts  int
	lastErr   error
	listeners []events.Listener
	stale     []types.Entry
}

// New creates a Supervisor. The first Array is built immediately so reads
// work before Run starts.
func New(factory Factory, initial, max time.Duration) *Supervisor {
	return &Supervisor{
		factory: factory,
		initial: initial,
		max:     max,
		cur:     factory(),
		gen:     1,
	}
}

// AddListener attaches l to the current Array and every replacement. It must
// be called before Run.
func (s *Supervisor) AddListener(l events.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.listeners, l) {
		s.listeners = append(s.listeners, l)
	}
}

// Restore serves entries as stale data until the first Array syncs. Later
// replacements never fall back to them.
func (s *Supervisor) Restore(entries []types.Entry) {
	s.mu.Lock()
	s.stale = entries
	s.mu.Unlock()
}

// dropRestored forgets the restored checkpoint once live data has synced.
func (s *Supervisor) dropRestored() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale != nil {
		slog.Debug("supervisor: live data synced, dropping restored checkpoint", "entries", len(s.stale))
		s.stale = nil
	}
}

// Current returns the Array currently being mirrored.
func (s *Supervisor) Current() *Array {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Run subscribes to the upstream and keeps resubscribing until ctx is
// cancelled. It blocks until then and leaves the last Array unsubscribed.
func (s *Supervisor) Run(ctx context.Context) {
	bo := newBackoff(s.initial, s.max)

	for {
		arr := s.Current()
		cancelled := make(chan error, 1)
		keeper := &events.Funcs{
			InitialSyncComplete: s.dropRestored,
			Cancelled: func(err error) {
				select {
				case cancelled <- err:
				default:
				}
			},
		}

		if err := s.attach(arr, keeper); err != nil {
			if c, _ := arr.Cancelled(); c {
				s.replace()
				continue
			}
			wait := bo.next()
			slog.Error("supervisor: subscribe failed, will retry", "err", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.detach(arr, keeper)
			return

		case err := <-cancelled:
			if arr.Synced() {
				bo.reset()
			}
			s.mu.Lock()
			s.lastErr = err
			s.mu.Unlock()

			wait := bo.next()
			slog.Warn("supervisor: upstream cancelled, will resubscribe",
				"err", err, "entries", arr.Len(), "retry_in", wait)
			s.detach(arr, keeper)
			if !sleep(ctx, wait) {
				return
			}
			s.replace()
		}
	}
}

// attach subscribes the keeper first, then the long-lived listeners.
func (s *Supervisor) attach(arr *Array, keeper events.Listener) error {
	if err := arr.Subscribe(keeper); err != nil {
		return err
	}
	s.mu.RLock()
	ls := slices.Clone(s.listeners)
	s.mu.RUnlock()
	for _, l := range ls {
		// A cancellation racing with this loop is picked up by the keeper.
		if err := arr.Subscribe(l); err != nil && !errors.Is(err, syncarray.ErrInactiveStore) {
			s.detach(arr, keeper)
			return err
		}
	}
	return nil
}

func (s *Supervisor) detach(arr *Array, keeper events.Listener) {
	s.mu.RLock()
	ls := slices.Clone(s.listeners)
	s.mu.RUnlock()
	for _, l := range append(ls, keeper) {
		// The upstream has usually forgotten a cancelled stream already.
		if err := arr.Unsubscribe(l); err != nil {
			slog.Debug("supervisor: detach", "err", err)
		}
	}
}

// replace swaps in a fresh Array and tells the long-lived listeners to drop
// everything they derived from the old one.
func (s *Supervisor) replace() {
	next := s.factory()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = next
	s.gen++
	s.restarts++

	slog.Info("supervisor: array replaced", "generation", s.gen)
	// Emitted under the lock so View never hands out a snapshot of the old
	// array without its reset following.
	for _, l := range s.listeners {
		l.OnChange(types.ResetAll())
	}
}

// View calls fn with the live entries of the current Array while no event can
// be applied and no replacement can happen. Listeners registered inside fn
// see exactly the events that follow. It must not be called from a listener
// callback, and fn must not call back into the Supervisor.
func (s *Supervisor) View(fn func(entries []types.Entry)) {
	for {
		arr := s.Current()
		done := false
		arr.View(func(entries []types.Entry, _ uint64) {
			s.mu.RLock()
			defer s.mu.RUnlock()
			if s.cur != arr {
				return
			}
			done = true
			fn(entries)
		})
		if done {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// --- reads ------------------------------------------------------------------

// Items returns the ordered entries. Before the current Array has synced, a
// restored checkpoint is returned instead, with stale set.
func (s *Supervisor) Items() (entries []types.Entry, stale bool) {
	s.mu.RLock()
	arr, restored := s.cur, s.stale
	s.mu.RUnlock()

	if !arr.Synced() && restored != nil {
		return slices.Clone(restored), true
	}
	return arr.Entries(), false
}

// Item returns the entry at index in the current Array.
func (s *Supervisor) Item(index int) (types.Entry, error) {
	return s.Current().Get(index)
}

// ItemByKey returns the entry stored under key and its index.
func (s *Supervisor) ItemByKey(key string) (types.Entry, int, error) {
	arr := s.Current()
	i, ok := arr.IndexOf(key)
	if !ok {
		return types.Entry{}, -1, fmt.Errorf("supervisor: %q: %w", key, errNotFound)
	}
	e, err := arr.Get(i)
	if err != nil {
		// Removed between the two reads.
		return types.Entry{}, -1, fmt.Errorf("supervisor: %q: %w", key, errNotFound)
	}
	return e, i, nil
}

var errNotFound = errors.New("key not found")

// IsNotFound reports whether err came from a lookup of an absent key.
func IsNotFound(err error) bool { return errors.Is(err, errNotFound) }

// Snapshot implements persist.Source. The version changes with every applied
// event and every Array replacement.
func (s *Supervisor) Snapshot() ([]types.Entry, uint64) {
	s.mu.RLock()
	arr, gen := s.cur, s.gen
	s.mu.RUnlock()
	entries, v := arr.Snapshot()
	return entries, gen<<40 | v
}

// Synced reports whether the current Array has synced.
func (s *Supervisor) Synced() bool {
	return s.Current().Synced()
}

// Status reports the state of the current Array.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	arr := s.cur
	st := Status{
		Generation: s.gen,
		Restarts:   s.restarts,
		Stale:      s.stale != nil,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	st.Entries = arr.Len()
	st.Synced = arr.Synced()
	st.Stale = st.Stale && !st.Synced
	st.Upstream = arr.UpstreamState().String()
	st.Listeners = arr.Listeners()
	st.Cancelled, _ = arr.Cancelled()
	return st
}
