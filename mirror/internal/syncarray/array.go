package syncarray

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/obsidianstack/snapsync/mirror/internal/cache"
	"github.com/obsidianstack/snapsync/mirror/internal/events"
	"github.com/obsidianstack/snapsync/mirror/internal/mux"
	"github.com/obsidianstack/snapsync/mirror/internal/store"
	"github.com/obsidianstack/snapsync/pkg/types"
)

// ErrInactiveStore is returned for events and subscriptions arriving after the
// upstream cancelled.
var ErrInactiveStore = errors.New("store inactive after cancellation")

// Observer receives statistics from an Array. *metrics.Collector satisfies it.
type Observer interface {
	cache.Observer
	mux.Observer
	ObserveEvent(t types.EventType)
	ObserveApplyError(err error)
	SetEntries(n int)
}

// Option configures an Array.
type Option func(*settings)

type settings struct {
	obs Observer
}

// WithObserver reports statistics to obs.
func WithObserver(obs Observer) Option {
	return func(s *settings) { s.obs = obs }
}

// Array is the synchronized, cached view of one remote collection.
type Array[T any] struct {
	parse cache.ParseFunc[T]
	obs   Observer
	bus   *events.Bus
	mux   *mux.Multiplexer

	writeMu sync.Mutex // held across apply + dispatch

	// live is the id of the open upstream session, 0 while idle.
	live atomic.Uint64

	mu        sync.RWMutex // guards everything below
	store     *store.Store
	cache     *cache.Cache[T]
	version   uint64
	cancelled bool
	sessions  uint64
}

// New creates an Array that mirrors src and parses values with parse.
func New[T any](src mux.Source, parse cache.ParseFunc[T], opts ...Option) *Array[T] {
	if parse == nil {
		panic("syncarray: nil parse func")
	}
	s := settings{obs: nopObserver{}}
	for _, opt := range opts {
		opt(&s)
	}

	a := &Array[T]{
		parse: parse,
		obs:   s.obs,
		bus:   events.New(),
		store: store.New(),
		cache: cache.New[T](s.obs),
	}
	a.mux = mux.New(src, a, a.bus, mux.WithOnIdle(a.dropData), mux.WithObserver(s.obs))
	return a
}

// NewRaw creates an Array whose parsed values are the raw JSON payloads.
func NewRaw(src mux.Source, opts ...Option) *Array[json.RawMessage] {
	return New[json.RawMessage](src, cache.Identity, opts...)
}

// --- listeners --------------------------------------------------------------

// Subscribe registers l for change events. The first listener opens the
// upstream subscription. Subscribing a registered listener again is a no-op.
func (a *Array[T]) Subscribe(l events.Listener) error {
	if a.isCancelled() {
		return fmt.Errorf("syncarray: subscribe: %w", ErrInactiveStore)
	}
	if _, err := a.mux.Subscribe(l); err != nil {
		return fmt.Errorf("syncarray: subscribe: %w", err)
	}
	return nil
}

// Unsubscribe removes l. Removing the last listener closes the upstream
// subscription and, unless the Array was cancelled, drops the mirrored data.
func (a *Array[T]) Unsubscribe(l events.Listener) error {
	if _, err := a.mux.Unsubscribe(l); err != nil {
		return fmt.Errorf("syncarray: unsubscribe: %w", err)
	}
	return nil
}

// IsListening reports whether l is subscribed.
func (a *Array[T]) IsListening(l events.Listener) bool {
	return a.mux.IsListening(l)
}

// Listeners returns the number of subscribed listeners.
func (a *Array[T]) Listeners() int {
	return a.bus.Len()
}

// UpstreamState reports whether the upstream subscription is open.
func (a *Array[T]) UpstreamState() mux.State {
	return a.mux.State()
}

// --- mux.Handler ------------------------------------------------------------

// The exported callbacks apply to the Array regardless of which upstream
// session is open. Sources receive a per-session Handler from OpenSession.

// OnChildAdded inserts key after prevKey and emits Inserted.
func (a *Array[T]) OnChildAdded(key string, value json.RawMessage, prevKey string) error {
	return a.childAdded(nil, key, value, prevKey)
}

// OnChildChanged replaces the value of key, drops its parsed value and emits
// Updated.
func (a *Array[T]) OnChildChanged(key string, value json.RawMessage) error {
	return a.childChanged(nil, key, value)
}

// OnChildRemoved deletes key, drops its parsed value and emits Removed.
func (a *Array[T]) OnChildRemoved(key string) error {
	return a.childRemoved(nil, key)
}

// OnChildMoved repositions key after prevKey and emits Moved. The parsed
// value stays cached.
func (a *Array[T]) OnChildMoved(key, prevKey string) error {
	return a.childMoved(nil, key, prevKey)
}

// OnInitialSyncComplete forwards the initial-sync signal to listeners, once
// per upstream subscription.
func (a *Array[T]) OnInitialSyncComplete() {
	a.initialSyncComplete(nil)
}

// OnCancelled makes the Array terminal and forwards err to listeners.
func (a *Array[T]) OnCancelled(err error) {
	a.cancel(nil, err)
}

// OpenSession starts a new upstream session and returns the Handler the
// Source must deliver it through. It implements mux.Sessions.
func (a *Array[T]) OpenSession() mux.Handler {
	a.mu.Lock()
	a.sessions++
	id := a.sessions
	a.mu.Unlock()

	a.live.Store(id)
	return &session[T]{a: a, id: id}
}

// CloseSession retires the open session. Events still buffered upstream for
// it are rejected with mux.ErrSessionClosed from here on.
func (a *Array[T]) CloseSession() {
	a.live.Store(0)
}

func (a *Array[T]) childAdded(s *session[T], key string, value json.RawMessage, prevKey string) error {
	return a.apply(s, func() (types.ChangeEvent, error) {
		i, err := a.store.InsertAfter(key, value, prevKey)
		if err != nil {
			return types.ChangeEvent{}, err
		}
		return types.InsertedAt(key, i), nil
	})
}

func (a *Array[T]) childChanged(s *session[T], key string, value json.RawMessage) error {
	return a.apply(s, func() (types.ChangeEvent, error) {
		i, err := a.store.Update(key, value)
		if err != nil {
			return types.ChangeEvent{}, err
		}
		a.cache.Invalidate(key)
		return types.UpdatedAt(key, i), nil
	})
}

func (a *Array[T]) childRemoved(s *session[T], key string) error {
	return a.apply(s, func() (types.ChangeEvent, error) {
		i, err := a.store.Remove(key)
		if err != nil {
			return types.ChangeEvent{}, err
		}
		a.cache.Invalidate(key)
		return types.RemovedAt(key, i), nil
	})
}

func (a *Array[T]) childMoved(s *session[T], key, prevKey string) error {
	return a.apply(s, func() (types.ChangeEvent, error) {
		oldIndex, newIndex, err := a.store.Move(key, prevKey)
		if err != nil {
			return types.ChangeEvent{}, err
		}
		return types.MovedFrom(key, oldIndex, newIndex), nil
	})
}

func (a *Array[T]) initialSyncComplete(s *session[T]) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.isCancelled() {
		return
	}
	if a.bus.InitialSyncCompleteIf(s.current) {
		slog.Debug("syncarray: initial sync complete", "entries", a.Len())
	}
}

func (a *Array[T]) cancel(s *session[T], err error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	if a.cancelled || !s.current() {
		a.mu.Unlock()
		return
	}
	a.cancelled = true
	a.mu.Unlock()

	slog.Debug("syncarray: upstream cancelled", "err", err)
	a.bus.Cancel(err)
}

// apply runs op under the state lock and dispatches its event afterwards,
// all while holding the write lock. A nil session always applies.
func (a *Array[T]) apply(s *session[T], op func() (types.ChangeEvent, error)) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	if a.cancelled {
		a.mu.Unlock()
		return fmt.Errorf("syncarray: %w", ErrInactiveStore)
	}
	if !s.current() {
		a.mu.Unlock()
		return fmt.Errorf("syncarray: session %d: %w", s.id, mux.ErrSessionClosed)
	}
	ev, err := op()
	if err == nil {
		a.version++
	}
	n := a.store.Len()
	a.mu.Unlock()

	if err != nil {
		a.obs.ObserveApplyError(err)
		return fmt.Errorf("syncarray: %w", err)
	}
	a.obs.SetEntries(n)
	if a.bus.EmitIf(ev, s.current) {
		a.obs.ObserveEvent(ev.Type)
	}
	return nil
}

// dropData clears the store and cache once the upstream subscription closes
// and re-arms the initial sync signal for the next one. It never takes the
// write lock: it may run from inside a dispatch round when the last listener
// unsubscribes itself.
func (a *Array[T]) dropData() {
	a.mu.Lock()
	if a.cancelled {
		a.mu.Unlock()
		return
	}
	a.store.Clear()
	a.cache.Clear()
	a.version++
	a.obs.SetEntries(0)
	a.mu.Unlock()

	a.bus.ResetSync()
}

// --- reads ------------------------------------------------------------------

// Len returns the number of mirrored entries.
func (a *Array[T]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store.Len()
}

// Get returns the raw entry at index.
func (a *Array[T]) Get(index int) (types.Entry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store.Get(index)
}

// Key returns the key at index.
func (a *Array[T]) Key(index int) (string, error) {
	e, err := a.Get(index)
	if err != nil {
		return "", err
	}
	return e.Key, nil
}

// IndexOf returns the position of key.
func (a *Array[T]) IndexOf(key string) (int, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store.IndexOf(key)
}

// Parsed returns the parsed value at index, parsing and caching it on first
// read. A parse failure is returned as *cache.ParseError.
func (a *Array[T]) Parsed(index int) (T, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, err := a.store.Get(index)
	if err != nil {
		var zero T
		return zero, err
	}
	return a.cache.Get(e.Key, e.Value, a.parse)
}

// ParsedByKey returns the parsed value stored under key.
func (a *Array[T]) ParsedByKey(key string) (T, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	i, ok := a.store.IndexOf(key)
	if !ok {
		var zero T
		return zero, fmt.Errorf("syncarray: %q: %w", key, store.ErrKeyNotFound)
	}
	e, _ := a.store.Get(i)
	return a.cache.Get(e.Key, e.Value, a.parse)
}

// Entries returns the ordered raw entries.
func (a *Array[T]) Entries() []types.Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store.Entries()
}

// Snapshot returns the ordered raw entries together with the version they
// belong to. The version increases with every applied change.
func (a *Array[T]) Snapshot() ([]types.Entry, uint64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store.Entries(), a.version
}

// View calls fn with the current entries and version while holding the write
// lock: no change is applied or dispatched until fn returns, so a listener
// registered inside fn receives exactly the events that follow the entries it
// was given. View must not be called from a listener callback.
func (a *Array[T]) View(fn func(entries []types.Entry, version uint64)) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	entries, v := a.Snapshot()
	fn(entries, v)
}

// Version returns the current change counter.
func (a *Array[T]) Version() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

// Synced reports whether the open upstream subscription has delivered its
// initial snapshot. It turns false again when the data is dropped on idle.
func (a *Array[T]) Synced() bool {
	return a.bus.Synced()
}

// Cancelled reports whether the upstream cancelled, and with which error.
func (a *Array[T]) Cancelled() (bool, error) {
	return a.bus.Cancelled()
}

func (a *Array[T]) isCancelled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cancelled
}

// session is the Handler of one upstream subscription.
type session[T any] struct {
	a  *Array[T]
	id uint64
}

// current reports whether s is still the open session. The nil session stands
// for direct calls on the Array and is always current.
func (s *session[T]) current() bool {
	return s == nil || s.a.live.Load() == s.id
}

func (s *session[T]) OnChildAdded(key string, value json.RawMessage, prevKey string) error {
	return s.a.childAdded(s, key, value, prevKey)
}

func (s *session[T]) OnChildChanged(key string, value json.RawMessage) error {
	return s.a.childChanged(s, key, value)
}

func (s *session[T]) OnChildRemoved(key string) error {
	return s.a.childRemoved(s, key)
}

func (s *session[T]) OnChildMoved(key, prevKey string) error {
	return s.a.childMoved(s, key, prevKey)
}

func (s *session[T]) OnInitialSyncComplete() { s.a.initialSyncComplete(s) }

func (s *session[T]) OnCancelled(err error) { s.a.cancel(s, err) }

type nopObserver struct{}

func (nopObserver) CacheHit()                    {}
func (nopObserver) CacheMiss()                   {}
func (nopObserver) ParseFailed()                 {}
func (nopObserver) SetListeners(int)             {}
func (nopObserver) SetUpstreamActive(bool)       {}
func (nopObserver) ObserveEvent(types.EventType) {}
func (nopObserver) ObserveApplyError(error)      {}
func (nopObserver) SetEntries(int)               {}
