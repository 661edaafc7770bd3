package events

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/obsidianstack/snapsync/pkg/types"
)

// Listener receives change notifications from a Bus. Implementations must be
// comparable (typically a pointer) because membership is decided by ==.
type Listener interface {
	OnChange(ev types.ChangeEvent)
	OnInitialSyncComplete()
	OnCancelled(err error)
}

// Funcs adapts plain functions to Listener. Nil fields are skipped.
// Register a *Funcs, never a Funcs value.
type Funcs struct {
	Change              func(ev types.ChangeEvent)
	InitialSyncComplete func()
	Cancelled           func(err error)
}

func (f *Funcs) OnChange(ev types.ChangeEvent) {
	if f.Change != nil {
		f.Change(ev)
	}
}

func (f *Funcs) OnInitialSyncComplete() {
	if f.InitialSyncComplete != nil {
		f.InitialSyncComplete()
	}
}

func (f *Funcs) OnCancelled(err error) {
	if f.Cancelled != nil {
		f.Cancelled(err)
	}
}

// Bus delivers events to an ordered set of distinct listeners.
//
// Bus is safe for concurrent use; dispatch rounds never interleave.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
	synced    bool
	cancelled bool
	err       error

	dispatchMu sync.Mutex
}

// New creates a Bus with no listeners.
func New() *Bus {
	return &Bus{}
}

// Register adds l to the end of the delivery order. It reports whether l was
// added; registering a listener twice has no effect.
func (b *Bus) Register(l Listener) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slices.Contains(b.listeners, l) {
		return false
	}
	b.listeners = append(b.listeners, l)
	return true
}

// Unregister removes l. It reports whether l was registered.
func (b *Bus) Unregister(l Listener) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := slices.Index(b.listeners, l)
	if i < 0 {
		return false
	}
	// Copy-on-write so in-flight dispatch rounds keep their own view.
	b.listeners = slices.Delete(slices.Clone(b.listeners), i, i+1)
	return true
}

// IsRegistered reports whether l is currently registered.
func (b *Bus) IsRegistered(l Listener) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Contains(b.listeners, l)
}

// Len returns the number of registered listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Synced reports whether InitialSyncComplete has been delivered since the bus
// was created or last reset.
func (b *Bus) Synced() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.synced
}

// Cancelled reports whether Cancel has been delivered, and with which error.
func (b *Bus) Cancelled() (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cancelled, b.err
}

// Emit delivers ev to every registered listener. It reports false, delivering
// nothing, once the bus has been cancelled.
func (b *Bus) Emit(ev types.ChangeEvent) bool {
	return b.dispatch(func(l Listener) { l.OnChange(ev) }, nil)
}

// EmitIf is Emit, delivering only if live still reports true once the
// listener set is locked. A listener registered after live turned false never
// sees ev.
func (b *Bus) EmitIf(ev types.ChangeEvent, live func() bool) bool {
	return b.dispatch(func(l Listener) { l.OnChange(ev) }, live)
}

// InitialSyncComplete delivers the initial sync notification the first time
// it is called after New or ResetSync. Later calls report false and deliver
// nothing.
func (b *Bus) InitialSyncComplete() bool {
	return b.InitialSyncCompleteIf(nil)
}

// InitialSyncCompleteIf is InitialSyncComplete gated on live, like EmitIf.
func (b *Bus) InitialSyncCompleteIf(live func() bool) bool {
	return b.dispatch(func(l Listener) { l.OnInitialSyncComplete() }, func() bool {
		if b.synced || (live != nil && !live()) {
			return false
		}
		b.synced = true
		return true
	})
}

// ResetSync re-arms InitialSyncComplete for the next upstream subscription.
// It delivers nothing and may be called from inside a dispatch round.
func (b *Bus) ResetSync() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.synced = false
}

// Cancel delivers err to every listener and makes the bus terminal.
func (b *Bus) Cancel(err error) bool {
	return b.dispatch(func(l Listener) { l.OnCancelled(err) }, func() bool {
		b.cancelled = true
		b.err = err
		return true
	})
}

// dispatch snapshots the listener set and calls deliver for each listener in
// order. gate runs under the state lock before the snapshot is taken and may
// veto the round.
func (b *Bus) dispatch(deliver func(Listener), gate func() bool) bool {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()

	b.mu.Lock()
	if b.cancelled {
		b.mu.Unlock()
		return false
	}
	if gate != nil && !gate() {
		b.mu.Unlock()
		return false
	}
	targets := b.listeners
	b.mu.Unlock()

	for _, l := range targets {
		deliver(l)
	}
	slog.Debug("events: dispatched", "listeners", len(targets))
	return true
}
