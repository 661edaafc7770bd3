package mux

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/obsidianstack/snapsync/mirror/internal/events"
)

// ErrSessionClosed is returned by a session Handler for events that arrive
// after its upstream subscription was closed.
var ErrSessionClosed = errors.New("upstream session closed")

// Handle identifies one open upstream subscription.
type Handle string

// Handler receives the ordered child events of a remote collection. An empty
// prevKey means "at the head". Mutation callbacks return an error when the
// event violates the ordering protocol; sources should treat that as fatal for
// the subscription.
type Handler interface {
	OnChildAdded(key string, value json.RawMessage, prevKey string) error
	OnChildChanged(key string, value json.RawMessage) error
	OnChildRemoved(key string) error
	OnChildMoved(key, prevKey string) error
	OnInitialSyncComplete()
	OnCancelled(err error)
}

// Sessions is implemented by handlers that scope events to one upstream
// subscription. The Multiplexer calls OpenSession before each Subscribe and
// passes the returned Handler to the Source; CloseSession runs once that
// subscription is closed, before the idle hook. Calls arriving through a
// closed session's Handler must have no effect.
type Sessions interface {
	Handler
	OpenSession() Handler
	CloseSession()
}

// Source is a remote keyed, ordered collection that can be subscribed to.
type Source interface {
	Subscribe(h Handler) (Handle, error)
	Unsubscribe(h Handle) error
}

// State is the upstream subscription state of a Multiplexer.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Observer is notified of listener count and upstream state changes.
type Observer interface {
	SetListeners(n int)
	SetUpstreamActive(active bool)
}

// Option configures a Multiplexer.
type Option func(*Multiplexer)

// WithOnIdle registers fn to run after the upstream subscription is closed.
func WithOnIdle(fn func()) Option {
	return func(m *Multiplexer) { m.onIdle = fn }
}

// WithObserver reports state changes to obs.
func WithObserver(obs Observer) Option {
	return func(m *Multiplexer) { m.obs = obs }
}

// Multiplexer is a two-state machine holding at most one upstream subscription.
//
// Multiplexer is safe for concurrent use.
type Multiplexer struct {
	src     Source
	handler Handler
	bus     *events.Bus
	onIdle  func()
	obs     Observer

	mu     sync.Mutex
	state  State
	handle Handle
}

// New creates an Idle Multiplexer that subscribes h to src on demand and keeps
// its listener set in bus.
func New(src Source, h Handler, bus *events.Bus, opts ...Option) *Multiplexer {
	m := &Multiplexer{src: src, handler: h, bus: bus}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers l. The first registration opens the upstream
// subscription; if that fails, l is unregistered again and the error is
// returned. It reports whether l was newly registered.
func (m *Multiplexer) Subscribe(l events.Listener) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.bus.Register(l) {
		return false, nil
	}
	if m.state == Idle {
		h, err := m.src.Subscribe(m.openSession())
		if err != nil {
			m.closeSession()
			m.bus.Unregister(l)
			return false, fmt.Errorf("mux: open upstream: %w", err)
		}
		m.handle = h
		m.state = Active
		slog.Debug("mux: upstream opened", "handle", h)
		m.observeUpstream(true)
	}
	m.observeListeners()
	return true, nil
}

// Unsubscribe unregisters l. Removing the last listener closes the upstream
// subscription; the Multiplexer becomes Idle even if closing fails. It reports
// whether l was registered.
func (m *Multiplexer) Unsubscribe(l events.Listener) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.bus.Unregister(l) {
		return false, nil
	}
	m.observeListeners()
	if m.state != Active || m.bus.Len() > 0 {
		return true, nil
	}

	h := m.handle
	m.handle = ""
	m.state = Idle
	m.observeUpstream(false)
	err := m.src.Unsubscribe(h)
	slog.Debug("mux: upstream closed", "handle", h)
	m.closeSession()
	if m.onIdle != nil {
		m.onIdle()
	}
	if err != nil {
		return true, fmt.Errorf("mux: close upstream %s: %w", h, err)
	}
	return true, nil
}

// IsListening reports whether l is registered.
func (m *Multiplexer) IsListening(l events.Listener) bool {
	return m.bus.IsRegistered(l)
}

// State returns the current upstream state.
func (m *Multiplexer) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Multiplexer) openSession() Handler {
	if s, ok := m.handler.(Sessions); ok {
		return s.OpenSession()
	}
	return m.handler
}

func (m *Multiplexer) closeSession() {
	if s, ok := m.handler.(Sessions); ok {
		s.CloseSession()
	}
}

func (m *Multiplexer) observeListeners() {
	if m.obs != nil {
		m.obs.SetListeners(m.bus.Len())
	}
}

func (m *Multiplexer) observeUpstream(active bool) {
	if m.obs != nil {
		m.obs.SetUpstreamActive(active)
	}
}
