// Package syncarray mirrors a remote keyed, ordered collection into a local
// ordered sequence with a lazily parsed value cache.
//
// Array implements mux.Handler: an upstream Source feeds it child events
// (added/changed/removed/moved) that reference a previous sibling key, and
// the Array applies them to its ordered store, invalidates the cache entry of
// every changed or removed key, and emits one position-based events.Listener
// notification per applied event. Listeners attach through Subscribe; the
// first listener opens the single upstream subscription and the last one
// closes it, dropping the mirrored data since a new subscription replays the
// collection from scratch.
//
// Each upstream subscription is fed through its own session Handler. Once a
// subscription is closed its session rejects whatever the Source still
// delivers, so a quick resubscribe starts from an empty store and gets its
// own initial sync signal.
//
// Writes are serialized: each event is applied, invalidated and dispatched
// before the next one starts. Reads may run concurrently with each other and
// always observe the state either before or after a write. Listeners may read
// the Array from inside their callbacks but must not feed it events.
//
// Once the upstream reports cancellation the Array is terminal: it rejects
// further events and subscriptions with ErrInactiveStore and keeps serving
// its last-known contents.
package syncarray
