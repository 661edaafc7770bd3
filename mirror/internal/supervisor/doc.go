// Package supervisor keeps a mirror running across upstream cancellations.
//
// A synchronized array is terminal once its upstream cancels, so the
// Supervisor replaces it: after a truncated exponential backoff (±25% jitter)
// it builds a fresh array, moves the long-lived listeners over and sends each
// of them a reset event before the new array's inserts arrive. The backoff
// restarts from its initial delay whenever an array reached initial sync
// before it was cancelled.
//
// The Supervisor holds its own keeper listener on every array, so the
// upstream subscription stays open while no client is attached.
//
// Until the first array syncs, reads can be served from a restored
// checkpoint; Items reports such data as stale. View hands out live entries
// under the current array's write lock for listeners that must start from an
// exact snapshot.
package supervisor
