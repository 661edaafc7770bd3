// Package events fans position-based change notifications out to listeners.
//
// Listeners are delivered to in registration order. The listener set is
// copied at the start of every dispatch round, so a listener that registers
// or unregisters (itself or others) from inside a callback affects only later
// rounds. InitialSyncComplete fires at most once until ResetSync re-arms
// it, and once Cancel has been delivered the Bus emits nothing further.
package events
