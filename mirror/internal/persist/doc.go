// Package persist keeps the last known state of the mirrored collection so a
// restarted mirror can answer reads before the feed has resynchronized.
//
// Backends:
//   - SQLite: one ordered table, replaced in a single transaction
//     (modernc.org/sqlite, no cgo)
//   - File: a JSON document written with natefinch/atomic (temp file + rename)
//
// Run saves the collection on an interval, skipping ticks where nothing
// changed or the mirror has not finished its initial sync.
package persist
