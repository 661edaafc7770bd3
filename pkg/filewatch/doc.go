// Package filewatch reloads a file whenever it changes on disk.
//
// Both binaries use it: the feed for its config and collection seed files,
// the mirror for its config. The parent directory is watched rather than the
// file itself, so a save that replaces the file by rename is still seen.
// Bursts of events are collapsed into a single reload.
package filewatch
