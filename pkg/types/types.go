package types

import (
	"encoding/json"
	"fmt"
)

// Entry is one keyed element of a mirrored ordered sequence. Its position is
// not stored; it is the entry's index in the sequence that holds it.
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// EventType identifies the kind of a ChangeEvent.
type EventType int

const (
	Inserted EventType = iota + 1
	Updated
	Removed
	Moved
	// Reset reports that the whole sequence was dropped at once. No per-entry
	// events are emitted for a reset.
	Reset
)

// String returns the lowercase wire name of t.
func (t EventType) String() string {
	switch t {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	case Moved:
		return "moved"
	case Reset:
		return "reset"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// MarshalText encodes t as its wire name.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ChangeEvent is a position-based notification about one applied mutation.
//
// Index is the position after the mutation (for Removed, the position the
// entry held before removal). OldIndex is only meaningful for Moved and is -1
// otherwise. Both are -1 for Reset.
type ChangeEvent struct {
	Type     EventType `json:"type"`
	Key      string    `json:"key,omitempty"`
	Index    int       `json:"index"`
	OldIndex int       `json:"old_index"`
}

// InsertedAt returns an Inserted event for key at index.
func InsertedAt(key string, index int) ChangeEvent {
	return ChangeEvent{Type: Inserted, Key: key, Index: index, OldIndex: -1}
}

// UpdatedAt returns an Updated event for key at index.
func UpdatedAt(key string, index int) ChangeEvent {
	return ChangeEvent{Type: Updated, Key: key, Index: index, OldIndex: -1}
}

// RemovedAt returns a Removed event for key that was at index.
func RemovedAt(key string, index int) ChangeEvent {
	return ChangeEvent{Type: Removed, Key: key, Index: index, OldIndex: -1}
}

// MovedFrom returns a Moved event for key going from oldIndex to index.
func MovedFrom(key string, oldIndex, index int) ChangeEvent {
	return ChangeEvent{Type: Moved, Key: key, Index: index, OldIndex: oldIndex}
}

// ResetAll returns a Reset event.
func ResetAll() ChangeEvent {
	return ChangeEvent{Type: Reset, Index: -1, OldIndex: -1}
}
