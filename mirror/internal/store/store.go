package store

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/obsidianstack/snapsync/pkg/types"
)

// Store is an ordered sequence of entries addressed by unique keys.
type Store struct {
	entries []types.Entry
	index   map[string]int // key -> position in entries
}

// New creates an empty Store.
func New() *Store {
	return &Store{index: make(map[string]int)}
}

// InsertAfter inserts key as the immediate successor of prevKey, or at the
// head when prevKey is empty. It returns the assigned index. Every entry at or
// after that index shifts by one.
func (s *Store) InsertAfter(key string, value json.RawMessage, prevKey string) (int, error) {
	if key == "" {
		return -1, fmt.Errorf("insert: %w", ErrEmptyKey)
	}
	if _, ok := s.index[key]; ok {
		return -1, fmt.Errorf("insert %q: %w", key, ErrDuplicateKey)
	}
	pos, err := s.successorOf(prevKey)
	if err != nil {
		return -1, fmt.Errorf("insert %q: %w", key, err)
	}

	s.entries = slices.Insert(s.entries, pos, types.Entry{Key: key, Value: value})
	s.reindex(pos)
	return pos, nil
}

// Update replaces the value of key in place and returns its index.
func (s *Store) Update(key string, value json.RawMessage) (int, error) {
	pos, ok := s.index[key]
	if !ok {
		return -1, fmt.Errorf("update %q: %w", key, ErrKeyNotFound)
	}
	s.entries[pos].Value = value
	return pos, nil
}

// Remove deletes key and returns the index it held. Every later entry shifts
// back by one.
func (s *Store) Remove(key string) (int, error) {
	pos, ok := s.index[key]
	if !ok {
		return -1, fmt.Errorf("remove %q: %w", key, ErrKeyNotFound)
	}
	s.entries = slices.Delete(s.entries, pos, pos+1)
	delete(s.index, key)
	s.reindex(pos)
	return pos, nil
}

// Move repositions key to directly follow prevKey, or to the head when
// prevKey is empty. It returns the positions before and after the move.
// Moving a key after itself fails with ErrReferenceNotFound.
func (s *Store) Move(key, prevKey string) (oldIndex, newIndex int, err error) {
	oldIndex, ok := s.index[key]
	if !ok {
		return -1, -1, fmt.Errorf("move %q: %w", key, ErrKeyNotFound)
	}
	if prevKey == key {
		return -1, -1, fmt.Errorf("move %q after itself: %w", key, ErrReferenceNotFound)
	}
	if prevKey != "" {
		if _, ok := s.index[prevKey]; !ok {
			return -1, -1, fmt.Errorf("move %q after %q: %w", key, prevKey, ErrReferenceNotFound)
		}
	}

	e := s.entries[oldIndex]
	s.entries = slices.Delete(s.entries, oldIndex, oldIndex+1)

	newIndex = 0
	if prevKey != "" {
		newIndex = s.index[prevKey]
		if newIndex > oldIndex {
			newIndex--
		}
		newIndex++
	}
	s.entries = slices.Insert(s.entries, newIndex, e)
	s.reindex(min(oldIndex, newIndex))
	return oldIndex, newIndex, nil
}

// Get returns the entry at index.
func (s *Store) Get(index int) (types.Entry, error) {
	if index < 0 || index >= len(s.entries) {
		return types.Entry{}, fmt.Errorf("get %d of %d: %w", index, len(s.entries), ErrIndexOutOfRange)
	}
	return s.entries[index], nil
}

// IndexOf returns the current position of key.
func (s *Store) IndexOf(key string) (int, bool) {
	pos, ok := s.index[key]
	return pos, ok
}

// Len returns the number of entries.
func (s *Store) Len() int { return len(s.entries) }

// Keys returns the keys in order.
func (s *Store) Keys() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Key
	}
	return out
}

// Entries returns a copy of the ordered entries. Values share backing arrays
// with the store and must not be modified.
func (s *Store) Entries() []types.Entry {
	return slices.Clone(s.entries)
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.entries = nil
	clear(s.index)
}

// successorOf returns the insertion position directly after prevKey.
func (s *Store) successorOf(prevKey string) (int, error) {
	if prevKey == "" {
		return 0, nil
	}
	pos, ok := s.index[prevKey]
	if !ok {
		return -1, fmt.Errorf("after %q: %w", prevKey, ErrReferenceNotFound)
	}
	return pos + 1, nil
}

// reindex rewrites index positions for entries[from:].
func (s *Store) reindex(from int) {
	for i := from; i < len(s.entries); i++ {
		s.index[s.entries[i].Key] = i
	}
}
