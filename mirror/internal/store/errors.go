package store

import "errors"

var (
	// ErrDuplicateKey is returned when inserting a key that is already present.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrKeyNotFound is returned when updating, removing or moving an absent key.
	ErrKeyNotFound = errors.New("key not found")
	// ErrReferenceNotFound is returned when prevKey does not resolve to another entry.
	ErrReferenceNotFound = errors.New("reference key not found")
	// ErrIndexOutOfRange is returned by positional reads outside [0, Len()).
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrEmptyKey is returned when an entry key is the empty string.
	ErrEmptyKey = errors.New("empty key")
)
