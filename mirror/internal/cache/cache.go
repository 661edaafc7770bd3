package cache

import (
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ParseFunc turns a raw entry value into a typed object. It must be pure:
// the same input always yields the same result.
type ParseFunc[T any] func(raw json.RawMessage) (T, error)

// Identity returns raw unchanged. Use it when callers do not need typed objects.
func Identity(raw json.RawMessage) (json.RawMessage, error) {
	return raw, nil
}

// JSON returns a ParseFunc that unmarshals raw into a fresh T.
func JSON[T any]() ParseFunc[T] {
	return func(raw json.RawMessage) (T, error) {
		var v T
		err := json.Unmarshal(raw, &v)
		return v, err
	}
}

// ParseError reports a failed parse of the value stored under Key.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %v", e.Key, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Observer receives cache statistics. A nil Observer is allowed.
type Observer interface {
	CacheHit()
	CacheMiss()
	ParseFailed()
}

// Cache holds parsed values of type T keyed by entry key.
//
// Cache is safe for concurrent use. Concurrent misses for the same key share
// one parse. Callers must not run Get for a key concurrently with an
// Invalidate of that key if they require the stored value to reflect the
// newest raw input; the synchronized array guarantees this with its state lock.
type Cache[T any] struct {
	mu     sync.RWMutex
	values map[string]T
	group  singleflight.Group
	obs    Observer
}

// New creates an empty Cache. obs may be nil.
func New[T any](obs Observer) *Cache[T] {
	return &Cache[T]{
		values: make(map[string]T),
		obs:    obs,
	}
}

// Get returns the cached value for key, or parses raw with parse, stores the
// result under key and returns it.
func (c *Cache[T]) Get(key string, raw json.RawMessage, parse ParseFunc[T]) (T, error) {
	c.mu.RLock()
	v, ok := c.values[key]
	c.mu.RUnlock()
	if ok {
		if c.obs != nil {
			c.obs.CacheHit()
		}
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A concurrent flight may have filled the slot already.
		c.mu.RLock()
		v, ok := c.values[key]
		c.mu.RUnlock()
		if ok {
			return v, nil
		}

		if c.obs != nil {
			c.obs.CacheMiss()
		}
		parsed, err := parse(raw)
		if err != nil {
			if c.obs != nil {
				c.obs.ParseFailed()
			}
			return nil, &ParseError{Key: key, Err: err}
		}

		c.mu.Lock()
		c.values[key] = parsed
		c.mu.Unlock()
		return parsed, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ = res.(T)
	return v, nil
}

// Invalidate drops the value cached for key. It is a no-op for absent keys.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
}

// Clear drops every cached value.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	clear(c.values)
	c.mu.Unlock()
}

// Contains reports whether a parsed value is cached for key.
func (c *Cache[T]) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.values[key]
	return ok
}

// Len returns the number of cached values.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}
