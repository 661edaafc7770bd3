// Package cache memoizes parsed values keyed by entry key.
//
// A value is parsed on first read and served from memory until the key is
// invalidated or the cache is cleared. Parse failures are returned to the
// reader that triggered the parse and are never cached.
package cache
