// Package store holds the canonical ordered sequence of mirrored entries.
//
// Order is defined only by "insert after key" chaining: an empty prevKey
// places an entry at the head, any other prevKey makes the entry that key's
// immediate successor. A key→position index is kept consistent with the
// sequence after every operation. Failed operations leave the store
// unchanged.
//
// Store is not safe for concurrent use. The synchronized array in package
// syncarray serializes access to it.
package store
