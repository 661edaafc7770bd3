// Package types defines shared Go types used by both the feed and the mirror.
// These are the canonical in-memory representations of mirrored entries and
// position-based change events, separate from the gRPC wire format in
// package feedrpc.
package types
