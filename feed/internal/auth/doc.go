// Package auth authenticates Feed subscribers.
//
// APIKeyStreamInterceptor(mode, header, key) returns a gRPC
// StreamServerInterceptor that validates the API key carried in the named
// metadata header before the stream handler runs. When mode != "apikey" or
// key == "", every stream passes through (local development with auth
// disabled). A missing or wrong key ends the stream with
// codes.Unauthenticated.
package auth
