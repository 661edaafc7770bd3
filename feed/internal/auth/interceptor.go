package auth

import (
	"context"
	"crypto/subtle"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// APIKeyStreamInterceptor returns a gRPC StreamServerInterceptor enforcing API
// key authentication on every incoming stream.
//
// header should be lowercase; gRPC normalises metadata keys to lowercase.
func APIKeyStreamInterceptor(mode, header, key string) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if err := check(ss.Context(), mode, header, key); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func check(ctx context.Context, mode, header, key string) error {
	if mode != "apikey" || key == "" {
		return nil
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}

	vals := md.Get(header)
	if len(vals) == 0 || subtle.ConstantTimeCompare([]byte(vals[0]), []byte(key)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}
	return nil
}
