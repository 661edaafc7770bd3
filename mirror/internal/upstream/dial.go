package upstream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/obsidianstack/snapsync/mirror/internal/config"
)

// Dial opens a client connection to the feed. The connection is established
// lazily; a feed that is down surfaces as a Subscribe error.
func Dial(ctx context.Context, cfg config.UpstreamConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg.Auth)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.DialContext(ctx, cfg.Endpoint, opts...) //nolint:staticcheck // DialContext kept for grpc <1.63 compat
	if err != nil {
		return nil, fmt.Errorf("upstream: dial %s: %w", cfg.Endpoint, err)
	}
	return conn, nil
}

func dialOptions(auth config.AuthConfig) ([]grpc.DialOption, error) {
	switch auth.Mode {
	case "mtls":
		creds, err := buildMTLSCreds(auth)
		if err != nil {
			return nil, fmt.Errorf("upstream: build mtls creds: %w", err)
		}
		return []grpc.DialOption{grpc.WithTransportCredentials(creds)}, nil

	default: // apikey rides in metadata; none is plaintext for local dev
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
	}
}

func buildMTLSCreds(auth config.AuthConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return credentials.NewTLS(tlsCfg), nil
}
