package upstream

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/obsidianstack/snapsync/mirror/internal/config"
)

// writeCert writes a self-signed certificate valid until notAfter.
func writeCert(t *testing.T, name string, notAfter time.Time) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    notAfter.Add(-365 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	path := filepath.Join(t.TempDir(), name+".pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	return path
}

func TestCheckCerts(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		notAfter time.Time
		want     string
	}{
		{"valid", now.Add(90 * 24 * time.Hour), "valid"},
		{"expiring", now.Add(10 * 24 * time.Hour), "expiring"},
		{"expired", now.Add(-time.Hour), "expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := config.AuthConfig{Mode: "mtls", CertFile: writeCert(t, "mirror", tt.notAfter)}
			got := CheckCerts(auth, now)
			if len(got) != 1 {
				t.Fatalf("got %d statuses, want 1", len(got))
			}
			if got[0].Status != tt.want || got[0].Role != "client" || got[0].Subject != "mirror" {
				t.Errorf("got %+v, want status %s", got[0], tt.want)
			}
		})
	}
}

func TestCheckCerts_CAAndUnreadable(t *testing.T) {
	now := time.Now()
	auth := config.AuthConfig{
		Mode:     "mtls",
		CertFile: filepath.Join(t.TempDir(), "missing.pem"),
		CAFile:   writeCert(t, "root", now.Add(400*24*time.Hour)),
	}
	got := CheckCerts(auth, now)
	if len(got) != 2 {
		t.Fatalf("got %d statuses, want 2", len(got))
	}
	if got[0].Status != "unreadable" {
		t.Errorf("client: got %s, want unreadable", got[0].Status)
	}
	if got[1].Role != "ca" || got[1].Status != "valid" || got[1].DaysLeft < 399 {
		t.Errorf("ca: got %+v", got[1])
	}
}

func TestCheckCerts_NotMTLS(t *testing.T) {
	if got := CheckCerts(config.AuthConfig{Mode: "apikey"}, time.Now()); got != nil {
		t.Errorf("apikey: got %v, want nil", got)
	}
}
