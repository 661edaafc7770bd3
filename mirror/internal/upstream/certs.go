package upstream

import (
	"crypto/x509"
	"encoding/pem"
	"math"
	"os"
	"time"

	"github.com/obsidianstack/snapsync/mirror/internal/config"
)

const expiringWithinDays = 30

// CertStatus describes one certificate the mirror presents to or trusts from
// the feed.
type CertStatus struct {
	File     string `json:"file"`
	Role     string `json:"role"`   // "client" | "ca"
	Status   string `json:"status"` // "valid" | "expiring" | "expired" | "unreadable"
	Subject  string `json:"subject,omitempty"`
	Issuer   string `json:"issuer,omitempty"`
	NotAfter string `json:"not_after,omitempty"` // RFC3339
	DaysLeft int    `json:"days_left"`
}

// CheckCerts inspects the certificate files configured for mTLS. It returns
// nil for the other auth modes. Files are re-read on every call so rotated
// certificates show up without a restart.
func CheckCerts(auth config.AuthConfig, now time.Time) []CertStatus {
	if auth.Mode != "mtls" {
		return nil
	}
	out := []CertStatus{checkFile(auth.CertFile, "client", now)}
	if auth.CAFile != "" {
		out = append(out, checkFile(auth.CAFile, "ca", now))
	}
	return out
}

// checkFile reports on the first certificate in the PEM file at path; for a
// client chain that is the leaf.
func checkFile(path, role string, now time.Time) CertStatus {
	cs := CertStatus{File: path, Role: role, Status: "unreadable"}

	data, err := os.ReadFile(path)
	if err != nil {
		return cs
	}
	var cert *x509.Certificate
	for block, rest := pem.Decode(data); block != nil; block, rest = pem.Decode(rest) {
		if block.Type != "CERTIFICATE" {
			continue
		}
		if cert, err = x509.ParseCertificate(block.Bytes); err != nil {
			return cs
		}
		break
	}
	if cert == nil {
		return cs
	}

	daysLeft := cert.NotAfter.Sub(now).Hours() / 24
	cs.Subject = cert.Subject.CommonName
	cs.Issuer = cert.Issuer.CommonName
	cs.NotAfter = cert.NotAfter.UTC().Format(time.RFC3339)
	cs.DaysLeft = int(math.Floor(daysLeft))

	switch {
	case daysLeft <= 0:
		cs.Status = "expired"
	case daysLeft <= expiringWithinDays:
		cs.Status = "expiring"
	default:
		cs.Status = "valid"
	}
	return cs
}
