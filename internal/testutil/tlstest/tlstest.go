// Package tlstest issues throwaway certificates for transport tests.
package tlstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Authority is a one-level CA whose certificates live for a day.
type Authority struct {
	cert   *x509.Certificate
	key    *ecdsa.PrivateKey
	caPath string
	serial int64
}

// Mutual is a CA plus one loopback server identity and one client identity.
type Mutual struct {
	CAFile     string
	ServerCert string
	ServerKey  string
	ClientCert string
	ClientKey  string
}

// NewMutual issues a complete mTLS set under a fresh temp dir. The server
// certificate is valid for "localhost" and 127.0.0.1.
func NewMutual(t testing.TB) Mutual {
	t.Helper()
	dir := t.TempDir()
	ca := NewAuthority(t, dir, "tdispd-test")
	m := Mutual{CAFile: ca.CAFile()}
	m.ServerCert, m.ServerKey = ca.IssueServerCert(t, dir, "responder", []string{"localhost"}, []net.IP{net.IPv4(127, 0, 0, 1)})
	m.ClientCert, m.ClientKey = ca.IssueClientCert(t, dir, "requester")
	return m
}

func NewAuthority(t testing.TB, dir string, commonName string) *Authority {
	t.Helper()
	a := &Authority{serial: 1}
	a.key = newKey(t)
	template := validity(commonName, a.serial)
	template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	template.BasicConstraintsValid = true
	template.IsCA = true
	template.MaxPathLen = 1

	der := sign(t, template, template, a.key, a.key)
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse ca cert: %v", err)
	}
	a.cert = cert
	a.caPath = filepath.Join(dir, fileBase(commonName)+"-ca.crt")
	writePEM(t, a.caPath, "CERTIFICATE", der, 0o644)
	return a
}

func (a *Authority) CAFile() string {
	return a.caPath
}

func (a *Authority) IssueServerCert(t testing.TB, dir string, commonName string, dnsNames []string, ips []net.IP) (string, string) {
	t.Helper()
	template := a.leaf(commonName, x509.ExtKeyUsageServerAuth)
	template.DNSNames = dnsNames
	template.IPAddresses = ips
	return a.issue(t, dir, commonName, template)
}

func (a *Authority) IssueClientCert(t testing.TB, dir string, commonName string) (string, string) {
	t.Helper()
	return a.issue(t, dir, commonName, a.leaf(commonName, x509.ExtKeyUsageClientAuth))
}

func (a *Authority) leaf(commonName string, usage x509.ExtKeyUsage) *x509.Certificate {
	a.serial++
	template := validity(commonName, a.serial)
	template.KeyUsage = x509.KeyUsageDigitalSignature
	template.ExtKeyUsage = []x509.ExtKeyUsage{usage}
	return template
}

// issue signs template for a fresh key and writes <name>.crt and <name>.key
// under dir.
func (a *Authority) issue(t testing.TB, dir, commonName string, template *x509.Certificate) (string, string) {
	t.Helper()
	key := newKey(t)
	der := sign(t, template, a.cert, key, a.key)
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	base := filepath.Join(dir, fileBase(commonName))
	writePEM(t, base+".crt", "CERTIFICATE", der, 0o644)
	writePEM(t, base+".key", "EC PRIVATE KEY", keyDER, 0o600)
	return base + ".crt", base + ".key"
}

func validity(commonName string, serial int64) *x509.Certificate {
	now := time.Now()
	return &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
	}
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func sign(t testing.TB, template, parent *x509.Certificate, subject, signer *ecdsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, template, parent, &subject.PublicKey, signer)
	if err != nil {
		t.Fatalf("sign %q: %v", template.Subject.CommonName, err)
	}
	return der
}

func writePEM(t testing.TB, path, blockType string, der []byte, perm os.FileMode) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func fileBase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "cert"
	}
	return strings.NewReplacer("/", "_", ":", "_").Replace(s)
}
