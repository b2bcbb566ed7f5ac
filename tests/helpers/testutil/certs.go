package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Signer is a certificate and key that can sign archives.
type Signer struct {
	Alias string
	Cert  *x509.Certificate
	Key   *rsa.PrivateKey
	// Chain holds issuing certificates, leaf excluded.
	Chain []*x509.Certificate
}

// Fingerprint returns the lowercase hex SHA-256 of the leaf certificate.
func (s *Signer) Fingerprint() string {
	sum := sha256.Sum256(s.Cert.Raw)
	return hex.EncodeToString(sum[:])
}

// PEM encodes the leaf certificate.
func (s *Signer) PEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.Cert.Raw})
}

// Pool returns a pool holding only the leaf.
func (s *Signer) Pool() *x509.CertPool {
	p := x509.NewCertPool()
	p.AddCert(s.Cert)
	return p
}

// CertOption adjusts a certificate template.
type CertOption func(*x509.Certificate)

// ValidBetween sets the validity window.
func ValidBetween(notBefore, notAfter time.Time) CertOption {
	return func(c *x509.Certificate) {
		c.NotBefore = notBefore
		c.NotAfter = notAfter
	}
}

var serial atomic.Int64

func template(cn string, opts []CertOption) *x509.Certificate {
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1000 + serial.Add(1)),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{cn + " Inc"}},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
	}
	for _, opt := range opts {
		opt(tmpl)
	}
	return tmpl
}

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// NewSelfSigned creates a self-signed code signing certificate.
func NewSelfSigned(t *testing.T, cn string, opts ...CertOption) *Signer {
	t.Helper()
	key := newKey(t)
	tmpl := template(cn, opts)
	tmpl.BasicConstraintsValid = true
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &Signer{Alias: cn, Cert: cert, Key: key}
}

// NewCA creates a self-signed certificate authority.
func NewCA(t *testing.T, cn string) *Signer {
	t.Helper()
	key := newKey(t)
	tmpl := template(cn, nil)
	tmpl.IsCA = true
	tmpl.BasicConstraintsValid = true
	tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature
	tmpl.ExtKeyUsage = nil
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &Signer{Alias: cn, Cert: cert, Key: key}
}

// Issue creates a leaf signed by the CA.
func (s *Signer) Issue(t *testing.T, cn string, opts ...CertOption) *Signer {
	t.Helper()
	key := newKey(t)
	tmpl := template(cn, opts)
	der, err := x509.CreateCertificate(rand.Reader, tmpl, s.Cert, &key.PublicKey, s.Key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	chain := append([]*x509.Certificate{s.Cert}, s.Chain...)
	return &Signer{Alias: cn, Cert: cert, Key: key, Chain: chain}
}
