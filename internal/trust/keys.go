package trust

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/pkcs12"
)

// ErrNoClientCertificate is returned when no keystore is configured.
var ErrNoClientCertificate = errors.New("no client certificate configured")

// KeyManager holds the client certificate presented during TLS handshakes.
type KeyManager struct {
	path     string
	password string

	once sync.Once
	cert *tls.Certificate
	err  error
}

// NewKeyManager loads a PKCS#12 keystore from path on first use. An empty
// path yields a manager without a certificate.
func NewKeyManager(path, password string) *KeyManager {
	return &KeyManager{path: path, password: password}
}

// Certificate returns the client certificate.
func (k *KeyManager) Certificate() (*tls.Certificate, error) {
	if k == nil || k.path == "" {
		return nil, ErrNoClientCertificate
	}
	k.once.Do(func() {
		k.cert, k.err = loadPKCS12(k.path, k.password)
	})
	return k.cert, k.err
}

// GetClientCertificate is suitable for tls.Config.GetClientCertificate. A
// manager without a certificate sends none.
func (k *KeyManager) GetClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	cert, err := k.Certificate()
	if errors.Is(err, ErrNoClientCertificate) {
		return &tls.Certificate{}, nil
	}
	return cert, err
}

func loadPKCS12(path, password string) (*tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode keystore %s: %w", path, err)
	}
	return &tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

// Leaf returns the parsed client certificate, if one is configured.
func (k *KeyManager) Leaf() (*x509.Certificate, bool) {
	cert, err := k.Certificate()
	if err != nil || cert == nil {
		return nil, false
	}
	return cert.Leaf, cert.Leaf != nil
}
