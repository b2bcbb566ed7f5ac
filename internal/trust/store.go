package trust

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"
)

// certExtensions are the file suffixes scanned for PEM certificates.
var certExtensions = []string{".pem", ".crt", ".cer"}

// Certificate is one trusted certificate and the file it came from.
type Certificate struct {
	Subject     string `json:"subject"`
	Issuer      string `json:"issuer"`
	Fingerprint string `json:"fingerprint"`
	File        string `json:"file"`
	cert        *x509.Certificate
}

// Store is a directory of PEM encoded certificates.
type Store struct {
	dir    string
	logger *logging.Logger

	mu    sync.RWMutex
	certs []Certificate
}

// NewStore creates a store over dir. Nothing is read until Load.
func NewStore(dir string, logger *logging.Logger) *Store {
	return &Store{dir: dir, logger: logger.Component("truststore")}
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Load scans the directory tree for certificates. A missing directory is an
// empty store. Unparseable files are skipped with a warning.
func (s *Store) Load(ctx context.Context) error {
	if s.dir == "" {
		return nil
	}
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		s.mu.Lock()
		s.certs = nil
		s.mu.Unlock()
		return nil
	}

	var (
		mu    sync.Mutex
		certs []Certificate
	)
	conf := fastwalk.Config{Follow: true}
	err := fastwalk.Walk(&conf, s.dir, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil || d.IsDir() || !hasCertExtension(p) {
			return nil
		}
		found, err := readPEM(p)
		if err != nil {
			s.logger.Warn("skipping certificate file", zap.String("file", p), zap.Error(err))
			return nil
		}
		mu.Lock()
		certs = append(certs, found...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan trust store %s: %w", s.dir, err)
	}

	sort.Slice(certs, func(i, j int) bool {
		if certs[i].File != certs[j].File {
			return certs[i].File < certs[j].File
		}
		return certs[i].Fingerprint < certs[j].Fingerprint
	})

	s.mu.Lock()
	s.certs = certs
	s.mu.Unlock()
	s.logger.Debug("trust store loaded", zap.String("dir", s.dir), zap.Int("certificates", len(certs)))
	return nil
}

// Certificates lists the loaded certificates.
func (s *Store) Certificates() []Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Certificate(nil), s.certs...)
}

// AddTo adds every loaded certificate to pool.
func (s *Store) AddTo(pool *x509.CertPool) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.certs {
		pool.AddCert(c.cert)
	}
	return len(s.certs)
}

// Add writes cert into the store directory and loads it.
func (s *Store) Add(cert *x509.Certificate) (Certificate, error) {
	if s.dir == "" {
		return Certificate{}, fmt.Errorf("trust store has no directory")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Certificate{}, fmt.Errorf("create trust store: %w", err)
	}
	c := describe(cert, "")
	c.File = filepath.Join(s.dir, c.Fingerprint[:16]+".pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if err := os.WriteFile(c.File, data, 0o644); err != nil {
		return Certificate{}, fmt.Errorf("write certificate: %w", err)
	}

	s.mu.Lock()
	s.certs = append(s.certs, c)
	s.mu.Unlock()
	s.logger.Info("certificate added to trust store", zap.String("subject", c.Subject), zap.String("file", c.File))
	return c, nil
}

func hasCertExtension(p string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	for _, e := range certExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func readPEM(p string) ([]Certificate, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var out []Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		out = append(out, describe(cert, p))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no certificates found")
	}
	return out, nil
}

func describe(cert *x509.Certificate, file string) Certificate {
	sum := sha256.Sum256(cert.Raw)
	return Certificate{
		Subject:     cert.Subject.String(),
		Issuer:      cert.Issuer.String(),
		Fingerprint: hex.EncodeToString(sum[:]),
		File:        file,
		cert:        cert,
	}
}
