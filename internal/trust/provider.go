package trust

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/config"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"go.uber.org/zap"
)

// Provider is the source of trust material for verification and downloads.
type Provider interface {
	TrustPool() *x509.CertPool
	KeyManager() *KeyManager
	ProxySelector() *ProxySelector
}

// StoreProvider combines the system and user certificate stores, an
// optional client keystore and the proxy settings.
type StoreProvider struct {
	cfg    config.TrustConfig
	system *Store
	user   *Store
	keys   *KeyManager
	proxy  *ProxySelector
	logger *logging.Logger

	mu   sync.RWMutex
	pool *x509.CertPool
}

// NewStoreProvider loads both certificate stores.
func NewStoreProvider(ctx context.Context, cfg config.TrustConfig, logger *logging.Logger) (*StoreProvider, error) {
	logger = logger.Component("trust")
	p := &StoreProvider{
		cfg:    cfg,
		system: NewStore(cfg.SystemStoreDir, logger),
		user:   NewStore(cfg.UserStoreDir, logger),
		keys:   NewKeyManager(cfg.KeystorePath, cfg.KeystorePassword),
		proxy:  NewProxySelector(cfg),
		logger: logger,
	}
	if err := p.Reload(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload rescans both stores and rebuilds the pool.
func (p *StoreProvider) Reload(ctx context.Context) error {
	if err := errors.Join(p.system.Load(ctx), p.user.Load(ctx)); err != nil {
		return fmt.Errorf("load trust stores: %w", err)
	}

	pool := x509.NewCertPool()
	if p.cfg.UseSystemRoots {
		if sys, err := x509.SystemCertPool(); err == nil {
			pool = sys
		} else {
			p.logger.Warn("system roots unavailable", zap.Error(err))
		}
	}
	n := p.system.AddTo(pool) + p.user.AddTo(pool)

	p.mu.Lock()
	p.pool = pool
	p.mu.Unlock()
	p.logger.Info("trust pool built", zap.Int("store_certificates", n), zap.Bool("system_roots", p.cfg.UseSystemRoots))
	return nil
}

// TrustPool returns the current certificate pool.
func (p *StoreProvider) TrustPool() *x509.CertPool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pool
}

// KeyManager returns the client key manager.
func (p *StoreProvider) KeyManager() *KeyManager { return p.keys }

// ProxySelector returns the proxy selector.
func (p *StoreProvider) ProxySelector() *ProxySelector { return p.proxy }

// UserStore is where certificates accepted at runtime are saved.
func (p *StoreProvider) UserStore() *Store { return p.user }

// Certificates lists the certificates of both stores, system first.
func (p *StoreProvider) Certificates() []Certificate {
	return append(p.system.Certificates(), p.user.Certificates()...)
}

// TrustPublisher persists cert to the user store and adds it to the pool.
func (p *StoreProvider) TrustPublisher(cert *x509.Certificate) error {
	if _, err := p.user.Add(cert); err != nil {
		return err
	}
	p.mu.Lock()
	pool := p.pool.Clone()
	pool.AddCert(cert)
	p.pool = pool
	p.mu.Unlock()
	return nil
}

// TLSConfig builds the client TLS configuration for downloads.
func TLSConfig(p Provider) *tls.Config {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    p.TrustPool(),
	}
	if km := p.KeyManager(); km != nil {
		cfg.GetClientCertificate = km.GetClientCertificate
	}
	return cfg
}
