package launcher

import (
	"context"
	"errors"
	"sync"

	"github.com/GriffinCanCode/netlaunch/internal/cache"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/config"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/netlaunch/internal/instance"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/prompt"
	"github.com/GriffinCanCode/netlaunch/internal/security"
	"github.com/GriffinCanCode/netlaunch/internal/trust"
)

// ErrSecurityInstalled is returned when a second security manager is
// installed into the same runtime.
var ErrSecurityInstalled = errors.New("security manager already installed")

// RuntimeContext holds the services shared by every launch in a process.
type RuntimeContext struct {
	Config   *config.Config
	Cache    cache.Service
	Trust    trust.Provider
	Prompts  prompt.Service
	Registry *instance.Registry
	Events   *Events
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics
	// Tracer records launch spans; nil disables tracing.
	Tracer *tracing.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	security *security.Manager
}

// NewRuntimeContext creates the runtime. Applications run under a context
// that lives until Close.
func NewRuntimeContext(cfg *config.Config, cacheSvc cache.Service, tp trust.Provider, prompts prompt.Service, logger *logging.Logger, metrics *monitoring.Metrics) *RuntimeContext {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RuntimeContext{
		Config:   cfg,
		Cache:    cacheSvc,
		Trust:    tp,
		Prompts:  prompts,
		Registry: instance.NewRegistry(metrics),
		Events:   NewEvents(logger),
		Logger:   logger,
		Metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Context is the parent context of every application.
func (rc *RuntimeContext) Context() context.Context { return rc.ctx }

// InstallSecurity installs m. It succeeds once per runtime.
func (rc *RuntimeContext) InstallSecurity(m *security.Manager) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.security != nil {
		return ErrSecurityInstalled
	}
	rc.security = m
	return nil
}

// Security returns the installed security manager, if any.
func (rc *RuntimeContext) Security() *security.Manager {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.security
}

// Close stops every registered application and cancels the runtime context.
func (rc *RuntimeContext) Close() {
	var wg sync.WaitGroup
	for _, inst := range rc.Registry.List() {
		wg.Add(1)
		go func(inst *instance.Instance) {
			defer wg.Done()
			inst.Stop()
		}(inst)
	}
	wg.Wait()
	rc.cancel()
}
