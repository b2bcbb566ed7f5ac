package permission

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
)

// ErrConflictingDesc is returned when a location already has a different
// SecurityDesc installed.
var ErrConflictingDesc = errors.New("security descriptor already installed for location")

// CodeSource is the origin a batch of class bytes is attributed to.
type CodeSource struct {
	Location *url.URL
	Signed   bool
}

// Key returns the map key for a location.
func LocationKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}

// LocationMap holds the SecurityDesc of every jar location of one
// application. Entries are installed once and never replaced.
type LocationMap struct {
	mu    sync.RWMutex
	descs map[string]SecurityDesc
}

// NewLocationMap creates an empty map.
func NewLocationMap() *LocationMap {
	return &LocationMap{descs: make(map[string]SecurityDesc)}
}

// Put installs desc for loc. Re-installing an equal desc is a no-op; a
// different one is ErrConflictingDesc.
func (m *LocationMap) Put(loc *url.URL, desc SecurityDesc) error {
	key := LocationKey(loc)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.descs[key]; ok {
		if existing.Equal(desc) {
			return nil
		}
		return fmt.Errorf("%w: %s (%s, requested %s)", ErrConflictingDesc, key, existing.Type, desc.Type)
	}
	m.descs[key] = desc
	return nil
}

// Get returns the desc installed for loc.
func (m *LocationMap) Get(loc *url.URL) (SecurityDesc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.descs[LocationKey(loc)]
	return d, ok
}

// Len returns the number of installed locations.
func (m *LocationMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.descs)
}

// Locations returns the installed locations sorted.
func (m *LocationMap) Locations() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.descs))
	for k := range m.descs {
		out = append(out, k)
	}
	m.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Resolver performs the best-effort download and verification of a code
// source that was not registered through normal jar resolution.
type Resolver interface {
	ResolveCodeSource(ctx context.Context, location *url.URL) (SecurityDesc, error)
}

type attempt struct {
	done chan struct{}
}

// Engine computes the permission collection for code sources of one
// application.
type Engine struct {
	opts      Options
	locations *LocationMap
	resolver  Resolver
	logger    *logging.Logger
	metrics   *monitoring.Metrics

	grantsMu    sync.RWMutex
	resources   []Permission
	runtime     []Permission
	application *SecurityDesc

	triedMu sync.Mutex
	tried   map[string]*attempt
}

// NewEngine creates an engine over an application's location map. resolver
// may be nil, in which case unknown code sources get the baseline only.
func NewEngine(locations *LocationMap, opts Options, resolver Resolver, logger *logging.Logger, metrics *monitoring.Metrics) *Engine {
	return &Engine{
		opts:      opts,
		locations: locations,
		resolver:  resolver,
		logger:    logger.Component("permission"),
		metrics:   metrics,
		tried:     make(map[string]*attempt),
	}
}

// Options returns the options the engine was built with.
func (e *Engine) Options() Options {
	return e.opts
}

// SetApplicationSecurity records the application's own descriptor. Its
// sandbox is the baseline for code sources that have no descriptor of their
// own.
func (e *Engine) SetApplicationSecurity(desc SecurityDesc) {
	e.grantsMu.Lock()
	e.application = &desc
	e.grantsMu.Unlock()
}

// AddResourcePermission records read access to a locally cached resource.
func (e *Engine) AddResourcePermission(p Permission) {
	e.grantsMu.Lock()
	e.resources = append(e.resources, p)
	e.grantsMu.Unlock()
}

// GrantRuntime records a permission the user approved while running.
func (e *Engine) GrantRuntime(p Permission) {
	e.grantsMu.Lock()
	e.runtime = append(e.runtime, p)
	e.grantsMu.Unlock()

	e.logger.Info("runtime permission granted", zap.Stringer("permission", p))
}

// CodeSourceSecurity returns the desc for loc, attempting one re-resolution
// per location when none is installed. Concurrent callers for the same
// location share that single attempt.
func (e *Engine) CodeSourceSecurity(ctx context.Context, loc *url.URL) (SecurityDesc, bool) {
	if d, ok := e.locations.Get(loc); ok {
		return d, true
	}
	if e.resolver == nil || loc == nil {
		return SecurityDesc{}, false
	}

	key := LocationKey(loc)

	e.triedMu.Lock()
	if a, ok := e.tried[key]; ok {
		e.triedMu.Unlock()
		select {
		case <-a.done:
		case <-ctx.Done():
			return SecurityDesc{}, false
		}
		return e.locations.Get(loc)
	}
	a := &attempt{done: make(chan struct{})}
	e.tried[key] = a
	e.triedMu.Unlock()

	defer close(a.done)

	desc, err := e.resolver.ResolveCodeSource(ctx, loc)
	if err == nil {
		err = e.locations.Put(loc, desc)
	}
	if err != nil {
		e.metrics.RecordReResolution("failure")
		e.logger.Info("could not re-resolve code source", zap.String("location", key), zap.Error(err))
		return SecurityDesc{}, false
	}

	e.metrics.RecordReResolution("success")
	return e.locations.Get(loc)
}

// Permissions returns the permissions of cs: the sandbox of its location's
// descriptor (or the application's), the location's elevated set when cs is
// signed, every resource and runtime grant, and connect/accept back to the
// code's own host.
func (e *Engine) Permissions(ctx context.Context, cs CodeSource) *Collection {
	c := NewCollection(e.baseline(cs.Location)...)

	if cs.Signed {
		if desc, ok := e.CodeSourceSecurity(ctx, cs.Location); ok && (desc.Type == TypeAll || desc.Type == TypeJ2EE) {
			c.AddAll(desc.Permissions(e.opts))
		}
	}

	e.grantsMu.RLock()
	c.Add(e.resources...)
	c.Add(e.runtime...)
	e.grantsMu.RUnlock()

	if host := Host(cs.Location); host != "" {
		c.Add(Permission{Kind: KindSocket, Target: host, Actions: "connect,accept"})
	}
	return c
}

func (e *Engine) baseline(loc *url.URL) []Permission {
	if desc, ok := e.locations.Get(loc); ok {
		return desc.sandbox(e.opts)
	}
	e.grantsMu.RLock()
	app := e.application
	e.grantsMu.RUnlock()
	if app != nil {
		return app.sandbox(e.opts)
	}
	return Sandbox()
}

// Has reports whether cs holds p. It never fails; a missing permission is
// simply false.
func (e *Engine) Has(ctx context.Context, cs CodeSource, p Permission) bool {
	return e.Permissions(ctx, cs).Implies(p)
}
