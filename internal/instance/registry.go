package instance

import (
	"sort"
	"sync"

	"github.com/GriffinCanCode/netlaunch/internal/classloader"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/netlaunch/internal/script"
	"github.com/GriffinCanCode/netlaunch/internal/shared/id"
)

// Registry tracks running instances by handle and by every loader in their
// loader trees.
type Registry struct {
	mu      sync.RWMutex
	apps    map[id.ApplicationHandle]*Instance
	loaders map[id.LoaderID]*Instance
	metrics *monitoring.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(metrics *monitoring.Metrics) *Registry {
	return &Registry{
		apps:    make(map[id.ApplicationHandle]*Instance),
		loaders: make(map[id.LoaderID]*Instance),
		metrics: metrics,
	}
}

// Register adds inst. It is removed again when inst stops.
func (r *Registry) Register(inst *Instance) {
	r.mu.Lock()
	r.apps[inst.Handle] = inst
	walkLoaders(inst.loader, func(l *classloader.Loader) {
		r.loaders[l.ID] = inst
	})
	count := len(r.apps)
	r.mu.Unlock()

	r.metrics.SetRunning(count)
	inst.OnStop(func(stopped *Instance) { r.Unregister(stopped.Handle) })
}

// Unregister removes the instance for h. Unknown handles are ignored.
func (r *Registry) Unregister(h id.ApplicationHandle) {
	r.mu.Lock()
	inst, ok := r.apps[h]
	if ok {
		delete(r.apps, h)
		for lid, owner := range r.loaders {
			if owner == inst {
				delete(r.loaders, lid)
			}
		}
	}
	count := len(r.apps)
	r.mu.Unlock()

	if ok {
		r.metrics.SetRunning(count)
	}
}

// Get returns the instance for h.
func (r *Registry) Get(h id.ApplicationHandle) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.apps[h]
	return inst, ok
}

// ForLoader returns the instance owning the loader.
func (r *Registry) ForLoader(lid id.LoaderID) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.loaders[lid]
	return inst, ok
}

// ForStack returns the instance whose code defined the innermost archive
// frame of stack.
func (r *Registry) ForStack(stack []string) (*Instance, bool) {
	apps := r.List()
	for _, frame := range stack {
		location, _, ok := script.SplitSource(frame)
		if !ok {
			continue
		}
		for _, inst := range apps {
			if _, ok := inst.loader.Directory().Lookup(location); ok {
				return inst, true
			}
		}
	}
	return nil, false
}

// ForUnit returns the instance running unitID.
func (r *Registry) ForUnit(unitID id.UnitID) (*Instance, bool) {
	for _, inst := range r.List() {
		if inst.group.Has(unitID) {
			return inst, true
		}
	}
	return nil, false
}

// List returns registered instances in launch order.
func (r *Registry) List() []*Instance {
	r.mu.RLock()
	out := make([]*Instance, 0, len(r.apps))
	for _, inst := range r.apps {
		out = append(out, inst)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.apps)
}

func walkLoaders(l *classloader.Loader, fn func(*classloader.Loader)) {
	seen := make(map[*classloader.Loader]bool)
	var visit func(*classloader.Loader)
	visit = func(n *classloader.Loader) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		fn(n)
		for _, ext := range n.Extensions() {
			visit(ext)
		}
	}
	visit(l)
}
