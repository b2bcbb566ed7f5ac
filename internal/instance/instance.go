package instance

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"sync"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/classloader"
	"github.com/GriffinCanCode/netlaunch/internal/descriptor"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/config"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/permission"
	"github.com/GriffinCanCode/netlaunch/internal/shared/id"
	"go.uber.org/zap"
)

// State is the lifecycle state of an application.
type State string

const (
	StateCreated     State = "created"
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StateStopped     State = "stopped"
)

// DeploymentProperty is set on every application to identify the launcher.
const (
	DeploymentProperty = "deployment.javaws"
	DeploymentValue    = "netlaunch"
)

// Desktop integrates a launched application with the user's desktop.
type Desktop interface {
	Integrate(ctx context.Context, d *descriptor.Descriptor) error
}

// Options configure an Instance.
type Options struct {
	Launch  config.LaunchConfig
	Desktop Desktop
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// Info is a point-in-time view of an instance.
type Info struct {
	Handle    id.ApplicationHandle `json:"handle"`
	Title     string               `json:"title"`
	Source    string               `json:"source,omitempty"`
	MainClass string               `json:"main_class,omitempty"`
	State     State                `json:"state"`
	Security  string               `json:"security"`
	Signing   string               `json:"signing"`
	Started   time.Time            `json:"started"`
	Units     int                  `json:"units"`
	Windows   int                  `json:"windows"`
}

// Instance is one launched application.
type Instance struct {
	Handle id.ApplicationHandle

	desc    *descriptor.Descriptor
	loader  *classloader.Loader
	group   *ThreadGroup
	windows *Windows
	opts    Options
	logger  *logging.Logger
	created time.Time

	mu        sync.RWMutex
	state     State
	props     map[string]string
	listeners []func(*Instance)

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates an instance for a resolved loader. Units run under a context
// derived from parent.
func New(parent context.Context, loader *classloader.Loader, opts Options) *Instance {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	handle := id.NewApplicationHandle()
	logger := opts.Logger.Component("instance").With(zap.String("app", string(handle)))

	inst := &Instance{
		Handle:  handle,
		desc:    loader.Descriptor(),
		loader:  loader,
		windows: NewWindows(nil),
		opts:    opts,
		logger:  logger,
		created: time.Now(),
		state:   StateCreated,
		props:   make(map[string]string),
		stopped: make(chan struct{}),
	}
	inst.group = NewThreadGroup(WithInstance(parent, inst), logger, opts.Metrics)
	return inst
}

type contextKey struct{}

// WithInstance returns a context carrying inst as the calling application.
func WithInstance(ctx context.Context, inst *Instance) context.Context {
	return context.WithValue(ctx, contextKey{}, inst)
}

// FromContext returns the application a context belongs to. Every unit's
// context carries its instance.
func FromContext(ctx context.Context) (*Instance, bool) {
	inst, ok := ctx.Value(contextKey{}).(*Instance)
	return inst, ok && inst != nil
}

// Descriptor returns the descriptor the instance was launched from.
func (i *Instance) Descriptor() *descriptor.Descriptor { return i.desc }

// Windows returns the window registry.
func (i *Instance) Windows() *Windows { return i.windows }

// Logger returns the instance logger.
func (i *Instance) Logger() *logging.Logger { return i.logger }

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Done is closed once the instance has stopped.
func (i *Instance) Done() <-chan struct{} { return i.stopped }

// OnStop registers fn to run after the instance stops. If it has already
// stopped fn runs immediately.
func (i *Instance) OnStop(fn func(*Instance)) {
	i.mu.Lock()
	if i.state != StateStopped {
		i.listeners = append(i.listeners, fn)
		i.mu.Unlock()
		return
	}
	i.mu.Unlock()
	fn(i)
}

// Initialize installs the descriptor's properties and performs desktop
// integration.
func (i *Instance) Initialize(ctx context.Context) error {
	i.mu.Lock()
	if i.state != StateCreated {
		state := i.state
		i.mu.Unlock()
		return fmt.Errorf("initialize application in state %s", state)
	}
	i.mu.Unlock()

	perms := i.loader.Permissions(ctx, i.mainCodeSource())
	props := make(map[string]string, len(i.desc.Resources.Properties)+1)
	for _, p := range i.desc.Resources.Properties {
		if i.opts.Launch.Blacklisted(p.Key) {
			i.logger.Warn("ignoring blacklisted property", zap.String("property", p.Key))
			continue
		}
		want := permission.Permission{Kind: permission.KindProperty, Target: p.Key, Actions: "write"}
		if !perms.Implies(want) {
			i.logger.Warn("application may not set property", zap.String("property", p.Key))
			continue
		}
		props[p.Key] = p.Value
	}
	props[DeploymentProperty] = DeploymentValue

	if i.opts.Desktop != nil {
		if err := i.opts.Desktop.Integrate(ctx, i.desc); err != nil {
			i.logger.Warn("desktop integration failed", zap.Error(err))
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == StateStopped {
		return ErrStopped
	}
	i.props = props
	i.state = StateInitialized
	i.logger.Info("application initialized", zap.Int("properties", len(props)))
	return nil
}

// mainCodeSource attributes descriptor-level actions to the main jar.
func (i *Instance) mainCodeSource() permission.CodeSource {
	var loc *url.URL
	if j, ok := i.desc.Resources.MainJAR(); ok {
		loc = j.URL
	} else {
		loc = i.loader.Codebase()
	}
	if loc == nil {
		return permission.CodeSource{Signed: i.loader.Signed()}
	}
	if cs, ok := i.loader.CodeSource(loc.String()); ok {
		return cs
	}
	return permission.CodeSource{Location: loc, Signed: i.loader.Signed()}
}

// MarkRunning moves an initialized instance to RUNNING.
func (i *Instance) MarkRunning() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	switch i.state {
	case StateInitialized:
		i.state = StateRunning
		return nil
	case StateStopped:
		return ErrStopped
	default:
		return fmt.Errorf("start application in state %s", i.state)
	}
}

// ThreadGroup returns the group units of work run in.
func (i *Instance) ThreadGroup() (*ThreadGroup, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.state == StateStopped {
		return nil, ErrStopped
	}
	return i.group, nil
}

// ClassLoader returns the root loader.
func (i *Instance) ClassLoader() (*classloader.Loader, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.state == StateStopped {
		return nil, ErrStopped
	}
	return i.loader, nil
}

// Loader returns the root loader regardless of state. Lookups that map a
// stopped application's code back to it use this.
func (i *Instance) Loader() *classloader.Loader { return i.loader }

// Property returns one of the application's own properties.
func (i *Instance) Property(key string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	v, ok := i.props[key]
	return v, ok
}

// SetProperty sets one of the application's own properties. Callers check
// the write permission first.
func (i *Instance) SetProperty(key, value string) {
	i.mu.Lock()
	i.props[key] = value
	i.mu.Unlock()
}

// Properties returns a copy of the application's properties.
func (i *Instance) Properties() map[string]string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return maps.Clone(i.props)
}

// Stop disposes every window, stops the thread group and closes the loader.
// Only the first call does any work; later calls return at once.
func (i *Instance) Stop() {
	i.stopOnce.Do(i.stop)
}

// StopAsync stops the instance on a new goroutine. Units stopping their own
// application use this so Stop does not wait on the caller.
func (i *Instance) StopAsync() {
	go i.Stop()
}

func (i *Instance) stop() {
	disposed := i.windows.DisposeAll()
	leaked := i.group.Stop(i.opts.Launch.StopGrace)

	if err := i.loader.Close(); err != nil {
		i.logger.Warn("failed to close class loader", zap.Error(err))
	}

	i.mu.Lock()
	i.state = StateStopped
	listeners := i.listeners
	i.listeners = nil
	i.mu.Unlock()
	close(i.stopped)

	i.logger.Info("application stopped", zap.Int("windows", disposed), zap.Int("leaked_units", leaked))
	for _, fn := range listeners {
		fn(i)
	}
}

// Info returns a snapshot for status output.
func (i *Instance) Info() Info {
	info := Info{
		Handle:    i.Handle,
		Title:     i.desc.Title(),
		MainClass: i.loader.MainClass(),
		State:     i.State(),
		Security:  i.loader.Security().String(),
		Signing:   i.loader.SigningState().String(),
		Started:   i.created,
		Units:     i.group.Len(),
		Windows:   len(i.windows.List()),
	}
	if i.desc.Source != nil {
		info.Source = i.desc.Source.String()
	}
	return info
}
