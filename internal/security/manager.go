package security

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/netlaunch/internal/instance"
	"github.com/GriffinCanCode/netlaunch/internal/jar"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/permission"
	"github.com/GriffinCanCode/netlaunch/internal/script"
	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
	"github.com/GriffinCanCode/netlaunch/internal/shared/id"
	"go.uber.org/zap"
)

// ErrExitTaken is returned when the exit-owning class is set twice.
var ErrExitTaken = errors.New("exit class already set")

// DefaultAuditSize bounds the denial audit log.
const DefaultAuditSize = 256

// Denial is one refused permission check.
type Denial struct {
	Time       time.Time            `json:"time"`
	App        id.ApplicationHandle `json:"app,omitempty"`
	Permission string               `json:"permission"`
	Location   string               `json:"location,omitempty"`
}

// Options configure a Manager.
type Options struct {
	// Enabled turns enforcement on. When off every check except the
	// security manager and policy replacements succeeds.
	Enabled bool
	// AuditSize caps the denial log; zero means DefaultAuditSize.
	AuditSize int
	// Shutdown is called when the exit-owning class exits.
	Shutdown func(status int)
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics
}

// Manager enforces permissions for every running application.
type Manager struct {
	registry *instance.Registry
	opts     Options
	logger   *logging.Logger

	exitMu    sync.Mutex
	exitClass string

	windowsMu sync.Mutex
	windows   map[id.WindowHandle]id.ApplicationHandle
	hooked    map[id.ApplicationHandle]struct{}

	auditMu sync.Mutex
	audit   []Denial
}

// NewManager creates a manager over the applications in registry.
func NewManager(registry *instance.Registry, opts Options) *Manager {
	if opts.AuditSize <= 0 {
		opts.AuditSize = DefaultAuditSize
	}
	return &Manager{
		registry: registry,
		opts:     opts,
		logger:   opts.Logger.Component("security"),
		windows:  make(map[id.WindowHandle]id.ApplicationHandle),
		hooked:   make(map[id.ApplicationHandle]struct{}),
	}
}

// Enabled reports whether checks are enforced.
func (m *Manager) Enabled() bool { return m.opts.Enabled }

// SetExitClass names the one class whose exit stops the whole runtime. It
// may be set only once.
func (m *Manager) SetExitClass(className string) error {
	m.exitMu.Lock()
	defer m.exitMu.Unlock()
	if m.exitClass != "" {
		return ErrExitTaken
	}
	m.exitClass = className
	return nil
}

// ExitClass returns the exit-owning class, if set.
func (m *Manager) ExitClass() string {
	m.exitMu.Lock()
	defer m.exitMu.Unlock()
	return m.exitClass
}

// Check fails with a PermissionDenied unless every archive frame on stack
// holds p.
func (m *Manager) Check(ctx context.Context, stack []string, p permission.Permission) error {
	if p == permission.SetSecurityManager || p == permission.SetPolicy {
		return m.deny(nil, p, "")
	}
	if !m.opts.Enabled {
		return nil
	}

	seen := make(map[string]bool, len(stack))
	for _, frame := range stack {
		location, _, ok := script.SplitSource(frame)
		if !ok || seen[location] {
			continue
		}
		seen[location] = true

		inst, ok := m.owner(ctx, frame)
		if !ok {
			if !baseline.Implies(p) {
				return m.deny(nil, p, location)
			}
			continue
		}
		if !m.has(ctx, inst, location, p) {
			return m.deny(inst, p, location)
		}
	}
	return nil
}

var baseline = permission.NewCollection(permission.Sandbox()...)

// App returns the calling application: the one carried by ctx, or else the
// one whose code defined the innermost archive frame.
func (m *Manager) App(ctx context.Context, stack []string) (*instance.Instance, bool) {
	if inst, ok := instance.FromContext(ctx); ok {
		return inst, true
	}
	return m.registry.ForStack(stack)
}

// owner returns the application that defined frame, preferring the calling
// application when its loader tree holds the frame's location.
func (m *Manager) owner(ctx context.Context, frame string) (*instance.Instance, bool) {
	if inst, ok := instance.FromContext(ctx); ok {
		location, _, _ := script.SplitSource(frame)
		if _, ok := inst.Loader().Directory().Lookup(location); ok {
			return inst, true
		}
	}
	return m.registry.ForStack([]string{frame})
}

// Has is the boolean form of Check.
func (m *Manager) Has(ctx context.Context, stack []string, p permission.Permission) bool {
	if p == permission.SetSecurityManager || p == permission.SetPolicy {
		return false
	}
	if !m.opts.Enabled {
		return true
	}
	for _, frame := range stack {
		location, _, ok := script.SplitSource(frame)
		if !ok {
			continue
		}
		inst, ok := m.owner(ctx, frame)
		if !ok {
			if !baseline.Implies(p) {
				return false
			}
			continue
		}
		if !m.has(ctx, inst, location, p) {
			return false
		}
	}
	return true
}

func (m *Manager) has(ctx context.Context, inst *instance.Instance, location string, p permission.Permission) bool {
	loader := inst.Loader()
	cs, ok := loader.CodeSource(location)
	if !ok {
		u, err := url.Parse(location)
		if err != nil {
			return false
		}
		cs = permission.CodeSource{Location: u}
	}
	return loader.Engine().Has(ctx, cs, p)
}

// CheckExit handles an exit request from code holding exitVM. With no
// exit-owning class configured, or when that class is on the stack, the
// runtime shuts down. Any other caller stops only its own application. On
// success the returned error is errs.ErrTerminated, which unwinds the calling
// unit.
func (m *Manager) CheckExit(ctx context.Context, stack []string, status int) error {
	if err := m.Check(ctx, stack, permission.ExitVM); err != nil {
		return err
	}

	if exitClass := m.ExitClass(); exitClass == "" || onStack(stack, exitClass) {
		m.logger.Info("runtime exit requested", zap.Int("status", status), zap.String("exitClass", exitClass))
		if m.opts.Shutdown != nil {
			go m.opts.Shutdown(status)
		}
		return errs.ErrTerminated
	}

	inst, ok := m.App(ctx, stack)
	if !ok {
		return m.deny(nil, permission.ExitVM, "")
	}
	inst.Logger().Info("application exit", zap.Int("status", status))
	inst.StopAsync()
	return errs.ErrTerminated
}

// CheckTopLevelWindow records that window belongs to the calling application
// and reports whether it must carry the warning banner.
func (m *Manager) CheckTopLevelWindow(ctx context.Context, stack []string, window id.WindowHandle) (banner bool, inst *instance.Instance, err error) {
	inst, ok := m.App(ctx, stack)
	if !ok {
		return false, nil, m.deny(nil, permission.Permission{Kind: permission.KindAWT, Target: "topLevelWindow"}, "")
	}

	m.windowsMu.Lock()
	_, hooked := m.hooked[inst.Handle]
	m.windows[window] = inst.Handle
	m.hooked[inst.Handle] = struct{}{}
	m.windowsMu.Unlock()
	if !hooked {
		inst.OnStop(func(stopped *instance.Instance) { m.forgetApp(stopped.Handle) })
	}

	return !m.Has(ctx, stack, permission.WindowWithoutBanner), inst, nil
}

// WindowOwner returns the application that opened window.
func (m *Manager) WindowOwner(window id.WindowHandle) (id.ApplicationHandle, bool) {
	m.windowsMu.Lock()
	defer m.windowsMu.Unlock()
	h, ok := m.windows[window]
	return h, ok
}

// ForgetWindow drops a closed window.
func (m *Manager) ForgetWindow(window id.WindowHandle) {
	m.windowsMu.Lock()
	delete(m.windows, window)
	m.windowsMu.Unlock()
}

func (m *Manager) forgetApp(app id.ApplicationHandle) {
	m.windowsMu.Lock()
	defer m.windowsMu.Unlock()
	delete(m.hooked, app)
	for w, owner := range m.windows {
		if owner == app {
			delete(m.windows, w)
		}
	}
}

// Audit returns the most recent denials, oldest first.
func (m *Manager) Audit() []Denial {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	return slices.Clone(m.audit)
}

func (m *Manager) deny(inst *instance.Instance, p permission.Permission, location string) error {
	d := Denial{Time: time.Now(), Permission: p.String(), Location: location}
	err := &errs.PermissionDenied{Permission: p.String()}
	if inst != nil {
		d.App = inst.Handle
		err.Subject = inst.Handle.String()
	}

	m.auditMu.Lock()
	if len(m.audit) >= m.opts.AuditSize {
		m.audit = slices.Delete(m.audit, 0, len(m.audit)-m.opts.AuditSize+1)
	}
	m.audit = append(m.audit, d)
	m.auditMu.Unlock()

	m.opts.Metrics.RecordDenial(string(p.Kind))
	m.logger.Debug("permission denied",
		zap.String("permission", d.Permission),
		zap.String("app", d.App.String()),
		zap.String("location", location))
	return err
}

// onStack reports whether className defined any frame on stack.
func onStack(stack []string, className string) bool {
	entry := jar.ClassEntry(className)
	for _, frame := range stack {
		if _, e, ok := script.SplitSource(frame); ok && e == entry {
			return true
		}
		if frame == className {
			return true
		}
	}
	return false
}
