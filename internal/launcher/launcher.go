package launcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/classloader"
	"github.com/GriffinCanCode/netlaunch/internal/descriptor"
	"github.com/GriffinCanCode/netlaunch/internal/instance"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/permission"
	"github.com/GriffinCanCode/netlaunch/internal/script"
	"github.com/GriffinCanCode/netlaunch/internal/security"
	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
	"github.com/GriffinCanCode/netlaunch/internal/shared/id"
	"github.com/GriffinCanCode/netlaunch/internal/signing"
	"go.uber.org/zap"
)

// ErrUnknownApplication is returned for a handle that was never launched.
var ErrUnknownApplication = errors.New("unknown application")

// Status describes one launched application, in process or forked.
type Status struct {
	instance.Info
	Forked bool `json:"forked,omitempty"`
	PID    int  `json:"pid,omitempty"`
}

// Options configure a Launcher.
type Options struct {
	// ForkCommand builds child processes; nil means SelfCommand.
	ForkCommand ForkCommand
	// Desktop integrates applications with the desktop; nil disables it.
	Desktop instance.Desktop
	// ExitClass, if set, is the one class whose exit shuts the runtime down.
	ExitClass string
	// OnExit runs after the exit class has shut the runtime down.
	OnExit func(status int)
}

// Launcher starts and tracks applications.
type Launcher struct {
	rt          *RuntimeContext
	security    *security.Manager
	builtins    *Builtins
	permissions permission.Options
	forkCommand ForkCommand
	desktop     instance.Desktop
	parser      descriptor.Parser
	logger      *logging.Logger

	mu       sync.Mutex
	children map[id.ApplicationHandle]*child
	known    map[id.ApplicationHandle]struct{}
}

// New creates a launcher and installs its security manager into rt.
func New(rt *RuntimeContext, opts Options) (*Launcher, error) {
	cfg := rt.Config
	builtins, err := NewBuiltins()
	if err != nil {
		return nil, err
	}

	perms := permission.Options{GrantWindowPermissions: cfg.Security.GrantWindowPermissions}
	if cfg.Security.CustomTrustedPolicy != "" {
		policy, err := permission.LoadPolicy(cfg.Security.CustomTrustedPolicy)
		if err != nil {
			return nil, err
		}
		perms.TrustedPolicy = policy
	}

	sm := security.NewManager(rt.Registry, security.Options{
		Enabled: cfg.Security.Enabled,
		Shutdown: func(status int) {
			rt.Close()
			if opts.OnExit != nil {
				opts.OnExit(status)
			}
		},
		Logger:  rt.Logger,
		Metrics: rt.Metrics,
	})
	if opts.ExitClass != "" {
		if err := sm.SetExitClass(opts.ExitClass); err != nil {
			return nil, err
		}
	}
	if err := rt.InstallSecurity(sm); err != nil {
		return nil, err
	}

	l := &Launcher{
		rt:          rt,
		security:    sm,
		builtins:    builtins,
		permissions: perms,
		forkCommand: opts.ForkCommand,
		desktop:     opts.Desktop,
		parser:      descriptor.YAMLParser{},
		logger:      rt.Logger.Component("launcher"),
		children:    make(map[id.ApplicationHandle]*child),
		known:       make(map[id.ApplicationHandle]struct{}),
	}
	if l.forkCommand == nil {
		l.forkCommand = SelfCommand
	}
	return l, nil
}

// Security returns the installed security manager.
func (l *Launcher) Security() *security.Manager { return l.security }

// Runtime returns the runtime context.
func (l *Launcher) Runtime() *RuntimeContext { return l.rt }

// Load reads a descriptor from a local path or a URL.
func (l *Launcher) Load(ctx context.Context, ref string) (*descriptor.Descriptor, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return descriptor.ParseFile(l.parser, ref)
	}
	if u.Scheme == "file" {
		return descriptor.ParseFile(l.parser, u.Path)
	}

	local, err := l.rt.Cache.Fetch(ctx, u, "")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return nil, &errs.FetchError{URL: ref, Err: err}
	}
	return l.parser.Parse(data, u)
}

// Launch starts d and returns its handle. Every failure before the main unit
// starts is a LaunchFailure.
func (l *Launcher) Launch(ctx context.Context, d *descriptor.Descriptor) (id.ApplicationHandle, error) {
	span, ctx := l.rt.Tracer.StartSpan(ctx, "launch")
	span.SetTag("title", d.Title())
	if d.Source != nil {
		span.SetTag("source", d.Source.String())
	}
	defer span.End()

	start := time.Now()
	h, err := l.launch(ctx, d)
	l.rt.Metrics.ObserveLaunch(time.Since(start))
	if err != nil {
		span.SetError(err)
		l.rt.Metrics.RecordLaunch("failure")
		l.rt.Events.Publish(Event{Type: EventLaunchFailed, Detail: map[string]string{"title": d.Title(), "error": err.Error()}})
		l.logger.Error("launch failed", zap.String("title", d.Title()), zap.Error(err))
		return "", err
	}
	span.SetTag("app", h.String())
	l.rt.Metrics.RecordLaunch("success")
	l.rt.Events.Publish(Event{Type: EventLaunched, App: h, Detail: map[string]string{"title": d.Title()}})
	return h, nil
}

func (l *Launcher) launch(ctx context.Context, d *descriptor.Descriptor) (id.ApplicationHandle, error) {
	if d.Kind == descriptor.KindComponent {
		return "", errs.NewLaunchFailure("component descriptor %s cannot be launched", d.Title())
	}
	if shouldFork(l.rt.Config.Launch.ForkingStrategy, d) {
		h, err := l.fork(d)
		if err != nil {
			return "", errs.WrapLaunchFailure(err, "fork")
		}
		return h, nil
	}

	resolveSpan, resolveCtx := l.rt.Tracer.StartSpan(ctx, "resolve")
	loader, err := classloader.Resolve(resolveCtx, d, l.loaderOptions())
	resolveSpan.SetError(err)
	resolveSpan.End()
	if err != nil {
		return "", err
	}

	inst := instance.New(l.rt.Context(), loader, instance.Options{
		Launch:  l.rt.Config.Launch,
		Desktop: l.desktop,
		Logger:  l.rt.Logger,
		Metrics: l.rt.Metrics,
	})
	initSpan, initCtx := l.rt.Tracer.StartSpan(ctx, "initialize")
	err = inst.Initialize(initCtx)
	initSpan.SetError(err)
	initSpan.End()
	if err != nil {
		inst.Stop()
		return "", errs.WrapLaunchFailure(err, "initialize")
	}
	if cb := loader.Codebase(); cb != nil {
		inst.SetProperty(CodebaseProperty, cb.String())
	}

	l.mu.Lock()
	l.known[inst.Handle] = struct{}{}
	l.mu.Unlock()
	l.rt.Registry.Register(inst)
	inst.OnStop(func(stopped *instance.Instance) {
		l.rt.Events.Publish(Event{Type: EventStopped, App: stopped.Handle})
	})

	mainClass := loader.MainClass()
	if mainClass == "" {
		inst.Stop()
		return "", errs.NewLaunchFailure("no main class for %s", d.Title())
	}
	if err := inst.MarkRunning(); err != nil {
		inst.Stop()
		return "", errs.WrapLaunchFailure(err, "start")
	}
	if _, err := l.startUnit(ctx, inst, mainClass, entryFunction(d), entryArgs(d)); err != nil {
		inst.Stop()
		return "", errs.WrapLaunchFailure(err, "start main unit")
	}

	l.logger.Info("application launched",
		zap.String("app", inst.Handle.String()),
		zap.String("title", d.Title()),
		zap.String("main_class", mainClass),
		zap.Stringer("security", loader.Security()),
		zap.Stringer("signing", loader.SigningState()))
	return inst.Handle, nil
}

func (l *Launcher) loaderOptions() classloader.Options {
	var verifier *signing.Verifier
	if l.rt.Trust != nil {
		verifier = signing.NewVerifier(l.rt.Trust.TrustPool(), signing.WithLogger(l.rt.Logger))
	}
	return classloader.Options{
		Fetcher:     l.rt.Cache,
		Verifier:    verifier,
		Prompts:     l.rt.Prompts,
		Extensions:  descriptor.FetchingResolver{Fetcher: l.rt.Cache, Parser: l.parser},
		System:      l.builtins,
		Security:    l.rt.Config.Security,
		Permissions: l.permissions,
		Logger:      l.rt.Logger,
		Metrics:     l.rt.Metrics,
	}
}

// entryFunction is the exported function the main unit calls.
func entryFunction(d *descriptor.Descriptor) string {
	switch d.Kind {
	case descriptor.KindApplet:
		return "start"
	case descriptor.KindInstaller:
		return "install"
	default:
		return "main"
	}
}

func entryArgs(d *descriptor.Descriptor) []any {
	if d.Kind == descriptor.KindApplet {
		params := make(map[string]any, len(d.EntryPoint.Parameters))
		for k, v := range d.EntryPoint.Parameters {
			params[k] = v
		}
		return []any{params}
	}
	args := make([]any, len(d.EntryPoint.Arguments))
	for i, a := range d.EntryPoint.Arguments {
		args[i] = a
	}
	return args
}

// startUnit runs className.function on a new unit in inst's thread group.
func (l *Launcher) startUnit(_ context.Context, inst *instance.Instance, className, function string, args []any) (id.UnitID, error) {
	group, err := inst.ThreadGroup()
	if err != nil {
		return "", err
	}
	loader, err := inst.ClassLoader()
	if err != nil {
		return "", err
	}

	env := &appEnv{
		inst:     inst,
		loader:   loader,
		security: l.security,
		events:   l.rt.Events,
		spawn:    l.startUnit,
	}
	unitID := id.NewUnitID()
	unit := script.NewUnit(group.Context(), unitID, env, inst.Logger())
	name := className + "." + function
	err = group.Go(unitID, name, unit, func() error {
		_, err := unit.Run(className, function, args...)
		return err
	})
	if err != nil {
		return "", err
	}
	return unitID, nil
}

// Stop stops the application. Stopping an application that has already
// stopped succeeds.
func (l *Launcher) Stop(h id.ApplicationHandle) error {
	l.mu.Lock()
	c, forked := l.children[h]
	_, known := l.known[h]
	l.mu.Unlock()

	if forked {
		c.stop(l.rt.Config.Launch.StopGrace)
		return nil
	}
	if inst, ok := l.rt.Registry.Get(h); ok {
		inst.Stop()
		return nil
	}
	if known {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownApplication, h)
}

// IsRunning reports whether h is still running.
func (l *Launcher) IsRunning(h id.ApplicationHandle) bool {
	l.mu.Lock()
	c, forked := l.children[h]
	l.mu.Unlock()
	if forked {
		return c.running()
	}
	inst, ok := l.rt.Registry.Get(h)
	return ok && inst.State() != instance.StateStopped
}

// Get returns the status of one application.
func (l *Launcher) Get(h id.ApplicationHandle) (Status, bool) {
	l.mu.Lock()
	c, forked := l.children[h]
	l.mu.Unlock()
	if forked {
		return c.status(), true
	}
	if inst, ok := l.rt.Registry.Get(h); ok {
		return Status{Info: inst.Info()}, true
	}
	return Status{}, false
}

// List returns every running application and every tracked child process,
// in launch order.
func (l *Launcher) List() []Status {
	var out []Status
	for _, inst := range l.rt.Registry.List() {
		out = append(out, Status{Info: inst.Info()})
	}
	l.mu.Lock()
	for _, c := range l.children {
		out = append(out, c.status())
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Wait blocks until h stops or ctx ends.
func (l *Launcher) Wait(ctx context.Context, h id.ApplicationHandle) error {
	l.mu.Lock()
	c, forked := l.children[h]
	l.mu.Unlock()

	var done <-chan struct{}
	switch {
	case forked:
		done = c.done
	default:
		inst, ok := l.rt.Registry.Get(h)
		if !ok {
			return nil
		}
		done = inst.Done()
	}
	select {
	case <-done:
		if forked && c.err != nil && !c.stopRequested.Load() {
			return fmt.Errorf("child process: %w", c.err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every application, in process and forked.
func (l *Launcher) Shutdown() {
	l.mu.Lock()
	children := make([]*child, 0, len(l.children))
	for _, c := range l.children {
		children = append(children, c)
	}
	l.mu.Unlock()
	for _, c := range children {
		c.stop(l.rt.Config.Launch.StopGrace)
	}
	l.rt.Close()
}
