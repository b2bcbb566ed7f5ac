package launcher

import (
	"context"
	"os"
	"runtime"
	"strings"

	"github.com/GriffinCanCode/netlaunch/internal/classloader"
	"github.com/GriffinCanCode/netlaunch/internal/instance"
	"github.com/GriffinCanCode/netlaunch/internal/permission"
	"github.com/GriffinCanCode/netlaunch/internal/script"
	"github.com/GriffinCanCode/netlaunch/internal/security"
	"github.com/GriffinCanCode/netlaunch/internal/shared/id"
)

// CodebaseProperty holds the application's codebase URL.
const CodebaseProperty = "javaws.codebase"

// systemProperties are visible to every application unless it sets its own.
var systemProperties = map[string]string{
	"os.name":              runtime.GOOS,
	"os.arch":              runtime.GOARCH,
	"file.separator":       string(os.PathSeparator),
	"path.separator":       string(os.PathListSeparator),
	"line.separator":       "\n",
	"java.version":         strings.TrimPrefix(runtime.Version(), "go"),
	"java.vendor":          "netlaunch",
	"javawebstart.version": "netlaunch-1.0",
}

// appEnv connects the units of one application to its loader, instance and
// the runtime's security manager.
type appEnv struct {
	inst     *instance.Instance
	loader   *classloader.Loader
	security *security.Manager
	events   *Events
	spawn    func(ctx context.Context, inst *instance.Instance, className, function string, args []any) (id.UnitID, error)
}

var _ script.Env = (*appEnv)(nil)

func (e *appEnv) Class(ctx context.Context, name string) (*script.Class, error) {
	return e.loader.LoadClass(ctx, name)
}

func (e *appEnv) Resource(ctx context.Context, name string) ([]byte, error) {
	return e.loader.GetResource(ctx, name)
}

func (e *appEnv) DownloadPart(ctx context.Context, part string) error {
	return e.loader.DownloadPart(ctx, part)
}

func (e *appEnv) Check(ctx context.Context, stack []string, p permission.Permission) error {
	return e.security.Check(ctx, stack, p)
}

func (e *appEnv) Has(ctx context.Context, stack []string, p permission.Permission) bool {
	return e.security.Has(ctx, stack, p)
}

func (e *appEnv) Exit(ctx context.Context, stack []string, status int) error {
	return e.security.CheckExit(ctx, stack, status)
}

func (e *appEnv) OpenWindow(ctx context.Context, stack []string, title string) (script.Window, error) {
	handle := id.NewWindowHandle()
	banner, owner, err := e.security.CheckTopLevelWindow(ctx, stack, handle)
	if err != nil {
		return script.Window{}, err
	}
	if err := owner.Windows().Add(instance.Window{Handle: handle, Title: title, Banner: banner}); err != nil {
		e.security.ForgetWindow(handle)
		return script.Window{}, err
	}
	e.events.Publish(Event{
		Type:   EventWindowOpened,
		App:    owner.Handle,
		Detail: map[string]string{"window": handle.String(), "title": title},
	})
	return script.Window{Handle: handle.String(), Banner: banner}, nil
}

func (e *appEnv) CloseWindow(handle string) error {
	h := id.WindowHandle(handle)
	if err := e.inst.Windows().Close(h); err != nil {
		return err
	}
	e.security.ForgetWindow(h)
	e.events.Publish(Event{Type: EventWindowClosed, App: e.inst.Handle, Detail: map[string]string{"window": handle}})
	return nil
}

func (e *appEnv) Property(key string) (string, bool) {
	if v, ok := e.inst.Property(key); ok {
		return v, true
	}
	v, ok := systemProperties[key]
	return v, ok
}

func (e *appEnv) SetProperty(key, value string) {
	e.inst.SetProperty(key, value)
}

func (e *appEnv) Spawn(ctx context.Context, className, function string, args []any) (string, error) {
	unitID, err := e.spawn(ctx, e.inst, className, function, args)
	return unitID.String(), err
}
