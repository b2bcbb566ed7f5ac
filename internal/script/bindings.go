package script

import (
	"errors"
	"net"
	"os"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/permission"
	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// dialTimeout bounds host.connect.
const dialTimeout = 5 * time.Second

// newHost builds the host object passed to every class body.
func (u *Unit) newHost() *goja.Object {
	host := u.vm.NewObject()
	set := func(name string, fn func(goja.FunctionCall) goja.Value) {
		host.Set(name, fn)
	}

	set("log", u.makeConsoleFunc("log"))
	set("loadClass", u.hostLoadClass)
	set("getResource", u.hostGetResource)
	set("downloadPart", u.hostDownloadPart)
	set("getProperty", u.hostGetProperty)
	set("setProperty", u.hostSetProperty)
	set("readFile", u.hostReadFile)
	set("writeFile", u.hostWriteFile)
	set("connect", u.hostConnect)
	set("openWindow", u.hostOpenWindow)
	set("closeWindow", u.hostCloseWindow)
	set("startThread", u.hostStartThread)
	set("sleep", u.hostSleep)
	set("exit", u.hostExit)
	set("checkPermission", u.hostCheckPermission)
	host.Set("unit", u.ID.String())
	return host
}

// throw raises err inside the script as a catchable error.
func (u *Unit) throw(err error) {
	panic(u.vm.NewGoError(err))
}

func (u *Unit) check(p permission.Permission) {
	if err := u.env.Check(u.ctx, u.Stack(), p); err != nil {
		u.throw(err)
	}
}

func (u *Unit) hostLoadClass(call goja.FunctionCall) goja.Value {
	exp, err := u.Require(call.Argument(0).String())
	if err != nil {
		u.throw(err)
	}
	return exp
}

func (u *Unit) hostGetResource(call goja.FunctionCall) goja.Value {
	data, err := u.env.Resource(u.ctx, call.Argument(0).String())
	if err != nil {
		return goja.Null()
	}
	return u.vm.ToValue(string(data))
}

func (u *Unit) hostDownloadPart(call goja.FunctionCall) goja.Value {
	if err := u.env.DownloadPart(u.ctx, call.Argument(0).String()); err != nil {
		u.throw(err)
	}
	return goja.Undefined()
}

func (u *Unit) hostGetProperty(call goja.FunctionCall) goja.Value {
	key := call.Argument(0).String()
	u.check(permission.Permission{Kind: permission.KindProperty, Target: key, Actions: "read"})
	if v, ok := u.env.Property(key); ok {
		return u.vm.ToValue(v)
	}
	return goja.Undefined()
}

func (u *Unit) hostSetProperty(call goja.FunctionCall) goja.Value {
	key, value := call.Argument(0).String(), call.Argument(1).String()
	u.check(permission.Permission{Kind: permission.KindProperty, Target: key, Actions: "write"})
	u.env.SetProperty(key, value)
	return goja.Undefined()
}

func (u *Unit) hostReadFile(call goja.FunctionCall) goja.Value {
	p := call.Argument(0).String()
	u.check(permission.Permission{Kind: permission.KindFile, Target: p, Actions: "read"})
	data, err := os.ReadFile(p)
	if err != nil {
		u.throw(err)
	}
	return u.vm.ToValue(string(data))
}

func (u *Unit) hostWriteFile(call goja.FunctionCall) goja.Value {
	p := call.Argument(0).String()
	u.check(permission.Permission{Kind: permission.KindFile, Target: p, Actions: "write"})
	if err := os.WriteFile(p, []byte(call.Argument(1).String()), 0o644); err != nil {
		u.throw(err)
	}
	return goja.Undefined()
}

func (u *Unit) hostConnect(call goja.FunctionCall) goja.Value {
	addr := call.Argument(0).String()
	if _, _, err := net.SplitHostPort(addr); err != nil {
		u.throw(err)
	}
	u.check(permission.Permission{Kind: permission.KindSocket, Target: addr, Actions: "connect"})

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(u.ctx, "tcp", addr)
	if err != nil {
		u.throw(err)
	}
	conn.Close()
	return u.vm.ToValue(true)
}

func (u *Unit) hostOpenWindow(call goja.FunctionCall) goja.Value {
	w, err := u.env.OpenWindow(u.ctx, u.Stack(), call.Argument(0).String())
	if err != nil {
		u.throw(err)
	}
	return u.vm.ToValue(map[string]any{"handle": w.Handle, "banner": w.Banner})
}

func (u *Unit) hostCloseWindow(call goja.FunctionCall) goja.Value {
	if err := u.env.CloseWindow(call.Argument(0).String()); err != nil {
		u.throw(err)
	}
	return goja.Undefined()
}

func (u *Unit) hostStartThread(call goja.FunctionCall) goja.Value {
	className, function := call.Argument(0).String(), call.Argument(1).String()
	var args []any
	for _, a := range call.Arguments[min(2, len(call.Arguments)):] {
		args = append(args, a.Export())
	}
	unitID, err := u.env.Spawn(u.ctx, className, function, args)
	if err != nil {
		u.throw(err)
	}
	return u.vm.ToValue(unitID)
}

// hostSleep blocks for the given milliseconds or until the unit is stopped.
func (u *Unit) hostSleep(call goja.FunctionCall) goja.Value {
	ms := call.Argument(0).ToInteger()
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-u.ctx.Done():
		u.vm.Interrupt(u.ctx.Err())
	}
	return goja.Undefined()
}

func (u *Unit) hostExit(call goja.FunctionCall) goja.Value {
	status := int(call.Argument(0).ToInteger())
	err := u.env.Exit(u.ctx, u.Stack(), status)
	switch {
	case err == nil:
		return goja.Undefined()
	case errors.Is(err, errs.ErrTerminated):
		u.logger.Info("application exit", zap.Int("status", status))
		u.vm.Interrupt(err)
		return goja.Undefined()
	default:
		u.throw(err)
		return nil
	}
}

func (u *Unit) hostCheckPermission(call goja.FunctionCall) goja.Value {
	p := permission.Permission{
		Kind:    permission.Kind(call.Argument(0).String()),
		Target:  call.Argument(1).String(),
		Actions: optionalString(call.Argument(2)),
	}
	return u.vm.ToValue(u.env.Has(u.ctx, u.Stack(), p))
}

func optionalString(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
