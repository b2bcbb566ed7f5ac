package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/shared/id"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// ErrNoFunction is returned when a class does not export the requested
// function.
var ErrNoFunction = errors.New("class does not export function")

// maxCallStack bounds script recursion.
const maxCallStack = 1024

// LogEntry is one line written through console or host.log.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Unit is one unit of work: a goja runtime bound to an application.
type Unit struct {
	ID     id.UnitID
	ctx    context.Context
	env    Env
	vm     *goja.Runtime
	logger *logging.Logger

	// exports caches evaluated classes by name; owned by the unit goroutine.
	exports map[string]*goja.Object

	console   []LogEntry
	consoleMu sync.Mutex
}

// NewUnit creates a runtime with the host bindings installed. ctx bounds
// every blocking host call made by the unit.
func NewUnit(ctx context.Context, unitID id.UnitID, env Env, logger *logging.Logger) *Unit {
	u := &Unit{
		ID:      unitID,
		ctx:     ctx,
		env:     env,
		vm:      goja.New(),
		logger:  logger.Component("script").With(zap.String("unit", unitID.String())),
		exports: make(map[string]*goja.Object),
	}
	u.vm.SetMaxCallStackSize(maxCallStack)
	u.setupGlobals()
	return u
}

// Context returns the unit's context.
func (u *Unit) Context() context.Context { return u.ctx }

// setupGlobals removes module-loader globals and installs console.
func (u *Unit) setupGlobals() {
	u.vm.Set("require", goja.Undefined())
	u.vm.Set("process", goja.Undefined())
	u.vm.Set("module", goja.Undefined())

	console := u.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		console.Set(level, u.makeConsoleFunc(level))
	}
	u.vm.Set("console", console)
}

func (u *Unit) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var msg string
		for i, arg := range call.Arguments {
			if i > 0 {
				msg += " "
			}
			msg += arg.String()
		}

		u.consoleMu.Lock()
		u.console = append(u.console, LogEntry{Level: level, Message: msg, Time: time.Now()})
		u.consoleMu.Unlock()

		switch level {
		case "warn":
			u.logger.Warn(msg)
		case "error":
			u.logger.Error(msg)
		default:
			u.logger.Info(msg)
		}
		return goja.Undefined()
	}
}

// Console returns everything the unit has logged.
func (u *Unit) Console() []LogEntry {
	u.consoleMu.Lock()
	defer u.consoleMu.Unlock()
	return append([]LogEntry(nil), u.console...)
}

// Require evaluates a class once per unit and returns its exports.
func (u *Unit) Require(name string) (*goja.Object, error) {
	if exp, ok := u.exports[name]; ok {
		return exp, nil
	}
	class, err := u.env.Class(u.ctx, name)
	if err != nil {
		return nil, err
	}
	wrapper, err := u.vm.RunProgram(class.Program)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return nil, fmt.Errorf("class %s did not compile to a function", name)
	}
	exp := u.vm.NewObject()
	u.exports[name] = exp
	if _, err := fn(goja.Undefined(), exp, u.newHost()); err != nil {
		delete(u.exports, name)
		return nil, err
	}
	return exp, nil
}

// Run calls className.function with args and returns the exported result.
// The VM is interrupted if the unit's context ends first.
func (u *Unit) Run(className, function string, args ...any) (any, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-u.ctx.Done():
			u.vm.Interrupt(context.Cause(u.ctx))
		case <-done:
		}
	}()

	exp, err := u.Require(className)
	if err != nil {
		return nil, unwrap(err)
	}
	fn, ok := goja.AssertFunction(exp.Get(function))
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoFunction, className, function)
	}
	values := make([]goja.Value, len(args))
	for i, a := range args {
		values[i] = u.vm.ToValue(a)
	}
	val, err := fn(exp, values...)
	if err != nil {
		return nil, unwrap(err)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

// unwrap turns an interrupt carrying an error back into that error.
func unwrap(err error) error {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if cause, ok := ie.Value().(error); ok {
			return cause
		}
	}
	return err
}

// Interrupt stops the VM at its next safe point with reason.
func (u *Unit) Interrupt(reason error) {
	u.vm.Interrupt(reason)
}

// Stack returns the archive source names of the active script frames,
// innermost first. Native frames are skipped.
func (u *Unit) Stack() []string {
	frames := u.vm.CaptureCallStack(0, nil)
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		if loc, _, ok := SplitSource(f.SrcName()); ok && loc != SystemLocation {
			out = append(out, f.SrcName())
		}
	}
	return out
}
