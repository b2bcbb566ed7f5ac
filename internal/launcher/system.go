package launcher

import (
	"fmt"

	"github.com/GriffinCanCode/netlaunch/internal/jar"
	"github.com/GriffinCanCode/netlaunch/internal/script"
)

// Builtin classes are compiled into the launcher and shadow application
// classes of the same name.
var builtinSources = map[string]string{
	"netlaunch.System": `
exports.exit = function (status) { host.exit(status || 0); };
exports.getProperty = function (key) { return host.getProperty(key); };
exports.setProperty = function (key, value) { host.setProperty(key, value); };
`,
	"netlaunch.Thread": `
exports.start = function (className, fn) {
	var args = Array.prototype.slice.call(arguments, 2);
	return host.startThread.apply(null, [className, fn].concat(args));
};
exports.sleep = function (ms) { host.sleep(ms); };
`,
	"netlaunch.BasicService": `
exports.getCodeBase = function () { return host.getProperty("javaws.codebase"); };
exports.downloadPart = function (part) { host.downloadPart(part); };
exports.getResource = function (name) { return host.getResource(name); };
`,
}

// Builtins holds the compiled system classes.
type Builtins struct {
	classes map[string]*script.Class
}

// NewBuiltins compiles the built-in system classes.
func NewBuiltins() (*Builtins, error) {
	b := &Builtins{classes: make(map[string]*script.Class, len(builtinSources))}
	for name, src := range builtinSources {
		c, err := script.Compile(name, script.SystemLocation, jar.ClassEntry(name), []byte(src))
		if err != nil {
			return nil, fmt.Errorf("builtin %s: %w", name, err)
		}
		b.classes[name] = c
	}
	return b, nil
}

// SystemClass implements classloader.SystemClasses.
func (b *Builtins) SystemClass(name string) (*script.Class, bool) {
	c, ok := b.classes[name]
	return c, ok
}
