package script

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// SourceSeparator joins an archive location and an entry name in a class's
// source name.
const SourceSeparator = "!/"

// SystemLocation is the location of classes built into the launcher. Their
// frames carry no code source and are left out of permission checks.
const SystemLocation = "netlaunch:system"

// Class is a compiled class script.
type Class struct {
	Name     string
	Location string
	Entry    string
	Program  *goja.Program
}

// SourceName returns "<location>!/<entry>".
func (c *Class) SourceName() string {
	return SourceName(c.Location, c.Entry)
}

// SourceName builds a class source name.
func SourceName(location, entry string) string {
	return location + SourceSeparator + entry
}

// SplitSource separates a source name into location and entry. ok is false
// for frames that did not come from an archive.
func SplitSource(src string) (location, entry string, ok bool) {
	return strings.Cut(src, SourceSeparator)
}

const (
	wrapperPrefix = "(function (exports, host) {\n"
	wrapperSuffix = "\n})"
)

// Compile wraps and compiles a class body.
func Compile(name, location, entry string, body []byte) (*Class, error) {
	src := wrapperPrefix + string(body) + wrapperSuffix
	prg, err := goja.Compile(SourceName(location, entry), src, true)
	if err != nil {
		return nil, fmt.Errorf("compile class %s: %w", name, err)
	}
	return &Class{Name: name, Location: location, Entry: entry, Program: prg}, nil
}
