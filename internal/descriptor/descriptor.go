// Package descriptor is the immutable launch descriptor model.
//
// A Descriptor is produced once by a Parser and never mutated. Extensions are
// referenced by URL and resolved lazily through a Resolver, so a descriptor
// graph may share jars between extensions and is walked with a visited set.
package descriptor

import (
	"context"
	"net/url"
	"path"
	"strings"
)

// Kind is the entry point type of a descriptor.
type Kind int

const (
	KindApplication Kind = iota
	KindApplet
	KindInstaller
	KindComponent
)

func (k Kind) String() string {
	switch k {
	case KindApplication:
		return "application"
	case KindApplet:
		return "applet"
	case KindInstaller:
		return "installer"
	case KindComponent:
		return "component"
	default:
		return "unknown"
	}
}

// SecurityRequest is the permission level asked for by the descriptor.
type SecurityRequest string

const (
	RequestNone    SecurityRequest = ""
	RequestSandbox SecurityRequest = "sandbox"
	RequestAll     SecurityRequest = "all-permissions"
	RequestJ2EE    SecurityRequest = "j2ee-application-client-permissions"
)

// Elevated reports whether the request asks for more than the sandbox.
func (r SecurityRequest) Elevated() bool {
	return r == RequestAll || r == RequestJ2EE
}

// Information is the descriptor's user-visible metadata.
type Information struct {
	Title       string
	Vendor      string
	Homepage    string
	Description string
	Offline     bool
	Shortcut    bool
}

// JAR identifies one remote archive.
type JAR struct {
	URL     *url.URL
	Version string
	Main    bool
	Native  bool
	Lazy    bool
	Part    string
}

// Key is the identity of a jar: URL plus version.
func (j JAR) Key() string {
	return Key(j.URL, j.Version)
}

// Key builds the URL+version identity used for jar lookups.
func Key(u *url.URL, version string) string {
	if u == nil {
		return ""
	}
	if version == "" {
		return u.String()
	}
	return u.String() + "#" + version
}

// Extension references another descriptor.
type Extension struct {
	Name    string
	URL     *url.URL
	Version string
}

// Property is a system property the descriptor asks to set.
type Property struct {
	Key   string
	Value string
}

// Package maps class name prefixes to a lazily downloaded part.
type Package struct {
	Name      string // "com.example.extra.*" or a class name
	Part      string
	Recursive bool
}

// Matches reports whether className belongs to this package entry.
func (p Package) Matches(className string) bool {
	prefix, wildcard := strings.CutSuffix(p.Name, ".*")
	if !wildcard {
		return className == p.Name
	}
	rest, ok := strings.CutPrefix(className, prefix+".")
	if !ok {
		return false
	}
	return p.Recursive || !strings.Contains(rest, ".")
}

// Resources is the resource set of a descriptor.
type Resources struct {
	JARs       []JAR
	Natives    []JAR
	Extensions []Extension
	Properties []Property
	Packages   []Package
}

// MainJAR returns the jar marked main, or the first jar.
func (r Resources) MainJAR() (JAR, bool) {
	for _, j := range r.JARs {
		if j.Main {
			return j, true
		}
	}
	if len(r.JARs) > 0 {
		return r.JARs[0], true
	}
	return JAR{}, false
}

// PartJARs returns every jar and native jar in the named part.
func (r Resources) PartJARs(part string) []JAR {
	var out []JAR
	for _, j := range r.JARs {
		if j.Part == part {
			out = append(out, j)
		}
	}
	for _, j := range r.Natives {
		if j.Part == part {
			out = append(out, j)
		}
	}
	return out
}

// PartFor returns the part a class name is mapped to by package entries.
func (r Resources) PartFor(className string) (string, bool) {
	for _, p := range r.Packages {
		if p.Matches(className) {
			return p.Part, true
		}
	}
	return "", false
}

// EntryPoint describes what to run.
type EntryPoint struct {
	MainClass    string
	Arguments    []string
	DocumentBase *url.URL
	Parameters   map[string]string
}

// JVMRuntime carries the runtime settings that force a separate process.
type JVMRuntime struct {
	Args        []string
	InitialHeap string
	MaxHeap     string
}

// Descriptor is one parsed launch unit.
type Descriptor struct {
	Spec        string
	Source      *url.URL
	Codebase    *url.URL
	Kind        Kind
	Information Information
	Security    SecurityRequest
	Resources   Resources
	EntryPoint  EntryPoint
	Runtime     JVMRuntime
}

// IsApplet reports whether the descriptor launches an applet.
func (d *Descriptor) IsApplet() bool {
	return d.Kind == KindApplet
}

// NeedsNewProcess reports whether the runtime settings cannot be honoured in
// the current process.
func (d *Descriptor) NeedsNewProcess() bool {
	return len(d.Runtime.Args) > 0 || d.Runtime.InitialHeap != "" || d.Runtime.MaxHeap != ""
}

// Title returns the title or, failing that, the source location.
func (d *Descriptor) Title() string {
	if d.Information.Title != "" {
		return d.Information.Title
	}
	if d.Source != nil {
		return d.Source.String()
	}
	return "untitled"
}

// FindJAR looks a jar up by URL+version in this descriptor only.
func (d *Descriptor) FindJAR(key string) (JAR, bool) {
	for _, j := range d.Resources.JARs {
		if j.Key() == key {
			return j, true
		}
	}
	for _, j := range d.Resources.Natives {
		if j.Key() == key {
			return j, true
		}
	}
	return JAR{}, false
}

// Parser turns raw descriptor bytes into a Descriptor.
type Parser interface {
	Parse(data []byte, source *url.URL) (*Descriptor, error)
}

// Resolver loads the descriptor an extension points at.
type Resolver interface {
	Resolve(ctx context.Context, ext Extension) (*Descriptor, error)
}

// StripFile returns u with the last path element removed, keeping the
// trailing slash. Query and fragment are dropped.
func StripFile(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	out := *u
	out.RawQuery = ""
	out.Fragment = ""
	if !strings.HasSuffix(out.Path, "/") {
		dir := path.Dir(out.Path)
		if dir == "." || dir == "/" {
			out.Path = "/"
		} else {
			out.Path = dir + "/"
		}
	}
	out.RawPath = ""
	return &out
}
