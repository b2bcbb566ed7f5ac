// Package permission computes what a piece of downloaded code may do.
//
// A Permission names a kind of resource, a target and a set of actions. A
// Collection is an append-only set of permissions answering Implies. A
// SecurityDesc is the trust envelope of one code source; the Engine combines
// the sandbox baseline, per-location descriptors and the permissions granted
// while an application runs into the collection for a code source.
//
// Target syntax follows the classic policy file conventions:
//
//	file     "/data/app.jar", "/data/*" (direct children), "/data/-" (recursive), "<<ALL FILES>>"
//	socket   "host", "host:80", "*.example.com:1024-", "localhost:-1023"
//	property "java.version", "jnlp.*", "*"
//	runtime  "exitVM", "loadLibrary.*"
package permission

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Kind is the resource family a permission applies to.
type Kind string

const (
	KindAll      Kind = "all"
	KindFile     Kind = "file"
	KindSocket   Kind = "socket"
	KindProperty Kind = "property"
	KindRuntime  Kind = "runtime"
	KindAWT      Kind = "awt"
)

// AllFiles is the file target matching every path.
const AllFiles = "<<ALL FILES>>"

// Permission is one grant or one requested access.
type Permission struct {
	Kind    Kind   `yaml:"kind" json:"kind"`
	Target  string `yaml:"target" json:"target"`
	Actions string `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// All is the unrestricted permission.
var All = Permission{Kind: KindAll}

func (p Permission) String() string {
	if p.Kind == KindAll {
		return "all"
	}
	if p.Actions == "" {
		return fmt.Sprintf("%s %q", p.Kind, p.Target)
	}
	return fmt.Sprintf("%s %q %s", p.Kind, p.Target, p.Actions)
}

// Implies reports whether holding p grants q.
func (p Permission) Implies(q Permission) bool {
	if p.Kind == KindAll {
		return true
	}
	if p.Kind != q.Kind {
		return false
	}

	switch p.Kind {
	case KindFile:
		return actionsCover(p.Kind, p.Actions, q.Actions) && fileTargetImplies(p.Target, q.Target)
	case KindSocket:
		return actionsCover(p.Kind, p.Actions, q.Actions) && socketTargetImplies(p.Target, q.Target)
	case KindProperty:
		return actionsCover(p.Kind, p.Actions, q.Actions) && nameImplies(p.Target, q.Target)
	default:
		return nameImplies(p.Target, q.Target)
	}
}

// ============================================================================
// Actions
// ============================================================================

func parseActions(kind Kind, actions string) []string {
	var out []string
	for _, a := range strings.Split(strings.ToLower(actions), ",") {
		a = strings.TrimSpace(a)
		if a == "" || slices.Contains(out, a) {
			continue
		}
		out = append(out, a)
		if kind == KindSocket && a != "resolve" && !slices.Contains(out, "resolve") {
			out = append(out, "resolve")
		}
	}
	return out
}

func actionsCover(kind Kind, held, wanted string) bool {
	have := parseActions(kind, held)
	for _, a := range parseActions(kind, wanted) {
		if !slices.Contains(have, a) {
			return false
		}
	}
	return true
}

// ============================================================================
// Named (basic) permissions
// ============================================================================

// nameImplies handles "*", "prefix.*" and exact names.
func nameImplies(held, wanted string) bool {
	if held == "*" || held == wanted {
		return true
	}
	prefix, ok := strings.CutSuffix(held, "*")
	if !ok || (prefix != "" && !strings.HasSuffix(prefix, ".")) {
		return false
	}
	if wanted == strings.TrimSuffix(prefix, ".") {
		return false
	}
	if strings.HasSuffix(wanted, "*") {
		return strings.HasPrefix(strings.TrimSuffix(wanted, "*"), prefix)
	}
	return strings.HasPrefix(wanted, prefix)
}

// ============================================================================
// File targets
// ============================================================================

func fileTargetImplies(held, wanted string) bool {
	if held == AllFiles {
		return true
	}
	if wanted == AllFiles {
		return false
	}

	heldDir, heldMode := splitFileTarget(held)
	wantDir, wantMode := splitFileTarget(wanted)

	switch heldMode {
	case "":
		return wantMode == "" && held == wanted
	case "*":
		if wantMode == "-" {
			return false
		}
		if wantMode == "*" {
			return heldDir == wantDir
		}
		if heldDir == "" {
			return !strings.Contains(wanted, "/")
		}
		ok, _ := doublestar.Match(escapeGlob(heldDir)+"/*", wanted)
		return ok
	case "-":
		if wantMode != "" {
			return wantDir == heldDir || isUnder(wantDir, heldDir)
		}
		return isUnder(wanted, heldDir)
	}
	return false
}

// splitFileTarget separates "/dir/*" or "/dir/-" into the directory and mode.
func splitFileTarget(target string) (string, string) {
	switch {
	case target == "*" || target == "-":
		return "", target
	case strings.HasSuffix(target, "/*"):
		return strings.TrimSuffix(target, "/*"), "*"
	case strings.HasSuffix(target, "/-"):
		return strings.TrimSuffix(target, "/-"), "-"
	}
	return target, ""
}

func isUnder(p, dir string) bool {
	if dir == "" {
		return !strings.HasPrefix(p, "/")
	}
	ok, _ := doublestar.Match(escapeGlob(dir)+"/**", p)
	return ok && p != dir
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ============================================================================
// Socket targets
// ============================================================================

type portRange struct{ lo, hi int }

const maxPort = 65535

func parseSocketTarget(target string) (string, portRange, bool) {
	host, ports := target, ""
	if strings.HasPrefix(target, "[") {
		end := strings.Index(target, "]")
		if end < 0 {
			return "", portRange{}, false
		}
		host = target[1:end]
		ports = strings.TrimPrefix(target[end+1:], ":")
	} else if i := strings.LastIndex(target, ":"); i >= 0 {
		host, ports = target[:i], target[i+1:]
	}

	pr, ok := parsePorts(ports)
	return strings.ToLower(host), pr, ok
}

func parsePorts(s string) (portRange, bool) {
	if s == "" || s == "*" {
		return portRange{0, maxPort}, true
	}
	lo, hi, isRange := strings.Cut(s, "-")
	if !isRange {
		n, err := strconv.Atoi(s)
		return portRange{n, n}, err == nil
	}
	r := portRange{0, maxPort}
	var err error
	if lo != "" {
		if r.lo, err = strconv.Atoi(lo); err != nil {
			return r, false
		}
	}
	if hi != "" {
		if r.hi, err = strconv.Atoi(hi); err != nil {
			return r, false
		}
	}
	return r, r.lo <= r.hi
}

func socketTargetImplies(held, wanted string) bool {
	hHost, hPorts, ok := parseSocketTarget(held)
	if !ok {
		return false
	}
	wHost, wPorts, ok := parseSocketTarget(wanted)
	if !ok {
		return false
	}
	if wPorts.lo < hPorts.lo || wPorts.hi > hPorts.hi {
		return false
	}
	return hostImplies(hHost, wHost)
}

func hostImplies(held, wanted string) bool {
	if held == "*" || held == wanted {
		return true
	}
	if suffix, ok := strings.CutPrefix(held, "*."); ok {
		if w, ok := strings.CutPrefix(wanted, "*."); ok {
			return w == suffix || strings.HasSuffix(w, "."+suffix)
		}
		return strings.HasSuffix(wanted, "."+suffix)
	}
	return false
}
