package manifest

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher is one codebase pattern: [scheme://]host[:port][/path]. Each part
// defaults to "*". Host patterns accept leading or trailing "*" wildcards and
// "*.example.com" also matches example.com itself. Paths are doublestar
// globs; a pattern naming a directory covers everything below it.
type Matcher struct {
	source string
	scheme *regexp.Regexp
	host   *regexp.Regexp
	port   *regexp.Regexp
	path   string
}

// Compile parses a single pattern.
func Compile(source string) *Matcher {
	m := &Matcher{source: source}

	scheme, rest := "*", source
	if i := strings.Index(source, "://"); i >= 0 && !strings.ContainsAny(source[:i], "./") {
		scheme, rest = source[:i], source[i+3:]
	}

	pathPart := "*"
	if i := strings.Index(rest, "/"); i >= 0 {
		pathPart = rest[i+1:]
		rest = rest[:i]
	}
	if pathPart == "" {
		pathPart = "*"
	}

	host, port := rest, "*"
	if i := strings.LastIndex(rest, ":"); i >= 0 && !strings.HasSuffix(rest, "]") {
		host, port = rest[:i], rest[i+1:]
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		host = "*"
	}

	m.scheme = wildcard(scheme)
	m.host = hostPattern(host)
	m.port = wildcard(port)
	m.path = pathPart
	return m
}

func (m *Matcher) String() string { return m.source }

// Match tests u; includePath adds the path comparison.
func (m *Matcher) Match(u *url.URL, includePath bool) bool {
	if u == nil {
		return false
	}
	if !m.scheme.MatchString(u.Scheme) || !m.host.MatchString(u.Hostname()) || !m.port.MatchString(effectivePort(u)) {
		return false
	}
	if !includePath || m.path == "*" || m.path == "**" {
		return true
	}
	p := strings.TrimPrefix(u.Path, "/")
	trimmed := strings.TrimSuffix(p, "/")
	for _, candidate := range []string{p, trimmed} {
		if ok, _ := doublestar.Match(m.path, candidate); ok {
			return true
		}
		if ok, _ := doublestar.Match(strings.TrimSuffix(m.path, "/")+"/**", candidate); ok {
			return true
		}
	}
	return false
}

// Matchers is a space-separated pattern list; any pattern may match.
type Matchers struct {
	list        []*Matcher
	includePath bool
}

// CompileList parses a manifest attribute value.
func CompileList(value string, includePath bool) *Matchers {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return nil
	}
	ms := &Matchers{includePath: includePath}
	for _, f := range fields {
		ms.list = append(ms.list, Compile(f))
	}
	return ms
}

// Matches reports whether any pattern accepts u.
func (ms *Matchers) Matches(u *url.URL) bool {
	if ms == nil {
		return false
	}
	for _, m := range ms.list {
		if m.Match(u, ms.includePath) {
			return true
		}
	}
	return false
}

func (ms *Matchers) String() string {
	if ms == nil {
		return ""
	}
	parts := make([]string, len(ms.list))
	for i, m := range ms.list {
		parts[i] = m.source
	}
	return strings.Join(parts, " ")
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch u.Scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}

func wildcard(s string) *regexp.Regexp {
	return regexp.MustCompile(wildcardExpr(s))
}

func wildcardExpr(s string) string {
	if s == "*" {
		return "^.*$"
	}
	core := s
	lead := strings.HasPrefix(core, "*")
	if lead {
		core = core[1:]
	}
	trail := strings.HasSuffix(core, "*")
	if trail {
		core = core[:len(core)-1]
	}
	expr := regexp.QuoteMeta(core)
	if lead {
		expr = ".*" + expr
	}
	if trail {
		expr += ".*"
	}
	return "(?i)^" + expr + "$"
}

func hostPattern(host string) *regexp.Regexp {
	if rest, ok := strings.CutPrefix(host, "*."); ok {
		return regexp.MustCompile("(?:" + wildcardExpr(rest) + ")|(?:" + wildcardExpr(host) + ")")
	}
	return wildcard(host)
}
