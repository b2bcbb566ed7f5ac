package permission

import (
	"net/url"
	"strings"
)

// Type is the trust level of a code source.
type Type int

const (
	TypeSandbox Type = iota
	TypeAll
	TypeJ2EE
)

func (t Type) String() string {
	switch t {
	case TypeAll:
		return "all-permissions"
	case TypeJ2EE:
		return "j2ee"
	default:
		return "sandbox"
	}
}

// Environment distinguishes applications from applets.
type Environment int

const (
	EnvApplication Environment = iota
	EnvApplet
)

// SecurityDesc is the trust envelope of one code source.
type SecurityDesc struct {
	Type        Type
	Codebase    *url.URL
	Environment Environment
}

// Options carry the configuration that shapes permission sets.
type Options struct {
	// TrustedPolicy replaces the unrestricted grant for all-permissions code.
	TrustedPolicy *Policy
	// GrantWindowPermissions adds WindowWithoutBanner to every sandbox.
	GrantWindowPermissions bool
}

// Equal reports whether two descriptors grant the same envelope.
func (d SecurityDesc) Equal(o SecurityDesc) bool {
	return d.Type == o.Type && d.Environment == o.Environment && sameURL(d.Codebase, o.Codebase)
}

// Permissions returns the collection this descriptor grants.
func (d SecurityDesc) Permissions(opts Options) *Collection {
	c := NewCollection()

	switch d.Type {
	case TypeAll:
		if opts.TrustedPolicy != nil {
			c.Add(opts.TrustedPolicy.Permissions()...)
		} else {
			c.Add(All)
		}
		return c
	case TypeJ2EE:
		c.Add(d.sandbox(opts)...)
		c.Add(J2EE()...)
	default:
		c.Add(d.sandbox(opts)...)
	}
	return c
}

// sandbox is the baseline plus what depends on this descriptor's origin and
// environment.
func (d SecurityDesc) sandbox(opts Options) []Permission {
	perms := Sandbox()
	if d.Environment == EnvApplication {
		perms = append(perms, ApplicationExtras()...)
	}
	if host := Host(d.Codebase); host != "" {
		perms = append(perms, Permission{Kind: KindSocket, Target: host, Actions: "connect,accept"})
	}
	if opts.GrantWindowPermissions {
		perms = append(perms, WindowWithoutBanner)
	}
	return perms
}

// Host returns the lower-cased host of u, or "" for URLs without one.
func Host(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func sameURL(a, b *url.URL) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}
