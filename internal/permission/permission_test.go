package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImplies(t *testing.T) {
	tests := []struct {
		name string
		held Permission
		want Permission
		ok   bool
	}{
		{"all implies file", All, Permission{Kind: KindFile, Target: "/etc/passwd", Actions: "read"}, true},
		{"kind mismatch", Permission{Kind: KindProperty, Target: "*", Actions: "read"}, Permission{Kind: KindFile, Target: "x", Actions: "read"}, false},

		{"file exact", Permission{Kind: KindFile, Target: "/a/b.jar", Actions: "read"}, Permission{Kind: KindFile, Target: "/a/b.jar", Actions: "read"}, true},
		{"file action missing", Permission{Kind: KindFile, Target: "/a/b.jar", Actions: "read"}, Permission{Kind: KindFile, Target: "/a/b.jar", Actions: "write"}, false},
		{"file action subset", Permission{Kind: KindFile, Target: "/a/b.jar", Actions: "read,write"}, Permission{Kind: KindFile, Target: "/a/b.jar", Actions: "WRITE"}, true},
		{"file star child", Permission{Kind: KindFile, Target: "/a/*", Actions: "read"}, Permission{Kind: KindFile, Target: "/a/b", Actions: "read"}, true},
		{"file star grandchild", Permission{Kind: KindFile, Target: "/a/*", Actions: "read"}, Permission{Kind: KindFile, Target: "/a/b/c", Actions: "read"}, false},
		{"file dash recursive", Permission{Kind: KindFile, Target: "/a/-", Actions: "read"}, Permission{Kind: KindFile, Target: "/a/b/c", Actions: "read"}, true},
		{"file dash not sibling", Permission{Kind: KindFile, Target: "/a/-", Actions: "read"}, Permission{Kind: KindFile, Target: "/ab/c", Actions: "read"}, false},
		{"file dash covers star", Permission{Kind: KindFile, Target: "/a/-", Actions: "read"}, Permission{Kind: KindFile, Target: "/a/b/*", Actions: "read"}, true},
		{"file star not dash", Permission{Kind: KindFile, Target: "/a/*", Actions: "read"}, Permission{Kind: KindFile, Target: "/a/-", Actions: "read"}, false},
		{"file all files", Permission{Kind: KindFile, Target: AllFiles, Actions: "read"}, Permission{Kind: KindFile, Target: "/x", Actions: "read"}, true},
		{"file bare star", Permission{Kind: KindFile, Target: "*", Actions: "read"}, Permission{Kind: KindFile, Target: "notes.txt", Actions: "read"}, true},
		{"file bare star nested", Permission{Kind: KindFile, Target: "*", Actions: "read"}, Permission{Kind: KindFile, Target: "/etc/passwd", Actions: "read"}, false},
		{"file glob chars literal", Permission{Kind: KindFile, Target: "/a[1]/*", Actions: "read"}, Permission{Kind: KindFile, Target: "/a[1]/f", Actions: "read"}, true},

		{"socket listen range", Permission{Kind: KindSocket, Target: "localhost:1024-", Actions: "listen"}, Permission{Kind: KindSocket, Target: "localhost:8080", Actions: "listen"}, true},
		{"socket low port", Permission{Kind: KindSocket, Target: "localhost:1024-", Actions: "listen"}, Permission{Kind: KindSocket, Target: "localhost:80", Actions: "listen"}, false},
		{"socket resolve implied", Permission{Kind: KindSocket, Target: "a.example", Actions: "connect"}, Permission{Kind: KindSocket, Target: "a.example:443", Actions: "resolve"}, true},
		{"socket wrong action", Permission{Kind: KindSocket, Target: "a.example", Actions: "connect"}, Permission{Kind: KindSocket, Target: "a.example:443", Actions: "accept"}, false},
		{"socket wildcard host", Permission{Kind: KindSocket, Target: "*.example.com", Actions: "connect"}, Permission{Kind: KindSocket, Target: "cdn.example.com:80", Actions: "connect"}, true},
		{"socket wildcard not apex", Permission{Kind: KindSocket, Target: "*.example.com", Actions: "connect"}, Permission{Kind: KindSocket, Target: "example.com:80", Actions: "connect"}, false},
		{"socket star", Permission{Kind: KindSocket, Target: "*", Actions: "connect"}, Permission{Kind: KindSocket, Target: "anything:1", Actions: "connect"}, true},
		{"socket host case", Permission{Kind: KindSocket, Target: "A.Example", Actions: "connect"}, Permission{Kind: KindSocket, Target: "a.example:80", Actions: "connect"}, true},
		{"socket other host", Permission{Kind: KindSocket, Target: "a.example", Actions: "connect,accept"}, Permission{Kind: KindSocket, Target: "b.example:80", Actions: "connect"}, false},
		{"socket bounded range", Permission{Kind: KindSocket, Target: "h:-1023", Actions: "connect"}, Permission{Kind: KindSocket, Target: "h:1000-1023", Actions: "connect"}, true},
		{"socket ipv6", Permission{Kind: KindSocket, Target: "[::1]:1024-", Actions: "listen"}, Permission{Kind: KindSocket, Target: "[::1]:2000", Actions: "listen"}, true},

		{"property wildcard", Permission{Kind: KindProperty, Target: "jnlp.*", Actions: "read,write"}, Permission{Kind: KindProperty, Target: "jnlp.debug", Actions: "write"}, true},
		{"property wildcard parent", Permission{Kind: KindProperty, Target: "jnlp.*", Actions: "read"}, Permission{Kind: KindProperty, Target: "jnlp", Actions: "read"}, false},
		{"property read only", Permission{Kind: KindProperty, Target: "os.name", Actions: "read"}, Permission{Kind: KindProperty, Target: "os.name", Actions: "write"}, false},
		{"property star", Permission{Kind: KindProperty, Target: "*", Actions: "read"}, Permission{Kind: KindProperty, Target: "user.home", Actions: "read"}, true},

		{"runtime exact", Permission{Kind: KindRuntime, Target: "exitVM"}, ExitVM, true},
		{"runtime prefix", Permission{Kind: KindRuntime, Target: "loadLibrary.*"}, Permission{Kind: KindRuntime, Target: "loadLibrary.gl"}, true},
		{"runtime no prefix", Permission{Kind: KindRuntime, Target: "exit*"}, ExitVM, false},
		{"awt", WindowWithoutBanner, Permission{Kind: KindAWT, Target: "showWindowWithoutWarningBanner"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.held.Implies(tt.want))
		})
	}
}

func TestPermissionString(t *testing.T) {
	assert.Equal(t, "all", All.String())
	assert.Equal(t, `runtime "exitVM"`, ExitVM.String())
	assert.Equal(t, `file "/a" read`, Permission{Kind: KindFile, Target: "/a", Actions: "read"}.String())
}

func TestCollectionAppendOnly(t *testing.T) {
	c := NewCollection(Sandbox()...)
	before := c.List()

	c.Add(Permission{Kind: KindFile, Target: "/cache/a.jar", Actions: "read"})
	c.Add(Permission{Kind: KindFile, Target: "/cache/a.jar", Actions: "read"})

	after := c.List()
	assert.Len(t, after, len(before)+1)
	assert.Equal(t, before, after[:len(before)])
	assert.True(t, c.Implies(Permission{Kind: KindFile, Target: "/cache/a.jar", Actions: "read"}))
	assert.True(t, c.ImpliesAll(NewCollection(before...)))
}

func TestCollectionAll(t *testing.T) {
	c := NewCollection()
	assert.False(t, c.Implies(ExitVM))
	c.Add(All)
	assert.True(t, c.Implies(Permission{Kind: KindFile, Target: "/etc/shadow", Actions: "write"}))
}

func TestSandboxBaseline(t *testing.T) {
	c := NewCollection(Sandbox()...)

	assert.True(t, c.Implies(Permission{Kind: KindProperty, Target: "java.version", Actions: "read"}))
	assert.True(t, c.Implies(Permission{Kind: KindProperty, Target: "jnlp.anything", Actions: "write"}))
	assert.True(t, c.Implies(Permission{Kind: KindSocket, Target: "localhost:5000", Actions: "listen"}))
	assert.True(t, c.Implies(ExitVM))

	assert.False(t, c.Implies(Permission{Kind: KindProperty, Target: "user.home", Actions: "read"}))
	assert.False(t, c.Implies(Permission{Kind: KindFile, Target: "/tmp/x", Actions: "read"}))
	assert.False(t, c.Implies(Permission{Kind: KindSocket, Target: "evil.example:80", Actions: "connect"}))
	assert.False(t, c.Implies(SetSecurityManager))
}
