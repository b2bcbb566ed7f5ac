package permission

// Read-only system properties every sandboxed application may query.
var sandboxReadProperties = []string{
	"java.version",
	"java.vendor",
	"java.vendor.url",
	"java.class.version",
	"os.name",
	"os.version",
	"os.arch",
	"file.separator",
	"path.separator",
	"line.separator",
	"java.specification.version",
	"java.specification.vendor",
	"java.specification.name",
	"java.vm.specification.version",
	"java.vm.specification.vendor",
	"java.vm.specification.name",
	"java.vm.version",
	"java.vm.vendor",
	"java.vm.name",
	"javawebstart.version",
	"javaplugin.*",
	"jnlp.*",
	"javaws.*",
	"browser",
	"browser.*",
	"deployment.javaws",
}

// Properties applications, but not applets, may read and write.
var applicationProperties = []string{
	"awt.useSystemAAFontSettings",
	"http.agent",
	"http.keepAlive",
	"java.awt.syncLWRequests",
	"java.awt.Window.locationByPlatform",
	"javaws.cfg.jauthenticator",
	"javax.swing.defaultlf",
	"sun.awt.noerasebackground",
	"sun.awt.erasebackgroundonresize",
	"sun.java2d.d3d",
	"sun.java2d.dpiaware",
	"sun.java2d.noddraw",
	"sun.java2d.opengl",
	"swing.boldMetal",
	"swing.metalTheme",
	"swing.noxp",
	"swing.useSystemFontSettings",
}

// Sandbox returns the process-wide baseline granted to every code source.
func Sandbox() []Permission {
	perms := []Permission{
		{Kind: KindSocket, Target: "localhost:1024-", Actions: "listen"},
		{Kind: KindProperty, Target: "jnlp.*", Actions: "read,write"},
		{Kind: KindProperty, Target: "javaws.*", Actions: "read,write"},
		{Kind: KindRuntime, Target: "exitVM"},
		{Kind: KindRuntime, Target: "stopThread"},
	}
	for _, name := range sandboxReadProperties {
		perms = append(perms, Permission{Kind: KindProperty, Target: name, Actions: "read"})
	}
	return perms
}

// J2EE returns the permissions added on top of the sandbox for J2EE clients.
func J2EE() []Permission {
	return []Permission{
		{Kind: KindAWT, Target: "accessClipboard"},
		{Kind: KindRuntime, Target: "exitVM"},
		{Kind: KindRuntime, Target: "loadLibrary.*"},
		{Kind: KindRuntime, Target: "queuePrintJob"},
		{Kind: KindSocket, Target: "*", Actions: "connect"},
		{Kind: KindSocket, Target: "localhost:1024-", Actions: "accept,listen"},
		{Kind: KindFile, Target: "*", Actions: "read,write"},
		{Kind: KindProperty, Target: "*", Actions: "read"},
	}
}

// ApplicationExtras returns the property permissions granted only to
// application (not applet) environments.
func ApplicationExtras() []Permission {
	perms := make([]Permission, 0, len(applicationProperties))
	for _, name := range applicationProperties {
		perms = append(perms, Permission{Kind: KindProperty, Target: name, Actions: "read,write"})
	}
	return perms
}

// WindowWithoutBanner lets code open top-level windows without a warning
// banner.
var WindowWithoutBanner = Permission{Kind: KindAWT, Target: "showWindowWithoutWarningBanner"}

// ExitVM is the permission checked before an application may exit.
var ExitVM = Permission{Kind: KindRuntime, Target: "exitVM"}

// SetSecurityManager and SetPolicy are never granted once the security
// manager is installed.
var (
	SetSecurityManager = Permission{Kind: KindRuntime, Target: "setSecurityManager"}
	SetPolicy          = Permission{Kind: KindRuntime, Target: "setPolicy"}
)
