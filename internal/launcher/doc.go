// Package launcher turns descriptors into running applications.
//
// A RuntimeContext is created once per process and passed down to every
// component that needs the shared services: the resource cache, trust
// material, the prompt service, the instance registry and the security
// manager, which can be installed exactly once.
//
// Launcher.Launch resolves the loader tree, creates and initializes the
// instance and starts its main unit. Descriptors that need runtime settings
// the current process cannot honour are launched in a child process running
// the same binary with forking disabled.
package launcher
