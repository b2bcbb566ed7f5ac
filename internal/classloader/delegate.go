package classloader

import (
	"context"
	"net/url"
	"sync"

	"github.com/GriffinCanCode/netlaunch/internal/descriptor"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/permission"
	"github.com/GriffinCanCode/netlaunch/internal/prompt"
	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
	"github.com/GriffinCanCode/netlaunch/internal/signing"
	"go.uber.org/zap"
)

// Delegate holds the security decisions shared by every loader of one
// application. Once an application is sandboxed it stays sandboxed.
type Delegate struct {
	desc      *descriptor.Descriptor
	verifying bool
	locations *permission.LocationMap
	prompts   prompt.Service
	logger    *logging.Logger

	mu            sync.Mutex
	sandboxed     bool
	partialAsked  bool
	partialErr    error
	trustedAsked  bool
	trustedResult error
}

// NewDelegate creates the delegate for an application. verifying is false
// when the security manager is disabled.
func NewDelegate(d *descriptor.Descriptor, verifying bool, locations *permission.LocationMap, prompts prompt.Service, logger *logging.Logger) *Delegate {
	return &Delegate{
		desc:      d,
		verifying: verifying,
		locations: locations,
		prompts:   prompts,
		logger:    logger.Component("delegate"),
	}
}

// RunInSandbox reports whether the application has been forced into the
// sandbox.
func (d *Delegate) RunInSandbox() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sandboxed
}

// SetRunInSandbox forces the application into the sandbox. It fails once an
// elevated descriptor has been installed for any location, since classes may
// already hold those permissions.
func (d *Delegate) SetRunInSandbox() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sandboxed {
		return nil
	}
	for _, loc := range d.locations.Locations() {
		u, err := url.Parse(loc)
		if err != nil {
			continue
		}
		if desc, ok := d.locations.Get(u); ok && desc.Type != permission.TypeSandbox {
			return errs.NewLaunchFailure("run in sandbox requested after %s was granted %s", loc, desc.Type)
		}
	}
	d.sandboxed = true
	d.logger.Info("application will run in the sandbox")
	return nil
}

// requestedType maps the descriptor's security request to a permission type.
func (d *Delegate) requestedType() permission.Type {
	switch d.desc.Security {
	case descriptor.RequestAll:
		return permission.TypeAll
	case descriptor.RequestJ2EE:
		return permission.TypeJ2EE
	default:
		return permission.TypeSandbox
	}
}

func (d *Delegate) environment() permission.Environment {
	if d.desc.IsApplet() {
		return permission.EnvApplet
	}
	return permission.EnvApplication
}

// SandboxSecurity returns the sandbox descriptor for code under codebase.
func (d *Delegate) SandboxSecurity(codebase *url.URL) permission.SecurityDesc {
	return permission.SecurityDesc{Type: permission.TypeSandbox, Codebase: codebase, Environment: d.environment()}
}

// JarSecurity returns the descriptor installed for a jar. Unsigned jars and
// sandboxed applications get the sandbox; with verification disabled every
// jar gets all permissions.
func (d *Delegate) JarSecurity(codebase *url.URL, signed bool) permission.SecurityDesc {
	sd := d.SandboxSecurity(codebase)
	switch {
	case !d.verifying:
		sd.Type = permission.TypeAll
	case d.RunInSandbox() || !signed:
	default:
		sd.Type = d.requestedType()
	}
	return sd
}

// ApplicationSecurity returns the type the application as a whole runs with.
// Unsigned code asking for more than the sandbox is a LaunchFailure unless
// it was sandboxed first.
func (d *Delegate) ApplicationSecurity(state signing.State) (permission.Type, error) {
	if !d.verifying {
		return permission.TypeAll, nil
	}
	if d.RunInSandbox() {
		return permission.TypeSandbox, nil
	}
	requested := d.requestedType()
	if state == signing.None && requested != permission.TypeSandbox {
		return permission.TypeSandbox, errs.NewLaunchFailure("cannot grant %s to unsigned jars", requested)
	}
	return requested, nil
}

// PromptPartialSigning asks once whether a partially signed application may
// continue. A decline sandboxes the application; later calls return the first
// outcome without asking again.
func (d *Delegate) PromptPartialSigning(ctx context.Context) error {
	d.mu.Lock()
	if d.partialAsked {
		err := d.partialErr
		d.mu.Unlock()
		return err
	}
	d.partialAsked = true
	d.mu.Unlock()

	err := d.askPartial(ctx)

	d.mu.Lock()
	d.partialErr = err
	d.mu.Unlock()
	return err
}

func (d *Delegate) askPartial(ctx context.Context) error {
	if d.RunInSandbox() {
		return nil
	}
	req := prompt.NewRequest(prompt.KindPartialSigning, d.desc.Title(), d.desc.Information.Vendor, sourceOf(d.desc),
		"Only part of this application is signed. Allow the signed part to run with elevated permissions?")
	decision, err := d.prompts.Ask(ctx, req)
	if err != nil {
		return errs.WrapLaunchFailure(err, "partial signing prompt")
	}
	if decision == prompt.Allow {
		d.logger.Info("user accepted partially signed application")
		return nil
	}
	d.logger.Info("user declined partial signing, sandboxing application")
	return d.SetRunInSandbox()
}

// CheckTrust asks whether to run code from a publisher whose certificate
// does not chain to the trust store. The answer is asked for once.
func (d *Delegate) CheckTrust(ctx context.Context, publisher *signing.Signer) error {
	if d.RunInSandbox() || publisher == nil || publisher.Trusted {
		return nil
	}

	d.mu.Lock()
	if d.trustedAsked {
		err := d.trustedResult
		d.mu.Unlock()
		return err
	}
	d.trustedAsked = true
	d.mu.Unlock()

	req := prompt.NewRequest(prompt.KindUntrustedPublisher, d.desc.Title(), d.desc.Information.Vendor, sourceOf(d.desc),
		"The application's publisher could not be verified. Run it anyway?").
		With("subject", publisher.Subject).
		With("issuer", publisher.Issuer).
		With("fingerprint", publisher.Fingerprint)

	var result error
	decision, err := d.prompts.Ask(ctx, req)
	switch {
	case err != nil:
		result = errs.WrapLaunchFailure(err, "untrusted publisher prompt")
	case decision != prompt.Allow:
		result = errs.NewLaunchFailure("user declined to trust publisher %s", publisher.Subject)
	default:
		d.logger.Info("user trusted publisher", zap.String("subject", publisher.Subject))
	}

	d.mu.Lock()
	d.trustedResult = result
	d.mu.Unlock()
	return result
}

// AskUnverified offers to run an application whose signatures failed to
// verify in the sandbox.
func (d *Delegate) AskUnverified(ctx context.Context, cause error) error {
	req := prompt.NewRequest(prompt.KindUnsignedCode, d.desc.Title(), d.desc.Information.Vendor, sourceOf(d.desc),
		"The application's signatures could not be verified. Run it in the sandbox?").
		With("cause", cause.Error())
	decision, err := d.prompts.Ask(ctx, req)
	if err != nil {
		return errs.WrapLaunchFailure(err, "verification prompt")
	}
	if decision != prompt.Allow {
		return errs.WrapLaunchFailure(cause, "jar verification failed")
	}
	return d.SetRunInSandbox()
}

func sourceOf(d *descriptor.Descriptor) string {
	if d.Source == nil {
		return ""
	}
	return d.Source.String()
}
