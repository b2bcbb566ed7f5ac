package manifest

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/GriffinCanCode/netlaunch/internal/descriptor"
	"github.com/GriffinCanCode/netlaunch/internal/jar"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/permission"
	"github.com/GriffinCanCode/netlaunch/internal/prompt"
	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
	"github.com/GriffinCanCode/netlaunch/internal/signing"
	"go.uber.org/zap"
)

// Sandboxer is the part of the security delegate the checker drives.
type Sandboxer interface {
	RunInSandbox() bool
	SetRunInSandbox() error
}

// Input is everything one check run looks at.
type Input struct {
	Descriptor *descriptor.Descriptor
	// Manifest is the main archive's manifest; nil when it has none.
	Manifest *jar.Manifest
	Signing  signing.State
	// Effective is the security type currently assigned to the main archive.
	Effective permission.Type
	// Resources lists every location the application loads from.
	Resources []*url.URL
}

// Checker runs the enabled attribute checks.
type Checker struct {
	checks   Checks
	level    Level
	delegate Sandboxer
	prompts  prompt.Service
	logger   *logging.Logger
}

// NewChecker creates a checker.
func NewChecker(checks Checks, level Level, delegate Sandboxer, prompts prompt.Service, logger *logging.Logger) *Checker {
	return &Checker{
		checks:   checks,
		level:    level,
		delegate: delegate,
		prompts:  prompts,
		logger:   logger.Component("manifest"),
	}
}

// CheckAll runs every enabled check in a fixed order and stops at the first
// failure.
func (c *Checker) CheckAll(ctx context.Context, in Input) error {
	if c.checks == CheckNone {
		c.logger.Warn("manifest attribute checks are disabled")
		return nil
	}
	steps := []struct {
		check Checks
		name  string
		run   func(context.Context, Input) error
	}{
		{CheckTrusted, jar.AttrTrustedOnly, c.checkTrustedOnly},
		{CheckCodebase, jar.AttrCodebase, c.checkCodebase},
		{CheckPermissions, jar.AttrPermissions, c.checkPermissions},
		{CheckALAC, jar.AttrALAC, c.checkALAC},
		{CheckEntryPoint, jar.AttrEntryPoint, c.checkEntryPoint},
	}
	for _, step := range steps {
		if !c.checks.Has(step.check) {
			c.logger.Warn("manifest check skipped", zap.String("attribute", step.name))
			continue
		}
		if err := step.run(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) checkTrustedOnly(_ context.Context, in Input) error {
	value := strings.TrimSpace(in.Manifest.Get(jar.AttrTrustedOnly))
	if !strings.EqualFold(value, "true") {
		c.logger.Debug("Trusted-Only not set", zap.String("value", value))
		return nil
	}

	full := in.Signing == signing.Full
	sandboxed := c.delegate.RunInSandbox()
	correct := (full && !sandboxed && in.Effective == permission.TypeAll) ||
		(sandboxed && in.Effective == permission.TypeSandbox)
	if full && correct {
		return nil
	}
	return errs.NewLaunchFailure("Trusted-Only is set but the application is %s and requests %s",
		signedDescription(in.Signing, sandboxed), in.Effective)
}

func signedDescription(state signing.State, sandboxed bool) string {
	switch {
	case state == signing.Full && !sandboxed:
		return "fully signed"
	case state == signing.Full:
		return "fully signed but sandboxed"
	default:
		return "not fully signed"
	}
}

func (c *Checker) checkCodebase(_ context.Context, in Input) error {
	d := in.Descriptor
	if d.Codebase == nil || d.Codebase.Scheme == "file" {
		c.logger.Warn("local application, codebase validation disabled")
		return nil
	}
	attr := CompileList(in.Manifest.Get(jar.AttrCodebase), false)
	if attr == nil {
		c.logger.Warn("manifest does not declare a Codebase")
		return nil
	}
	codebase := guessCodebase(d)
	matches := attr.Matches(codebase)

	switch {
	case in.Effective == permission.TypeSandbox && matches:
		c.logger.Info("codebase matches manifest, application is unsigned")
	case in.Effective == permission.TypeSandbox:
		c.logger.Error("codebase does not match manifest, application is unsigned",
			zap.Stringer("codebase", codebase), zap.Stringer("expected", attr))
	case matches:
		c.logger.Info("codebase matches manifest, application is signed")
	case d.IsApplet():
		return errs.NewLaunchFailure("signed applet codebase %s does not match manifest Codebase %s", codebase, attr)
	default:
		c.logger.Error("signed application codebase does not match manifest Codebase",
			zap.Stringer("codebase", codebase), zap.Stringer("expected", attr))
	}
	return nil
}

// sandboxAttribute reads Permissions: true for sandbox, false for
// all-permissions, nil when absent or unrecognised.
func sandboxAttribute(m *jar.Manifest) *bool {
	var v bool
	switch strings.ToLower(strings.TrimSpace(m.Get(jar.AttrPermissions))) {
	case "sandbox":
		v = true
	case "all-permissions":
		v = false
	default:
		return nil
	}
	return &v
}

func (c *Checker) checkPermissions(ctx context.Context, in Input) error {
	attr := in.Manifest.Get(jar.AttrPermissions)
	if c.delegate.RunInSandbox() {
		c.logger.Warn("already sandboxed, Permissions attribute ignored", zap.String("permissions", attr))
		return nil
	}

	forced := sandboxAttribute(in.Manifest)
	if forced == nil {
		switch c.level {
		case LevelDenyUnsigned:
			return errs.NewLaunchFailure("manifest is missing the Permissions attribute at security level %s", c.level)
		case LevelAskUnsigned:
			ok, err := c.ask(ctx, in, prompt.KindMissingPermissions,
				"The application's manifest does not declare the Permissions attribute.")
			if err != nil {
				return err
			}
			if !ok {
				return errs.NewLaunchFailure("manifest is missing the Permissions attribute and the user declined")
			}
		}
		return nil
	}

	requested := in.Descriptor.Security
	if requested == descriptor.RequestAll && *forced {
		return errs.NewLaunchFailure("Permissions attribute is %q but the descriptor requests %s", attr, requested)
	}
	if requested == descriptor.RequestSandbox && !*forced {
		return errs.NewLaunchFailure("Permissions attribute is %q but the descriptor requests %s", attr, requested)
	}
	if requested != descriptor.RequestNone {
		return nil
	}

	switch {
	case *forced && in.Signing != signing.None:
		c.logger.Warn("Permissions is sandbox and the application is signed, forcing sandbox")
		return c.delegate.SetRunInSandbox()
	case !*forced && in.Signing == signing.None && !in.Descriptor.IsApplet():
		c.logger.Warn("Permissions is all-permissions and the application is unsigned, forcing sandbox")
		return c.delegate.SetRunInSandbox()
	}
	return nil
}

func (c *Checker) checkALAC(ctx context.Context, in Input) error {
	d := in.Descriptor
	codebase := d.Codebase
	docbase := codebase
	if d.IsApplet() && d.Source != nil {
		docbase = d.Source
	}
	if d.EntryPoint.DocumentBase != nil {
		docbase = d.EntryPoint.DocumentBase
	}

	used := usedLocations(in.Resources)
	if len(used) == 0 {
		c.logger.Debug("no remote resources, ALAC check skipped")
		return nil
	}

	allLocal := true
	stripped := stripDocbase(docbase)
	for _, u := range used {
		if relativeTo(u, codebase) && relativeTo(u, stripped) {
			continue
		}
		allLocal = false
		c.logger.Warn("resource is not from codebase or document base", zap.Stringer("url", u))
	}
	if allLocal {
		return nil
	}

	var attr *Matchers
	if in.Signing != signing.None {
		attr = CompileList(in.Manifest.Get(jar.AttrALAC), true)
	}
	if attr == nil {
		ok, err := c.ask(ctx, in, prompt.KindMissingALAC,
			"The application loads resources from outside its codebase and does not declare Application-Library-Allowable-Codebase.",
			used...)
		if err != nil {
			return err
		}
		if !ok {
			return errs.NewLaunchFailure("non-codebase resources without Application-Library-Allowable-Codebase were declined")
		}
		return nil
	}

	for _, u := range used {
		if !attr.Matches(u) {
			return errs.NewLaunchFailure("resource %s does not match Application-Library-Allowable-Codebase %s", u, attr)
		}
	}
	if c.level == LevelAllowUnsigned {
		return nil
	}
	ok, err := c.ask(ctx, in, prompt.KindMatchingALAC,
		"The application loads resources from locations its manifest allows.", used...)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NewLaunchFailure("resources matching Application-Library-Allowable-Codebase were declined")
	}
	return nil
}

func (c *Checker) checkEntryPoint(_ context.Context, in Input) error {
	if in.Signing == signing.None {
		return nil
	}
	main := in.Descriptor.EntryPoint.MainClass
	if main == "" {
		c.logger.Debug("main class unknown, Entry-Point not checked")
		return nil
	}
	eps := in.Manifest.EntryPoints()
	if len(eps) == 0 {
		return nil
	}
	for _, ep := range eps {
		if ep == main {
			return nil
		}
	}
	return errs.NewLaunchFailure("none of the entry points %q match main class %s of signed code",
		in.Manifest.Get(jar.AttrEntryPoint), main)
}

func (c *Checker) ask(ctx context.Context, in Input, kind prompt.Kind, message string, urls ...*url.URL) (bool, error) {
	d := in.Descriptor
	source := ""
	if d.Source != nil {
		source = d.Source.String()
	}
	req := prompt.NewRequest(kind, d.Title(), d.Information.Vendor, source, message)
	for i, u := range urls {
		req = req.With(fmt.Sprintf("resource_%d", i), u.String())
	}
	decision, err := c.prompts.Ask(ctx, req)
	if err != nil {
		return false, errs.WrapLaunchFailure(err, "prompt failed")
	}
	return decision == prompt.Allow, nil
}

// usedLocations strips file names and de-duplicates.
func usedLocations(resources []*url.URL) []*url.URL {
	seen := make(map[string]bool)
	var out []*url.URL
	for _, r := range resources {
		if r == nil {
			continue
		}
		u := descriptor.StripFile(r)
		if seen[u.String()] {
			continue
		}
		seen[u.String()] = true
		out = append(out, u)
	}
	return out
}

// guessCodebase is the codebase, or the descriptor's directory without one.
func guessCodebase(d *descriptor.Descriptor) *url.URL {
	if d.Codebase != nil {
		return d.Codebase
	}
	return descriptor.StripFile(d.Source)
}

// stripDocbase removes a trailing file name from a document base.
func stripDocbase(u *url.URL) *url.URL {
	if u == nil || strings.HasSuffix(u.Path, "/") {
		return u
	}
	return descriptor.StripFile(u)
}

// relativeTo reports whether u lives under base: same scheme, host and
// port, no parent segments, and a path below base's path.
func relativeTo(u, base *url.URL) bool {
	if u == nil || base == nil {
		return false
	}
	if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
		return false
	}
	if strings.Contains(u.Path, "..") {
		return false
	}
	up := strings.TrimSuffix(path.Clean("/"+u.Path), "/")
	bp := strings.TrimSuffix(path.Clean("/"+base.Path), "/")
	return bp == "" || up == bp || strings.HasPrefix(up, bp+"/")
}
