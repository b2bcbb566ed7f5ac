package classloader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/descriptor"
	"github.com/GriffinCanCode/netlaunch/internal/jar"
	"github.com/GriffinCanCode/netlaunch/internal/permission"
	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
	"github.com/GriffinCanCode/netlaunch/internal/signing"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// nativeSuffixes identify native library entries in native jars.
var nativeSuffixes = []string{".so", ".dll", ".dylib", ".jnilib"}

// stage fetches, opens and verifies one jar and records its signing result.
// A jar whose signatures do not verify is returned together with the
// VerificationFailure and recorded as unsigned, so the caller can still run
// it sandboxed.
func (l *Loader) stage(ctx context.Context, j descriptor.JAR) (*archiveJar, error) {
	start := time.Now()
	local, err := l.app.opts.Fetcher.Fetch(ctx, j.URL, j.Version)
	if err != nil {
		return nil, err
	}
	archive, err := jar.Open(local)
	if err != nil {
		return nil, &errs.FetchError{URL: j.URL.String(), Err: err}
	}
	a := &archiveJar{desc: j, path: local, archive: archive}

	if !l.app.verifying() {
		a.result = &signing.Result{Path: local}
		l.signing.Add(j.Key(), a.result)
		return a, nil
	}

	result, verr := l.app.opts.Verifier.VerifyArchive(archive)
	if verr != nil {
		result = &signing.Result{Path: local, Signable: max(1, len(archive.SignableEntries()))}
	}
	a.result = result
	l.signing.Add(j.Key(), result)

	l.app.logger.Debug("jar staged",
		zap.String("jar", j.URL.String()),
		zap.Bool("signed", result.Signed()),
		zap.Strings("signers", result.Fingerprints()),
		zap.Duration("duration", time.Since(start)))
	if verr != nil {
		return a, verr
	}
	return a, nil
}

// install gives a staged jar its SecurityDesc and makes its entries
// loadable. The desc is installed before anything else can see the jar.
func (l *Loader) install(a *archiveJar) error {
	a.security = l.app.delegate.JarSecurity(l.codebase, l.signing.Signed(a.desc.Key()))
	if err := l.app.locations.Put(a.desc.URL, a.security); err != nil {
		return err
	}
	l.app.engine.AddResourcePermission(permission.Permission{Kind: permission.KindFile, Target: a.path, Actions: "read"})

	var natives []string
	if a.desc.Native {
		for _, name := range a.archive.Names() {
			if slices.ContainsFunc(nativeSuffixes, func(s string) bool { return strings.HasSuffix(name, s) }) {
				natives = append(natives, name)
			}
		}
	}
	var classPath []*url.URL
	if m, err := a.archive.Manifest(); err == nil && m != nil {
		for _, ref := range m.ClassPath() {
			u, err := a.desc.URL.Parse(ref)
			if err != nil {
				l.app.logger.Debug("ignoring class path entry", zap.String("entry", ref), zap.Error(err))
				continue
			}
			classPath = append(classPath, u)
		}
	}

	l.mu.Lock()
	l.jars = append(l.jars, a)
	l.byKey[a.desc.Key()] = a
	l.natives = append(l.natives, natives...)
	for _, u := range classPath {
		if !l.seenPath[u.String()] {
			l.seenPath[u.String()] = true
			l.classPath = append(l.classPath, u)
		}
	}
	l.mu.Unlock()

	l.app.directory.register(a.location(), l)
	l.app.logger.Debug("jar activated", zap.String("jar", a.location()), zap.Stringer("security", a.security.Type))
	return nil
}

// activate makes j loadable. Concurrent calls for the same jar share one
// fetch and verification. A jar whose signatures do not verify is handled as
// it is during initialization: fatal when unsigned code is denied, otherwise
// the user may continue with the application sandboxed.
func (l *Loader) activate(ctx context.Context, j descriptor.JAR) (*archiveJar, error) {
	key := j.Key()
	defer l.finishActivating(key)
	if a, ok := l.active(key); ok {
		return a, nil
	}
	v, err, _ := l.app.flight.Do(key, func() (any, error) {
		if a, ok := l.active(key); ok {
			return a, nil
		}
		l.claim(j)

		a, err := l.stage(ctx, j)
		var vf *errs.VerificationFailure
		if a != nil && errors.As(err, &vf) {
			err = l.escalateVerification(ctx, err)
		}
		if err != nil {
			if a != nil {
				_ = a.archive.Close()
			}
			return nil, err
		}
		if l.Signed() && !l.signing.RootTrusted() {
			if err := l.app.delegate.CheckTrust(ctx, l.signing.Publisher()); err != nil {
				_ = a.archive.Close()
				return nil, err
			}
		}
		if err := l.install(a); err != nil {
			_ = a.archive.Close()
			return nil, err
		}
		l.mu.Lock()
		l.state = l.signing.State()
		l.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*archiveJar), nil
}

func (l *Loader) active(key string) (*archiveJar, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.byKey[key]
	return a, ok
}

// takeAvailable removes key from the not-yet-activated jars.
func (l *Loader) takeAvailable(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available = slices.DeleteFunc(l.available, func(j descriptor.JAR) bool { return j.Key() == key })
}

// claim moves j from the not-yet-activated jars to the activating ones.
func (l *Loader) claim(j descriptor.JAR) {
	key := j.Key()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available = slices.DeleteFunc(l.available, func(a descriptor.JAR) bool { return a.Key() == key })
	if _, ok := l.byKey[key]; !ok {
		l.activating[key] = j
	}
}

func (l *Loader) finishActivating(key string) {
	l.mu.Lock()
	delete(l.activating, key)
	l.mu.Unlock()
}

func (l *Loader) nextAvailable() (descriptor.JAR, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.available) == 0 {
		return descriptor.JAR{}, false
	}
	j := l.available[0]
	l.available = l.available[1:]
	return j, true
}

// claimNext pops the next available jar and marks it activating.
func (l *Loader) claimNext() (descriptor.JAR, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.available) == 0 {
		return descriptor.JAR{}, false
	}
	j := l.available[0]
	l.available = l.available[1:]
	l.activating[j.Key()] = j
	return j, true
}

func (l *Loader) hasAvailable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.available) > 0
}

// nextActivating returns a jar another caller is still activating.
func (l *Loader) nextActivating() (descriptor.JAR, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, j := range l.activating {
		return j, true
	}
	return descriptor.JAR{}, false
}

// addNextResource activates the next available jar of the tree together
// with the rest of its part. It returns the loader that received the jars,
// or nil when nothing is left. When every jar has been taken but some are
// still being activated by other callers, it waits for one of those instead,
// so no caller gives up on a jar that is about to become loadable.
func (l *Loader) addNextResource(ctx context.Context) (*Loader, error) {
	var owner *Loader
	for owner == nil {
		owner = l.find(func(n *Loader) bool { return n.hasAvailable() })
		if owner == nil {
			return l.awaitActivating(ctx)
		}
		j, ok := owner.claimNext()
		if !ok {
			owner = nil
			continue
		}
		batch := []descriptor.JAR{j}
		if j.Part != "" {
			batch = owner.withPartJars(batch)
		}
		if err := owner.activateAll(ctx, batch); err != nil {
			owner.app.logger.Warn("failed to add jar", zap.String("jar", j.URL.String()), zap.Error(err))
			if errs.IsLaunchFailure(err) {
				return nil, err
			}
			owner = nil
		}
	}
	return owner, nil
}

// awaitActivating joins the activation of a jar some other caller took from
// the available list. It returns nil when nothing is in flight.
func (l *Loader) awaitActivating(ctx context.Context) (*Loader, error) {
	for {
		var j descriptor.JAR
		owner := l.find(func(n *Loader) bool {
			var ok bool
			j, ok = n.nextActivating()
			return ok
		})
		if owner == nil {
			return nil, nil
		}
		_, err := owner.activate(ctx, j)
		if err == nil {
			return owner, nil
		}
		if ctx.Err() != nil || errs.IsLaunchFailure(err) {
			return nil, err
		}
	}
}

// activateAll activates jars concurrently and returns the first error.
func (l *Loader) activateAll(ctx context.Context, jars []descriptor.JAR) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, j := range jars {
		g.Go(func() error {
			_, err := l.activate(gctx, j)
			return err
		})
	}
	return g.Wait()
}

// DownloadPart activates every jar of the named part across the tree.
// Classes in the part become loadable without restarting the application.
func (l *Loader) DownloadPart(ctx context.Context, part string) error {
	var g errgroup.Group
	declared := false
	l.walk(func(n *Loader) {
		jars := n.desc.Resources.PartJARs(part)
		if len(jars) == 0 {
			return
		}
		declared = true
		g.Go(func() error { return n.activateAll(ctx, jars) })
	})
	if !declared {
		return fmt.Errorf("%w: %s", ErrUnknownPart, part)
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("download part %s: %w", part, err)
	}
	return nil
}

// AddExternalJar activates a jar the descriptor does not list. It is allowed
// when the location is already known to the tree, lies under the codebase,
// or the application runs with all permissions.
func (l *Loader) AddExternalJar(ctx context.Context, u *url.URL) error {
	owner := l.find(func(n *Loader) bool { _, ok := n.jarFor(u); return ok })
	if owner != nil {
		j, _ := owner.jarFor(u)
		_, err := owner.activate(ctx, j)
		return err
	}
	if !under(u, l.codebase) && l.Security() != permission.TypeAll {
		return &errs.PermissionDenied{Permission: `runtime "manageExternalJars"`, Subject: u.String()}
	}
	_, err := l.activate(ctx, descriptor.JAR{URL: u, Lazy: true})
	return err
}

// jarFor finds the declared jar at u, ignoring the version.
func (l *Loader) jarFor(u *url.URL) (descriptor.JAR, bool) {
	want := u.String()
	for _, j := range append(slices.Clone(l.desc.Resources.JARs), l.desc.Resources.Natives...) {
		if j.URL.String() == want {
			return j, true
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.jars {
		if a.location() == want {
			return a.desc, true
		}
	}
	return descriptor.JAR{}, false
}

// resolveCodeSource activates the jar at location so its SecurityDesc is
// installed.
func (l *Loader) resolveCodeSource(ctx context.Context, location *url.URL) (permission.SecurityDesc, error) {
	owner := l.find(func(n *Loader) bool { _, ok := n.jarFor(location); return ok })
	if owner == nil {
		return permission.SecurityDesc{}, fmt.Errorf("no jar at %s", location)
	}
	j, _ := owner.jarFor(location)
	a, err := owner.activate(ctx, j)
	if err != nil {
		return permission.SecurityDesc{}, err
	}
	return a.security, nil
}

// under reports whether u lies in the directory of base.
func under(u, base *url.URL) bool {
	if u == nil || base == nil {
		return false
	}
	dir := descriptor.StripFile(base)
	if !strings.EqualFold(u.Scheme, dir.Scheme) || !strings.EqualFold(u.Host, dir.Host) {
		return false
	}
	p := path.Clean("/" + u.Path)
	return strings.HasPrefix(p, dir.Path) || p+"/" == dir.Path
}

// Directory maps activated jar locations to the loader that owns them. It
// lets a script call stack be attributed to code sources.
type Directory struct {
	mu      sync.RWMutex
	loaders map[string]*Loader
}

func newDirectory() *Directory {
	return &Directory{loaders: make(map[string]*Loader)}
}

func (d *Directory) register(location string, l *Loader) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loaders[location] = l
}

// Lookup returns the loader owning location.
func (d *Directory) Lookup(location string) (*Loader, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.loaders[location]
	return l, ok
}

// Locations returns every registered location, sorted.
func (d *Directory) Locations() []string {
	d.mu.RLock()
	out := make([]string, 0, len(d.loaders))
	for loc := range d.loaders {
		out = append(out, loc)
	}
	d.mu.RUnlock()
	sort.Strings(out)
	return out
}
