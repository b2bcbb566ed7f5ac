package classloader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/GriffinCanCode/netlaunch/internal/descriptor"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/config"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/netlaunch/internal/jar"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/manifest"
	"github.com/GriffinCanCode/netlaunch/internal/permission"
	"github.com/GriffinCanCode/netlaunch/internal/prompt"
	"github.com/GriffinCanCode/netlaunch/internal/script"
	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
	"github.com/GriffinCanCode/netlaunch/internal/shared/id"
	"github.com/GriffinCanCode/netlaunch/internal/signing"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrClassNotFound is returned when no loader can supply a class.
	ErrClassNotFound = errors.New("class not found")
	// ErrResourceNotFound is returned when no jar holds a resource.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrUnknownPart is returned for a part no descriptor declares.
	ErrUnknownPart = errors.New("unknown part")
)

// Fetcher is the part of the resource cache a loader needs.
type Fetcher interface {
	Fetch(ctx context.Context, u *url.URL, version string) (string, error)
}

// SystemClasses supplies the classes every application can load before its
// own jars are searched.
type SystemClasses interface {
	SystemClass(name string) (*script.Class, bool)
}

// Options wires a loader to its collaborators.
type Options struct {
	Fetcher     Fetcher
	Verifier    *signing.Verifier
	Prompts     prompt.Service
	Extensions  descriptor.Resolver
	System      SystemClasses
	Security    config.SecurityConfig
	Permissions permission.Options
	Logger      *logging.Logger
	Metrics     *monitoring.Metrics
}

// application is the state shared by every loader of one launch.
type application struct {
	opts      Options
	checks    manifest.Checks
	level     manifest.Level
	locations *permission.LocationMap
	engine    *permission.Engine
	delegate  *Delegate
	directory *Directory
	flight    singleflight.Group
	logger    *logging.Logger
	root      *Loader
}

func (app *application) verifying() bool {
	return app.opts.Security.Enabled
}

// archiveJar is a fetched jar. It becomes active once its SecurityDesc is
// installed.
type archiveJar struct {
	desc     descriptor.JAR
	path     string
	archive  *jar.Archive
	result   *signing.Result
	security permission.SecurityDesc
}

func (a *archiveJar) location() string { return a.desc.URL.String() }

// Loader loads classes and resources from the jars of one descriptor and,
// through its extensions, of every descriptor it references.
type Loader struct {
	ID         id.LoaderID
	app        *application
	desc       *descriptor.Descriptor
	codebase   *url.URL
	extensions []*Loader
	signing    *signing.Set

	mu        sync.Mutex
	available []descriptor.JAR
	// activating holds jars taken from available whose activation has not
	// finished yet.
	activating map[string]descriptor.JAR
	jars       []*archiveJar
	byKey      map[string]*archiveJar
	classPath  []*url.URL
	seenPath   map[string]bool
	classes    map[string]*script.Class
	natives    []string
	mainClass  string
	foundMain  bool
	state      signing.State
	security   permission.Type
}

// Resolve builds the loader tree for d, fetching and verifying its initial
// jars and running the manifest attribute checks. Any failure is a
// LaunchFailure and no class has been defined when it is returned.
func Resolve(ctx context.Context, d *descriptor.Descriptor, opts Options) (*Loader, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Fetcher == nil {
		return nil, errs.NewLaunchFailure("no resource fetcher configured")
	}
	if opts.Verifier == nil {
		opts.Verifier = signing.NewVerifier(nil, signing.WithLogger(opts.Logger))
	}
	checks, err := manifest.ParseChecks(opts.Security.ManifestChecks)
	if err != nil {
		return nil, errs.WrapLaunchFailure(err, "manifest checks")
	}

	app := &application{
		opts:      opts,
		checks:    checks,
		level:     manifest.ParseLevel(opts.Security.Level),
		locations: permission.NewLocationMap(),
		directory: newDirectory(),
		logger:    opts.Logger.Component("classloader"),
	}
	app.delegate = NewDelegate(d, app.verifying(), app.locations, opts.Prompts, opts.Logger)
	app.engine = permission.NewEngine(app.locations, opts.Permissions, app, opts.Logger, opts.Metrics)

	root, err := app.build(ctx, d, descriptor.Key(d.Source, ""), nil, make(map[string]*Loader))
	if err != nil {
		root.closeAll()
		return nil, errs.WrapLaunchFailure(err, "resolve "+d.Title())
	}
	app.root = root
	return root, nil
}

// ResolveCodeSource lets the permission engine activate a jar it has no
// descriptor for yet.
func (app *application) ResolveCodeSource(ctx context.Context, location *url.URL) (permission.SecurityDesc, error) {
	if app.root == nil {
		return permission.SecurityDesc{}, errors.New("application is still initializing")
	}
	return app.root.resolveCodeSource(ctx, location)
}

// build creates the loader for d after its extensions. path holds the
// descriptors currently being built, so reaching one of them again is a
// cycle; a descriptor reached twice through different paths is shared.
func (app *application) build(ctx context.Context, d *descriptor.Descriptor, key string, path []string, built map[string]*Loader) (*Loader, error) {
	l := app.newLoader(d)
	if len(path) == 0 {
		app.engine.SetApplicationSecurity(app.delegate.SandboxSecurity(l.codebase))
	}
	built[key] = l
	path = append(path, key)

	for _, ext := range d.Resources.Extensions {
		extKey := descriptor.Key(ext.URL, ext.Version)
		if slices.Contains(path, extKey) {
			return l, errs.NewLaunchFailure("extension cycle: %s", strings.Join(append(path, extKey), " -> "))
		}
		if shared, ok := built[extKey]; ok {
			l.extensions = append(l.extensions, shared)
			continue
		}
		if app.opts.Extensions == nil {
			return l, errs.NewLaunchFailure("no resolver for extension %s", ext.URL)
		}
		extDesc, err := app.opts.Extensions.Resolve(ctx, ext)
		if err != nil {
			return l, errs.WrapLaunchFailure(err, "resolve extension "+ext.URL.String())
		}
		child, err := app.build(ctx, extDesc, extKey, path, built)
		l.extensions = append(l.extensions, child)
		if err != nil {
			return l, err
		}
	}

	if err := l.initialize(ctx, len(path) == 1); err != nil {
		return l, err
	}
	return l, nil
}

func (app *application) newLoader(d *descriptor.Descriptor) *Loader {
	l := &Loader{
		ID:         id.NewLoaderID(),
		app:        app,
		desc:       d,
		codebase:   d.Codebase,
		signing:    signing.NewSet(),
		byKey:      make(map[string]*archiveJar),
		activating: make(map[string]descriptor.JAR),
		seenPath:   make(map[string]bool),
		classes:    make(map[string]*script.Class),
		mainClass:  d.EntryPoint.MainClass,
		security:   permission.TypeSandbox,
	}
	if l.codebase == nil {
		if main, ok := d.Resources.MainJAR(); ok {
			l.codebase = main.URL
		}
	}
	return l
}

// initialize fetches and verifies the initial jars, settles the signing
// state, asks the questions it raises and installs a SecurityDesc for every
// fetched jar.
func (l *Loader) initialize(ctx context.Context, root bool) (err error) {
	all := append(slices.Clone(l.desc.Resources.JARs), l.desc.Resources.Natives...)
	if len(all) == 0 {
		return l.initializeWithoutJars(ctx, root)
	}
	l.available = slices.Clone(all)

	initial := initialJARs(all)
	if l.app.opts.Security.StrictParts {
		initial = l.withPartJars(initial)
	}

	staged, err := l.stageInitial(ctx, initial)
	defer func() {
		if err != nil {
			closeStaged(staged)
		}
	}()
	if err != nil {
		return err
	}

	l.state = signing.Full
	if l.app.verifying() {
		l.state = l.signing.State()
		if l.state == signing.Full {
			if staged, err = l.settleMain(ctx, staged); err != nil {
				return err
			}
			if !l.signing.RootTrusted() {
				if err := l.app.delegate.CheckTrust(ctx, l.signing.Publisher()); err != nil {
					return err
				}
			}
		}
		l.state = l.signing.State()
		if l.state == signing.Partial {
			if err := l.app.delegate.PromptPartialSigning(ctx); err != nil {
				return err
			}
		}
	}

	if l.security, err = l.app.delegate.ApplicationSecurity(l.state); err != nil {
		return err
	}

	if root {
		if err := l.runChecks(ctx, l.mainArchive(staged)); err != nil {
			return err
		}
		if l.app.delegate.RunInSandbox() {
			l.security = permission.TypeSandbox
		}
	}

	for _, a := range staged {
		if err := l.install(a); err != nil {
			return errs.WrapLaunchFailure(err, "install "+a.location())
		}
	}
	l.app.opts.Metrics.RecordVerification(l.state.String())
	l.app.logger.Info("loader initialized",
		zap.String("descriptor", l.desc.Title()),
		zap.Stringer("signing", l.state),
		zap.Stringer("security", l.security),
		zap.Int("jars", len(staged)))
	return nil
}

func closeStaged(staged []*archiveJar) {
	for _, a := range staged {
		_ = a.archive.Close()
	}
}

func (l *Loader) initializeWithoutJars(ctx context.Context, root bool) error {
	l.state = signing.Full
	for _, ext := range l.extensions {
		if ext.SigningState() != signing.Full {
			l.state = signing.None
		}
	}
	l.foundMain = l.mainInExtensions()

	var err error
	if l.security, err = l.app.delegate.ApplicationSecurity(l.state); err != nil {
		return err
	}
	if root {
		return l.runChecks(ctx, nil)
	}
	return nil
}

// initialJARs returns the main and eager jars, or the first jar when none is
// marked.
func initialJARs(all []descriptor.JAR) []descriptor.JAR {
	var initial []descriptor.JAR
	for _, j := range all {
		if j.Main || !j.Lazy {
			initial = append(initial, j)
		}
	}
	if len(initial) == 0 {
		initial = append(initial, all[0])
	}
	return initial
}

// withPartJars adds every available jar sharing a part with an initial jar.
func (l *Loader) withPartJars(initial []descriptor.JAR) []descriptor.JAR {
	out := slices.Clone(initial)
	seen := make(map[string]bool, len(initial))
	for _, j := range initial {
		seen[j.Key()] = true
	}
	for _, j := range initial {
		if j.Part == "" {
			continue
		}
		for _, other := range l.desc.Resources.PartJARs(j.Part) {
			if !seen[other.Key()] {
				seen[other.Key()] = true
				out = append(out, other)
			}
		}
	}
	return out
}

// stageInitial fetches and verifies the initial jars. The main jar must be
// fetched; other failures are logged and the jar skipped.
func (l *Loader) stageInitial(ctx context.Context, initial []descriptor.JAR) ([]*archiveJar, error) {
	main, _ := l.desc.Resources.MainJAR()
	var staged []*archiveJar
	for _, j := range initial {
		l.takeAvailable(j.Key())

		a, err := l.stage(ctx, j)
		if err != nil {
			var vf *errs.VerificationFailure
			switch {
			case errors.As(err, &vf):
				if err := l.escalateVerification(ctx, err); err != nil {
					return staged, err
				}
			case j.Key() == main.Key():
				return staged, errs.WrapLaunchFailure(err, "fetch main jar")
			default:
				l.app.logger.Warn("skipping jar", zap.String("jar", j.URL.String()), zap.Error(err))
				continue
			}
		}
		staged = append(staged, a)
	}
	return staged, nil
}

// escalateVerification decides whether a jar whose signature check failed
// may still run. Denying unsigned code makes it fatal; otherwise the user is
// asked whether to continue in the sandbox.
func (l *Loader) escalateVerification(ctx context.Context, cause error) error {
	if l.app.level == manifest.LevelDenyUnsigned || l.app.opts.Security.TrustNone {
		return errs.WrapLaunchFailure(cause, "jar verification failed")
	}
	return l.app.delegate.AskUnverified(ctx, cause)
}

// settleMain finds the jar holding the main class, fetching further jars
// while it is missing. A main class only found among system classes runs
// unsigned code next to signed jars and raises the partial-signing question.
func (l *Loader) settleMain(ctx context.Context, staged []*archiveJar) ([]*archiveJar, error) {
	if l.mainClass == "" {
		l.mainClass = mainClassFromManifests(staged)
	}
	l.checkForMain(staged)

	for !l.foundMain {
		j, ok := l.nextAvailable()
		if !ok {
			break
		}
		a, err := l.stage(ctx, j)
		if err != nil {
			if a != nil {
				_ = a.archive.Close()
			}
			l.app.logger.Warn("skipping jar", zap.String("jar", j.URL.String()), zap.Error(err))
			continue
		}
		staged = append(staged, a)
		l.checkForMain([]*archiveJar{a})
	}
	l.foundMain = l.foundMain || l.mainInExtensions()

	if l.mainClass != "" && !l.foundMain {
		if _, ok := l.systemClass(l.mainClass); !ok {
			return staged, errs.NewLaunchFailure("unknown main class %s", l.mainClass)
		}
		if err := l.app.delegate.PromptPartialSigning(ctx); err != nil {
			return staged, err
		}
	}
	return staged, nil
}

func mainClassFromManifests(staged []*archiveJar) string {
	for _, a := range staged {
		if m, err := a.archive.Manifest(); err == nil && m != nil {
			if name := m.Get(jar.AttrMainClass); name != "" {
				return name
			}
		}
	}
	return ""
}

func (l *Loader) checkForMain(staged []*archiveJar) {
	if l.mainClass == "" {
		return
	}
	entry := jar.ClassEntry(l.mainClass)
	for _, a := range staged {
		if a.archive.Has(entry) {
			l.foundMain = true
			return
		}
	}
}

func (l *Loader) mainInExtensions() bool {
	for _, ext := range l.extensions {
		if ext.hasMain() {
			return true
		}
	}
	return false
}

func (l *Loader) hasMain() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.foundMain
}

// mainArchive returns the staged jar the attribute checks read: the
// descriptor's main jar, or the first one.
func (l *Loader) mainArchive(staged []*archiveJar) *archiveJar {
	main, ok := l.desc.Resources.MainJAR()
	if !ok {
		return nil
	}
	for _, a := range staged {
		if a.desc.Key() == main.Key() {
			return a
		}
	}
	if len(staged) > 0 {
		return staged[0]
	}
	return nil
}

func (l *Loader) runChecks(ctx context.Context, main *archiveJar) error {
	var m *jar.Manifest
	if main != nil {
		var err error
		if m, err = main.archive.Manifest(); err != nil {
			l.app.logger.Warn("unreadable manifest", zap.String("jar", main.location()), zap.Error(err))
		}
	}
	checker := manifest.NewChecker(l.app.checks, l.app.level, l.app.delegate, l.app.opts.Prompts, l.app.opts.Logger)
	return checker.CheckAll(ctx, manifest.Input{
		Descriptor: l.desc,
		Manifest:   m,
		Signing:    l.state,
		Effective:  l.security,
		Resources:  l.resourceLocations(),
	})
}

// resourceLocations lists every descriptor and jar location of the tree.
func (l *Loader) resourceLocations() []*url.URL {
	var out []*url.URL
	l.walk(func(n *Loader) {
		if n.desc.Source != nil {
			out = append(out, n.desc.Source)
		}
		for _, ext := range n.desc.Resources.Extensions {
			out = append(out, ext.URL)
		}
		for _, j := range n.desc.Resources.JARs {
			out = append(out, j.URL)
		}
		for _, j := range n.desc.Resources.Natives {
			out = append(out, j.URL)
		}
	})
	return out
}

// walk visits this loader and every extension once.
func (l *Loader) walk(fn func(*Loader)) {
	seen := make(map[*Loader]bool)
	var visit func(*Loader)
	visit = func(n *Loader) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		fn(n)
		for _, ext := range n.extensions {
			visit(ext)
		}
	}
	visit(l)
}

// find returns the first loader in the tree for which fn reports true.
func (l *Loader) find(fn func(*Loader) bool) *Loader {
	var found *Loader
	l.walk(func(n *Loader) {
		if found == nil && fn(n) {
			found = n
		}
	})
	return found
}

// Descriptor returns the descriptor this loader was built from.
func (l *Loader) Descriptor() *descriptor.Descriptor { return l.desc }

// Codebase returns the descriptor codebase, or the main jar location.
func (l *Loader) Codebase() *url.URL { return l.codebase }

// Extensions returns the loaders of directly referenced extensions.
func (l *Loader) Extensions() []*Loader { return slices.Clone(l.extensions) }

// MainClass returns the class the application starts from.
func (l *Loader) MainClass() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mainClass
}

// SigningState returns the aggregated signing state of this loader's jars.
func (l *Loader) SigningState() signing.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Security returns the permission type the application runs with.
func (l *Loader) Security() permission.Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.security
}

// Signed reports whether every loaded jar is signed.
func (l *Loader) Signed() bool {
	return l.SigningState() == signing.Full
}

// Delegate returns the application's security delegate.
func (l *Loader) Delegate() *Delegate { return l.app.delegate }

// Engine returns the application's permission engine.
func (l *Loader) Engine() *permission.Engine { return l.app.engine }

// Directory maps jar locations to loaders for the whole tree.
func (l *Loader) Directory() *Directory { return l.app.directory }

// Permissions returns what code from cs may do.
func (l *Loader) Permissions(ctx context.Context, cs permission.CodeSource) *permission.Collection {
	return l.app.engine.Permissions(ctx, cs)
}

// CodeSource returns the code source for an activated jar location.
func (l *Loader) CodeSource(location string) (permission.CodeSource, bool) {
	owner, ok := l.app.directory.Lookup(location)
	if !ok {
		return permission.CodeSource{}, false
	}
	owner.mu.Lock()
	defer owner.mu.Unlock()
	for _, a := range owner.jars {
		if a.location() == location {
			return permission.CodeSource{
				Location: a.desc.URL,
				Signed:   owner.signing.Signed(a.desc.Key()),
			}, true
		}
	}
	return permission.CodeSource{}, false
}

// Natives returns the native library entries found in native jars.
func (l *Loader) Natives() []string {
	var out []string
	l.walk(func(n *Loader) {
		n.mu.Lock()
		out = append(out, n.natives...)
		n.mu.Unlock()
	})
	return out
}

// Close releases every open archive of the tree.
func (l *Loader) Close() error {
	var errList []error
	l.walk(func(n *Loader) {
		n.mu.Lock()
		defer n.mu.Unlock()
		for _, a := range n.jars {
			if err := a.archive.Close(); err != nil {
				errList = append(errList, fmt.Errorf("close %s: %w", a.location(), err))
			}
		}
		n.jars = nil
		n.byKey = make(map[string]*archiveJar)
	})
	return errors.Join(errList...)
}

func (l *Loader) closeAll() {
	if l != nil {
		_ = l.Close()
	}
}
