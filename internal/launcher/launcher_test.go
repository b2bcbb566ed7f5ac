package launcher

import (
	"context"
	"net/url"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/descriptor"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/config"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/netlaunch/internal/instance"
	"github.com/GriffinCanCode/netlaunch/internal/prompt"
	"github.com/GriffinCanCode/netlaunch/internal/security"
	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
	"github.com/GriffinCanCode/netlaunch/internal/shared/id"
	"github.com/GriffinCanCode/netlaunch/tests/helpers/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "https://apps.example.com/demo/"

// fakeCache serves jars from local files.
type fakeCache struct {
	mu    sync.Mutex
	files map[string]string
}

func (c *fakeCache) Fetch(_ context.Context, u *url.URL, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.files[u.String()]
	if !ok {
		return "", &errs.FetchError{URL: u.String(), Err: assert.AnError}
	}
	return p, nil
}

func (c *fakeCache) IsCached(u *url.URL, _ string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.files[u.String()]
	return ok
}

type fixture struct {
	launcher *Launcher
	rt       *RuntimeContext
	metrics  *monitoring.Metrics
	cache    *fakeCache
	dir      string
}

func newFixture(t *testing.T, mutate ...func(*config.Config, *Options)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Security.ManifestChecks = "NONE"
	cfg.Launch.ForkingStrategy = ForkNever
	cfg.Launch.StopGrace = 200 * time.Millisecond

	var opts Options
	for _, m := range mutate {
		m(cfg, &opts)
	}

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	fc := &fakeCache{files: make(map[string]string)}
	prompts := prompt.NewDispatcher(prompt.Fixed(prompt.Deny), nil, metrics)
	t.Cleanup(prompts.Close)
	rt := NewRuntimeContext(cfg, fc, nil, prompts, nil, metrics)
	l, err := New(rt, opts)
	require.NoError(t, err)
	t.Cleanup(l.Shutdown)

	return &fixture{launcher: l, rt: rt, metrics: metrics, cache: fc, dir: t.TempDir()}
}

// app publishes a one-jar application whose main class has the given body.
func (f *fixture) app(t *testing.T, classes map[string]string, args ...string) *descriptor.Descriptor {
	t.Helper()
	jb := testutil.NewJar()
	for name, src := range classes {
		jb.Class(name, src)
	}
	f.cache.mu.Lock()
	f.cache.files[base+"main.jar"] = jb.Write(t, f.dir, "main.jar")
	f.cache.mu.Unlock()

	return &descriptor.Descriptor{
		Source:      testutil.MustURL(t, base+"demo.yaml"),
		Codebase:    testutil.MustURL(t, base),
		Kind:        descriptor.KindApplication,
		Information: descriptor.Information{Title: "Demo"},
		Resources: descriptor.Resources{
			JARs: []descriptor.JAR{{URL: testutil.MustURL(t, base+"main.jar"), Main: true}},
		},
		EntryPoint: descriptor.EntryPoint{MainClass: "com.example.Main", Arguments: args},
	}
}

func (f *fixture) instance(t *testing.T, h id.ApplicationHandle) *instance.Instance {
	t.Helper()
	inst, ok := f.rt.Registry.Get(h)
	require.True(t, ok)
	return inst
}

func waitProperty(t *testing.T, inst *instance.Instance, key, want string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		v, _ := inst.Property(key)
		return v == want
	}, 2*time.Second, 5*time.Millisecond, "property %s", key)
}

func TestLaunchRunsMain(t *testing.T) {
	f := newFixture(t)
	d := f.app(t, map[string]string{
		"com.example.Main": `exports.main = function (first) {
			host.setProperty("jnlp.result", "ran:" + first);
			host.sleep(60000);
		};`,
	}, "alpha")

	events, cancel := f.rt.Events.Subscribe(16)
	defer cancel()

	h, err := f.launcher.Launch(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, f.launcher.IsRunning(h))

	inst := f.instance(t, h)
	waitProperty(t, inst, "jnlp.result", "ran:alpha")
	v, _ := inst.Property(CodebaseProperty)
	assert.Equal(t, base, v)
	v, _ = inst.Property(instance.DeploymentProperty)
	assert.Equal(t, instance.DeploymentValue, v)

	list := f.launcher.List()
	require.Len(t, list, 1)
	assert.Equal(t, h, list[0].Handle)
	assert.Equal(t, instance.StateRunning, list[0].State)
	assert.Equal(t, 1, list[0].Units)

	ev := <-events
	assert.Equal(t, EventLaunched, ev.Type)
	assert.Equal(t, h, ev.App)

	require.NoError(t, f.launcher.Stop(h))
	assert.False(t, f.launcher.IsRunning(h))
	require.NoError(t, f.launcher.Stop(h), "stop is idempotent")
	assert.Equal(t, EventStopped, (<-events).Type)
	assert.Equal(t, int64(1), f.metrics.Snapshot().Launches)
}

func TestExitShutsDownRuntime(t *testing.T) {
	status := make(chan int, 1)
	f := newFixture(t, func(_ *config.Config, o *Options) {
		o.OnExit = func(s int) { status <- s }
	})
	d := f.app(t, map[string]string{
		"com.example.Main": `exports.main = function () {
			host.setProperty("jnlp.before", "yes");
			host.sleep(100);
			host.exit(0);
			host.setProperty("jnlp.after", "yes");
		};`,
	})

	h, err := f.launcher.Launch(context.Background(), d)
	require.NoError(t, err)
	inst := f.instance(t, h)

	select {
	case <-inst.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("application did not stop after exit")
	}
	v, _ := inst.Property("jnlp.before")
	assert.Equal(t, "yes", v)
	_, ok := inst.Property("jnlp.after")
	assert.False(t, ok)
	assert.False(t, f.launcher.IsRunning(h))
	assert.NoError(t, f.launcher.Wait(context.Background(), h))

	select {
	case s := <-status:
		assert.Equal(t, 0, s)
	case <-time.After(2 * time.Second):
		t.Fatal("exit status was not reported")
	}
}

func TestExitOutsideExitClassStopsOnlyCaller(t *testing.T) {
	called := make(chan int, 1)
	f := newFixture(t, func(_ *config.Config, o *Options) {
		o.ExitClass = "com.example.Boot"
		o.OnExit = func(s int) { called <- s }
	})
	d := f.app(t, map[string]string{
		"com.example.Main": `exports.main = function () {
			host.sleep(100);
			host.exit(2);
		};`,
	})

	h, err := f.launcher.Launch(context.Background(), d)
	require.NoError(t, err)
	select {
	case <-f.instance(t, h).Done():
	case <-time.After(2 * time.Second):
		t.Fatal("application did not stop after exit")
	}
	select {
	case <-called:
		t.Fatal("runtime shut down for an exit outside the exit class")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSandboxEnforced(t *testing.T) {
	f := newFixture(t)
	d := f.app(t, map[string]string{
		"com.example.Main": `exports.main = function () {
			try {
				host.readFile("/etc/hostname");
				host.setProperty("jnlp.read", "allowed");
			} catch (e) {
				host.setProperty("jnlp.read", "denied");
			}
			var w = host.openWindow("Main");
			host.setProperty("jnlp.banner", String(w.banner));
			host.setProperty("jnlp.can-exit", String(host.checkPermission("runtime", "exitVM")));
			host.sleep(60000);
		};`,
	})

	h, err := f.launcher.Launch(context.Background(), d)
	require.NoError(t, err)
	inst := f.instance(t, h)

	waitProperty(t, inst, "jnlp.read", "denied")
	waitProperty(t, inst, "jnlp.banner", "true")
	waitProperty(t, inst, "jnlp.can-exit", "true")

	windows := inst.Windows().List()
	require.Len(t, windows, 1)
	owner, ok := f.launcher.Security().WindowOwner(windows[0].Handle)
	require.True(t, ok)
	assert.Equal(t, h, owner)

	audit := f.launcher.Security().Audit()
	require.NotEmpty(t, audit)
	assert.Equal(t, h, audit[0].App)
	assert.Contains(t, audit[0].Permission, "/etc/hostname")
}

func TestThreadsAndBuiltins(t *testing.T) {
	f := newFixture(t)
	d := f.app(t, map[string]string{
		"com.example.Main": `exports.main = function () {
			var threads = host.loadClass("netlaunch.Thread");
			threads.start("com.example.Worker", "run", "payload");
			host.sleep(60000);
		};`,
		"com.example.Worker": `exports.run = function (arg) {
			host.loadClass("netlaunch.System").setProperty("jnlp.worker", arg);
		};`,
	})

	h, err := f.launcher.Launch(context.Background(), d)
	require.NoError(t, err)
	waitProperty(t, f.instance(t, h), "jnlp.worker", "payload")
}

func TestLaunchFailures(t *testing.T) {
	t.Run("component", func(t *testing.T) {
		f := newFixture(t)
		d := f.app(t, map[string]string{"com.example.Main": `exports.main = function () {};`})
		d.Kind = descriptor.KindComponent
		_, err := f.launcher.Launch(context.Background(), d)
		assert.True(t, errs.IsLaunchFailure(err))
	})

	t.Run("missing main jar", func(t *testing.T) {
		f := newFixture(t)
		d := f.app(t, map[string]string{"com.example.Main": `exports.main = function () {};`})
		d.Resources.JARs[0].URL = testutil.MustURL(t, base+"absent.jar")

		events, cancel := f.rt.Events.Subscribe(4)
		defer cancel()

		_, err := f.launcher.Launch(context.Background(), d)
		assert.True(t, errs.IsLaunchFailure(err))
		assert.Empty(t, f.launcher.List())
		assert.Equal(t, EventLaunchFailed, (<-events).Type)
		assert.Equal(t, int64(1), f.metrics.Snapshot().Failures)
	})

	t.Run("unsigned code asking for all permissions", func(t *testing.T) {
		f := newFixture(t)
		d := f.app(t, map[string]string{"com.example.Main": `exports.main = function () {};`})
		d.Security = descriptor.RequestAll
		_, err := f.launcher.Launch(context.Background(), d)
		assert.True(t, errs.IsLaunchFailure(err))
	})
}

func TestSecurityInstalledOnce(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.rt, Options{})
	assert.ErrorIs(t, err, ErrSecurityInstalled)
	assert.ErrorIs(t, f.rt.InstallSecurity(security.NewManager(f.rt.Registry, security.Options{})), ErrSecurityInstalled)
}

func TestStopUnknown(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.launcher.Stop(id.NewApplicationHandle()), ErrUnknownApplication)
	assert.False(t, f.launcher.IsRunning(id.NewApplicationHandle()))
}

func TestForkedLaunch(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	var forked *descriptor.Descriptor
	f := newFixture(t, func(cfg *config.Config, opts *Options) {
		cfg.Launch.ForkingStrategy = ForkIfDescriptorRequires
		opts.ForkCommand = func(ctx context.Context, d *descriptor.Descriptor) (*exec.Cmd, error) {
			forked = d
			return exec.CommandContext(ctx, "sleep", "30"), nil
		}
	})
	d := f.app(t, map[string]string{"com.example.Main": `exports.main = function () {};`})
	d.Runtime.MaxHeap = "256m"

	h, err := f.launcher.Launch(context.Background(), d)
	require.NoError(t, err)
	assert.Same(t, d, forked)
	assert.True(t, f.launcher.IsRunning(h))

	status, ok := f.launcher.Get(h)
	require.True(t, ok)
	assert.True(t, status.Forked)
	assert.NotZero(t, status.PID)
	assert.Equal(t, instance.StateRunning, status.State)

	require.NoError(t, f.launcher.Stop(h))
	assert.False(t, f.launcher.IsRunning(h))
	assert.NoError(t, f.launcher.Wait(context.Background(), h))
	status, _ = f.launcher.Get(h)
	assert.Equal(t, instance.StateStopped, status.State)
}

func TestShouldFork(t *testing.T) {
	plain := &descriptor.Descriptor{}
	heavy := &descriptor.Descriptor{Runtime: descriptor.JVMRuntime{MaxHeap: "1g"}}

	tests := []struct {
		strategy string
		d        *descriptor.Descriptor
		want     bool
	}{
		{ForkNever, heavy, false},
		{ForkAlways, plain, true},
		{ForkIfDescriptorRequires, plain, false},
		{ForkIfDescriptorRequires, heavy, true},
		{"", heavy, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shouldFork(tt.strategy, tt.d), "%s", tt.strategy)
	}
	assert.Equal(t, []string{"GOMEMLIMIT=1GiB"}, runtimeEnv(heavy))
}

func TestLoadFromFile(t *testing.T) {
	f := newFixture(t)
	p := testutil.WriteFile(t, t.TempDir(), "demo.yaml", []byte(`
spec: "1.0"
codebase: https://apps.example.com/demo/
information:
  title: From File
resources:
  jars:
    - href: main.jar
      main: true
application:
  main-class: com.example.Main
`))

	d, err := f.launcher.Load(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "From File", d.Title())
	assert.Equal(t, "file", d.Source.Scheme)

	d, err = f.launcher.Load(context.Background(), "file://"+filepath.ToSlash(p))
	require.NoError(t, err)
	assert.Equal(t, "com.example.Main", d.EntryPoint.MainClass)
}

func TestSandboxHonoursApplicationDescriptor(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, _ *Options) {
		cfg.Security.GrantWindowPermissions = true
	})
	d := f.app(t, map[string]string{
		"com.example.Main": `exports.main = function () {
			var w = host.openWindow("Main");
			host.setProperty("jnlp.banner", String(w.banner));
			host.sleep(60000);
		};`,
	})
	d.Resources.Properties = []descriptor.Property{{Key: "http.agent", Value: "demo/1.0"}}

	h, err := f.launcher.Launch(context.Background(), d)
	require.NoError(t, err)
	inst := f.instance(t, h)

	waitProperty(t, inst, "jnlp.banner", "false")
	v, ok := inst.Property("http.agent")
	assert.True(t, ok)
	assert.Equal(t, "demo/1.0", v)
}
