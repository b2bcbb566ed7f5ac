package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/permission"
	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
	"github.com/GriffinCanCode/netlaunch/internal/shared/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLocation = "https://example.com/app.jar"

type fakeEnv struct {
	mu      sync.Mutex
	classes map[string]string
	allowed *permission.Collection
	props   map[string]string
	stacks  [][]string
	denials int
	exited  []int
	spawned []string
}

func newFakeEnv(classes map[string]string, allowed ...permission.Permission) *fakeEnv {
	return &fakeEnv{classes: classes, allowed: permission.NewCollection(allowed...), props: map[string]string{}}
}

func (f *fakeEnv) Class(_ context.Context, name string) (*Class, error) {
	src, ok := f.classes[name]
	if !ok {
		return nil, fmt.Errorf("class not found: %s", name)
	}
	return Compile(name, testLocation, name+".js", []byte(src))
}

func (f *fakeEnv) Resource(context.Context, string) ([]byte, error) { return []byte("res"), nil }
func (f *fakeEnv) DownloadPart(context.Context, string) error       { return nil }

func (f *fakeEnv) Check(_ context.Context, stack []string, p permission.Permission) error {
	f.mu.Lock()
	f.stacks = append(f.stacks, stack)
	f.mu.Unlock()
	if f.allowed.Implies(p) {
		return nil
	}
	f.mu.Lock()
	f.denials++
	f.mu.Unlock()
	return &errs.PermissionDenied{Permission: p.String()}
}

func (f *fakeEnv) Has(_ context.Context, stack []string, p permission.Permission) bool {
	f.mu.Lock()
	f.stacks = append(f.stacks, stack)
	f.mu.Unlock()
	return f.allowed.Implies(p)
}

func (f *fakeEnv) Exit(_ context.Context, _ []string, status int) error {
	f.mu.Lock()
	f.exited = append(f.exited, status)
	f.mu.Unlock()
	return errs.ErrTerminated
}

func (f *fakeEnv) OpenWindow(context.Context, []string, string) (Window, error) {
	return Window{Handle: "win_1", Banner: true}, nil
}
func (f *fakeEnv) CloseWindow(string) error { return nil }

func (f *fakeEnv) Property(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.props[key]
	return v, ok
}

func (f *fakeEnv) SetProperty(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.props[key] = value
}

func (f *fakeEnv) Spawn(_ context.Context, className, function string, _ []any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawned = append(f.spawned, className+"."+function)
	return "unit_x", nil
}

func newTestUnit(ctx context.Context, env Env) *Unit {
	return NewUnit(ctx, id.NewUnitID(), env, logging.NewNop())
}

func TestRunMain(t *testing.T) {
	env := newFakeEnv(map[string]string{
		"com.example.Main": `
			var util = host.loadClass("com.example.Util");
			exports.main = function (args) { console.log("hi", args[0]); return util.twice(args.length); };
		`,
		"com.example.Util": `exports.twice = function (n) { return n * 2; };`,
	})
	u := newTestUnit(context.Background(), env)

	got, err := u.Run("com.example.Main", "main", []string{"a", "b"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, got)

	console := u.Console()
	require.Len(t, console, 1)
	assert.Equal(t, "hi a", console[0].Message)
}

func TestRequireCachesExports(t *testing.T) {
	env := newFakeEnv(map[string]string{
		"a.Counter": `var n = 0; exports.next = function () { return ++n; };`,
	})
	u := newTestUnit(context.Background(), env)

	first, err := u.Require("a.Counter")
	require.NoError(t, err)
	second, err := u.Require("a.Counter")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestRunMissing(t *testing.T) {
	u := newTestUnit(context.Background(), newFakeEnv(map[string]string{"a.Main": `exports.other = 1;`}))

	_, err := u.Run("a.Main", "main")
	assert.ErrorIs(t, err, ErrNoFunction)

	_, err = u.Run("a.Nope", "main")
	assert.Error(t, err)
}

func TestPermissionChecks(t *testing.T) {
	dir := t.TempDir()
	allowedFile := filepath.Join(dir, "ok.txt")
	require.NoError(t, os.WriteFile(allowedFile, []byte("hello"), 0o644))

	env := newFakeEnv(map[string]string{
		"a.Main": `
			exports.read = function (p) { return host.readFile(p); };
			exports.prop = function () {
				host.setProperty("app.mode", "fast");
				return host.getProperty("app.mode");
			};
			exports.denied = function () {
				try { host.readFile("/etc/passwd"); return "read"; } catch (e) { return "denied"; }
			};
			exports.query = function () { return host.checkPermission("file", "/etc/passwd", "read"); };
		`,
	},
		permission.Permission{Kind: permission.KindFile, Target: allowedFile, Actions: "read"},
		permission.Permission{Kind: permission.KindProperty, Target: "app.*", Actions: "read,write"},
	)
	u := newTestUnit(context.Background(), env)

	got, err := u.Run("a.Main", "read", allowedFile)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = u.Run("a.Main", "prop")
	require.NoError(t, err)
	assert.Equal(t, "fast", got)

	got, err = u.Run("a.Main", "denied")
	require.NoError(t, err)
	assert.Equal(t, "denied", got)

	got, err = u.Run("a.Main", "query")
	require.NoError(t, err)
	assert.Equal(t, false, got)
	assert.Equal(t, 1, env.denials, "a permission query is not a denial")

	_, err = u.Run("a.Main", "read", "/etc/passwd")
	assert.Error(t, err)
}

func TestStackNamesArchiveFrames(t *testing.T) {
	env := newFakeEnv(map[string]string{
		"a.Main": `exports.main = function () { return host.checkPermission("property", "x", "read"); };`,
	})
	u := newTestUnit(context.Background(), env)

	_, err := u.Run("a.Main", "main")
	require.NoError(t, err)
	require.Len(t, env.stacks, 1)
	require.NotEmpty(t, env.stacks[0])
	for _, src := range env.stacks[0] {
		loc, entry, ok := SplitSource(src)
		assert.True(t, ok)
		assert.Equal(t, testLocation, loc)
		assert.Equal(t, "a.Main.js", entry)
	}
}

func TestExitTerminates(t *testing.T) {
	env := newFakeEnv(map[string]string{
		"a.Main": `exports.main = function () { host.exit(3); while (true) {} };`,
	})
	u := newTestUnit(context.Background(), env)

	_, err := u.Run("a.Main", "main")
	assert.ErrorIs(t, err, errs.ErrTerminated)
	assert.Equal(t, []int{3}, env.exited)
}

func TestCancelInterruptsBusyLoop(t *testing.T) {
	env := newFakeEnv(map[string]string{"a.Main": `exports.main = function () { while (true) {} };`})
	ctx, cancel := context.WithCancel(context.Background())
	u := newTestUnit(ctx, env)

	done := make(chan error, 1)
	go func() {
		_, err := u.Run("a.Main", "main")
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("unit did not stop")
	}
}

func TestSleepReturnsOnCancel(t *testing.T) {
	env := newFakeEnv(map[string]string{"a.Main": `exports.main = function () { host.sleep(60000); return "woke"; };`})
	ctx, cancel := context.WithCancel(context.Background())
	u := newTestUnit(ctx, env)
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := u.Run("a.Main", "main")
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestWindowsAndThreads(t *testing.T) {
	env := newFakeEnv(map[string]string{
		"a.Main": `
			exports.main = function () {
				var w = host.openWindow("Hello");
				host.startThread("a.Worker", "run", 1);
				host.closeWindow(w.handle);
				return w.banner;
			};
		`,
	})
	u := newTestUnit(context.Background(), env)

	got, err := u.Run("a.Main", "main")
	require.NoError(t, err)
	assert.Equal(t, true, got)
	assert.Equal(t, []string{"a.Worker.run"}, env.spawned)
}

func TestCompileError(t *testing.T) {
	_, err := Compile("a.Bad", testLocation, "a/Bad.js", []byte("function ( {"))
	assert.Error(t, err)
}
