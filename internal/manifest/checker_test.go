package manifest

import (
	"context"
	"net/url"
	"testing"

	"github.com/GriffinCanCode/netlaunch/internal/descriptor"
	"github.com/GriffinCanCode/netlaunch/internal/jar"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/permission"
	"github.com/GriffinCanCode/netlaunch/internal/prompt"
	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
	"github.com/GriffinCanCode/netlaunch/internal/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDelegate struct {
	sandboxed bool
	calls     int
}

func (f *fakeDelegate) RunInSandbox() bool { return f.sandboxed }

func (f *fakeDelegate) SetRunInSandbox() error {
	f.calls++
	f.sandboxed = true
	return nil
}

type fakePrompts struct {
	answer prompt.Decision
	asked  []prompt.Kind
}

func (f *fakePrompts) Ask(_ context.Context, req prompt.Request) (prompt.Decision, error) {
	f.asked = append(f.asked, req.Kind)
	return f.answer, nil
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func manifestOf(t *testing.T, attrs ...string) *jar.Manifest {
	t.Helper()
	text := "Manifest-Version: 1.0\r\n"
	for i := 0; i+1 < len(attrs); i += 2 {
		text += attrs[i] + ": " + attrs[i+1] + "\r\n"
	}
	m, err := jar.ParseManifest([]byte(text + "\r\n"))
	require.NoError(t, err)
	return m
}

func app(t *testing.T, security descriptor.SecurityRequest) *descriptor.Descriptor {
	return &descriptor.Descriptor{
		Source:     mustURL(t, "https://apps.example.com/app/app.yaml"),
		Codebase:   mustURL(t, "https://apps.example.com/app/"),
		Kind:       descriptor.KindApplication,
		Security:   security,
		EntryPoint: descriptor.EntryPoint{MainClass: "com.example.Main"},
	}
}

func newChecker(checks Checks, level Level, d *fakeDelegate, p *fakePrompts) *Checker {
	return NewChecker(checks, level, d, p, logging.NewNop())
}

func isLaunchFailure(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errs.IsLaunchFailure(err), "got %v", err)
}

func TestTrustedOnly(t *testing.T) {
	tests := []struct {
		name      string
		state     signing.State
		effective permission.Type
		sandboxed bool
		wantErr   bool
	}{
		{"full and all", signing.Full, permission.TypeAll, false, false},
		{"full and sandboxed", signing.Full, permission.TypeSandbox, true, false},
		{"partial", signing.Partial, permission.TypeAll, false, true},
		{"unsigned sandbox", signing.None, permission.TypeSandbox, true, true},
		{"full but sandbox without delegate", signing.Full, permission.TypeSandbox, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newChecker(CheckTrusted, LevelAskUnsigned, &fakeDelegate{sandboxed: tt.sandboxed}, &fakePrompts{})
			err := c.CheckAll(context.Background(), Input{
				Descriptor: app(t, descriptor.RequestAll),
				Manifest:   manifestOf(t, jar.AttrTrustedOnly, "true"),
				Signing:    tt.state,
				Effective:  tt.effective,
			})
			if tt.wantErr {
				isLaunchFailure(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTrustedOnlyAbsent(t *testing.T) {
	c := newChecker(CheckTrusted, LevelAskUnsigned, &fakeDelegate{}, &fakePrompts{})
	err := c.CheckAll(context.Background(), Input{
		Descriptor: app(t, descriptor.RequestAll),
		Manifest:   manifestOf(t, jar.AttrTrustedOnly, "false"),
		Signing:    signing.None,
	})
	assert.NoError(t, err)
}

func TestCodebase(t *testing.T) {
	signedInput := func(d *descriptor.Descriptor, attr string) Input {
		return Input{Descriptor: d, Manifest: manifestOf(t, jar.AttrCodebase, attr), Signing: signing.Full, Effective: permission.TypeAll}
	}
	c := newChecker(CheckCodebase, LevelAskUnsigned, &fakeDelegate{}, &fakePrompts{})
	ctx := context.Background()

	assert.NoError(t, c.CheckAll(ctx, signedInput(app(t, descriptor.RequestAll), "*.example.com")))
	assert.NoError(t, c.CheckAll(ctx, signedInput(app(t, descriptor.RequestAll), "other.org")),
		"mismatch is only logged for applications")

	applet := app(t, descriptor.RequestAll)
	applet.Kind = descriptor.KindApplet
	isLaunchFailure(t, c.CheckAll(ctx, signedInput(applet, "other.org")))

	unsigned := signedInput(applet, "other.org")
	unsigned.Effective = permission.TypeSandbox
	assert.NoError(t, c.CheckAll(ctx, unsigned))

	local := app(t, descriptor.RequestAll)
	local.Codebase = mustURL(t, "file:///tmp/app/")
	assert.NoError(t, c.CheckAll(ctx, signedInput(local, "other.org")))
}

func TestPermissionsMissingAttribute(t *testing.T) {
	tests := []struct {
		level   Level
		answer  prompt.Decision
		wantErr bool
		asked   int
	}{
		{LevelDenyUnsigned, prompt.Allow, true, 0},
		{LevelAskUnsigned, prompt.Deny, true, 1},
		{LevelAskUnsigned, prompt.Allow, false, 1},
		{LevelAllowUnsigned, prompt.Deny, false, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.level)+"/"+tt.answer.String(), func(t *testing.T) {
			p := &fakePrompts{answer: tt.answer}
			c := newChecker(CheckPermissions, tt.level, &fakeDelegate{}, p)
			err := c.CheckAll(context.Background(), Input{
				Descriptor: app(t, descriptor.RequestNone),
				Manifest:   manifestOf(t),
			})
			if tt.wantErr {
				isLaunchFailure(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, p.asked, tt.asked)
		})
	}
}

func TestPermissionsDefinedAttribute(t *testing.T) {
	tests := []struct {
		name        string
		request     descriptor.SecurityRequest
		attr        string
		state       signing.State
		wantErr     bool
		wantSandbox bool
	}{
		{"all with sandbox attr", descriptor.RequestAll, "sandbox", signing.Full, true, false},
		{"sandbox with all attr", descriptor.RequestSandbox, "all-permissions", signing.Full, true, false},
		{"all with all attr", descriptor.RequestAll, "all-permissions", signing.Full, false, false},
		{"default signed sandbox attr", descriptor.RequestNone, "sandbox", signing.Full, false, true},
		{"default unsigned all attr", descriptor.RequestNone, "all-permissions", signing.None, false, true},
		{"default signed all attr", descriptor.RequestNone, "all-permissions", signing.Full, false, false},
		{"default unsigned sandbox attr", descriptor.RequestNone, "sandbox", signing.None, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDelegate{}
			c := newChecker(CheckPermissions, LevelAskUnsigned, d, &fakePrompts{})
			err := c.CheckAll(context.Background(), Input{
				Descriptor: app(t, tt.request),
				Manifest:   manifestOf(t, jar.AttrPermissions, tt.attr),
				Signing:    tt.state,
			})
			if tt.wantErr {
				isLaunchFailure(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSandbox, d.sandboxed)
		})
	}
}

func TestPermissionsAlreadySandboxed(t *testing.T) {
	p := &fakePrompts{}
	c := newChecker(CheckPermissions, LevelDenyUnsigned, &fakeDelegate{sandboxed: true}, p)
	err := c.CheckAll(context.Background(), Input{Descriptor: app(t, descriptor.RequestAll), Manifest: manifestOf(t)})
	assert.NoError(t, err)
	assert.Empty(t, p.asked)
}

func TestALAC(t *testing.T) {
	own := mustURL(t, "https://apps.example.com/app/lib/a.jar")
	foreign := mustURL(t, "https://cdn.example.net/libs/b.jar")

	t.Run("all from codebase", func(t *testing.T) {
		p := &fakePrompts{}
		c := newChecker(CheckALAC, LevelAskUnsigned, &fakeDelegate{}, p)
		err := c.CheckAll(context.Background(), Input{
			Descriptor: app(t, descriptor.RequestAll),
			Manifest:   manifestOf(t),
			Signing:    signing.Full,
			Resources:  []*url.URL{own},
		})
		assert.NoError(t, err)
		assert.Empty(t, p.asked)
	})

	t.Run("missing attribute prompts", func(t *testing.T) {
		for _, answer := range []prompt.Decision{prompt.Allow, prompt.Deny} {
			p := &fakePrompts{answer: answer}
			c := newChecker(CheckALAC, LevelAskUnsigned, &fakeDelegate{}, p)
			err := c.CheckAll(context.Background(), Input{
				Descriptor: app(t, descriptor.RequestAll),
				Manifest:   manifestOf(t),
				Signing:    signing.Full,
				Resources:  []*url.URL{own, foreign},
			})
			assert.Equal(t, []prompt.Kind{prompt.KindMissingALAC}, p.asked)
			if answer == prompt.Deny {
				isLaunchFailure(t, err)
			} else {
				assert.NoError(t, err)
			}
		}
	})

	t.Run("unsigned ignores attribute", func(t *testing.T) {
		p := &fakePrompts{answer: prompt.Allow}
		c := newChecker(CheckALAC, LevelAskUnsigned, &fakeDelegate{}, p)
		err := c.CheckAll(context.Background(), Input{
			Descriptor: app(t, descriptor.RequestNone),
			Manifest:   manifestOf(t, jar.AttrALAC, "*.example.net"),
			Signing:    signing.None,
			Resources:  []*url.URL{foreign},
		})
		assert.NoError(t, err)
		assert.Equal(t, []prompt.Kind{prompt.KindMissingALAC}, p.asked)
	})

	t.Run("matching attribute then final gate", func(t *testing.T) {
		p := &fakePrompts{answer: prompt.Deny}
		c := newChecker(CheckALAC, LevelAskUnsigned, &fakeDelegate{}, p)
		err := c.CheckAll(context.Background(), Input{
			Descriptor: app(t, descriptor.RequestAll),
			Manifest:   manifestOf(t, jar.AttrALAC, "*.example.net *.example.com"),
			Signing:    signing.Full,
			Resources:  []*url.URL{own, foreign},
		})
		isLaunchFailure(t, err)
		assert.Equal(t, []prompt.Kind{prompt.KindMatchingALAC}, p.asked)
	})

	t.Run("low security skips final gate", func(t *testing.T) {
		p := &fakePrompts{answer: prompt.Deny}
		c := newChecker(CheckALAC, LevelAllowUnsigned, &fakeDelegate{}, p)
		err := c.CheckAll(context.Background(), Input{
			Descriptor: app(t, descriptor.RequestAll),
			Manifest:   manifestOf(t, jar.AttrALAC, "*.example.net *.example.com"),
			Signing:    signing.Full,
			Resources:  []*url.URL{own, foreign},
		})
		assert.NoError(t, err)
		assert.Empty(t, p.asked)
	})

	t.Run("non matching attribute is fatal", func(t *testing.T) {
		p := &fakePrompts{answer: prompt.Allow}
		c := newChecker(CheckALAC, LevelAskUnsigned, &fakeDelegate{}, p)
		err := c.CheckAll(context.Background(), Input{
			Descriptor: app(t, descriptor.RequestAll),
			Manifest:   manifestOf(t, jar.AttrALAC, "*.example.com"),
			Signing:    signing.Full,
			Resources:  []*url.URL{own, foreign},
		})
		isLaunchFailure(t, err)
		assert.Empty(t, p.asked)
	})
}

func TestEntryPoint(t *testing.T) {
	c := newChecker(CheckEntryPoint, LevelAskUnsigned, &fakeDelegate{}, &fakePrompts{})
	ctx := context.Background()
	in := func(state signing.State, eps string) Input {
		m := manifestOf(t)
		if eps != "" {
			m = manifestOf(t, jar.AttrEntryPoint, eps)
		}
		return Input{Descriptor: app(t, descriptor.RequestAll), Manifest: m, Signing: state}
	}

	assert.NoError(t, c.CheckAll(ctx, in(signing.Full, "com.example.Other com.example.Main")))
	isLaunchFailure(t, c.CheckAll(ctx, in(signing.Full, "com.example.Other")))
	assert.NoError(t, c.CheckAll(ctx, in(signing.None, "com.example.Other")))
	assert.NoError(t, c.CheckAll(ctx, in(signing.Partial, "")))
}

func TestNoneDisablesEverything(t *testing.T) {
	c := newChecker(CheckNone, LevelDenyUnsigned, &fakeDelegate{}, &fakePrompts{})
	err := c.CheckAll(context.Background(), Input{
		Descriptor: app(t, descriptor.RequestAll),
		Manifest:   manifestOf(t, jar.AttrTrustedOnly, "true", jar.AttrEntryPoint, "x.Y"),
		Signing:    signing.Partial,
	})
	assert.NoError(t, err)
}
