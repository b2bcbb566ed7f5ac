package descriptor

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
)

const sampleYAML = `
spec: "1.0"
codebase: http://apps.example.com/demo
href: demo.yaml
information:
  title: Demo
  vendor: Example Corp
  shortcut: true
security: all-permissions
resources:
  jars:
    - href: main.jar
      main: true
    - href: lib/util.jar
      version: "2.1"
    - href: http://cdn.example.net/extra.jar
      download: lazy
      part: extra
  nativelibs:
    - href: native-linux.jar
  extensions:
    - name: charts
      href: charts/ext.yaml
  properties:
    - name: jnlp.mode
      value: fast
  packages:
    - name: com.example.extra.*
      part: extra
      recursive: true
application:
  main-class: com.example.Main
  arguments: [one, two]
`

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func TestParseYAML(t *testing.T) {
	d, err := YAMLParser{}.Parse([]byte(sampleYAML), mustURL(t, "http://apps.example.com/launch/demo.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://apps.example.com/demo/", d.Codebase.String())
	assert.Equal(t, "http://apps.example.com/demo/demo.yaml", d.Source.String())
	assert.Equal(t, KindApplication, d.Kind)
	assert.Equal(t, RequestAll, d.Security)
	assert.Equal(t, "Demo", d.Title())
	assert.True(t, d.Information.Shortcut)

	require.Len(t, d.Resources.JARs, 3)
	main, ok := d.Resources.MainJAR()
	require.True(t, ok)
	assert.Equal(t, "http://apps.example.com/demo/main.jar", main.URL.String())
	assert.Equal(t, "http://apps.example.com/demo/lib/util.jar#2.1", d.Resources.JARs[1].Key())
	assert.True(t, d.Resources.JARs[2].Lazy)
	assert.Equal(t, "extra", d.Resources.JARs[2].Part)

	require.Len(t, d.Resources.Natives, 1)
	assert.True(t, d.Resources.Natives[0].Native)

	require.Len(t, d.Resources.Extensions, 1)
	assert.Equal(t, "http://apps.example.com/demo/charts/ext.yaml", d.Resources.Extensions[0].URL.String())

	assert.Equal(t, []Property{{Key: "jnlp.mode", Value: "fast"}}, d.Resources.Properties)
	part, ok := d.Resources.PartFor("com.example.extra.deep.Widget")
	assert.True(t, ok)
	assert.Equal(t, "extra", part)

	assert.Equal(t, "com.example.Main", d.EntryPoint.MainClass)
	assert.Equal(t, []string{"one", "two"}, d.EntryPoint.Arguments)
	assert.False(t, d.NeedsNewProcess())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "resources: [unclosed"},
		{"unknown security", "security: root"},
		{"two mains", "resources:\n  jars:\n    - {href: a.jar, main: true}\n    - {href: b.jar, main: true}\n"},
		{"bad download", "resources:\n  jars:\n    - {href: a.jar, download: sometimes}\n"},
		{"two entry points", "application: {main-class: A}\napplet: {main-class: B}\n"},
		{"nameless property", "resources:\n  properties:\n    - {value: x}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := YAMLParser{}.Parse([]byte(tt.doc), mustURL(t, "http://a.example/x.yaml"))
			var pe *errs.ParseError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestAppletAndRuntime(t *testing.T) {
	doc := `
applet:
  main-class: com.example.Applet
  documentbase: page/index.html
  parameters: {color: red}
runtime:
  max-heap: 512m
`
	d, err := YAMLParser{}.Parse([]byte(doc), mustURL(t, "http://a.example/app/x.yaml"))
	require.NoError(t, err)

	assert.True(t, d.IsApplet())
	assert.Equal(t, "http://a.example/app/page/index.html", d.EntryPoint.DocumentBase.String())
	assert.Equal(t, "red", d.EntryPoint.Parameters["color"])
	assert.True(t, d.NeedsNewProcess())
}

func TestPackageMatches(t *testing.T) {
	tests := []struct {
		pkg   Package
		class string
		want  bool
	}{
		{Package{Name: "com.example.*"}, "com.example.Main", true},
		{Package{Name: "com.example.*"}, "com.example.sub.Main", false},
		{Package{Name: "com.example.*", Recursive: true}, "com.example.sub.Main", true},
		{Package{Name: "com.example.Main"}, "com.example.Main", true},
		{Package{Name: "com.example.*"}, "com.examples.Main", false},
	}

	for _, tt := range tests {
		t.Run(tt.pkg.Name+"/"+tt.class, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pkg.Matches(tt.class))
		})
	}
}

func TestStripFile(t *testing.T) {
	tests := map[string]string{
		"http://a.example/x/y/app.jar":    "http://a.example/x/y/",
		"http://a.example/app.jar?v=1":    "http://a.example/",
		"http://a.example/dir/":           "http://a.example/dir/",
		"http://a.example":                "http://a.example/",
		"https://a.example:8443/p/q.jnlp": "https://a.example:8443/p/",
	}
	for in, want := range tests {
		assert.Equal(t, want, StripFile(mustURL(t, in)).String(), in)
	}
	assert.Nil(t, StripFile(nil))
}

type fileFetcher map[string]string

func (f fileFetcher) Fetch(_ context.Context, u *url.URL, _ string) (string, error) {
	p, ok := f[u.String()]
	if !ok {
		return "", &errs.FetchError{URL: u.String(), Err: os.ErrNotExist}
	}
	return p, nil
}

func TestFetchingResolver(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "ext.yaml")
	require.NoError(t, os.WriteFile(local, []byte("component: {}\nresources:\n  jars:\n    - href: ext.jar\n"), 0o600))

	r := FetchingResolver{
		Fetcher: fileFetcher{"http://a.example/ext/ext.yaml": local},
		Parser:  YAMLParser{},
	}

	d, err := r.Resolve(context.Background(), Extension{URL: mustURL(t, "http://a.example/ext/ext.yaml")})
	require.NoError(t, err)
	assert.Equal(t, KindComponent, d.Kind)
	assert.Equal(t, "http://a.example/ext/ext.jar", d.Resources.JARs[0].URL.String())

	_, err = r.Resolve(context.Background(), Extension{URL: mustURL(t, "http://a.example/missing.yaml")})
	var fe *errs.FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("resources:\n  jars:\n    - href: main.jar\n"), 0o600))

	d, err := ParseFile(YAMLParser{}, path)
	require.NoError(t, err)
	assert.Equal(t, "file", d.Resources.JARs[0].URL.Scheme)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "main.jar"), filepath.FromSlash(d.Resources.JARs[0].URL.Path))
}
