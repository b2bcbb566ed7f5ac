package jar

import (
	"testing"

	"github.com/GriffinCanCode/netlaunch/tests/helpers/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest(t *testing.T) {
	data := []byte("Manifest-Version: 1.0\r\n" +
		"Main-Class: com.example.Main\r\n" +
		"Class-Path: lib/a.jar\r\n" +
		"  lib/b.jar\r\n" +
		"permissions: sandbox\r\n" +
		"\r\n" +
		"Name: com/example/Main.js\r\n" +
		"SHA-256-Digest: abc=\r\n" +
		"\r\n")

	m, err := ParseManifest(data)
	require.NoError(t, err)

	assert.Equal(t, "com.example.Main", m.Get(AttrMainClass))
	assert.Equal(t, "sandbox", m.Get(AttrPermissions), "keys are case-insensitive")
	assert.Equal(t, []string{"lib/a.jar", "lib/b.jar"}, m.ClassPath())

	sec := m.Entry("com/example/Main.js")
	require.NotNil(t, sec)
	assert.Equal(t, "abc=", sec.Get("sha-256-digest"))
	assert.Equal(t, "Name: com/example/Main.js\r\nSHA-256-Digest: abc=\r\n\r\n", string(sec.Raw))
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"dangling continuation", "\r\n continued\r\n"},
		{"missing colon", "Manifest-Version 1.0\r\n"},
		{"section without name", "Manifest-Version: 1.0\r\n\r\nSHA-256-Digest: x\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestParseManifestNoTrailingNewline(t *testing.T) {
	m, err := ParseManifest([]byte("Main-Class: a.B"))
	require.NoError(t, err)
	assert.Equal(t, "a.B", m.Get(AttrMainClass))
	assert.True(t, m.Main.Has("main-class"))
	assert.False(t, m.Main.Has(AttrCodebase))
}

func TestClassNames(t *testing.T) {
	assert.Equal(t, "com/example/Main.js", ClassEntry("com.example.Main"))
	assert.Equal(t, "com.example.Main", ClassName("com/example/Main.js"))
	assert.Equal(t, "", ClassName("META-INF/x.js"))
	assert.Equal(t, "", ClassName("readme.txt"))
	assert.Equal(t, "com.example", PackageOf("com.example.Main"))
	assert.Equal(t, "", PackageOf("Main"))
}

func TestIsSignatureRelated(t *testing.T) {
	assert.True(t, IsSignatureRelated("META-INF/MANIFEST.MF"))
	assert.True(t, IsSignatureRelated("META-INF/ALICE.SF"))
	assert.True(t, IsSignatureRelated("meta-inf/alice.rsa"))
	assert.True(t, IsSignatureRelated("META-INF/SIG-X"))
	assert.False(t, IsSignatureRelated("META-INF/sub/ALICE.SF"))
	assert.False(t, IsSignatureRelated("META-INF/services/x"))
	assert.False(t, IsSignatureRelated("com/Main.js"))
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	p := testutil.NewJar().
		Attr(AttrMainClass, "com.example.Main").
		Class("com.example.Main", "function main() {}").
		File("res/logo.txt", []byte("logo")).
		Write(t, dir, "app.jar")

	a, err := Open(p)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, p, a.Path())
	assert.True(t, a.Has("com/example/Main.js"))
	assert.ElementsMatch(t, []string{"com/example/Main.js", "res/logo.txt"}, a.SignableEntries())
	assert.Empty(t, a.SignatureFiles())

	m, err := a.Manifest()
	require.NoError(t, err)
	assert.Equal(t, "com.example.Main", m.Get(AttrMainClass))

	src, err := a.ReadEntry(ClassEntry("com.example.Main"))
	require.NoError(t, err)
	assert.Equal(t, "function main() {}", string(src))

	_, err = a.ReadEntry("missing.js")
	assert.ErrorIs(t, err, ErrNoEntry)

	assert.True(t, Exists(p))
	assert.False(t, Exists(dir+"/nope.jar"))
}

func TestArchiveSignatureFiles(t *testing.T) {
	signer := testutil.NewSelfSigned(t, "alice")
	p := testutil.NewJar().
		Class("a.Main", "x").
		SignedBy(signer).
		Write(t, t.TempDir(), "signed.jar")

	a, err := Open(p)
	require.NoError(t, err)
	defer a.Close()

	sfs := a.SignatureFiles()
	require.Equal(t, []string{"META-INF/ALICE.SF"}, sfs)
	block, ok := a.SignatureBlock(sfs[0])
	assert.True(t, ok)
	assert.Equal(t, "META-INF/ALICE.RSA", block)
	assert.Equal(t, []string{"a/Main.js"}, a.SignableEntries())
}
