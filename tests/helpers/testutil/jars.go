package testutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"
)

// JarBuilder assembles an archive, optionally signed by one or more signers.
type JarBuilder struct {
	files    map[string][]byte
	attrs    [][2]string
	signers  []*Signer
	unsigned map[string][]byte
	tampered map[string][]byte
}

// NewJar starts an empty archive.
func NewJar() *JarBuilder {
	return &JarBuilder{
		files:    make(map[string][]byte),
		unsigned: make(map[string][]byte),
		tampered: make(map[string][]byte),
	}
}

// Class adds a class script under its entry name.
func (b *JarBuilder) Class(className, source string) *JarBuilder {
	return b.File(strings.ReplaceAll(className, ".", "/")+".js", []byte(source))
}

// File adds an arbitrary entry.
func (b *JarBuilder) File(name string, data []byte) *JarBuilder {
	b.files[name] = data
	return b
}

// Attr adds a main-section manifest attribute.
func (b *JarBuilder) Attr(key, value string) *JarBuilder {
	b.attrs = append(b.attrs, [2]string{key, value})
	return b
}

// SignedBy signs every entry added with Class or File.
func (b *JarBuilder) SignedBy(signers ...*Signer) *JarBuilder {
	b.signers = append(b.signers, signers...)
	return b
}

// Unsigned adds an entry after signing, leaving it out of the manifest.
func (b *JarBuilder) Unsigned(name string, data []byte) *JarBuilder {
	b.unsigned[name] = data
	return b
}

// Tamper replaces an entry's content after its digest was recorded.
func (b *JarBuilder) Tamper(name string, data []byte) *JarBuilder {
	b.tampered[name] = data
	return b
}

// Bytes renders the archive.
func (b *JarBuilder) Bytes(t *testing.T) []byte {
	t.Helper()

	names := sortedKeys(b.files)
	manifest := b.manifest(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	add := func(name string, data []byte) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}

	add("META-INF/MANIFEST.MF", manifest)
	for _, s := range b.signers {
		sf := signatureFile(manifest)
		block := sign(t, s, sf)
		base := "META-INF/" + sigName(s.Alias)
		add(base+".SF", sf)
		add(base+".RSA", block)
	}
	for _, name := range names {
		data := b.files[name]
		if replaced, ok := b.tampered[name]; ok {
			data = replaced
		}
		add(name, data)
	}
	for _, name := range sortedKeys(b.unsigned) {
		add(name, b.unsigned[name])
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// Write renders the archive into dir/name and returns its path.
func (b *JarBuilder) Write(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, b.Bytes(t), 0o644))
	return p
}

func (b *JarBuilder) manifest(names []string) []byte {
	var m bytes.Buffer
	m.WriteString("Manifest-Version: 1.0\r\n")
	for _, kv := range b.attrs {
		fmt.Fprintf(&m, "%s: %s\r\n", kv[0], kv[1])
	}
	m.WriteString("\r\n")
	if len(b.signers) == 0 {
		return m.Bytes()
	}
	for _, name := range names {
		m.Write(entrySection(name, b.files[name]))
	}
	return m.Bytes()
}

func entrySection(name string, data []byte) []byte {
	sum := sha256.Sum256(data)
	return []byte(fmt.Sprintf("Name: %s\r\nSHA-256-Digest: %s\r\n\r\n",
		name, base64.StdEncoding.EncodeToString(sum[:])))
}

// signatureFile digests the whole manifest plus each per-entry section.
func signatureFile(manifest []byte) []byte {
	var sf bytes.Buffer
	whole := sha256.Sum256(manifest)
	sf.WriteString("Signature-Version: 1.0\r\n")
	fmt.Fprintf(&sf, "SHA-256-Digest-Manifest: %s\r\n\r\n", base64.StdEncoding.EncodeToString(whole[:]))

	sections := bytes.Split(manifest, []byte("\r\n\r\n"))
	for _, sec := range sections[1:] {
		if len(sec) == 0 {
			continue
		}
		raw := append(append([]byte(nil), sec...), "\r\n\r\n"...)
		first, _, _ := bytes.Cut(sec, []byte("\r\n"))
		name := strings.TrimPrefix(string(first), "Name: ")
		sum := sha256.Sum256(raw)
		fmt.Fprintf(&sf, "Name: %s\r\nSHA-256-Digest: %s\r\n\r\n", name, base64.StdEncoding.EncodeToString(sum[:]))
	}
	return sf.Bytes()
}

// sign produces a detached PKCS#7 block over content.
func sign(t *testing.T, s *Signer, content []byte) []byte {
	t.Helper()
	sd, err := pkcs7.NewSignedData(content)
	require.NoError(t, err)
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	require.NoError(t, sd.AddSignerChain(s.Cert, s.Key, s.Chain, pkcs7.SignerInfoConfig{}))
	sd.Detach()
	der, err := sd.Finish()
	require.NoError(t, err)
	return der
}

func sigName(alias string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(alias) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if b.Len() > 8 {
		return b.String()[:8]
	}
	return b.String()
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
