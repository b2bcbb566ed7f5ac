package jar

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
)

// ClassSuffix is the entry suffix for class scripts.
const ClassSuffix = ".js"

// ErrNoEntry is returned when an archive has no entry with the requested name.
var ErrNoEntry = errors.New("jar: no such entry")

// maxEntrySize caps a single decompressed entry.
const maxEntrySize = 64 << 20

// Archive is an open launcher archive. It is safe for concurrent reads.
type Archive struct {
	path    string
	reader  *zip.ReadCloser
	entries map[string]*zip.File

	manifestOnce sync.Once
	manifest     *Manifest
	manifestErr  error
}

// Open opens the archive at p.
func Open(p string) (*Archive, error) {
	rc, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", p, err)
	}
	a := &Archive{
		path:    p,
		reader:  rc,
		entries: make(map[string]*zip.File, len(rc.File)),
	}
	for _, f := range rc.File {
		a.entries[f.Name] = f
	}
	return a, nil
}

// Path returns the local file the archive was opened from.
func (a *Archive) Path() string { return a.path }

// Close releases the underlying file.
func (a *Archive) Close() error {
	return a.reader.Close()
}

// Names returns all entry names, sorted.
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.entries))
	for name := range a.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the archive contains name.
func (a *Archive) Has(name string) bool {
	_, ok := a.entries[name]
	return ok
}

// ReadEntry returns the decompressed bytes of name.
func (a *Archive) ReadEntry(name string) ([]byte, error) {
	f, ok := a.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEntry, name)
	}
	if f.UncompressedSize64 > maxEntrySize {
		return nil, fmt.Errorf("entry %s exceeds %d bytes", name, maxEntrySize)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxEntrySize))
}

// Manifest returns the parsed manifest, or nil when the archive has none.
func (a *Archive) Manifest() (*Manifest, error) {
	a.manifestOnce.Do(func() {
		if !a.Has(ManifestPath) {
			return
		}
		data, err := a.ReadEntry(ManifestPath)
		if err != nil {
			a.manifestErr = err
			return
		}
		a.manifest, a.manifestErr = ParseManifest(data)
	})
	return a.manifest, a.manifestErr
}

// ClassEntry maps a class name to its entry name.
func ClassEntry(className string) string {
	return strings.ReplaceAll(className, ".", "/") + ClassSuffix
}

// ClassName maps an entry name back to a class name, or "" if the entry is
// not a class script.
func ClassName(entry string) string {
	if !strings.HasSuffix(entry, ClassSuffix) || IsMetadata(entry) {
		return ""
	}
	return strings.ReplaceAll(strings.TrimSuffix(entry, ClassSuffix), "/", ".")
}

// PackageOf returns the package portion of a class name.
func PackageOf(className string) string {
	if i := strings.LastIndexByte(className, '.'); i >= 0 {
		return className[:i]
	}
	return ""
}

// IsMetadata reports whether the entry lives under META-INF.
func IsMetadata(name string) bool {
	return strings.HasPrefix(strings.ToUpper(name), "META-INF/")
}

// IsSignatureRelated reports whether name is a manifest, signature file or
// signature block. Those entries are never themselves signed.
func IsSignatureRelated(name string) bool {
	upper := strings.ToUpper(name)
	if !strings.HasPrefix(upper, "META-INF/") {
		return false
	}
	if upper == strings.ToUpper(ManifestPath) {
		return true
	}
	rest := upper[len("META-INF/"):]
	if strings.Contains(rest, "/") {
		return false
	}
	switch path.Ext(rest) {
	case ".SF", ".RSA", ".DSA", ".EC":
		return true
	}
	return strings.HasPrefix(rest, "SIG-")
}

// SignableEntries returns the entries that should carry a signature:
// non-directory entries that are not signature related.
func (a *Archive) SignableEntries() []string {
	var out []string
	for _, name := range a.Names() {
		if strings.HasSuffix(name, "/") || IsSignatureRelated(name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// SignatureFiles returns the .SF entry names under META-INF.
func (a *Archive) SignatureFiles() []string {
	var out []string
	for _, name := range a.Names() {
		upper := strings.ToUpper(name)
		if IsSignatureRelated(name) && strings.HasSuffix(upper, ".SF") {
			out = append(out, name)
		}
	}
	return out
}

// SignatureBlock finds the block entry paired with the signature file sf.
func (a *Archive) SignatureBlock(sf string) (string, bool) {
	base := strings.TrimSuffix(sf, path.Ext(sf))
	for _, ext := range []string{".RSA", ".DSA", ".EC", ".rsa", ".dsa", ".ec"} {
		if a.Has(base + ext) {
			return base + ext, true
		}
	}
	return "", false
}

// ReadFile opens p, reads one entry, and closes it again.
func ReadFile(p, entry string) ([]byte, error) {
	a, err := Open(p)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.ReadEntry(entry)
}

// Exists reports whether p is a readable archive.
func Exists(p string) bool {
	if _, err := os.Stat(p); err != nil {
		return false
	}
	a, err := Open(p)
	if err != nil {
		return false
	}
	a.Close()
	return true
}
