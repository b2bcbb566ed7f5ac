// Package jar reads launcher archives: zip files with a META-INF/MANIFEST.MF
// whose class entries are scripts named after their class.
package jar

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// ManifestPath is the location of the manifest inside an archive.
const ManifestPath = "META-INF/MANIFEST.MF"

// Well-known main-section attributes.
const (
	AttrMainClass       = "Main-Class"
	AttrClassPath       = "Class-Path"
	AttrPermissions     = "Permissions"
	AttrCodebase        = "Codebase"
	AttrTrustedOnly     = "Trusted-Only"
	AttrTrustedLibrary  = "Trusted-Library"
	AttrALAC            = "Application-Library-Allowable-Codebase"
	AttrCallerALC       = "Caller-Allowable-Codebase"
	AttrEntryPoint      = "Entry-Point"
	AttrApplicationName = "Application-Name"
)

// Section is one block of "Key: value" lines.
type Section struct {
	Name  string
	attrs map[string]string
	keys  []string
	Raw   []byte
}

// Get returns an attribute value; keys are case-insensitive.
func (s *Section) Get(key string) string {
	if s == nil {
		return ""
	}
	return s.attrs[strings.ToLower(key)]
}

// Has reports whether the attribute is present.
func (s *Section) Has(key string) bool {
	if s == nil {
		return false
	}
	_, ok := s.attrs[strings.ToLower(key)]
	return ok
}

// Keys returns attribute names in file order.
func (s *Section) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Manifest is a parsed manifest or signature file.
type Manifest struct {
	Main     *Section
	Sections map[string]*Section
	Raw      []byte
}

// Get returns a main-section attribute.
func (m *Manifest) Get(key string) string {
	if m == nil {
		return ""
	}
	return m.Main.Get(key)
}

// Entry returns the per-entry section for name.
func (m *Manifest) Entry(name string) *Section {
	if m == nil {
		return nil
	}
	return m.Sections[name]
}

// ParseManifest parses manifest-format bytes. Lines beginning with a single
// space continue the previous value; blank lines separate sections.
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{Sections: make(map[string]*Section), Raw: data}

	var (
		current  = newSection()
		start    = 0
		offset   = 0
		lastKey  string
		lineNo   = 0
		finished = func(end int) error {
			current.Raw = data[start:end]
			if m.Main == nil {
				m.Main = current
			} else if len(current.keys) > 0 {
				if current.Name == "" {
					return fmt.Errorf("manifest section at byte %d has no Name", start)
				}
				m.Sections[current.Name] = current
			}
			current = newSection()
			lastKey = ""
			return nil
		}
	)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	scanner.Split(scanLinesKeepEnds)

	for scanner.Scan() {
		raw := scanner.Bytes()
		lineNo++
		offset += len(raw)
		line := strings.TrimRight(string(raw), "\r\n")

		switch {
		case line == "":
			if len(current.keys) > 0 || m.Main == nil {
				if err := finished(offset); err != nil {
					return nil, err
				}
			}
			start = offset
		case strings.HasPrefix(line, " "):
			if lastKey == "" {
				return nil, fmt.Errorf("manifest line %d: continuation without attribute", lineNo)
			}
			current.attrs[lastKey] += line[1:]
			if lastKey == "name" {
				current.Name += line[1:]
			}
		default:
			key, value, ok := strings.Cut(line, ": ")
			if !ok {
				key, value, ok = strings.Cut(line, ":")
			}
			if !ok || key == "" {
				return nil, fmt.Errorf("manifest line %d: expected \"Key: value\"", lineNo)
			}
			lower := strings.ToLower(key)
			if _, dup := current.attrs[lower]; !dup {
				current.keys = append(current.keys, key)
			}
			current.attrs[lower] = value
			if lower == "name" {
				current.Name = value
			}
			lastKey = lower
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(current.keys) > 0 || m.Main == nil {
		if err := finished(len(data)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func newSection() *Section {
	return &Section{attrs: make(map[string]string)}
}

// scanLinesKeepEnds is bufio.ScanLines without stripping the terminator, so
// section byte ranges can be recovered for digest checks.
func scanLinesKeepEnds(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i+1], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// ClassPath returns the space-separated Class-Path entries.
func (m *Manifest) ClassPath() []string {
	return strings.Fields(m.Get(AttrClassPath))
}

// EntryPoints returns the space-separated Entry-Point class names.
func (m *Manifest) EntryPoints() []string {
	return strings.Fields(m.Get(AttrEntryPoint))
}
