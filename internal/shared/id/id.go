// Package id provides typed handle generation for the launcher.
//
// Handles are prefixed ULIDs:
//   - Sortable by creation time, so listings come out in launch order
//   - Prefixed by kind (app_*, win_*, ldr_*, unit_*) to keep logs readable
//   - Distinct Go types so an application handle cannot be passed where a
//     window handle is expected
//
// Registries key their maps by these handles and remove entries explicitly;
// nothing depends on garbage collection to drop a handle.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Typed Handles
// ============================================================================

// ApplicationHandle identifies one launched application.
type ApplicationHandle string

// WindowHandle identifies a top-level window opened by an application.
type WindowHandle string

// LoaderID identifies a classloader (root or extension).
type LoaderID string

// UnitID identifies one unit of work inside an application's thread group.
type UnitID string

const (
	ApplicationPrefix = "app"
	WindowPrefix      = "win"
	LoaderPrefix      = "ldr"
	UnitPrefix        = "unit"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// ============================================================================
// Typed Constructors
// ============================================================================

func NewApplicationHandle() ApplicationHandle {
	return ApplicationHandle(Default().GenerateWithPrefix(ApplicationPrefix))
}

func NewWindowHandle() WindowHandle {
	return WindowHandle(Default().GenerateWithPrefix(WindowPrefix))
}

func NewLoaderID() LoaderID {
	return LoaderID(Default().GenerateWithPrefix(LoaderPrefix))
}

func NewUnitID() UnitID {
	return UnitID(Default().GenerateWithPrefix(UnitPrefix))
}

func (h ApplicationHandle) String() string { return string(h) }
func (h WindowHandle) String() string      { return string(h) }
func (h LoaderID) String() string          { return string(h) }
func (h UnitID) String() string            { return string(h) }

// ============================================================================
// Validation
// ============================================================================

// Valid reports whether s is "<prefix>_<ulid>".
func Valid(prefix, s string) bool {
	rest, ok := strings.CutPrefix(s, prefix+"_")
	if !ok {
		return false
	}
	_, err := ulid.Parse(rest)
	return err == nil
}

// ParseApplicationHandle validates an application handle received from outside
// the process (CLI, control API).
func ParseApplicationHandle(s string) (ApplicationHandle, error) {
	if !Valid(ApplicationPrefix, s) {
		return "", fmt.Errorf("invalid application handle %q", s)
	}
	return ApplicationHandle(s), nil
}

// Timestamp extracts the creation time of a prefixed handle.
func Timestamp(s string) (time.Time, error) {
	_, rest, ok := strings.Cut(s, "_")
	if !ok {
		return time.Time{}, fmt.Errorf("handle %q has no prefix", s)
	}
	parsed, err := ulid.Parse(rest)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
