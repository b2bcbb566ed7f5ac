package instance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GriffinCanCode/netlaunch/internal/descriptor"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"go.uber.org/zap"
)

// ShortcutDesktop writes a freedesktop launcher entry for descriptors that
// ask for a shortcut.
type ShortcutDesktop struct {
	Dir    string
	Exec   string
	Logger *logging.Logger
}

// Integrate writes <title>.desktop into Dir. Descriptors without a shortcut
// request or a source URL are skipped.
func (s ShortcutDesktop) Integrate(ctx context.Context, d *descriptor.Descriptor) error {
	if !d.Information.Shortcut || d.Source == nil || s.Dir == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create desktop dir: %w", err)
	}

	exec := s.Exec
	if exec == "" {
		exec = "netlaunch"
	}

	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Type=Application\n")
	fmt.Fprintf(&b, "Name=%s\n", oneLine(d.Title()))
	if d.Information.Description != "" {
		fmt.Fprintf(&b, "Comment=%s\n", oneLine(d.Information.Description))
	}
	fmt.Fprintf(&b, "Exec=%s %s\n", exec, d.Source.String())
	b.WriteString("Terminal=false\n")

	path := filepath.Join(s.Dir, shortcutName(d.Title())+".desktop")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write shortcut: %w", err)
	}
	if s.Logger != nil {
		s.Logger.Info("desktop shortcut written", zap.String("path", path))
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func shortcutName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, title)
	name = strings.Trim(name, "-")
	if name == "" {
		return "application"
	}
	return name
}
