package instance

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/shared/id"
)

// ErrNoWindow is returned for an unknown window handle.
var ErrNoWindow = errors.New("no such window")

// Window is a top-level window opened by an application.
type Window struct {
	Handle id.WindowHandle `json:"handle"`
	Title  string          `json:"title"`
	// Banner is set when the window must show the untrusted-code warning.
	Banner bool      `json:"banner"`
	Opened time.Time `json:"opened"`
}

// Windows is the window registry of one application.
type Windows struct {
	mu       sync.Mutex
	windows  map[id.WindowHandle]Window
	disposed bool
	onClose  func(Window)
}

// NewWindows creates an empty registry. onClose, if set, is called for every
// window that is closed or disposed.
func NewWindows(onClose func(Window)) *Windows {
	return &Windows{windows: make(map[id.WindowHandle]Window), onClose: onClose}
}

// Open registers a new window under a fresh handle.
func (w *Windows) Open(title string, banner bool) (Window, error) {
	win := Window{Handle: id.NewWindowHandle(), Title: title, Banner: banner, Opened: time.Now()}
	if err := w.Add(win); err != nil {
		return Window{}, err
	}
	return win, nil
}

// Add registers a window whose handle was allocated by the caller.
func (w *Windows) Add(win Window) error {
	if win.Opened.IsZero() {
		win.Opened = time.Now()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return ErrStopped
	}
	w.windows[win.Handle] = win
	return nil
}

// Close unregisters a window.
func (w *Windows) Close(h id.WindowHandle) error {
	w.mu.Lock()
	win, ok := w.windows[h]
	delete(w.windows, h)
	w.mu.Unlock()

	if !ok {
		return ErrNoWindow
	}
	if w.onClose != nil {
		w.onClose(win)
	}
	return nil
}

// Get returns the window for h.
func (w *Windows) Get(h id.WindowHandle) (Window, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	win, ok := w.windows[h]
	return win, ok
}

// List returns open windows in the order they were opened.
func (w *Windows) List() []Window {
	w.mu.Lock()
	out := make([]Window, 0, len(w.windows))
	for _, win := range w.windows {
		out = append(out, win)
	}
	w.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// DisposeAll closes every window and refuses new ones. It returns how many
// windows were closed.
func (w *Windows) DisposeAll() int {
	w.mu.Lock()
	w.disposed = true
	closed := make([]Window, 0, len(w.windows))
	for _, win := range w.windows {
		closed = append(closed, win)
	}
	w.windows = make(map[id.WindowHandle]Window)
	w.mu.Unlock()

	if w.onClose != nil {
		for _, win := range closed {
			w.onClose(win)
		}
	}
	return len(closed)
}
