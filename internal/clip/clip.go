// Package clip provides read access to the system clipboard across
// platforms. New picks the first backend that works:
//
//	native    golang.design/x/clipboard (X11, macOS, Windows; cgo)
//	tool      github.com/atotto/clipboard (xclip, xsel, wl-paste, pbpaste)
//	headless  no-op for containers and CI
package clip

import "log/slog"

// Backend is the interface that all clipboard implementations satisfy.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// ReadText returns the current clipboard text. An empty clipboard, or one
	// holding only non-text data, yields "", nil.
	ReadText() (string, error)

	// Close releases any resources held by the backend.
	Close()
}

// New returns the best available clipboard backend.
// Init is deferred to here rather than init() so that CLI sub-commands
// (status, say) that never read the clipboard don't log spurious warnings on
// headless systems.
func New() Backend {
	b, err := newNative()
	if err == nil {
		return b
	}
	slog.Debug("native clipboard unavailable", "err", err)

	t, err := newTool()
	if err == nil {
		slog.Info("using clipboard command-line tools", "backend", t.Name())
		return t
	}
	slog.Warn("clipboard unavailable, running headless", "err", err)
	return headlessBackend{}
}
