package source

import (
	"context"
	"fmt"

	"go.klb.dev/echolink/internal/clip"
)

// Clipboard reads the current clipboard text on every poll.
type Clipboard struct {
	backend clip.Backend
}

// NewClipboard wraps a clipboard backend.
func NewClipboard(b clip.Backend) *Clipboard {
	return &Clipboard{backend: b}
}

func (c *Clipboard) Kind() Kind { return KindClipboard }

// Read returns the whole clipboard text. Deduplication is the monitor's job.
func (c *Clipboard) Read(_ context.Context) (string, error) {
	text, err := c.backend.ReadText()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, c.backend.Name(), err)
	}
	return text, nil
}

// Name returns the backend name for logs and status output.
func (c *Clipboard) Name() string { return c.backend.Name() }
