package clip

import (
	"errors"
	"fmt"

	"github.com/atotto/clipboard"
)

// toolBackend shells out to the platform clipboard utilities. It covers
// Wayland sessions and cgo-less builds where the native backend can't start.
type toolBackend struct{}

func newTool() (Backend, error) {
	if clipboard.Unsupported {
		return nil, errors.New("no clipboard utility found (install xclip, xsel or wl-clipboard)")
	}
	return toolBackend{}, nil
}

func (toolBackend) Name() string { return "clipboard tools" }

func (toolBackend) ReadText() (string, error) {
	s, err := clipboard.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return s, nil
}

func (toolBackend) Close() {}
