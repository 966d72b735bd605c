//go:build linux || darwin || windows

package clip

import (
	"fmt"

	"golang.design/x/clipboard"
)

type nativeBackend struct{}

func newNative() (Backend, error) {
	if err := clipboard.Init(); err != nil {
		return nil, fmt.Errorf("clipboard init: %w", err)
	}
	return nativeBackend{}, nil
}

func (nativeBackend) Name() string { return "native clipboard" }

func (nativeBackend) ReadText() (string, error) {
	return string(clipboard.Read(clipboard.FmtText)), nil
}

func (nativeBackend) Close() {}
