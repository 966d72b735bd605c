//go:build windows

package ipc

import (
	"context"
	"errors"
	"net"

	"github.com/Microsoft/go-winio"
)

const pipeName = `\\.\pipe\echolink`

var errInUse = errors.New("another echolink daemon is already listening")

func socketPath() string { return pipeName }

// Named pipes vanish with their owner.
func removeStale(string) {}

func listenIPC(path string) (net.Listener, error) {
	return winio.ListenPipe(path, nil)
}

func dialIPC(ctx context.Context, path string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, path)
}
