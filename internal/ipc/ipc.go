// Package ipc provides the local channel that CLI commands (status, say,
// reset) use to reach a running echolink daemon.
//
// The channel is plain gRPC served over a Unix domain socket, or a named
// pipe on Windows. The daemon listens on it; CLI commands dial it and report
// a clear error when no daemon is running.
package ipc

import (
	"context"
	"net"
	"os"
)

// SocketPath returns the platform-appropriate path for the IPC socket.
//
//   - Linux / macOS: $XDG_RUNTIME_DIR/echolink.sock, else $TMPDIR/echolink.sock
//   - Windows:       \\.\pipe\echolink
//
// $ECHOLINK_SOCKET overrides both.
func SocketPath() string {
	if s := os.Getenv("ECHOLINK_SOCKET"); s != "" {
		return s
	}
	return socketPath()
}

// IsRunning reports whether a daemon appears to be listening on the IPC
// socket. It does a cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := Dial(context.Background(), SocketPath())
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen creates a listener on the IPC socket path, removing any stale
// socket left by a crashed run first. It refuses to take over a socket that
// another daemon is still serving.
func Listen() (net.Listener, error) {
	path := SocketPath()
	if IsRunning() {
		return nil, &net.OpError{Op: "listen", Net: "unix", Err: errInUse}
	}
	removeStale(path)
	return listenIPC(path)
}

// Dial connects to the IPC socket at path. Its signature matches what
// grpc.WithContextDialer expects.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	return dialIPC(ctx, path)
}
