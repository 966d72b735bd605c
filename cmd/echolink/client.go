package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"go.klb.dev/echolink/internal/control"
	"go.klb.dev/echolink/internal/ipc"
	"go.klb.dev/echolink/internal/tlsconf"
)

// addClientFlags adds the flags shared by commands that talk to a daemon.
func addClientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("server", "localhost:8753", "daemon TCP control address (used when no local daemon is running)")
	f.String("control-token", "", "shared secret for the TCP control API")
	f.Duration("timeout", defaultTimeout, "request timeout")
	addConfigFlag(cmd)
}

// dialDaemon connects to the local socket when a daemon is running there and
// --server wasn't given, and to --server over TCP otherwise. The returned
// string describes the transport.
func dialDaemon(cmd *cobra.Command, v *viper.Viper) (*grpc.ClientConn, string, error) {
	if !cmd.Flags().Changed("server") && ipc.IsRunning() {
		path := ipc.SocketPath()
		conn, err := control.DialIPC(path)
		if err == nil {
			return conn, fmt.Sprintf("ipc (%s)", path), nil
		}
	}

	addr := v.GetString("server")
	token := v.GetString("control-token")
	var creds credentials.TransportCredentials
	if token != "" {
		pair, err := tlsconf.FromToken(token)
		if err != nil {
			return nil, "", err
		}
		creds = pair.GRPC()
	}
	conn, err := control.DialTCP(addr, token, creds)
	if err != nil {
		return nil, "", err
	}
	return conn, fmt.Sprintf("tcp (%s)", addr), nil
}
