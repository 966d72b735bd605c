// echolink: reads new clipboard or file content aloud.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "echolink",
		Short: "Speak new clipboard or file content",
		Long: `echolink watches the clipboard (or a file being appended to), drops
duplicates and short snippets, summarizes what is left and turns it into
speech with ElevenLabs.

Run "echolink run" to start the monitor. "echolink status", "say" and "reset"
talk to a running monitor over its local socket, or over TCP with --server.

Config file search order (first found wins):
  /etc/echolink/echolink.toml
  $HOME/.config/echolink/echolink.toml
  path supplied via --config

All flags can be set via ECHOLINK_<FLAG> env vars, a .env file or config-file
keys. See "echolink run --help" for the full flag reference.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newSayCmd(),
		newResetCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "echolink %s\n", Version)
		},
	}
}
