package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/echolink/internal/control"
)

const defaultTimeout = 10 * time.Second

func newSayCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "say [text...]",
		Short: "Hand text to a running monitor",
		Long: `Submits text to the running monitor as if it had been copied. It goes
through the same duplicate and length checks; the verdict is printed.

With no arguments, or "-", the text is read from stdin:

  git log -1 --format=%B | echolink say`,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, args []string) error { return runSay(cmd, v, args) },
	}
	addClientFlags(cmd)
	return cmd
}

func runSay(cmd *cobra.Command, v *viper.Viper, args []string) error {
	text := strings.Join(args, " ")
	if len(args) == 0 || text == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(b)
	}

	conn, _, err := dialDaemon(cmd, v)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), v.GetDuration("timeout"))
	defer cancel()
	verdict, id, err := control.NewClient(conn).Say(ctx, text)
	if err != nil {
		return fmt.Errorf("say: %w", err)
	}
	if id != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verdict, id)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), verdict)
	}
	return nil
}
