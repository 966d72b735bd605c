package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/echolink/internal/control"
)

func newResetCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "reset",
		Short:   "Forget previously seen content",
		Long:    `Clears the running monitor's duplicate history so repeated text is spoken again.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, _, err := dialDaemon(cmd, v)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(context.Background(), v.GetDuration("timeout"))
			defer cancel()
			if err := control.NewClient(conn).Reset(ctx); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}
