package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the retry sweep",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "once",
		Short: "Enqueue every alarm that is due for dispatch and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(func(b *backend) error {
				sweeper, err := b.sweeper()
				if err != nil {
					return err
				}
				count, err := sweeper.SweepOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %d alarms\n", count)
				return nil
			})
		},
	})

	return cmd
}
