package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newChannelCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Read or change the active notification channel",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the channel used for new dispatch attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(func(b *backend) error {
				settings, err := b.channelSettings()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), settings.CurrentChannel(cmd.Context()))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <channel>",
		Short: "Set the channel (META_WHATSAPP, TWILIO_WHATSAPP, TWILIO_SMS, CONSOLE or legacy 1-3)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(func(b *backend) error {
				settings, err := b.channelSettings()
				if err != nil {
					return err
				}
				channel, err := settings.SetChannel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Notification channel set to %s\n", channel)
				return nil
			})
		},
	})

	return cmd
}
