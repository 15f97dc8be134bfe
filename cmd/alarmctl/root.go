package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand(open backendOpener) *cobra.Command {
	var envFlag string

	ctx := newCommandContext(&envFlag, open)

	rootCmd := &cobra.Command{
		Use:           "alarmctl",
		Short:         "Operate the alarm notification engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFlag, "env-file", "", "Path to a .env file loaded before reading configuration")

	rootCmd.AddCommand(newChannelCommand(ctx))
	rootCmd.AddCommand(newAlarmCommand(ctx))
	rootCmd.AddCommand(newContactCommand(ctx))
	rootCmd.AddCommand(newSweepCommand(ctx))

	return rootCmd
}
