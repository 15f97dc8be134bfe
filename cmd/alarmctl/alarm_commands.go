package main

import (
	"fmt"
	"strconv"

	"github.com/kursadbilgin/alarm-dispatch/internal/service"
	"github.com/spf13/cobra"
)

func newAlarmCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alarm",
		Short: "Inspect and retry alarms",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <alarm-id>",
		Short: "Show an alarm and its notification attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(func(b *backend) error {
				svc, err := b.alarmService(false)
				if err != nil {
					return err
				}
				view, err := svc.Get(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("alarm %s: %w", args[0], err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderAlarm(view))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry <alarm-id>",
		Short: "Reopen an alarm and enqueue a new dispatch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(func(b *backend) error {
				svc, err := b.alarmService(true)
				if err != nil {
					return err
				}
				alarm, err := svc.Retry(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("retry %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Alarm %s queued for dispatch (status %s, attempts %d)\n",
					alarm.ID, alarm.Status, alarm.AttemptCount)
				return nil
			})
		},
	})

	return cmd
}

func renderAlarm(view *service.AlarmView) string {
	a := view.Alarm
	channel := "-"
	if a.Channel != nil {
		channel = a.Channel.String()
	}

	summary := renderTable(
		[]string{"Field", "Value"},
		[][]string{
			{"ID", a.ID},
			{"Subject", a.SubjectID},
			{"Source", a.SourceID},
			{"Status", a.Status.String()},
			{"Test", strconv.FormatBool(a.IsTest)},
			{"Attempts", strconv.Itoa(a.AttemptCount)},
			{"Channel", channel},
			{"Correlation ID", valueOrDash(a.CorrelationID)},
			{"Last attempt", timeOrDash(a.LastAttempt)},
			{"Next retry", timeOrDash(a.NextRetryAt)},
			{"Error", valueOrDash(a.NotificationError)},
		},
		nil,
	)

	if len(view.Attempts) == 0 {
		return summary + "\nNo notification attempts"
	}

	rows := make([][]string, 0, len(view.Attempts))
	for _, at := range view.Attempts {
		rows = append(rows, []string{
			strconv.Itoa(at.RetryCount),
			at.Channel.String(),
			at.Status.String(),
			valueOrDash(at.CorrelationID),
			timeOrDash(at.SentAt),
			valueOrDash(at.ErrorMessage),
		})
	}
	attempts := renderTable(
		[]string{"#", "Channel", "Status", "Provider ID", "Sent", "Error"},
		rows,
		[]columnAlignment{alignRight},
	)
	return summary + "\n" + attempts
}
