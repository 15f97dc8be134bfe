package main

import (
	"fmt"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"github.com/spf13/cobra"
)

func newContactCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contact",
		Short: "Manage custodian contacts",
	}

	var name, custodian, phone string
	upsert := &cobra.Command{
		Use:   "upsert <subject-id>",
		Short: "Create or replace the custodian contact for a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(func(b *backend) error {
				contact := &domain.Contact{
					SubjectID:   args[0],
					SubjectName: name,
					CustodianID: custodian,
					PhoneNumber: phone,
				}
				if err := b.contacts().Upsert(cmd.Context(), contact); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Contact for subject %s saved\n", contact.SubjectID)
				return nil
			})
		},
	}
	upsert.Flags().StringVar(&name, "name", "", "Subject display name used in messages")
	upsert.Flags().StringVar(&custodian, "custodian", "", "Custodian identifier")
	upsert.Flags().StringVar(&phone, "phone", "", "Custodian phone number")
	_ = upsert.MarkFlagRequired("phone")

	cmd.AddCommand(upsert)
	return cmd
}
