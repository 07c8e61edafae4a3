// ABOUTME: Admin subcommands for reviewing pending registrations
// ABOUTME: Lists pending accounts and approves or denies them by id

package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2389/coven-chat/internal/api"
)

func newAdminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Review account registrations (admins only)",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "pending",
			Short: "List accounts awaiting approval",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				users, err := a.client.ListPendingUsers(cmd.Context())
				if err != nil {
					return err
				}
				if len(users) == 0 {
					fmt.Fprintln(a.out, "No pending accounts.")
					return nil
				}
				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tEMAIL\tREGISTERED")
				for _, u := range users {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", u.ID, u.Email, formatTime(u.CreatedAt))
				}
				return tw.Flush()
			},
		},
		reviewCmd(a, "approve", "approved", "Approve a pending account", (*api.Client).ApproveUser),
		reviewCmd(a, "deny", "denied", "Deny a pending account", (*api.Client).DenyUser),
	)
	return cmd
}

func reviewCmd(a *app, verb, done, short string, action func(*api.Client, context.Context, api.ID) error) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <user-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if err := action(a.client, cmd.Context(), api.ID(id)); err != nil {
					return fmt.Errorf("%s %s: %w", verb, id, err)
				}
				fmt.Fprintf(a.out, "%s: %s\n", id, done)
			}
			return nil
		},
	}
}
