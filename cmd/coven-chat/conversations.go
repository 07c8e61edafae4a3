// ABOUTME: Conversation subcommands: list, create, rename and delete
// ABOUTME: Each runs through conversation.Store so the server stays the source of truth

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/conversation"
)

func (a *app) newStore() *conversation.Store {
	return conversation.NewStore(a.client, a.logger,
		conversation.WithSubscriberBuffer(a.cfg.Stream.SubscriberBuffer))
}

func newConversationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"convs"},
		Short:   "Manage conversations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List conversations, most recently updated first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store := a.newStore()
				defer store.Close()
				convs, err := store.ListConversations(cmd.Context())
				if err != nil {
					return err
				}
				printConversations(a.out, convs, "")
				return nil
			},
		},
		&cobra.Command{
			Use:   "create [title]",
			Short: "Create a conversation",
			RunE: func(cmd *cobra.Command, args []string) error {
				store := a.newStore()
				defer store.Close()
				conv, err := store.CreateConversation(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Created conversation %s %q\n", conv.ID, conv.Title)
				return nil
			},
		},
		&cobra.Command{
			Use:   "rename <id> <title>",
			Short: "Rename a conversation",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				store := a.newStore()
				defer store.Close()
				title := strings.Join(args[1:], " ")
				if err := store.RenameConversation(cmd.Context(), api.ID(args[0]), title); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Renamed conversation %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a conversation and its messages",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store := a.newStore()
				defer store.Close()
				if err := store.DeleteConversation(cmd.Context(), api.ID(args[0])); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Deleted conversation %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print a conversation's messages",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store := a.newStore()
				defer store.Close()
				if err := store.SetActiveConversation(cmd.Context(), api.ID(args[0])); err != nil {
					return err
				}
				printHistory(a.out, newMarkdownRenderer(), store.Snapshot().Messages)
				return nil
			},
		},
	)
	return cmd
}
