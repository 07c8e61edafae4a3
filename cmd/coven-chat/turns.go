// ABOUTME: turns subcommand listing the local journal of assistant replies
// ABOUTME: Reads the SQLite journal written by the chat command

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/journal"
)

func newTurnsCmd(a *app) *cobra.Command {
	var opts struct {
		limit          int
		conversationID string
	}
	cmd := &cobra.Command{
		Use:   "turns",
		Short: "Show recently finished assistant replies from the local journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.cfg.Journal.Path
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintln(a.out, "No journal yet. Set journal.enabled in the config to record turns.")
				return nil
			}

			j, err := journal.Open(path, a.logger)
			if err != nil {
				return err
			}
			defer j.Close()

			var entries []journal.Entry
			if opts.conversationID != "" {
				entries, err = j.ForConversation(cmd.Context(), api.ID(opts.conversationID), opts.limit)
			} else {
				entries, err = j.Recent(cmd.Context(), opts.limit)
			}
			if err != nil {
				return err
			}
			printTurns(a, entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", journal.DefaultLimit, "number of turns to show")
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "only show turns of this conversation")
	return cmd
}

func printTurns(a *app, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "No turns recorded.")
		return
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDED\tCONVERSATION\tOUTCOME\tFRAGMENTS\tBYTES\tDURATION\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			e.EndedAt.Local().Format(time.DateTime),
			e.ConversationID,
			e.Outcome,
			e.Fragments,
			e.Bytes,
			e.Duration().Round(time.Millisecond),
			truncate(e.Error, 50),
		)
	}
	_ = tw.Flush()
}
