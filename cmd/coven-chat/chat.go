// ABOUTME: Interactive chat REPL: line editing, slash commands and streamed replies
// ABOUTME: Ctrl+C while a reply streams cancels that turn; at the prompt it exits

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/journal"
	"github.com/2389/coven-chat/internal/markdown"
)

const chatHelp = `Commands:
  /list              list conversations
  /new [title]       start a new conversation
  /switch <id>       open another conversation
  /rename <title>    rename the current conversation
  /delete            delete the current conversation
  /history           print the current conversation again
  /help              show this help
  /quit              leave (Ctrl+D works too)

Anything else is sent as a message. Ctrl+C stops a reply while it streams.`

type chatOptions struct {
	conversationID string
	startNew       bool
	title          string
}

// chatSession is the REPL state. It has no terminal dependency so tests can
// drive it line by line.
type chatSession struct {
	store    *conversation.Store
	streamer *conversation.Streamer
	md       *markdown.Renderer
	out      io.Writer
	logger   *slog.Logger

	// interrupt derives the context of one streamed turn
	interrupt func(context.Context) (context.Context, context.CancelFunc)
}

func newChatCmd(a *app) *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), a, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.conversationID, "conversation", "C", "", "open this conversation (default: most recent)")
	cmd.Flags().BoolVarP(&opts.startNew, "new", "n", false, "start a new conversation")
	cmd.Flags().StringVarP(&opts.title, "title", "t", "", "title for a new conversation")
	return cmd
}

func runChat(ctx context.Context, a *app, opts chatOptions) error {
	var streamerOpts []conversation.StreamerOption
	streamerOpts = append(streamerOpts, conversation.WithIdleTimeout(a.cfg.Stream.IdleTimeout))
	if a.cfg.Journal.Enabled {
		j, err := journal.Open(a.cfg.Journal.Path, a.logger)
		if err != nil {
			return err
		}
		defer j.Close()
		streamerOpts = append(streamerOpts, conversation.WithTurnRecorder(j))
	}

	store := a.newStore()
	defer store.Close()

	cs := &chatSession{
		store:    store,
		streamer: conversation.NewStreamer(store, conversation.ClientOpener(a.client), a.logger, streamerOpts...),
		md:       newMarkdownRenderer(),
		out:      a.out,
		logger:   a.logger,
		interrupt: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
	}
	defer cs.streamer.Cancel()

	if err := cs.open(ctx, opts); err != nil {
		return err
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyFile := filepath.Join(filepath.Dir(a.cfg.Session.File), "chat_history")
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = line.WriteHistory(f)
			_ = f.Close()
		}
	}()

	fmt.Fprintln(cs.out, dimText.Sprint("Type /help for commands."))
	for {
		input, err := line.Prompt(cs.prompt())
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or a closed stdin all end the session
			fmt.Fprintln(cs.out)
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		quit, err := cs.handleLine(ctx, input)
		if err != nil {
			fmt.Fprintf(cs.out, "%s %v\n", errorText.Sprint("error:"), err)
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
}

// open selects the starting conversation.
func (cs *chatSession) open(ctx context.Context, opts chatOptions) error {
	convs, err := cs.store.ListConversations(ctx)
	if err != nil {
		return err
	}

	var id api.ID
	switch {
	case opts.startNew || opts.title != "":
		conv, err := cs.store.CreateConversation(ctx, opts.title)
		if err != nil {
			return err
		}
		id = conv.ID
	case opts.conversationID != "":
		id = api.ID(opts.conversationID)
	case len(convs) > 0:
		id = convs[0].ID
	}

	if id == "" {
		fmt.Fprintln(cs.out, dimText.Sprint("No conversations yet; your first message starts one."))
		return nil
	}
	return cs.switchTo(ctx, id)
}

func (cs *chatSession) switchTo(ctx context.Context, id api.ID) error {
	if err := cs.store.SetActiveConversation(ctx, id); err != nil {
		return err
	}
	snap := cs.store.Snapshot()
	fmt.Fprintf(cs.out, "%s\n\n", assistantLabel.Sprintf("== %s ==", titleOf(snap, id)))
	printHistory(cs.out, cs.md, snap.Messages)
	return nil
}

func titleOf(snap conversation.Snapshot, id api.ID) string {
	for _, c := range snap.Conversations {
		if c.ID == id {
			return c.Title
		}
	}
	return string(id)
}

func (cs *chatSession) prompt() string {
	snap := cs.store.Snapshot()
	if snap.ActiveID == "" {
		return "> "
	}
	return truncate(titleOf(snap, snap.ActiveID), 24) + "> "
}

// handleLine runs one line of input and reports whether to quit.
func (cs *chatSession) handleLine(ctx context.Context, input string) (bool, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return false, nil
	}
	if !strings.HasPrefix(input, "/") {
		return false, cs.send(ctx, input)
	}

	command, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	active := cs.store.ActiveID()

	switch command {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Fprintln(cs.out, chatHelp)

	case "/list":
		convs, err := cs.store.ListConversations(ctx)
		if err != nil {
			return false, err
		}
		printConversations(cs.out, convs, cs.store.ActiveID())

	case "/new":
		conv, err := cs.store.CreateConversation(ctx, arg)
		if err != nil {
			return false, err
		}
		return false, cs.switchTo(ctx, conv.ID)

	case "/switch", "/open":
		if arg == "" {
			return false, errors.New("usage: /switch <id>")
		}
		return false, cs.switchTo(ctx, api.ID(arg))

	case "/rename":
		if active == "" {
			return false, errors.New("no active conversation")
		}
		if err := cs.store.RenameConversation(ctx, active, arg); err != nil {
			return false, err
		}
		fmt.Fprintf(cs.out, "Renamed to %q\n", arg)

	case "/delete":
		if active == "" {
			return false, errors.New("no active conversation")
		}
		if err := cs.store.DeleteConversation(ctx, active); err != nil {
			return false, err
		}
		fmt.Fprintln(cs.out, "Deleted. Use /list and /switch, or /new.")

	case "/history":
		if active == "" {
			return false, errors.New("no active conversation")
		}
		if err := cs.store.RefreshMessages(ctx); err != nil {
			return false, err
		}
		printHistory(cs.out, cs.md, cs.store.Snapshot().Messages)

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", command)
	}
	return false, nil
}

// send posts a user message and streams the reply.
func (cs *chatSession) send(ctx context.Context, content string) error {
	id := cs.store.ActiveID()
	if id == "" {
		conv, err := cs.store.CreateConversation(ctx, "")
		if err != nil {
			return err
		}
		if err := cs.store.SetActiveConversation(ctx, conv.ID); err != nil {
			return err
		}
		id = conv.ID
	}

	if _, err := cs.store.PostUserMessage(ctx, id, content); err != nil {
		return err
	}
	return cs.reply(ctx, id)
}

// reply streams one assistant turn to the terminal. Fragments are printed
// as the store reports them; the store is reconciled before it returns.
func (cs *chatSession) reply(ctx context.Context, id api.ID) error {
	turnCtx, stop := cs.interrupt(ctx)
	defer stop()

	changes := cs.store.Subscribe(turnCtx)
	sess, err := cs.streamer.Begin(turnCtx, id)
	if err != nil {
		return err
	}

	fmt.Fprintln(cs.out, roleLabel(api.RoleAssistant))
	printed := 0
	flush := func() {
		buf := sess.Buffer()
		if len(buf) > printed {
			fmt.Fprint(cs.out, buf[printed:])
			printed = len(buf)
		}
	}

	for waiting := true; waiting; {
		select {
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			flush()
		case <-sess.Done():
			flush()
			waiting = false
		}
	}
	fmt.Fprint(cs.out, "\n\n")

	res := sess.Result()
	switch res.Outcome {
	case conversation.OutcomeCancelled:
		fmt.Fprintln(cs.out, dimText.Sprint("[stopped]"))
	case conversation.OutcomeError:
		fmt.Fprintf(cs.out, "%s %v\n", errorText.Sprint("[reply failed]"), res.Err)
	}
	if res.ReconcileErr != nil {
		cs.logger.Warn("could not refresh the conversation", "error", res.ReconcileErr)
	}
	return nil
}
