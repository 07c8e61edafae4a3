// ABOUTME: Terminal rendering of conversations and messages
// ABOUTME: Committed messages go through the Markdown renderer with a colour theme

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/markdown"
)

var (
	userLabel      = color.New(color.FgCyan, color.Bold)
	assistantLabel = color.New(color.FgGreen, color.Bold)
	systemLabel    = color.New(color.FgYellow)
	dimText        = color.New(color.FgHiBlack)
	errorText      = color.New(color.FgRed)
)

func sprint(c *color.Color) func(string) string {
	return func(s string) string { return c.Sprint(s) }
}

func newMarkdownRenderer() *markdown.Renderer {
	return markdown.New(markdown.Theme{
		Heading:  sprint(color.New(color.FgHiWhite, color.Bold, color.Underline)),
		Strong:   sprint(color.New(color.Bold)),
		Emphasis: sprint(color.New(color.Italic)),
		Code:     sprint(color.New(color.FgYellow)),
		Link:     sprint(color.New(color.FgBlue, color.Underline)),
		Quote:    sprint(dimText),
	})
}

func roleLabel(role api.Role) string {
	switch role {
	case api.RoleUser:
		return userLabel.Sprint("you")
	case api.RoleAssistant:
		return assistantLabel.Sprint("assistant")
	default:
		return systemLabel.Sprint(string(role))
	}
}

// printMessage writes one message. Assistant replies are rendered as
// Markdown; user text is printed as typed.
func printMessage(w io.Writer, md *markdown.Renderer, m api.Message) {
	body := m.Content
	if m.Role == api.RoleAssistant && !m.Pending {
		body = md.Render(body)
	}
	fmt.Fprintf(w, "%s %s\n%s\n\n", roleLabel(m.Role), dimText.Sprint(formatTime(m.CreatedAt)), body)
}

func printHistory(w io.Writer, md *markdown.Renderer, msgs []api.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, dimText.Sprint("(no messages yet)"))
		return
	}
	for _, m := range msgs {
		printMessage(w, md, m)
	}
}

func printConversations(w io.Writer, convs []api.Conversation, active api.ID) {
	if len(convs) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tTITLE\tUPDATED")
	for _, c := range convs {
		marker := ""
		if c.ID == active {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", marker, c.ID, truncate(c.Title, 60), formatTime(c.UpdatedAt))
	}
	_ = tw.Flush()
}

func formatTime(t api.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(time.DateTime)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
