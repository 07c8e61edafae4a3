// ABOUTME: Renders committed assistant messages from Markdown to terminal text
// ABOUTME: Parses with goldmark and walks the AST, styling through an optional Theme

// Package markdown turns Markdown message content into plain terminal text.
//
// Block structure survives as layout (blank lines between blocks, "- " and
// "1. " list markers, indented code, "> " quotes); inline markup is dropped
// or routed through Theme so a caller can colour it.
package markdown

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Theme styles rendered spans. Nil fields leave text unchanged.
type Theme struct {
	Heading  func(string) string
	Strong   func(string) string
	Emphasis func(string) string
	Code     func(string) string
	Link     func(string) string
	Quote    func(string) string
}

func apply(f func(string) string, s string) string {
	if f == nil || s == "" {
		return s
	}
	return f(s)
}

// Renderer converts Markdown to terminal text.
type Renderer struct {
	md    goldmark.Markdown
	theme Theme
}

// New creates a renderer with the given theme.
func New(theme Theme) *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
		),
		theme: theme,
	}
}

var plain = New(Theme{})

// Render converts src without styling.
func Render(src string) string {
	return plain.Render(src)
}

// Render converts src to terminal text. The result has no trailing newline.
func (r *Renderer) Render(src string) string {
	source := []byte(src)
	doc := r.md.Parser().Parse(text.NewReader(source))
	w := &walker{source: source, theme: r.theme}
	return strings.TrimRight(w.blocks(doc, "\n\n"), "\n")
}

type walker struct {
	source []byte
	theme  Theme
}

// blocks renders the block children of n joined by sep.
func (w *walker) blocks(n ast.Node, sep string) string {
	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if s := w.block(c); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}

func (w *walker) block(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Heading:
		return apply(w.theme.Heading, w.inlines(n))

	case *ast.Paragraph, *ast.TextBlock:
		return w.inlines(n)

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return apply(w.theme.Code, indent(w.lines(n), "    "))

	case *ast.HTMLBlock:
		return w.lines(n)

	case *ast.ThematicBreak:
		return "----"

	case *ast.Blockquote:
		return apply(w.theme.Quote, prefixLines(w.blocks(n, "\n\n"), "> ", "> "))

	case *ast.List:
		return w.list(n)

	default:
		return w.blocks(n, "\n\n")
	}
}

func (w *walker) list(l *ast.List) string {
	itemSep, blockSep := "\n", "\n"
	if !l.IsTight {
		itemSep, blockSep = "\n\n", "\n\n"
	}

	var items []string
	num := l.Start
	for c := l.FirstChild(); c != nil; c = c.NextSibling() {
		marker := "- "
		if l.IsOrdered() {
			marker = fmt.Sprintf("%d. ", num)
			num++
		}
		body := w.blocks(c, blockSep)
		items = append(items, prefixLines(body, marker, strings.Repeat(" ", len(marker))))
	}
	return strings.Join(items, itemSep)
}

// lines returns the raw source lines of a leaf block.
func (w *walker) lines(n ast.Node) string {
	var buf bytes.Buffer
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		buf.Write(seg.Value(w.source))
	}
	return strings.TrimRight(buf.String(), "\n")
}

// inlines renders the inline children of n.
func (w *walker) inlines(n ast.Node) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		b.WriteString(w.inline(c))
	}
	return b.String()
}

func (w *walker) inline(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Text:
		s := string(n.Segment.Value(w.source))
		if n.SoftLineBreak() || n.HardLineBreak() {
			s += "\n"
		}
		return s

	case *ast.String:
		return string(n.Value)

	case *ast.CodeSpan:
		return apply(w.theme.Code, w.inlines(n))

	case *ast.Emphasis:
		if n.Level >= 2 {
			return apply(w.theme.Strong, w.inlines(n))
		}
		return apply(w.theme.Emphasis, w.inlines(n))

	case *ast.Link:
		return w.link(w.inlines(n), string(n.Destination))

	case *ast.Image:
		return w.link(w.inlines(n), string(n.Destination))

	case *ast.AutoLink:
		return apply(w.theme.Link, string(n.URL(w.source)))

	case *ast.RawHTML:
		var b strings.Builder
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			b.Write(seg.Value(w.source))
		}
		return b.String()

	default:
		return w.inlines(n)
	}
}

// link renders "label (url)", or just the url when they match.
func (w *walker) link(label, dest string) string {
	if dest == "" {
		return label
	}
	if label == "" || label == dest {
		return apply(w.theme.Link, dest)
	}
	return label + " (" + apply(w.theme.Link, dest) + ")"
}

func indent(s, pad string) string {
	return prefixLines(s, pad, pad)
}

// prefixLines prefixes the first line with first and the rest with rest.
// Empty lines get no trailing padding.
func prefixLines(s, first, rest string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		p := rest
		if i == 0 {
			p = first
		}
		if line == "" {
			lines[i] = strings.TrimRight(p, " ")
			continue
		}
		lines[i] = p + line
	}
	return strings.Join(lines, "\n")
}
