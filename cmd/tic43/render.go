package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/term"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// isTTY reports whether stdout is a terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// configureColor turns colors off for --plain or when stdout is redirected.
func configureColor(plain bool) {
	if plain || !isTTY() {
		color.NoColor = true
	}
}

// MarkdownRenderer renders markdown for the terminal.
type MarkdownRenderer struct {
	renderer *glamour.TermRenderer
}

// NewMarkdownRenderer returns nil when output is plain, in which case
// content is printed as is.
func NewMarkdownRenderer(plain bool) *MarkdownRenderer {
	if plain || !isTTY() {
		return nil
	}

	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w - 4
		if width > 120 {
			width = 120
		}
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return &MarkdownRenderer{renderer: renderer}
}

// Render returns content rendered as markdown, or content itself when
// rendering is off or fails.
func (mr *MarkdownRenderer) Render(content string) string {
	if mr == nil || content == "" {
		return content
	}
	rendered, err := mr.renderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// lineDiff returns a line-oriented diff of before and after with "+", "-"
// and " " prefixes. Unchanged runs longer than 2*context lines are elided.
func lineDiff(before, after string, context int) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	for i, d := range diffs {
		text := strings.TrimSuffix(d.Text, "\n")
		if text == "" && d.Type == diffmatchpatch.DiffEqual {
			continue
		}
		chunk := strings.Split(text, "\n")
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			for _, l := range chunk {
				sb.WriteString(green("+ " + l))
				sb.WriteByte('\n')
			}
		case diffmatchpatch.DiffDelete:
			for _, l := range chunk {
				sb.WriteString(red("- " + l))
				sb.WriteByte('\n')
			}
		case diffmatchpatch.DiffEqual:
			head, tail := context, context
			if i == 0 {
				head = 0
			}
			if i == len(diffs)-1 {
				tail = 0
			}
			if len(chunk) > head+tail {
				for _, l := range chunk[:head] {
					sb.WriteString("  " + l + "\n")
				}
				sb.WriteString(gray(fmt.Sprintf("  ... %d unchanged lines", len(chunk)-head-tail)))
				sb.WriteByte('\n')
				for _, l := range chunk[len(chunk)-tail:] {
					sb.WriteString("  " + l + "\n")
				}
				continue
			}
			for _, l := range chunk {
				sb.WriteString("  " + l + "\n")
			}
		}
	}
	return sb.String()
}

func section(w io.Writer, title string) {
	bar := strings.Repeat("=", 30)
	fmt.Fprintf(w, "%s %s %s\n", gray(bar), bold(title), gray(bar))
}
