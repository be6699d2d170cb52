package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// terminalWidth returns the current terminal column count, falling back to
// 80 when stdout isn't a TTY (piped output, redirected to a file).
func terminalWidth() int {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return 80
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// renderMarkdown renders body as Markdown for terminal display, matching
// the color profile termenv detects for the current terminal (falling
// back to a plain, ANSI-free render when stdout isn't a color terminal or
// output is piped).
func renderMarkdown(body string) (string, error) {
	if termenv.NewOutput(os.Stdout).Profile == termenv.Ascii {
		return body, nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(terminalWidth()-4),
	)
	if err != nil {
		return "", fmt.Errorf("building markdown renderer: %w", err)
	}
	out, err := r.Render(body)
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return out, nil
}
