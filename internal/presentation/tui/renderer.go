package tui

import (
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a markdown renderer for agent utterances in the
// terminal chat. Falls back to raw text when the renderer cannot be
// built (e.g. no TTY).
func NewRenderer() func(string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return func(markdown string) string { return markdown }
	}
	return func(markdown string) string {
		out, err := r.Render(markdown)
		if err != nil {
			return markdown
		}
		return out
	}
}
