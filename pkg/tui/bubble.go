package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/papercomputeco/parley/pkg/chat"
)

// bubble is one rendered message of the thread.
type bubble struct {
	role    chat.Role
	content string

	// pending marks the assistant bubble receiving fragments.
	pending bool

	// failed marks a user message whose send did not complete.
	failed bool
}

// bubble borders and padding take this many columns.
const bubbleChrome = 4

// renderThread lays the bubbles out for a viewport width: user messages
// on the right, assistant messages on the left.
func renderThread(bubbles []bubble, width int, md *glamour.TermRenderer) string {
	if width <= bubbleChrome {
		width = bubbleChrome + 1
	}
	maxContent := width*3/4 - bubbleChrome
	if maxContent < 10 {
		maxContent = width - bubbleChrome
	}

	blocks := make([]string, 0, len(bubbles))
	for _, b := range bubbles {
		blocks = append(blocks, renderBubble(b, width, maxContent, md))
	}
	return strings.Join(blocks, "\n")
}

func renderBubble(b bubble, width, maxContent int, md *glamour.TermRenderer) string {
	switch b.role {
	case chat.RoleUser:
		style := userBubbleStyle
		if b.failed {
			style = failedBubbleStyle
		}
		box := style.Render(ansi.Wrap(b.content, maxContent, ""))
		if b.failed {
			box = lipgloss.JoinVertical(lipgloss.Right, box, errorStyle.Render("not sent · ctrl+r to retry"))
		}
		return lipgloss.PlaceHorizontal(width, lipgloss.Right, box)

	default:
		content := b.content
		switch {
		case b.pending && content == "":
			content = dimStyle.Render("…")
		case b.pending:
			// Partial markdown renders badly; show raw text until complete.
			content = ansi.Wrap(content, maxContent, "")
		default:
			content = renderMarkdown(md, content, maxContent)
		}
		return assistantBubbleStyle.Render(content)
	}
}

func renderMarkdown(md *glamour.TermRenderer, content string, maxContent int) string {
	if md == nil {
		return ansi.Wrap(content, maxContent, "")
	}
	out, err := md.Render(content)
	if err != nil {
		return ansi.Wrap(content, maxContent, "")
	}
	return strings.Trim(out, "\n")
}

// markdownStyle picks the glamour style for the terminal's colour profile
// and background. It queries the terminal, so call it before the program
// takes over input.
func markdownStyle() string {
	switch {
	case termenv.EnvColorProfile() == termenv.Ascii:
		return "notty"
	case !termenv.HasDarkBackground():
		return "light"
	default:
		return "dark"
	}
}

// newMarkdownRenderer builds a renderer wrapping at width.
func newMarkdownRenderer(style string, width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return r
}
