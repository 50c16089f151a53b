package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"civicbot/internal/types"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	cardStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	linkStyle    = lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("33"))
)

// renderOptions controls terminal output.
type renderOptions struct {
	markdown bool // render prose through glamour
	width    int
}

// renderMessage formats a DisplayMessage for the terminal.
func renderMessage(msg types.DisplayMessage, opts renderOptions) string {
	if opts.width <= 0 {
		opts.width = 80
	}
	var sb strings.Builder

	text := msg.Text
	if opts.markdown && text != "" {
		if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(opts.width)); err == nil {
			if out, err := r.Render(text); err == nil {
				text = strings.TrimRight(out, "\n")
			}
		}
	}
	if text != "" {
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	if len(msg.Events) > 0 {
		sb.WriteString("\n" + headingStyle.Render("Events") + "\n")
		for _, ev := range msg.Events {
			sb.WriteString(cardStyle.Render(eventCard(ev)) + "\n")
		}
		if msg.HasMoreEvents {
			sb.WriteString(dimStyle.Render("More events available (civic ask --more).") + "\n")
		}
	}

	if len(msg.Places) > 0 {
		sb.WriteString("\n" + headingStyle.Render("Places") + "\n")
		for _, p := range msg.Places {
			sb.WriteString(cardStyle.Render(p.Name+"\n"+dimStyle.Render(p.SearchQuery)) + "\n")
		}
	}

	if msg.MapQuery != "" {
		sb.WriteString("\n" + headingStyle.Render("Map") + " " + msg.MapQuery + "\n")
	}
	if msg.DocumentLink != nil {
		sb.WriteString("\n" + headingStyle.Render("Document") + " " + msg.DocumentLink.Name + " " +
			linkStyle.Render(msg.DocumentLink.FileRef) + "\n")
	}
	if msg.TelematicLink != nil {
		sb.WriteString("\n" + headingStyle.Render("Online") + " " + msg.TelematicLink.Text + " " +
			linkStyle.Render(msg.TelematicLink.URL) + "\n")
	}
	return sb.String()
}

func eventCard(ev types.EventEntity) string {
	when := ev.Date
	if ev.IsRanged() {
		when += " → " + ev.EndDate
	}
	if ev.Time != "" {
		when += " · " + ev.Time
	}
	lines := []string{lipgloss.NewStyle().Bold(true).Render(ev.Title), when}
	if ev.Location != "" {
		lines = append(lines, ev.Location)
	}
	if ev.SourceURL != "" {
		src := ev.SourceURL
		if ev.SourceTitle != "" {
			src = ev.SourceTitle + " " + src
		}
		lines = append(lines, dimStyle.Render(src))
	}
	return strings.Join(lines, "\n")
}

func writeMessageJSON(w io.Writer, msg types.DisplayMessage) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(msg); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return nil
}
