package articulation

import (
	"fmt"
	"strings"
	"time"

	"civicbot/internal/types"
)

// =============================================================================
// PROMPT ASSEMBLER - marker instructions for the system prompt
// =============================================================================

// PromptContext holds everything the system prompt is rendered from.
type PromptContext struct {
	CityName  string                // Municipality the assistant answers for
	Locality  string                // Optional locality constraint for place searches
	Language  string                // Reply language, e.g. "es"
	Today     time.Time             // Current date, so the model can resolve "this weekend"
	MaxEvents int                   // How many event cards one answer should carry at most
	Documents []types.KnownDocument // Uploaded procedure PDFs the model may link
}

// BuildSystemPrompt renders the system instruction that teaches the model the marker grammar.
func BuildSystemPrompt(pc PromptContext) string {
	var sb strings.Builder

	city := pc.CityName
	if city == "" {
		city = "the city"
	}
	fmt.Fprintf(&sb, "You are the citizen assistant of %s. ", city)
	sb.WriteString("Answer questions about events, places and municipal procedures concisely and only with verified information.\n")
	if pc.Language != "" {
		fmt.Fprintf(&sb, "Reply in the language with code %q unless the citizen writes in another language.\n", pc.Language)
	}
	if !pc.Today.IsZero() {
		fmt.Fprintf(&sb, "Today is %s (%s). Never present events from other years as upcoming.\n",
			types.FormatDay(pc.Today), pc.Today.Weekday())
	}

	maxEvents := pc.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 10
	}

	sb.WriteString("\nSTRUCTURED CARDS. Besides prose, emit these markers exactly as written:\n")
	fmt.Fprintf(&sb, "- Event: %s{\"title\":\"...\",\"date\":\"YYYY-MM-DD\",\"endDate\":\"YYYY-MM-DD\",\"time\":\"...\",\"location\":\"...\",\"sourceUrl\":\"...\",\"sourceTitle\":\"...\"}%s\n",
		EventCardStart, EventCardEnd)
	fmt.Fprintf(&sb, "  title and date are required; at most %d event cards per answer.\n", maxEvents)
	fmt.Fprintf(&sb, "- Place: %s{\"name\":\"...\",\"searchQuery\":\"...\"}%s\n", PlaceCardStart, PlaceCardEnd)
	if pc.Locality != "" {
		fmt.Fprintf(&sb, "  searchQuery must include %q.\n", pc.Locality)
	}
	fmt.Fprintf(&sb, "- Map: %s<what to show on the map>%s (at most one per answer)\n", MapMarkerStart, MapMarkerEnd)
	fmt.Fprintf(&sb, "- Online procedure: %s{\"url\":\"...\",\"text\":\"...\"}%s\n", TelematicLinkStart, TelematicLinkEnd)

	if len(pc.Documents) > 0 {
		sb.WriteString("\nUPLOADED DOCUMENTS. When a procedure below answers the question, end your message with\n")
		fmt.Fprintf(&sb, "%s<procedure name>]\nusing one of these exact names:\n", DocumentLinkPrefix)
		for _, d := range pc.Documents {
			fmt.Fprintf(&sb, "- %s\n", d.ProcedureName)
		}
	}

	sb.WriteString("\nPut JSON inside markers on a single line. Do not invent places, dates or links.\n")
	return sb.String()
}

// MoreEventsPrompt builds the follow-up question used by "see more events",
// telling the model which event titles were already shown.
func MoreEventsPrompt(shownTitles []string) string {
	if len(shownTitles) == 0 {
		return "Show me more upcoming events."
	}
	return "Show me more upcoming events, excluding: " + strings.Join(shownTitles, "; ") + "."
}
