package articulation

import (
	"regexp"
	"strings"
)

// =============================================================================
// MARKER GRAMMAR - the contract with the system prompt
// =============================================================================
// These literals are reproduced verbatim in BuildSystemPrompt. Changing one
// here without changing the prompt breaks extraction silently.

const (
	EventCardStart = "[EVENT_CARD_START]"
	EventCardEnd   = "[EVENT_CARD_END]"

	PlaceCardStart = "[PLACE_CARD_START]"
	PlaceCardEnd   = "[PLACE_CARD_END]"

	TelematicLinkStart = "[TECA_LINK_BUTTON_START]"
	TelematicLinkEnd   = "[TECA_LINK_BUTTON_END]"

	MapMarkerStart = "[SHOW_MAP:"
	MapMarkerEnd   = "]"

	DocumentLinkPrefix = "[PROVIDE_DOWNLOAD_LINK_FOR_UPLOADED_PDF:"
)

var (
	eventScanner     = DelimiterScanner{Start: EventCardStart, End: EventCardEnd}
	placeScanner     = DelimiterScanner{Start: PlaceCardStart, End: PlaceCardEnd}
	telematicScanner = DelimiterScanner{Start: TelematicLinkStart, End: TelematicLinkEnd}
	mapScanner       = DelimiterScanner{Start: MapMarkerStart, End: MapMarkerEnd}

	// The document marker is only recognized as the last thing in the message.
	documentLinkPattern = regexp.MustCompile(regexp.QuoteMeta(DocumentLinkPrefix) + `([^\]\r\n]+)\][ \t\r\n]*$`)

	// Trailing grounding citation the model sometimes appends inside a payload.
	citationPattern = regexp.MustCompile(`\s*\[CITE:\s*\d+\]%?\s*$`)

	excessNewlines = regexp.MustCompile(`\n{3,}`)
)

// stripCitations removes any number of trailing [CITE: n] artifacts.
func stripCitations(payload string) string {
	for {
		stripped := citationPattern.ReplaceAllString(payload, "")
		if stripped == payload {
			return payload
		}
		payload = stripped
	}
}

// stripCodeFence removes a markdown ``` fence the model wrapped around a payload.
func stripCodeFence(payload string) string {
	s := strings.TrimSpace(payload)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// tidyDisplayText collapses the blank runs left behind by removed markers.
func tidyDisplayText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = excessNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
