package articulation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Span is one START...END occurrence in the scanned text.
// Start and End are byte offsets of the full span including both markers.
type Span struct {
	Start   int
	End     int
	Payload string
}

// DelimiterScanner finds literal START...END pairs. Matching is non-greedy:
// each START pairs with the first END after it, and scanning resumes after
// that END. A START with no END is left alone.
type DelimiterScanner struct {
	Start string
	End   string
}

// Scan returns every occurrence in text, in order.
func (d DelimiterScanner) Scan(text string) []Span {
	var spans []Span
	offset := 0
	for offset < len(text) {
		i := strings.Index(text[offset:], d.Start)
		if i < 0 {
			break
		}
		open := offset + i
		inner := open + len(d.Start)
		j := strings.Index(text[inner:], d.End)
		if j < 0 {
			break
		}
		end := inner + j + len(d.End)
		spans = append(spans, Span{Start: open, End: end, Payload: text[inner : inner+j]})
		offset = end
	}
	return spans
}

// First returns the first occurrence using plain index lookups.
func (d DelimiterScanner) First(text string) (Span, bool) {
	open := strings.Index(text, d.Start)
	if open < 0 {
		return Span{}, false
	}
	inner := open + len(d.Start)
	j := strings.Index(text[inner:], d.End)
	if j < 0 {
		return Span{}, false
	}
	return Span{Start: open, End: inner + j + len(d.End), Payload: text[inner : inner+j]}, true
}

// removeSpans deletes each span from text exactly once. Spans must be sorted and non-overlapping,
// which is what Scan produces.
func removeSpans(text string, spans []Span) string {
	if len(spans) == 0 {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text))
	prev := 0
	for _, sp := range spans {
		sb.WriteString(text[prev:sp.Start])
		prev = sp.End
	}
	sb.WriteString(text[prev:])
	return sb.String()
}

// =============================================================================
// PAYLOAD DECODING
// =============================================================================

// Outcome classifies one marker occurrence.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeMalformed
	OutcomeMissingFields
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeMissingFields:
		return "missing_fields"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Occurrence is the decoded result of one span. Value is only meaningful when Outcome is OutcomeOK.
type Occurrence[T any] struct {
	Span    Span
	Value   T
	Outcome Outcome
	Err     error
}

// errMissingFields marks a payload that parsed but failed validation.
var errMissingFields = errors.New("missing required fields")

// ScanPayloads runs sc over text and decodes every payload as a T.
// validate normalizes the value in place and returns an error when required fields are absent.
// A bad payload only affects its own occurrence.
func ScanPayloads[T any](text string, sc DelimiterScanner, validate func(*T) error) []Occurrence[T] {
	spans := sc.Scan(text)
	out := make([]Occurrence[T], 0, len(spans))
	for _, sp := range spans {
		occ := Occurrence[T]{Span: sp}
		var v T
		if err := decodePayload(sp.Payload, &v); err != nil {
			occ.Outcome = OutcomeMalformed
			occ.Err = err
		} else if validate != nil {
			if err := validate(&v); err != nil {
				occ.Outcome = OutcomeMissingFields
				occ.Err = err
			}
		}
		if occ.Outcome == OutcomeOK {
			occ.Value = v
		}
		out = append(out, occ)
	}
	return out
}

// decodePayload cleans a raw payload and unmarshals it into v.
// When the payload has prose around the object, the first balanced {...} candidate is tried.
func decodePayload(raw string, v interface{}) error {
	payload := stripCodeFence(stripCitations(raw))
	if payload == "" {
		return errors.New("empty payload")
	}

	err := json.Unmarshal([]byte(payload), v)
	if err == nil {
		return nil
	}

	candidates := findJSONCandidates(payload)
	if len(candidates) == 1 && candidates[0] != payload {
		if cerr := json.Unmarshal([]byte(candidates[0]), v); cerr == nil {
			return nil
		}
	}
	return fmt.Errorf("invalid JSON payload: %w", err)
}
