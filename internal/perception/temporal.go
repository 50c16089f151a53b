package perception

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"civicbot/internal/sanitize"
)

// Phrases are matched on lowercased, accent-folded text. Order is priority:
// "fin de semana" contains "semana", and a weekend question outranks a week one.
var temporalPatterns = []struct {
	kind     sanitize.WindowKind
	re       *regexp.Regexp
	relative bool // "next weekend" or "la semana que viene" is not this one
}{
	{sanitize.WindowThisWeekend, regexp.MustCompile(`\b(este fin de semana|el fin de semana|fin de semana|finde|this weekend|the weekend|weekend)\b`), true},
	{sanitize.WindowThisWeek, regexp.MustCompile(`\b(esta semana|this week)\b`), true},
	{sanitize.WindowTomorrow, regexp.MustCompile(`\b(manana|tomorrow)\b`), false},
	{sanitize.WindowToday, regexp.MustCompile(`\b(hoy|today|tonight|esta noche|esta tarde)\b`), false},
}

var (
	nextBefore = regexp.MustCompile(`\b(next|proxim[oa])\s+$`)
	nextAfter  = regexp.MustCompile(`^\s+(que viene|siguiente|proxim[oa])\b`)
)

// "mañana" is also "morning": these uses never mean tomorrow.
var morningReplacer = strings.NewReplacer(
	"pasado manana", " ",
	"esta manana", " hoy ",
	"por la manana", " ",
	"de la manana", " ",
)

// DetectTemporalWindow reports the time window a question asks about, if any.
func DetectTemporalWindow(question string) (sanitize.WindowKind, bool) {
	text := morningReplacer.Replace(foldAccents(strings.ToLower(question)))
	for _, p := range temporalPatterns {
		for _, m := range p.re.FindAllStringIndex(text, -1) {
			if p.relative && (nextBefore.MatchString(text[:m[0]]) || nextAfter.MatchString(text[m[1]:])) {
				continue
			}
			return p.kind, true
		}
	}
	return sanitize.WindowNone, false
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
