package articulation

// findJSONCandidates returns the top-level {...} objects found in s.
// Braces inside JSON strings (including escaped quotes) do not count toward depth,
// and a stray closing brace at depth zero is ignored.
//
// Iterating bytes is safe here: the delimiters are ASCII, and UTF-8 never
// reuses ASCII byte values inside multi-byte sequences.
func findJSONCandidates(s string) []string {
	var (
		candidates []string
		depth      int
		start      = -1
		inString   bool
		escaped    bool
	)

	for i := 0; i < len(s); i++ {
		b := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			// Quotes only open a string inside an object; prose apostrophes and quotes are skipped.
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				candidates = append(candidates, s[start:i+1])
				start = -1
			}
		}
	}

	return candidates
}
