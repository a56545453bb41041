package archive

import "strings"

// SanitizeIdentifier normalizes a raw string into a valid Internet Archive
// item identifier: lowercased, every rune outside [a-z0-9-.] replaced with
// '-', and leading non-alphanumeric runes stripped. The function is
// idempotent: SanitizeIdentifier(SanitizeIdentifier(s)) == SanitizeIdentifier(s).
func SanitizeIdentifier(raw string) string {
	lower := strings.ToLower(raw)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}

	out := b.String()
	for len(out) > 0 {
		r := out[0]
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			break
		}
		out = out[1:]
	}
	return out
}
