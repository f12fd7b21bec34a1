package attribution

import (
	"strings"
)

// NormalizeName canonicalizes a human name for cache keys and equality
// checks: lowercase, strip everything outside [a-z0-9 ], collapse runs of
// whitespace, trim. The same function is applied everywhere a name is
// compared or stored; diverging here would make cache lookups silently miss.
func NormalizeName(name string) string {
	lower := strings.ToLower(name)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '\t', r == '\n', r == '\r':
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
