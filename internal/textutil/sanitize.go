package textutil

import (
	"strings"
	"unicode"
)

// SanitizeFileName makes a source title safe to use as an output file name.
// Path separators, colons and asterisks become dashes; quotes, wildcards and
// redirection characters are dropped.
func SanitizeFileName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*':
			return '-'
		case '?', '"', '<', '>', '|':
			return -1
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(mapped)
}

// SanitizeToken lowercases value and replaces anything outside [a-z0-9_-]
// with an underscore. Blank input yields "unknown".
func SanitizeToken(value string) string {
	token := strings.Map(func(r rune) rune {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, strings.TrimSpace(value))
	token = strings.Trim(token, "_-")
	if token == "" {
		return "unknown"
	}
	return token
}
