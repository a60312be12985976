package textutil

import (
	"strings"
	"unicode"
)

// cjkWeight is the word weight of one Han, Hiragana, Katakana or Hangul rune.
const cjkWeight = 0.5

// IsCJK reports whether r is written without word separators.
func IsCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// Fields splits text on whitespace and strips surrounding punctuation from
// each token. Tokens that are pure punctuation are dropped.
func Fields(text string) []string {
	raw := strings.Fields(text)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if core := Core(tok); core != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Core returns tok without leading and trailing punctuation.
func Core(tok string) string {
	return strings.TrimFunc(tok, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

// WordCount returns the spoken word weight of text. Space-separated words
// count 1; CJK runes count cjkWeight each, and a token mixing both counts its
// non-CJK runs as words.
func WordCount(text string) float64 {
	var total float64
	for _, tok := range strings.Fields(text) {
		inWord := false
		for _, r := range tok {
			switch {
			case IsCJK(r):
				total += cjkWeight
				inWord = false
			case unicode.IsLetter(r) || unicode.IsDigit(r):
				if !inWord {
					total++
					inWord = true
				}
			default:
				if r != '\'' && r != '-' {
					inWord = false
				}
			}
		}
	}
	return total
}

// HasDigit reports whether s contains a decimal digit.
func HasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
