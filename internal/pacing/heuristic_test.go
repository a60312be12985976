package pacing

import (
	"testing"

	"golang.org/x/text/language"
)

func TestShortenConservative(t *testing.T) {
	tests := []struct {
		name string
		tag  language.Tag
		in   string
		want string
	}{
		{"fillers and repeats", language.English, "Um, so the the cat is, you know, here.", "So the cat is, here."},
		{"protected tokens", language.English, "Paris Paris no no 7 7", "Paris Paris no no 7 7"},
		{"trailing filler keeps period", language.English, "We go um.", "We go."},
		{"spanish", language.Spanish, "Bueno, o sea, no sé nada.", "No sé nada."},
		{"phrase across sentences", language.English, "Thank you. Know this.", "Thank you. Know this."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := newFolder(tc.tag).shorten(tc.in, false); got != tc.want {
				t.Fatalf("shorten(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestShortenAggressive(t *testing.T) {
	f := newFolder(language.English)
	got := f.shorten("It was really (as I said) very good (not 2).", true)
	if got != "It was good (not 2)." {
		t.Fatalf("aggressive = %q", got)
	}
}
