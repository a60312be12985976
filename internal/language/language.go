package language

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Word forms x/text does not parse on its own.
var byWord = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"russian":    "ru",
	"arabic":     "ar",
	"hindi":      "hi",
	"dutch":      "nl",
	"polish":     "pl",
	"swedish":    "sv",
	"danish":     "da",
	"norwegian":  "no",
	"finnish":    "fi",
}

// Parse resolves a tag, ISO 639 code or English language name.
func Parse(value string) (language.Tag, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return language.Und, fmt.Errorf("empty language")
	}
	if code, ok := byWord[strings.ToLower(value)]; ok {
		value = code
	}
	tag, err := language.Parse(value)
	if err != nil {
		return language.Und, fmt.Errorf("invalid language %q: %w", value, err)
	}
	return tag, nil
}

// Normalize returns the canonical BCP 47 form of value, or "" for blank input.
func Normalize(value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	tag, err := Parse(value)
	if err != nil {
		return "", err
	}
	return tag.String(), nil
}

// ToISO2 returns the two-letter base language, or "" when unknown.
func ToISO2(value string) string {
	tag, err := Parse(value)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	code := base.String()
	if len(code) != 2 {
		return ""
	}
	return code
}

// ToISO3 returns the ISO 639-2 code used in container metadata, "und" when unknown.
func ToISO3(value string) string {
	tag, err := Parse(value)
	if err != nil {
		return "und"
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "und"
	}
	return base.ISO3()
}

// DisplayName returns the English name of the language.
func DisplayName(value string) string {
	if strings.TrimSpace(value) == "" {
		return "Unknown"
	}
	tag, err := Parse(value)
	if err != nil {
		return strings.ToUpper(strings.TrimSpace(value))
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return tag.String()
}

// Tag parses value and falls back to language.Und.
func Tag(value string) language.Tag {
	tag, err := Parse(value)
	if err != nil {
		return language.Und
	}
	return tag
}
