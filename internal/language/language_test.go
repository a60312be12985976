package language

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"es", "es"},
		{"EN", "en"},
		{"pt-br", "pt-BR"},
		{"spa", "es"},
		{"Spanish", "es"},
		{"", ""},
	}
	for _, tc := range tests {
		got, err := Normalize(tc.input)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", tc.input, err)
		}
		if got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
	if _, err := Normalize("not a language!"); err == nil {
		t.Fatal("expected invalid tag to fail")
	}
}

func TestISOProjections(t *testing.T) {
	tests := []struct {
		input string
		iso2  string
		iso3  string
	}{
		{"es", "es", "spa"},
		{"en-US", "en", "eng"},
		{"japanese", "ja", "jpn"},
		{"fra", "fr", "fra"},
		{"???", "", "und"},
	}
	for _, tc := range tests {
		if got := ToISO2(tc.input); got != tc.iso2 {
			t.Errorf("ToISO2(%q) = %q, want %q", tc.input, got, tc.iso2)
		}
		if got := ToISO3(tc.input); got != tc.iso3 {
			t.Errorf("ToISO3(%q) = %q, want %q", tc.input, got, tc.iso3)
		}
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("es"); got != "Spanish" {
		t.Fatalf("DisplayName(es) = %q", got)
	}
	if got := DisplayName(""); got != "Unknown" {
		t.Fatalf("DisplayName(\"\") = %q", got)
	}
}
