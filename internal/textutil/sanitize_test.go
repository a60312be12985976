package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	if got := SanitizeFileName(` Film: Part 1/2? `); got != "Film- Part 1-2" {
		t.Fatalf("SanitizeFileName = %q", got)
	}
	if got := SanitizeToken("Job #12 (es)"); got != "job__12__es" {
		t.Fatalf("SanitizeToken = %q", got)
	}
	if got := SanitizeToken("  "); got != "unknown" {
		t.Fatalf("SanitizeToken blank = %q", got)
	}
}
