package util

import "testing"

func TestSanitizeFileName(t *testing.T) {
	got, err := SanitizeFileName(" original_chart.png ")
	if err != nil || got != "original_chart.png" {
		t.Fatalf("unexpected result %q, %v", got, err)
	}
	got, err = SanitizeFileName("a/b\\c.png")
	if err != nil || got != "a_b_c.png" {
		t.Fatalf("expected separators replaced, got %q, %v", got, err)
	}
	for _, bad := range []string{"", "  ", "../x.png"} {
		if _, err := SanitizeFileName(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestContentTypeForName(t *testing.T) {
	cases := map[string]string{
		"original_chart.png": "image/png",
		"ANNOTATED.PNG":      "image/png",
		"analysis.json":      "application/json",
		"shot.jpeg":          "image/jpeg",
		"notes.txt":          "application/octet-stream",
	}
	for name, want := range cases {
		if got := ContentTypeForName(name); got != want {
			t.Fatalf("ContentTypeForName(%q) = %q, want %q", name, got, want)
		}
	}
}
