package utils

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateKeepsRunesWhole(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("unexpected truncate %q", got)
	}

	long := strings.Repeat("é", 600)
	got := Truncate(long, 1024)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune")
	}
	if len(got) > 1024 {
		t.Fatalf("expected at most 1024 bytes, got %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis, got %q", got[len(got)-8:])
	}

	if got := Truncate("abcdef", 2); got != ".." {
		t.Fatalf("tiny limits return a clipped ellipsis, got %q", got)
	}
}
