package bot

import (
	"testing"
	"time"
)

func TestParseSanctionDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"1h":  time.Hour,
		"12h": 12 * time.Hour,
		"1d":  24 * time.Hour,
		"7d":  7 * 24 * time.Hour,
	}
	for value, want := range cases {
		got, err := parseSanctionDuration(value, false)
		if err != nil {
			t.Fatalf("%s: %v", value, err)
		}
		if got != want {
			t.Fatalf("%s: expected %s, got %s", value, want, got)
		}
	}

	if d, err := parseSanctionDuration("permanent", true); err != nil || d != 0 {
		t.Fatalf("permanent should be allowed for mutes: %v %v", d, err)
	}
	if _, err := parseSanctionDuration("permanent", false); err == nil {
		t.Fatalf("permanent must be rejected for tempbans")
	}
	if _, err := parseSanctionDuration("2w", true); err == nil {
		t.Fatalf("durations outside the choice set must be rejected")
	}
}
