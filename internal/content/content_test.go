package content

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"warden-bot/internal/config"
)

func TestBundledContent(t *testing.T) {
	lib, err := Load(config.ContentConfig{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if lib.FAQCount() == 0 || lib.RuleCount() == 0 {
		t.Fatalf("expected bundled content")
	}

	rule, err := lib.Rule(1)
	if err != nil {
		t.Fatalf("rule 1: %v", err)
	}
	if rule.Severity == "" || rule.Punishment == "" {
		t.Fatalf("rule missing footer fields: %+v", rule)
	}
}

func TestOutOfRange(t *testing.T) {
	lib, err := Load(config.ContentConfig{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	_, err = lib.FAQ(0)
	var rangeErr *OutOfRangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("expected out of range error, got %v", err)
	}

	_, err = lib.Rule(lib.RuleCount() + 1)
	if !errors.As(err, &rangeErr) {
		t.Fatalf("expected out of range error, got %v", err)
	}
	want := "rule #7 does not exist. Available rules: 1-6"
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faq.json")
	if err := os.WriteFile(path, []byte(`[{"question":"Q?","answer":"A."}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	lib, err := Load(config.ContentConfig{FAQPath: path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	faq, err := lib.FAQ(1)
	if err != nil {
		t.Fatalf("faq 1: %v", err)
	}
	if faq.Question != "Q?" || faq.Category != "" {
		t.Fatalf("unexpected faq: %+v", faq)
	}
	if lib.RuleCount() == 0 {
		t.Fatalf("rules should fall back to bundled data")
	}
}
