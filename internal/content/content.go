package content

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"

	"warden-bot/internal/config"
)

//go:embed data/*.json
var defaults embed.FS

type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category,omitempty"`
}

type Rule struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Punishment  string `json:"punishment"`
}

// OutOfRangeError is returned for a lookup outside 1..Available.
type OutOfRangeError struct {
	Kind      string
	Number    int
	Available int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s #%d does not exist. Available %ss: 1-%d", e.Kind, e.Number, e.Kind, e.Available)
}

type Library struct {
	faqs  []FAQ
	rules []Rule
}

// Load reads the FAQ and rule lists from the configured files, falling back to
// the bundled ones for any path left empty.
func Load(cfg config.ContentConfig) (*Library, error) {
	lib := &Library{}
	if err := load(cfg.FAQPath, "data/faq.json", &lib.faqs); err != nil {
		return nil, fmt.Errorf("load faq: %w", err)
	}
	if err := load(cfg.RulesPath, "data/rules.json", &lib.rules); err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return lib, nil
}

func (l *Library) FAQ(number int) (FAQ, error) {
	if number < 1 || number > len(l.faqs) {
		return FAQ{}, &OutOfRangeError{Kind: "FAQ", Number: number, Available: len(l.faqs)}
	}
	return l.faqs[number-1], nil
}

func (l *Library) Rule(number int) (Rule, error) {
	if number < 1 || number > len(l.rules) {
		return Rule{}, &OutOfRangeError{Kind: "rule", Number: number, Available: len(l.rules)}
	}
	return l.rules[number-1], nil
}

func (l *Library) FAQCount() int  { return len(l.faqs) }
func (l *Library) RuleCount() int { return len(l.rules) }

func load(path, fallback string, out any) error {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = defaults.ReadFile(fallback)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
