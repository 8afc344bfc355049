package automod

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"warden-bot/internal/modules/audit"
	"warden-bot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func TestInspectWholeWords(t *testing.T) {
	module := New([]string{"darn", "heck"}, nil, nil, zap.NewNop())

	cases := map[string]bool{
		"well DARN it":     true,
		"what the heck!":   true,
		"darnation":        false,
		"checking the car": false,
		"":                 false,
	}
	for content, want := range cases {
		if got := module.Inspect(content).Flagged; got != want {
			t.Fatalf("%q: expected %v", content, want)
		}
	}
}

func TestInspectBlockedDomains(t *testing.T) {
	module := New(nil, []string{"scam.example"}, nil, zap.NewNop())

	verdict := module.Inspect("claim here https://gift.SCAM.example/free?utm_source=x")
	if !verdict.Flagged || verdict.Rule != "blocked_domain" || verdict.Match != "scam.example" {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
	if module.Inspect("https://example.org").Flagged {
		t.Fatalf("unrelated domain flagged")
	}
}

func TestLoadWords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badwords.txt")
	if err := os.WriteFile(path, []byte("// comment\nDarn\n\n  Frèt  \n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	words, err := LoadWords(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(words) != 2 || words[0] != "darn" || words[1] != "fret" {
		t.Fatalf("unexpected words: %v", words)
	}
}

func TestHandleMessageAuditOnly(t *testing.T) {
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	module := New([]string{"darn"}, nil, audit.NewLogger(store, zap.NewNop()), zap.NewNop())
	module.SetAuditOnly(true)

	msg := &discordgo.MessageCreate{Message: &discordgo.Message{ID: "1", ChannelID: "c1", GuildID: "g1", Author: &discordgo.User{ID: "u1"}, Content: "darn"}}
	if verdict := module.HandleMessage(context.Background(), &discordgo.Session{}, msg, "", ""); !verdict.Flagged {
		t.Fatalf("expected flag")
	}

	bot := &discordgo.MessageCreate{Message: &discordgo.Message{ID: "2", ChannelID: "c1", GuildID: "g1", Author: &discordgo.User{ID: "b1", Bot: true}, Content: "darn"}}
	if verdict := module.HandleMessage(context.Background(), &discordgo.Session{}, bot, "", ""); verdict.Flagged {
		t.Fatalf("bot messages are ignored")
	}
}

func TestAlertEmbedKeepsRunesWhole(t *testing.T) {
	msg := &discordgo.MessageCreate{Message: &discordgo.Message{ChannelID: "c1", Author: &discordgo.User{ID: "u1", Username: "deer"}, Content: strings.Repeat("é", 600)}}
	embed := AlertEmbed(msg, Verdict{Flagged: true, Rule: "banned_word", Match: "é"})

	var value string
	for _, field := range embed.Fields {
		if field.Name == "Message" {
			value = field.Value
		}
	}
	if !utf8.ValidString(value) {
		t.Fatalf("message field is not valid UTF-8")
	}
	if len(value) > 1024 {
		t.Fatalf("message field exceeds 1024 bytes: %d", len(value))
	}
	if !strings.HasSuffix(value, "...") {
		t.Fatalf("expected truncation marker")
	}
}
