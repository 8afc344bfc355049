package automod

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"warden-bot/internal/modules/audit"
	"warden-bot/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Verdict struct {
	Flagged bool
	Rule    string
	Match   string
}

type Module struct {
	words     *regexp.Regexp
	blocked   map[string]struct{}
	auditOnly bool
	audit     *audit.Logger
	logger    *zap.Logger
}

func New(words, blockedDomains []string, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	return &Module{
		words:   compileWords(words),
		blocked: utils.DomainSet(blockedDomains),
		audit:   auditLogger,
		logger:  logger,
	}
}

// SetAuditOnly makes HandleMessage record hits without touching Discord.
func (m *Module) SetAuditOnly(auditOnly bool) {
	m.auditOnly = auditOnly
}

// LoadWords reads one banned word per line. Blank lines and // comments are skipped.
func LoadWords(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var words []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		w := strings.TrimSpace(sc.Text())
		if w != "" && !strings.HasPrefix(w, "//") {
			words = append(words, normalizeText(w))
		}
	}
	return words, sc.Err()
}

func (m *Module) Inspect(content string) Verdict {
	if content == "" {
		return Verdict{}
	}
	if m.words != nil {
		if match := m.words.FindString(normalizeText(content)); match != "" {
			return Verdict{Flagged: true, Rule: "banned_word", Match: match}
		}
	}
	if len(m.blocked) > 0 {
		for _, raw := range utils.ExtractURLs(content) {
			_, domain, err := utils.NormalizeURL(raw)
			if err != nil {
				continue
			}
			if entry, ok := utils.MatchDomain(domain, m.blocked); ok {
				return Verdict{Flagged: true, Rule: "blocked_domain", Match: entry}
			}
		}
	}
	return Verdict{}
}

// HandleMessage deletes a flagged message and alerts the moderators in
// logChannelID, pinging modRoleID when set. In audit-only mode nothing is sent
// to Discord.
func (m *Module) HandleMessage(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate, logChannelID, modRoleID string) Verdict {
	if msg == nil || msg.Author == nil || msg.Author.Bot {
		return Verdict{}
	}
	verdict := m.Inspect(msg.Content)
	if !verdict.Flagged {
		return verdict
	}

	m.audit.Log(ctx, audit.Entry{
		Level:   audit.LevelWarn,
		GuildID: msg.GuildID,
		UserID:  msg.Author.ID,
		Event:   "automod",
		Details: fmt.Sprintf("rule=%s match=%s channel=%s", verdict.Rule, verdict.Match, msg.ChannelID),
	})
	if m.auditOnly {
		return verdict
	}

	if err := session.ChannelMessageDelete(msg.ChannelID, msg.ID, discordgo.WithContext(ctx)); err != nil {
		m.logger.Warn("automod delete failed", zap.String("channel_id", msg.ChannelID), zap.String("message_id", msg.ID), zap.Error(err))
	}
	if logChannelID == "" {
		return verdict
	}

	alert := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{AlertEmbed(msg, verdict)}}
	if modRoleID != "" {
		alert.Content = "<@&" + modRoleID + ">"
		alert.AllowedMentions = &discordgo.MessageAllowedMentions{Roles: []string{modRoleID}}
	}
	if _, err := session.ChannelMessageSendComplex(logChannelID, alert, discordgo.WithContext(ctx)); err != nil {
		m.logger.Warn("automod alert failed", zap.String("channel_id", logChannelID), zap.Error(err))
	}
	return verdict
}

// alertFieldLimit is Discord's embed field value limit.
const alertFieldLimit = 1024

func AlertEmbed(msg *discordgo.MessageCreate, verdict Verdict) *discordgo.MessageEmbed {
	content := msg.Content
	if content == "" {
		content = "*No content*"
	}
	content = utils.Truncate(content, alertFieldLimit)
	return &discordgo.MessageEmbed{
		Title: "🚨 AutoMod Alert",
		Color: 0xE74C3C,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "User", Value: fmt.Sprintf("%s (%s)", msg.Author.String(), msg.Author.ID)},
			{Name: "Message", Value: content},
			{Name: "Channel", Value: "<#" + msg.ChannelID + ">"},
			{Name: "Rule", Value: verdict.Rule + ": " + verdict.Match},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func compileWords(words []string) *regexp.Regexp {
	var parts []string
	for _, w := range words {
		if w = normalizeText(strings.TrimSpace(w)); w != "" {
			parts = append(parts, regexp.QuoteMeta(w))
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(parts, "|") + `)\b`)
}

func normalizeText(input string) string {
	replacer := strings.NewReplacer(
		"à", "a", "á", "a", "â", "a", "ä", "a",
		"è", "e", "é", "e", "ê", "e", "ë", "e",
		"ì", "i", "í", "i", "î", "i", "ï", "i",
		"ò", "o", "ó", "o", "ô", "o", "ö", "o",
		"ù", "u", "ú", "u", "û", "u", "ü", "u",
		"ç", "c",
	)
	return replacer.Replace(strings.ToLower(input))
}
