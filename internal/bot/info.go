package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"warden-bot/internal/content"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	faqColor     = 0x9b59b6
	ruleColor    = 0x3498db
	messageColor = 0x3498db
)

var hexColorPattern = regexp.MustCompile(`^[0-9A-Fa-f]{6}$`)

func (b *Bot) handleFAQ(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	number := int(opts.Int("number", 0))
	faq, err := b.content.FAQ(number)
	if err != nil {
		b.respondLookupError(session, interaction, err)
		return
	}
	embed := commandEmbed(fmt.Sprintf("❓ FAQ #%d: %s", number, faq.Question), faq.Answer, faqColor, nil)
	if faq.Category != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "Category: " + faq.Category}
	}
	b.respondEmbed(session, interaction, embed, false)
}

func (b *Bot) handleRule(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	number := int(opts.Int("number", 0))
	rule, err := b.content.Rule(number)
	if err != nil {
		b.respondLookupError(session, interaction, err)
		return
	}
	embed := commandEmbed(fmt.Sprintf("📋 Rule #%d", number), rule.Description, ruleColor, nil)
	embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Severity: %s | Punishment: %s", rule.Severity, rule.Punishment)}
	b.respondEmbed(session, interaction, embed, false)
}

func (b *Bot) respondLookupError(session *discordgo.Session, interaction *discordgo.InteractionCreate, err error) {
	var rangeErr *content.OutOfRangeError
	if errors.As(err, &rangeErr) {
		b.respondError(session, interaction, rangeErr.Error())
		return
	}
	b.logger.Error("content lookup failed", zap.Error(err))
	b.respondError(session, interaction, "There was an error while executing this command!")
}

// handleMessage posts an embed on behalf of the bot. The sender is only
// recorded in the anonymous message log.
func (b *Bot) handleMessage(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	channel := opts.Channel("channel")
	text := opts.String("content", "")
	title := opts.String("title", "")
	if channel == nil || text == "" {
		b.respondError(session, interaction, "A channel and message content are required.")
		return
	}
	color, err := parseHexColor(opts.String("color", ""), messageColor)
	if err != nil {
		b.respondError(session, interaction, "Invalid color format. Please use a 6-digit hex code (e.g., ff0000 for red).")
		return
	}

	embed := commandEmbed(title, text, color, nil)
	if _, err := session.ChannelMessageSendEmbed(channel.ID, embed, discordgo.WithContext(ctx)); err != nil {
		b.logger.Error("anonymous message failed", zap.String("channel_id", channel.ID), zap.Error(err))
		b.respondError(session, interaction, "Failed to send the message. Check my permissions in that channel.")
		return
	}

	sender := actorFrom(interaction)
	b.anonLog.Info("anonymous message sent",
		zap.String("guild_id", interaction.GuildID),
		zap.String("channel_id", channel.ID),
		zap.String("sender_id", sender.UserID),
		zap.String("sender", sender.Tag),
		zap.String("title", title),
		zap.String("content", text),
	)

	fields := []*discordgo.MessageEmbedField{
		{Name: "Channel", Value: fmt.Sprintf("<#%s>", channel.ID), Inline: true},
		{Name: "Preview", Value: truncate(text, 100)},
	}
	b.respondEmbed(session, interaction, commandEmbed("✅ Anonymous Message Sent", "", b.cfg.EmbedColors.Success, fields), true)
}

// parseHexColor accepts six hex digits with an optional leading '#'.
func parseHexColor(value string, fallback int) (int, error) {
	if value == "" {
		return fallback, nil
	}
	if value[0] == '#' {
		value = value[1:]
	}
	if !hexColorPattern.MatchString(value) {
		return 0, fmt.Errorf("invalid color %q", value)
	}
	color, err := strconv.ParseInt(value, 16, 32)
	if err != nil {
		return 0, err
	}
	return int(color), nil
}
