package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"warden-bot/internal/permissions"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type commandHandler func(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options)

type command struct {
	level   permissions.Level
	handler commandHandler
}

func (b *Bot) commandTable() map[string]command {
	return map[string]command{
		"ban":         {permissions.Moderator, b.handleBan},
		"kick":        {permissions.Moderator, b.handleKick},
		"mute":        {permissions.Moderator, b.handleMute},
		"tempban":     {permissions.Moderator, b.handleTempban},
		"faq":         {permissions.User, b.handleFAQ},
		"rule":        {permissions.User, b.handleRule},
		"message":     {permissions.Admin, b.handleMessage},
		"level":       {permissions.User, b.handleLevel},
		"leaderboard": {permissions.User, b.handleLeaderboard},
		"sync":        {permissions.Admin, b.handleSync},
		"settings":    {permissions.Admin, b.handleSettings},
	}
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := interaction.ApplicationCommandData()
	actor := actorFrom(interaction)

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("command panicked", zap.String("command", data.Name), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			b.respondError(session, interaction, "There was an error while executing this command!")
		}
	}()

	cmd, ok := b.commandTable()[data.Name]
	if !ok {
		return
	}
	if interaction.GuildID == "" {
		b.respondError(session, interaction, "This command can only be used in a server.")
		return
	}
	if !b.perms.Check(actor, cmd.level) {
		b.respondError(session, interaction, fmt.Sprintf("You need %s permissions to use this command.", cmd.level))
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()
	cmd.handler(ctx, session, interaction, newOptions(data))
	b.logger.Info("command executed", zap.String("command", data.Name), zap.String("guild_id", interaction.GuildID), zap.String("user_id", actor.UserID))
}

func actorFrom(interaction *discordgo.InteractionCreate) permissions.Actor {
	var actor permissions.Actor
	user := interaction.User
	if interaction.Member != nil {
		user = interaction.Member.User
		actor.RoleIDs = interaction.Member.Roles
		actor.Administrator = interaction.Member.Permissions&discordgo.PermissionAdministrator != 0
	}
	if user != nil {
		actor.UserID = user.ID
		actor.Username = user.Username
		actor.Tag = user.String()
	}
	return actor
}

// options gives typed access to slash command options and resolved entities.
type options struct {
	values   map[string]*discordgo.ApplicationCommandInteractionDataOption
	resolved *discordgo.ApplicationCommandInteractionDataResolved
}

func newOptions(data discordgo.ApplicationCommandInteractionData) options {
	values := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(data.Options))
	for _, opt := range data.Options {
		values[opt.Name] = opt
	}
	return options{values: values, resolved: data.Resolved}
}

func (o options) String(name, fallback string) string {
	if opt, ok := o.values[name]; ok {
		if v, ok := opt.Value.(string); ok && v != "" {
			return v
		}
	}
	return fallback
}

func (o options) Int(name string, fallback int64) int64 {
	if opt, ok := o.values[name]; ok {
		if v, ok := opt.Value.(float64); ok {
			return int64(v)
		}
	}
	return fallback
}

func (o options) Bool(name string, fallback bool) bool {
	if opt, ok := o.values[name]; ok {
		if v, ok := opt.Value.(bool); ok {
			return v
		}
	}
	return fallback
}

// ID returns the snowflake of a user, channel or role option.
func (o options) ID(name string) string {
	return o.String(name, "")
}

func (o options) User(name string) *discordgo.User {
	id := o.ID(name)
	if id == "" {
		return nil
	}
	if o.resolved != nil {
		if user, ok := o.resolved.Users[id]; ok {
			return user
		}
	}
	return &discordgo.User{ID: id}
}

// Member returns the guild member behind a user option, or nil when the user
// is not in the guild.
func (o options) Member(name string) *discordgo.Member {
	id := o.ID(name)
	if id == "" || o.resolved == nil {
		return nil
	}
	member, ok := o.resolved.Members[id]
	if !ok {
		return nil
	}
	if member.User == nil {
		member.User = o.User(name)
	}
	return member
}

func (o options) Channel(name string) *discordgo.Channel {
	id := o.ID(name)
	if id == "" {
		return nil
	}
	if o.resolved != nil {
		if channel, ok := o.resolved.Channels[id]; ok {
			return channel
		}
	}
	return &discordgo.Channel{ID: id}
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	b.respondData(session, interaction, &discordgo.InteractionResponseData{Content: content}, ephemeral)
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	b.respondData(session, interaction, &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}, ephemeral)
}

func (b *Bot) respondError(session *discordgo.Session, interaction *discordgo.InteractionCreate, message string) {
	b.respond(session, interaction, "❌ "+message, true)
}

func (b *Bot) respondData(session *discordgo.Session, interaction *discordgo.InteractionCreate, data *discordgo.InteractionResponseData, ephemeral bool) {
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		b.logger.Warn("interaction response failed", zap.String("interaction_id", interaction.ID), zap.Error(err))
	}
}

func (b *Bot) deferResponse(session *discordgo.Session, interaction *discordgo.InteractionCreate, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	})
}

func (b *Bot) editResponse(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, embeds ...*discordgo.MessageEmbed) {
	edit := &discordgo.WebhookEdit{Content: &content}
	if len(embeds) > 0 {
		edit.Embeds = &embeds
	}
	if _, err := session.InteractionResponseEdit(interaction.Interaction, edit); err != nil {
		b.logger.Warn("interaction edit failed", zap.String("interaction_id", interaction.ID), zap.Error(err))
	}
}

func commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}
