package bot

import (
	"context"
	"fmt"
	"time"

	"warden-bot/internal/modules/audit"
	"warden-bot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const noReason = "No reason provided"

func (b *Bot) handleBan(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	target := opts.User("target")
	reason := opts.String("reason", noReason)
	deleteDays := int(opts.Int("delete_days", 0))
	if deleteDays < 0 || deleteDays > 7 {
		b.respondError(session, interaction, "delete_days must be between 0 and 7.")
		return
	}
	if target == nil {
		b.respondError(session, interaction, "User not found.")
		return
	}
	moderator := actorFrom(interaction)
	if target.ID == moderator.UserID {
		b.respondError(session, interaction, "You cannot ban yourself.")
		return
	}

	guildName := b.guildName(interaction.GuildID)
	b.directMessage(ctx, target.ID, sanctionEmbed("🔨 You have been banned", fmt.Sprintf("You have been banned from **%s**", guildName), b.cfg.EmbedColors.Moderation, reason, moderator.Tag, nil))

	if err := session.GuildBanCreateWithReason(interaction.GuildID, target.ID, reason, deleteDays, discordgo.WithContext(ctx)); err != nil {
		b.logger.Error("ban failed", zap.String("guild_id", interaction.GuildID), zap.String("user_id", target.ID), zap.Error(err))
		b.respondError(session, interaction, "An error occurred while trying to ban the user.")
		return
	}
	b.supersede(ctx, interaction.GuildID, target.ID, storage.SanctionBan)

	fields := []*discordgo.MessageEmbedField{
		{Name: "Reason", Value: reason},
		{Name: "Moderator", Value: moderator.Tag},
	}
	if deleteDays > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Messages Deleted", Value: fmt.Sprintf("%d day(s)", deleteDays)})
	}
	b.respondEmbed(session, interaction, commandEmbed("🔨 User Banned", fmt.Sprintf("**%s** has been banned from the server.", target.String()), b.cfg.EmbedColors.Moderation, fields), false)

	b.audit.Log(ctx, audit.Entry{Level: audit.LevelWarn, GuildID: interaction.GuildID, ActorID: moderator.UserID, UserID: target.ID, Event: "ban", Details: reason})
}

func (b *Bot) handleKick(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	member := opts.Member("target")
	reason := opts.String("reason", noReason)
	if member == nil || member.User == nil {
		b.respondError(session, interaction, "User not found in this server.")
		return
	}
	moderator := actorFrom(interaction)
	if member.User.ID == moderator.UserID {
		b.respondError(session, interaction, "You cannot kick yourself.")
		return
	}

	guildName := b.guildName(interaction.GuildID)
	b.directMessage(ctx, member.User.ID, sanctionEmbed("👢 You have been kicked", fmt.Sprintf("You have been kicked from **%s**", guildName), b.cfg.EmbedColors.Warning, reason, moderator.Tag, nil))

	if err := session.GuildMemberDeleteWithReason(interaction.GuildID, member.User.ID, reason, discordgo.WithContext(ctx)); err != nil {
		b.logger.Error("kick failed", zap.String("guild_id", interaction.GuildID), zap.String("user_id", member.User.ID), zap.Error(err))
		b.respondError(session, interaction, "An error occurred while trying to kick the user.")
		return
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Reason", Value: reason},
		{Name: "Moderator", Value: moderator.Tag},
	}
	b.respondEmbed(session, interaction, commandEmbed("👢 User Kicked", fmt.Sprintf("**%s** has been kicked from the server.", member.User.String()), b.cfg.EmbedColors.Warning, fields), false)

	b.audit.Log(ctx, audit.Entry{Level: audit.LevelWarn, GuildID: interaction.GuildID, ActorID: moderator.UserID, UserID: member.User.ID, Event: "kick", Details: reason})
}

func (b *Bot) handleMute(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	member := opts.Member("target")
	reason := opts.String("reason", noReason)
	durationValue := opts.String("duration", permanent)
	if member == nil || member.User == nil {
		b.respondError(session, interaction, "User not found in this server.")
		return
	}
	moderator := actorFrom(interaction)
	if member.User.ID == moderator.UserID {
		b.respondError(session, interaction, "You cannot mute yourself.")
		return
	}
	duration, err := parseSanctionDuration(durationValue, true)
	if err != nil {
		b.respondError(session, interaction, "Invalid duration.")
		return
	}

	roleID, err := b.discord.EnsureMuteRole(ctx, interaction.GuildID, b.cfg.Moderation.MuteRoleName)
	if err != nil {
		b.logger.Error("mute role unavailable", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respondError(session, interaction, "An error occurred while trying to mute the user.")
		return
	}
	if hasRoleID(member.Roles, roleID) {
		b.respondError(session, interaction, "This user is already muted.")
		return
	}
	if err := session.GuildMemberRoleAdd(interaction.GuildID, member.User.ID, roleID, discordgo.WithAuditLogReason(reason), discordgo.WithContext(ctx)); err != nil {
		b.logger.Error("mute failed", zap.String("guild_id", interaction.GuildID), zap.String("user_id", member.User.ID), zap.Error(err))
		b.respondError(session, interaction, "An error occurred while trying to mute the user.")
		return
	}

	b.supersede(ctx, interaction.GuildID, member.User.ID, storage.SanctionMute)

	durationText := "Permanent"
	var unmuteAt *time.Time
	if duration > 0 {
		durationText = durationValue
		expires := time.Now().Add(duration)
		unmuteAt = &expires
		if _, err := b.expiry.Schedule(ctx, storage.Sanction{
			GuildID:     interaction.GuildID,
			UserID:      member.User.ID,
			Kind:        storage.SanctionMute,
			RoleID:      roleID,
			Reason:      reason,
			ModeratorID: moderator.UserID,
			ExpiresAt:   expires,
		}); err != nil {
			b.logger.Error("failed to schedule unmute", zap.String("user_id", member.User.ID), zap.Error(err))
		}
	}

	guildName := b.guildName(interaction.GuildID)
	dm := sanctionEmbed("🔇 You have been muted", fmt.Sprintf("You have been muted in **%s**", guildName), b.cfg.EmbedColors.Warning, reason, moderator.Tag, unmuteAt)
	dm.Fields = append(dm.Fields, &discordgo.MessageEmbedField{Name: "Duration", Value: durationText})
	b.directMessage(ctx, member.User.ID, dm)

	fields := []*discordgo.MessageEmbedField{
		{Name: "Reason", Value: reason},
		{Name: "Duration", Value: durationText},
		{Name: "Moderator", Value: moderator.Tag},
	}
	if unmuteAt != nil {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Unmute Time", Value: discordTimestamp(*unmuteAt)})
	}
	b.respondEmbed(session, interaction, commandEmbed("🔇 User Muted", fmt.Sprintf("**%s** has been muted.", member.User.String()), b.cfg.EmbedColors.Warning, fields), false)

	b.audit.Log(ctx, audit.Entry{Level: audit.LevelWarn, GuildID: interaction.GuildID, ActorID: moderator.UserID, UserID: member.User.ID, Event: "mute", Details: fmt.Sprintf("%s (%s)", reason, durationText)})
}

func (b *Bot) handleTempban(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	target := opts.User("target")
	reason := opts.String("reason", noReason)
	durationValue := opts.String("duration", "")
	if target == nil {
		b.respondError(session, interaction, "User not found.")
		return
	}
	moderator := actorFrom(interaction)
	if target.ID == moderator.UserID {
		b.respondError(session, interaction, "You cannot ban yourself.")
		return
	}
	duration, err := parseSanctionDuration(durationValue, false)
	if err != nil {
		b.respondError(session, interaction, "Invalid duration.")
		return
	}
	unbanAt := time.Now().Add(duration)

	guildName := b.guildName(interaction.GuildID)
	dm := sanctionEmbed("⏳ You have been temporarily banned", fmt.Sprintf("You have been temporarily banned from **%s**", guildName), b.cfg.EmbedColors.Moderation, reason, moderator.Tag, &unbanAt)
	dm.Fields = append(dm.Fields, &discordgo.MessageEmbedField{Name: "Duration", Value: durationValue})
	b.directMessage(ctx, target.ID, dm)

	if err := session.GuildBanCreateWithReason(interaction.GuildID, target.ID, fmt.Sprintf("Temporary ban (%s): %s", durationValue, reason), 0, discordgo.WithContext(ctx)); err != nil {
		b.logger.Error("tempban failed", zap.String("guild_id", interaction.GuildID), zap.String("user_id", target.ID), zap.Error(err))
		b.respondError(session, interaction, "An error occurred while trying to ban the user.")
		return
	}

	b.supersede(ctx, interaction.GuildID, target.ID, storage.SanctionBan)
	if _, err := b.expiry.Schedule(ctx, storage.Sanction{
		GuildID:     interaction.GuildID,
		UserID:      target.ID,
		Kind:        storage.SanctionBan,
		Reason:      reason,
		ModeratorID: moderator.UserID,
		ExpiresAt:   unbanAt,
	}); err != nil {
		b.logger.Error("failed to schedule unban", zap.String("user_id", target.ID), zap.Error(err))
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Reason", Value: reason},
		{Name: "Duration", Value: durationValue},
		{Name: "Moderator", Value: moderator.Tag},
		{Name: "Unban Time", Value: discordTimestamp(unbanAt)},
	}
	b.respondEmbed(session, interaction, commandEmbed("⏳ User Temporarily Banned", fmt.Sprintf("**%s** has been temporarily banned.", target.String()), b.cfg.EmbedColors.Moderation, fields), false)

	b.audit.Log(ctx, audit.Entry{Level: audit.LevelWarn, GuildID: interaction.GuildID, ActorID: moderator.UserID, UserID: target.ID, Event: "tempban", Details: fmt.Sprintf("%s (%s)", reason, durationValue)})
}

// supersede retires pending lifts of kind for the user before a newer
// sanction takes effect.
func (b *Bot) supersede(ctx context.Context, guildID, userID, kind string) {
	if b.expiry == nil {
		return
	}
	replaced, err := b.expiry.Supersede(ctx, guildID, userID, kind)
	if err != nil {
		b.logger.Error("failed to supersede pending sanctions", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("kind", kind), zap.Error(err))
		return
	}
	if replaced > 0 {
		b.logger.Info("superseded pending sanctions", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("kind", kind), zap.Int("count", replaced))
	}
}

// directMessage is best-effort; members with closed DMs are common.
func (b *Bot) directMessage(ctx context.Context, userID string, embed *discordgo.MessageEmbed) {
	channel, err := b.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err == nil {
		_, err = b.session.ChannelMessageSendEmbed(channel.ID, embed, discordgo.WithContext(ctx))
	}
	if err != nil {
		b.logger.Debug("could not send direct message", zap.String("user_id", userID), zap.Error(err))
	}
}

func (b *Bot) guildName(guildID string) string {
	if guild, err := b.session.State.Guild(guildID); err == nil && guild.Name != "" {
		return guild.Name
	}
	return "the server"
}

func sanctionEmbed(title, description string, color int, reason, moderator string, until *time.Time) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Reason", Value: reason},
		{Name: "Moderator", Value: moderator},
	}
	if until != nil {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Until", Value: discordTimestamp(*until)})
	}
	return commandEmbed(title, description, color, fields)
}

func discordTimestamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:F>", t.Unix())
}
