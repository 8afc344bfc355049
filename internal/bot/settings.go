package bot

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"warden-bot/internal/modules/audit"
	"warden-bot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) handleSettings(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	current := b.guildSettings(ctx, interaction.GuildID)
	updated, changes := applySettings(current, opts)

	if len(changes) > 0 {
		if err := b.saveGuildSettings(ctx, updated); err != nil {
			b.logger.Error("settings save failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
			b.respondError(session, interaction, "Failed to save settings.")
			return
		}
		b.audit.Log(ctx, audit.Entry{
			GuildID: interaction.GuildID,
			ActorID: actorFrom(interaction).UserID,
			Event:   "settings_updated",
			Details: strings.Join(changes, ", "),
		})
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Moderation Log", Value: channelOrNone(updated.ModLogChannel), Inline: true},
		{Name: "Level-up Channel", Value: levelUpTarget(updated.LevelUpChannel), Inline: true},
		{Name: "Level-up Announcements", Value: onOff(updated.LevelUpAnnounce), Inline: true},
	}
	if b.audit != nil {
		logs, err := b.audit.Recent(ctx, interaction.GuildID, time.Now().Add(-recentWindow))
		if err != nil {
			b.logger.Warn("recent audit lookup failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		} else {
			fields = append(fields, &discordgo.MessageEmbedField{Name: "Recent Activity (24h)", Value: summarizeAudit(logs)})
		}
	}
	title := "⚙️ Server Settings"
	if len(changes) > 0 {
		title = "⚙️ Server Settings Updated"
	}
	b.respondEmbed(session, interaction, commandEmbed(title, "", b.cfg.EmbedColors.Info, fields), true)
}

const recentWindow = 24 * time.Hour

// summarizeAudit counts entries per event, e.g. "ban ×2, kick ×1".
func summarizeAudit(logs []storage.AuditLog) string {
	if len(logs) == 0 {
		return "None"
	}
	counts := make(map[string]int)
	for _, entry := range logs {
		counts[entry.Event]++
	}
	parts := make([]string, 0, len(counts))
	for _, event := range slices.Sorted(maps.Keys(counts)) {
		parts = append(parts, fmt.Sprintf("%s ×%d", event, counts[event]))
	}
	return strings.Join(parts, ", ")
}

// applySettings copies the provided options onto settings and lists what changed.
func applySettings(settings storage.GuildSettings, opts options) (storage.GuildSettings, []string) {
	var changes []string
	if id := opts.ID("log_channel"); id != "" && id != settings.ModLogChannel {
		settings.ModLogChannel = id
		changes = append(changes, "log_channel="+id)
	}
	if id := opts.ID("levelup_channel"); id != "" && id != settings.LevelUpChannel {
		settings.LevelUpChannel = id
		changes = append(changes, "levelup_channel="+id)
	}
	if _, ok := opts.values["levelup_announce"]; ok {
		announce := opts.Bool("levelup_announce", settings.LevelUpAnnounce)
		if announce != settings.LevelUpAnnounce {
			settings.LevelUpAnnounce = announce
			changes = append(changes, fmt.Sprintf("levelup_announce=%t", announce))
		}
	}
	return settings, changes
}

func channelOrNone(id string) string {
	if id == "" {
		return "Not set"
	}
	return fmt.Sprintf("<#%s>", id)
}

func levelUpTarget(id string) string {
	if id == "" {
		return "Same channel as the message"
	}
	return fmt.Sprintf("<#%s>", id)
}

func onOff(v bool) string {
	if v {
		return "On"
	}
	return "Off"
}
