package bot

import "github.com/bwmarrin/discordgo"

func int64Ptr(v int64) *int64 { return &v }

func floatPtr(v float64) *float64 { return &v }

func durationChoices(withPermanent bool) []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(sanctionDurations)+1)
	for _, d := range sanctionDurations {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: d.Name, Value: d.Value})
	}
	if withPermanent {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: "Permanent", Value: permanent})
	}
	return choices
}

func applicationCommands() []*discordgo.ApplicationCommand {
	moderate := int64Ptr(discordgo.PermissionModerateMembers)
	admin := int64Ptr(discordgo.PermissionManageGuild)
	textChannels := []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews}

	return []*discordgo.ApplicationCommand{
		{
			Name:                     "ban",
			Description:              "Ban a member from the server",
			DefaultMemberPermissions: moderate,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "target", Description: "The member to ban", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason for the ban"},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "delete_days", Description: "Days of messages to delete (0-7)", MinValue: floatPtr(0), MaxValue: 7},
			},
		},
		{
			Name:                     "kick",
			Description:              "Kick a member from the server",
			DefaultMemberPermissions: moderate,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "target", Description: "The member to kick", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason for the kick"},
			},
		},
		{
			Name:                     "mute",
			Description:              "Mute a member in the server",
			DefaultMemberPermissions: moderate,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "target", Description: "The member to mute", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason for the mute"},
				{Type: discordgo.ApplicationCommandOptionString, Name: "duration", Description: "Duration of the mute", Choices: durationChoices(true)},
			},
		},
		{
			Name:                     "tempban",
			Description:              "Temporarily ban a member from the server",
			DefaultMemberPermissions: moderate,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "target", Description: "The member to temporarily ban", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "duration", Description: "Duration of the ban", Required: true, Choices: durationChoices(false)},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason for the temporary ban"},
			},
		},
		{
			Name:        "faq",
			Description: "Display frequently asked questions",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "number", Description: "The FAQ number to display", Required: true, MinValue: floatPtr(1)},
			},
		},
		{
			Name:        "rule",
			Description: "Display a specific rule by number",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "number", Description: "The rule number to display", Required: true, MinValue: floatPtr(1)},
			},
		},
		{
			Name:                     "message",
			Description:              "Send an anonymous message to a channel",
			DefaultMemberPermissions: admin,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "The channel to send the message to", Required: true, ChannelTypes: textChannels},
				{Type: discordgo.ApplicationCommandOptionString, Name: "content", Description: "The message content to send", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "title", Description: "Optional title for the message"},
				{Type: discordgo.ApplicationCommandOptionString, Name: "color", Description: "Embed color (hex code without #)"},
			},
		},
		{
			Name:        "level",
			Description: "Show message count and milestone progress",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "The user to check (defaults to you)"},
			},
		},
		{
			Name:        "leaderboard",
			Description: "Shows the top users by message count",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "limit", Description: "Number of users to show (default: 10)", MinValue: floatPtr(1), MaxValue: 25},
			},
		},
		{
			Name:                     "sync",
			Description:              "Rebuild message counts from channel history",
			DefaultMemberPermissions: admin,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Only scan this channel", ChannelTypes: textChannels},
				{Type: discordgo.ApplicationCommandOptionBoolean, Name: "award_roles", Description: "Grant milestone roles for synced counts (default: true)"},
			},
		},
		{
			Name:                     "settings",
			Description:              "Configure log and level-up channels for this server",
			DefaultMemberPermissions: admin,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionChannel, Name: "log_channel", Description: "Channel for moderation and automod alerts", ChannelTypes: textChannels},
				{Type: discordgo.ApplicationCommandOptionChannel, Name: "levelup_channel", Description: "Channel for milestone announcements", ChannelTypes: textChannels},
				{Type: discordgo.ApplicationCommandOptionBoolean, Name: "levelup_announce", Description: "Announce milestones at all"},
			},
		},
	}
}

// registerCommands syncs the command set with Discord: existing commands are
// edited in place, missing ones created and stale ones removed. Commands are
// guild scoped when a guild id is configured.
func (b *Bot) registerCommands() error {
	commands := applicationCommands()
	appID := b.session.State.User.ID
	guildID := b.cfg.GuildID

	existing, err := b.session.ApplicationCommands(appID, guildID)
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, guildID, cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, guildID, current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, guildID, cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, guildID, cmd.ID)
	}
	return nil
}
