package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"warden-bot/internal/config"
	"warden-bot/internal/content"
	"warden-bot/internal/expiry"
	"warden-bot/internal/leveling"
	"warden-bot/internal/modules/audit"
	"warden-bot/internal/modules/automod"
	"warden-bot/internal/permissions"
	"warden-bot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Deps struct {
	Session *discordgo.Session
	Discord *Discord
	Store   *storage.Store
	Tracker *leveling.Tracker
	Expiry  *expiry.Engine
	Audit   *audit.Logger
	Automod *automod.Module
	Content *content.Library
	Loggers *config.Loggers
}

type Bot struct {
	cfg     config.Config
	logger  *zap.Logger
	anonLog *zap.Logger
	session *discordgo.Session
	discord *Discord
	store   *storage.Store
	tracker *leveling.Tracker
	expiry  *expiry.Engine
	audit   *audit.Logger
	automod *automod.Module
	content *content.Library
	perms   *permissions.Checker

	settingsMu sync.RWMutex
	settings   map[string]storage.GuildSettings

	syncMu  sync.Mutex
	syncing map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.Config, deps Deps) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		cfg:      cfg,
		logger:   deps.Loggers.Main,
		anonLog:  deps.Loggers.Anonymous,
		session:  deps.Session,
		discord:  deps.Discord,
		store:    deps.Store,
		tracker:  deps.Tracker,
		expiry:   deps.Expiry,
		audit:    deps.Audit,
		automod:  deps.Automod,
		content:  deps.Content,
		perms:    permissions.New(cfg.Permissions),
		settings: make(map[string]storage.GuildSettings),
		syncing:  make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	if b.audit != nil {
		b.audit.SetNotifier(b.notifyAudit)
	}
	return b
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}
	if err := b.registerCommands(); err != nil {
		return err
	}

	b.startRetention()
	return nil
}

// Close stops background work, waits for running syncs and closes the gateway.
func (b *Bot) Close(ctx context.Context) {
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("shutdown timed out waiting for background tasks")
	}

	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}

	ctx := b.ctx
	settings := b.guildSettings(ctx, msg.GuildID)

	if b.cfg.Moderation.AutomodEnabled && b.automod != nil {
		verdict := b.automod.HandleMessage(ctx, session, msg, settings.ModLogChannel, b.cfg.Moderation.ModRoleID)
		if verdict.Flagged {
			return
		}
	}

	if !b.cfg.Leveling.Enabled || b.tracker == nil {
		return
	}
	ev := leveling.MessageEvent{
		GuildID:           msg.GuildID,
		ChannelID:         msg.ChannelID,
		UserID:            msg.Author.ID,
		DisplayName:       displayName(msg.Author, msg.Member),
		Automated:         msg.Author.Bot || msg.WebhookID != "",
		AnnounceChannelID: announceChannel(settings, msg.ChannelID),
	}
	if _, err := b.tracker.HandleMessage(ctx, ev); err != nil {
		b.logger.Warn("message tracking failed", zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.Author.ID), zap.Error(err))
	}
}

func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	switch entry.Event {
	case "ban", "tempban", "kick", "mute", "unban", "unmute":
	default:
		return
	}
	channelID := b.guildSettings(ctx, entry.GuildID).ModLogChannel
	if channelID == "" {
		return
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "User", Value: mentionOrDash(entry.UserID), Inline: true},
		{Name: "Moderator", Value: mentionOrDash(entry.ActorID), Inline: true},
	}
	if entry.Details != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Details", Value: truncate(entry.Details, 1000)})
	}
	embed := commandEmbed("🛡️ Moderation: "+entry.Event, "", b.cfg.EmbedColors.Moderation, fields)
	if _, err := b.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx)); err != nil {
		b.logger.Warn("moderation log post failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (b *Bot) startRetention() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			b.cleanupAuditLogs()
			select {
			case <-b.ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (b *Bot) cleanupAuditLogs() {
	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()
	removed, err := b.store.CleanupAuditLogs(ctx, b.cfg.RetentionDays)
	if err != nil {
		b.logger.Warn("audit retention cleanup failed", zap.Error(err))
		return
	}
	if removed > 0 {
		b.logger.Info("audit retention cleanup", zap.Int64("removed", removed), zap.Int("retention_days", b.cfg.RetentionDays))
	}
}

func (b *Bot) guildSettings(ctx context.Context, guildID string) storage.GuildSettings {
	b.settingsMu.RLock()
	settings, ok := b.settings[guildID]
	b.settingsMu.RUnlock()
	if ok {
		return settings
	}

	defaults := storage.GuildSettings{
		GuildID:         guildID,
		ModLogChannel:   b.cfg.Moderation.LogChannelID,
		LevelUpChannel:  b.cfg.Leveling.AnnounceChannelID,
		LevelUpAnnounce: b.cfg.Leveling.Announce,
	}
	settings, err := b.store.GetGuildSettings(ctx, guildID, defaults)
	if err != nil {
		b.logger.Warn("guild settings fallback", zap.String("guild_id", guildID), zap.Error(err))
		return defaults
	}

	b.settingsMu.Lock()
	b.settings[guildID] = settings
	b.settingsMu.Unlock()
	return settings
}

func (b *Bot) saveGuildSettings(ctx context.Context, settings storage.GuildSettings) error {
	if err := b.store.UpsertGuildSettings(ctx, settings); err != nil {
		return err
	}
	b.settingsMu.Lock()
	b.settings[settings.GuildID] = settings
	b.settingsMu.Unlock()
	return nil
}

// announceChannel picks where milestone announcements for a message go.
func announceChannel(settings storage.GuildSettings, messageChannelID string) string {
	if !settings.LevelUpAnnounce {
		return ""
	}
	if settings.LevelUpChannel != "" {
		return settings.LevelUpChannel
	}
	return messageChannelID
}

func displayName(user *discordgo.User, member *discordgo.Member) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user == nil {
		return ""
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}

func mentionOrDash(userID string) string {
	if userID == "" {
		return "-"
	}
	return fmt.Sprintf("<@%s>", userID)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
