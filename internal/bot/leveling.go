package bot

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	"warden-bot/internal/leveling"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	levelColor       = 0x3498db
	leaderboardColor = 0xf1c40f
	syncColor        = 0x3498db
	syncDoneColor    = 0x27ae60

	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 25
	messagePageSize         = 100
	memberPageSize          = 1000
)

func (b *Bot) handleLevel(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	target := opts.User("user")
	if target == nil {
		target = interaction.User
		if interaction.Member != nil {
			target = interaction.Member.User
		}
	}
	if target == nil {
		b.respondError(session, interaction, "User not found.")
		return
	}

	count, err := b.tracker.GetCount(ctx, target.ID)
	if err != nil {
		b.respondError(session, interaction, "An error occurred while checking the level information.")
		return
	}
	rank, ranked, err := b.tracker.GetRank(ctx, target.ID)
	if err != nil {
		b.respondError(session, interaction, "An error occurred while checking the level information.")
		return
	}

	b.respondEmbed(session, interaction, levelEmbed(target, count, rank, ranked, b.tracker.Milestones()), false)
}

func levelEmbed(user *discordgo.User, count int64, rank int, ranked bool, milestones []leveling.Milestone) *discordgo.MessageEmbed {
	name := user.Username
	if name == "" {
		name = user.ID
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "📝 Total Messages", Value: leveling.FormatCount(count), Inline: true},
	}
	if ranked {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "🏅 Rank", Value: fmt.Sprintf("#%d", rank), Inline: true})
	}

	current, next := leveling.Progress(milestones, count)
	if current != nil {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "🏆 Current Milestone", Value: current.RoleName, Inline: true})
	}
	switch {
	case next != nil:
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "🎯 Next Milestone",
			Value:  fmt.Sprintf("%s\n(%s messages to go)", next.RoleName, leveling.FormatCount(next.Threshold-count)),
			Inline: true,
		})
	case current != nil:
		fields = append(fields, &discordgo.MessageEmbedField{Name: "👑 Status", Value: "Maximum level reached!", Inline: true})
	}

	embed := commandEmbed(fmt.Sprintf("📊 %s's Level Statistics", name), "", levelColor, fields)
	if user.Avatar != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: user.AvatarURL("")}
	}
	return embed
}

func (b *Bot) handleLeaderboard(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	limit := clampLimit(opts.Int("limit", defaultLeaderboardLimit))
	if err := b.deferResponse(session, interaction, false); err != nil {
		b.logger.Warn("leaderboard defer failed", zap.Error(err))
		return
	}

	top, err := b.tracker.GetRanked(ctx, limit)
	if err != nil {
		b.editResponse(session, interaction, "❌ An error occurred while loading the leaderboard.")
		return
	}
	if len(top) == 0 {
		b.editResponse(session, interaction, "No messages tracked yet.")
		return
	}

	var sb strings.Builder
	for i, uc := range top {
		name := uc.DisplayName
		if name == "" {
			name = "Unknown"
		}
		fmt.Fprintf(&sb, "**#%d** %s — %s messages\n", i+1, name, leveling.FormatCount(uc.MessageCount))
	}

	caller := actorFrom(interaction).UserID
	rank, ranked, err := b.tracker.GetRank(ctx, caller)
	if err != nil {
		ranked = false
	}
	if ranked {
		count, _ := b.tracker.GetCount(ctx, caller)
		fmt.Fprintf(&sb, "\n👤 **Your Rank:** #%d — %s messages", rank, leveling.FormatCount(count))
	} else {
		sb.WriteString("\n👤 You have no messages counted yet.")
	}

	b.editResponse(session, interaction, "", commandEmbed("🏆 Message Leaderboard", sb.String(), leaderboardColor, nil))
}

func clampLimit(limit int64) int {
	switch {
	case limit < 1:
		return 1
	case limit > maxLeaderboardLimit:
		return maxLeaderboardLimit
	}
	return int(limit)
}

// handleSync rebuilds counts from channel history in the background and
// applies them through the tracker. One sync runs per guild at a time.
func (b *Bot) handleSync(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	guildID := interaction.GuildID
	if !b.beginSync(guildID) {
		b.respondError(session, interaction, "A sync is already running for this server.")
		return
	}
	if err := b.deferResponse(session, interaction, false); err != nil {
		b.endSync(guildID)
		b.logger.Warn("sync defer failed", zap.Error(err))
		return
	}

	req := syncRequest{
		guildID:     guildID,
		awardRoles:  opts.Bool("award_roles", true),
		interaction: interaction,
	}
	if channel := opts.Channel("channel"); channel != nil {
		req.channelID = channel.ID
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.endSync(guildID)
		b.runSync(b.ctx, session, req)
	}()
}

type syncRequest struct {
	guildID     string
	channelID   string
	awardRoles  bool
	interaction *discordgo.InteractionCreate
}

func (b *Bot) beginSync(guildID string) bool {
	b.syncMu.Lock()
	defer b.syncMu.Unlock()
	if _, running := b.syncing[guildID]; running {
		return false
	}
	b.syncing[guildID] = struct{}{}
	return true
}

func (b *Bot) endSync(guildID string) {
	b.syncMu.Lock()
	delete(b.syncing, guildID)
	b.syncMu.Unlock()
}

func (b *Bot) runSync(ctx context.Context, session *discordgo.Session, req syncRequest) {
	logger := b.logger.With(zap.String("guild_id", req.guildID))
	b.editResponse(session, req.interaction, "", commandEmbed("🔄 Scanning Message History...", "This may take a while for large servers.", syncColor, nil))

	fail := func(msg string, err error) {
		logger.Error(msg, zap.Error(err))
		b.editResponse(session, req.interaction, "", commandEmbed("❌ Sync Error", "An error occurred during the message history sync. Check the logs for details.", b.cfg.EmbedColors.Error, nil))
	}

	limiter := rate.NewLimiter(rate.Limit(b.cfg.Sync.RequestsPerSecond), max(b.cfg.Sync.Burst, 1))

	channels, err := b.syncChannels(ctx, session, limiter, req)
	if err != nil {
		fail("sync channel listing failed", err)
		return
	}
	members, err := b.guildMembers(ctx, session, limiter, req.guildID)
	if err != nil {
		fail("sync member listing failed", err)
		return
	}

	tally := newSyncTally(b.cfg.Sync.ProgressEvery)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Sync.Concurrency)
	for _, channel := range channels {
		g.Go(func() error {
			scanned, err := b.scanChannel(gctx, session, limiter, channel.ID, tally, func(total int64) {
				desc := fmt.Sprintf("Scanned %s messages so far...\nCurrent channel: #%s", leveling.FormatCount(total), channel.Name)
				b.editResponse(session, req.interaction, "", commandEmbed("🔄 Scanning Message History...", desc, syncColor, nil))
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// unreadable channels are skipped
				logger.Warn("channel scan failed", zap.String("channel_id", channel.ID), zap.String("channel", channel.Name), zap.Error(err))
				return nil
			}
			tally.channelDone()
			logger.Info("channel scanned", zap.String("channel", channel.Name), zap.Int64("messages", scanned))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fail("sync scan aborted", err)
		return
	}

	summary, err := b.tracker.BulkResync(ctx, tally.entries(members), leveling.ResyncOptions{GuildID: req.guildID, AwardOnApply: req.awardRoles})
	if err != nil {
		fail("sync apply aborted", err)
		return
	}
	for _, failure := range summary.Failures {
		logger.Warn("sync user failed", zap.String("user_id", failure.UserID), zap.Error(failure.Err))
	}

	total, done := tally.totals()
	stats := fmt.Sprintf("**%s** total messages scanned\n**%d** channels processed\n**%d** users updated\n**%d** milestone roles awarded",
		leveling.FormatCount(total), done, summary.Updated, summary.Granted)
	if summary.Skipped > 0 {
		stats += fmt.Sprintf("\n**%d** users kept a higher stored count", summary.Skipped)
	}
	if len(summary.Failures) > 0 {
		stats += fmt.Sprintf("\n**%d** users failed (see logs)", len(summary.Failures))
	}
	fields := []*discordgo.MessageEmbedField{{Name: "📊 Statistics", Value: stats}}
	b.editResponse(session, req.interaction, "", commandEmbed("✅ Message History Sync Complete", "", syncDoneColor, fields))
	logger.Info("sync completed", zap.Int64("messages", total), zap.Int("channels", done), zap.Int("users", summary.Updated), zap.Int("roles", summary.Granted))
}

func (b *Bot) syncChannels(ctx context.Context, session *discordgo.Session, limiter *rate.Limiter, req syncRequest) ([]*discordgo.Channel, error) {
	if req.channelID != "" {
		if channel, err := session.State.Channel(req.channelID); err == nil {
			return []*discordgo.Channel{channel}, nil
		}
		return []*discordgo.Channel{{ID: req.channelID, Name: req.channelID}}, nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}
	all, err := session.GuildChannels(req.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return textChannels(all), nil
}

func textChannels(channels []*discordgo.Channel) []*discordgo.Channel {
	out := make([]*discordgo.Channel, 0, len(channels))
	for _, channel := range channels {
		if channel.Type == discordgo.ChannelTypeGuildText || channel.Type == discordgo.ChannelTypeGuildNews {
			out = append(out, channel)
		}
	}
	return out
}

// guildMembers returns the ids and display names of current guild members.
func (b *Bot) guildMembers(ctx context.Context, session *discordgo.Session, limiter *rate.Limiter, guildID string) (map[string]string, error) {
	members := make(map[string]string)
	after := ""
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := session.GuildMembers(guildID, after, memberPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		for _, member := range page {
			if member.User == nil || member.User.Bot {
				continue
			}
			members[member.User.ID] = displayName(member.User, member)
			after = member.User.ID
		}
		if len(page) < memberPageSize {
			return members, nil
		}
	}
}

func (b *Bot) scanChannel(ctx context.Context, session *discordgo.Session, limiter *rate.Limiter, channelID string, tally *syncTally, progress func(total int64)) (int64, error) {
	var scanned int64
	before := ""
	for {
		if err := limiter.Wait(ctx); err != nil {
			return scanned, err
		}
		page, err := session.ChannelMessages(channelID, messagePageSize, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return scanned, err
		}
		if len(page) == 0 {
			return scanned, nil
		}
		for _, msg := range page {
			if msg.Author == nil || msg.Author.Bot || msg.WebhookID != "" {
				continue
			}
			scanned++
			if total, report := tally.add(msg.Author.ID); report {
				progress(total)
			}
		}
		before = page[len(page)-1].ID
		if len(page) < messagePageSize {
			return scanned, nil
		}
	}
}

// syncTally accumulates per-user message counts across concurrent channel scans.
type syncTally struct {
	mu       sync.Mutex
	counts   map[string]int64
	total    int64
	channels int
	every    int64
}

func newSyncTally(progressEvery int) *syncTally {
	return &syncTally{counts: make(map[string]int64), every: int64(progressEvery)}
}

// add counts one message and reports whether a progress update is due.
func (t *syncTally) add(userID string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[userID]++
	t.total++
	return t.total, t.every > 0 && t.total%t.every == 0
}

func (t *syncTally) channelDone() {
	t.mu.Lock()
	t.channels++
	t.mu.Unlock()
}

func (t *syncTally) totals() (int64, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total, t.channels
}

// entries yields the tallied counts of users still in the guild, ordered by id.
func (t *syncTally) entries(members map[string]string) iter.Seq[leveling.ResyncEntry] {
	t.mu.Lock()
	ids := make([]string, 0, len(t.counts))
	for id := range t.counts {
		if _, ok := members[id]; ok {
			ids = append(ids, id)
		}
	}
	counts := make(map[string]int64, len(ids))
	for _, id := range ids {
		counts[id] = t.counts[id]
	}
	t.mu.Unlock()
	slices.Sort(ids)

	return func(yield func(leveling.ResyncEntry) bool) {
		for _, id := range ids {
			if !yield(leveling.ResyncEntry{UserID: id, DisplayName: members[id], Count: counts[id]}) {
				return
			}
		}
	}
}
