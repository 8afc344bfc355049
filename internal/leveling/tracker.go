package leveling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"warden-bot/internal/config"
	"warden-bot/internal/storage"

	"github.com/dustin/go-humanize"
	"github.com/moby/locker"
	"go.uber.org/zap"
)

var (
	ErrPersistence  = errors.New("message count store failed")
	ErrRoleGrant    = errors.New("milestone role grant failed")
	ErrInvalidLimit = errors.New("limit must be positive")
)

type CountStore interface {
	IncrementMessageCount(ctx context.Context, userID, displayName string, at time.Time) (storage.UserCount, error)
	GetMessageCount(ctx context.Context, userID string) (storage.UserCount, bool, error)
	SetMessageCount(ctx context.Context, userID, displayName string, count int64, at time.Time) (storage.UserCount, error)
	AwardedThrough(ctx context.Context, guildID, userID string) (int64, error)
	MarkMilestoneAwarded(ctx context.Context, guildID, userID string, threshold int64, at time.Time) error
	TopMessageCounts(ctx context.Context, limit int) ([]storage.UserCount, error)
	MessageCountRank(ctx context.Context, userID string) (int, bool, error)
}

type RoleProvider interface {
	HasRole(ctx context.Context, guildID, userID, roleName string) (bool, error)
	EnsureRole(ctx context.Context, guildID, roleName string, color int) (string, error)
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
}

type Announcer interface {
	Announce(ctx context.Context, channelID, text string) error
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// MessageEvent is one inbound chat message. AnnounceChannelID is where
// milestone announcements go; empty disables them for this message.
type MessageEvent struct {
	GuildID           string
	ChannelID         string
	UserID            string
	DisplayName       string
	Automated         bool
	AnnounceChannelID string
}

type Target struct {
	GuildID           string
	UserID            string
	AnnounceChannelID string
}

type MessageResult struct {
	OldCount int64
	NewCount int64
	Awarded  []Milestone
}

type Tracker struct {
	milestones   []Milestone
	storeTimeout time.Duration
	store        CountStore
	roles        RoleProvider
	announcer    Announcer
	logger       *zap.Logger
	clock        Clock
	locks        *locker.Locker
	guard        *awardGuard
}

// New validates the milestone ladder and returns ErrInvalidConfiguration when
// it is unusable. roles and announcer may be nil for offline use; awarding
// then fails with ErrRoleGrant.
func New(cfg config.LevelingConfig, store CountStore, roles RoleProvider, announcer Announcer, logger *zap.Logger) (*Tracker, error) {
	milestones, err := MilestonesFromConfig(cfg.Milestones)
	if err != nil {
		return nil, err
	}
	timeout := cfg.StoreTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	t := &Tracker{
		milestones:   milestones,
		storeTimeout: timeout,
		store:        store,
		roles:        roles,
		announcer:    announcer,
		logger:       logger,
		clock:        realClock{},
		locks:        locker.New(),
	}
	t.guard = newAwardGuard(t.clock, cfg.SettleWindow())
	return t, nil
}

func (t *Tracker) WithClock(clock Clock) {
	t.clock = clock
	t.guard.clock = clock
}

func (t *Tracker) Milestones() []Milestone {
	return append([]Milestone(nil), t.milestones...)
}

func (t *Tracker) EvaluateMilestones(oldCount, newCount int64) []Milestone {
	return EvaluateMilestones(t.milestones, oldCount, newCount)
}

// HandleMessage counts a message and awards every milestone the user is owed.
// Milestones crossed by this message are announced; older ones left over from
// a failed grant or an award-less resync are granted silently.
func (t *Tracker) HandleMessage(ctx context.Context, ev MessageEvent) (MessageResult, error) {
	if ev.Automated || ev.GuildID == "" || ev.UserID == "" {
		return MessageResult{}, nil
	}

	defer t.lockUser(ev.UserID)()

	uc, err := t.increment(ctx, ev.UserID, ev.DisplayName)
	if err != nil {
		return MessageResult{}, err
	}
	result := MessageResult{OldCount: uc.MessageCount - 1, NewCount: uc.MessageCount}

	through, err := t.awardedThrough(ctx, ev.GuildID, ev.UserID)
	if err != nil {
		return result, err
	}
	target := Target{GuildID: ev.GuildID, UserID: ev.UserID, AnnounceChannelID: ev.AnnounceChannelID}
	for _, m := range EvaluateMilestones(t.milestones, through, uc.MessageCount) {
		granted, err := t.award(ctx, target, m, m.Threshold > result.OldCount)
		if err != nil {
			// later milestones wait until this one is held
			return result, err
		}
		if granted {
			result.Awarded = append(result.Awarded, m)
		}
	}
	return result, nil
}

// RecordMessage increments the counter without running milestone awards.
func (t *Tracker) RecordMessage(ctx context.Context, userID, displayName string) (int64, int64, error) {
	defer t.lockUser(userID)()

	uc, err := t.increment(ctx, userID, displayName)
	if err != nil {
		return 0, 0, err
	}
	return uc.MessageCount - 1, uc.MessageCount, nil
}

func (t *Tracker) AwardMilestone(ctx context.Context, target Target, milestone Milestone, announce bool) (bool, error) {
	defer t.lockUser(target.UserID)()
	return t.award(ctx, target, milestone, announce)
}

func (t *Tracker) GetCount(ctx context.Context, userID string) (int64, error) {
	sctx, cancel := t.storeContext(ctx)
	defer cancel()

	uc, ok, err := t.store.GetMessageCount(sctx, userID)
	if err != nil {
		return 0, t.persistenceError("get count", userID, err)
	}
	if !ok {
		return 0, nil
	}
	return uc.MessageCount, nil
}

func (t *Tracker) GetRanked(ctx context.Context, limit int) ([]storage.UserCount, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	sctx, cancel := t.storeContext(ctx)
	defer cancel()

	counts, err := t.store.TopMessageCounts(sctx, limit)
	if err != nil {
		return nil, t.persistenceError("ranked", "", err)
	}
	return counts, nil
}

func (t *Tracker) GetRank(ctx context.Context, userID string) (int, bool, error) {
	sctx, cancel := t.storeContext(ctx)
	defer cancel()

	rank, ok, err := t.store.MessageCountRank(sctx, userID)
	if err != nil {
		return 0, false, t.persistenceError("rank", userID, err)
	}
	return rank, ok, nil
}

// lockUser serializes count updates and awards for one user.
func (t *Tracker) lockUser(userID string) (unlock func()) {
	t.locks.Lock(userID)
	return func() {
		// only fails when the name is not locked, which cannot happen here
		_ = t.locks.Unlock(userID)
	}
}

func (t *Tracker) awardedThrough(ctx context.Context, guildID, userID string) (int64, error) {
	sctx, cancel := t.storeContext(ctx)
	defer cancel()

	through, err := t.store.AwardedThrough(sctx, guildID, userID)
	if err != nil {
		return 0, t.persistenceError("awarded through", userID, err)
	}
	return through, nil
}

func (t *Tracker) increment(ctx context.Context, userID, displayName string) (storage.UserCount, error) {
	sctx, cancel := t.storeContext(ctx)
	defer cancel()

	uc, err := t.store.IncrementMessageCount(sctx, userID, displayName, t.clock.Now())
	if err != nil {
		return storage.UserCount{}, t.persistenceError("increment", userID, err)
	}
	return uc, nil
}

// award must run with the user's lock held.
func (t *Tracker) award(ctx context.Context, target Target, m Milestone, announce bool) (bool, error) {
	key := target.GuildID + ":" + target.UserID + ":" + m.RoleName
	if !t.guard.acquire(key) {
		t.logger.Debug("milestone award already in flight", zap.String("guild_id", target.GuildID), zap.String("user_id", target.UserID), zap.String("role", m.RoleName))
		return false, nil
	}

	granted, err := t.grant(ctx, target, m)
	t.guard.release(key, err == nil)
	if err != nil {
		t.logger.Warn("milestone role grant failed", zap.String("guild_id", target.GuildID), zap.String("user_id", target.UserID), zap.String("role", m.RoleName), zap.Error(err))
		return false, err
	}

	sctx, cancel := t.storeContext(ctx)
	if err := t.store.MarkMilestoneAwarded(sctx, target.GuildID, target.UserID, m.Threshold, t.clock.Now()); err != nil {
		t.logger.Warn("failed to record milestone", zap.String("guild_id", target.GuildID), zap.String("user_id", target.UserID), zap.Int64("threshold", m.Threshold), zap.Error(err))
	}
	cancel()

	if !granted {
		return false, nil
	}
	t.logger.Info("milestone awarded", zap.String("guild_id", target.GuildID), zap.String("user_id", target.UserID), zap.String("role", m.RoleName), zap.Int64("threshold", m.Threshold))

	if announce && target.AnnounceChannelID != "" && t.announcer != nil {
		if err := t.announcer.Announce(ctx, target.AnnounceChannelID, AnnouncementText(target.UserID, m)); err != nil {
			t.logger.Warn("milestone announcement failed", zap.String("channel_id", target.AnnounceChannelID), zap.String("user_id", target.UserID), zap.Error(err))
		}
	}
	return true, nil
}

func (t *Tracker) grant(ctx context.Context, target Target, m Milestone) (bool, error) {
	if t.roles == nil {
		return false, fmt.Errorf("%w: no role provider", ErrRoleGrant)
	}
	held, err := t.roles.HasRole(ctx, target.GuildID, target.UserID, m.RoleName)
	if err != nil {
		return false, fmt.Errorf("%w: check %q: %w", ErrRoleGrant, m.RoleName, err)
	}
	if held {
		return false, nil
	}
	roleID, err := t.roles.EnsureRole(ctx, target.GuildID, m.RoleName, m.Color)
	if err != nil {
		return false, fmt.Errorf("%w: ensure %q: %w", ErrRoleGrant, m.RoleName, err)
	}
	if err := t.roles.GrantRole(ctx, target.GuildID, target.UserID, roleID); err != nil {
		return false, fmt.Errorf("%w: grant %q: %w", ErrRoleGrant, m.RoleName, err)
	}
	return true, nil
}

func (t *Tracker) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.storeTimeout)
}

func (t *Tracker) persistenceError(op, userID string, err error) error {
	t.logger.Error("message count store failed", zap.String("op", op), zap.String("user_id", userID), zap.Error(err))
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

func AnnouncementText(userID string, m Milestone) string {
	return fmt.Sprintf("🎉 Congratulations <@%s>! You've reached **%s messages** and earned the **%s** role!", userID, FormatCount(m.Threshold), m.RoleName)
}

// FormatCount renders n with thousands separators.
func FormatCount(n int64) string {
	return humanize.Comma(n)
}
