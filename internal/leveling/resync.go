package leveling

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"warden-bot/internal/storage"

	"go.uber.org/zap"
)

type ResyncEntry struct {
	UserID      string
	DisplayName string
	Count       int64
}

type ResyncOptions struct {
	GuildID      string
	AwardOnApply bool
}

type ResyncFailure struct {
	UserID string
	Err    error
}

type ResyncSummary struct {
	Processed int
	Updated   int
	Skipped   int
	Granted   int
	Failures  []ResyncFailure
}

// BulkResync overwrites counts with absolute values taken from entries. Each
// user is applied on its own; a failing user is recorded in the summary and the
// batch moves on. Lower values than the stored count are skipped. The only
// error returned is ctx's, checked between entries.
func (t *Tracker) BulkResync(ctx context.Context, entries iter.Seq[ResyncEntry], opts ResyncOptions) (ResyncSummary, error) {
	var summary ResyncSummary
	if opts.AwardOnApply && opts.GuildID == "" {
		return summary, errors.New("resync with awards requires a guild id")
	}

	for entry := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Processed++
		t.resyncOne(ctx, entry, opts, &summary)
	}

	t.logger.Info("bulk resync finished",
		zap.String("guild_id", opts.GuildID),
		zap.Int("processed", summary.Processed),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("granted", summary.Granted),
		zap.Int("failures", len(summary.Failures)),
	)
	return summary, ctx.Err()
}

func (t *Tracker) resyncOne(ctx context.Context, entry ResyncEntry, opts ResyncOptions, summary *ResyncSummary) {
	if entry.UserID == "" || entry.Count < 0 {
		summary.Failures = append(summary.Failures, ResyncFailure{UserID: entry.UserID, Err: fmt.Errorf("invalid resync entry %q=%d", entry.UserID, entry.Count)})
		return
	}

	defer t.lockUser(entry.UserID)()

	sctx, cancel := t.storeContext(ctx)
	prev, err := t.store.SetMessageCount(sctx, entry.UserID, entry.DisplayName, entry.Count, t.clock.Now())
	cancel()
	if errors.Is(err, storage.ErrCountDecrease) {
		summary.Skipped++
		t.logger.Info("resync skipped lower count", zap.String("user_id", entry.UserID), zap.Int64("stored", prev.MessageCount), zap.Int64("scanned", entry.Count))
		return
	}
	if err != nil {
		summary.Failures = append(summary.Failures, ResyncFailure{UserID: entry.UserID, Err: t.persistenceError("set count", entry.UserID, err)})
		return
	}
	summary.Updated++

	if !opts.AwardOnApply {
		return
	}
	through, err := t.awardedThrough(ctx, opts.GuildID, entry.UserID)
	if err != nil {
		summary.Failures = append(summary.Failures, ResyncFailure{UserID: entry.UserID, Err: err})
		return
	}
	target := Target{GuildID: opts.GuildID, UserID: entry.UserID}
	for _, m := range EvaluateMilestones(t.milestones, through, entry.Count) {
		granted, err := t.award(ctx, target, m, false)
		if err != nil {
			summary.Failures = append(summary.Failures, ResyncFailure{UserID: entry.UserID, Err: err})
			return
		}
		if granted {
			summary.Granted++
		}
	}
}

// Entries adapts a map of absolute counts to a resync sequence.
func Entries(counts map[string]int64) iter.Seq[ResyncEntry] {
	return func(yield func(ResyncEntry) bool) {
		for userID, count := range counts {
			if !yield(ResyncEntry{UserID: userID, Count: count}) {
				return
			}
		}
	}
}
