package expiry

import (
	"context"
	"sync"
	"time"

	"warden-bot/internal/modules/audit"
	"warden-bot/internal/storage"

	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

type realTimer struct{ t *time.Timer }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (t realTimer) Stop() bool { return t.t.Stop() }

type Store interface {
	AddSanction(ctx context.Context, sanction storage.Sanction) (storage.Sanction, error)
	ListPendingSanctions(ctx context.Context) ([]storage.Sanction, error)
	PendingSanctionsFor(ctx context.Context, guildID, userID, kind string) ([]storage.Sanction, error)
	CompleteSanction(ctx context.Context, id string, at time.Time) error
}

// Lifter reverses a sanction on the platform: unban for bans, role removal
// for mutes.
type Lifter interface {
	Lift(ctx context.Context, sanction storage.Sanction) error
}

const liftTimeout = 15 * time.Second

// Engine lifts temporary bans and mutes when they expire. Sanctions are
// persisted before they are armed, so Restore re-arms them after a restart.
type Engine struct {
	mu     sync.Mutex
	store  Store
	lifter Lifter
	audit  *audit.Logger
	logger *zap.Logger
	clock  Clock
	timers map[string]Timer
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func New(store Store, lifter Lifter, auditLogger *audit.Logger, logger *zap.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:  store,
		lifter: lifter,
		audit:  auditLogger,
		logger: logger,
		clock:  realClock{},
		timers: make(map[string]Timer),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (e *Engine) WithClock(clock Clock) {
	e.clock = clock
}

func (e *Engine) Schedule(ctx context.Context, sanction storage.Sanction) (storage.Sanction, error) {
	stored, err := e.store.AddSanction(ctx, sanction)
	if err != nil {
		return storage.Sanction{}, err
	}
	e.arm(stored)
	e.logger.Info("sanction scheduled", zap.String("id", stored.ID), zap.String("kind", stored.Kind), zap.String("guild_id", stored.GuildID), zap.String("user_id", stored.UserID), zap.Time("expires_at", stored.ExpiresAt))
	return stored, nil
}

// Restore arms every pending sanction. Overdue ones fire right away.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	pending, err := e.store.ListPendingSanctions(ctx)
	if err != nil {
		return 0, err
	}
	for _, sanction := range pending {
		e.arm(sanction)
	}
	if len(pending) > 0 {
		e.logger.Info("restored pending sanctions", zap.Int("count", len(pending)))
	}
	return len(pending), nil
}

// Cancel disarms a sanction without lifting it. The stored row stays pending.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	timer, ok := e.timers[id]
	if !ok {
		return false
	}
	timer.Stop()
	delete(e.timers, id)
	return true
}

// Supersede disarms and completes every pending sanction of kind held by the
// user, so a newer ban or mute is not lifted by an older timer. It returns how
// many were replaced.
func (e *Engine) Supersede(ctx context.Context, guildID, userID, kind string) (int, error) {
	pending, err := e.store.PendingSanctionsFor(ctx, guildID, userID, kind)
	if err != nil {
		return 0, err
	}
	for i, sanction := range pending {
		e.Cancel(sanction.ID)
		if err := e.store.CompleteSanction(ctx, sanction.ID, e.clock.Now()); err != nil {
			return i, err
		}
		e.logger.Info("sanction superseded", zap.String("id", sanction.ID), zap.String("kind", kind), zap.String("guild_id", guildID), zap.String("user_id", userID))
	}
	return len(pending), nil
}

func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// Close stops every timer and waits for lifts already running.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

func (e *Engine) arm(sanction storage.Sanction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if existing, ok := e.timers[sanction.ID]; ok {
		existing.Stop()
	}

	delay := sanction.ExpiresAt.Sub(e.clock.Now())
	if delay < 0 {
		delay = 0
	}
	e.timers[sanction.ID] = e.clock.AfterFunc(delay, func() {
		e.fire(sanction)
	})
}

func (e *Engine) fire(sanction storage.Sanction) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if _, ok := e.timers[sanction.ID]; !ok {
		e.mu.Unlock()
		return
	}
	delete(e.timers, sanction.ID)
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(e.ctx, liftTimeout)
	defer cancel()

	if err := e.lifter.Lift(ctx, sanction); err != nil {
		e.logger.Warn("failed to lift sanction", zap.String("id", sanction.ID), zap.String("kind", sanction.Kind), zap.String("user_id", sanction.UserID), zap.Error(err))
		return
	}
	if err := e.store.CompleteSanction(ctx, sanction.ID, e.clock.Now()); err != nil {
		e.logger.Error("failed to complete sanction", zap.String("id", sanction.ID), zap.Error(err))
	}

	event := "unban"
	if sanction.Kind == storage.SanctionMute {
		event = "unmute"
	}
	if e.audit != nil {
		e.audit.Log(ctx, audit.Entry{
			GuildID: sanction.GuildID,
			UserID:  sanction.UserID,
			Event:   event,
			Details: "automatic, " + sanction.Kind + " expired",
		})
	}
}
