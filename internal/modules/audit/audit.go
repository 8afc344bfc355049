package audit

import (
	"context"
	"time"

	"warden-bot/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

// Entry describes one moderation event. ActorID is the moderator (or empty
// for automatic actions), UserID the member acted on.
type Entry struct {
	Level   string
	GuildID string
	ActorID string
	UserID  string
	Event   string
	Details string
}

type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	notify func(context.Context, storage.AuditLog)
}

// NewLogger writes entries to the store and to logger, which is normally the
// moderation category logger.
func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

func (l *Logger) SetNotifier(notify func(context.Context, storage.AuditLog)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, entry Entry) {
	if entry.Level == "" {
		entry.Level = LevelInfo
	}
	record := storage.AuditLog{
		GuildID:   entry.GuildID,
		ActorID:   entry.ActorID,
		UserID:    entry.UserID,
		Level:     entry.Level,
		Event:     entry.Event,
		Details:   entry.Details,
		CreatedAt: time.Now(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, record); err != nil {
			l.logger.Error("failed to persist audit entry", zap.String("event", entry.Event), zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, record)
	}
	l.logger.Info("audit",
		zap.String("level", entry.Level),
		zap.String("guild_id", entry.GuildID),
		zap.String("actor_id", entry.ActorID),
		zap.String("user_id", entry.UserID),
		zap.String("event", entry.Event),
		zap.String("details", entry.Details),
	)
}

func (l *Logger) Recent(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error) {
	if l.store == nil {
		return nil, nil
	}
	return l.store.ListAuditLogs(ctx, guildID, since)
}
