package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warden-bot/internal/bot"
	"warden-bot/internal/config"
	"warden-bot/internal/content"
	"warden-bot/internal/expiry"
	"warden-bot/internal/leveling"
	"warden-bot/internal/modules/audit"
	"warden-bot/internal/modules/automod"
	"warden-bot/internal/storage"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	loggers, err := config.BuildLoggers(cfg.LogLevel, cfg.Logs)
	if err != nil {
		panic(err)
	}
	defer loggers.Close()
	logger := loggers.Main

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	auditLogger := audit.NewLogger(store, loggers.Moderation)

	session, err := bot.NewSession(cfg.DiscordToken)
	if err != nil {
		logger.Fatal("discord session init failed", zap.Error(err))
	}
	discord := bot.NewDiscord(session, logger.Named("discord"))

	tracker, err := leveling.New(cfg.Leveling, store, discord, discord, logger.Named("leveling"))
	if err != nil {
		logger.Fatal("leveling init failed", zap.Error(err))
	}

	expiryEngine := expiry.New(store, discord, auditLogger, logger.Named("expiry"))
	defer expiryEngine.Close()

	library, err := content.Load(cfg.Content)
	if err != nil {
		logger.Fatal("content load failed", zap.Error(err))
	}

	var words []string
	if cfg.Moderation.BannedWordsFile != "" {
		words, err = automod.LoadWords(cfg.Moderation.BannedWordsFile)
		if err != nil {
			logger.Fatal("banned words load failed", zap.String("path", cfg.Moderation.BannedWordsFile), zap.Error(err))
		}
	}
	automodModule := automod.New(words, cfg.Moderation.BlockedDomains, auditLogger, loggers.Moderation)
	automodModule.SetAuditOnly(cfg.Moderation.AutomodAuditOnly)

	botSvc := bot.New(cfg, bot.Deps{
		Session: session,
		Discord: discord,
		Store:   store,
		Tracker: tracker,
		Expiry:  expiryEngine,
		Audit:   auditLogger,
		Automod: automodModule,
		Content: library,
		Loggers: loggers,
	})

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started", zap.Int("milestones", len(tracker.Milestones())))

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := expiryEngine.Restore(restoreCtx); err != nil {
		logger.Error("pending sanctions restore failed", zap.Error(err))
	}
	restoreCancel()

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close(ctx)
}
