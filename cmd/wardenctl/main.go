// Command wardenctl administers the bot database offline: migrations,
// leaderboard inspection and message count import/export.
package main

import (
	"fmt"
	"os"
	"time"

	"warden-bot/internal/config"
	"warden-bot/internal/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logger   *zap.Logger
	dbPath   string
	logLevel string
	timeout  time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "wardenctl",
	Short:         "Offline administration for the warden bot database",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logger != nil {
			return nil
		}
		l, err := config.BuildLogger(logLevel)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default: DATABASE_PATH or config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	topCmd.Flags().IntVarP(&topLimit, "limit", "n", 10, "Number of users to show")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Parse the file without writing")

	rootCmd.AddCommand(migrateCmd, topCmd, importCmd, exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openStore opens and migrates the database named by --db or the bot config.
func openStore() (*storage.Store, config.Config, error) {
	cfg, err := config.LoadOffline()
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("load config: %w", err)
	}
	path := dbPath
	if path == "" {
		path = cfg.DatabasePath
	}
	store, err := storage.New(path)
	if err != nil {
		return nil, cfg, fmt.Errorf("open %s: %w", path, err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, cfg, fmt.Errorf("migrate %s: %w", path, err)
	}
	return store, cfg, nil
}
