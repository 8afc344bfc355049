package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"warden-bot/internal/leveling"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	topLimit     int
	importDryRun bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Print the message leaderboard",
	RunE:  runTop,
}

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Apply absolute message counts from a user_id,count[,display_name] CSV",
	Long: `Apply absolute message counts from a CSV file ("-" reads stdin).

Counts lower than the stored value are skipped. Milestone roles are not
granted offline; the bot awards them on the user's next message.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write all message counts as CSV to stdout",
	RunE:  runExport,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}

func runTop(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	tracker, err := leveling.New(cfg.Leveling, store, nil, nil, logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	top, err := tracker.GetRanked(ctx, topLimit)
	if err != nil {
		return err
	}
	if len(top) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No messages tracked yet.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tUSER\tNAME\tMESSAGES\tMILESTONE")
	for i, uc := range top {
		milestone := "-"
		if current, _ := leveling.Progress(tracker.Milestones(), uc.MessageCount); current != nil {
			milestone = current.RoleName
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, uc.UserID, uc.DisplayName, leveling.FormatCount(uc.MessageCount), milestone)
	}
	return w.Flush()
}

func runImport(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var parseErr error
	entries := csvEntries(in, &parseErr)

	if importDryRun {
		n := 0
		for range entries {
			n++
		}
		if parseErr != nil {
			return parseErr
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d entries parsed\n", n)
		return nil
	}

	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	tracker, err := leveling.New(cfg.Leveling, store, nil, nil, logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	summary, err := tracker.BulkResync(ctx, entries, leveling.ResyncOptions{})
	if err != nil {
		return err
	}
	for _, failure := range summary.Failures {
		logger.Warn("import entry failed", zap.String("user_id", failure.UserID), zap.Error(failure.Err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "processed=%d updated=%d skipped=%d failed=%d\n",
		summary.Processed, summary.Updated, summary.Skipped, len(summary.Failures))
	if parseErr != nil {
		return parseErr
	}
	if len(summary.Failures) > 0 {
		return fmt.Errorf("%d entries failed", len(summary.Failures))
	}
	return nil
}

// csvEntries streams user_id,count[,display_name] rows. A header row whose
// count column is not numeric is skipped; any later malformed row stops the
// sequence and is reported through errp.
func csvEntries(r io.Reader, errp *error) iter.Seq[leveling.ResyncEntry] {
	return func(yield func(leveling.ResyncEntry) bool) {
		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true
		line := 0
		for {
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			line++
			if err != nil {
				*errp = fmt.Errorf("line %d: %w", line, err)
				return
			}
			if len(record) < 2 {
				*errp = fmt.Errorf("line %d: expected user_id,count[,display_name]", line)
				return
			}
			count, err := strconv.ParseInt(strings.TrimSpace(record[1]), 10, 64)
			if err != nil {
				if line == 1 {
					continue
				}
				*errp = fmt.Errorf("line %d: invalid count %q", line, record[1])
				return
			}
			entry := leveling.ResyncEntry{UserID: strings.TrimSpace(record[0]), Count: count}
			if len(record) > 2 {
				entry.DisplayName = strings.TrimSpace(record[2])
			}
			if !yield(entry) {
				return
			}
		}
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	w := csv.NewWriter(cmd.OutOrStdout())
	if err := w.Write([]string{"user_id", "count", "display_name", "last_message_at"}); err != nil {
		return err
	}
	for uc, err := range store.MessageCounts(ctx, 500) {
		if err != nil {
			return err
		}
		last := ""
		if !uc.LastMessageAt.IsZero() {
			last = uc.LastMessageAt.UTC().Format(time.RFC3339)
		}
		if err := w.Write([]string{uc.UserID, strconv.FormatInt(uc.MessageCount, 10), uc.DisplayName, last}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
