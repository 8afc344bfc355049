package storage

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"time"
)

// ErrCountDecrease is returned by SetMessageCount when the requested value is
// lower than the stored one. Counts only move upward.
var ErrCountDecrease = errors.New("message count may not decrease")

// UserCount is one leveling record.
type UserCount struct {
	UserID        string
	DisplayName   string
	MessageCount  int64
	LastMessageAt time.Time
}

const userCountColumns = `user_id, display_name, message_count, last_message_at`

// IncrementMessageCount adds one to the user's counter in a single statement,
// creating the record at 1 when it does not exist yet. It returns the record
// after the increment.
func (s *Store) IncrementMessageCount(ctx context.Context, userID, displayName string, at time.Time) (UserCount, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO message_counts (user_id, display_name, message_count, last_message_at, created_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			message_count = message_count + 1,
			display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE display_name END,
			last_message_at = excluded.last_message_at
		RETURNING `+userCountColumns,
		userID, displayName, at.Unix(), at.Unix())

	return scanUserCount(row)
}

func (s *Store) GetMessageCount(ctx context.Context, userID string) (UserCount, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCountColumns+` FROM message_counts WHERE user_id = ?`, userID)

	uc, err := scanUserCount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserCount{}, false, nil
		}
		return UserCount{}, false, err
	}
	return uc, true, nil
}

// SetMessageCount overwrites the counter with an absolute value and returns the
// record as it was before. Lower values are rejected with ErrCountDecrease.
func (s *Store) SetMessageCount(ctx context.Context, userID, displayName string, count int64, at time.Time) (prev UserCount, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UserCount{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	prev, err = scanUserCount(tx.QueryRowContext(ctx, `SELECT `+userCountColumns+` FROM message_counts WHERE user_id = ?`, userID))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return UserCount{}, err
		}
		prev = UserCount{UserID: userID}
		err = nil
	}
	if count < prev.MessageCount {
		err = ErrCountDecrease
		return prev, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO message_counts (user_id, display_name, message_count, last_message_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			message_count = excluded.message_count,
			display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE display_name END,
			last_message_at = excluded.last_message_at
	`, userID, displayName, count, at.Unix(), at.Unix())
	if err != nil {
		return UserCount{}, err
	}
	if err = tx.Commit(); err != nil {
		return UserCount{}, err
	}
	return prev, nil
}

// AwardedThrough returns the highest milestone threshold whose role the user
// is known to hold in guildID, 0 when nothing was recorded.
func (s *Store) AwardedThrough(ctx context.Context, guildID, userID string) (int64, error) {
	var through int64
	err := s.db.QueryRowContext(ctx, `
		SELECT awarded_through FROM milestone_awards WHERE guild_id = ? AND user_id = ?
	`, guildID, userID).Scan(&through)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return through, err
}

// MarkMilestoneAwarded raises the guild's watermark for userID to threshold;
// it never lowers it.
func (s *Store) MarkMilestoneAwarded(ctx context.Context, guildID, userID string, threshold int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO milestone_awards (guild_id, user_id, awarded_through, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			awarded_through = MAX(awarded_through, excluded.awarded_through),
			updated_at = excluded.updated_at
	`, guildID, userID, threshold, at.Unix())
	return err
}

// TopMessageCounts orders by count descending, ties by insertion order.
func (s *Store) TopMessageCounts(ctx context.Context, limit int) ([]UserCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userCountColumns+`
		FROM message_counts
		ORDER BY message_count DESC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make([]UserCount, 0, limit)
	for rows.Next() {
		uc, err := scanUserCount(rows)
		if err != nil {
			return nil, err
		}
		counts = append(counts, uc)
	}
	return counts, rows.Err()
}

// MessageCountRank returns the 1-based position of userID in the same ordering
// TopMessageCounts uses.
func (s *Store) MessageCountRank(ctx context.Context, userID string) (int, bool, error) {
	var id, count int64
	err := s.db.QueryRowContext(ctx, `SELECT id, message_count FROM message_counts WHERE user_id = ?`, userID).Scan(&id, &count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}

	var ahead int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM message_counts
		WHERE message_count > ? OR (message_count = ? AND id < ?)
	`, count, count, id).Scan(&ahead)
	if err != nil {
		return 0, false, err
	}
	return ahead + 1, true, nil
}

// MessageCounts pages through every record in insertion order. Each page is
// fully read before it is yielded, so callers may use the store while ranging.
func (s *Store) MessageCounts(ctx context.Context, pageSize int) iter.Seq2[UserCount, error] {
	if pageSize <= 0 {
		pageSize = 500
	}
	return func(yield func(UserCount, error) bool) {
		var lastID int64
		for {
			page, ids, err := s.messageCountPage(ctx, lastID, pageSize)
			if err != nil {
				yield(UserCount{}, err)
				return
			}
			for i, uc := range page {
				if !yield(uc, nil) {
					return
				}
				lastID = ids[i]
			}
			if len(page) < pageSize {
				return
			}
		}
	}
}

func (s *Store) messageCountPage(ctx context.Context, afterID int64, limit int) ([]UserCount, []int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, `+userCountColumns+`
		FROM message_counts
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		page []UserCount
		ids  []int64
	)
	for rows.Next() {
		var (
			id   int64
			uc   UserCount
			last int64
		)
		if err := rows.Scan(&id, &uc.UserID, &uc.DisplayName, &uc.MessageCount, &last); err != nil {
			return nil, nil, err
		}
		uc.LastMessageAt = time.Unix(last, 0)
		page = append(page, uc)
		ids = append(ids, id)
	}
	return page, ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserCount(row rowScanner) (UserCount, error) {
	var uc UserCount
	var last int64
	if err := row.Scan(&uc.UserID, &uc.DisplayName, &uc.MessageCount, &last); err != nil {
		return UserCount{}, err
	}
	uc.LastMessageAt = time.Unix(last, 0)
	return uc, nil
}
