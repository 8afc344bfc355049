package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const (
	SanctionBan  = "ban"
	SanctionMute = "mute"
)

// Sanction is a temporary punishment that must be lifted at ExpiresAt.
type Sanction struct {
	ID          string
	GuildID     string
	UserID      string
	Kind        string
	RoleID      string
	Reason      string
	ModeratorID string
	ExpiresAt   time.Time
	CompletedAt *time.Time
}

func (s *Store) AddSanction(ctx context.Context, sanction Sanction) (Sanction, error) {
	if sanction.ID == "" {
		sanction.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sanctions (id, guild_id, user_id, kind, role_id, reason, moderator_id, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sanction.ID, sanction.GuildID, sanction.UserID, sanction.Kind, sanction.RoleID, sanction.Reason, sanction.ModeratorID, sanction.ExpiresAt.Unix())
	if err != nil {
		return Sanction{}, err
	}
	return sanction, nil
}

func (s *Store) ListPendingSanctions(ctx context.Context) ([]Sanction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, kind, role_id, reason, moderator_id, expires_at
		FROM sanctions
		WHERE completed_at IS NULL
		ORDER BY expires_at ASC
	`)
	if err != nil {
		return nil, err
	}
	return scanPendingSanctions(rows)
}

// PendingSanctionsFor lists the uncompleted sanctions of one kind held by a
// user in a guild.
func (s *Store) PendingSanctionsFor(ctx context.Context, guildID, userID, kind string) ([]Sanction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, kind, role_id, reason, moderator_id, expires_at
		FROM sanctions
		WHERE guild_id = ? AND user_id = ? AND kind = ? AND completed_at IS NULL
		ORDER BY expires_at ASC
	`, guildID, userID, kind)
	if err != nil {
		return nil, err
	}
	return scanPendingSanctions(rows)
}

func scanPendingSanctions(rows *sql.Rows) ([]Sanction, error) {
	defer rows.Close()

	var out []Sanction
	for rows.Next() {
		var sanction Sanction
		var expires int64
		if err := rows.Scan(&sanction.ID, &sanction.GuildID, &sanction.UserID, &sanction.Kind, &sanction.RoleID, &sanction.Reason, &sanction.ModeratorID, &expires); err != nil {
			return nil, err
		}
		sanction.ExpiresAt = time.Unix(expires, 0)
		out = append(out, sanction)
	}
	return out, rows.Err()
}

func (s *Store) CompleteSanction(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sanctions SET completed_at = ? WHERE id = ? AND completed_at IS NULL`, at.Unix(), id)
	return err
}

func (s *Store) GetSanction(ctx context.Context, id string) (Sanction, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, guild_id, user_id, kind, role_id, reason, moderator_id, expires_at, completed_at
		FROM sanctions WHERE id = ?
	`, id)
	var sanction Sanction
	var expires int64
	var completed sql.NullInt64
	err := row.Scan(&sanction.ID, &sanction.GuildID, &sanction.UserID, &sanction.Kind, &sanction.RoleID, &sanction.Reason, &sanction.ModeratorID, &expires, &completed)
	if err == sql.ErrNoRows {
		return Sanction{}, false, nil
	}
	if err != nil {
		return Sanction{}, false, err
	}
	sanction.ExpiresAt = time.Unix(expires, 0)
	if completed.Valid {
		value := time.Unix(completed.Int64, 0)
		sanction.CompletedAt = &value
	}
	return sanction, true, nil
}
