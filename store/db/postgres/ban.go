package postgres

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/chatsense/store"
)

func (d *DB) BanUser(ctx context.Context, ban *store.BannedUser) error {
	stmt := `
		INSERT INTO banned_users (user_id, reason, banned_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET reason = EXCLUDED.reason, banned_by = EXCLUDED.banned_by, banned_at = NOW()
	`

	if _, err := d.db.ExecContext(ctx, stmt, ban.UserID, ban.Reason, ban.BannedBy); err != nil {
		return errors.Wrap(err, "failed to ban user")
	}
	return nil
}

func (d *DB) UnbanUser(ctx context.Context, userID int64) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM banned_users WHERE user_id = $1`, userID); err != nil {
		return errors.Wrap(err, "failed to unban user")
	}
	return nil
}

func (d *DB) IsUserBanned(ctx context.Context, userID int64) (bool, error) {
	var banned bool
	err := d.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM banned_users WHERE user_id = $1)`, userID).Scan(&banned)
	if err != nil {
		return false, errors.Wrap(err, "failed to check ban status")
	}
	return banned, nil
}

func (d *DB) ListBannedUsers(ctx context.Context) ([]*store.BannedUser, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT user_id, reason, banned_at, banned_by FROM banned_users ORDER BY banned_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list banned users")
	}
	defer rows.Close()

	list := []*store.BannedUser{}
	for rows.Next() {
		var ban store.BannedUser
		if err := rows.Scan(&ban.UserID, &ban.Reason, &ban.BannedAt, &ban.BannedBy); err != nil {
			return nil, errors.Wrap(err, "failed to scan banned user")
		}
		list = append(list, &ban)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
