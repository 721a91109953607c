package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/chatsense/store"
)

const userProfileColumns = "chat_id, user_id, username, display_name, gender, gender_confidence, summary, communication_style, role_label, interests, traits, roast_material, activity_by_hour, message_count, profile_version, last_activity_at, created_at, updated_at"

func scanUserProfile(row interface{ Scan(...any) error }) (*store.UserProfile, error) {
	var p store.UserProfile
	err := row.Scan(
		&p.ChatID,
		&p.UserID,
		&p.Username,
		&p.DisplayName,
		&p.Gender,
		&p.GenderConfidence,
		&p.Summary,
		&p.CommunicationStyle,
		&p.RoleLabel,
		(*pq.StringArray)(&p.Interests),
		(*pq.StringArray)(&p.Traits),
		(*pq.StringArray)(&p.RoastMaterial),
		(*pq.Int64Array)(&p.ActivityByHour),
		&p.MessageCount,
		&p.ProfileVersion,
		&p.LastActivityAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// TouchUserActivity bumps the per-(chat, user) activity counters, creating
// the profile row on first sight. Names refresh only when non-empty so a
// message without a username does not erase a known one.
func (d *DB) TouchUserActivity(ctx context.Context, chatID, userID int64, username, displayName string) error {
	stmt := `
		INSERT INTO user_profiles (chat_id, user_id, username, display_name, message_count, last_activity_at)
		VALUES ($1, $2, $3, $4, 1, NOW())
		ON CONFLICT (chat_id, user_id)
		DO UPDATE SET
			username = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE user_profiles.username END,
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE user_profiles.display_name END,
			message_count = user_profiles.message_count + 1,
			last_activity_at = NOW(),
			updated_at = NOW()
	`

	if _, err := d.db.ExecContext(ctx, stmt, chatID, userID, username, displayName); err != nil {
		return errors.Wrap(err, "failed to touch user activity")
	}
	return nil
}

func (d *DB) GetUserProfile(ctx context.Context, chatID, userID int64) (*store.UserProfile, error) {
	query := `SELECT ` + userProfileColumns + ` FROM user_profiles WHERE chat_id = $1 AND user_id = $2`

	p, err := scanUserProfile(d.db.QueryRowContext(ctx, query, chatID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get user profile")
	}
	return p, nil
}

func (d *DB) ListUserProfiles(ctx context.Context, find *store.FindUserProfile) ([]*store.UserProfile, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ChatID != nil {
		where, args = append(where, "chat_id = "+placeholder(len(args)+1)), append(args, *find.ChatID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}

	query := `SELECT ` + userProfileColumns + ` FROM user_profiles WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY message_count DESC`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list user profiles")
	}
	defer rows.Close()

	list := []*store.UserProfile{}
	for rows.Next() {
		p, err := scanUserProfile(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan user profile")
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// UpdateUserGender sets the detected gender only when the new confidence is
// at least the stored one. Returns whether the row changed.
func (d *DB) UpdateUserGender(ctx context.Context, chatID, userID int64, gender string, confidence float64) (bool, error) {
	stmt := `
		UPDATE user_profiles
		SET gender = $3, gender_confidence = $4, updated_at = NOW()
		WHERE chat_id = $1 AND user_id = $2 AND gender_confidence <= $4
	`

	res, err := d.db.ExecContext(ctx, stmt, chatID, userID, gender, confidence)
	if err != nil {
		return false, errors.Wrap(err, "failed to update user gender")
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// SaveGeneratedProfile replaces every portrait field in one update, bumping
// the version. The row must already exist; profiles are only generated for
// users who have been seen posting.
func (d *DB) SaveGeneratedProfile(ctx context.Context, save *store.GeneratedProfile) error {
	stmt := `
		UPDATE user_profiles
		SET summary = $3,
			communication_style = $4,
			role_label = $5,
			interests = $6,
			traits = $7,
			roast_material = $8,
			activity_by_hour = $9,
			profile_version = profile_version + 1,
			updated_at = NOW()
		WHERE chat_id = $1 AND user_id = $2
	`

	res, err := d.db.ExecContext(ctx, stmt,
		save.ChatID,
		save.UserID,
		save.Summary,
		save.CommunicationStyle,
		save.RoleLabel,
		textArray(save.Interests),
		textArray(save.Traits),
		textArray(save.RoastMaterial),
		int64Array(save.ActivityByHour),
	)
	if err != nil {
		return errors.Wrap(err, "failed to save generated profile")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return errors.Errorf("no profile row for chat %d user %d", save.ChatID, save.UserID)
	}
	return nil
}

func (d *DB) ListProfileCandidates(ctx context.Context, find *store.ProfileCandidate) ([]*store.UserProfile, error) {
	limit := find.Limit
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT ` + userProfileColumns + ` FROM user_profiles
		WHERE last_activity_at >= $1 AND message_count >= $2
		ORDER BY last_activity_at DESC
		LIMIT $3
	`

	rows, err := d.db.QueryContext(ctx, query, find.ActiveSince, find.MinMessages, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list profile candidates")
	}
	defer rows.Close()

	list := []*store.UserProfile{}
	for rows.Next() {
		p, err := scanUserProfile(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan user profile")
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
