package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/chatsense/store"
)

const userAliasColumns = "id, chat_id, user_id, alias, alias_lower, source, usage_count, created_at, last_used_at"

func scanUserAlias(row interface{ Scan(...any) error }) (*store.UserAlias, error) {
	var alias store.UserAlias
	err := row.Scan(
		&alias.ID,
		&alias.ChatID,
		&alias.UserID,
		&alias.Alias,
		&alias.AliasLower,
		&alias.Source,
		&alias.UsageCount,
		&alias.CreatedAt,
		&alias.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}
	return &alias, nil
}

// RecordUserAlias upserts an alias sighting, bumping the usage counter on
// repeats. Lookup key is the lower-cased alias.
func (d *DB) RecordUserAlias(ctx context.Context, record *store.UserAlias) (*store.UserAlias, error) {
	if record.AliasLower == "" {
		record.AliasLower = strings.ToLower(record.Alias)
	}

	stmt := `
		INSERT INTO user_aliases (chat_id, user_id, alias, alias_lower, source)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (chat_id, user_id, alias_lower)
		DO UPDATE SET
			usage_count = user_aliases.usage_count + 1,
			last_used_at = NOW()
		RETURNING ` + userAliasColumns

	alias, err := scanUserAlias(d.db.QueryRowContext(ctx, stmt,
		record.ChatID,
		record.UserID,
		record.Alias,
		record.AliasLower,
		record.Source,
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to record user alias")
	}

	return alias, nil
}

func (d *DB) ListUserAliases(ctx context.Context, find *store.FindUserAlias) ([]*store.UserAlias, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ChatID != nil {
		where, args = append(where, "chat_id = "+placeholder(len(args)+1)), append(args, *find.ChatID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Alias != nil {
		where, args = append(where, "alias_lower = "+placeholder(len(args)+1)), append(args, strings.ToLower(*find.Alias))
	}

	query := `SELECT ` + userAliasColumns + ` FROM user_aliases WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY usage_count DESC, last_used_at DESC`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list user aliases")
	}
	defer rows.Close()

	list := []*store.UserAlias{}
	for rows.Next() {
		alias, err := scanUserAlias(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan user alias")
		}
		list = append(list, alias)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
