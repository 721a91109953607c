package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/chatsense/store"
)

const chatColumns = `id, title, type, active, deactivation_reason, deactivated_at, created_at, updated_at`

func scanChat(row interface{ Scan(...any) error }) (*store.Chat, error) {
	var chat store.Chat
	err := row.Scan(
		&chat.ID,
		&chat.Title,
		&chat.Type,
		&chat.Active,
		&chat.DeactivationReason,
		&chat.DeactivatedAt,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// UpsertChat registers a chat or refreshes its title/type. Activation state
// is preserved on conflict so a deactivated chat stays deactivated until
// someone re-activates it explicitly.
func (d *DB) UpsertChat(ctx context.Context, create *store.Chat) (*store.Chat, error) {
	stmt := `
		INSERT INTO chats (id, title, type, active)
		VALUES (` + placeholders(4) + `)
		ON CONFLICT (id)
		DO UPDATE SET
			title = EXCLUDED.title,
			type = EXCLUDED.type,
			updated_at = NOW()
		RETURNING ` + chatColumns + `
	`

	chat, err := scanChat(d.db.QueryRowContext(ctx, stmt,
		create.ID,
		create.Title,
		create.Type,
		create.Active,
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert chat")
	}

	return chat, nil
}

func (d *DB) GetChat(ctx context.Context, id int64) (*store.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = $1`

	chat, err := scanChat(d.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get chat")
	}
	return chat, nil
}

func (d *DB) ListChats(ctx context.Context, find *store.FindChat) ([]*store.Chat, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.OnlyActive {
		where = append(where, "active = TRUE")
	}

	query := `SELECT ` + chatColumns + ` FROM chats WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chats")
	}
	defer rows.Close()

	list := []*store.Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan chat")
		}
		list = append(list, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// SetChatActive toggles a chat. Deactivation records why and when;
// re-activation clears both.
func (d *DB) SetChatActive(ctx context.Context, id int64, active bool, reason string) error {
	stmt := `
		UPDATE chats
		SET active = $1,
			deactivation_reason = CASE WHEN $1 THEN '' ELSE $2 END,
			deactivated_at = CASE WHEN $1 THEN NULL ELSE NOW() END,
			updated_at = NOW()
		WHERE id = $3
	`
	if _, err := d.db.ExecContext(ctx, stmt, active, reason, id); err != nil {
		return errors.Wrap(err, "failed to set chat active")
	}
	return nil
}
