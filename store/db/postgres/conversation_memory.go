package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/chatsense/store"
)

func (d *DB) CreateConversationMemory(ctx context.Context, create *store.ConversationMemory) (*store.ConversationMemory, error) {
	stmt := `
		INSERT INTO conversation_memory (chat_id, user_id, question, answer)
		VALUES (` + placeholders(4) + `)
		RETURNING id, created_at
	`

	err := d.db.QueryRowContext(ctx, stmt,
		create.ChatID,
		create.UserID,
		create.Question,
		create.Answer,
	).Scan(&create.ID, &create.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create conversation memory")
	}

	return create, nil
}

func (d *DB) ListConversationMemories(ctx context.Context, find *store.FindConversationMemory) ([]*store.ConversationMemory, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ChatID != nil {
		where, args = append(where, "chat_id = "+placeholder(len(args)+1)), append(args, *find.ChatID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}

	query := `
		SELECT id, chat_id, user_id, question, answer, created_at
		FROM conversation_memory
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC
	`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversation memories")
	}
	defer rows.Close()

	list := []*store.ConversationMemory{}
	for rows.Next() {
		var memory store.ConversationMemory
		err := rows.Scan(&memory.ID, &memory.ChatID, &memory.UserID, &memory.Question, &memory.Answer, &memory.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation memory")
		}
		list = append(list, &memory)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) CleanupConversationMemories(ctx context.Context, retention time.Duration) (int64, error) {
	stmt := `DELETE FROM conversation_memory WHERE created_at < NOW() - ($1 * INTERVAL '1 second')`
	res, err := d.db.ExecContext(ctx, stmt, retention.Seconds())
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up conversation memories")
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}
