package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/chatsense/store"
)

const messageColumns = "chat_id, message_id, user_id, username, first_name, text, type, has_links, has_media, reply_to_message_id, reply_to_user_id, created_at"

func scanMessage(row interface{ Scan(...any) error }) (*store.Message, error) {
	var message store.Message
	err := row.Scan(
		&message.ChatID,
		&message.MessageID,
		&message.UserID,
		&message.Username,
		&message.FirstName,
		&message.Text,
		&message.Type,
		&message.HasLinks,
		&message.HasMedia,
		&message.ReplyToMessageID,
		&message.ReplyToUserID,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// UpsertMessage stores a message. Re-delivery of the same (chat, message) id
// is a no-op, which keeps ingestion idempotent.
func (d *DB) UpsertMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	stmt := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (` + placeholders(12) + `)
		ON CONFLICT (chat_id, message_id) DO NOTHING
	`

	if create.CreatedAt.IsZero() {
		create.CreatedAt = time.Now()
	}
	if create.Type == "" {
		create.Type = store.MessageTypeText
	}
	_, err := d.db.ExecContext(ctx, stmt,
		create.ChatID,
		create.MessageID,
		create.UserID,
		create.Username,
		create.FirstName,
		create.Text,
		create.Type,
		create.HasLinks,
		create.HasMedia,
		create.ReplyToMessageID,
		create.ReplyToUserID,
		create.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert message")
	}

	return create, nil
}

func (d *DB) GetMessage(ctx context.Context, chatID, messageID int64) (*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE chat_id = $1 AND message_id = $2`

	message, err := scanMessage(d.db.QueryRowContext(ctx, query, chatID, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get message")
	}
	return message, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ChatID != nil {
		where, args = append(where, "chat_id = "+placeholder(len(args)+1)), append(args, *find.ChatID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Since != nil {
		where, args = append(where, "created_at >= "+placeholder(len(args)+1)), append(args, *find.Since)
	}
	if find.Until != nil {
		where, args = append(where, "created_at < "+placeholder(len(args)+1)), append(args, *find.Until)
	}

	order := "DESC"
	if find.Ascending {
		order = "ASC"
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at ` + order + `, message_id ` + order
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, message)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// ListMessagesAround returns the message plus its chat neighbours, ordered by
// message id.
func (d *DB) ListMessagesAround(ctx context.Context, chatID, messageID int64, before, after int) ([]*store.Message, error) {
	query := `
		(SELECT ` + messageColumns + ` FROM messages
			WHERE chat_id = $1 AND message_id < $2
			ORDER BY message_id DESC LIMIT $3)
		UNION ALL
		(SELECT ` + messageColumns + ` FROM messages
			WHERE chat_id = $1 AND message_id >= $2
			ORDER BY message_id ASC LIMIT $4)
		ORDER BY message_id ASC
	`

	rows, err := d.db.QueryContext(ctx, query, chatID, messageID, before, after+1)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages around")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, message)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// ListMessagesWithoutEmbedding finds messages that don't have a primary
// embedding chunk yet.
func (d *DB) ListMessagesWithoutEmbedding(ctx context.Context, minLength, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT m.chat_id, m.message_id, m.user_id, m.username, m.first_name, m.text, m.type, m.has_links, m.has_media, m.reply_to_message_id, m.reply_to_user_id, m.created_at
		FROM messages m
		LEFT JOIN message_embeddings e ON m.chat_id = e.chat_id AND m.message_id = e.message_id AND e.chunk_index = 0
		WHERE e.message_id IS NULL
			AND LENGTH(m.text) >= $1
		ORDER BY m.created_at ASC
		LIMIT $2
	`

	rows, err := d.db.QueryContext(ctx, query, minLength, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages without embedding")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, message)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// ListRecentMessages returns the chat's newest messages in ascending id order.
func (d *DB) ListRecentMessages(ctx context.Context, chatID int64, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + ` FROM messages
			WHERE chat_id = $1
			ORDER BY message_id DESC
			LIMIT $2
		) recent
		ORDER BY message_id ASC
	`

	rows, err := d.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recent messages")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, message)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// SearchMessagesLexical runs a full-text search over message text.
// websearch_to_tsquery tolerates raw user phrasing including quotes.
func (d *DB) SearchMessagesLexical(ctx context.Context, search *store.LexicalSearch) ([]*store.MessageMatch, error) {
	limit := search.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT ` + messageColumns + `,
			ts_rank(to_tsvector('russian', text), websearch_to_tsquery('russian', $2)) AS score
		FROM messages
		WHERE chat_id = $1
			AND to_tsvector('russian', text) @@ websearch_to_tsquery('russian', $2)
		ORDER BY score DESC
		LIMIT $3
	`

	rows, err := d.db.QueryContext(ctx, query, search.ChatID, search.Query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search messages lexical")
	}
	defer rows.Close()

	results := []*store.MessageMatch{}
	for rows.Next() {
		var message store.Message
		var match store.MessageMatch
		err := rows.Scan(
			&message.ChatID,
			&message.MessageID,
			&message.UserID,
			&message.Username,
			&message.FirstName,
			&message.Text,
			&message.Type,
			&message.HasLinks,
			&message.HasMedia,
			&message.ReplyToMessageID,
			&message.ReplyToUserID,
			&message.CreatedAt,
			&match.Score,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan lexical match")
		}
		match.Message = &message
		match.Source = "lexical"
		results = append(results, &match)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// SampleUserMessages returns a random sample of one user's messages for
// profile generation.
func (d *DB) SampleUserMessages(ctx context.Context, chatID, userID int64, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + messageColumns + ` FROM messages
		WHERE chat_id = $1 AND user_id = $2 AND LENGTH(text) >= 10
		ORDER BY RANDOM()
		LIMIT $3
	`

	rows, err := d.db.QueryContext(ctx, query, chatID, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sample user messages")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, message)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) CountMessages(ctx context.Context, find *store.FindMessage) (int64, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ChatID != nil {
		where, args = append(where, "chat_id = "+placeholder(len(args)+1)), append(args, *find.ChatID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Since != nil {
		where, args = append(where, "created_at >= "+placeholder(len(args)+1)), append(args, *find.Since)
	}
	if find.Until != nil {
		where, args = append(where, "created_at < "+placeholder(len(args)+1)), append(args, *find.Until)
	}

	var count int64
	query := `SELECT COUNT(*) FROM messages WHERE ` + strings.Join(where, " AND ")
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count messages")
	}
	return count, nil
}

// CountUserActivityByHour returns the user's message histogram over 24 UTC
// hours. Empty hours stay zero.
func (d *DB) CountUserActivityByHour(ctx context.Context, chatID, userID int64) ([]int64, error) {
	query := `
		SELECT EXTRACT(HOUR FROM created_at AT TIME ZONE 'UTC')::int AS hour, COUNT(*)
		FROM messages
		WHERE chat_id = $1 AND user_id = $2
		GROUP BY hour
	`

	rows, err := d.db.QueryContext(ctx, query, chatID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count user activity by hour")
	}
	defer rows.Close()

	histogram := make([]int64, 24)
	for rows.Next() {
		var hour int
		var count int64
		if err := rows.Scan(&hour, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan activity hour")
		}
		if hour >= 0 && hour < 24 {
			histogram[hour] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return histogram, nil
}

// ListActiveChatUsers returns (chat, user) pairs with enough recent traffic
// to be worth profiling.
func (d *DB) ListActiveChatUsers(ctx context.Context, since time.Time, minMessages int64) ([]*store.ChatUserActivity, error) {
	query := `
		SELECT chat_id, user_id, COUNT(*) AS cnt
		FROM messages
		WHERE created_at >= $1
		GROUP BY chat_id, user_id
		HAVING COUNT(*) >= $2
		ORDER BY cnt DESC
	`

	rows, err := d.db.QueryContext(ctx, query, since, minMessages)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active chat users")
	}
	defer rows.Close()

	list := []*store.ChatUserActivity{}
	for rows.Next() {
		var activity store.ChatUserActivity
		if err := rows.Scan(&activity.ChatID, &activity.UserID, &activity.MessageCount); err != nil {
			return nil, errors.Wrap(err, "failed to scan chat user activity")
		}
		list = append(list, &activity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
