package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/chatsense/store"
)

// UpsertMessageEmbeddings stores a batch of message vectors in one statement.
// Re-indexing the same chunk is a no-op.
func (d *DB) UpsertMessageEmbeddings(ctx context.Context, embeddings []*store.MessageEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	values := []string{}
	args := []any{}
	now := time.Now()
	for i, e := range embeddings {
		base := i * 7
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7))
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		args = append(args, e.ChatID, e.MessageID, e.ChunkIndex, e.Text, pgvector.NewVector(e.Embedding), e.Model, createdAt)
	}

	stmt := `
		INSERT INTO message_embeddings (chat_id, message_id, chunk_index, text, embedding, model, created_at)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (chat_id, message_id, chunk_index) DO NOTHING
	`

	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to upsert message embeddings")
	}
	return nil
}

// UpsertContextEmbedding stores one context-window vector.
func (d *DB) UpsertContextEmbedding(ctx context.Context, embedding *store.ContextEmbedding) error {
	stmt := `
		INSERT INTO context_embeddings (chat_id, start_message_id, end_message_id, message_count, text, embedding, model)
		VALUES (` + placeholders(7) + `)
		ON CONFLICT (chat_id, start_message_id)
		DO UPDATE SET
			end_message_id = EXCLUDED.end_message_id,
			message_count = EXCLUDED.message_count,
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding,
			model = EXCLUDED.model
	`

	_, err := d.db.ExecContext(ctx, stmt,
		embedding.ChatID,
		embedding.StartMessageID,
		embedding.EndMessageID,
		embedding.MessageCount,
		embedding.Text,
		pgvector.NewVector(embedding.Embedding),
		embedding.Model,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert context embedding")
	}
	return nil
}

// UpsertQuestionEmbeddings stores generated-question vectors for a message.
func (d *DB) UpsertQuestionEmbeddings(ctx context.Context, embeddings []*store.QuestionEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	values := []string{}
	args := []any{}
	for i, e := range embeddings {
		base := i * 6
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, e.ChatID, e.MessageID, e.QuestionIndex, e.Question, pgvector.NewVector(e.Embedding), e.Model)
	}

	stmt := `
		INSERT INTO question_embeddings (chat_id, message_id, question_index, question, embedding, model)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (chat_id, message_id, question_index) DO NOTHING
	`

	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to upsert question embeddings")
	}
	return nil
}

// SearchMessageEmbeddings performs vector similarity search using pgvector.
// The <=> operator computes cosine distance, so ordering by it ascending
// returns the most similar first.
func (d *DB) SearchMessageEmbeddings(ctx context.Context, search *store.VectorSearch) ([]*store.MessageMatch, error) {
	limit := search.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT m.chat_id, m.message_id, m.user_id, m.username, m.first_name, m.text, m.type, m.has_links, m.has_media, m.reply_to_message_id, m.reply_to_user_id, m.created_at,
			1 - (e.embedding <=> $2) AS score
		FROM message_embeddings e
		INNER JOIN messages m ON m.chat_id = e.chat_id AND m.message_id = e.message_id
		WHERE e.chat_id = $1 AND e.chunk_index = 0
		ORDER BY e.embedding <=> $3
		LIMIT $4
	`

	vector := pgvector.NewVector(search.Vector)
	rows, err := d.db.QueryContext(ctx, query, search.ChatID, vector, vector, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search message embeddings")
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
			return nil, errors.Wrap(err, "failed to scan message embedding match")
		}
		match.Message = &message
		match.Source = "vector"
		results = append(results, &match)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// SearchContextEmbeddings performs vector similarity search over context
// windows.
func (d *DB) SearchContextEmbeddings(ctx context.Context, search *store.VectorSearch) ([]*store.ContextMatch, error) {
	limit := search.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT chat_id, start_message_id, text, message_count,
			1 - (embedding <=> $2) AS score
		FROM context_embeddings
		WHERE chat_id = $1
		ORDER BY embedding <=> $3
		LIMIT $4
	`

	vector := pgvector.NewVector(search.Vector)
	rows, err := d.db.QueryContext(ctx, query, search.ChatID, vector, vector, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search context embeddings")
	}
	defer rows.Close()

	results := []*store.ContextMatch{}
	for rows.Next() {
		var match store.ContextMatch
		err := rows.Scan(&match.ChatID, &match.StartMessageID, &match.Text, &match.MessageCount, &match.Score)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan context embedding match")
		}
		results = append(results, &match)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// SearchQuestionEmbeddings matches the query against generated questions and
// returns the underlying messages. Each message surfaces once with its best
// question's score.
func (d *DB) SearchQuestionEmbeddings(ctx context.Context, search *store.VectorSearch) ([]*store.MessageMatch, error) {
	limit := search.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT chat_id, message_id, user_id, username, first_name, text, type, has_links, has_media, reply_to_message_id, reply_to_user_id, created_at, score
		FROM (
			SELECT DISTINCT ON (q.message_id)
				m.chat_id, m.message_id, m.user_id, m.username, m.first_name, m.text, m.type, m.has_links, m.has_media, m.reply_to_message_id, m.reply_to_user_id, m.created_at,
				1 - (q.embedding <=> $2) AS score
			FROM question_embeddings q
			INNER JOIN messages m ON m.chat_id = q.chat_id AND m.message_id = q.message_id
			WHERE q.chat_id = $1
			ORDER BY q.message_id, q.embedding <=> $3
		) best
		ORDER BY score DESC
		LIMIT $4
	`

	vector := pgvector.NewVector(search.Vector)
	rows, err := d.db.QueryContext(ctx, query, search.ChatID, vector, vector, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search question embeddings")
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
			return nil, errors.Wrap(err, "failed to scan question embedding match")
		}
		match.Message = &message
		match.Source = "question"
		results = append(results, &match)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

func (d *DB) CountMessageEmbeddingStats(ctx context.Context, minLength int) (*store.EmbeddingStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE LENGTH(m.text) >= $1) AS total,
			COUNT(*) FILTER (WHERE LENGTH(m.text) >= $1 AND e.message_id IS NOT NULL) AS indexed
		FROM messages m
		LEFT JOIN message_embeddings e ON m.chat_id = e.chat_id AND m.message_id = e.message_id AND e.chunk_index = 0
	`

	var stats store.EmbeddingStats
	if err := d.db.QueryRowContext(ctx, query, minLength).Scan(&stats.Total, &stats.Indexed); err != nil {
		return nil, errors.Wrap(err, "failed to count message embedding stats")
	}
	return &stats, nil
}

// CountContextEmbeddingStats estimates window totals from per-chat message
// counts. The estimate over-counts chats with sparse history slightly, which
// is fine for progress reporting.
func (d *DB) CountContextEmbeddingStats(ctx context.Context, windowSize, windowStep int) (*store.EmbeddingStats, error) {
	query := `
		SELECT
			COALESCE(SUM(GREATEST((c.cnt - $1) / $2 + 1, 0)), 0) AS total,
			(SELECT COUNT(*) FROM context_embeddings) AS indexed
		FROM (SELECT chat_id, COUNT(*) AS cnt FROM messages GROUP BY chat_id) c
	`

	var stats store.EmbeddingStats
	if err := d.db.QueryRowContext(ctx, query, windowSize, windowStep).Scan(&stats.Total, &stats.Indexed); err != nil {
		return nil, errors.Wrap(err, "failed to count context embedding stats")
	}
	return &stats, nil
}

func (d *DB) CountQuestionEmbeddingStats(ctx context.Context) (*store.EmbeddingStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM question_generation_queue) AS total,
			(SELECT COUNT(DISTINCT (chat_id, message_id)) FROM question_embeddings) AS indexed
	`

	var stats store.EmbeddingStats
	if err := d.db.QueryRowContext(ctx, query).Scan(&stats.Total, &stats.Indexed); err != nil {
		return nil, errors.Wrap(err, "failed to count question embedding stats")
	}
	return &stats, nil
}

// ListContextEmbeddedStarts filters the given window-start ids down to those
// already embedded.
func (d *DB) ListContextEmbeddedStarts(ctx context.Context, chatID int64, startIDs []int64) ([]int64, error) {
	if len(startIDs) == 0 {
		return nil, nil
	}

	query := `SELECT start_message_id FROM context_embeddings WHERE chat_id = $1 AND start_message_id = ANY($2)`

	rows, err := d.db.QueryContext(ctx, query, chatID, pq.Array(startIDs))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list context embedded starts")
	}
	defer rows.Close()

	list := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan context start id")
		}
		list = append(list, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
