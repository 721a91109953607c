package postgres

import (
	"context"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/chatsense/store"
)

// UpsertUserFact stores one fact keyed by its text. Re-extraction of the same
// fact takes the max confidence, keeps the higher-confidence type and unions
// in the new source message ids.
func (d *DB) UpsertUserFact(ctx context.Context, upsert *store.UserFact) (*store.UserFact, error) {
	stmt := `
		INSERT INTO user_facts (chat_id, user_id, fact_type, fact_value, confidence, source_message_ids)
		VALUES (` + placeholders(6) + `)
		ON CONFLICT (chat_id, user_id, fact_value)
		DO UPDATE SET
			fact_type = CASE WHEN EXCLUDED.confidence >= user_facts.confidence THEN EXCLUDED.fact_type ELSE user_facts.fact_type END,
			confidence = GREATEST(user_facts.confidence, EXCLUDED.confidence),
			source_message_ids = (
				SELECT ARRAY(SELECT DISTINCT unnest(user_facts.source_message_ids || EXCLUDED.source_message_ids) ORDER BY 1)
			),
			updated_at = NOW()
		RETURNING id, chat_id, user_id, fact_type, fact_value, confidence, source_message_ids, created_at, updated_at
	`

	var fact store.UserFact
	var sourceIDs pq.Int64Array
	err := d.db.QueryRowContext(ctx, stmt,
		upsert.ChatID,
		upsert.UserID,
		upsert.FactType,
		upsert.FactValue,
		upsert.Confidence,
		int64Array(upsert.SourceMessageIDs),
	).Scan(
		&fact.ID,
		&fact.ChatID,
		&fact.UserID,
		&fact.FactType,
		&fact.FactValue,
		&fact.Confidence,
		&sourceIDs,
		&fact.CreatedAt,
		&fact.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert user fact")
	}
	fact.SourceMessageIDs = sourceIDs

	return &fact, nil
}

func (d *DB) ListUserFacts(ctx context.Context, find *store.FindUserFact) ([]*store.UserFact, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ChatID != nil {
		where, args = append(where, "chat_id = "+placeholder(len(args)+1)), append(args, *find.ChatID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.FactType != nil {
		where, args = append(where, "fact_type = "+placeholder(len(args)+1)), append(args, *find.FactType)
	}
	if find.MinConfidence > 0 {
		where, args = append(where, "confidence >= "+placeholder(len(args)+1)), append(args, find.MinConfidence)
	}

	query := `
		SELECT id, chat_id, user_id, fact_type, fact_value, confidence, source_message_ids, created_at, updated_at
		FROM user_facts
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY confidence DESC, updated_at DESC
	`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list user facts")
	}
	defer rows.Close()

	list := []*store.UserFact{}
	for rows.Next() {
		var fact store.UserFact
		var sourceIDs pq.Int64Array
		err := rows.Scan(
			&fact.ID,
			&fact.ChatID,
			&fact.UserID,
			&fact.FactType,
			&fact.FactValue,
			&fact.Confidence,
			&sourceIDs,
			&fact.CreatedAt,
			&fact.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan user fact")
		}
		fact.SourceMessageIDs = sourceIDs
		list = append(list, &fact)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
