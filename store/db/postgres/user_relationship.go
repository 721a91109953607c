package postgres

import (
	"context"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/chatsense/store"
)

const userRelationshipColumns = "id, chat_id, from_user_id, related_name, related_user_id, type, surface_label, confidence, mention_count, source_message_ids, active, ended_at, end_reason, created_at, updated_at"

func scanUserRelationship(row interface{ Scan(...any) error }) (*store.UserRelationship, error) {
	var rel store.UserRelationship
	err := row.Scan(
		&rel.ID,
		&rel.ChatID,
		&rel.FromUserID,
		&rel.RelatedName,
		&rel.RelatedUserID,
		&rel.Type,
		&rel.SurfaceLabel,
		&rel.Confidence,
		&rel.MentionCount,
		(*pq.Int64Array)(&rel.SourceMessageIDs),
		&rel.Active,
		&rel.EndedAt,
		&rel.EndReason,
		&rel.CreatedAt,
		&rel.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

// UpsertUserRelationship records one mention of a relationship. Edges are
// keyed by the lowercased person name, so "Маша" and "маша" are one edge. A
// re-mention bumps the count, takes the max confidence, unions the sources
// and revives an ended edge. For exclusive types (spouse, partner) any
// active edge of the same type naming a different person is ended first, in
// the same transaction.
func (d *DB) UpsertUserRelationship(ctx context.Context, upsert *store.UserRelationship) (*store.UserRelationship, error) {
	nameLower := strings.ToLower(strings.TrimSpace(upsert.RelatedName))
	if nameLower == "" {
		return nil, errors.New("relationship requires a related name")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin relationship tx")
	}
	defer tx.Rollback()

	if store.ExclusiveRelationships[upsert.Type] {
		deactivate := `
			UPDATE user_relationships
			SET active = FALSE, ended_at = NOW(), end_reason = 'replaced', updated_at = NOW()
			WHERE chat_id = $1 AND from_user_id = $2 AND type = $3 AND related_name_lower <> $4 AND active
		`
		if _, err := tx.ExecContext(ctx, deactivate, upsert.ChatID, upsert.FromUserID, upsert.Type, nameLower); err != nil {
			return nil, errors.Wrap(err, "failed to deactivate prior relationships")
		}
	}

	stmt := `
		INSERT INTO user_relationships (chat_id, from_user_id, related_name, related_name_lower, related_user_id, type, surface_label, confidence, source_message_ids)
		VALUES (` + placeholders(9) + `)
		ON CONFLICT (chat_id, from_user_id, related_name_lower, type)
		DO UPDATE SET
			related_name = EXCLUDED.related_name,
			related_user_id = COALESCE(EXCLUDED.related_user_id, user_relationships.related_user_id),
			surface_label = CASE WHEN EXCLUDED.confidence >= user_relationships.confidence THEN EXCLUDED.surface_label ELSE user_relationships.surface_label END,
			confidence = GREATEST(user_relationships.confidence, EXCLUDED.confidence),
			mention_count = user_relationships.mention_count + 1,
			source_message_ids = (
				SELECT ARRAY(SELECT DISTINCT unnest(user_relationships.source_message_ids || EXCLUDED.source_message_ids) ORDER BY 1)
			),
			active = TRUE,
			ended_at = NULL,
			end_reason = '',
			updated_at = NOW()
		RETURNING ` + userRelationshipColumns

	rel, err := scanUserRelationship(tx.QueryRowContext(ctx, stmt,
		upsert.ChatID,
		upsert.FromUserID,
		strings.TrimSpace(upsert.RelatedName),
		nameLower,
		upsert.RelatedUserID,
		upsert.Type,
		upsert.SurfaceLabel,
		upsert.Confidence,
		int64Array(upsert.SourceMessageIDs),
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert user relationship")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit relationship tx")
	}
	return rel, nil
}

func (d *DB) ListUserRelationships(ctx context.Context, find *store.FindUserRelationship) ([]*store.UserRelationship, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ChatID != nil {
		where, args = append(where, "chat_id = "+placeholder(len(args)+1)), append(args, *find.ChatID)
	}
	if find.UserID != nil {
		n := placeholder(len(args) + 1)
		where, args = append(where, "(from_user_id = "+n+" OR related_user_id = "+n+")"), append(args, *find.UserID)
	}
	if find.OnlyActive {
		where = append(where, "active")
	}

	query := `SELECT ` + userRelationshipColumns + ` FROM user_relationships WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY confidence DESC, updated_at DESC`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list user relationships")
	}
	defer rows.Close()

	list := []*store.UserRelationship{}
	for rows.Next() {
		rel, err := scanUserRelationship(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan user relationship")
		}
		list = append(list, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
