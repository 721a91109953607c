package postgres

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/hrygo/chatsense/store"
)

// Init creates the schema. Every statement is idempotent so startup can run
// it unconditionally.
func (d *DB) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS chats (
			id BIGINT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'group',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			deactivation_reason TEXT NOT NULL DEFAULT '',
			deactivated_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			chat_id BIGINT NOT NULL,
			message_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'text',
			has_links BOOLEAN NOT NULL DEFAULT FALSE,
			has_media BOOLEAN NOT NULL DEFAULT FALSE,
			reply_to_message_id BIGINT,
			reply_to_user_id BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chat_id, message_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages (chat_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_user ON messages (chat_id, user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_fts ON messages USING GIN (to_tsvector('russian', text))`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS message_embeddings (
			chat_id BIGINT NOT NULL,
			message_id BIGINT NOT NULL,
			chunk_index INT NOT NULL DEFAULT 0,
			text TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chat_id, message_id, chunk_index)
		)`, d.profile.AIEmbeddingDimensions),
		`CREATE INDEX IF NOT EXISTS idx_message_embeddings_hnsw ON message_embeddings USING hnsw (embedding vector_cosine_ops)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS context_embeddings (
			chat_id BIGINT NOT NULL,
			start_message_id BIGINT NOT NULL,
			end_message_id BIGINT NOT NULL,
			message_count INT NOT NULL,
			text TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chat_id, start_message_id)
		)`, d.profile.AIEmbeddingDimensions),
		`CREATE INDEX IF NOT EXISTS idx_context_embeddings_hnsw ON context_embeddings USING hnsw (embedding vector_cosine_ops)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS question_embeddings (
			chat_id BIGINT NOT NULL,
			message_id BIGINT NOT NULL,
			question_index INT NOT NULL DEFAULT 0,
			question TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chat_id, message_id, question_index)
		)`, d.profile.AIEmbeddingDimensions),
		`CREATE INDEX IF NOT EXISTS idx_question_embeddings_hnsw ON question_embeddings USING hnsw (embedding vector_cosine_ops)`,

		`CREATE TABLE IF NOT EXISTS user_profiles (
			chat_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			gender TEXT NOT NULL DEFAULT 'unknown',
			gender_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			summary TEXT NOT NULL DEFAULT '',
			communication_style TEXT NOT NULL DEFAULT '',
			role_label TEXT NOT NULL DEFAULT '',
			interests TEXT[] NOT NULL DEFAULT '{}',
			traits TEXT[] NOT NULL DEFAULT '{}',
			roast_material TEXT[] NOT NULL DEFAULT '{}',
			activity_by_hour BIGINT[] NOT NULL DEFAULT '{}',
			message_count BIGINT NOT NULL DEFAULT 0,
			profile_version INT NOT NULL DEFAULT 0,
			last_activity_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chat_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS user_facts (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			fact_type TEXT NOT NULL,
			fact_value TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			source_message_ids BIGINT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (chat_id, user_id, fact_value)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_facts_user ON user_facts (chat_id, user_id, confidence DESC)`,

		`CREATE TABLE IF NOT EXISTS user_aliases (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			alias TEXT NOT NULL,
			alias_lower TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'nickname',
			usage_count BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_used_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (chat_id, user_id, alias_lower)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_aliases_lookup ON user_aliases (chat_id, alias_lower, usage_count DESC)`,

		`CREATE TABLE IF NOT EXISTS user_relationships (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL,
			from_user_id BIGINT NOT NULL,
			related_name TEXT NOT NULL,
			related_name_lower TEXT NOT NULL,
			related_user_id BIGINT,
			type TEXT NOT NULL,
			surface_label TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			mention_count BIGINT NOT NULL DEFAULT 1,
			source_message_ids BIGINT[] NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			ended_at TIMESTAMPTZ,
			end_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (chat_id, from_user_id, related_name_lower, type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_relationships_user ON user_relationships (chat_id, from_user_id) WHERE active`,
		`CREATE INDEX IF NOT EXISTS idx_user_relationships_related ON user_relationships (chat_id, related_user_id) WHERE active AND related_user_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS banned_users (
			user_id BIGINT PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			banned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			banned_by BIGINT NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS admin_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS prompt_settings (
			command TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (command, mode, language)
		)`,

		`CREATE TABLE IF NOT EXISTS chat_settings (
			chat_id BIGINT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chat_id, key)
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_memory (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_memory_user ON conversation_memory (chat_id, user_id, created_at DESC)`,
	}

	for table := range store.QueueTables {
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				payload JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				picked_at TIMESTAMPTZ,
				started_at TIMESTAMPTZ,
				completed_at TIMESTAMPTZ,
				attempt_count INT NOT NULL DEFAULT 0,
				next_run_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				processed BOOLEAN NOT NULL DEFAULT FALSE,
				last_error TEXT
			)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ready ON %s (next_run_at) WHERE processed = FALSE`, table, table),
		)
	}

	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to run migration statement: %.80s", stmt)
		}
	}

	return nil
}
