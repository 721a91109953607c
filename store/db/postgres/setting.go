package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/chatsense/store"
)

// Admin settings

func (d *DB) UpsertAdminSetting(ctx context.Context, setting *store.AdminSetting) error {
	stmt := `
		INSERT INTO admin_settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := d.db.ExecContext(ctx, stmt, setting.Key, setting.Value); err != nil {
		return errors.Wrap(err, "failed to upsert admin setting")
	}
	return nil
}

func (d *DB) GetAdminSetting(ctx context.Context, key string) (*store.AdminSetting, error) {
	var setting store.AdminSetting
	err := d.db.QueryRowContext(ctx, `SELECT key, value, updated_at FROM admin_settings WHERE key = $1`, key).
		Scan(&setting.Key, &setting.Value, &setting.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get admin setting")
	}
	return &setting, nil
}

func (d *DB) ListAdminSettings(ctx context.Context) ([]*store.AdminSetting, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT key, value, updated_at FROM admin_settings ORDER BY key ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list admin settings")
	}
	defer rows.Close()

	list := []*store.AdminSetting{}
	for rows.Next() {
		var setting store.AdminSetting
		if err := rows.Scan(&setting.Key, &setting.Value, &setting.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan admin setting")
		}
		list = append(list, &setting)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// Prompt settings

func (d *DB) UpsertPromptSetting(ctx context.Context, setting *store.PromptSetting) error {
	stmt := `
		INSERT INTO prompt_settings (command, mode, language, text)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (command, mode, language) DO UPDATE SET text = EXCLUDED.text, updated_at = NOW()
	`
	if _, err := d.db.ExecContext(ctx, stmt, setting.Command, setting.Mode, setting.Language, setting.Text); err != nil {
		return errors.Wrap(err, "failed to upsert prompt setting")
	}
	return nil
}

func (d *DB) GetPromptSetting(ctx context.Context, command, mode, language string) (*store.PromptSetting, error) {
	var setting store.PromptSetting
	err := d.db.QueryRowContext(ctx,
		`SELECT command, mode, language, text, updated_at FROM prompt_settings WHERE command = $1 AND mode = $2 AND language = $3`,
		command, mode, language,
	).Scan(&setting.Command, &setting.Mode, &setting.Language, &setting.Text, &setting.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get prompt setting")
	}
	return &setting, nil
}

func (d *DB) ListPromptSettings(ctx context.Context) ([]*store.PromptSetting, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT command, mode, language, text, updated_at FROM prompt_settings ORDER BY command, mode, language`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list prompt settings")
	}
	defer rows.Close()

	list := []*store.PromptSetting{}
	for rows.Next() {
		var setting store.PromptSetting
		if err := rows.Scan(&setting.Command, &setting.Mode, &setting.Language, &setting.Text, &setting.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan prompt setting")
		}
		list = append(list, &setting)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// Chat settings

func (d *DB) UpsertChatSetting(ctx context.Context, setting *store.ChatSetting) error {
	stmt := `
		INSERT INTO chat_settings (chat_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := d.db.ExecContext(ctx, stmt, setting.ChatID, setting.Key, setting.Value); err != nil {
		return errors.Wrap(err, "failed to upsert chat setting")
	}
	return nil
}

func (d *DB) GetChatSetting(ctx context.Context, chatID int64, key string) (*store.ChatSetting, error) {
	var setting store.ChatSetting
	err := d.db.QueryRowContext(ctx,
		`SELECT chat_id, key, value, updated_at FROM chat_settings WHERE chat_id = $1 AND key = $2`,
		chatID, key,
	).Scan(&setting.ChatID, &setting.Key, &setting.Value, &setting.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get chat setting")
	}
	return &setting, nil
}

func (d *DB) ListChatSettings(ctx context.Context, chatID int64) ([]*store.ChatSetting, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT chat_id, key, value, updated_at FROM chat_settings WHERE chat_id = $1 ORDER BY key ASC`, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chat settings")
	}
	defer rows.Close()

	list := []*store.ChatSetting{}
	for rows.Next() {
		var setting store.ChatSetting
		if err := rows.Scan(&setting.ChatID, &setting.Key, &setting.Value, &setting.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan chat setting")
		}
		list = append(list, &setting)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
