package store

import "time"

// AdminSetting is a global key/value knob adjustable from admin commands
// without redeploying.
type AdminSetting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// PromptSetting overrides a built-in prompt. Selection key is
// (command, mode, language); lookup falls back from the full key to
// command:mode and then to command defaults.
type PromptSetting struct {
	Command   string
	Mode      string
	Language  string
	Text      string
	UpdatedAt time.Time
}

// ChatSetting is a per-chat key/value knob (daily summary toggle, language,
// answer mode and similar).
type ChatSetting struct {
	ChatID    int64
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Well-known chat setting keys.
const (
	ChatSettingLanguage     = "language"
	ChatSettingMode         = "mode"
	ChatSettingDailySummary = "daily_summary"
)
