package store

import "time"

// Alias sources, in rough order of trust.
const (
	AliasSourceUsername = "username"
	AliasSourceName     = "name"
	AliasSourceNickname = "nickname"
	AliasSourceManual   = "manual"
)

// UserAlias maps a name people actually use in chat to a user id. Lookup is
// case-insensitive via AliasLower; UsageCount ranks candidates when an alias
// is ambiguous.
type UserAlias struct {
	ID         int64
	ChatID     int64
	UserID     int64
	Alias      string
	AliasLower string
	Source     string
	UsageCount int64
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// FindUserAlias specifies the conditions for listing aliases.
type FindUserAlias struct {
	ChatID *int64
	UserID *int64
	Alias  *string // matched against AliasLower
	Limit  int
}
