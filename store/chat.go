package store

import "time"

// Chat represents a group chat the bot has been added to.
// Inactive chats are skipped by ingestion and background work; a chat is
// deactivated when the transport reports it permanently unreachable and
// re-activated administratively. Activation clears the deactivation fields.
type Chat struct {
	ID                 int64
	Title              string
	Type               string // "group", "supergroup"
	Active             bool
	DeactivationReason string
	DeactivatedAt      *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// FindChat specifies the conditions for listing chats.
type FindChat struct {
	ID         *int64
	OnlyActive bool
}
