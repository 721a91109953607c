package store

import "time"

// BannedUser is a user excluded from all bot interaction. Bans are global,
// not per chat.
type BannedUser struct {
	UserID   int64
	Reason   string
	BannedAt time.Time
	BannedBy int64
}
