package store

import "time"

// ConversationMemory is one remembered question/answer exchange, used to give
// follow-up questions short-term context.
type ConversationMemory struct {
	ID        int64
	ChatID    int64
	UserID    int64
	Question  string
	Answer    string
	CreatedAt time.Time
}

// FindConversationMemory specifies the conditions for listing remembered
// exchanges.
type FindConversationMemory struct {
	ChatID *int64
	UserID *int64
	Limit  int
}
