package store

import "time"

// MessageTypeText is the default type tag. Media messages carry the
// transport's tag instead ("photo", "video", "voice", ...).
const MessageTypeText = "text"

// Message represents one group-chat message as received from the transport.
// Identity is (ChatID, MessageID); MessageID is the transport's message id,
// unique within a chat. Text holds the caption for media messages and may be
// empty.
type Message struct {
	ChatID           int64
	MessageID        int64
	UserID           int64
	Username         string
	FirstName        string
	Text             string
	Type             string
	HasLinks         bool
	HasMedia         bool
	ReplyToMessageID *int64
	ReplyToUserID    *int64
	CreatedAt        time.Time
}

// FindMessage specifies the conditions for listing messages.
type FindMessage struct {
	ChatID    *int64
	UserID    *int64
	Since     *time.Time
	Until     *time.Time
	Ascending bool
	Limit     int
}

// MessageMatch is a message with a relevance score attached by a search path.
type MessageMatch struct {
	Message *Message
	Score   float64
	Source  string // "vector", "lexical" or "question"
}

// ContextMatch is a context-window hit: several consecutive messages embedded
// as one unit, keyed by the window's first message id.
type ContextMatch struct {
	ChatID         int64
	StartMessageID int64
	Text           string
	MessageCount   int
	Score          float64
}

// VectorSearch holds parameters for a kNN search over an embedding table.
type VectorSearch struct {
	ChatID int64
	Vector []float32
	Limit  int
}

// LexicalSearch holds parameters for a full-text search over messages.
type LexicalSearch struct {
	ChatID int64
	Query  string
	Limit  int
}

// ChatUserActivity aggregates per-user message counts for profile generation.
type ChatUserActivity struct {
	ChatID       int64
	UserID       int64
	MessageCount int64
}
