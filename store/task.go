package store

import "time"

// Queue payloads. Each struct is the JSON body stored in its queue's payload
// column; field changes must stay backward-compatible with rows already in
// flight.

// AskTask asks the retrieval engine a question on behalf of a user.
// Command distinguishes /ask (retrieval-backed) from /smart (direct).
type AskTask struct {
	RequestID   string `json:"request_id"`
	ChatID      int64  `json:"chat_id"`
	UserID      int64  `json:"user_id"`
	MessageID   int64  `json:"message_id"`
	DisplayName string `json:"display_name"`
	Username    string `json:"username,omitempty"`
	Question    string `json:"question"`
	Command     string `json:"command"`
}

// SummaryTask requests a digest of the last Window of chat history.
type SummaryTask struct {
	RequestID   string        `json:"request_id"`
	ChatID      int64         `json:"chat_id"`
	UserID      int64         `json:"user_id"`
	MessageID   int64         `json:"message_id"`
	DisplayName string        `json:"display_name"`
	Window      time.Duration `json:"window"`
}

// TruthTask requests a truthfulness verdict over the last Count messages.
type TruthTask struct {
	RequestID string `json:"request_id"`
	ChatID    int64  `json:"chat_id"`
	UserID    int64  `json:"user_id"`
	MessageID int64  `json:"message_id"`
	Count     int    `json:"count"`
}

// MessageTask feeds one saved message to the fact extractor.
type MessageTask struct {
	ChatID      int64  `json:"chat_id"`
	MessageID   int64  `json:"message_id"`
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
}

// QuestionTask marks one message eligible for hypothetical-question
// generation.
type QuestionTask struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}
