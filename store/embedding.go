package store

import "time"

// MessageEmbedding is a vector for one message chunk. ChunkIndex 0 is the
// primary chunk; long messages may carry additional chunks.
type MessageEmbedding struct {
	ChatID     int64
	MessageID  int64
	ChunkIndex int
	Text       string
	Embedding  []float32
	Model      string
	CreatedAt  time.Time
}

// ContextEmbedding is a vector over a sliding window of consecutive messages,
// keyed by the window's first message id.
type ContextEmbedding struct {
	ChatID         int64
	StartMessageID int64
	EndMessageID   int64
	MessageCount   int
	Text           string
	Embedding      []float32
	Model          string
	CreatedAt      time.Time
}

// QuestionEmbedding is a vector for one hypothetical question generated from a
// message, keyed by (chat, message, question index).
type QuestionEmbedding struct {
	ChatID        int64
	MessageID     int64
	QuestionIndex int
	Question      string
	Embedding     []float32
	Model         string
	CreatedAt     time.Time
}

// EmbeddingStats reports indexing progress for one embedding table.
type EmbeddingStats struct {
	Total   int64
	Indexed int64
}

func (s EmbeddingStats) Pending() int64 {
	p := s.Total - s.Indexed
	if p < 0 {
		return 0
	}
	return p
}
