package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/hrygo/chatsense/store"
)

// MessageHandler embeds messages that lack a primary chunk.
type MessageHandler struct {
	store    *store.Store
	embedder Embedder
	// MinLength skips short messages with no retrieval value.
	minLength int
}

// NewMessageHandler creates the handler.
func NewMessageHandler(st *store.Store, embedder Embedder, minLength int) *MessageHandler {
	if minLength <= 0 {
		minLength = 6
	}
	return &MessageHandler{store: st, embedder: embedder, minLength: minLength}
}

func (h *MessageHandler) Name() string  { return "messages" }
func (h *MessageHandler) Enabled() bool { return true }

func (h *MessageHandler) Stats(ctx context.Context) (*store.EmbeddingStats, error) {
	return h.store.CountMessageEmbeddingStats(ctx, h.minLength)
}

// ProcessBatch embeds up to size messages in one provider call. HasMore is
// true when the batch came back full.
func (h *MessageHandler) ProcessBatch(ctx context.Context, size int) (*BatchResult, error) {
	start := time.Now()

	messages, err := h.store.ListMessagesWithoutEmbedding(ctx, h.minLength, size)
	if err != nil {
		return nil, fmt.Errorf("list messages without embedding: %w", err)
	}
	if len(messages) == 0 {
		return &BatchResult{Elapsed: time.Since(start)}, nil
	}

	texts := make([]string, len(messages))
	for i, m := range messages {
		texts[i] = m.Text
	}
	vectors, err := h.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d messages: %w", len(messages), err)
	}

	embeddings := make([]*store.MessageEmbedding, 0, len(messages))
	for i, m := range messages {
		if len(vectors[i]) == 0 {
			continue
		}
		embeddings = append(embeddings, &store.MessageEmbedding{
			ChatID:     m.ChatID,
			MessageID:  m.MessageID,
			ChunkIndex: 0,
			Text:       m.Text,
			Embedding:  vectors[i],
			Model:      h.embedder.Model(),
		})
	}
	if err := h.store.UpsertMessageEmbeddings(ctx, embeddings); err != nil {
		return nil, fmt.Errorf("upsert message embeddings: %w", err)
	}

	return &BatchResult{
		Processed: len(embeddings),
		Elapsed:   time.Since(start),
		HasMore:   len(messages) == size,
	}, nil
}
