package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hrygo/chatsense/ai/core/llm"
	"github.com/hrygo/chatsense/ai/resilience"
	"github.com/hrygo/chatsense/prompts"
	"github.com/hrygo/chatsense/queue"
	"github.com/hrygo/chatsense/store"
)

// Completer is the slice of the LLM router the question handler needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// QuestionHandler drains the question-generation queue: for each message an
// LLM proposes up to K questions the message answers, and each question is
// embedded. Question vectors bridge the question→answer vocabulary gap in
// general retrieval.
type QuestionHandler struct {
	store      *store.Store
	queue      *queue.Service[store.QuestionTask]
	llm        Completer
	embedder   Embedder
	catalogue  *prompts.Catalogue
	perMessage int
	minLength  int
	logger     *slog.Logger
}

// NewQuestionHandler creates the handler. A nil llm disables it.
func NewQuestionHandler(
	st *store.Store,
	q *queue.Service[store.QuestionTask],
	completer Completer,
	embedder Embedder,
	catalogue *prompts.Catalogue,
	perMessage, minLength int,
	logger *slog.Logger,
) *QuestionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if perMessage <= 0 {
		perMessage = 3
	}
	if minLength <= 0 {
		minLength = 6
	}
	return &QuestionHandler{
		store:      st,
		queue:      q,
		llm:        completer,
		embedder:   embedder,
		catalogue:  catalogue,
		perMessage: perMessage,
		minLength:  minLength,
		logger:     logger.With("component", "questions"),
	}
}

func (h *QuestionHandler) Name() string  { return "questions" }
func (h *QuestionHandler) Enabled() bool { return h.llm != nil }

func (h *QuestionHandler) Stats(ctx context.Context) (*store.EmbeddingStats, error) {
	return h.store.CountQuestionEmbeddingStats(ctx)
}

// ProcessBatch drains up to size queued messages. A rate-limit error is
// returned to the orchestrator so the whole pipeline pauses; other failures
// release the item for retry and move on.
func (h *QuestionHandler) ProcessBatch(ctx context.Context, size int) (*BatchResult, error) {
	start := time.Now()
	processed := 0

	for processed < size {
		item, err := h.queue.Pick(ctx)
		if err != nil {
			return nil, err
		}
		if item == nil {
			break
		}

		if err := h.process(ctx, &item.Payload); err != nil {
			if ferr := h.queue.Fail(ctx, item, err); ferr != nil {
				h.logger.Error("failed to release question task", "id", item.ID, "error", ferr)
			}
			if resilience.RateLimited(err) {
				return &BatchResult{Processed: processed, Elapsed: time.Since(start)}, err
			}
			h.logger.Warn("question generation failed",
				"chat_id", item.Payload.ChatID, "message_id", item.Payload.MessageID, "error", err)
			continue
		}
		if err := h.queue.Complete(ctx, item.ID); err != nil {
			h.logger.Error("failed to complete question task", "id", item.ID, "error", err)
		}
		processed++
	}

	hasMore := false
	if pending, err := h.queue.PendingCount(ctx); err == nil {
		hasMore = pending > 0
	}
	return &BatchResult{
		Processed: processed,
		Elapsed:   time.Since(start),
		HasMore:   hasMore,
	}, nil
}

// process generates and stores question vectors for one message. Messages
// that vanished or are too short complete without output.
func (h *QuestionHandler) process(ctx context.Context, task *store.QuestionTask) error {
	message, err := h.store.GetMessage(ctx, task.ChatID, task.MessageID)
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	if message == nil || len([]rune(message.Text)) < h.minLength {
		return nil
	}

	questions, err := h.generate(ctx, message.Text)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return nil
	}

	vectors, err := h.embedder.EmbedBatch(ctx, questions)
	if err != nil {
		return fmt.Errorf("embed %d questions: %w", len(questions), err)
	}

	embeddings := make([]*store.QuestionEmbedding, 0, len(questions))
	for i, q := range questions {
		if len(vectors[i]) == 0 {
			continue
		}
		embeddings = append(embeddings, &store.QuestionEmbedding{
			ChatID:        task.ChatID,
			MessageID:     task.MessageID,
			QuestionIndex: i,
			Question:      q,
			Embedding:     vectors[i],
			Model:         h.embedder.Model(),
		})
	}
	return h.store.UpsertQuestionEmbeddings(ctx, embeddings)
}

// generate asks the LLM for up to perMessage questions. Fewer is fine.
func (h *QuestionHandler) generate(ctx context.Context, text string) ([]string, error) {
	system := fmt.Sprintf(h.catalogue.Get(prompts.CommandQuestions, "", ""), h.perMessage)

	resp, err := h.llm.Complete(ctx, llm.Request{
		System:      system,
		User:        text,
		Temperature: 0.5,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}

	repaired, err := jsonrepair.JSONRepair(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("repair questions JSON: %w", err)
	}
	var questions []string
	if err := json.Unmarshal([]byte(repaired), &questions); err != nil {
		return nil, fmt.Errorf("decode questions JSON: %w", err)
	}

	out := questions[:0]
	for _, q := range questions {
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) >= h.perMessage {
			break
		}
	}
	return out, nil
}
