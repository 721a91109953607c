package indexer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hrygo/chatsense/store"
)

// ContextHandler embeds overlapping windows of consecutive messages so
// contextual questions can match whole discussions instead of single lines.
// Windows are keyed by their start message id; the skip check against the
// persisted starts makes re-scans idempotent.
type ContextHandler struct {
	store      *store.Store
	embedder   Embedder
	windowSize int
	windowStep int

	// cursors track per-chat scan progress within this process. They are an
	// optimisation only: after a restart the scan re-reads from the start of
	// history and the persisted-starts check skips what is already done.
	mu      sync.Mutex
	cursors map[int64]time.Time
}

// NewContextHandler creates the handler.
func NewContextHandler(st *store.Store, embedder Embedder, windowSize, windowStep int) *ContextHandler {
	if windowSize < 2 {
		windowSize = 10
	}
	if windowStep <= 0 || windowStep > windowSize {
		windowStep = windowSize / 2
	}
	return &ContextHandler{
		store:      st,
		embedder:   embedder,
		windowSize: windowSize,
		windowStep: windowStep,
		cursors:    make(map[int64]time.Time),
	}
}

func (h *ContextHandler) Name() string  { return "contexts" }
func (h *ContextHandler) Enabled() bool { return true }

func (h *ContextHandler) Stats(ctx context.Context) (*store.EmbeddingStats, error) {
	return h.store.CountContextEmbeddingStats(ctx, h.windowSize, h.windowStep)
}

type contextWindow struct {
	chatID  int64
	startID int64
	endID   int64
	count   int
	text    string
}

// ProcessBatch collects up to size unembedded windows across active chats,
// embeds them in one call, and upserts them.
func (h *ContextHandler) ProcessBatch(ctx context.Context, size int) (*BatchResult, error) {
	start := time.Now()

	chats, err := h.store.ListChats(ctx, &store.FindChat{OnlyActive: true})
	if err != nil {
		return nil, fmt.Errorf("list active chats: %w", err)
	}

	var windows []*contextWindow
	pageFull := false
	for _, chat := range chats {
		if len(windows) >= size {
			pageFull = true
			break
		}
		chatWindows, more, err := h.collect(ctx, chat.ID, size-len(windows))
		if err != nil {
			return nil, err
		}
		windows = append(windows, chatWindows...)
		pageFull = pageFull || more
	}

	if len(windows) == 0 {
		return &BatchResult{Elapsed: time.Since(start), HasMore: pageFull}, nil
	}

	texts := make([]string, len(windows))
	for i, w := range windows {
		texts[i] = w.text
	}
	vectors, err := h.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d windows: %w", len(windows), err)
	}

	stored := 0
	for i, w := range windows {
		if len(vectors[i]) == 0 {
			continue
		}
		err := h.store.UpsertContextEmbedding(ctx, &store.ContextEmbedding{
			ChatID:         w.chatID,
			StartMessageID: w.startID,
			EndMessageID:   w.endID,
			MessageCount:   w.count,
			Text:           w.text,
			Embedding:      vectors[i],
			Model:          h.embedder.Model(),
		})
		if err != nil {
			return nil, fmt.Errorf("upsert context embedding: %w", err)
		}
		stored++
	}

	return &BatchResult{
		Processed: stored,
		Elapsed:   time.Since(start),
		HasMore:   pageFull,
	}, nil
}

// collect scans one chat from its cursor and returns up to limit missing
// windows. The second result reports whether the chat has more history to
// scan after this page.
func (h *ContextHandler) collect(ctx context.Context, chatID int64, limit int) ([]*contextWindow, bool, error) {
	pageSize := h.windowSize + limit*h.windowStep

	find := &store.FindMessage{ChatID: &chatID, Ascending: true, Limit: pageSize}
	h.mu.Lock()
	if cursor, ok := h.cursors[chatID]; ok {
		since := cursor
		find.Since = &since
	}
	h.mu.Unlock()

	page, err := h.store.ListMessages(ctx, find)
	if err != nil {
		return nil, false, fmt.Errorf("list messages for chat %d: %w", chatID, err)
	}
	if len(page) < h.windowSize {
		return nil, false, nil
	}

	// Aligned window starts within this page.
	var startIdx []int
	for i := 0; i+h.windowSize <= len(page); i += h.windowStep {
		startIdx = append(startIdx, i)
	}

	startIDs := make([]int64, len(startIdx))
	for i, idx := range startIdx {
		startIDs[i] = page[idx].MessageID
	}
	embedded, err := h.store.ListContextEmbeddedStarts(ctx, chatID, startIDs)
	if err != nil {
		return nil, false, fmt.Errorf("list embedded starts for chat %d: %w", chatID, err)
	}
	done := make(map[int64]bool, len(embedded))
	for _, id := range embedded {
		done[id] = true
	}

	var windows []*contextWindow
	for _, idx := range startIdx {
		if len(windows) >= limit {
			break
		}
		if done[page[idx].MessageID] {
			continue
		}
		members := page[idx : idx+h.windowSize]
		windows = append(windows, &contextWindow{
			chatID:  chatID,
			startID: members[0].MessageID,
			endID:   members[len(members)-1].MessageID,
			count:   len(members),
			text:    windowText(members),
		})
	}

	// Advance the cursor to the last aligned start so the next page overlaps
	// by one window and nothing between pages is missed.
	last := startIdx[len(startIdx)-1]
	h.mu.Lock()
	h.cursors[chatID] = page[last].CreatedAt
	h.mu.Unlock()

	return windows, len(page) == pageSize, nil
}

// windowText renders the window the way it is shown in answer excerpts.
func windowText(messages []*store.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		name := m.FirstName
		if name == "" {
			name = m.Username
		}
		if name == "" {
			name = "участник"
		}
		lines = append(lines, name+": "+text)
	}
	return strings.Join(lines, "\n")
}
