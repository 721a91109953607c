// Package memory turns raw chat history into durable knowledge about the
// participants: extracted facts, generated profiles, detected gender, and the
// per-user context block the answer prompt consumes.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/time/rate"

	"github.com/hrygo/chatsense/ai/core/llm"
	"github.com/hrygo/chatsense/prompts"
	"github.com/hrygo/chatsense/queue"
	"github.com/hrygo/chatsense/store"
)

// Completer is the slice of the LLM router the memory pipeline needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// factTypes the extraction prompt is allowed to emit. Anything else from the
// model is dropped.
var factTypes = map[string]bool{
	store.FactTypeLikes: true, store.FactTypeDislikes: true,
	store.FactTypeSaid: true, store.FactTypeDoes: true,
	store.FactTypeKnows: true, store.FactTypeOpinion: true,
}

// ExtractorConfig tunes the fact extractor.
type ExtractorConfig struct {
	// BatchSize caps how many queued messages one drain cycle leases.
	BatchSize int
	// MinLength drops texts too short to carry a fact (runes).
	MinLength int
	// Pace is the minimum interval between LLM calls, yielding capacity to
	// the interactive commands.
	Pace time.Duration
	// Poll is the wake interval when notifications are missed.
	Poll time.Duration
	// MaxFacts caps how many facts one response may contribute.
	MaxFacts int
}

// DefaultExtractorConfig returns the production tuning.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		BatchSize: 20,
		MinLength: 6,
		Pace:      2 * time.Second,
		Poll:      30 * time.Second,
		MaxFacts:  10,
	}
}

// FactExtractor drains the message queue in batches, groups messages by
// (chat, user) so one LLM call covers one person, and merges the returned
// facts with a max-confidence upsert. Gender detection piggybacks on the
// same batch since the texts are already in hand.
type FactExtractor struct {
	store     *store.Store
	queue     *queue.Service[store.MessageTask]
	mailbox   *queue.Mailbox
	llm       Completer
	catalogue *prompts.Catalogue
	gender    *GenderDetector
	limiter   *rate.Limiter
	cfg       ExtractorConfig
	logger    *slog.Logger
}

// NewFactExtractor creates the extractor. mailbox and gender may be nil.
func NewFactExtractor(
	st *store.Store,
	q *queue.Service[store.MessageTask],
	mailbox *queue.Mailbox,
	completer Completer,
	catalogue *prompts.Catalogue,
	gender *GenderDetector,
	cfg ExtractorConfig,
	logger *slog.Logger,
) *FactExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg = DefaultExtractorConfig()
	}
	return &FactExtractor{
		store:     st,
		queue:     q,
		mailbox:   mailbox,
		llm:       completer,
		catalogue: catalogue,
		gender:    gender,
		limiter:   rate.NewLimiter(rate.Every(cfg.Pace), 1),
		cfg:       cfg,
		logger:    logger.With("component", "facts"),
	}
}

// Run drains the message queue until ctx is cancelled. Batches are processed
// back to back while work is ready, then the loop blocks on the notification
// mailbox with a poll fallback.
func (e *FactExtractor) Run(ctx context.Context) {
	e.logger.Info("fact extractor started", "batch_size", e.cfg.BatchSize, "pace", e.cfg.Pace)

	var notify <-chan int64
	if e.mailbox != nil {
		notify = e.mailbox.Chan()
	}

	timer := time.NewTimer(e.cfg.Poll)
	defer timer.Stop()

	for {
		n, err := e.drain(ctx)
		if err != nil {
			// Context is done.
			return
		}
		if n > 0 {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(e.cfg.Poll)

		select {
		case <-ctx.Done():
			return
		case _, ok := <-notify:
			if !ok {
				return
			}
		case <-timer.C:
		}
	}
}

type userKey struct {
	chatID int64
	userID int64
}

// drain leases up to BatchSize messages, groups them per user and processes
// each group as one unit: the whole group completes or the whole group is
// released for retry.
func (e *FactExtractor) drain(ctx context.Context) (int, error) {
	var items []*queue.Item[store.MessageTask]
	for len(items) < e.cfg.BatchSize {
		item, err := e.queue.Pick(ctx)
		if err != nil {
			return 0, err
		}
		if item == nil {
			break
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return 0, nil
	}

	groups := make(map[userKey][]*queue.Item[store.MessageTask])
	for _, item := range items {
		key := userKey{item.Payload.ChatID, item.Payload.UserID}
		groups[key] = append(groups[key], item)
	}

	bookkeeping := context.WithoutCancel(ctx)
	for key, group := range groups {
		err := e.processGroup(ctx, key, group)
		for _, item := range group {
			if err != nil {
				if ferr := e.queue.Fail(bookkeeping, item, err); ferr != nil {
					e.logger.Error("failed to release message task", "id", item.ID, "error", ferr)
				}
				continue
			}
			if cerr := e.queue.Complete(bookkeeping, item.ID); cerr != nil {
				e.logger.Error("failed to complete message task", "id", item.ID, "error", cerr)
			}
		}
		if err != nil {
			e.logger.Warn("fact extraction failed",
				"chat_id", key.chatID, "user_id", key.userID, "messages", len(group), "error", err)
		}
		if ctx.Err() != nil {
			return len(items), ctx.Err()
		}
	}
	return len(items), nil
}

// processGroup runs gender detection and fact extraction over one user's
// batch. Gender is best-effort; only the fact path can fail the group.
func (e *FactExtractor) processGroup(ctx context.Context, key userKey, group []*queue.Item[store.MessageTask]) error {
	displayName := ""
	texts := make([]string, 0, len(group))
	usable := make([]string, 0, len(group))
	sources := make([]int64, 0, len(group))
	for _, item := range group {
		task := item.Payload
		if task.DisplayName != "" {
			displayName = task.DisplayName
		}
		texts = append(texts, task.Text)
		if utf8.RuneCountInString(task.Text) >= e.cfg.MinLength {
			usable = append(usable, task.Text)
			sources = append(sources, task.MessageID)
		}
	}

	if e.gender != nil {
		if err := e.gender.Refresh(ctx, key.chatID, key.userID, displayName, texts); err != nil {
			e.logger.Debug("gender refresh failed",
				"chat_id", key.chatID, "user_id", key.userID, "error", err)
		}
	}

	if e.llm == nil || len(usable) == 0 {
		return nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	facts, err := e.extract(ctx, displayName, usable)
	if err != nil {
		return err
	}

	for _, fact := range facts {
		_, err := e.store.UpsertUserFact(ctx, &store.UserFact{
			ChatID:           key.chatID,
			UserID:           key.userID,
			FactType:         fact.Type,
			FactValue:        fact.Value,
			Confidence:       fact.Confidence,
			SourceMessageIDs: sources,
		})
		if err != nil {
			return fmt.Errorf("upsert fact: %w", err)
		}
	}
	if len(facts) > 0 {
		e.logger.Debug("facts extracted",
			"chat_id", key.chatID, "user_id", key.userID, "count", len(facts))
	}
	return nil
}

type factWire struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// extract asks the LLM for strictly-JSON facts and keeps the well-formed
// ones: known type, non-empty value, confidence clamped to [0,1].
func (e *FactExtractor) extract(ctx context.Context, displayName string, texts []string) ([]factWire, error) {
	var sb strings.Builder
	if displayName != "" {
		fmt.Fprintf(&sb, "Участник: %s\n", displayName)
	}
	sb.WriteString("Сообщения:\n")
	for _, text := range texts {
		sb.WriteString("- ")
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	resp, err := e.llm.Complete(ctx, llm.Request{
		System:      e.catalogue.Get(prompts.CommandFacts, "", ""),
		User:        sb.String(),
		Temperature: 0.2,
		MaxTokens:   800,
	})
	if err != nil {
		return nil, err
	}

	repaired, err := jsonrepair.JSONRepair(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("facts JSON unrepairable: %w", err)
	}
	var wire []factWire
	if err := json.Unmarshal([]byte(repaired), &wire); err != nil {
		return nil, fmt.Errorf("facts JSON undecodable: %w", err)
	}

	facts := make([]factWire, 0, len(wire))
	for _, f := range wire {
		f.Value = strings.TrimSpace(f.Value)
		f.Type = strings.ToLower(strings.TrimSpace(f.Type))
		if f.Value == "" || !factTypes[f.Type] {
			continue
		}
		if f.Confidence < 0 {
			f.Confidence = 0
		}
		if f.Confidence > 1 {
			f.Confidence = 1
		}
		facts = append(facts, f)
		if len(facts) == e.cfg.MaxFacts {
			break
		}
	}
	return facts, nil
}
