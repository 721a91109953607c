// Package ingest persists inbound group messages and fans out the
// best-effort side work: alias recording, nickname and relationship
// extraction, and the queue feeds for fact extraction and question
// generation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hrygo/chatsense/internal/metrics"
	"github.com/hrygo/chatsense/queue"
	"github.com/hrygo/chatsense/store"
	"github.com/hrygo/chatsense/store/cache"
)

// Inbound is one transport message normalised for ingestion. The transport
// plugin maps its update type onto this before calling Handle. Text holds
// the caption for media messages; MessageType is empty for plain text.
type Inbound struct {
	ChatID           int64
	ChatTitle        string
	ChatType         string // "group", "supergroup", "private", "channel"
	MessageID        int64
	UserID           int64
	Username         string
	FirstName        string
	Text             string
	MessageType      string // "photo", "video", "voice", ... or empty
	HasLinks         bool
	HasMedia         bool
	ReplyToMessageID *int64
	ReplyToUserID    *int64
	Forwarded        bool
	CreatedAt        time.Time
}

// Result is the ingestion outcome, used as the metrics label.
type Result string

const (
	ResultSaved     Result = "saved"
	ResultDuplicate Result = "duplicate"
	ResultSkipped   Result = "skipped"
	ResultError     Result = "error"
)

// Config tunes the pipeline.
type Config struct {
	// DedupTTL and DedupMinLength control the repeated-message filter; texts
	// shorter than the minimum bypass it.
	DedupTTL       time.Duration
	DedupMinLength int
	DedupCacheSize int
	// EmbedMinLength gates the question-generation feed.
	EmbedMinLength int
	// TaskTimeout bounds each fire-and-forget side task.
	TaskTimeout time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		DedupTTL:       time.Minute,
		DedupMinLength: 10,
		DedupCacheSize: 8192,
		EmbedMinLength: 6,
		TaskTimeout:    10 * time.Second,
	}
}

// Pipeline ingests messages: dedup filter, group check, idempotent save,
// then parallel side tasks that never block or fail the caller.
type Pipeline struct {
	store     *store.Store
	facts     *queue.Service[store.MessageTask]
	questions *queue.Service[store.QuestionTask]
	nicknames *NicknameExtractor
	relations *RelationshipExtractor
	dedup     *cache.LRUCache[string, bool]
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger

	wg sync.WaitGroup
}

// NewPipeline creates the pipeline. Metrics may be nil.
func NewPipeline(
	st *store.Store,
	facts *queue.Service[store.MessageTask],
	questions *queue.Service[store.QuestionTask],
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DedupTTL <= 0 {
		cfg = DefaultConfig()
	}
	return &Pipeline{
		store:     st,
		facts:     facts,
		questions: questions,
		nicknames: NewNicknameExtractor(),
		relations: NewRelationshipExtractor(),
		dedup:     cache.NewLRUCache[string, bool](cfg.DedupCacheSize, cfg.DedupTTL),
		cfg:       cfg,
		metrics:   m,
		logger:    logger.With("component", "ingest"),
	}
}

// Handle runs one message through the pipeline. Media messages are kept even
// without a caption; only the persist step can fail, everything after it is
// fire-and-forget.
func (p *Pipeline) Handle(ctx context.Context, msg *Inbound) (Result, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" && !msg.HasMedia {
		return ResultSkipped, nil
	}

	if text != "" && p.isDuplicate(msg.ChatID, msg.UserID, text) {
		p.count(ResultDuplicate)
		return ResultDuplicate, nil
	}

	if !isGroup(msg.ChatType) {
		p.count(ResultSkipped)
		return ResultSkipped, nil
	}

	if err := p.ensureChat(ctx, msg); err != nil {
		p.count(ResultError)
		return ResultError, err
	}

	_, err := p.store.UpsertMessage(ctx, &store.Message{
		ChatID:           msg.ChatID,
		MessageID:        msg.MessageID,
		UserID:           msg.UserID,
		Username:         msg.Username,
		FirstName:        msg.FirstName,
		Text:             text,
		Type:             msg.MessageType,
		HasLinks:         msg.HasLinks,
		HasMedia:         msg.HasMedia,
		ReplyToMessageID: msg.ReplyToMessageID,
		ReplyToUserID:    msg.ReplyToUserID,
		CreatedAt:        msg.CreatedAt,
	})
	if err != nil {
		p.count(ResultError)
		return ResultError, fmt.Errorf("save message %d/%d: %w", msg.ChatID, msg.MessageID, err)
	}

	p.fanOut(ctx, msg, text)
	p.count(ResultSaved)
	return ResultSaved, nil
}

// Wait blocks until in-flight side tasks finish. Called on shutdown.
func (p *Pipeline) Wait() { p.wg.Wait() }

func isGroup(chatType string) bool {
	return chatType == "group" || chatType == "supergroup"
}

func (p *Pipeline) count(result Result) {
	if p.metrics != nil {
		p.metrics.RecordIngest(string(result))
	}
}

// isDuplicate reports whether the same user posted the same text to the same
// chat within the dedup window, and records the sighting if not.
func (p *Pipeline) isDuplicate(chatID, userID int64, text string) bool {
	if utf8.RuneCountInString(text) < p.cfg.DedupMinLength {
		return false
	}
	key := dedupKey(chatID, userID, text)
	if _, seen := p.dedup.Get(key); seen {
		return true
	}
	p.dedup.Set(key, true, p.cfg.DedupTTL)
	return false
}

// dedupKey normalises whitespace and case, truncating so pasted walls of
// text do not bloat the cache.
func dedupKey(chatID, userID int64, text string) string {
	normalised := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if runes := []rune(normalised); len(runes) > 500 {
		normalised = string(runes[:500])
	}
	return fmt.Sprintf("%d:%d:%s", chatID, userID, normalised)
}

// ensureChat registers the chat on first sight and refreshes the title when
// it changes. The read side is cache-backed, so the common case costs no
// statement.
func (p *Pipeline) ensureChat(ctx context.Context, msg *Inbound) error {
	chat, err := p.store.GetChat(ctx, msg.ChatID)
	if err == nil && chat != nil && chat.Title == msg.ChatTitle && chat.Type == msg.ChatType {
		return nil
	}
	_, err = p.store.UpsertChat(ctx, &store.Chat{
		ID:     msg.ChatID,
		Title:  msg.ChatTitle,
		Type:   msg.ChatType,
		Active: true,
	})
	if err != nil {
		return fmt.Errorf("upsert chat %d: %w", msg.ChatID, err)
	}
	return nil
}

// fanOut spins off the side tasks. Each one recovers its own panics and is
// detached from the request context so a fast transport handler does not
// cancel it mid-write.
func (p *Pipeline) fanOut(ctx context.Context, msg *Inbound, text string) {
	base := context.WithoutCancel(ctx)

	p.spawn(base, "activity", func(ctx context.Context) {
		err := p.store.TouchUserActivity(ctx, msg.ChatID, msg.UserID, msg.Username, msg.FirstName)
		if err != nil {
			p.logger.Debug("activity touch failed",
				"chat_id", msg.ChatID, "user_id", msg.UserID, "error", err)
		}
	})
	p.spawn(base, "aliases", func(ctx context.Context) {
		p.recordAliases(ctx, msg)
	})
	if msg.ReplyToUserID != nil && *msg.ReplyToUserID != msg.UserID {
		p.spawn(base, "nickname", func(ctx context.Context) {
			p.recordNickname(ctx, msg, text)
		})
	}
	if text != "" {
		p.spawn(base, "relationships", func(ctx context.Context) {
			p.recordRelationships(ctx, msg, text)
		})
		p.spawn(base, "fact_task", func(ctx context.Context) {
			p.enqueueFact(ctx, msg, text)
		})
	}
	if !msg.Forwarded && utf8.RuneCountInString(text) >= p.cfg.EmbedMinLength {
		p.spawn(base, "question_task", func(ctx context.Context) {
			p.enqueueQuestion(ctx, msg)
		})
	}
}

func (p *Pipeline) spawn(ctx context.Context, task string, fn func(context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("ingest side task panicked", "task", task, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// recordAliases keeps the username and display name resolvable, bumping
// usage so frequent sightings rank first.
func (p *Pipeline) recordAliases(ctx context.Context, msg *Inbound) {
	if msg.Username != "" {
		p.recordAlias(ctx, msg.ChatID, msg.UserID, msg.Username, store.AliasSourceUsername)
	}
	if msg.FirstName != "" {
		p.recordAlias(ctx, msg.ChatID, msg.UserID, msg.FirstName, store.AliasSourceName)
	}
}

func (p *Pipeline) recordAlias(ctx context.Context, chatID, userID int64, alias, source string) {
	_, err := p.store.RecordUserAlias(ctx, &store.UserAlias{
		ChatID: chatID,
		UserID: userID,
		Alias:  alias,
		Source: source,
	})
	if err != nil {
		p.logger.Debug("alias record failed",
			"chat_id", chatID, "user_id", userID, "source", source, "error", err)
	}
}

// recordNickname credits an addressing name in a reply to the user being
// replied to.
func (p *Pipeline) recordNickname(ctx context.Context, msg *Inbound, text string) {
	nickname, ok := p.nicknames.Extract(text)
	if !ok {
		return
	}
	p.recordAlias(ctx, msg.ChatID, *msg.ReplyToUserID, nickname, store.AliasSourceNickname)
}

// recordRelationships turns pattern matches into graph edges. The named
// person is kept even when alias resolution finds nobody; the edge then
// carries the name alone. Resolution to the speaker themselves ("это мой
// друг" about one's own alias) keeps the edge unresolved.
func (p *Pipeline) recordRelationships(ctx context.Context, msg *Inbound, text string) {
	for _, mention := range p.relations.Extract(text) {
		name := mention.Name
		var relatedID *int64
		if userID, alias, ok := p.resolveUser(ctx, msg.ChatID, mention.Candidates()); ok && userID != msg.UserID {
			relatedID = &userID
			name = alias
		}
		_, err := p.store.UpsertUserRelationship(ctx, &store.UserRelationship{
			ChatID:           msg.ChatID,
			FromUserID:       msg.UserID,
			RelatedName:      name,
			RelatedUserID:    relatedID,
			Type:             mention.Type,
			SurfaceLabel:     mention.Label,
			Confidence:       mention.Confidence,
			SourceMessageIDs: []int64{msg.MessageID},
		})
		if err != nil {
			p.logger.Debug("relationship upsert failed",
				"chat_id", msg.ChatID, "type", mention.Type, "error", err)
		}
	}
}

// resolveUser tries each candidate form against the alias table, preferring
// the most-used alias when several users answer to the same name. Returns
// the matched alias in its stored casing.
func (p *Pipeline) resolveUser(ctx context.Context, chatID int64, candidates []string) (int64, string, bool) {
	for _, candidate := range candidates {
		lower := strings.ToLower(candidate)
		aliases, err := p.store.ListUserAliases(ctx, &store.FindUserAlias{
			ChatID: &chatID,
			Alias:  &lower,
			Limit:  3,
		})
		if err != nil || len(aliases) == 0 {
			continue
		}
		best := aliases[0]
		for _, a := range aliases[1:] {
			if a.UsageCount > best.UsageCount {
				best = a
			}
		}
		return best.UserID, best.Alias, true
	}
	return 0, "", false
}

func (p *Pipeline) enqueueFact(ctx context.Context, msg *Inbound, text string) {
	_, err := p.facts.Enqueue(ctx, store.MessageTask{
		ChatID:      msg.ChatID,
		MessageID:   msg.MessageID,
		UserID:      msg.UserID,
		DisplayName: displayName(msg),
		Text:        text,
	})
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, queue.ErrQueueFull) {
			level = slog.LevelDebug
		}
		p.logger.Log(ctx, level, "fact task enqueue failed",
			"chat_id", msg.ChatID, "message_id", msg.MessageID, "error", err)
	}
}

func (p *Pipeline) enqueueQuestion(ctx context.Context, msg *Inbound) {
	_, err := p.questions.Enqueue(ctx, store.QuestionTask{
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
	})
	if err != nil {
		p.logger.Debug("question task enqueue failed",
			"chat_id", msg.ChatID, "message_id", msg.MessageID, "error", err)
	}
}

func displayName(msg *Inbound) string {
	if msg.FirstName != "" {
		return msg.FirstName
	}
	if msg.Username != "" {
		return msg.Username
	}
	return "участник"
}
