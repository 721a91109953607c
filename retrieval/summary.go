package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/chatsense/ai/core/llm"
	"github.com/hrygo/chatsense/prompts"
	"github.com/hrygo/chatsense/store"
)

// SummarizerConfig bounds how much raw chat a summary may consume.
type SummarizerConfig struct {
	MaxMessages int
}

// Summarizer renders /summary and /truth replies and the scheduled daily
// digest. Both commands read a slice of raw chat history and hand it to the
// LLM with the matching catalogue prompt.
type Summarizer struct {
	store     *store.Store
	llm       Completer
	catalogue *prompts.Catalogue
	cfg       SummarizerConfig
	logger    *slog.Logger
}

// NewSummarizer creates the summarizer.
func NewSummarizer(st *store.Store, completer Completer, catalogue *prompts.Catalogue, cfg SummarizerConfig, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 500
	}
	return &Summarizer{store: st, llm: completer, catalogue: catalogue, cfg: cfg, logger: logger.With("component", "summarizer")}
}

// Summarize produces a digest of the chat over the task window. An empty
// window yields a canned reply without an LLM call.
func (s *Summarizer) Summarize(ctx context.Context, task *store.SummaryTask) (string, error) {
	return s.digest(ctx, task.ChatID, task.Window, prompts.CommandSummary)
}

// DailyDigest is the scheduled variant: fixed 24h window, its own prompt.
func (s *Summarizer) DailyDigest(ctx context.Context, chatID int64) (string, error) {
	return s.digest(ctx, chatID, 24*time.Hour, prompts.CommandDailySummary)
}

func (s *Summarizer) digest(ctx context.Context, chatID int64, window time.Duration, command string) (string, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	since := time.Now().UTC().Add(-window)

	messages, err := s.store.ListMessages(ctx, &store.FindMessage{
		ChatID:    &chatID,
		Since:     &since,
		Ascending: true,
		Limit:     s.cfg.MaxMessages,
	})
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}

	mode, language := s.chatStyle(ctx, chatID)
	if len(messages) == 0 {
		return emptyWindowText(language, window), nil
	}

	system := s.catalogue.Get(command, mode, language)
	hours := int(window.Hours())
	if hours < 1 {
		hours = 1
	}
	var user string
	if language == prompts.LanguageEnglish {
		user = fmt.Sprintf("Chat messages for the last %d h (%d total):\n\n%s", hours, len(messages), transcript(messages))
	} else {
		user = fmt.Sprintf("Сообщения чата за последние %d ч (всего %d):\n\n%s", hours, len(messages), transcript(messages))
	}

	resp, err := s.llm.Complete(ctx, llm.Request{System: system, User: user})
	if err != nil {
		return "", fmt.Errorf("complete summary: %w", err)
	}

	s.logger.Info("summary ready", "chat_id", chatID, "window", window, "messages", len(messages))
	return strings.TrimSpace(resp.Content), nil
}

// Truth rates the last N chat messages in roast register. Count is already
// clamped by the command handler.
func (s *Summarizer) Truth(ctx context.Context, task *store.TruthTask) (string, error) {
	count := task.Count
	if count <= 0 {
		count = 5
	}

	messages, err := s.store.ListRecentMessages(ctx, task.ChatID, count)
	if err != nil {
		return "", fmt.Errorf("list recent messages: %w", err)
	}

	_, language := s.chatStyle(ctx, task.ChatID)
	if len(messages) == 0 {
		if language == prompts.LanguageEnglish {
			return "Nothing to check yet, the chat is empty.", nil
		}
		return "Проверять пока нечего, в чате пусто.", nil
	}

	// Truth is roast-only regardless of the chat mode setting.
	system := s.catalogue.Get(prompts.CommandTruth, prompts.ModeNormal, prompts.LanguageRussian)
	user := fmt.Sprintf("Последние сообщения чата (%d):\n\n%s", len(messages), transcript(chronological(messages)))
	resp, err := s.llm.Complete(ctx, llm.Request{System: system, User: user})
	if err != nil {
		return "", fmt.Errorf("complete truth: %w", err)
	}

	s.logger.Info("truth ready", "chat_id", task.ChatID, "messages", len(messages))
	return strings.TrimSpace(resp.Content), nil
}

func (s *Summarizer) chatStyle(ctx context.Context, chatID int64) (mode, language string) {
	mode, language = prompts.ModeNormal, prompts.LanguageRussian
	if s.store == nil {
		return mode, language
	}
	if cs, err := s.store.GetChatSetting(ctx, chatID, store.ChatSettingMode); err == nil && cs != nil && cs.Value != "" {
		mode = cs.Value
	}
	if cs, err := s.store.GetChatSetting(ctx, chatID, store.ChatSettingLanguage); err == nil && cs != nil && cs.Value != "" {
		language = cs.Value
	}
	return mode, language
}

// transcript renders messages one per line, tagged with time and author.
func transcript(messages []*store.Message) string {
	var sb strings.Builder
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
		fmt.Fprintf(&sb, "[%s] %s: %s\n", m.CreatedAt.Format("15:04"), name, text)
	}
	return sb.String()
}

// chronological flips a newest-first slice into reading order.
func chronological(messages []*store.Message) []*store.Message {
	out := make([]*store.Message, len(messages))
	for i, m := range messages {
		out[len(messages)-1-i] = m
	}
	return out
}

func emptyWindowText(language string, window time.Duration) string {
	hours := int(window.Hours())
	if hours < 1 {
		hours = 1
	}
	if language == prompts.LanguageEnglish {
		return fmt.Sprintf("It was quiet: no messages in the last %d h.", hours)
	}
	return fmt.Sprintf("Было тихо: за последние %d ч сообщений не было.", hours)
}
