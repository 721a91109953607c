package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hrygo/chatsense/ai/core/llm"
	"github.com/hrygo/chatsense/prompts"
	"github.com/hrygo/chatsense/store"
)

// MemorySource supplies the per-user memory block for the answer prompt. The
// mode lets the composer withhold roast material from normal answers.
// Implemented by the memory composer; nil disables the block.
type MemorySource interface {
	Compose(ctx context.Context, chatID, userID int64, query, mode string) (string, error)
}

// Answer is the rendered reply for one question.
type Answer struct {
	RequestID  string
	Text       string
	Found      bool
	Confidence Verdict
	Strategy   IntentType
	Smart      bool
}

// Responder answers /ask and /smart questions. For /ask it runs the search
// engine, builds an excerpt block and asks the LLM; low-confidence verdicts
// get a warning line, empty ones short-circuit to a canned reply without
// spending an LLM call. /smart skips retrieval entirely and routes to a
// web-search capable provider.
type Responder struct {
	engine    *Engine
	builder   *ContextBuilder
	llm       Completer
	catalogue *prompts.Catalogue
	store     *store.Store
	memory    MemorySource
	logger    *slog.Logger
}

// NewResponder creates the responder. memory may be nil.
func NewResponder(engine *Engine, builder *ContextBuilder, completer Completer, catalogue *prompts.Catalogue, st *store.Store, memory MemorySource, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		engine:    engine,
		builder:   builder,
		llm:       completer,
		catalogue: catalogue,
		store:     st,
		memory:    memory,
		logger:    logger.With("component", "responder"),
	}
}

// Respond answers one queued question. A returned error means the attempt is
// retryable; canned replies (nothing found) return a successful Answer.
func (r *Responder) Respond(ctx context.Context, task *store.AskTask) (*Answer, error) {
	mode, language := r.chatStyle(ctx, task.ChatID)

	if task.Command == prompts.CommandSmart {
		return r.respondSmart(ctx, task, mode, language)
	}

	result, err := r.engine.Search(ctx, &Request{
		ChatID: task.ChatID,
		Query:  task.Question,
		Asker: Asker{
			UserID:      task.UserID,
			DisplayName: task.DisplayName,
			Username:    task.Username,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	log := r.logger.With("request_id", result.RequestID, "chat_id", task.ChatID)

	if len(result.Candidates) == 0 {
		log.Info("nothing found, replying without LLM", "confidence", result.Confidence.Label)
		return &Answer{
			RequestID:  result.RequestID,
			Text:       notFoundText(language),
			Found:      false,
			Confidence: result.Confidence,
			Strategy:   result.Intent.Type,
		}, nil
	}

	excerpts, chunks := r.builder.Build(ctx, task.ChatID, result.Candidates)
	memoryBlock := r.memoryBlock(ctx, task, mode, log)

	system := r.catalogue.Get(prompts.CommandAsk, mode, language)
	user := r.askUserPrompt(task, excerpts, memoryBlock, language)
	resp, err := r.llm.Complete(ctx, llm.Request{System: system, User: user})
	if err != nil {
		return nil, fmt.Errorf("complete answer: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	if result.Confidence.Label <= ConfidenceLow {
		text = lowConfidenceText(language) + "\n\n" + text
	}

	r.saveMemory(ctx, task, text, log)
	log.Info("answer ready",
		"strategy", result.Intent.Type,
		"confidence", result.Confidence.Label,
		"chunks", chunks,
		"elapsed", result.Elapsed)

	return &Answer{
		RequestID:  result.RequestID,
		Text:       text,
		Found:      true,
		Confidence: result.Confidence,
		Strategy:   result.Intent.Type,
	}, nil
}

// respondSmart answers without retrieval on a provider tagged for web search.
// Smart answers never carry a confidence warning.
func (r *Responder) respondSmart(ctx context.Context, task *store.AskTask, mode, language string) (*Answer, error) {
	system := r.catalogue.Get(prompts.CommandSmart, mode, language)
	resp, err := r.llm.Complete(ctx, llm.Request{
		System: system,
		User:   task.Question,
		Tag:    "web",
	})
	if err != nil {
		return nil, fmt.Errorf("complete smart answer: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	log := r.logger.With("chat_id", task.ChatID)
	r.saveMemory(ctx, task, text, log)

	return &Answer{Text: text, Found: true, Smart: true}, nil
}

// chatStyle reads mode and language settings, falling back to Russian normal
// mode when unset or unreadable.
func (r *Responder) chatStyle(ctx context.Context, chatID int64) (mode, language string) {
	mode, language = prompts.ModeNormal, prompts.LanguageRussian
	if r.store == nil {
		return mode, language
	}
	if s, err := r.store.GetChatSetting(ctx, chatID, store.ChatSettingMode); err == nil && s != nil && s.Value != "" {
		mode = s.Value
	}
	if s, err := r.store.GetChatSetting(ctx, chatID, store.ChatSettingLanguage); err == nil && s != nil && s.Value != "" {
		language = s.Value
	}
	return mode, language
}

// memoryBlock asks the memory composer for context. Failures degrade to an
// answer without memory.
func (r *Responder) memoryBlock(ctx context.Context, task *store.AskTask, mode string, log *slog.Logger) string {
	if r.memory == nil {
		return ""
	}
	block, err := r.memory.Compose(ctx, task.ChatID, task.UserID, task.Question, mode)
	if err != nil {
		log.Warn("memory compose failed, answering without it", "error", err)
		return ""
	}
	return block
}

func (r *Responder) askUserPrompt(task *store.AskTask, excerpts, memoryBlock, language string) string {
	asker := task.DisplayName
	if asker == "" {
		asker = task.Username
	}

	var sb strings.Builder
	if language == prompts.LanguageEnglish {
		fmt.Fprintf(&sb, "Question from %s: %s\n", asker, task.Question)
		if memoryBlock != "" {
			sb.WriteString("\nWhat is known about the participants:\n")
			sb.WriteString(memoryBlock)
			sb.WriteString("\n")
		}
		sb.WriteString("\nChat excerpts:\n")
		sb.WriteString(excerpts)
		return sb.String()
	}

	fmt.Fprintf(&sb, "Вопрос от %s: %s\n", asker, task.Question)
	if memoryBlock != "" {
		sb.WriteString("\nЧто известно об участниках:\n")
		sb.WriteString(memoryBlock)
		sb.WriteString("\n")
	}
	sb.WriteString("\nВыдержки из чата:\n")
	sb.WriteString(excerpts)
	return sb.String()
}

// saveMemory records the exchange for follow-up questions. Best effort.
func (r *Responder) saveMemory(ctx context.Context, task *store.AskTask, answer string, log *slog.Logger) {
	if r.store == nil {
		return
	}
	_, err := r.store.CreateConversationMemory(ctx, &store.ConversationMemory{
		ChatID:   task.ChatID,
		UserID:   task.UserID,
		Question: task.Question,
		Answer:   answer,
	})
	if err != nil {
		log.Warn("conversation memory save failed", "error", err)
	}
}

func notFoundText(language string) string {
	if language == prompts.LanguageEnglish {
		return "I could not find anything about that in this chat's history. Try rephrasing the question or adding details."
	}
	return "Не нашёл ничего подходящего в истории этого чата. Попробуй переформулировать вопрос или добавить деталей."
}

func lowConfidenceText(language string) string {
	if language == prompts.LanguageEnglish {
		return "⚠️ I am not fully sure the excerpts below are about this. Treat the answer with care."
	}
	return "⚠️ Не уверен, что нашёл именно то. Отнеситесь к ответу с осторожностью."
}
