package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/hrygo/chatsense/queue"
	"github.com/hrygo/chatsense/store"
)

// User-facing command texts. The bot speaks Russian to match its chats.
const (
	askHelpText      = "Задайте вопрос после команды, например:\n/ask кто обещал принести торт?"
	queueFullText    = "Слишком много запросов в очереди, попробуйте чуть позже."
	acceptFailedText = "Не получилось принять запрос, попробуйте ещё раз."
	startGroupText   = "Привет! Я запоминаю сообщения этого чата и отвечаю на вопросы по его истории. Спросите: /ask о чём договорились вчера?"
	startPrivateText = `Привет! Я — бот-аналитик групповых чатов.

Добавьте меня в чат, и я начну запоминать сообщения. Потом спрашивайте:

/ask <вопрос> — ответ по истории чата
/smart <вопрос> — ответ без поиска по истории
/summary [часы] — сводка обсуждений
/truth [число] — проверка последних сообщений

Команда ниже добавит меня в ваш чат.`
	helpText = `Команды:
/ask <вопрос> — ответ по истории чата
/smart <вопрос> — ответ без поиска по истории
/summary [часы] — сводка за последние N часов (по умолчанию 24)
/truth [число] — проверка последних N сообщений (1–15, по умолчанию 5)`
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := strings.ToLower(msg.Command())
	args := strings.TrimSpace(msg.CommandArguments())
	if b.metrics != nil {
		b.metrics.RecordCommand(cmd)
	}

	switch cmd {
	case "ask", "smart":
		b.handleAsk(ctx, msg, cmd, args)
	case "summary":
		b.handleSummary(ctx, msg, args)
	case "truth":
		b.handleTruth(ctx, msg, args)
	case "start":
		b.handleStart(ctx, msg)
	case "help":
		b.replyOrLog(ctx, msg, helpText)
	default:
		b.handleAdmin(ctx, msg, cmd, args)
	}
}

// handleAsk accepts /ask and /smart. The answer arrives later from the ask
// worker; the immediate acknowledgement is a typing indicator.
func (b *Bot) handleAsk(ctx context.Context, msg *tgbotapi.Message, command, question string) {
	if question == "" {
		b.replyOrLog(ctx, msg, askHelpText)
		return
	}

	task := store.AskTask{
		RequestID:   uuid.NewString(),
		ChatID:      msg.Chat.ID,
		UserID:      msg.From.ID,
		MessageID:   int64(msg.MessageID),
		DisplayName: displayName(msg.From),
		Username:    msg.From.UserName,
		Question:    question,
		Command:     command,
	}
	if _, err := b.asks.Enqueue(ctx, task); err != nil {
		b.replyEnqueueFailure(ctx, msg, err)
		return
	}
	b.sendTyping(msg.Chat.ID)
}

// handleSummary accepts /summary with an optional hour count.
func (b *Bot) handleSummary(ctx context.Context, msg *tgbotapi.Message, args string) {
	window := parseSummaryWindow(args, b.cfg.SummaryDefaultWindow, b.cfg.SummaryMaxWindow)

	task := store.SummaryTask{
		RequestID:   uuid.NewString(),
		ChatID:      msg.Chat.ID,
		UserID:      msg.From.ID,
		MessageID:   int64(msg.MessageID),
		DisplayName: displayName(msg.From),
		Window:      window,
	}
	if _, err := b.summaries.Enqueue(ctx, task); err != nil {
		b.replyEnqueueFailure(ctx, msg, err)
		return
	}
	hours := int(window / time.Hour)
	b.replyOrLog(ctx, msg, fmt.Sprintf("Готовлю сводку за последние %d ч.", hours))
}

// handleTruth accepts /truth with an optional message count. The
// acknowledgement names the effective count so the clamp is visible.
func (b *Bot) handleTruth(ctx context.Context, msg *tgbotapi.Message, args string) {
	count := parseTruthCount(args, b.cfg.TruthDefault, b.cfg.TruthMax)

	task := store.TruthTask{
		RequestID: uuid.NewString(),
		ChatID:    msg.Chat.ID,
		UserID:    msg.From.ID,
		MessageID: int64(msg.MessageID),
		Count:     count,
	}
	if _, err := b.truths.Enqueue(ctx, task); err != nil {
		b.replyEnqueueFailure(ctx, msg, err)
		return
	}
	b.replyOrLog(ctx, msg, fmt.Sprintf("Проверяю последние %d %s.", count, russianPlural(count, "сообщение", "сообщения", "сообщений")))
}

// handleStart onboards in private chat with an "add to chat" button and
// keeps it short in groups.
func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.Chat.IsPrivate() {
		b.replyOrLog(ctx, msg, startGroupText)
		return
	}

	out := tgbotapi.NewMessage(msg.Chat.ID, startPrivateText)
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Добавить в чат", "https://t.me/"+b.self+"?startgroup=true"),
		),
	)
	if _, err := b.sender.Send(out); err != nil {
		b.logger.Error("start reply failed", "chat_id", msg.Chat.ID, "error", err)
	}
}

func (b *Bot) replyEnqueueFailure(ctx context.Context, msg *tgbotapi.Message, err error) {
	if errors.Is(err, queue.ErrQueueFull) {
		b.replyOrLog(ctx, msg, queueFullText)
		return
	}
	b.logger.Error("enqueue failed", "chat_id", msg.Chat.ID, "error", err)
	b.replyOrLog(ctx, msg, acceptFailedText)
}

func (b *Bot) replyOrLog(ctx context.Context, msg *tgbotapi.Message, text string) {
	if err := b.ReplyText(ctx, msg.Chat.ID, int64(msg.MessageID), text); err != nil {
		b.logger.Error("reply failed", "chat_id", msg.Chat.ID, "error", err)
	}
}

// parseSummaryWindow turns the /summary argument into a bounded window.
// Anything unparseable or non-positive falls back to the default.
func parseSummaryWindow(args string, def, max time.Duration) time.Duration {
	if args == "" {
		return def
	}
	hours, err := strconv.Atoi(strings.Fields(args)[0])
	if err != nil || hours <= 0 {
		return def
	}
	window := time.Duration(hours) * time.Hour
	if window > max {
		return max
	}
	return window
}

// parseTruthCount turns the /truth argument into a bounded count. Invalid
// and non-positive values fall back to the default; oversized ones clamp to
// the cap.
func parseTruthCount(args string, def, max int) int {
	if args == "" {
		return def
	}
	count, err := strconv.Atoi(strings.Fields(args)[0])
	if err != nil || count <= 0 {
		return def
	}
	if count > max {
		return max
	}
	return count
}

// russianPlural picks the form for 1 (one), 2-4 (few), 5+ (many), with the
// teens always taking the many form.
func russianPlural(n int, one, few, many string) string {
	n = n % 100
	if n >= 11 && n <= 14 {
		return many
	}
	switch n % 10 {
	case 1:
		return one
	case 2, 3, 4:
		return few
	default:
		return many
	}
}
