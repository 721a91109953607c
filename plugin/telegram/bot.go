// Package telegram runs the group-chat bot: long polling, command dispatch,
// message ingestion, and HTML-safe delivery of worker-produced replies.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/chatsense/ingest"
	"github.com/hrygo/chatsense/internal/metrics"
	"github.com/hrygo/chatsense/queue"
	"github.com/hrygo/chatsense/store"
)

// messageLimit is Telegram's hard cap on message text length.
const messageLimit = 4096

// Sender is the slice of the Bot API the handlers need. Satisfied by
// *tgbotapi.BotAPI; tests substitute a recorder.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Config tunes the transport.
type Config struct {
	// AdminID and AdminUsername identify who may run admin commands.
	AdminID       int64
	AdminUsername string
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
	// SummaryDefaultWindow and SummaryMaxWindow bound /summary.
	SummaryDefaultWindow time.Duration
	SummaryMaxWindow     time.Duration
	// TruthDefault and TruthMax bound /truth.
	TruthDefault int
	TruthMax     int
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		PollTimeout:          30,
		SummaryDefaultWindow: 24 * time.Hour,
		SummaryMaxWindow:     7 * 24 * time.Hour,
		TruthDefault:         5,
		TruthMax:             15,
	}
}

// Bot owns the Telegram side of the system. Inbound updates fan into the
// ingestion pipeline and the command queues; outbound replies arrive from
// the queue workers through Reply.
type Bot struct {
	api       *tgbotapi.BotAPI
	sender    Sender
	self      string
	store     *store.Store
	pipeline  *ingest.Pipeline
	asks      *queue.Service[store.AskTask]
	summaries *queue.Service[store.SummaryTask]
	truths    *queue.Service[store.TruthTask]
	admins    map[string]AdminCommand
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewBot authenticates against the Bot API and wires the handlers. Metrics
// may be nil.
func NewBot(
	token string,
	st *store.Store,
	pipeline *ingest.Pipeline,
	asks *queue.Service[store.AskTask],
	summaries *queue.Service[store.SummaryTask],
	truths *queue.Service[store.TruthTask],
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollTimeout <= 0 {
		cfg = DefaultConfig()
	}

	b := &Bot{
		api:       api,
		sender:    api,
		self:      api.Self.UserName,
		store:     st,
		pipeline:  pipeline,
		asks:      asks,
		summaries: summaries,
		truths:    truths,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.With("component", "telegram"),
	}
	b.admins = builtinAdminCommands(b)
	return b, nil
}

// RegisterAdmin adds an admin command. Later registrations win on keyword
// collision.
func (b *Bot) RegisterAdmin(cmd AdminCommand) {
	if b.admins == nil {
		b.admins = map[string]AdminCommand{}
	}
	b.admins[cmd.Keyword()] = cmd
}

// Run long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("telegram bot started", "username", b.self, "poll_timeout", b.cfg.PollTimeout)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollTimeout
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("update handler panicked", "panic", r)
		}
	}()

	if update.MyChatMember != nil {
		b.handleMembership(ctx, update.MyChatMember)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if b.store.IsUserBanned(ctx, msg.From.ID) {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	in := inboundFromMessage(msg)
	if in.Text == "" && !in.HasMedia {
		// Service messages, polls, locations and the like.
		return
	}
	if _, err := b.pipeline.Handle(ctx, in); err != nil {
		b.logger.Error("ingestion failed",
			"chat_id", msg.Chat.ID, "message_id", msg.MessageID, "error", err)
	}
}

// handleMembership keeps chats.active in step with the bot's own membership.
func (b *Bot) handleMembership(ctx context.Context, m *tgbotapi.ChatMemberUpdated) {
	switch m.NewChatMember.Status {
	case "kicked", "left":
		if err := b.store.SetChatActive(ctx, m.Chat.ID, false, "bot "+m.NewChatMember.Status); err != nil {
			b.logger.Error("chat deactivation failed", "chat_id", m.Chat.ID, "error", err)
		} else {
			b.logger.Info("chat deactivated", "chat_id", m.Chat.ID, "status", m.NewChatMember.Status)
		}
	case "member", "administrator":
		_, err := b.store.UpsertChat(ctx, &store.Chat{
			ID:     m.Chat.ID,
			Title:  m.Chat.Title,
			Type:   m.Chat.Type,
			Active: true,
		})
		if err != nil {
			b.logger.Error("chat activation failed", "chat_id", m.Chat.ID, "error", err)
			return
		}
		// The upsert keeps an existing row's activation state, so a re-added
		// chat needs the flag flipped back explicitly.
		if err := b.store.SetChatActive(ctx, m.Chat.ID, true, ""); err != nil {
			b.logger.Error("chat activation failed", "chat_id", m.Chat.ID, "error", err)
		} else {
			b.logger.Info("chat activated", "chat_id", m.Chat.ID, "status", m.NewChatMember.Status)
		}
	}
}

// inboundFromMessage maps a Telegram message onto the ingestion type. Media
// messages contribute their caption as the text.
func inboundFromMessage(msg *tgbotapi.Message) *ingest.Inbound {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	tag := mediaTag(msg)

	in := &ingest.Inbound{
		ChatID:      msg.Chat.ID,
		ChatTitle:   msg.Chat.Title,
		ChatType:    msg.Chat.Type,
		MessageID:   int64(msg.MessageID),
		UserID:      msg.From.ID,
		Username:    msg.From.UserName,
		FirstName:   displayName(msg.From),
		Text:        text,
		MessageType: tag,
		HasLinks:    hasLinkEntities(msg.Entities) || hasLinkEntities(msg.CaptionEntities),
		HasMedia:    tag != "",
		Forwarded:   msg.ForwardFrom != nil || msg.ForwardFromChat != nil,
		CreatedAt:   time.Unix(int64(msg.Date), 0).UTC(),
	}
	if reply := msg.ReplyToMessage; reply != nil {
		id := int64(reply.MessageID)
		in.ReplyToMessageID = &id
		if reply.From != nil {
			uid := reply.From.ID
			in.ReplyToUserID = &uid
		}
	}
	return in
}

// mediaTag returns the message's media kind, or "" for plain text. Animation
// is checked before Document because the API sets both on GIFs.
func mediaTag(msg *tgbotapi.Message) string {
	switch {
	case len(msg.Photo) > 0:
		return "photo"
	case msg.Video != nil:
		return "video"
	case msg.Animation != nil:
		return "animation"
	case msg.Document != nil:
		return "document"
	case msg.Audio != nil:
		return "audio"
	case msg.Voice != nil:
		return "voice"
	case msg.VideoNote != nil:
		return "video_note"
	case msg.Sticker != nil:
		return "sticker"
	}
	return ""
}

func hasLinkEntities(entities []tgbotapi.MessageEntity) bool {
	for _, e := range entities {
		if e.Type == "url" || e.Type == "text_link" {
			return true
		}
	}
	return false
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

// Reply renders worker output (Markdown) to sanitized HTML and delivers it,
// falling back to plain text when Telegram rejects the markup.
func (b *Bot) Reply(ctx context.Context, chatID, replyTo int64, markdown string) error {
	return b.deliver(ctx, chatID, replyTo, RenderMessage(markdown))
}

// ReplyText delivers an already-plain acknowledgement.
func (b *Bot) ReplyText(ctx context.Context, chatID, replyTo int64, text string) error {
	return b.deliver(ctx, chatID, replyTo, escapeText(text))
}

func (b *Bot) deliver(ctx context.Context, chatID, replyTo int64, html string) error {
	// Headroom for the closing tags re-balancing may add to a cut chunk.
	for _, chunk := range splitMessage(html, messageLimit-64) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if replyTo != 0 {
			msg.ReplyToMessageID = int(replyTo)
		}

		if _, err := b.sender.Send(msg); err != nil {
			if isParseError(err) {
				plain := msg
				plain.ParseMode = ""
				plain.Text = stripTags(chunk)
				if _, perr := b.sender.Send(plain); perr != nil {
					return b.sendFailure(ctx, chatID, perr)
				}
				b.logger.Warn("html rejected, sent plain text", "chat_id", chatID, "error", err)
				continue
			}
			return b.sendFailure(ctx, chatID, err)
		}
	}
	return nil
}

// sendFailure classifies a delivery error. A chat that kicked or blocked the
// bot is deactivated so the schedulers stop touching it.
func (b *Bot) sendFailure(ctx context.Context, chatID int64, err error) error {
	if isChatGone(err) {
		if derr := b.store.SetChatActive(context.WithoutCancel(ctx), chatID, false, "chat unreachable"); derr != nil {
			b.logger.Error("chat deactivation failed", "chat_id", chatID, "error", derr)
		} else {
			b.logger.Info("chat unreachable, deactivated", "chat_id", chatID)
		}
	}
	return fmt.Errorf("send to chat %d: %w", chatID, err)
}

func (b *Bot) sendTyping(chatID int64) {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := b.sender.Request(action); err != nil {
		b.logger.Debug("typing action failed", "chat_id", chatID, "error", err)
	}
}

func isParseError(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return strings.Contains(apiErr.Message, "can't parse entities")
	}
	return false
}

func isChatGone(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == 403 {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "chat not found") ||
		strings.Contains(msg, "bot was kicked") ||
		strings.Contains(msg, "bot was blocked")
}

// splitMessage cuts text into Telegram-sized chunks, preferring newline
// boundaries. Splitting sanitized HTML can sever a tag pair, so each chunk
// is re-sanitized, which re-balances it.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, SanitizeHTML(strings.TrimSpace(string(runes[:cut]))))
		runes = runes[cut:]
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		chunks = append(chunks, SanitizeHTML(rest))
	}
	return chunks
}
