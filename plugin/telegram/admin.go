package telegram

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/chatsense/store"
)

// AdminCommand is one owner-only command. The composition root registers
// concrete commands (status, llm, prompt, reindex, cleanup) with their
// dependencies closed over; the bot only dispatches.
type AdminCommand interface {
	// Keyword is the command name without the slash.
	Keyword() string
	// Describe is the one-line help text.
	Describe() string
	// Execute runs the command and returns a Markdown reply.
	Execute(ctx context.Context, args string) (string, error)
}

type adminFunc struct {
	keyword  string
	describe string
	fn       func(ctx context.Context, args string) (string, error)
}

func (c *adminFunc) Keyword() string  { return c.keyword }
func (c *adminFunc) Describe() string { return c.describe }
func (c *adminFunc) Execute(ctx context.Context, args string) (string, error) {
	return c.fn(ctx, args)
}

// NewAdminCommand wraps a function as an AdminCommand.
func NewAdminCommand(keyword, describe string, fn func(ctx context.Context, args string) (string, error)) AdminCommand {
	return &adminFunc{keyword: keyword, describe: describe, fn: fn}
}

// handleAdmin dispatches unrecognized commands to the admin registry.
// Anyone but the configured admin, or any non-private chat, is ignored
// without a reply.
func (b *Bot) handleAdmin(ctx context.Context, msg *tgbotapi.Message, cmd, args string) {
	if !msg.Chat.IsPrivate() || !b.isAdmin(msg.From) {
		return
	}

	command, ok := b.admins[cmd]
	if !ok {
		b.replyOrLog(ctx, msg, "Неизвестная команда. Доступно:\n"+b.adminHelp())
		return
	}

	out, err := command.Execute(ctx, args)
	if err != nil {
		b.logger.Error("admin command failed", "command", cmd, "error", err)
		b.replyOrLog(ctx, msg, "Ошибка: "+err.Error())
		return
	}
	if err := b.Reply(ctx, msg.Chat.ID, int64(msg.MessageID), out); err != nil {
		b.logger.Error("admin reply failed", "command", cmd, "error", err)
	}
}

func (b *Bot) isAdmin(u *tgbotapi.User) bool {
	if b.cfg.AdminID != 0 && u.ID == b.cfg.AdminID {
		return true
	}
	return b.cfg.AdminUsername != "" && strings.EqualFold(u.UserName, b.cfg.AdminUsername)
}

func (b *Bot) adminHelp() string {
	keywords := make([]string, 0, len(b.admins))
	for k := range b.admins {
		keywords = append(keywords, k)
	}
	sort.Strings(keywords)

	var sb strings.Builder
	for _, k := range keywords {
		fmt.Fprintf(&sb, "/%s — %s\n", k, b.admins[k].Describe())
	}
	return sb.String()
}

// builtinAdminCommands are the store-only commands every deployment gets.
// Commands needing the router, indexer or queues are registered by the
// composition root.
func builtinAdminCommands(b *Bot) map[string]AdminCommand {
	commands := []AdminCommand{
		NewAdminCommand("ban", "заблокировать пользователя: /ban <user_id> [причина]", b.adminBan),
		NewAdminCommand("unban", "разблокировать пользователя: /unban <user_id>", b.adminUnban),
		NewAdminCommand("rename", "задать имя участнику: /rename <chat_id> <user_id> <имя>", b.adminRename),
		NewAdminCommand("chats", "список известных чатов", b.adminChats),
		NewAdminCommand("activate", "включить чат обратно: /activate <chat_id>", b.adminActivate),
	}
	out := make(map[string]AdminCommand, len(commands))
	for _, c := range commands {
		out[c.Keyword()] = c
	}
	return out
}

func (b *Bot) adminBan(ctx context.Context, args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", fmt.Errorf("укажите user_id")
	}
	userID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return "", fmt.Errorf("некорректный user_id %q", fields[0])
	}
	reason := strings.TrimSpace(strings.TrimPrefix(args, fields[0]))

	err = b.store.BanUser(ctx, &store.BannedUser{
		UserID:   userID,
		Reason:   reason,
		BannedBy: b.cfg.AdminID,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Пользователь %d заблокирован.", userID), nil
}

func (b *Bot) adminUnban(ctx context.Context, args string) (string, error) {
	userID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		return "", fmt.Errorf("некорректный user_id %q", args)
	}
	if err := b.store.UnbanUser(ctx, userID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Пользователь %d разблокирован.", userID), nil
}

// adminRename records a manual alias, which beats extracted nicknames in
// retrieval name resolution.
func (b *Bot) adminRename(ctx context.Context, args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) < 3 {
		return "", fmt.Errorf("формат: /rename <chat_id> <user_id> <имя>")
	}
	chatID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return "", fmt.Errorf("некорректный chat_id %q", fields[0])
	}
	userID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", fmt.Errorf("некорректный user_id %q", fields[1])
	}
	alias := strings.Join(fields[2:], " ")

	_, err = b.store.RecordUserAlias(ctx, &store.UserAlias{
		ChatID: chatID,
		UserID: userID,
		Alias:  alias,
		Source: store.AliasSourceManual,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Участник %d теперь известен как «%s».", userID, alias), nil
}

func (b *Bot) adminChats(ctx context.Context, _ string) (string, error) {
	chats, err := b.store.ListChats(ctx, &store.FindChat{})
	if err != nil {
		return "", err
	}
	if len(chats) == 0 {
		return "Чатов пока нет.", nil
	}

	var sb strings.Builder
	for _, c := range chats {
		state := "активен"
		if !c.Active {
			state = "неактивен"
			if c.DeactivationReason != "" {
				state += ": " + c.DeactivationReason
			}
		}
		fmt.Fprintf(&sb, "`%d` %s (%s)\n", c.ID, c.Title, state)
	}
	return sb.String(), nil
}

// adminActivate flips a deactivated chat back on, for when a chat was muted
// by a transient delivery failure.
func (b *Bot) adminActivate(ctx context.Context, args string) (string, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		return "", fmt.Errorf("некорректный chat_id %q", args)
	}
	if err := b.store.SetChatActive(ctx, chatID, true, ""); err != nil {
		return "", err
	}
	return fmt.Sprintf("Чат %d снова активен.", chatID), nil
}
