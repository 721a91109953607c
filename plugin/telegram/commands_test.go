package telegram

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/chatsense/queue"
	"github.com/hrygo/chatsense/store"
)

// queueDriver backs real queue services with an in-memory table map.
type queueDriver struct {
	store.Driver

	pending  int64
	enqueued map[string][][]byte

	banned   []int64
	unbanned []int64
}

func (d *queueDriver) QueuePendingCount(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return d.pending, nil
}

func (d *queueDriver) QueueEnqueue(_ context.Context, table string, payload []byte) (int64, error) {
	if d.enqueued == nil {
		d.enqueued = map[string][][]byte{}
	}
	d.enqueued[table] = append(d.enqueued[table], payload)
	return int64(len(d.enqueued[table])), nil
}

func (d *queueDriver) BanUser(_ context.Context, ban *store.BannedUser) error {
	d.banned = append(d.banned, ban.UserID)
	return nil
}

func (d *queueDriver) IsUserBanned(_ context.Context, _ int64) (bool, error) {
	return false, nil
}

// fakeSender records outgoing chattables instead of hitting the API.
type fakeSender struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	err      error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) lastText(t *testing.T) string {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("nothing was sent")
	}
	msg, ok := f.sent[len(f.sent)-1].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("last chattable is %T, want MessageConfig", f.sent[len(f.sent)-1])
	}
	return msg.Text
}

func newTestBot(t *testing.T, driver *queueDriver) (*Bot, *fakeSender) {
	t.Helper()
	st := store.New(driver, nil)
	sender := &fakeSender{}
	cfg := DefaultConfig()
	cfg.AdminID = 99

	mk := func(table string) queue.Config {
		return queue.Config{Table: table, PendingCap: 10, LeaseTimeout: time.Minute}
	}
	b := &Bot{
		sender:    sender,
		self:      "chatsense_bot",
		store:     st,
		asks:      queue.NewService[store.AskTask](mk(store.QueueTableAsk), st, nil, nil),
		summaries: queue.NewService[store.SummaryTask](mk(store.QueueTableSummary), st, nil, nil),
		truths:    queue.NewService[store.TruthTask](mk(store.QueueTableTruth), st, nil, nil),
		cfg:       cfg,
		logger:    slog.Default(),
	}
	b.admins = builtinAdminCommands(b)
	return b, sender
}

// command builds an inbound message whose entities mark the leading
// bot command, the way the Bot API does.
func command(chatType, text string) *tgbotapi.Message {
	length := len(text)
	if i := strings.Index(text, " "); i > 0 {
		length = i
	}
	return &tgbotapi.Message{
		MessageID: 42,
		From:      &tgbotapi.User{ID: 5, FirstName: "Вася", UserName: "vasya"},
		Chat:      &tgbotapi.Chat{ID: -100123, Type: chatType},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
	}
}

func decodeLast[T any](t *testing.T, driver *queueDriver, table string) T {
	t.Helper()
	rows := driver.enqueued[table]
	if len(rows) == 0 {
		t.Fatalf("nothing enqueued into %s", table)
	}
	var payload T
	if err := json.Unmarshal(rows[len(rows)-1], &payload); err != nil {
		t.Fatalf("payload undecodable: %v", err)
	}
	return payload
}

func TestAskEnqueuesAndAcksWithTyping(t *testing.T) {
	driver := &queueDriver{}
	b, sender := newTestBot(t, driver)

	b.handleCommand(context.Background(), command("supergroup", "/ask кто обещал торт?"))

	task := decodeLast[store.AskTask](t, driver, store.QueueTableAsk)
	if task.Question != "кто обещал торт?" || task.Command != "ask" {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.RequestID == "" {
		t.Fatal("request id must be set")
	}
	if task.ChatID != -100123 || task.UserID != 5 || task.MessageID != 42 {
		t.Fatalf("identity fields wrong: %+v", task)
	}
	if task.DisplayName != "Вася" || task.Username != "vasya" {
		t.Fatalf("asker fields wrong: %+v", task)
	}

	if len(sender.requests) != 1 {
		t.Fatalf("typing actions = %d, want 1", len(sender.requests))
	}
	if _, ok := sender.requests[0].(tgbotapi.ChatActionConfig); !ok {
		t.Fatalf("ack is %T, want ChatActionConfig", sender.requests[0])
	}
	if len(sender.sent) != 0 {
		t.Fatalf("no text ack expected for /ask, got %d", len(sender.sent))
	}
}

func TestSmartSetsCommand(t *testing.T) {
	driver := &queueDriver{}
	b, _ := newTestBot(t, driver)

	b.handleCommand(context.Background(), command("supergroup", "/smart объясни шутку"))

	task := decodeLast[store.AskTask](t, driver, store.QueueTableAsk)
	if task.Command != "smart" {
		t.Fatalf("command = %q, want smart", task.Command)
	}
}

func TestAskBlankRepliesHelpWithoutEnqueue(t *testing.T) {
	for _, text := range []string{"/ask", "/ask   "} {
		driver := &queueDriver{}
		b, sender := newTestBot(t, driver)

		b.handleCommand(context.Background(), command("supergroup", text))

		if len(driver.enqueued[store.QueueTableAsk]) != 0 {
			t.Fatalf("%q: blank question must not enqueue", text)
		}
		if !strings.Contains(sender.lastText(t), "Задайте вопрос") {
			t.Fatalf("%q: expected help text, got %q", text, sender.lastText(t))
		}
	}
}

func TestAskQueueFull(t *testing.T) {
	driver := &queueDriver{pending: 10}
	b, sender := newTestBot(t, driver)

	b.handleCommand(context.Background(), command("supergroup", "/ask вопрос"))

	if len(driver.enqueued[store.QueueTableAsk]) != 0 {
		t.Fatal("full queue must reject")
	}
	if !strings.Contains(sender.lastText(t), "попробуйте чуть позже") {
		t.Fatalf("expected back-off text, got %q", sender.lastText(t))
	}
}

func TestTruthCountBoundaries(t *testing.T) {
	cases := []struct {
		args string
		want int
		ack  string
	}{
		{"/truth", 5, "5 сообщений"},
		{"/truth 0", 5, "5 сообщений"},
		{"/truth -5", 5, "5 сообщений"},
		{"/truth abc", 5, "5 сообщений"},
		{"/truth 100", 15, "15 сообщений"},
		{"/truth 7", 7, "7 сообщений"},
		{"/truth 1", 1, "1 сообщение"},
		{"/truth 3", 3, "3 сообщения"},
	}

	for _, tc := range cases {
		driver := &queueDriver{}
		b, sender := newTestBot(t, driver)

		b.handleCommand(context.Background(), command("supergroup", tc.args))

		task := decodeLast[store.TruthTask](t, driver, store.QueueTableTruth)
		if task.Count != tc.want {
			t.Errorf("%q: count = %d, want %d", tc.args, task.Count, tc.want)
		}
		if ack := sender.lastText(t); !strings.Contains(ack, tc.ack) {
			t.Errorf("%q: ack %q must name %q", tc.args, ack, tc.ack)
		}
	}
}

func TestSummaryWindowParsing(t *testing.T) {
	cases := []struct {
		args string
		want time.Duration
	}{
		{"/summary", 24 * time.Hour},
		{"/summary 48", 48 * time.Hour},
		{"/summary 0", 24 * time.Hour},
		{"/summary чепуха", 24 * time.Hour},
		{"/summary 10000", 7 * 24 * time.Hour},
	}

	for _, tc := range cases {
		driver := &queueDriver{}
		b, _ := newTestBot(t, driver)

		b.handleCommand(context.Background(), command("supergroup", tc.args))

		task := decodeLast[store.SummaryTask](t, driver, store.QueueTableSummary)
		if task.Window != tc.want {
			t.Errorf("%q: window = %v, want %v", tc.args, task.Window, tc.want)
		}
	}
}

func TestStartPrivateHasInviteButton(t *testing.T) {
	b, sender := newTestBot(t, &queueDriver{})

	b.handleCommand(context.Background(), command("private", "/start"))

	msg, ok := sender.sent[len(sender.sent)-1].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("unexpected chattable %T", sender.sent[len(sender.sent)-1])
	}
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("reply markup is %T, want inline keyboard", msg.ReplyMarkup)
	}
	url := markup.InlineKeyboard[0][0].URL
	if url == nil || !strings.Contains(*url, "chatsense_bot?startgroup") {
		t.Fatalf("invite URL wrong: %v", url)
	}
}

func TestStartGroupIsShort(t *testing.T) {
	b, sender := newTestBot(t, &queueDriver{})

	b.handleCommand(context.Background(), command("supergroup", "/start"))

	msg := sender.lastText(t)
	if strings.Contains(msg, "startgroup") || len([]rune(msg)) > 300 {
		t.Fatalf("group /start must be a short confirmation, got %q", msg)
	}
}

func TestAdminCommandGating(t *testing.T) {
	driver := &queueDriver{}
	b, sender := newTestBot(t, driver)

	// Group chat: ignored even for the admin.
	msg := command("supergroup", "/ban 123 спам")
	msg.From.ID = 99
	b.handleCommand(context.Background(), msg)
	if len(sender.sent) != 0 || len(driver.banned) != 0 {
		t.Fatal("admin command must be ignored in groups")
	}

	// Private chat, wrong user: ignored.
	msg = command("private", "/ban 123 спам")
	b.handleCommand(context.Background(), msg)
	if len(sender.sent) != 0 || len(driver.banned) != 0 {
		t.Fatal("non-admin must be ignored")
	}

	// Private chat, admin: executes.
	msg = command("private", "/ban 123 спам")
	msg.From.ID = 99
	b.handleCommand(context.Background(), msg)
	if len(driver.banned) != 1 || driver.banned[0] != 123 {
		t.Fatalf("ban not applied: %v", driver.banned)
	}
	if !strings.Contains(sender.lastText(t), "заблокирован") {
		t.Fatalf("confirmation missing, got %q", sender.lastText(t))
	}
}

func TestHelpRepliesOnce(t *testing.T) {
	b, sender := newTestBot(t, &queueDriver{})

	update := tgbotapi.Update{Message: command("supergroup", "/help")}
	b.handleUpdate(context.Background(), update)
	if len(sender.sent) != 1 {
		t.Fatalf("help must reply once, got %d", len(sender.sent))
	}
}
