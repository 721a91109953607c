package server

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hrygo/chatsense/internal/version"
	"github.com/hrygo/chatsense/plugin/telegram"
	"github.com/hrygo/chatsense/store"
)

// Conversation memories older than this are pruned by the cleanup command
// and by the nightly maintenance pass.
const memoryRetention = 30 * 24 * time.Hour

func (s *Server) registerAdminCommands() {
	commands := []telegram.AdminCommand{
		telegram.NewAdminCommand("status", "состояние сервиса и очередей", s.adminStatus),
		telegram.NewAdminCommand("llm", "список LLM-провайдеров и их состояние", s.adminLLM),
		telegram.NewAdminCommand("prompt", "промпты: /prompt, /prompt <ключ>, /prompt <ключ> <текст>, /prompt <ключ> -", s.adminPrompt),
		telegram.NewAdminCommand("set", "настройки чата: /set <chat_id>, /set <chat_id> <ключ> <значение>", s.adminSet),
		telegram.NewAdminCommand("reindex", "прогресс индексации эмбеддингов", s.adminReindex),
		telegram.NewAdminCommand("cleanup", "удалить отработанные задачи и старые сводки памяти", s.adminCleanup),
	}
	for _, c := range commands {
		s.bot.RegisterAdmin(c)
	}
}

func (s *Server) adminStatus(ctx context.Context, _ string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "chatsense %s, режим %s\n", version.String(), s.Profile.Mode)
	fmt.Fprintf(&b, "Аптайм: %s\n", time.Since(s.startedAt).Round(time.Second))
	if s.stack.Enabled {
		b.WriteString("AI: включён\n")
	} else {
		b.WriteString("AI: выключен\n")
	}

	b.WriteString("\nОчереди:\n")
	for _, q := range s.queues {
		stats, err := q.DashboardStats(ctx)
		if err != nil {
			return "", fmt.Errorf("статистика очереди %s: %w", q.Name(), err)
		}
		fmt.Fprintf(&b, "`%s` ожидает %d, в работе %d, за сутки %d, мёртвых %d",
			q.Name(), stats.Pending, stats.Processing, stats.CompletedToday, stats.Dead)
		if stats.OldestPendingAge > 0 {
			fmt.Fprintf(&b, ", старейшая %s", stats.OldestPendingAge.Round(time.Second))
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (s *Server) adminLLM(ctx context.Context, _ string) (string, error) {
	_ = ctx
	if !s.stack.Enabled {
		return "AI выключен: ключ LLM не задан.", nil
	}
	providers := s.stack.Router.Providers()
	if len(providers) == 0 {
		return "Провайдеры не настроены.", nil
	}

	var b strings.Builder
	b.WriteString("Провайдеры:\n")
	for _, p := range providers {
		fmt.Fprintf(&b, "`%s` %s, приоритет %d, предохранитель %s", p.Name, p.Model, p.Priority, p.Breaker)
		if len(p.Tags) > 0 {
			fmt.Fprintf(&b, ", теги %s", strings.Join(p.Tags, ","))
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// adminPrompt lists, shows, sets and clears prompt overrides. Keys follow the
// catalogue form command:mode:language with optional tail segments.
func (s *Server) adminPrompt(ctx context.Context, args string) (string, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		keys := s.catalogue.Keys()
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString("Ключи промптов:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "`%s`\n", k)
		}
		b.WriteString("\nИспользование: /prompt <ключ> — показать, /prompt <ключ> <текст> — заменить, /prompt <ключ> - — сбросить.")
		return b.String(), nil
	}

	key, text, _ := strings.Cut(args, " ")
	command, mode, language := splitPromptKey(key)
	text = strings.TrimSpace(text)

	switch text {
	case "":
		current := s.catalogue.Get(command, mode, language)
		if current == "" {
			return fmt.Sprintf("Промпт `%s` не найден.", key), nil
		}
		return fmt.Sprintf("`%s`:\n%s", key, current), nil
	case "-":
		if err := s.catalogue.Override(ctx, command, mode, language, ""); err != nil {
			return "", err
		}
		return fmt.Sprintf("Промпт `%s` сброшен к встроенному.", key), nil
	default:
		if err := s.catalogue.Override(ctx, command, mode, language, text); err != nil {
			return "", err
		}
		return fmt.Sprintf("Промпт `%s` заменён.", key), nil
	}
}

func splitPromptKey(key string) (command, mode, language string) {
	parts := strings.SplitN(key, ":", 3)
	command = parts[0]
	if len(parts) > 1 {
		mode = parts[1]
	}
	if len(parts) > 2 {
		language = parts[2]
	}
	return command, mode, language
}

// adminSet reads and writes per-chat settings: the answer language, the
// answer mode and the daily digest opt-in.
func (s *Server) adminSet(ctx context.Context, args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "Использование: /set <chat_id> — показать, /set <chat_id> <ключ> <значение> — задать, значение `-` сбрасывает.\n" +
			"Ключи: `language` (ru|en), `mode` (normal|roast), `daily_summary` (on|off).", nil
	}

	chatID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return "", fmt.Errorf("chat_id должен быть числом: %q", fields[0])
	}

	if len(fields) == 1 {
		settings, err := s.Store.ListChatSettings(ctx, chatID)
		if err != nil {
			return "", err
		}
		if len(settings) == 0 {
			return fmt.Sprintf("У чата `%d` нет настроек, действуют значения по умолчанию.", chatID), nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Настройки чата `%d`:\n", chatID)
		for _, cs := range settings {
			fmt.Fprintf(&b, "`%s` = %s\n", cs.Key, cs.Value)
		}
		return b.String(), nil
	}

	key := strings.ToLower(fields[1])
	switch key {
	case store.ChatSettingLanguage, store.ChatSettingMode, store.ChatSettingDailySummary:
	default:
		return "", fmt.Errorf("неизвестный ключ %q, доступны language, mode, daily_summary", key)
	}
	if len(fields) < 3 {
		return "", fmt.Errorf("нужно значение: /set %d %s <значение>", chatID, key)
	}

	value := strings.ToLower(fields[2])
	if value == "-" {
		value = ""
	}
	err = s.Store.UpsertChatSetting(ctx, &store.ChatSetting{ChatID: chatID, Key: key, Value: value})
	if err != nil {
		return "", err
	}
	if value == "" {
		return fmt.Sprintf("Настройка `%s` чата `%d` сброшена.", key, chatID), nil
	}
	return fmt.Sprintf("Настройка `%s` чата `%d` теперь %s.", key, chatID, value), nil
}

// adminReindex reports backfill progress. Indexing is cursorless: handlers
// pick up unembedded rows automatically, so there is nothing to reset.
func (s *Server) adminReindex(ctx context.Context, _ string) (string, error) {
	if s.orchestrator == nil {
		return "Индексация выключена: AI не настроен.", nil
	}

	var b strings.Builder
	b.WriteString("Индексация:\n")
	for _, p := range s.orchestrator.Snapshot(ctx) {
		if !p.Enabled {
			fmt.Fprintf(&b, "`%s` выключен\n", p.Handler)
			continue
		}
		fmt.Fprintf(&b, "`%s` %d из %d, осталось %d\n", p.Handler, p.Indexed, p.Total, p.Pending)
	}
	b.WriteString("\nНеиндексированные сообщения подбираются автоматически, отдельный запуск не нужен.")
	return b.String(), nil
}

func (s *Server) adminCleanup(ctx context.Context, _ string) (string, error) {
	var b strings.Builder
	var total int64
	for _, q := range s.queues {
		n, err := q.Cleanup(ctx)
		if err != nil {
			return "", fmt.Errorf("очистка очереди %s: %w", q.Name(), err)
		}
		total += n
		fmt.Fprintf(&b, "`%s` удалено %d\n", q.Name(), n)
	}

	memories, err := s.Store.CleanupConversationMemories(ctx, memoryRetention)
	if err != nil {
		return "", fmt.Errorf("очистка сводок памяти: %w", err)
	}
	fmt.Fprintf(&b, "Сводок памяти удалено: %d\n", memories)
	fmt.Fprintf(&b, "\nИтого строк: %d", total+memories)
	return b.String(), nil
}
