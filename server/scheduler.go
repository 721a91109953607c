package server

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hrygo/chatsense/store"
)

// Digest fan-out pacing keeps the broadcast under Telegram's send ceiling.
const dailySendPace = 300 * time.Millisecond

// dailyLoop fires once a day at the configured UTC hour: it posts digests to
// opted-in chats and prunes expired conversation memories.
func (s *Server) dailyLoop(ctx context.Context) {
	s.logger.Info("daily scheduler started", "hour_utc", s.Profile.DailySummaryHourUTC)

	for {
		next := nextDailyRun(time.Now().UTC(), s.Profile.DailySummaryHourUTC)
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.runDailySummaries(ctx)
		s.pruneMemories(ctx)
	}
}

// runDailySummaries posts a digest to every active chat that opted in and had
// traffic in the window. Per-chat failures are logged and skipped.
func (s *Server) runDailySummaries(ctx context.Context) {
	if s.summarizer == nil {
		return
	}

	chats, err := s.Store.ListChats(ctx, &store.FindChat{OnlyActive: true})
	if err != nil {
		s.logger.Error("daily digest: list chats failed", "error", err)
		return
	}

	limiter := rate.NewLimiter(rate.Every(dailySendPace), 1)
	posted := 0
	for _, chat := range chats {
		if ctx.Err() != nil {
			return
		}
		if !s.dailySummaryEnabled(ctx, chat.ID) {
			continue
		}
		if !s.chatHadMessages(ctx, chat.ID) {
			continue
		}

		digest, err := s.summarizer.DailyDigest(ctx, chat.ID)
		if err != nil {
			s.logger.Warn("daily digest failed", "chat_id", chat.ID, "error", err)
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if err := s.bot.Reply(ctx, chat.ID, 0, digest); err != nil {
			s.logger.Warn("daily digest undeliverable", "chat_id", chat.ID, "error", err)
			continue
		}
		posted++
	}
	if posted > 0 {
		s.logger.Info("daily digests posted", "chats", posted)
	}
}

// dailySummaryEnabled resolves the per-chat opt-in. The chat setting wins;
// a missing or empty setting falls back to the profile default. Lookup
// errors skip the chat rather than broadcast on uncertain consent.
func (s *Server) dailySummaryEnabled(ctx context.Context, chatID int64) bool {
	setting, err := s.Store.GetChatSetting(ctx, chatID, store.ChatSettingDailySummary)
	if err != nil {
		s.logger.Warn("daily digest: setting lookup failed", "chat_id", chatID, "error", err)
		return false
	}
	if setting == nil || strings.TrimSpace(setting.Value) == "" {
		return s.Profile.DailySummaryEnabled
	}
	return settingEnabled(setting.Value)
}

func settingEnabled(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "1", "yes":
		return true
	default:
		return false
	}
}

// chatHadMessages reports whether the chat saw any message in the digest
// window, so silent chats are not pinged with an empty-period notice.
func (s *Server) chatHadMessages(ctx context.Context, chatID int64) bool {
	since := time.Now().UTC().Add(-24 * time.Hour)
	messages, err := s.Store.ListMessages(ctx, &store.FindMessage{ChatID: &chatID, Since: &since, Limit: 1})
	if err != nil {
		s.logger.Warn("daily digest: activity check failed", "chat_id", chatID, "error", err)
		return false
	}
	return len(messages) > 0
}

// pruneMemories drops conversation memories past retention so stale context
// stops following users into new answers.
func (s *Server) pruneMemories(ctx context.Context) {
	pruned, err := s.Store.CleanupConversationMemories(ctx, memoryRetention)
	if err != nil {
		s.logger.Error("memory cleanup failed", "error", err)
		return
	}
	if pruned > 0 {
		s.logger.Info("conversation memories pruned", "rows", pruned)
	}
}

func nextDailyRun(now time.Time, hourUTC int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
