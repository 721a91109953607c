package server

import (
	"context"

	"github.com/hrygo/chatsense/queue"
	"github.com/hrygo/chatsense/store"
)

const (
	aiDisabledText    = "Модель не настроена. Задайте ключ LLM в конфигурации, и я смогу отвечать."
	requestFailedText = "Не получилось обработать запрос. Попробуйте ещё раз позже."
)

func (s *Server) handleAskTask(ctx context.Context, item *queue.Item[store.AskTask]) error {
	task := &item.Payload
	if s.responder == nil {
		return s.bot.Reply(ctx, task.ChatID, task.MessageID, aiDisabledText)
	}
	answer, err := s.responder.Respond(ctx, task)
	if err != nil {
		s.notifyFinalFailure(ctx, item.AttemptCount, task.ChatID, task.MessageID)
		return err
	}
	return s.bot.Reply(ctx, task.ChatID, task.MessageID, answer.Text)
}

func (s *Server) handleSummaryTask(ctx context.Context, item *queue.Item[store.SummaryTask]) error {
	task := &item.Payload
	if s.summarizer == nil {
		return s.bot.Reply(ctx, task.ChatID, task.MessageID, aiDisabledText)
	}
	digest, err := s.summarizer.Summarize(ctx, task)
	if err != nil {
		s.notifyFinalFailure(ctx, item.AttemptCount, task.ChatID, task.MessageID)
		return err
	}
	return s.bot.Reply(ctx, task.ChatID, task.MessageID, digest)
}

func (s *Server) handleTruthTask(ctx context.Context, item *queue.Item[store.TruthTask]) error {
	task := &item.Payload
	if s.summarizer == nil {
		return s.bot.Reply(ctx, task.ChatID, task.MessageID, aiDisabledText)
	}
	verdict, err := s.summarizer.Truth(ctx, task)
	if err != nil {
		s.notifyFinalFailure(ctx, item.AttemptCount, task.ChatID, task.MessageID)
		return err
	}
	return s.bot.Reply(ctx, task.ChatID, task.MessageID, verdict)
}

// notifyFinalFailure tells the requester their task is being dropped. Only
// the last attempt notifies; earlier failures retry silently.
func (s *Server) notifyFinalFailure(ctx context.Context, attempts int, chatID, replyTo int64) {
	if attempts < s.Profile.QueueMaxAttempts {
		return
	}
	if err := s.bot.ReplyText(context.WithoutCancel(ctx), chatID, replyTo, requestFailedText); err != nil {
		s.logger.Debug("failure notice undeliverable", "chat_id", chatID, "error", err)
	}
}
