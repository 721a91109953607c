// Package server is the composition root: it wires the store, the queue
// services and their workers, the AI stack, the indexer, the schedulers, the
// ops HTTP surface, and the Telegram bot into one process.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/chatsense/ai"
	"github.com/hrygo/chatsense/indexer"
	"github.com/hrygo/chatsense/ingest"
	"github.com/hrygo/chatsense/internal/metrics"
	"github.com/hrygo/chatsense/internal/profile"
	"github.com/hrygo/chatsense/memory"
	"github.com/hrygo/chatsense/plugin/telegram"
	"github.com/hrygo/chatsense/prompts"
	"github.com/hrygo/chatsense/queue"
	"github.com/hrygo/chatsense/retrieval"
	"github.com/hrygo/chatsense/store"
)

const shutdownTimeout = 15 * time.Second

// Server owns the composed system. NewServer builds everything, Start
// launches the background loops, Shutdown stops them and releases resources.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	metrics   *metrics.Metrics
	catalogue *prompts.Catalogue
	stack     *ai.Stack
	pipeline  *ingest.Pipeline
	bot       *telegram.Bot

	asks      *queue.Service[store.AskTask]
	summaries *queue.Service[store.SummaryTask]
	truths    *queue.Service[store.TruthTask]
	facts     *queue.Service[store.MessageTask]
	questions *queue.Service[store.QuestionTask]

	// queues is the payload-agnostic view of all five queues for the ops
	// endpoints and the admin commands.
	queues   []queueView
	listener *queue.Listener
	watchdog *queue.Watchdog

	askWorker     *queue.Worker[store.AskTask]
	summaryWorker *queue.Worker[store.SummaryTask]
	truthWorker   *queue.Worker[store.TruthTask]

	// responder and summarizer are nil when the AI stack is disabled; the
	// workers then answer with a canned notice instead.
	responder    *retrieval.Responder
	summarizer   *retrieval.Summarizer
	extractor    *memory.FactExtractor
	generator    *memory.ProfileGenerator
	orchestrator *indexer.Orchestrator

	echoServer *echo.Echo
	logger     *slog.Logger
	startedAt  time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer composes the system from the profile. Nothing runs yet; callers
// must have initialised the store schema before Start.
func NewServer(ctx context.Context, p *profile.Profile, st *store.Store) (*Server, error) {
	logger := slog.Default()

	s := &Server{
		Profile:   p,
		Store:     st,
		metrics:   metrics.New(metrics.DefaultConfig()),
		catalogue: prompts.NewCatalogue(st, logger),
		logger:    logger.With("component", "server"),
		startedAt: time.Now(),
	}

	if err := s.catalogue.LoadOverrides(ctx); err != nil {
		logger.Warn("prompt overrides unavailable, using built-ins", "error", err)
	}

	aiCfg, err := ai.NewConfigFromProfile(p)
	if err != nil {
		return nil, fmt.Errorf("assemble ai config: %w", err)
	}
	s.stack, err = ai.NewStack(aiCfg, s.metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("build ai stack: %w", err)
	}

	queueCfg := func(table string) queue.Config {
		return queue.DefaultConfig(table,
			p.QueueMaxAttempts,
			p.QueueBaseRetryWait, p.QueueMaxRetryWait, p.QueueLeaseTimeout,
			p.QueuePendingCap, p.QueueRetention)
	}
	s.asks = queue.NewService[store.AskTask](queueCfg(store.QueueTableAsk), st, s.metrics, logger)
	s.summaries = queue.NewService[store.SummaryTask](queueCfg(store.QueueTableSummary), st, s.metrics, logger)
	s.truths = queue.NewService[store.TruthTask](queueCfg(store.QueueTableTruth), st, s.metrics, logger)
	s.facts = queue.NewService[store.MessageTask](queueCfg(store.QueueTableMessage), st, s.metrics, logger)
	s.questions = queue.NewService[store.QuestionTask](queueCfg(store.QueueTableQuestionGeneration), st, s.metrics, logger)
	s.queues = []queueView{s.asks, s.summaries, s.truths, s.facts, s.questions}

	// Only queues with a blocking consumer get a LISTEN mailbox; the
	// question-generation queue is drained by the indexer on its own
	// schedule, so its notifications would pile up unread.
	notified := []string{
		store.QueueTableAsk,
		store.QueueTableSummary,
		store.QueueTableTruth,
		store.QueueTableMessage,
	}
	s.listener, err = queue.NewListener(p.DSN, notified, logger)
	if err != nil {
		return nil, fmt.Errorf("create queue listener: %w", err)
	}

	s.watchdog = queue.NewWatchdog(st, []queue.Maintainer{
		s.asks, s.summaries, s.truths, s.facts, s.questions,
	}, s.metrics, logger)

	ingestCfg := ingest.DefaultConfig()
	ingestCfg.DedupTTL = p.DedupTTL
	ingestCfg.DedupMinLength = p.DedupMinLength
	ingestCfg.EmbedMinLength = p.EmbedMinLength
	s.pipeline = ingest.NewPipeline(st, s.facts, s.questions, s.metrics, logger, ingestCfg)

	// Memory services run regardless of the AI stack: gender detection and
	// queue draining are store-only, and the extractor/generator simply
	// skip their LLM step when no completer is wired.
	var completer memory.Completer
	if s.stack.Enabled {
		completer = s.stack.Router
	}
	gender := memory.NewGenderDetector(st, logger)
	composer := memory.NewComposer(st, logger)

	extractorCfg := memory.DefaultExtractorConfig()
	extractorCfg.Poll = p.QueuePollFallback
	s.extractor = memory.NewFactExtractor(st, s.facts, s.listener.Mailbox(store.QueueTableMessage),
		completer, s.catalogue, gender, extractorCfg, logger)

	generatorCfg := memory.DefaultGeneratorConfig()
	generatorCfg.HourUTC = p.ProfileGenHourUTC
	s.generator = memory.NewProfileGenerator(st, completer, s.catalogue, generatorCfg, logger)

	if s.stack.Enabled {
		classifier := retrieval.NewClassifier(s.stack.Router, s.catalogue, logger)
		expander := retrieval.NewExpander(s.stack.Router, s.catalogue, logger)
		engine := retrieval.NewEngine(st, s.stack.Embedder, s.stack.Reranker,
			classifier, expander, s.metrics, logger, retrieval.DefaultConfig())
		builder := retrieval.NewContextBuilder(st, retrieval.DefaultContextConfig(), logger)
		s.responder = retrieval.NewResponder(engine, builder, s.stack.Router, s.catalogue, st, composer, logger)
		s.summarizer = retrieval.NewSummarizer(st, s.stack.Router, s.catalogue,
			retrieval.SummarizerConfig{MaxMessages: p.SummaryMaxMessages}, logger)

		indexCfg := indexer.DefaultConfig()
		indexCfg.BatchSize = p.IndexBatchSize
		indexCfg.MaxBatchesPerRun = p.IndexMaxBatches
		indexCfg.IdleDelay = p.IndexIdleDelay
		s.orchestrator = indexer.NewOrchestrator([]indexer.Handler{
			indexer.NewMessageHandler(st, s.stack.Embedder, p.EmbedMinLength),
			indexer.NewContextHandler(st, s.stack.Embedder, p.ContextWindowSize, p.ContextWindowStep),
			indexer.NewQuestionHandler(st, s.questions, s.stack.Router, s.stack.Embedder,
				s.catalogue, p.QuestionsPerMessage, p.EmbedMinLength, logger),
		}, s.metrics, logger, indexCfg)
	}

	botCfg := telegram.DefaultConfig()
	botCfg.AdminID = p.TelegramAdminID
	botCfg.AdminUsername = p.TelegramAdminUsername
	if p.TelegramPollTimeout > 0 {
		botCfg.PollTimeout = p.TelegramPollTimeout
	}
	if p.SummaryDefaultWindow > 0 {
		botCfg.SummaryDefaultWindow = p.SummaryDefaultWindow
	}
	s.bot, err = telegram.NewBot(p.TelegramToken, st, s.pipeline,
		s.asks, s.summaries, s.truths, s.metrics, logger, botCfg)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	s.registerAdminCommands()

	poll := p.QueuePollFallback
	s.askWorker = queue.NewWorker(s.asks, s.listener.Mailbox(store.QueueTableAsk), poll, s.handleAskTask, logger)
	s.summaryWorker = queue.NewWorker(s.summaries, s.listener.Mailbox(store.QueueTableSummary), poll, s.handleSummaryTask, logger)
	s.truthWorker = queue.NewWorker(s.truths, s.listener.Mailbox(store.QueueTableTruth), poll, s.handleTruthTask, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	s.registerOps(e)
	s.echoServer = e

	return s, nil
}

// Start launches every background loop. It returns immediately; loops run
// until the context given here is cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.spawn(ctx, "listener", s.listener.Run)
	s.spawn(ctx, "watchdog", s.watchdog.Run)
	s.spawn(ctx, "ask-worker", s.askWorker.Run)
	s.spawn(ctx, "summary-worker", s.summaryWorker.Run)
	s.spawn(ctx, "truth-worker", s.truthWorker.Run)
	s.spawn(ctx, "fact-extractor", s.extractor.Run)
	s.spawn(ctx, "profile-generator", s.generator.Run)
	s.spawn(ctx, "daily-scheduler", s.dailyLoop)
	if s.orchestrator != nil {
		s.spawn(ctx, "indexer", func(ctx context.Context) {
			if err := s.orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("indexer stopped", "error", err)
			}
		})
	}
	s.spawn(ctx, "telegram-bot", s.bot.Run)

	// Best-effort connection warmup; failures only cost first-request latency.
	go s.stack.Warmup(ctx, s.logger)

	addr := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.echoServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops server stopped", "error", err)
		}
	}()

	s.logger.Info("server started",
		"addr", addr,
		"ai_enabled", s.stack.Enabled,
		"version", s.Profile.Version,
		"mode", s.Profile.Mode)
	return nil
}

// Shutdown stops the loops and closes resources. Best effort: loops that do
// not finish within the timeout are abandoned.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down")
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.echoServer.Shutdown(ctx); err != nil {
		s.logger.Error("ops server shutdown failed", "error", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.pipeline.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown timed out, abandoning background loops")
	}

	if err := s.listener.Close(); err != nil {
		s.logger.Error("queue listener close failed", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err)
	}
	s.logger.Info("server stopped")
}

func (s *Server) spawn(ctx context.Context, name string, run func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run(ctx)
		s.logger.Debug("background loop stopped", "loop", name)
	}()
}
