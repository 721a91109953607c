package ai

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/chatsense/ai/core/embedding"
	"github.com/hrygo/chatsense/ai/core/llm"
	"github.com/hrygo/chatsense/ai/core/reranker"
	"github.com/hrygo/chatsense/ai/resilience"
	"github.com/hrygo/chatsense/internal/metrics"
)

// Stack bundles the assembled AI services.
type Stack struct {
	Router   *llm.Router
	Embedder *embedding.Client
	Reranker reranker.Service
	Enabled  bool
}

// NewStack wires the router, embedding client, and reranker. Each LLM
// provider and the embedding endpoint get their own resilience chain.
// Metrics may be nil.
func NewStack(cfg *Config, m *metrics.Metrics, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return &Stack{Enabled: false, Reranker: reranker.NewService(&reranker.Config{})}, nil
	}

	llmChain := resilience.DefaultChainConfig()
	if cfg.LLMTimeout > 0 {
		// Completions get the profile's longer attempt budget; the
		// embedding chain keeps the default 30s.
		llmChain.AttemptTimeout = cfg.LLMTimeout
	}

	clients := make([]*llm.Client, 0, len(cfg.LLMProviders))
	for _, pc := range cfg.LLMProviders {
		clients = append(clients, llm.NewClient(pc, llmChain, m, logger))
	}
	router := llm.NewRouter(clients, logger)

	embedder := embedding.NewClient(cfg.Embedding, resilience.DefaultChainConfig(), m, logger)

	logger.Info("AI stack assembled",
		"llm_providers", len(clients),
		"embedding_model", cfg.Embedding.Model,
		"embedding_dimensions", cfg.Embedding.Dimensions,
		"rerank_enabled", cfg.Reranker.Enabled)

	return &Stack{
		Router:   router,
		Embedder: embedder,
		Reranker: reranker.NewService(&cfg.Reranker),
		Enabled:  true,
	}, nil
}

// Warmup pings the LLM route so the first user request does not pay the
// connection setup cost. Failures only log; the stack still works.
func (s *Stack) Warmup(ctx context.Context, logger *slog.Logger) {
	if !s.Enabled {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	warmupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	_, err := s.Router.Complete(warmupCtx, llm.Request{User: "Hi", MaxTokens: 1})
	if err != nil {
		logger.Warn("LLM warmup ping failed, first request may be slower",
			"error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	logger.Info("LLM connection warmed up", "duration_ms", time.Since(start).Milliseconds())
}
