// Package ai assembles the LLM router, embedding client, and reranker from
// the runtime profile.
package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hrygo/chatsense/ai/core/embedding"
	"github.com/hrygo/chatsense/ai/core/llm"
	"github.com/hrygo/chatsense/ai/core/reranker"
	"github.com/hrygo/chatsense/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	// LLMProviders is the routing order seed: the profile's primary
	// provider at priority 0 plus any extras from the providers JSON.
	LLMProviders []llm.ProviderConfig
	// LLMTimeout bounds each completion attempt.
	LLMTimeout time.Duration
	Embedding  embedding.Config
	Reranker   reranker.Config
	Enabled    bool
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) (*Config, error) {
	cfg := &Config{
		Enabled: p.IsAIEnabled(),
	}
	if !cfg.Enabled {
		return cfg, nil
	}

	cfg.LLMTimeout = time.Duration(p.ALLMTimeout) * time.Second

	cfg.LLMProviders = []llm.ProviderConfig{{
		Name:     p.ALLMProvider,
		Type:     p.ALLMProvider,
		BaseURL:  p.ALLMBaseURL,
		APIKey:   p.ALLMAPIKey,
		Model:    p.ALLMModel,
		Priority: 0,
	}}

	if p.ALLMProviders != "" {
		var extras []llm.ProviderConfig
		if err := json.Unmarshal([]byte(p.ALLMProviders), &extras); err != nil {
			return nil, fmt.Errorf("parse extra LLM providers: %w", err)
		}
		for i, extra := range extras {
			if extra.Name == "" || extra.BaseURL == "" || extra.Model == "" {
				return nil, fmt.Errorf("extra LLM provider %d: name, base_url, and model are required", i)
			}
			if extra.Priority == 0 {
				// The primary provider owns priority 0.
				extra.Priority = i + 1
			}
			cfg.LLMProviders = append(cfg.LLMProviders, extra)
		}
	}

	cfg.Embedding = embedding.Config{
		Provider:   p.AIEmbeddingProvider,
		Model:      p.AIEmbeddingModel,
		APIKey:     p.AIEmbeddingAPIKey,
		BaseURL:    p.AIEmbeddingBaseURL,
		Dimensions: p.AIEmbeddingDimensions,
	}

	cfg.Reranker = reranker.Config{
		Provider: p.AIRerankProvider,
		Model:    p.AIRerankModel,
		APIKey:   p.AIRerankAPIKey,
		BaseURL:  p.AIRerankBaseURL,
		Enabled:  p.AIRerankEnabled && p.AIRerankAPIKey != "",
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if len(c.LLMProviders) == 0 {
		return errors.New("at least one LLM provider is required")
	}
	for _, p := range c.LLMProviders {
		if p.Type != "ollama" && p.APIKey == "" {
			return fmt.Errorf("LLM provider %q: API key is required", p.Name)
		}
	}

	if c.Embedding.Provider == "" {
		return errors.New("embedding provider is required")
	}
	if c.Embedding.Provider != "ollama" && c.Embedding.APIKey == "" {
		return errors.New("embedding API key is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}

	return nil
}
