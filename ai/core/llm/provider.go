// Package llm routes chat completions across OpenAI-compatible providers
// with per-provider resilience.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/chatsense/ai/resilience"
	"github.com/hrygo/chatsense/internal/metrics"
)

// ProviderConfig describes one OpenAI-compatible endpoint.
type ProviderConfig struct {
	Name    string `json:"name"`
	Type    string `json:"type"` // zai, deepseek, openai, siliconflow, dashscope, openrouter, ollama
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	// Priority orders candidates, lower wins.
	Priority int `json:"priority"`
	// Tags mark special capabilities, e.g. "web" for search-grounded
	// models. Tagged providers are only used for requests carrying a
	// matching tag.
	Tags        []string `json:"tags,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float32  `json:"temperature,omitempty"`
}

// Request is one completion call.
type Request struct {
	System string
	User   string
	// Temperature overrides the provider default when non-zero.
	Temperature float32
	// Tag prefers providers carrying it.
	Tag       string
	MaxTokens int
}

// Response carries the completion and its usage accounting.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
	Provider         string
}

// Client is one provider endpoint behind its own resilience chain.
type Client struct {
	cfg     ProviderConfig
	api     *openai.Client
	chain   *resilience.Chain
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewClient creates a provider client. Metrics may be nil.
func NewClient(cfg ProviderConfig, chainCfg resilience.ChainConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	return &Client{
		cfg:     cfg,
		api:     openai.NewClientWithConfig(clientConfig),
		chain:   resilience.NewChain("llm:"+cfg.Name, chainCfg, m, logger),
		metrics: m,
		logger:  logger.With("provider", cfg.Name),
	}
}

// Name returns the provider's configured name.
func (c *Client) Name() string { return c.cfg.Name }

// Model returns the configured model.
func (c *Client) Model() string { return c.cfg.Model }

// Priority returns the routing priority, lower first.
func (c *Client) Priority() int { return c.cfg.Priority }

// HasTag reports whether the provider carries the tag.
func (c *Client) HasTag(tag string) bool {
	for _, t := range c.cfg.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Tagged reports whether the provider carries any tag at all.
func (c *Client) Tagged() bool { return len(c.cfg.Tags) > 0 }

// Complete runs one completion through the resilience chain.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = c.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	start := time.Now()
	resp, err := resilience.Do(ctx, c.chain, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.cfg.Model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			Messages:    messages,
		})
	})
	latency := time.Since(start)

	if c.metrics != nil {
		c.metrics.RecordLLMRequest(c.cfg.Name, c.cfg.Model, latency, err == nil)
	}
	if err != nil {
		return nil, fmt.Errorf("completion via %s: %w", c.cfg.Name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from %s", c.cfg.Name)
	}

	if c.metrics != nil {
		c.metrics.RecordLLMTokens(resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	c.logger.Debug("completion finished",
		"model", resp.Model,
		"total_tokens", resp.Usage.TotalTokens,
		"duration_ms", latency.Milliseconds())

	return &Response{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		Model:            resp.Model,
		Provider:         c.cfg.Name,
	}, nil
}

// newHTTPClient builds the shared transport tuning. The short idle lifetime
// guards against stale keep-alives behind provider-side proxies.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
