// Package embedding wraps an OpenAI-compatible embeddings endpoint behind
// the resilience chain.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/chatsense/ai/resilience"
	"github.com/hrygo/chatsense/internal/metrics"
)

// Config represents embedding client configuration.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	// Dimensions is the vector width to request. Must match the store's
	// vector columns.
	Dimensions int
}

// Client batches texts to the embeddings endpoint.
type Client struct {
	cfg     Config
	api     *openai.Client
	chain   *resilience.Chain
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewClient creates the embedding client. Metrics may be nil.
func NewClient(cfg Config, chainCfg resilience.ChainConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	return &Client{
		cfg:     cfg,
		api:     openai.NewClientWithConfig(clientConfig),
		chain:   resilience.NewChain("embedding:"+cfg.Provider, chainCfg, m, logger),
		metrics: m,
		logger:  logger.With("component", "embedding"),
	}
}

// Dimensions returns the configured vector width.
func (c *Client) Dimensions() int { return c.cfg.Dimensions }

// Model returns the provider model identifier stored with each vector.
func (c *Client) Model() string { return c.cfg.Model }

// EmbedBatch returns one vector per input in the same order. Blank inputs
// yield empty vectors at their index, which callers treat as "do not
// store". All eligible texts go to the provider in a single call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	indexes := make([]int, 0, len(texts))
	payload := make([]string, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		indexes = append(indexes, i)
		payload = append(payload, text)
	}
	if len(payload) == 0 {
		return vectors, nil
	}

	start := time.Now()
	resp, err := resilience.Do(ctx, c.chain, func(ctx context.Context) (openai.EmbeddingResponse, error) {
		return c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      payload,
			Model:      openai.EmbeddingModel(c.cfg.Model),
			Dimensions: c.cfg.Dimensions,
		})
	})
	latency := time.Since(start)

	if c.metrics != nil {
		c.metrics.RecordEmbeddingRequest(latency, err == nil)
	}
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(payload), err)
	}
	if len(resp.Data) != len(payload) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(payload))
	}

	for k, data := range resp.Data {
		vectors[indexes[k]] = data.Embedding
	}
	c.logger.Debug("embedded batch",
		"texts", len(payload), "duration_ms", latency.Milliseconds())
	return vectors, nil
}

// Embed returns the vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
