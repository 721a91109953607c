package ai

import (
	"testing"
	"time"

	"github.com/hrygo/chatsense/ai/core/llm"
	"github.com/hrygo/chatsense/internal/profile"
)

func testProfile() *profile.Profile {
	return &profile.Profile{
		ALLMProvider:          "deepseek",
		ALLMAPIKey:            "deepseek-key",
		ALLMBaseURL:           "https://api.deepseek.com",
		ALLMModel:             "deepseek-chat",
		ALLMTimeout:           60,
		AIEmbeddingProvider:   "siliconflow",
		AIEmbeddingModel:      "BAAI/bge-m3",
		AIEmbeddingAPIKey:     "embed-key",
		AIEmbeddingBaseURL:    "https://api.siliconflow.cn/v1",
		AIEmbeddingDimensions: 1024,
		AIRerankProvider:      "siliconflow",
		AIRerankModel:         "BAAI/bge-reranker-v2-m3",
		AIRerankAPIKey:        "rerank-key",
		AIRerankBaseURL:       "https://api.siliconflow.cn/v1",
		AIRerankEnabled:       true,
	}
}

func TestNewConfigFromProfile(t *testing.T) {
	cfg, err := NewConfigFromProfile(testProfile())
	if err != nil {
		t.Fatalf("NewConfigFromProfile() error = %v", err)
	}

	if !cfg.Enabled {
		t.Error("Enabled = false, want true")
	}
	if cfg.LLMTimeout != 60*time.Second {
		t.Errorf("LLMTimeout = %v, want 60s", cfg.LLMTimeout)
	}

	if len(cfg.LLMProviders) != 1 {
		t.Fatalf("LLMProviders count = %d, want 1", len(cfg.LLMProviders))
	}
	primary := cfg.LLMProviders[0]
	if primary.Name != "deepseek" || primary.Model != "deepseek-chat" || primary.Priority != 0 {
		t.Errorf("primary provider = %+v, want deepseek/deepseek-chat at priority 0", primary)
	}

	if cfg.Embedding.Model != "BAAI/bge-m3" {
		t.Errorf("Embedding.Model = %q, want BAAI/bge-m3", cfg.Embedding.Model)
	}
	if cfg.Embedding.Dimensions != 1024 {
		t.Errorf("Embedding.Dimensions = %d, want 1024", cfg.Embedding.Dimensions)
	}
	if !cfg.Reranker.Enabled {
		t.Error("Reranker.Enabled = false, want true")
	}
}

func TestNewConfigFromProfileDisabled(t *testing.T) {
	prof := testProfile()
	prof.ALLMAPIKey = ""

	cfg, err := NewConfigFromProfile(prof)
	if err != nil {
		t.Fatalf("NewConfigFromProfile() error = %v", err)
	}
	if cfg.Enabled {
		t.Error("Enabled = true, want false without an LLM key")
	}
	if len(cfg.LLMProviders) != 0 {
		t.Errorf("LLMProviders count = %d, want 0 when disabled", len(cfg.LLMProviders))
	}
}

func TestNewConfigFromProfileExtraProviders(t *testing.T) {
	prof := testProfile()
	prof.ALLMProviders = `[
		{"name":"web-search","type":"zai","base_url":"https://open.bigmodel.cn/api/paas/v4","api_key":"zai-key","model":"glm-4.7","tags":["web"]},
		{"name":"backup","type":"openrouter","base_url":"https://openrouter.ai/api/v1","api_key":"or-key","model":"deepseek/deepseek-chat","priority":9}
	]`

	cfg, err := NewConfigFromProfile(prof)
	if err != nil {
		t.Fatalf("NewConfigFromProfile() error = %v", err)
	}

	if len(cfg.LLMProviders) != 3 {
		t.Fatalf("LLMProviders count = %d, want 3", len(cfg.LLMProviders))
	}

	web := cfg.LLMProviders[1]
	if web.Name != "web-search" {
		t.Errorf("extra[0].Name = %q, want web-search", web.Name)
	}
	if web.Priority != 1 {
		t.Errorf("extra[0].Priority = %d, want auto-assigned 1", web.Priority)
	}
	if len(web.Tags) != 1 || web.Tags[0] != "web" {
		t.Errorf("extra[0].Tags = %v, want [web]", web.Tags)
	}

	backup := cfg.LLMProviders[2]
	if backup.Priority != 9 {
		t.Errorf("extra[1].Priority = %d, want explicit 9 kept", backup.Priority)
	}
}

func TestNewConfigFromProfileBadProvidersJSON(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `[{"name":"x"`},
		{"missing fields", `[{"name":"x"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prof := testProfile()
			prof.ALLMProviders = tt.json
			if _, err := NewConfigFromProfile(prof); err == nil {
				t.Error("NewConfigFromProfile() error = nil, want parse error")
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := NewConfigFromProfile(testProfile())
		if err != nil {
			t.Fatalf("NewConfigFromProfile() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"disabled skips checks", func(c *Config) {
			c.Enabled = false
			c.LLMProviders = nil
			c.Embedding.APIKey = ""
		}, false},
		{"no providers", func(c *Config) { c.LLMProviders = nil }, true},
		{"provider without key", func(c *Config) { c.LLMProviders[0].APIKey = "" }, true},
		{"ollama without key is fine", func(c *Config) {
			c.LLMProviders = []llm.ProviderConfig{{Name: "local", Type: "ollama", BaseURL: "http://localhost:11434", Model: "llama3.1"}}
		}, false},
		{"no embedding provider", func(c *Config) { c.Embedding.Provider = "" }, true},
		{"no embedding key", func(c *Config) { c.Embedding.APIKey = "" }, true},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
