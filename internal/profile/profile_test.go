package profile

import (
	"testing"
	"time"
)

// clearEnv masks the configuration variables so ambient values from the
// developer's shell cannot leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CHATSENSE_AI_LLM_PROVIDER",
		"CHATSENSE_AI_LLM_API_KEY",
		"CHATSENSE_AI_LLM_BASE_URL",
		"CHATSENSE_AI_LLM_MODEL",
		"CHATSENSE_AI_LLM_TIMEOUT_SECONDS",
		"CHATSENSE_AI_LLM_PROVIDERS",
		"CHATSENSE_AI_EMBEDDING_PROVIDER",
		"CHATSENSE_AI_EMBEDDING_MODEL",
		"CHATSENSE_AI_EMBEDDING_API_KEY",
		"CHATSENSE_AI_EMBEDDING_BASE_URL",
		"CHATSENSE_AI_EMBEDDING_DIMENSIONS",
		"CHATSENSE_AI_RERANK_PROVIDER",
		"CHATSENSE_AI_RERANK_MODEL",
		"CHATSENSE_AI_RERANK_API_KEY",
		"CHATSENSE_AI_RERANK_BASE_URL",
		"CHATSENSE_AI_RERANK_ENABLED",
		"CHATSENSE_TELEGRAM_TOKEN",
		"CHATSENSE_TELEGRAM_ADMIN_ID",
		"CHATSENSE_TELEGRAM_POLL_TIMEOUT",
		"CHATSENSE_QUEUE_MAX_ATTEMPTS",
		"CHATSENSE_QUEUE_BASE_RETRY_WAIT",
		"CHATSENSE_QUEUE_LEASE_TIMEOUT",
		"CHATSENSE_DEDUP_TTL",
		"CHATSENSE_DEDUP_MIN_LENGTH",
		"CHATSENSE_EMBED_MIN_LENGTH",
		"CHATSENSE_INDEX_BATCH_SIZE",
		"CHATSENSE_CONTEXT_WINDOW_SIZE",
		"CHATSENSE_CONTEXT_WINDOW_STEP",
		"CHATSENSE_QUESTIONS_PER_MESSAGE",
		"CHATSENSE_DAILY_SUMMARY_ENABLED",
		"CHATSENSE_SUMMARY_DEFAULT_WINDOW",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	p := &Profile{}
	p.FromEnv()

	tests := []struct {
		name     string
		expected any
		actual   any
	}{
		{"AIEnabled", false, p.AIEnabled},
		{"ALLMProvider", "openai", p.ALLMProvider},
		{"ALLMBaseURL", "https://api.openai.com/v1", p.ALLMBaseURL},
		{"ALLMTimeout", 120, p.ALLMTimeout},
		{"AIEmbeddingProvider", "siliconflow", p.AIEmbeddingProvider},
		{"AIEmbeddingModel", "BAAI/bge-m3", p.AIEmbeddingModel},
		{"AIEmbeddingDimensions", 1024, p.AIEmbeddingDimensions},
		{"AIRerankModel", "BAAI/bge-reranker-v2-m3", p.AIRerankModel},
		{"AIRerankEnabled", false, p.AIRerankEnabled},
		{"TelegramPollTimeout", 30, p.TelegramPollTimeout},
		{"QueueMaxAttempts", 3, p.QueueMaxAttempts},
		{"QueueBaseRetryWait", 30 * time.Second, p.QueueBaseRetryWait},
		{"QueueLeaseTimeout", 5 * time.Minute, p.QueueLeaseTimeout},
		{"QueuePendingCap", 1000, p.QueuePendingCap},
		{"DedupTTL", 60 * time.Second, p.DedupTTL},
		{"DedupMinLength", 10, p.DedupMinLength},
		{"EmbedMinLength", 6, p.EmbedMinLength},
		{"IndexBatchSize", 32, p.IndexBatchSize},
		{"ContextWindowSize", 10, p.ContextWindowSize},
		{"ContextWindowStep", 5, p.ContextWindowStep},
		{"QuestionsPerMessage", 3, p.QuestionsPerMessage},
		{"DailySummaryEnabled", false, p.DailySummaryEnabled},
		{"SummaryDefaultWindow", 24 * time.Hour, p.SummaryDefaultWindow},
		{"SummaryMaxMessages", 500, p.SummaryMaxMessages},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %v, got %v", tt.name, tt.expected, tt.actual)
			}
		})
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATSENSE_AI_LLM_PROVIDER", "deepseek")
	t.Setenv("CHATSENSE_AI_LLM_API_KEY", "test-key")
	t.Setenv("CHATSENSE_TELEGRAM_ADMIN_ID", "42424242")
	t.Setenv("CHATSENSE_QUEUE_BASE_RETRY_WAIT", "15s")
	t.Setenv("CHATSENSE_DEDUP_MIN_LENGTH", "25")
	t.Setenv("CHATSENSE_DAILY_SUMMARY_ENABLED", "true")

	p := &Profile{}
	p.FromEnv()

	if p.ALLMProvider != "deepseek" {
		t.Errorf("ALLMProvider = %q, want deepseek", p.ALLMProvider)
	}
	if p.ALLMBaseURL != "https://api.deepseek.com" {
		t.Errorf("ALLMBaseURL = %q, want deepseek default", p.ALLMBaseURL)
	}
	if p.ALLMModel != "deepseek-chat" {
		t.Errorf("ALLMModel = %q, want deepseek-chat", p.ALLMModel)
	}
	if !p.AIEnabled {
		t.Error("AIEnabled = false, want true when API key is set")
	}
	if p.TelegramAdminID != 42424242 {
		t.Errorf("TelegramAdminID = %d, want 42424242", p.TelegramAdminID)
	}
	if p.QueueBaseRetryWait != 15*time.Second {
		t.Errorf("QueueBaseRetryWait = %v, want 15s", p.QueueBaseRetryWait)
	}
	if p.DedupMinLength != 25 {
		t.Errorf("DedupMinLength = %d, want 25", p.DedupMinLength)
	}
	if !p.DailySummaryEnabled {
		t.Error("DailySummaryEnabled = false, want true")
	}
}

func TestFromEnvUnknownProviderFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATSENSE_AI_LLM_PROVIDER", "no-such-provider")

	p := &Profile{}
	p.FromEnv()

	if p.ALLMProvider != "openai" {
		t.Errorf("ALLMProvider = %q, want openai fallback", p.ALLMProvider)
	}
}

func TestFromEnvExplicitBaseURLWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATSENSE_AI_LLM_PROVIDER", "zai")
	t.Setenv("CHATSENSE_AI_LLM_BASE_URL", "http://localhost:9999/v1")

	p := &Profile{}
	p.FromEnv()

	if p.ALLMBaseURL != "http://localhost:9999/v1" {
		t.Errorf("ALLMBaseURL = %q, want explicit value kept", p.ALLMBaseURL)
	}
	if p.ALLMModel != "glm-4.7" {
		t.Errorf("ALLMModel = %q, want provider default model", p.ALLMModel)
	}
}

func TestRerankEnabledFollowsAPIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATSENSE_AI_RERANK_API_KEY", "rerank-key")

	p := &Profile{}
	p.FromEnv()

	if !p.AIRerankEnabled {
		t.Error("AIRerankEnabled = false, want true when rerank key is set")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Profile)
		wantErr bool
	}{
		{
			name: "valid",
			setup: func(p *Profile) {
				p.DSN = "postgres://localhost/chatsense"
				p.TelegramToken = "123:abc"
			},
			wantErr: false,
		},
		{
			name: "missing DSN",
			setup: func(p *Profile) {
				p.TelegramToken = "123:abc"
			},
			wantErr: true,
		},
		{
			name: "missing telegram token",
			setup: func(p *Profile) {
				p.DSN = "postgres://localhost/chatsense"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			p := &Profile{}
			p.FromEnv()
			tt.setup(p)

			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateNormalizes(t *testing.T) {
	clearEnv(t)
	p := &Profile{}
	p.FromEnv()
	p.DSN = "postgres://localhost/chatsense"
	p.TelegramToken = "123:abc"
	p.Mode = "weird"
	p.ContextWindowSize = 1
	p.ContextWindowStep = 99
	p.QueueMaxAttempts = 0

	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if p.Mode != "demo" {
		t.Errorf("Mode = %q, want demo", p.Mode)
	}
	if p.Driver != "postgres" {
		t.Errorf("Driver = %q, want postgres", p.Driver)
	}
	if p.ContextWindowSize != 10 {
		t.Errorf("ContextWindowSize = %d, want 10", p.ContextWindowSize)
	}
	if p.ContextWindowStep != 5 {
		t.Errorf("ContextWindowStep = %d, want half the window", p.ContextWindowStep)
	}
	if p.QueueMaxAttempts != 1 {
		t.Errorf("QueueMaxAttempts = %d, want 1", p.QueueMaxAttempts)
	}
}

func TestIsDev(t *testing.T) {
	tests := []struct {
		mode string
		want bool
	}{
		{"dev", true},
		{"demo", true},
		{"prod", false},
	}
	for _, tt := range tests {
		p := &Profile{Mode: tt.mode}
		if got := p.IsDev(); got != tt.want {
			t.Errorf("IsDev() with mode %q = %v, want %v", tt.mode, got, tt.want)
		}
	}
}
