package profile

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Unified LLM configuration (OpenAI-compatible protocol).
	// The default provider can be supplemented by CHATSENSE_AI_LLM_PROVIDERS,
	// a JSON array of provider entries consumed by the AI config loader.
	ALLMProvider  string // Provider identifier: zai, deepseek, openai, siliconflow, dashscope, openrouter, ollama
	ALLMAPIKey    string // Unified LLM API key
	ALLMBaseURL   string // Unified LLM base URL (optional, has default per provider)
	ALLMModel     string // Model name: glm-4.7, deepseek-chat, gpt-4o, etc.
	ALLMTimeout   int    // LLM request timeout in seconds (default: 120)
	ALLMProviders string // Optional JSON array of additional providers (name/type/base_url/api_key/model/priority/tags)

	// Embedding configuration
	AIEmbeddingProvider   string
	AIEmbeddingModel      string
	AIEmbeddingAPIKey     string
	AIEmbeddingBaseURL    string
	AIEmbeddingDimensions int

	// Reranker configuration
	AIRerankProvider string
	AIRerankModel    string
	AIRerankAPIKey   string
	AIRerankBaseURL  string
	AIRerankEnabled  bool

	// Telegram transport
	TelegramToken         string
	TelegramAdminID       int64
	TelegramAdminUsername string
	TelegramPollTimeout   int // long-poll timeout in seconds

	// Queue tuning
	QueueMaxAttempts   int
	QueueBaseRetryWait time.Duration
	QueueMaxRetryWait  time.Duration
	QueueLeaseTimeout  time.Duration
	QueuePollFallback  time.Duration
	QueuePendingCap    int
	QueueRetention     time.Duration

	// Ingestion
	DedupTTL        time.Duration
	DedupMinLength  int
	EmbedMinLength  int

	// Indexing
	IndexBatchSize      int
	IndexMaxBatches     int
	IndexIdleDelay      time.Duration
	ContextWindowSize   int
	ContextWindowStep   int
	QuestionsPerMessage int

	// Schedules (hours in UTC)
	ProfileGenHourUTC   int
	DailySummaryEnabled bool
	DailySummaryHourUTC int

	// Summary command
	SummaryDefaultWindow time.Duration
	SummaryMaxMessages   int

	// Other configurations
	Mode    string
	DSN     string
	Driver  string
	Version string
	Addr    string
	Port    int

	AIEnabled bool
}

// Provider default configurations for LLM.
// Used when LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"zai": {
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		Model:   "glm-4.7",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-5.2",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"dashscope": {
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "qwen-max-latest",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if AI is enabled and LLM API key is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.ALLMAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultInt64 returns environment variable value as int64 or default value.
func getEnvOrDefaultInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultBool returns environment variable value as bool or default value.
func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

// getEnvOrDefaultDuration returns environment variable value as duration or default value.
func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	// Unified LLM configuration
	p.ALLMProvider = getEnvOrDefault("CHATSENSE_AI_LLM_PROVIDER", "openai")
	p.ALLMAPIKey = getEnvOrDefault("CHATSENSE_AI_LLM_API_KEY", "")
	p.ALLMBaseURL = getEnvOrDefault("CHATSENSE_AI_LLM_BASE_URL", "")
	p.ALLMModel = getEnvOrDefault("CHATSENSE_AI_LLM_MODEL", "")
	p.ALLMTimeout = getEnvOrDefaultInt("CHATSENSE_AI_LLM_TIMEOUT_SECONDS", 120)
	p.ALLMProviders = getEnvOrDefault("CHATSENSE_AI_LLM_PROVIDERS", "")

	// AI is enabled if API key is configured
	p.AIEnabled = p.ALLMAPIKey != ""

	// Validate and apply provider defaults if not explicitly set
	if p.ALLMProvider != "" {
		if _, ok := llmProviderDefaults[p.ALLMProvider]; !ok {
			slog.Warn("unknown LLM provider, using default: openai", "provider", p.ALLMProvider)
			p.ALLMProvider = "openai"
		}
	}
	if p.ALLMBaseURL == "" || p.ALLMModel == "" {
		if defaults, ok := llmProviderDefaults[p.ALLMProvider]; ok {
			if p.ALLMBaseURL == "" {
				p.ALLMBaseURL = defaults.BaseURL
			}
			if p.ALLMModel == "" {
				p.ALLMModel = defaults.Model
			}
		}
	}

	// Embedding configuration
	p.AIEmbeddingProvider = getEnvOrDefault("CHATSENSE_AI_EMBEDDING_PROVIDER", "siliconflow")
	p.AIEmbeddingModel = getEnvOrDefault("CHATSENSE_AI_EMBEDDING_MODEL", "BAAI/bge-m3")
	p.AIEmbeddingAPIKey = getEnvOrDefault("CHATSENSE_AI_EMBEDDING_API_KEY", "")
	p.AIEmbeddingBaseURL = getEnvOrDefault("CHATSENSE_AI_EMBEDDING_BASE_URL", "https://api.siliconflow.cn/v1")
	p.AIEmbeddingDimensions = getEnvOrDefaultInt("CHATSENSE_AI_EMBEDDING_DIMENSIONS", 1024)

	// Reranker configuration
	p.AIRerankProvider = getEnvOrDefault("CHATSENSE_AI_RERANK_PROVIDER", "siliconflow")
	p.AIRerankModel = getEnvOrDefault("CHATSENSE_AI_RERANK_MODEL", "BAAI/bge-reranker-v2-m3")
	p.AIRerankAPIKey = getEnvOrDefault("CHATSENSE_AI_RERANK_API_KEY", "")
	p.AIRerankBaseURL = getEnvOrDefault("CHATSENSE_AI_RERANK_BASE_URL", "https://api.siliconflow.cn/v1")
	p.AIRerankEnabled = getEnvOrDefaultBool("CHATSENSE_AI_RERANK_ENABLED", p.AIRerankAPIKey != "")

	// Telegram transport
	p.TelegramToken = getEnvOrDefault("CHATSENSE_TELEGRAM_TOKEN", "")
	p.TelegramAdminID = getEnvOrDefaultInt64("CHATSENSE_TELEGRAM_ADMIN_ID", 0)
	p.TelegramAdminUsername = getEnvOrDefault("CHATSENSE_TELEGRAM_ADMIN_USERNAME", "")
	p.TelegramPollTimeout = getEnvOrDefaultInt("CHATSENSE_TELEGRAM_POLL_TIMEOUT", 30)

	// Queue tuning
	p.QueueMaxAttempts = getEnvOrDefaultInt("CHATSENSE_QUEUE_MAX_ATTEMPTS", 3)
	p.QueueBaseRetryWait = getEnvOrDefaultDuration("CHATSENSE_QUEUE_BASE_RETRY_WAIT", 30*time.Second)
	p.QueueMaxRetryWait = getEnvOrDefaultDuration("CHATSENSE_QUEUE_MAX_RETRY_WAIT", 10*time.Minute)
	p.QueueLeaseTimeout = getEnvOrDefaultDuration("CHATSENSE_QUEUE_LEASE_TIMEOUT", 5*time.Minute)
	p.QueuePollFallback = getEnvOrDefaultDuration("CHATSENSE_QUEUE_POLL_FALLBACK", 30*time.Second)
	p.QueuePendingCap = getEnvOrDefaultInt("CHATSENSE_QUEUE_PENDING_CAP", 1000)
	p.QueueRetention = getEnvOrDefaultDuration("CHATSENSE_QUEUE_RETENTION", 7*24*time.Hour)

	// Ingestion
	p.DedupTTL = getEnvOrDefaultDuration("CHATSENSE_DEDUP_TTL", 60*time.Second)
	p.DedupMinLength = getEnvOrDefaultInt("CHATSENSE_DEDUP_MIN_LENGTH", 10)
	p.EmbedMinLength = getEnvOrDefaultInt("CHATSENSE_EMBED_MIN_LENGTH", 6)

	// Indexing
	p.IndexBatchSize = getEnvOrDefaultInt("CHATSENSE_INDEX_BATCH_SIZE", 32)
	p.IndexMaxBatches = getEnvOrDefaultInt("CHATSENSE_INDEX_MAX_BATCHES", 20)
	p.IndexIdleDelay = getEnvOrDefaultDuration("CHATSENSE_INDEX_IDLE_DELAY", time.Minute)
	p.ContextWindowSize = getEnvOrDefaultInt("CHATSENSE_CONTEXT_WINDOW_SIZE", 10)
	p.ContextWindowStep = getEnvOrDefaultInt("CHATSENSE_CONTEXT_WINDOW_STEP", 5)
	p.QuestionsPerMessage = getEnvOrDefaultInt("CHATSENSE_QUESTIONS_PER_MESSAGE", 3)

	// Schedules
	p.ProfileGenHourUTC = getEnvOrDefaultInt("CHATSENSE_PROFILE_GEN_HOUR_UTC", 3)
	p.DailySummaryEnabled = getEnvOrDefaultBool("CHATSENSE_DAILY_SUMMARY_ENABLED", false)
	p.DailySummaryHourUTC = getEnvOrDefaultInt("CHATSENSE_DAILY_SUMMARY_HOUR_UTC", 21)

	// Summary command
	p.SummaryDefaultWindow = getEnvOrDefaultDuration("CHATSENSE_SUMMARY_DEFAULT_WINDOW", 24*time.Hour)
	p.SummaryMaxMessages = getEnvOrDefaultInt("CHATSENSE_SUMMARY_MAX_MESSAGES", 500)
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	p.Driver = "postgres"
	if p.DSN == "" {
		return errors.New("database DSN is required (CHATSENSE_DSN or --dsn)")
	}
	if p.TelegramToken == "" {
		return errors.New("telegram bot token is required (CHATSENSE_TELEGRAM_TOKEN)")
	}
	if p.ContextWindowSize < 2 {
		p.ContextWindowSize = 10
	}
	if p.ContextWindowStep < 1 || p.ContextWindowStep > p.ContextWindowSize {
		p.ContextWindowStep = p.ContextWindowSize / 2
	}
	if p.QueueMaxAttempts < 1 {
		p.QueueMaxAttempts = 1
	}

	if !p.IsAIEnabled() {
		slog.Warn("LLM API key not configured, answer generation disabled")
	}
	if p.AIEmbeddingAPIKey == "" {
		slog.Warn("embedding API key not configured, indexing and retrieval disabled")
	}

	return nil
}
