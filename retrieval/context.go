package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hrygo/chatsense/store"
)

// ContextConfig bounds the prompt fragment built from candidates.
type ContextConfig struct {
	// TokenBudget caps the fragment size, in approximate LLM tokens.
	TokenBudget int
	// NeighbourRadius is how many surrounding messages to pull in around
	// each single-message hit.
	NeighbourRadius int
	// MaxChunks bounds the number of candidate blocks.
	MaxChunks int
}

// DefaultContextConfig returns the production budget.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{TokenBudget: 2000, NeighbourRadius: 2, MaxChunks: 10}
}

// ContextBuilder turns ranked candidates into the excerpt block of the
// answer prompt: deduplicated, neighbour-expanded, budget-trimmed, each line
// tagged with time and author. News-dump candidates sink to the back so
// organic conversation wins the budget.
type ContextBuilder struct {
	store  *store.Store
	cfg    ContextConfig
	logger *slog.Logger
}

// NewContextBuilder creates the builder.
func NewContextBuilder(st *store.Store, cfg ContextConfig, logger *slog.Logger) *ContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TokenBudget <= 0 {
		cfg = DefaultContextConfig()
	}
	return &ContextBuilder{store: st, cfg: cfg, logger: logger.With("component", "context")}
}

// Build renders the excerpt block. Returns the text and how many candidate
// blocks made it in. Neighbour-fetch failures degrade to the bare candidate.
func (b *ContextBuilder) Build(ctx context.Context, chatID int64, candidates []*Candidate) (string, int) {
	ordered := make([]*Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.NewsDump {
			ordered = append(ordered, c)
		}
	}
	for _, c := range candidates {
		if c.NewsDump {
			ordered = append(ordered, c)
		}
	}

	var sb strings.Builder
	seen := make(map[int64]bool)
	included := 0
	budget := b.cfg.TokenBudget

	for _, c := range ordered {
		if included >= b.cfg.MaxChunks || budget <= 0 {
			break
		}

		var block string
		switch {
		case c.WindowSize > 0:
			block = fmt.Sprintf("Фрагмент обсуждения (%d сообщений):\n%s", c.WindowSize, c.Text)
		default:
			if seen[c.MessageID] {
				continue
			}
			block = b.messageBlock(ctx, c, seen)
		}
		if block == "" {
			continue
		}

		cost := approxTokens(block)
		if included > 0 && cost > budget {
			// The first block always fits; later ones must respect the
			// budget.
			continue
		}
		if included > 0 {
			sb.WriteString("\n---\n")
		}
		sb.WriteString(block)
		budget -= cost
		included++
	}

	return sb.String(), included
}

// messageBlock renders one hit with its neighbours, skipping lines already
// included by an earlier block.
func (b *ContextBuilder) messageBlock(ctx context.Context, c *Candidate, seen map[int64]bool) string {
	messages := []*store.Message{{
		ChatID:    c.ChatID,
		MessageID: c.MessageID,
		UserID:    c.AuthorID,
		FirstName: c.AuthorName,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	}}

	if b.cfg.NeighbourRadius > 0 {
		around, err := b.store.ListMessagesAround(ctx, c.ChatID, c.MessageID, b.cfg.NeighbourRadius, b.cfg.NeighbourRadius)
		if err != nil {
			b.logger.Debug("neighbour fetch failed, using bare candidate",
				"chat_id", c.ChatID, "message_id", c.MessageID, "error", err)
		} else if len(around) > 0 {
			messages = around
		}
	}

	var lines []string
	for _, m := range messages {
		if seen[m.MessageID] {
			continue
		}
		seen[m.MessageID] = true
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		name := m.FirstName
		if name == "" {
			name = m.Username
		}
		if name == "" {
			name = "участник"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Format("2006-01-02 15:04"), name, m.Text))
	}
	return strings.Join(lines, "\n")
}

// approxTokens estimates LLM tokens from rune count. Russian text runs about
// three characters per token.
func approxTokens(text string) int {
	return utf8.RuneCountInString(text)/3 + 1
}
