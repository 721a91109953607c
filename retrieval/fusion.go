package retrieval

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hrygo/chatsense/ai/core/llm"
	"github.com/hrygo/chatsense/prompts"
)

// rrfK dampens the rank contribution in reciprocal-rank fusion. 60 is the
// standard value from the RRF paper.
const rrfK = 60

// Candidate is one retrieval hit. For context-window hits MessageID is the
// window's start message id and WindowSize > 0.
type Candidate struct {
	ChatID     int64
	MessageID  int64
	Text       string
	AuthorID   int64
	AuthorName string
	CreatedAt  time.Time
	WindowSize int

	// Similarity is the best semantic (cosine) score any vector source gave
	// this candidate; LexicalScore is the best full-text rank. They live on
	// different scales and are never compared to each other.
	Similarity   float64
	LexicalScore float64
	// RRFScore orders the merged list.
	RRFScore float64
	// Sources lists where the candidate came from: vector, lexical, question,
	// context.
	Sources []string

	RerankScore float32
	Reranked    bool
	NewsDump    bool
}

// FromSource reports whether the candidate was produced by the given source.
func (c *Candidate) FromSource(source string) bool {
	for _, s := range c.Sources {
		if s == source {
			return true
		}
	}
	return false
}

type fusionKey struct {
	chatID    int64
	messageID int64
	window    bool
}

// rrfMerge fuses ranked candidate lists with reciprocal-rank fusion,
// collapsing duplicates on (chat, message). The best similarity survives and
// sources are unioned.
func rrfMerge(lists ...[]*Candidate) []*Candidate {
	merged := make(map[fusionKey]*Candidate)

	for _, list := range lists {
		for rank, c := range list {
			key := fusionKey{chatID: c.ChatID, messageID: c.MessageID, window: c.WindowSize > 0}
			contribution := 1.0 / float64(rrfK+rank+1)

			existing, ok := merged[key]
			if !ok {
				clone := *c
				clone.RRFScore = contribution
				merged[key] = &clone
				continue
			}
			existing.RRFScore += contribution
			if c.Similarity > existing.Similarity {
				existing.Similarity = c.Similarity
			}
			if c.LexicalScore > existing.LexicalScore {
				existing.LexicalScore = c.LexicalScore
			}
			for _, s := range c.Sources {
				if !existing.FromSource(s) {
					existing.Sources = append(existing.Sources, s)
				}
			}
		}
	}

	out := make([]*Candidate, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RRFScore != out[j].RRFScore {
			return out[i].RRFScore > out[j].RRFScore
		}
		return out[i].Similarity > out[j].Similarity
	})
	return out
}

// Expander produces RAG-fusion query variants.
type Expander struct {
	llm       Completer
	catalogue *prompts.Catalogue
	logger    *slog.Logger
	// MaxVariants caps the list including the original query.
	MaxVariants int
}

// NewExpander creates the expander. llm may be nil; expansion then returns
// the original query alone.
func NewExpander(completer Completer, catalogue *prompts.Catalogue, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{llm: completer, catalogue: catalogue, logger: logger.With("component", "expand"), MaxVariants: 5}
}

// Expand returns the original query followed by up to MaxVariants-1
// paraphrases. Failures degrade to the original query alone.
func (e *Expander) Expand(ctx context.Context, query string) []string {
	variants := []string{query}
	if e.llm == nil {
		return variants
	}

	resp, err := e.llm.Complete(ctx, llm.Request{
		System:      e.catalogue.Get(prompts.CommandExpand, "", ""),
		User:        query,
		Temperature: 0.7,
		MaxTokens:   400,
	})
	if err != nil {
		e.logger.Warn("query expansion failed, searching with original only", "error", err)
		return variants
	}

	repaired, err := jsonrepair.JSONRepair(resp.Content)
	if err != nil {
		e.logger.Warn("expansion JSON unrepairable", "error", err)
		return variants
	}
	var raw []string
	if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
		e.logger.Warn("expansion JSON undecodable", "error", err)
		return variants
	}

	seen := map[string]bool{strings.ToLower(strings.TrimSpace(query)): true}
	for _, v := range raw {
		v = strings.TrimSpace(v)
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		variants = append(variants, v)
		if len(variants) >= e.MaxVariants {
			break
		}
	}
	return variants
}
