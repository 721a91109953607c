package retrieval

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hrygo/chatsense/ai/core/llm"
	"github.com/hrygo/chatsense/prompts"
)

// Completer is the slice of the LLM router the retrieval engine needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// IntentType selects the retrieval strategy.
type IntentType string

const (
	IntentPersonal   IntentType = "personal"
	IntentContextual IntentType = "contextual"
	IntentGeneral    IntentType = "general"
)

// Asker identifies who is asking, for self-reference resolution.
type Asker struct {
	UserID      int64
	DisplayName string
	Username    string
}

// Intent is the classified query shape.
type Intent struct {
	Type         IntentType
	People       []string
	Entities     []string
	Temporal     string
	TemporalDays int
	Confidence   float64
	// Source records whether the LLM or the heuristic produced the intent.
	Source string
}

// Classifier derives the intent with an LLM, falling back to a heuristic
// when the model is unavailable or returns garbage.
type Classifier struct {
	llm       Completer
	catalogue *prompts.Catalogue
	logger    *slog.Logger
}

// NewClassifier creates the classifier. llm may be nil; classification then
// always uses the heuristic.
func NewClassifier(completer Completer, catalogue *prompts.Catalogue, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{llm: completer, catalogue: catalogue, logger: logger.With("component", "intent")}
}

type intentWire struct {
	Intent       string   `json:"intent"`
	People       []string `json:"people"`
	Entities     []string `json:"entities"`
	Temporal     string   `json:"temporal"`
	TemporalDays int      `json:"temporal_days"`
	Confidence   float64  `json:"confidence"`
}

// Classify never fails: any LLM or parse problem degrades to the heuristic.
func (c *Classifier) Classify(ctx context.Context, query string, asker Asker) Intent {
	if c.llm == nil {
		return heuristicIntent(query, asker)
	}

	resp, err := c.llm.Complete(ctx, llm.Request{
		System:      c.catalogue.Get(prompts.CommandIntent, "", ""),
		User:        query,
		Temperature: 0.1,
		MaxTokens:   300,
	})
	if err != nil {
		c.logger.Warn("intent classification failed, using heuristic", "error", err)
		return heuristicIntent(query, asker)
	}

	repaired, err := jsonrepair.JSONRepair(resp.Content)
	if err != nil {
		c.logger.Warn("intent JSON unrepairable, using heuristic", "error", err)
		return heuristicIntent(query, asker)
	}
	var wire intentWire
	if err := json.Unmarshal([]byte(repaired), &wire); err != nil {
		c.logger.Warn("intent JSON undecodable, using heuristic", "error", err)
		return heuristicIntent(query, asker)
	}

	intent := Intent{
		People:       wire.People,
		Entities:     wire.Entities,
		Temporal:     wire.Temporal,
		TemporalDays: wire.TemporalDays,
		Confidence:   wire.Confidence,
		Source:       "llm",
	}
	switch IntentType(strings.ToLower(wire.Intent)) {
	case IntentPersonal:
		intent.Type = IntentPersonal
	case IntentContextual:
		intent.Type = IntentContextual
	case IntentGeneral:
		intent.Type = IntentGeneral
	default:
		c.logger.Warn("intent label unrecognized, using heuristic", "label", wire.Intent)
		return heuristicIntent(query, asker)
	}

	// A personal intent with nobody named resolves to the asker.
	if intent.Type == IntentPersonal && len(intent.People) == 0 {
		intent.People = append(intent.People, askerNames(asker)...)
	}
	return intent
}

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_]{3,})`)

// Self-reference tokens marking "about me" questions.
var selfTokens = map[string]bool{
	"я": true, "мне": true, "меня": true, "мной": true,
	"мой": true, "моя": true, "мои": true, "моё": true,
	"me": true, "my": true, "i": true, "myself": true,
}

// Discussion-shaped openings marking contextual questions.
var contextualMarkers = []string{
	"о чем говорили", "о чём говорили", "что обсуждали", "о чем речь", "о чём речь",
	"что за спор", "что решили", "к чему пришли", "что тут было",
	"what was discussed", "what did we talk", "what happened here",
}

// heuristicIntent is the deterministic fallback: @mentions and
// self-references mark personal queries, discussion phrasing marks
// contextual ones, everything else is general.
func heuristicIntent(query string, asker Asker) Intent {
	lower := strings.ToLower(query)

	if m := mentionPattern.FindAllStringSubmatch(query, -1); len(m) > 0 {
		people := make([]string, 0, len(m))
		for _, g := range m {
			people = append(people, g[1])
		}
		return Intent{Type: IntentPersonal, People: people, Confidence: 0.7, Source: "heuristic"}
	}

	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('а' <= r && r <= 'я') && r != 'ё'
	}) {
		if selfTokens[tok] {
			return Intent{Type: IntentPersonal, People: askerNames(asker), Confidence: 0.6, Source: "heuristic"}
		}
	}

	if asker.DisplayName != "" && strings.Contains(lower, strings.ToLower(asker.DisplayName)) ||
		asker.Username != "" && strings.Contains(lower, strings.ToLower(asker.Username)) {
		return Intent{Type: IntentPersonal, People: askerNames(asker), Confidence: 0.6, Source: "heuristic"}
	}

	for _, marker := range contextualMarkers {
		if strings.Contains(lower, marker) {
			return Intent{Type: IntentContextual, Confidence: 0.6, Source: "heuristic"}
		}
	}

	return Intent{Type: IntentGeneral, Confidence: 0.5, Source: "heuristic"}
}

func askerNames(asker Asker) []string {
	var names []string
	if asker.DisplayName != "" {
		names = append(names, asker.DisplayName)
	}
	if asker.Username != "" {
		names = append(names, asker.Username)
	}
	return names
}
