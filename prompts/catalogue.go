// Package prompts holds the prompt catalogue. Prompts are keyed by
// command:mode:language; lookup falls back to command:mode and then to the
// bare command. Built-in defaults ship in code, operators override any key at
// runtime through the prompt settings store.
package prompts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hrygo/chatsense/store"
)

// Commands with catalogue entries. Internal pipeline prompts (intent, expand,
// facts, questions, profile) are keyed like commands without mode/language
// variants.
const (
	CommandAsk          = "ask"
	CommandSmart        = "smart"
	CommandSummary      = "summary"
	CommandTruth        = "truth"
	CommandDailySummary = "daily_summary"
	CommandIntent       = "intent"
	CommandExpand       = "expand"
	CommandFacts        = "facts"
	CommandQuestions    = "questions"
	CommandProfile      = "profile"
)

// Modes and languages with built-in variants.
const (
	ModeNormal = "normal"
	ModeRoast  = "roast"

	LanguageRussian = "ru"
	LanguageEnglish = "en"
)

// Key builds a catalogue key. Empty mode/language segments are dropped, so
// Key("ask", "", "") is just "ask".
func Key(command, mode, language string) string {
	parts := []string{command}
	if mode != "" {
		parts = append(parts, mode)
		if language != "" {
			parts = append(parts, language)
		}
	}
	return strings.Join(parts, ":")
}

// Catalogue resolves prompts with override-before-builtin semantics at each
// specificity level.
type Catalogue struct {
	store  *store.Store
	logger *slog.Logger

	mu        sync.RWMutex
	overrides map[string]string
}

// NewCatalogue creates the catalogue. Store may be nil in tests; overrides
// are then in-memory only.
func NewCatalogue(st *store.Store, logger *slog.Logger) *Catalogue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalogue{
		store:     st,
		logger:    logger.With("component", "prompts"),
		overrides: make(map[string]string),
	}
}

// LoadOverrides pulls persisted overrides into memory. Called once at
// startup; later Override calls keep both sides in sync.
func (c *Catalogue) LoadOverrides(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	settings, err := c.store.ListPromptSettings(ctx)
	if err != nil {
		return fmt.Errorf("load prompt overrides: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range settings {
		c.overrides[Key(s.Command, s.Mode, s.Language)] = s.Text
	}
	if len(settings) > 0 {
		c.logger.Info("prompt overrides loaded", "count", len(settings))
	}
	return nil
}

// Get resolves the prompt for (command, mode, language). At each level, full
// key then command:mode then command, an override beats the built-in. Returns
// "" when nothing matches.
func (c *Catalogue) Get(command, mode, language string) string {
	keys := []string{
		Key(command, mode, language),
		Key(command, mode, ""),
		Key(command, "", ""),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range keys {
		if text, ok := c.overrides[k]; ok && text != "" {
			return text
		}
		if text, ok := builtins[k]; ok {
			return text
		}
	}
	return ""
}

// Override persists a prompt override and applies it immediately. An empty
// text clears the override, falling back to the built-in.
func (c *Catalogue) Override(ctx context.Context, command, mode, language, text string) error {
	if c.store != nil {
		err := c.store.UpsertPromptSetting(ctx, &store.PromptSetting{
			Command:  command,
			Mode:     mode,
			Language: language,
			Text:     text,
		})
		if err != nil {
			return fmt.Errorf("persist prompt override: %w", err)
		}
	}

	key := Key(command, mode, language)
	c.mu.Lock()
	defer c.mu.Unlock()
	if text == "" {
		delete(c.overrides, key)
	} else {
		c.overrides[key] = text
	}
	c.logger.Info("prompt override applied", "key", key, "cleared", text == "")
	return nil
}

// Keys lists the built-in catalogue keys, for the admin prompt command.
func (c *Catalogue) Keys() []string {
	keys := make([]string, 0, len(builtins))
	for k := range builtins {
		keys = append(keys, k)
	}
	return keys
}
