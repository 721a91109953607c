package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/time/rate"

	"github.com/hrygo/chatsense/ai/core/llm"
	"github.com/hrygo/chatsense/prompts"
	"github.com/hrygo/chatsense/store"
)

// GeneratorConfig tunes the nightly profile refresh.
type GeneratorConfig struct {
	// HourUTC is the hour of day the run starts.
	HourUTC int
	// ActiveWithin and MinMessages select the candidates: users active
	// recently enough with enough history to portray.
	ActiveWithin time.Duration
	MinMessages  int64
	// SampleSize is how many random messages feed one portrait.
	SampleSize int
	// MinSample skips users whose sample came back smaller.
	MinSample int
	// MaxFacts caps the fact list in the prompt.
	MaxFacts int
	// MaxUsers bounds one run.
	MaxUsers int
	// Pace is the minimum interval between LLM calls.
	Pace time.Duration
}

// DefaultGeneratorConfig returns the production tuning.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		HourUTC:      3,
		ActiveWithin: 7 * 24 * time.Hour,
		MinMessages:  30,
		SampleSize:   80,
		MinSample:    5,
		MaxFacts:     15,
		MaxUsers:     50,
		Pace:         3 * time.Second,
	}
}

// ProfileGenerator rewrites the portrait fields of user_profiles once a day:
// for each recently active user it feeds a random message sample plus the
// top-confidence facts to the LLM and stores the returned portrait together
// with a fresh activity histogram, bumping profile_version.
type ProfileGenerator struct {
	store     *store.Store
	llm       Completer
	catalogue *prompts.Catalogue
	limiter   *rate.Limiter
	cfg       GeneratorConfig
	logger    *slog.Logger
}

// NewProfileGenerator creates the generator.
func NewProfileGenerator(
	st *store.Store,
	completer Completer,
	catalogue *prompts.Catalogue,
	cfg GeneratorConfig,
	logger *slog.Logger,
) *ProfileGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleSize <= 0 {
		cfg = DefaultGeneratorConfig()
	}
	return &ProfileGenerator{
		store:     st,
		llm:       completer,
		catalogue: catalogue,
		limiter:   rate.NewLimiter(rate.Every(cfg.Pace), 1),
		cfg:       cfg,
		logger:    logger.With("component", "profiles"),
	}
}

// Run fires RunOnce at the configured UTC hour, daily, until ctx is
// cancelled.
func (g *ProfileGenerator) Run(ctx context.Context) {
	g.logger.Info("profile generator scheduled", "hour_utc", g.cfg.HourUTC)

	for {
		next := nextDailyRun(time.Now().UTC(), g.cfg.HourUTC)
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := g.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			g.logger.Error("profile run failed", "error", err)
		}
	}
}

// RunOnce refreshes every eligible profile. Per-user failures are logged and
// skipped so one bad user does not starve the rest.
func (g *ProfileGenerator) RunOnce(ctx context.Context) error {
	if g.llm == nil {
		return nil
	}

	candidates, err := g.store.ListProfileCandidates(ctx, &store.ProfileCandidate{
		ActiveSince: time.Now().UTC().Add(-g.cfg.ActiveWithin),
		MinMessages: g.cfg.MinMessages,
		Limit:       g.cfg.MaxUsers,
	})
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}
	if len(candidates) == 0 {
		g.logger.Info("profile run: no candidates")
		return nil
	}

	start := time.Now()
	refreshed := 0
	for _, candidate := range candidates {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := g.refresh(ctx, candidate); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.logger.Warn("profile refresh failed",
				"chat_id", candidate.ChatID, "user_id", candidate.UserID, "error", err)
			continue
		}
		refreshed++
	}

	g.logger.Info("profile run finished",
		"candidates", len(candidates), "refreshed", refreshed, "elapsed", time.Since(start))
	return nil
}

// refresh portrays one user from a random message sample and the known
// facts. Users with too little material are skipped without a write.
func (g *ProfileGenerator) refresh(ctx context.Context, profile *store.UserProfile) error {
	messages, err := g.store.SampleUserMessages(ctx, profile.ChatID, profile.UserID, g.cfg.SampleSize)
	if err != nil {
		return fmt.Errorf("sample messages: %w", err)
	}
	if len(messages) < g.cfg.MinSample {
		return nil
	}

	facts, err := g.store.ListUserFacts(ctx, &store.FindUserFact{
		ChatID: &profile.ChatID,
		UserID: &profile.UserID,
		Limit:  g.cfg.MaxFacts,
	})
	if err != nil {
		return fmt.Errorf("list facts: %w", err)
	}

	resp, err := g.llm.Complete(ctx, llm.Request{
		System:      g.catalogue.Get(prompts.CommandProfile, "", ""),
		User:        profilePrompt(profile, facts, messages),
		Temperature: 0.4,
		MaxTokens:   800,
	})
	if err != nil {
		return err
	}

	portrait, err := parsePortrait(resp.Content)
	if err != nil {
		return err
	}
	if portrait.Summary == "" {
		return nil
	}

	histogram, err := g.store.CountUserActivityByHour(ctx, profile.ChatID, profile.UserID)
	if err != nil {
		return fmt.Errorf("activity histogram: %w", err)
	}

	err = g.store.SaveGeneratedProfile(ctx, &store.GeneratedProfile{
		ChatID:             profile.ChatID,
		UserID:             profile.UserID,
		Summary:            portrait.Summary,
		CommunicationStyle: portrait.CommunicationStyle,
		RoleLabel:          portrait.Role,
		Interests:          portrait.Interests,
		Traits:             portrait.Traits,
		RoastMaterial:      portrait.RoastMaterial,
		ActivityByHour:     histogram,
	})
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

type portraitWire struct {
	Summary            string   `json:"summary"`
	CommunicationStyle string   `json:"communication_style"`
	Role               string   `json:"role"`
	Interests          []string `json:"interests"`
	Traits             []string `json:"traits"`
	RoastMaterial      []string `json:"roast_material"`
}

// parsePortrait decodes the strictly-JSON portrait, repairing the usual LLM
// mishaps first. List entries are trimmed and empties dropped.
func parsePortrait(content string) (*portraitWire, error) {
	repaired, err := jsonrepair.JSONRepair(content)
	if err != nil {
		return nil, fmt.Errorf("portrait JSON unrepairable: %w", err)
	}
	var wire portraitWire
	if err := json.Unmarshal([]byte(repaired), &wire); err != nil {
		return nil, fmt.Errorf("portrait JSON undecodable: %w", err)
	}

	wire.Summary = strings.TrimSpace(wire.Summary)
	wire.CommunicationStyle = strings.TrimSpace(wire.CommunicationStyle)
	wire.Role = strings.TrimSpace(wire.Role)
	wire.Interests = cleanPortraitList(wire.Interests)
	wire.Traits = cleanPortraitList(wire.Traits)
	wire.RoastMaterial = cleanPortraitList(wire.RoastMaterial)
	return &wire, nil
}

const maxPortraitListLen = 10

func cleanPortraitList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
		if len(out) == maxPortraitListLen {
			break
		}
	}
	return out
}

func profilePrompt(profile *store.UserProfile, facts []*store.UserFact, messages []*store.Message) string {
	var sb strings.Builder
	name := profile.DisplayName
	if name == "" {
		name = profile.Username
	}
	fmt.Fprintf(&sb, "Участник: %s", name)
	if profile.Username != "" {
		fmt.Fprintf(&sb, " (@%s)", profile.Username)
	}
	sb.WriteString("\n")

	if len(facts) > 0 {
		sb.WriteString("Известные факты:\n")
		for _, f := range facts {
			fmt.Fprintf(&sb, "- [%s] %s\n", f.FactType, f.FactValue)
		}
	}

	sb.WriteString("Сообщения (случайная выборка):\n")
	for _, m := range messages {
		sb.WriteString("- ")
		sb.WriteString(m.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// nextDailyRun returns the next occurrence of hourUTC strictly after now.
func nextDailyRun(now time.Time, hourUTC int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
