package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// ErrNoProviders is returned when no provider matches a request.
var ErrNoProviders = errors.New("no LLM providers available")

// Router fans a completion request over candidate providers in preference
// order, advancing past failures.
type Router struct {
	clients []*Client
	logger  *slog.Logger
}

// NewRouter creates a router over the given providers.
func NewRouter(clients []*Client, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{clients: clients, logger: logger}
}

// Complete tries candidates until one succeeds. Tagged requests prefer
// providers carrying the tag, then fall back to the untagged default set;
// untagged requests use the default set alone.
func (r *Router) Complete(ctx context.Context, req Request) (*Response, error) {
	candidates := r.candidates(req.Tag)
	if len(candidates) == 0 {
		return nil, ErrNoProviders
	}

	var errs []error
	for _, c := range candidates {
		resp, err := c.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("provider failed, advancing to next",
			"provider", c.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
	}
	return nil, fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}

// Providers returns the configured provider names and models for status
// reporting.
func (r *Router) Providers() []ProviderInfo {
	infos := make([]ProviderInfo, 0, len(r.clients))
	for _, c := range r.clients {
		infos = append(infos, ProviderInfo{
			Name:     c.Name(),
			Model:    c.Model(),
			Priority: c.Priority(),
			Tags:     c.cfg.Tags,
			Breaker:  c.chain.BreakerState().String(),
		})
	}
	return infos
}

// ProviderInfo describes one provider for dashboards.
type ProviderInfo struct {
	Name     string   `json:"name"`
	Model    string   `json:"model"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags,omitempty"`
	Breaker  string   `json:"breaker"`
}

func (r *Router) candidates(tag string) []*Client {
	var tagged, untagged []*Client
	for _, c := range r.clients {
		switch {
		case tag != "" && c.HasTag(tag):
			tagged = append(tagged, c)
		case !c.Tagged():
			untagged = append(untagged, c)
		}
	}
	byPriority := func(list []*Client) {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Priority() < list[j].Priority()
		})
	}
	byPriority(tagged)
	byPriority(untagged)

	candidates := append(tagged, untagged...)
	if len(candidates) == 0 && len(r.clients) > 0 {
		// Every provider is tagged for something else. Serve the request
		// anyway rather than failing it.
		candidates = append(candidates, r.clients...)
		byPriority(candidates)
	}
	return candidates
}
