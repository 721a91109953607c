package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/chatsense/ai/core/reranker"
	"github.com/hrygo/chatsense/internal/metrics"
	"github.com/hrygo/chatsense/store"
)

// Embedder is the slice of the embedding client the engine needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config tunes the retrieval engine.
type Config struct {
	// VectorK / LexicalK bound per-variant candidate counts.
	VectorK  int
	LexicalK int
	// RerankTop is how many fused candidates go to the cross-encoder.
	RerankTop int
	// RerankFloor drops candidates scoring below it after reranking.
	RerankFloor float32
	// MaxCandidates bounds the final list handed to the context builder.
	MaxCandidates int
}

// DefaultConfig returns the production retrieval bounds.
func DefaultConfig() Config {
	return Config{
		VectorK:       10,
		LexicalK:      8,
		RerankTop:     40,
		RerankFloor:   0.3,
		MaxCandidates: 12,
	}
}

// Request is one search invocation.
type Request struct {
	ChatID int64
	Query  string
	Asker  Asker
}

// Result carries the fused candidates and everything the gate and debug
// reports need.
type Result struct {
	RequestID  string
	Intent     Intent
	Variants   []string
	Candidates []*Candidate
	Confidence Verdict
	// RerankApplied / RerankChanged describe the cross-encoder pass.
	RerankApplied bool
	RerankChanged bool
	Elapsed       time.Duration
}

// Engine answers search(chat, query) with hybrid retrieval.
type Engine struct {
	store      *store.Store
	embedder   Embedder
	reranker   reranker.Service
	classifier *Classifier
	expander   *Expander
	confidence ConfidencePolicy
	newsDump   NewsDumpPolicy
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        Config
}

// NewEngine assembles the engine. Metrics may be nil.
func NewEngine(
	st *store.Store,
	embedder Embedder,
	rerank reranker.Service,
	classifier *Classifier,
	expander *Expander,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.VectorK <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		store:      st,
		embedder:   embedder,
		reranker:   rerank,
		classifier: classifier,
		expander:   expander,
		confidence: DefaultConfidencePolicy(),
		newsDump:   DefaultNewsDumpPolicy(),
		metrics:    m,
		logger:     logger.With("component", "retrieval"),
		cfg:        cfg,
	}
}

// Search runs the full pipeline: intent, expansion, per-variant hybrid
// search, RRF merge, rerank, confidence. Individual search legs may fail
// without failing the request; only a total loss of candidates sources is an
// error.
func (e *Engine) Search(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	result := &Result{RequestID: shortuuid.New()}

	result.Intent = e.classifier.Classify(ctx, req.Query, req.Asker)
	result.Variants = e.expander.Expand(ctx, req.Query)

	vectors, err := e.embedder.EmbedBatch(ctx, result.Variants)
	if err != nil {
		return nil, fmt.Errorf("embed query variants: %w", err)
	}

	strategy := result.Intent.Type
	var authors map[int64]bool
	if strategy == IntentPersonal {
		authors = e.resolveTargets(ctx, req.ChatID, result.Intent.People, req.Asker)
		if len(authors) == 0 {
			e.logger.Debug("personal intent resolved nobody, falling back to general",
				"request_id", result.RequestID, "people", result.Intent.People)
			strategy = IntentGeneral
		}
	}

	lists, searchErrs := e.gather(ctx, req.ChatID, strategy, result.Variants, vectors)
	if len(lists) == 0 && searchErrs != nil {
		return nil, fmt.Errorf("all retrieval sources failed: %w", searchErrs)
	}
	if searchErrs != nil {
		e.logger.Warn("some retrieval sources failed, degrading",
			"request_id", result.RequestID, "error", searchErrs)
	}

	candidates := rrfMerge(lists...)
	if authors != nil {
		candidates = filterByAuthor(candidates, authors)
	}
	if len(candidates) > e.cfg.RerankTop {
		candidates = candidates[:e.cfg.RerankTop]
	}

	candidates, result.RerankApplied, result.RerankChanged = e.rerank(ctx, req.Query, candidates)

	for _, c := range candidates {
		c.NewsDump = e.newsDump.IsNewsDump(c.Text)
	}
	if len(candidates) > e.cfg.MaxCandidates {
		candidates = candidates[:e.cfg.MaxCandidates]
	}
	result.Candidates = candidates

	best, second := topSimilarities(candidates)
	result.Confidence = e.confidence.Evaluate(Signals{
		Candidates:      len(candidates),
		BestScore:       best,
		SecondScore:     second,
		HasLexical:      hasSource(candidates, "lexical"),
		RerankApplied:   result.RerankApplied,
		RerankSurvivors: countReranked(candidates),
	})
	result.Elapsed = time.Since(start)

	if e.metrics != nil {
		e.metrics.RecordRetrieval(string(strategy), result.Confidence.Label.String(), result.Elapsed)
	}
	e.logger.Info("retrieval finished",
		"request_id", result.RequestID,
		"chat_id", req.ChatID,
		"strategy", strategy,
		"variants", len(result.Variants),
		"candidates", len(candidates),
		"confidence", result.Confidence.Label.String(),
		"duration_ms", result.Elapsed.Milliseconds())
	return result, nil
}

type searchLeg struct {
	list []*Candidate
	err  error
}

// gather runs every (variant, source) search leg in parallel and returns the
// ranked lists that succeeded, plus the joined error of the legs that did
// not.
func (e *Engine) gather(ctx context.Context, chatID int64, strategy IntentType, variants []string, vectors [][]float32) ([][]*Candidate, error) {
	type task func(ctx context.Context) ([]*Candidate, error)
	var tasks []task

	for i, variant := range variants {
		vector := vectors[i]
		variant := variant

		if len(vector) > 0 {
			switch strategy {
			case IntentContextual:
				tasks = append(tasks, func(ctx context.Context) ([]*Candidate, error) {
					return e.searchContexts(ctx, chatID, vector)
				})
			default:
				tasks = append(tasks, func(ctx context.Context) ([]*Candidate, error) {
					return e.searchMessages(ctx, chatID, vector)
				})
				tasks = append(tasks, func(ctx context.Context) ([]*Candidate, error) {
					return e.searchQuestions(ctx, chatID, vector)
				})
			}
		}
		tasks = append(tasks, func(ctx context.Context) ([]*Candidate, error) {
			return e.searchLexical(ctx, chatID, variant)
		})
	}

	legs := make([]searchLeg, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t task) {
			defer wg.Done()
			list, err := t(ctx)
			legs[i] = searchLeg{list: list, err: err}
		}(i, t)
	}
	wg.Wait()

	var lists [][]*Candidate
	var errs []error
	for _, leg := range legs {
		if leg.err != nil {
			errs = append(errs, leg.err)
			continue
		}
		if len(leg.list) > 0 {
			lists = append(lists, leg.list)
		}
	}
	if len(errs) == 0 {
		return lists, nil
	}
	return lists, errors.Join(errs...)
}

func (e *Engine) searchMessages(ctx context.Context, chatID int64, vector []float32) ([]*Candidate, error) {
	matches, err := e.store.SearchMessageEmbeddings(ctx, &store.VectorSearch{ChatID: chatID, Vector: vector, Limit: e.cfg.VectorK})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return messageCandidates(matches, "vector"), nil
}

func (e *Engine) searchQuestions(ctx context.Context, chatID int64, vector []float32) ([]*Candidate, error) {
	matches, err := e.store.SearchQuestionEmbeddings(ctx, &store.VectorSearch{ChatID: chatID, Vector: vector, Limit: e.cfg.VectorK})
	if err != nil {
		return nil, fmt.Errorf("question search: %w", err)
	}
	return messageCandidates(matches, "question"), nil
}

func (e *Engine) searchContexts(ctx context.Context, chatID int64, vector []float32) ([]*Candidate, error) {
	matches, err := e.store.SearchContextEmbeddings(ctx, &store.VectorSearch{ChatID: chatID, Vector: vector, Limit: e.cfg.VectorK})
	if err != nil {
		return nil, fmt.Errorf("context search: %w", err)
	}
	out := make([]*Candidate, 0, len(matches))
	for _, m := range matches {
		out = append(out, &Candidate{
			ChatID:     m.ChatID,
			MessageID:  m.StartMessageID,
			Text:       m.Text,
			WindowSize: m.MessageCount,
			Similarity: m.Score,
			Sources:    []string{"context"},
		})
	}
	return out, nil
}

func (e *Engine) searchLexical(ctx context.Context, chatID int64, query string) ([]*Candidate, error) {
	matches, err := e.store.SearchMessagesLexical(ctx, &store.LexicalSearch{ChatID: chatID, Query: query, Limit: e.cfg.LexicalK})
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	out := make([]*Candidate, 0, len(matches))
	for _, m := range matches {
		c := newMessageCandidate(m.Message)
		c.LexicalScore = m.Score
		c.Sources = []string{"lexical"}
		out = append(out, c)
	}
	return out, nil
}

func messageCandidates(matches []*store.MessageMatch, source string) []*Candidate {
	out := make([]*Candidate, 0, len(matches))
	for _, m := range matches {
		c := newMessageCandidate(m.Message)
		c.Similarity = m.Score
		c.Sources = []string{source}
		out = append(out, c)
	}
	return out
}

func newMessageCandidate(m *store.Message) *Candidate {
	name := m.FirstName
	if name == "" {
		name = m.Username
	}
	return &Candidate{
		ChatID:     m.ChatID,
		MessageID:  m.MessageID,
		Text:       m.Text,
		AuthorID:   m.UserID,
		AuthorName: name,
		CreatedAt:  m.CreatedAt,
	}
}

// resolveTargets maps mentioned names to user ids via the alias table,
// case-insensitively. The asker's own names short-circuit without a lookup.
func (e *Engine) resolveTargets(ctx context.Context, chatID int64, people []string, asker Asker) map[int64]bool {
	ids := make(map[int64]bool)
	for _, person := range people {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(person, "@")))
		if name == "" {
			continue
		}
		if name == strings.ToLower(asker.DisplayName) || name == strings.ToLower(asker.Username) {
			ids[asker.UserID] = true
			continue
		}
		aliases, err := e.store.ListUserAliases(ctx, &store.FindUserAlias{ChatID: &chatID, Alias: &name, Limit: 3})
		if err != nil {
			e.logger.Warn("alias lookup failed", "alias", name, "error", err)
			continue
		}
		for _, a := range aliases {
			ids[a.UserID] = true
		}
	}
	return ids
}

func filterByAuthor(candidates []*Candidate, authors map[int64]bool) []*Candidate {
	out := candidates[:0]
	for _, c := range candidates {
		if c.WindowSize == 0 && authors[c.AuthorID] {
			out = append(out, c)
		}
	}
	return out
}

// rerank scores the candidates against the original query with the
// cross-encoder and drops everything under the floor. Failures keep the RRF
// order.
func (e *Engine) rerank(ctx context.Context, query string, candidates []*Candidate) (out []*Candidate, applied, changed bool) {
	if e.reranker == nil || !e.reranker.IsEnabled() || len(candidates) < 2 {
		return candidates, false, false
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	results, err := e.reranker.Rerank(ctx, query, texts, len(texts))
	if err != nil {
		e.logger.Warn("rerank failed, keeping fusion order", "error", err)
		return candidates, false, false
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	reranked := make([]*Candidate, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(candidates) || r.Score < e.cfg.RerankFloor {
			continue
		}
		c := candidates[r.Index]
		c.RerankScore = r.Score
		c.Reranked = true
		reranked = append(reranked, c)
	}

	for i := range reranked {
		if reranked[i] != candidates[i] {
			changed = true
			break
		}
	}
	if len(reranked) != len(candidates) {
		changed = true
	}
	return reranked, true, changed
}

func topSimilarities(candidates []*Candidate) (best, second float64) {
	for _, c := range candidates {
		switch {
		case c.Similarity > best:
			second = best
			best = c.Similarity
		case c.Similarity > second:
			second = c.Similarity
		}
	}
	return best, second
}

func hasSource(candidates []*Candidate, source string) bool {
	for _, c := range candidates {
		if c.FromSource(source) {
			return true
		}
	}
	return false
}

func countReranked(candidates []*Candidate) int {
	n := 0
	for _, c := range candidates {
		if c.Reranked {
			n++
		}
	}
	return n
}
