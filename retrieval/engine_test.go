package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hrygo/chatsense/ai/core/reranker"
	"github.com/hrygo/chatsense/prompts"
	"github.com/hrygo/chatsense/store"
)

// fakeDriver stubs the store surface the retrieval package touches. The
// embedded interface covers everything else; un-stubbed methods panic, which
// is what we want in tests.
type fakeDriver struct {
	store.Driver

	vector    []*store.MessageMatch
	questions []*store.MessageMatch
	contexts  []*store.ContextMatch
	lexical   []*store.MessageMatch
	aliases   map[string][]*store.UserAlias
	around    []*store.Message
	history   []*store.Message
	recent    []*store.Message
	settings  map[string]string
	memories  []*store.ConversationMemory

	vectorErr   error
	questionErr error
	lexicalErr  error
	contextErr  error
	aroundErr   error
	listErr     error
}

func (f *fakeDriver) SearchMessageEmbeddings(_ context.Context, _ *store.VectorSearch) ([]*store.MessageMatch, error) {
	return f.vector, f.vectorErr
}

func (f *fakeDriver) SearchQuestionEmbeddings(_ context.Context, _ *store.VectorSearch) ([]*store.MessageMatch, error) {
	return f.questions, f.questionErr
}

func (f *fakeDriver) SearchContextEmbeddings(_ context.Context, _ *store.VectorSearch) ([]*store.ContextMatch, error) {
	return f.contexts, f.contextErr
}

func (f *fakeDriver) SearchMessagesLexical(_ context.Context, _ *store.LexicalSearch) ([]*store.MessageMatch, error) {
	return f.lexical, f.lexicalErr
}

func (f *fakeDriver) ListUserAliases(_ context.Context, find *store.FindUserAlias) ([]*store.UserAlias, error) {
	if find.Alias == nil {
		return nil, nil
	}
	return f.aliases[*find.Alias], nil
}

func (f *fakeDriver) ListMessagesAround(_ context.Context, _, _ int64, _, _ int) ([]*store.Message, error) {
	return f.around, f.aroundErr
}

func (f *fakeDriver) GetChatSetting(_ context.Context, _ int64, key string) (*store.ChatSetting, error) {
	if v, ok := f.settings[key]; ok {
		return &store.ChatSetting{Key: key, Value: v}, nil
	}
	return nil, nil
}

func (f *fakeDriver) CreateConversationMemory(_ context.Context, create *store.ConversationMemory) (*store.ConversationMemory, error) {
	f.memories = append(f.memories, create)
	return create, nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeReranker struct {
	enabled bool
	results []reranker.Result
	err     error
	calls   int
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, _ []string, _ int) ([]reranker.Result, error) {
	f.calls++
	return f.results, f.err
}

func (f *fakeReranker) IsEnabled() bool { return f.enabled }

func match(msgID, userID int64, name, text string, score float64) *store.MessageMatch {
	return &store.MessageMatch{
		Message: &store.Message{
			ChatID:    1,
			MessageID: msgID,
			UserID:    userID,
			FirstName: name,
			Text:      text,
			CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		Score: score,
	}
}

func newTestEngine(driver *fakeDriver, rerank reranker.Service) *Engine {
	cat := prompts.NewCatalogue(nil, nil)
	return NewEngine(
		store.New(driver, nil),
		&fakeEmbedder{},
		rerank,
		NewClassifier(nil, cat, nil),
		NewExpander(nil, cat, nil),
		nil,
		nil,
		DefaultConfig(),
	)
}

func TestEngineSearchMergesSources(t *testing.T) {
	driver := &fakeDriver{
		vector: []*store.MessageMatch{
			match(1, 10, "Вася", "встретимся в пятницу в семь", 0.9),
			match(2, 11, "Петя", "я за пятницу", 0.7),
		},
		questions: []*store.MessageMatch{
			match(1, 10, "Вася", "встретимся в пятницу в семь", 0.8),
		},
		lexical: []*store.MessageMatch{
			match(3, 12, "Маша", "пятница подходит", 0.4),
		},
	}
	e := newTestEngine(driver, &fakeReranker{enabled: false})

	result, err := e.Search(context.Background(), &Request{ChatID: 1, Query: "когда договорились встретиться?"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.RequestID == "" {
		t.Error("RequestID empty")
	}
	if result.Intent.Type != IntentGeneral {
		t.Errorf("Intent = %v, want general", result.Intent.Type)
	}
	if len(result.Candidates) != 3 {
		t.Fatalf("candidates = %d, want 3", len(result.Candidates))
	}

	top := result.Candidates[0]
	if top.MessageID != 1 {
		t.Fatalf("top = %d, want message 1 (vector + question)", top.MessageID)
	}
	if !top.FromSource("vector") || !top.FromSource("question") {
		t.Errorf("top.Sources = %v, want vector and question", top.Sources)
	}
	if top.Similarity != 0.9 {
		t.Errorf("top.Similarity = %v, want 0.9", top.Similarity)
	}
	if result.Confidence.Label != ConfidenceHigh {
		t.Errorf("confidence = %v, want high (best 0.9)", result.Confidence.Label)
	}
	if result.RerankApplied {
		t.Error("rerank applied with disabled service")
	}
}

func TestEngineSearchEmptyChat(t *testing.T) {
	e := newTestEngine(&fakeDriver{}, &fakeReranker{})

	result, err := e.Search(context.Background(), &Request{ChatID: 1, Query: "что обсуждали?"})
	if err != nil {
		t.Fatalf("Search on empty chat: %v", err)
	}
	if len(result.Candidates) != 0 {
		t.Fatalf("candidates = %d, want 0", len(result.Candidates))
	}
	if result.Confidence.Label != ConfidenceNone {
		t.Errorf("confidence = %v, want none", result.Confidence.Label)
	}
}

func TestEngineSearchEmbedErrorAborts(t *testing.T) {
	cat := prompts.NewCatalogue(nil, nil)
	e := NewEngine(
		store.New(&fakeDriver{}, nil),
		&fakeEmbedder{err: errors.New("embedding provider down")},
		&fakeReranker{},
		NewClassifier(nil, cat, nil),
		NewExpander(nil, cat, nil),
		nil, nil, DefaultConfig(),
	)

	if _, err := e.Search(context.Background(), &Request{ChatID: 1, Query: "вопрос"}); err == nil {
		t.Fatal("want error when embedding fails")
	}
}

func TestEngineSearchDegradesOnPartialFailure(t *testing.T) {
	driver := &fakeDriver{
		vectorErr:   errors.New("index rebuilding"),
		questionErr: errors.New("index rebuilding"),
		lexical: []*store.MessageMatch{
			match(3, 12, "Маша", "пятница подходит", 0.4),
		},
	}
	e := newTestEngine(driver, &fakeReranker{})

	result, err := e.Search(context.Background(), &Request{ChatID: 1, Query: "когда встреча?"})
	if err != nil {
		t.Fatalf("Search should degrade, got %v", err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("candidates = %d, want 1 from the surviving source", len(result.Candidates))
	}
	if !result.Candidates[0].FromSource("lexical") {
		t.Errorf("sources = %v, want lexical", result.Candidates[0].Sources)
	}
}

func TestEngineSearchAllSourcesFailed(t *testing.T) {
	driver := &fakeDriver{
		vectorErr:   errors.New("db down"),
		questionErr: errors.New("db down"),
		lexicalErr:  errors.New("db down"),
	}
	e := newTestEngine(driver, &fakeReranker{})

	if _, err := e.Search(context.Background(), &Request{ChatID: 1, Query: "вопрос"}); err == nil {
		t.Fatal("want error when every source fails")
	}
}

func TestEngineSearchPersonalFiltersAuthors(t *testing.T) {
	driver := &fakeDriver{
		vector: []*store.MessageMatch{
			match(1, 42, "Вася", "я настроил сервер в субботу", 0.9),
			match(2, 99, "Петя", "сервер опять упал", 0.8),
		},
	}
	e := newTestEngine(driver, &fakeReranker{})

	result, err := e.Search(context.Background(), &Request{
		ChatID: 1,
		Query:  "что я говорил про сервер?",
		Asker:  Asker{UserID: 42, DisplayName: "Вася"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Intent.Type != IntentPersonal {
		t.Fatalf("intent = %v, want personal", result.Intent.Type)
	}
	for _, c := range result.Candidates {
		if c.AuthorID != 42 {
			t.Errorf("candidate from author %d survived the personal filter", c.AuthorID)
		}
	}
}

func TestEngineSearchPersonalUnresolvedFallsBack(t *testing.T) {
	driver := &fakeDriver{
		vector: []*store.MessageMatch{
			match(1, 42, "Вася", "обсуждали дедлайн", 0.9),
			match(2, 99, "Петя", "дедлайн в среду", 0.8),
		},
		aliases: map[string][]*store.UserAlias{},
	}
	e := newTestEngine(driver, &fakeReranker{})

	result, err := e.Search(context.Background(), &Request{
		ChatID: 1,
		Query:  "что @ghost_user говорил про дедлайн?",
		Asker:  Asker{UserID: 7, DisplayName: "Маша"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// Nobody resolved: falls back to general, nothing filtered out.
	if len(result.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2 (no author filter)", len(result.Candidates))
	}
}

func TestEngineSearchPersonalResolvesAliases(t *testing.T) {
	driver := &fakeDriver{
		vector: []*store.MessageMatch{
			match(1, 42, "Вася", "я взял отпуск в июле", 0.9),
			match(2, 99, "Петя", "отпуск одобрили", 0.8),
		},
		aliases: map[string][]*store.UserAlias{
			"vasya_pupkin": {{ChatID: 1, UserID: 42}},
		},
	}
	e := newTestEngine(driver, &fakeReranker{})

	result, err := e.Search(context.Background(), &Request{
		ChatID: 1,
		Query:  "что @vasya_pupkin говорил про отпуск?",
		Asker:  Asker{UserID: 7, DisplayName: "Маша"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].AuthorID != 42 {
		t.Fatalf("candidates = %+v, want only Вася's message", result.Candidates)
	}
}

func TestEngineSearchContextualUsesWindows(t *testing.T) {
	driver := &fakeDriver{
		contexts: []*store.ContextMatch{
			{ChatID: 1, StartMessageID: 100, Text: "долгий спор о релизе", MessageCount: 10, Score: 0.8},
		},
	}
	e := newTestEngine(driver, &fakeReranker{})

	result, err := e.Search(context.Background(), &Request{ChatID: 1, Query: "о чём говорили вчера вечером?"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Intent.Type != IntentContextual {
		t.Fatalf("intent = %v, want contextual", result.Intent.Type)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(result.Candidates))
	}
	if result.Candidates[0].WindowSize != 10 {
		t.Errorf("WindowSize = %d, want 10", result.Candidates[0].WindowSize)
	}
	if !result.Candidates[0].FromSource("context") {
		t.Errorf("sources = %v, want context", result.Candidates[0].Sources)
	}
}

func TestEngineRerankReordersAndDrops(t *testing.T) {
	driver := &fakeDriver{
		vector: []*store.MessageMatch{
			match(1, 10, "Вася", "про кота ничего не знаю", 0.9),
			match(2, 11, "Петя", "кота звали Барсик", 0.8),
		},
	}
	rerank := &fakeReranker{
		enabled: true,
		results: []reranker.Result{
			{Index: 1, Score: 0.95},
			{Index: 0, Score: 0.1}, // below the floor
		},
	}
	e := newTestEngine(driver, rerank)

	result, err := e.Search(context.Background(), &Request{ChatID: 1, Query: "как звали кота?"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !result.RerankApplied {
		t.Fatal("RerankApplied = false, want true")
	}
	if !result.RerankChanged {
		t.Error("RerankChanged = false, want true")
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("candidates = %d, want 1 survivor", len(result.Candidates))
	}
	if result.Candidates[0].MessageID != 2 {
		t.Errorf("survivor = %d, want message 2", result.Candidates[0].MessageID)
	}
	if !result.Candidates[0].Reranked || result.Candidates[0].RerankScore != 0.95 {
		t.Errorf("survivor rerank fields = (%v, %v), want (true, 0.95)",
			result.Candidates[0].Reranked, result.Candidates[0].RerankScore)
	}
}

func TestEngineRerankFailureKeepsOrder(t *testing.T) {
	driver := &fakeDriver{
		vector: []*store.MessageMatch{
			match(1, 10, "Вася", "первое", 0.9),
			match(2, 11, "Петя", "второе", 0.8),
		},
	}
	e := newTestEngine(driver, &fakeReranker{enabled: true, err: errors.New("rerank endpoint 503")})

	result, err := e.Search(context.Background(), &Request{ChatID: 1, Query: "вопрос?"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.RerankApplied {
		t.Error("RerankApplied = true after rerank failure")
	}
	if len(result.Candidates) != 2 || result.Candidates[0].MessageID != 1 {
		t.Errorf("fusion order not preserved: %+v", result.Candidates)
	}
}

func TestEngineFlagsNewsDumps(t *testing.T) {
	driver := &fakeDriver{
		vector: []*store.MessageMatch{
			match(1, 10, "Вася", "подписывайтесь на канал, промокод по ссылке https://t.example", 0.9),
			match(2, 11, "Петя", "обычное сообщение про дела", 0.8),
		},
	}
	e := newTestEngine(driver, &fakeReranker{})

	result, err := e.Search(context.Background(), &Request{ChatID: 1, Query: "что за канал?"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	var dumps int
	for _, c := range result.Candidates {
		if c.NewsDump {
			dumps++
		}
	}
	if dumps != 1 {
		t.Errorf("news dumps flagged = %d, want 1", dumps)
	}
}
