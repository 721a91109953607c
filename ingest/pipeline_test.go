package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hrygo/chatsense/queue"
	"github.com/hrygo/chatsense/store"
)

// ingestDriver stubs the store surface the pipeline touches. Side tasks run
// concurrently, so every record is mutex-guarded; tests read after Wait.
type ingestDriver struct {
	store.Driver

	mu sync.Mutex

	chats         map[int64]*store.Chat
	chatUpserts   []*store.Chat
	messages      []*store.Message
	aliases       []*store.UserAlias
	aliasesByName map[string][]*store.UserAlias
	relationships []*store.UserRelationship
	enqueued      map[string][]json.RawMessage
	pending       int64

	messageErr error
}

func (f *ingestDriver) GetChat(_ context.Context, id int64) (*store.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chats[id], nil
}

func (f *ingestDriver) UpsertChat(_ context.Context, create *store.Chat) (*store.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatUpserts = append(f.chatUpserts, create)
	return create, nil
}

func (f *ingestDriver) UpsertMessage(_ context.Context, create *store.Message) (*store.Message, error) {
	if f.messageErr != nil {
		return nil, f.messageErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, create)
	return create, nil
}

func (f *ingestDriver) RecordUserAlias(_ context.Context, record *store.UserAlias) (*store.UserAlias, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliases = append(f.aliases, record)
	return record, nil
}

func (f *ingestDriver) ListUserAliases(_ context.Context, find *store.FindUserAlias) ([]*store.UserAlias, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if find.Alias == nil {
		return nil, nil
	}
	return f.aliasesByName[*find.Alias], nil
}

func (f *ingestDriver) UpsertUserRelationship(_ context.Context, upsert *store.UserRelationship) (*store.UserRelationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relationships = append(f.relationships, upsert)
	return upsert, nil
}

func (f *ingestDriver) QueueEnqueue(_ context.Context, table string, payload []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueued == nil {
		f.enqueued = make(map[string][]json.RawMessage)
	}
	f.enqueued[table] = append(f.enqueued[table], payload)
	return int64(len(f.enqueued[table])), nil
}

func (f *ingestDriver) QueuePendingCount(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return f.pending, nil
}

func testQueueConfig(table string, cap int) queue.Config {
	return queue.Config{
		Table:         table,
		MaxAttempts:   3,
		BaseRetryWait: time.Millisecond,
		MaxRetryWait:  time.Millisecond,
		LeaseTimeout:  time.Minute,
		PendingCap:    int64(cap),
	}
}

func newTestPipeline(driver *ingestDriver) *Pipeline {
	return newCappedPipeline(driver, 0)
}

func newCappedPipeline(driver *ingestDriver, factCap int) *Pipeline {
	st := store.New(driver, nil)
	facts := queue.NewService[store.MessageTask](
		testQueueConfig(store.QueueTableMessage, factCap), st, nil, nil)
	questions := queue.NewService[store.QuestionTask](
		testQueueConfig(store.QueueTableQuestionGeneration, 0), st, nil, nil)
	return NewPipeline(st, facts, questions, nil, nil, DefaultConfig())
}

func inbound(messageID int64, text string) *Inbound {
	return &Inbound{
		ChatID:    1,
		ChatTitle: "Дружный чат",
		ChatType:  "supergroup",
		MessageID: messageID,
		UserID:    7,
		Username:  "vasya_pupkin",
		FirstName: "Вася",
		Text:      text,
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPipelineSavesAndFansOut(t *testing.T) {
	driver := &ingestDriver{}
	p := newTestPipeline(driver)

	res, err := p.Handle(context.Background(), inbound(100, "обсуждаем релиз в пятницу"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res != ResultSaved {
		t.Fatalf("result = %v, want saved", res)
	}
	p.Wait()

	if len(driver.messages) != 1 {
		t.Fatalf("messages saved = %d, want 1", len(driver.messages))
	}
	if len(driver.chatUpserts) != 1 || !driver.chatUpserts[0].Active {
		t.Errorf("chat upserts = %+v, want one active chat", driver.chatUpserts)
	}

	sources := make(map[string]string)
	for _, a := range driver.aliases {
		sources[a.Source] = a.Alias
	}
	if sources[store.AliasSourceUsername] != "vasya_pupkin" || sources[store.AliasSourceName] != "Вася" {
		t.Errorf("aliases = %v, want username and name recorded", sources)
	}

	factPayloads := driver.enqueued[store.QueueTableMessage]
	if len(factPayloads) != 1 {
		t.Fatalf("fact tasks = %d, want 1", len(factPayloads))
	}
	var fact store.MessageTask
	if err := json.Unmarshal(factPayloads[0], &fact); err != nil {
		t.Fatalf("decode fact task: %v", err)
	}
	if fact.ChatID != 1 || fact.MessageID != 100 || fact.DisplayName != "Вася" || fact.Text == "" {
		t.Errorf("fact task = %+v", fact)
	}

	questionPayloads := driver.enqueued[store.QueueTableQuestionGeneration]
	if len(questionPayloads) != 1 {
		t.Fatalf("question tasks = %d, want 1", len(questionPayloads))
	}
	var question store.QuestionTask
	if err := json.Unmarshal(questionPayloads[0], &question); err != nil {
		t.Fatalf("decode question task: %v", err)
	}
	if question.ChatID != 1 || question.MessageID != 100 {
		t.Errorf("question task = %+v", question)
	}
}

func TestPipelineSkipsNonGroupChats(t *testing.T) {
	driver := &ingestDriver{}
	p := newTestPipeline(driver)

	msg := inbound(100, "личное сообщение боту")
	msg.ChatType = "private"

	res, err := p.Handle(context.Background(), msg)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res != ResultSkipped {
		t.Fatalf("result = %v, want skipped", res)
	}
	p.Wait()
	if len(driver.messages) != 0 || len(driver.chatUpserts) != 0 {
		t.Errorf("private chat was persisted: %d messages, %d chats",
			len(driver.messages), len(driver.chatUpserts))
	}
}

func TestPipelineSkipsEmptyText(t *testing.T) {
	p := newTestPipeline(&ingestDriver{})

	res, err := p.Handle(context.Background(), inbound(100, "   "))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res != ResultSkipped {
		t.Errorf("result = %v, want skipped", res)
	}
}

func TestPipelineMediaMessages(t *testing.T) {
	t.Run("captionless photo kept", func(t *testing.T) {
		driver := &ingestDriver{}
		p := newTestPipeline(driver)
		msg := inbound(100, "")
		msg.MessageType = "photo"
		msg.HasMedia = true

		res, err := p.Handle(context.Background(), msg)
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if res != ResultSaved {
			t.Fatalf("result = %v, want saved", res)
		}
		p.Wait()

		if len(driver.messages) != 1 {
			t.Fatalf("messages saved = %d, want 1", len(driver.messages))
		}
		saved := driver.messages[0]
		if saved.Type != "photo" || !saved.HasMedia || saved.Text != "" {
			t.Errorf("message = %+v, want a captionless photo", saved)
		}
		if n := len(driver.enqueued[store.QueueTableMessage]); n != 0 {
			t.Errorf("fact tasks = %d, want 0 without text", n)
		}
	})

	t.Run("caption fans out like text", func(t *testing.T) {
		driver := &ingestDriver{}
		p := newTestPipeline(driver)
		msg := inbound(100, "смотрите какой закат на даче")
		msg.MessageType = "photo"
		msg.HasMedia = true
		msg.HasLinks = true

		if _, err := p.Handle(context.Background(), msg); err != nil {
			t.Fatalf("Handle: %v", err)
		}
		p.Wait()

		if len(driver.messages) != 1 {
			t.Fatalf("messages saved = %d, want 1", len(driver.messages))
		}
		saved := driver.messages[0]
		if saved.Text != "смотрите какой закат на даче" || !saved.HasLinks {
			t.Errorf("message = %+v, want caption and link flag kept", saved)
		}
		if n := len(driver.enqueued[store.QueueTableMessage]); n != 1 {
			t.Errorf("fact tasks = %d, want 1 for a captioned photo", n)
		}
	})
}

func TestPipelineDedupFiltersRepeats(t *testing.T) {
	driver := &ingestDriver{}
	p := newTestPipeline(driver)
	ctx := context.Background()

	if res, _ := p.Handle(ctx, inbound(100, "Пойдём сегодня в бар после работы?")); res != ResultSaved {
		t.Fatalf("first = %v, want saved", res)
	}
	// Same user, same text modulo case and spacing.
	if res, _ := p.Handle(ctx, inbound(101, "пойдём  сегодня в бар после работы?")); res != ResultDuplicate {
		t.Fatalf("repeat = %v, want duplicate", res)
	}

	other := inbound(102, "Пойдём сегодня в бар после работы?")
	other.UserID = 8
	if res, _ := p.Handle(ctx, other); res != ResultSaved {
		t.Fatalf("other user = %v, want saved", res)
	}

	p.Wait()
	if len(driver.messages) != 2 {
		t.Errorf("messages saved = %d, want 2", len(driver.messages))
	}
}

func TestPipelineShortTextBypassesDedup(t *testing.T) {
	driver := &ingestDriver{}
	p := newTestPipeline(driver)
	ctx := context.Background()

	for i := int64(0); i < 2; i++ {
		if res, _ := p.Handle(ctx, inbound(100+i, "привет")); res != ResultSaved {
			t.Fatalf("short message %d = %v, want saved", i, res)
		}
	}
	p.Wait()
	if len(driver.messages) != 2 {
		t.Errorf("messages saved = %d, want 2", len(driver.messages))
	}
}

func TestPipelineKnownChatNotRefreshed(t *testing.T) {
	driver := &ingestDriver{chats: map[int64]*store.Chat{
		1: {ID: 1, Title: "Дружный чат", Type: "supergroup", Active: true},
	}}
	p := newTestPipeline(driver)

	if _, err := p.Handle(context.Background(), inbound(100, "обсуждаем релиз")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	p.Wait()
	if len(driver.chatUpserts) != 0 {
		t.Errorf("chat upserts = %d, want 0 for an unchanged chat", len(driver.chatUpserts))
	}
}

func TestPipelineTitleChangeRefreshesChat(t *testing.T) {
	driver := &ingestDriver{chats: map[int64]*store.Chat{
		1: {ID: 1, Title: "Старое название", Type: "supergroup", Active: true},
	}}
	p := newTestPipeline(driver)

	if _, err := p.Handle(context.Background(), inbound(100, "обсуждаем релиз")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	p.Wait()
	if len(driver.chatUpserts) != 1 || driver.chatUpserts[0].Title != "Дружный чат" {
		t.Errorf("chat upserts = %+v, want refreshed title", driver.chatUpserts)
	}
}

func TestPipelineQuestionFeedGates(t *testing.T) {
	t.Run("forwarded", func(t *testing.T) {
		driver := &ingestDriver{}
		p := newTestPipeline(driver)
		msg := inbound(100, "длинный пересланный текст новости")
		msg.Forwarded = true

		if _, err := p.Handle(context.Background(), msg); err != nil {
			t.Fatalf("Handle: %v", err)
		}
		p.Wait()
		if n := len(driver.enqueued[store.QueueTableQuestionGeneration]); n != 0 {
			t.Errorf("question tasks = %d, want 0 for forwards", n)
		}
		if n := len(driver.enqueued[store.QueueTableMessage]); n != 1 {
			t.Errorf("fact tasks = %d, want 1", n)
		}
	})

	t.Run("too short", func(t *testing.T) {
		driver := &ingestDriver{}
		p := newTestPipeline(driver)

		if _, err := p.Handle(context.Background(), inbound(100, "ладно")); err != nil {
			t.Fatalf("Handle: %v", err)
		}
		p.Wait()
		if n := len(driver.enqueued[store.QueueTableQuestionGeneration]); n != 0 {
			t.Errorf("question tasks = %d, want 0 for short texts", n)
		}
	})
}

func TestPipelineNicknameRequiresReply(t *testing.T) {
	nicknameAliases := func(driver *ingestDriver) []*store.UserAlias {
		var out []*store.UserAlias
		for _, a := range driver.aliases {
			if a.Source == store.AliasSourceNickname {
				out = append(out, a)
			}
		}
		return out
	}

	t.Run("no reply", func(t *testing.T) {
		driver := &ingestDriver{}
		p := newTestPipeline(driver)

		if _, err := p.Handle(context.Background(), inbound(100, "Петруха, глянь что нашёл")); err != nil {
			t.Fatalf("Handle: %v", err)
		}
		p.Wait()
		if got := nicknameAliases(driver); len(got) != 0 {
			t.Errorf("nicknames = %+v, want none without a reply target", got)
		}
	})

	t.Run("reply", func(t *testing.T) {
		driver := &ingestDriver{}
		p := newTestPipeline(driver)
		msg := inbound(100, "Петруха, глянь что нашёл")
		replyMsg, replyUser := int64(90), int64(42)
		msg.ReplyToMessageID, msg.ReplyToUserID = &replyMsg, &replyUser

		if _, err := p.Handle(context.Background(), msg); err != nil {
			t.Fatalf("Handle: %v", err)
		}
		p.Wait()
		got := nicknameAliases(driver)
		if len(got) != 1 || got[0].Alias != "Петруха" || got[0].UserID != 42 {
			t.Errorf("nicknames = %+v, want Петруха credited to user 42", got)
		}
	})

	t.Run("reply to self", func(t *testing.T) {
		driver := &ingestDriver{}
		p := newTestPipeline(driver)
		msg := inbound(100, "Петруха, глянь")
		replyMsg, replyUser := int64(90), int64(7)
		msg.ReplyToMessageID, msg.ReplyToUserID = &replyMsg, &replyUser

		if _, err := p.Handle(context.Background(), msg); err != nil {
			t.Fatalf("Handle: %v", err)
		}
		p.Wait()
		if got := nicknameAliases(driver); len(got) != 0 {
			t.Errorf("nicknames = %+v, want none for self-replies", got)
		}
	})
}

func TestPipelineRecordsRelationshipEdge(t *testing.T) {
	driver := &ingestDriver{aliasesByName: map[string][]*store.UserAlias{
		"маша": {{ChatID: 1, UserID: 42, Alias: "Маша", UsageCount: 5}},
	}}
	p := newTestPipeline(driver)

	if _, err := p.Handle(context.Background(), inbound(100, "знакомьтесь, это моя жена Маша")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	p.Wait()

	if len(driver.relationships) != 1 {
		t.Fatalf("relationships = %d, want 1", len(driver.relationships))
	}
	edge := driver.relationships[0]
	if edge.FromUserID != 7 || edge.RelatedName != "Маша" || edge.Type != store.RelationshipSpouse {
		t.Errorf("edge = %+v, want user 7 naming Маша a spouse", edge)
	}
	if edge.RelatedUserID == nil || *edge.RelatedUserID != 42 {
		t.Errorf("edge resolved to %v, want user 42", edge.RelatedUserID)
	}
	if edge.SurfaceLabel != "жена" || edge.Confidence != 0.9 {
		t.Errorf("edge = %+v, want the word as written at introduction confidence", edge)
	}
	if len(edge.SourceMessageIDs) != 1 || edge.SourceMessageIDs[0] != 100 {
		t.Errorf("edge sources = %v, want [100]", edge.SourceMessageIDs)
	}
}

func TestPipelineRelationshipResolvesDeclinedName(t *testing.T) {
	driver := &ingestDriver{aliasesByName: map[string][]*store.UserAlias{
		"маша": {{ChatID: 1, UserID: 42, Alias: "Маша", UsageCount: 5}},
	}}
	p := newTestPipeline(driver)

	if _, err := p.Handle(context.Background(), inbound(100, "сходили с моей женой Машей в кино")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	p.Wait()

	if len(driver.relationships) != 1 {
		t.Fatalf("relationships = %d, want 1 via the nominative guess", len(driver.relationships))
	}
	got := driver.relationships[0]
	if got.RelatedUserID == nil || *got.RelatedUserID != 42 || got.Confidence != 0.6 {
		t.Errorf("edge = %+v, want user 42 at instrumental confidence", got)
	}
	if got.RelatedName != "Маша" || got.SurfaceLabel != "женой" {
		t.Errorf("edge = %+v, want the stored alias casing and the word as written", got)
	}
}

func TestPipelineRelationshipKeepsUnresolvedName(t *testing.T) {
	driver := &ingestDriver{}
	p := newTestPipeline(driver)

	if _, err := p.Handle(context.Background(), inbound(100, "это моя жена Зина")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	p.Wait()
	if len(driver.relationships) != 1 {
		t.Fatalf("relationships = %d, want the unknown name kept", len(driver.relationships))
	}
	edge := driver.relationships[0]
	if edge.RelatedName != "Зина" || edge.RelatedUserID != nil {
		t.Errorf("edge = %+v, want Зина with no resolved user", edge)
	}
	if edge.SurfaceLabel != "жена" || edge.Type != store.RelationshipSpouse {
		t.Errorf("edge = %+v, want the surface word preserved", edge)
	}
}

func TestPipelineSurvivesFullFactQueue(t *testing.T) {
	driver := &ingestDriver{pending: 5}
	p := newCappedPipeline(driver, 1)

	res, err := p.Handle(context.Background(), inbound(100, "обсуждаем релиз в пятницу"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res != ResultSaved {
		t.Fatalf("result = %v, want saved despite the full queue", res)
	}
	p.Wait()
	if n := len(driver.enqueued[store.QueueTableMessage]); n != 0 {
		t.Errorf("fact tasks = %d, want 0 when the backlog is capped", n)
	}
}

func TestPipelineSaveErrorPropagates(t *testing.T) {
	driver := &ingestDriver{messageErr: errors.New("db down")}
	p := newTestPipeline(driver)

	res, err := p.Handle(context.Background(), inbound(100, "обсуждаем релиз"))
	if err == nil {
		t.Fatal("Handle on a broken store: want error")
	}
	if res != ResultError {
		t.Errorf("result = %v, want error", res)
	}
	p.Wait()
	if len(driver.enqueued) != 0 {
		t.Errorf("side tasks ran despite the failed save: %v", driver.enqueued)
	}
}
