package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/chatsense/ai/core/llm"
	"github.com/hrygo/chatsense/prompts"
	"github.com/hrygo/chatsense/queue"
	"github.com/hrygo/chatsense/store"
)

func (f *indexDriver) QueuePick(_ context.Context, _ string, _ time.Duration, _ int) (*store.QueueRow, error) {
	if len(f.queueRows) == 0 {
		return nil, nil
	}
	row := f.queueRows[0]
	f.queueRows = f.queueRows[1:]
	return row, nil
}

func (f *indexDriver) QueueComplete(_ context.Context, _ string, id int64) (*store.QueueTimings, error) {
	f.completed = append(f.completed, id)
	now := time.Now()
	return &store.QueueTimings{CreatedAt: now, StartedAt: now, CompletedAt: now}, nil
}

func (f *indexDriver) QueueFail(_ context.Context, _ string, id int64, _ string, _ time.Time) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *indexDriver) QueueMarkDead(_ context.Context, _ string, id int64, _ string) error {
	f.dead = append(f.dead, id)
	return nil
}

func (f *indexDriver) QueuePendingCount(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return f.pending, nil
}

func (f *indexDriver) GetMessage(_ context.Context, chatID, messageID int64) (*store.Message, error) {
	for _, m := range f.history {
		if m.ChatID == chatID && m.MessageID == messageID {
			return m, nil
		}
	}
	return nil, nil
}

func (f *indexDriver) UpsertQuestionEmbeddings(_ context.Context, embeddings []*store.QuestionEmbedding) error {
	f.questionUpserts = append(f.questionUpserts, embeddings)
	return nil
}

type indexCompleter struct {
	content string
	err     error
	calls   int
	last    llm.Request
}

func (f *indexCompleter) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.content}, nil
}

func questionRow(id, chatID, messageID int64) *store.QueueRow {
	payload, _ := json.Marshal(store.QuestionTask{ChatID: chatID, MessageID: messageID})
	return &store.QueueRow{
		ID:           id,
		Payload:      payload,
		CreatedAt:    time.Now(),
		AttemptCount: 1,
		NextRunAt:    time.Now(),
	}
}

func newTestQuestionHandler(driver *indexDriver, completer Completer, emb Embedder) *QuestionHandler {
	st := store.New(driver, nil)
	q := queue.NewService[store.QuestionTask](queue.Config{
		Table:         store.QueueTableQuestionGeneration,
		MaxAttempts:   3,
		BaseRetryWait: time.Millisecond,
		MaxRetryWait:  time.Millisecond,
		LeaseTimeout:  time.Minute,
	}, st, nil, nil)
	return NewQuestionHandler(st, q, completer, emb, prompts.NewCatalogue(nil, nil), 3, 0, nil)
}

func TestQuestionHandlerGeneratesAndStores(t *testing.T) {
	driver := &indexDriver{
		queueRows: []*store.QueueRow{questionRow(11, 1, 101)},
		history:   []*store.Message{chatMsg(101, "Вася", "выбрали goose для миграций, он проще")},
	}
	completer := &indexCompleter{content: `["Что выбрали для миграций?", "Почему выбрали goose?"]`}
	emb := &indexEmbedder{}
	h := newTestQuestionHandler(driver, completer, emb)

	res, err := h.ProcessBatch(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.False(t, res.HasMore)
	assert.Equal(t, []int64{11}, driver.completed)

	require.Len(t, driver.questionUpserts, 1)
	stored := driver.questionUpserts[0]
	require.Len(t, stored, 2)
	assert.Equal(t, int64(1), stored[0].ChatID)
	assert.Equal(t, int64(101), stored[0].MessageID)
	assert.Equal(t, 0, stored[0].QuestionIndex)
	assert.Equal(t, "Что выбрали для миграций?", stored[0].Question)
	assert.Equal(t, 1, stored[1].QuestionIndex)
	assert.Equal(t, "test-embed", stored[0].Model)

	assert.Equal(t, "выбрали goose для миграций, он проще", completer.last.User)
	assert.Contains(t, completer.last.System, "до 3", "prompt carries the per-message cap")
	assert.InDelta(t, 0.5, completer.last.Temperature, 1e-6)
}

func TestQuestionHandlerRepairsSloppyJSON(t *testing.T) {
	driver := &indexDriver{
		queueRows: []*store.QueueRow{questionRow(11, 1, 101)},
		history:   []*store.Message{chatMsg(101, "Вася", "релиз переносится на пятницу")},
	}
	completer := &indexCompleter{content: "```json\n[\"Когда релиз?\",]\n```"}
	h := newTestQuestionHandler(driver, completer, &indexEmbedder{})

	res, err := h.ProcessBatch(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	require.Len(t, driver.questionUpserts, 1)
	require.Len(t, driver.questionUpserts[0], 1)
	assert.Equal(t, "Когда релиз?", driver.questionUpserts[0][0].Question)
}

func TestQuestionHandlerCapsQuestionCount(t *testing.T) {
	driver := &indexDriver{
		queueRows: []*store.QueueRow{questionRow(11, 1, 101)},
		history:   []*store.Message{chatMsg(101, "Вася", "обсуждали отпуск, бюджет и сроки")},
	}
	completer := &indexCompleter{content: `["в1?", "в2?", "в3?", "в4?", "в5?"]`}
	h := newTestQuestionHandler(driver, completer, &indexEmbedder{})

	_, err := h.ProcessBatch(context.Background(), 5)
	require.NoError(t, err)

	require.Len(t, driver.questionUpserts, 1)
	assert.Len(t, driver.questionUpserts[0], 3)
}

func TestQuestionHandlerSkipsShortMessage(t *testing.T) {
	driver := &indexDriver{
		queueRows: []*store.QueueRow{questionRow(11, 1, 101)},
		history:   []*store.Message{chatMsg(101, "Вася", "ок")},
	}
	completer := &indexCompleter{}
	h := newTestQuestionHandler(driver, completer, &indexEmbedder{})

	res, err := h.ProcessBatch(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed, "the task is consumed even when nothing is generated")
	assert.Equal(t, []int64{11}, driver.completed)
	assert.Zero(t, completer.calls)
	assert.Empty(t, driver.questionUpserts)
}

func TestQuestionHandlerCompletesVanishedMessage(t *testing.T) {
	driver := &indexDriver{queueRows: []*store.QueueRow{questionRow(11, 1, 404)}}
	completer := &indexCompleter{}
	h := newTestQuestionHandler(driver, completer, &indexEmbedder{})

	res, err := h.ProcessBatch(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, []int64{11}, driver.completed)
	assert.Zero(t, completer.calls)
}

func TestQuestionHandlerFailureReleasesTask(t *testing.T) {
	driver := &indexDriver{
		queueRows: []*store.QueueRow{questionRow(11, 1, 101)},
		history:   []*store.Message{chatMsg(101, "Вася", "релиз переносится на пятницу")},
	}
	completer := &indexCompleter{err: errors.New("boom")}
	h := newTestQuestionHandler(driver, completer, &indexEmbedder{})

	res, err := h.ProcessBatch(context.Background(), 5)
	require.NoError(t, err, "a single bad task does not abort the batch")
	assert.Zero(t, res.Processed)
	assert.Equal(t, []int64{11}, driver.failed)
	assert.Empty(t, driver.completed)
}

func TestQuestionHandlerRateLimitPausesPipeline(t *testing.T) {
	driver := &indexDriver{
		queueRows: []*store.QueueRow{questionRow(11, 1, 101), questionRow(12, 1, 102)},
		history: []*store.Message{
			chatMsg(101, "Вася", "релиз переносится на пятницу"),
			chatMsg(102, "Маша", "созвон в одиннадцать по москве"),
		},
	}
	completer := &indexCompleter{err: rateLimitErr()}
	h := newTestQuestionHandler(driver, completer, &indexEmbedder{})

	res, err := h.ProcessBatch(context.Background(), 5)
	require.Error(t, err)
	assert.Zero(t, res.Processed)
	assert.Equal(t, []int64{11}, driver.failed, "the second task stays queued for after the pause")
	assert.Equal(t, 1, completer.calls)
	if !strings.Contains(err.Error(), "generate questions") {
		t.Errorf("error %q does not name the failing stage", err)
	}
}

func TestQuestionHandlerDisabledWithoutLLM(t *testing.T) {
	driver := &indexDriver{}
	h := newTestQuestionHandler(driver, nil, &indexEmbedder{})
	assert.False(t, h.Enabled())

	enabled := newTestQuestionHandler(driver, &indexCompleter{}, &indexEmbedder{})
	assert.True(t, enabled.Enabled())
}
