package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/quitachat/internal/ai"
	"github.com/xxxsen/quitachat/internal/model"
	appErr "github.com/xxxsen/quitachat/internal/pkg/errors"
)

type fakeRetriever struct {
	chunks []model.Chunk
	err    error
	calls  int
}

func (f *fakeRetriever) RetrieveContext(ctx context.Context, query string) ([]model.Chunk, error) {
	f.calls++
	return f.chunks, f.err
}

type fakeChatModel struct {
	answer   string
	err      error
	countErr error
	calls    [][]ai.Message
}

func (f *fakeChatModel) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	f.calls = append(f.calls, messages)
	if f.err != nil {
		return "", f.err
	}
	if f.answer != "" {
		return f.answer, nil
	}
	return "resposta para " + messages[len(messages)-1].Content, nil
}

func (f *fakeChatModel) CountTokens(ctx context.Context, messages []ai.Message) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	n := 0
	for _, m := range messages {
		n += len(strings.Fields(m.Content))
	}
	return n, nil
}

func (f *fakeChatModel) ModelName() string { return "fake-llm" }

type memTurnStore struct {
	mu        sync.Mutex
	turns     []model.ChatTurn
	createErr error
}

func (m *memTurnStore) Create(ctx context.Context, turn *model.ChatTurn) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return 0, m.createErr
	}
	t := *turn
	t.ID = int64(len(m.turns) + 1)
	m.turns = append(m.turns, t)
	return t.ID, nil
}

func (m *memTurnStore) ListBySession(ctx context.Context, sessionID string) ([]model.ChatTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ChatTurn
	for _, t := range m.turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTurnStore) ListForDisplay(ctx context.Context, sessionID string) ([]model.DisplayTurn, error) {
	turns, _ := m.ListBySession(ctx, sessionID)
	out := make([]model.DisplayTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, model.DisplayTurn{ID: t.ID, UserMessage: t.UserMessage, BotResponse: t.BotResponse})
	}
	return out, nil
}

// stepClock advances one second on every reading.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := cur
		cur = cur.Add(time.Second)
		return now
	}
}

func newTestChat(t *testing.T, r *fakeRetriever, llm *fakeChatModel, store *memTurnStore, opts ...ChatOption) *ChatService {
	t.Helper()
	prompt, err := NewPromptBuilder("data={{CURRENT_DATE}}\n<docs>\n{{CONTEXT}}\n</docs>")
	require.NoError(t, err)
	opts = append([]ChatOption{WithClock(stepClock(time.Date(2025, 3, 9, 14, 0, 0, 0, time.UTC)))}, opts...)
	return NewChatService(r, llm, store, prompt, opts...)
}

func TestEmptyContextStillAnswers(t *testing.T) {
	llm := &fakeChatModel{}
	store := &memTurnStore{}
	svc := newTestChat(t, &fakeRetriever{}, llm, store)

	resp, err := svc.Session("s1").GenerateResponse(context.Background(), "posso parcelar IPVA?", false)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Answer)
	require.NotNil(t, resp.MessageID)
	require.Len(t, store.turns, 1)
	require.Contains(t, llm.calls[0][0].Content, noDocumentsMarker)
	require.Contains(t, llm.calls[0][0].Content, "data=09/03/2025")
}

func TestLLMFailureReturnsTechnicalError(t *testing.T) {
	llm := &fakeChatModel{err: errors.New("quota exceeded")}
	store := &memTurnStore{}
	svc := newTestChat(t, &fakeRetriever{}, llm, store)

	resp, err := svc.Session("s1").GenerateResponse(context.Background(), "qual o prazo?", false)
	require.NoError(t, err)
	require.Equal(t, "Erro técnico: quota exceeded", resp.Answer)
	require.Nil(t, resp.MessageID)
	require.Empty(t, store.turns)
}

type stalledProvider struct{}

func (stalledProvider) Name() string { return "stalled" }

func (stalledProvider) Chat(ctx context.Context, req ai.ChatRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (stalledProvider) CountTokens(ctx context.Context, modelName string, messages []ai.Message) (int, error) {
	return 0, errors.New("unsupported")
}

func TestLLMTimeoutReturnsTechnicalError(t *testing.T) {
	llm := ai.NewChatModel(stalledProvider{}, ai.ChatModelConfig{Model: "stalled-llm", Timeout: 20 * time.Millisecond})
	prompt, err := NewPromptBuilder("<docs>\n{{CONTEXT}}\n</docs>")
	require.NoError(t, err)
	store := &memTurnStore{}
	svc := NewChatService(&fakeRetriever{}, llm, store, prompt)

	start := time.Now()
	resp, err := svc.Session("s1").GenerateResponse(context.Background(), "qual o prazo?", false)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
	require.True(t, strings.HasPrefix(resp.Answer, "Erro técnico: "), resp.Answer)
	require.Contains(t, resp.Answer, context.DeadlineExceeded.Error())
	require.Nil(t, resp.MessageID)
	require.Empty(t, store.turns)
}

func TestSecondTurnSeesFirstInOrder(t *testing.T) {
	llm := &fakeChatModel{}
	store := &memTurnStore{}
	svc := newTestChat(t, &fakeRetriever{chunks: []model.Chunk{{Content: "Prazo até 30/06."}}}, llm, store)
	session := svc.Session("s1")

	first, err := session.GenerateResponse(context.Background(), "qual o prazo?", false)
	require.NoError(t, err)
	_, err = session.GenerateResponse(context.Background(), "e para MEI?", false)
	require.NoError(t, err)

	second := llm.calls[1]
	require.Len(t, second, 4)
	require.Equal(t, ai.RoleSystem, second[0].Role)
	require.Equal(t, ai.Message{Role: ai.RoleUser, Content: "qual o prazo?"}, second[1])
	require.Equal(t, ai.Message{Role: ai.RoleAssistant, Content: first.Answer}, second[2])
	require.Equal(t, ai.Message{Role: ai.RoleUser, Content: "e para MEI?"}, second[3])

	other := llm.calls[0]
	require.Len(t, other, 2, "first turn has no history")
}

func TestSessionsDoNotShareHistory(t *testing.T) {
	llm := &fakeChatModel{}
	svc := newTestChat(t, &fakeRetriever{}, llm, &memTurnStore{})

	_, err := svc.Session("a").GenerateResponse(context.Background(), "oi", false)
	require.NoError(t, err)
	_, err = svc.Session("b").GenerateResponse(context.Background(), "olá", false)
	require.NoError(t, err)
	require.Len(t, llm.calls[1], 2)
}

func TestTurnMetricsAndSyntheticFlag(t *testing.T) {
	store := &memTurnStore{}
	svc := newTestChat(t, &fakeRetriever{}, &fakeChatModel{answer: "sim, até três parcelas"}, store)

	_, err := svc.Session("probe").GenerateResponse(context.Background(), "adesão já?", true)
	require.NoError(t, err)
	require.Len(t, store.turns, 1)
	turn := store.turns[0]
	require.True(t, turn.IsSynthetic)
	require.Equal(t, 10, turn.UserChars)
	require.Equal(t, len([]rune("sim, até três parcelas")), turn.BotChars)
	require.Equal(t, 4, turn.BotTokens)
	require.Positive(t, turn.UserTokens)
	require.False(t, turn.RetrievalEndTime.Before(turn.RequestStartTime))
	require.False(t, turn.ResponseEndTime.Before(turn.RetrievalEndTime))
	require.Equal(t, 1.0, turn.RetrievalDurationSec)
	require.Equal(t, 2.0, turn.GenerationDurationSec)
	require.InDelta(t, turn.RetrievalDurationSec+turn.GenerationDurationSec, turn.TotalDurationSec, 1e-9)
}

func TestTokenCountFailureCountsZero(t *testing.T) {
	store := &memTurnStore{}
	svc := newTestChat(t, &fakeRetriever{}, &fakeChatModel{countErr: errors.New("unsupported")}, store)

	resp, err := svc.Session("s").GenerateResponse(context.Background(), "q", false)
	require.NoError(t, err)
	require.NotNil(t, resp.MessageID)
	require.Zero(t, store.turns[0].UserTokens)
	require.Zero(t, store.turns[0].BotTokens)
}

func TestPersistFailureKeepsAnswer(t *testing.T) {
	store := &memTurnStore{createErr: errors.New("db down")}
	svc := newTestChat(t, &fakeRetriever{}, &fakeChatModel{answer: "ok"}, store)

	resp, err := svc.Session("s").GenerateResponse(context.Background(), "q", false)
	require.ErrorIs(t, err, ErrPersistFailed)
	require.NotNil(t, resp)
	require.Equal(t, "ok", resp.Answer)
	require.Nil(t, resp.MessageID)
}

func TestRetrievalErrorAnswersWithoutDocuments(t *testing.T) {
	llm := &fakeChatModel{}
	svc := newTestChat(t, &fakeRetriever{err: errors.New("embed failed")}, llm, &memTurnStore{})

	resp, err := svc.Session("s").GenerateResponse(context.Background(), "q", false)
	require.NoError(t, err)
	require.NotNil(t, resp.MessageID)
	require.Contains(t, llm.calls[0][0].Content, noDocumentsMarker)
}

func TestContextRenderedInRankOrder(t *testing.T) {
	llm := &fakeChatModel{}
	r := &fakeRetriever{chunks: []model.Chunk{{Content: "primeiro"}, {Content: "segundo"}}}
	svc := newTestChat(t, r, llm, &memTurnStore{})

	_, err := svc.Session("s").GenerateResponse(context.Background(), "q", false)
	require.NoError(t, err)
	require.Contains(t, llm.calls[0][0].Content, "<docs>\nprimeiro\n\nsegundo\n</docs>")
}

func TestEveryCallCreatesARow(t *testing.T) {
	store := &memTurnStore{}
	svc := newTestChat(t, &fakeRetriever{}, &fakeChatModel{answer: "mesma"}, store)
	for i := 0; i < 2; i++ {
		_, err := svc.Session("s").GenerateResponse(context.Background(), "mesma pergunta", false)
		require.NoError(t, err)
	}
	require.Len(t, store.turns, 2)
}

func TestBlankQuestionRejected(t *testing.T) {
	r := &fakeRetriever{}
	svc := newTestChat(t, r, &fakeChatModel{}, &memTurnStore{})
	_, err := svc.Session("s").GenerateResponse(context.Background(), "  ", false)
	require.ErrorIs(t, err, appErr.ErrInvalid)
	require.Zero(t, r.calls)
}

func TestHistoryForDisplay(t *testing.T) {
	store := &memTurnStore{}
	svc := newTestChat(t, &fakeRetriever{}, &fakeChatModel{}, store)
	_, err := svc.Session("s").GenerateResponse(context.Background(), "q1", false)
	require.NoError(t, err)

	turns, err := svc.Session("s").HistoryForDisplay(context.Background())
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, "q1", turns[0].UserMessage)
}

func TestSerializedSessionsRunOneAtATime(t *testing.T) {
	store := &memTurnStore{}
	svc := newTestChat(t, &fakeRetriever{}, &fakeChatModel{}, store, WithSessionSerialization())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Session("s").GenerateResponse(context.Background(), "q", false)
		}()
	}
	wg.Wait()
	require.Len(t, store.turns, 8)
	require.Zero(t, svc.locks.size())
}

func TestSessionLocksExclusive(t *testing.T) {
	locks := newSessionLocks()
	unlock := locks.lock("s")
	acquired := make(chan struct{})
	go func() {
		release := locks.lock("s")
		close(acquired)
		release()
	}()
	select {
	case <-acquired:
		t.Fatal("second holder got the lock while the first still held it")
	case <-time.After(50 * time.Millisecond):
	}
	other := locks.lock("t")
	other()
	unlock()
	<-acquired
	require.Eventually(t, func() bool { return locks.size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestDefaultPromptHasPlaceholders(t *testing.T) {
	b, err := LoadPromptBuilder("")
	require.NoError(t, err)
	out := b.Build(time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), []model.Chunk{{Content: "Lei 23.000"}})
	require.Contains(t, out, "01/12/2025")
	require.Contains(t, out, "Lei 23.000")
	require.NotContains(t, out, placeholderContext)

	_, err = NewPromptBuilder("sem contexto")
	require.Error(t, err)
}
