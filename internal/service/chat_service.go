package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/quitachat/internal/ai"
	"github.com/xxxsen/quitachat/internal/model"
	appErr "github.com/xxxsen/quitachat/internal/pkg/errors"
)

const technicalErrorPrefix = "Erro técnico: "

// ErrPersistFailed is returned together with a valid answer when the turn
// could not be stored.
var ErrPersistFailed = errors.New("persist chat turn failed")

type ContextRetriever interface {
	RetrieveContext(ctx context.Context, query string) ([]model.Chunk, error)
}

type TurnStore interface {
	Create(ctx context.Context, turn *model.ChatTurn) (int64, error)
	ListBySession(ctx context.Context, sessionID string) ([]model.ChatTurn, error)
	ListForDisplay(ctx context.Context, sessionID string) ([]model.DisplayTurn, error)
}

type ChatResponse struct {
	Answer    string `json:"answer"`
	MessageID *int64 `json:"message_id"`
}

type ChatOption func(*ChatService)

func WithClock(now func() time.Time) ChatOption {
	return func(s *ChatService) {
		s.now = now
	}
}

// WithSessionSerialization makes turns of the same session run one at a time.
func WithSessionSerialization() ChatOption {
	return func(s *ChatService) {
		s.locks = newSessionLocks()
	}
}

// ChatService holds the collaborators shared by every session.
type ChatService struct {
	retriever ContextRetriever
	chat      ai.IChatModel
	turns     TurnStore
	prompt    *PromptBuilder
	now       func() time.Time
	locks     *sessionLocks
}

func NewChatService(retriever ContextRetriever, chat ai.IChatModel, turns TurnStore, prompt *PromptBuilder, opts ...ChatOption) *ChatService {
	s := &ChatService{
		retriever: retriever,
		chat:      chat,
		turns:     turns,
		prompt:    prompt,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func NewSessionID() string {
	return uuid.NewString()
}

// Session binds the service to one conversation.
func (s *ChatService) Session(id string) *ChatSession {
	return &ChatSession{svc: s, id: id}
}

type ChatSession struct {
	svc *ChatService
	id  string
}

func (cs *ChatSession) ID() string {
	return cs.id
}

type turnRequest struct {
	sessionID   string
	question    string
	isSynthetic bool
	start       time.Time
}

type historyState struct {
	turnRequest
	history []ai.Message
}

type retrievalState struct {
	historyState
	context      []model.Chunk
	retrievalEnd time.Time
}

type turnResult struct {
	answer    string
	messageID *int64
}

// GenerateResponse answers question grounded on retrieved documents and the
// session history. An LLM failure is reported inside the answer with a nil
// MessageID and a nil error. A storage failure returns the answer together
// with an error wrapping ErrPersistFailed.
func (cs *ChatSession) GenerateResponse(ctx context.Context, question string, isSynthetic bool) (*ChatResponse, error) {
	if strings.TrimSpace(cs.id) == "" {
		return nil, fmt.Errorf("empty session id: %w", appErr.ErrInvalid)
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("empty question: %w", appErr.ErrInvalid)
	}
	if cs.svc.locks != nil {
		unlock := cs.svc.locks.lock(cs.id)
		defer unlock()
	}
	req := turnRequest{
		sessionID:   cs.id,
		question:    question,
		isSynthetic: isSynthetic,
		start:       cs.svc.now(),
	}
	hs, err := cs.svc.loadHistory(ctx, req)
	if err != nil {
		return nil, err
	}
	rs := cs.svc.retrieve(ctx, hs)
	res, err := cs.svc.generate(ctx, rs)
	return &ChatResponse{Answer: res.answer, MessageID: res.messageID}, err
}

func (cs *ChatSession) HistoryForDisplay(ctx context.Context) ([]model.DisplayTurn, error) {
	return cs.svc.turns.ListForDisplay(ctx, cs.id)
}

func (s *ChatService) loadHistory(ctx context.Context, req turnRequest) (historyState, error) {
	turns, err := s.turns.ListBySession(ctx, req.sessionID)
	if err != nil {
		return historyState{}, fmt.Errorf("load history: %w", err)
	}
	history := make([]ai.Message, 0, 2*len(turns))
	for _, t := range turns {
		history = append(history,
			ai.Message{Role: ai.RoleUser, Content: t.UserMessage},
			ai.Message{Role: ai.RoleAssistant, Content: t.BotResponse},
		)
	}
	return historyState{turnRequest: req, history: history}, nil
}

func (s *ChatService) retrieve(ctx context.Context, hs historyState) retrievalState {
	chunks, err := s.retriever.RetrieveContext(ctx, hs.question)
	if err != nil {
		logutil.GetLogger(ctx).Error("retrieve context failed, answering without documents",
			zap.String("session_id", hs.sessionID), zap.Error(err))
		chunks = nil
	}
	return retrievalState{historyState: hs, context: chunks, retrievalEnd: s.now()}
}

func (s *ChatService) generate(ctx context.Context, rs retrievalState) (turnResult, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", rs.sessionID))
	messages := make([]ai.Message, 0, len(rs.history)+2)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: s.prompt.Build(s.now(), rs.context)})
	messages = append(messages, rs.history...)
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: rs.question})

	userTokens := s.countTokens(ctx, messages)
	answer, err := s.chat.Chat(ctx, messages)
	if err != nil {
		logger.Error("llm call failed", zap.Error(err))
		return turnResult{answer: technicalErrorPrefix + err.Error()}, nil
	}
	responseEnd := s.now()
	botTokens := s.countTokens(ctx, []ai.Message{{Role: ai.RoleAssistant, Content: answer}})

	turn := &model.ChatTurn{
		SessionID:             rs.sessionID,
		UserMessage:           rs.question,
		BotResponse:           answer,
		IsSynthetic:           rs.isSynthetic,
		UserChars:             utf8.RuneCountInString(rs.question),
		BotChars:              utf8.RuneCountInString(answer),
		UserTokens:            userTokens,
		BotTokens:             botTokens,
		RequestStartTime:      rs.start,
		RetrievalEndTime:      rs.retrievalEnd,
		ResponseEndTime:       responseEnd,
		RetrievalDurationSec:  rs.retrievalEnd.Sub(rs.start).Seconds(),
		GenerationDurationSec: responseEnd.Sub(rs.retrievalEnd).Seconds(),
		TotalDurationSec:      responseEnd.Sub(rs.start).Seconds(),
	}
	id, err := s.turns.Create(ctx, turn)
	if err != nil {
		logger.Error("save chat turn failed", zap.Error(err))
		return turnResult{answer: answer}, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	logger.Info("chat turn done",
		zap.Int64("message_id", id),
		zap.Int("context_chunks", len(rs.context)),
		zap.Bool("synthetic", rs.isSynthetic),
		zap.Float64("retrieval_sec", turn.RetrievalDurationSec),
		zap.Float64("generation_sec", turn.GenerationDurationSec),
	)
	return turnResult{answer: answer, messageID: &id}, nil
}

// countTokens is best effort, a failure counts as zero.
func (s *ChatService) countTokens(ctx context.Context, messages []ai.Message) int {
	n, err := s.chat.CountTokens(ctx, messages)
	if err != nil {
		logutil.GetLogger(ctx).Debug("count tokens failed", zap.Error(err))
		return 0
	}
	return n
}
