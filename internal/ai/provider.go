package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnavailable = errors.New("ai provider unavailable")

const (
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float32
}

// Pair is one (query, passage) input of a cross-encoder.
type Pair struct {
	Query string
	Text  string
}

type IChatProvider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (string, error)
	CountTokens(ctx context.Context, model string, messages []Message) (int, error)
}

type IEmbedProvider interface {
	Name() string
	Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error)
}

type IScoreProvider interface {
	Name() string
	Score(ctx context.Context, model string, query string, texts []string) ([]float64, error)
}

type IChatModel interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	CountTokens(ctx context.Context, messages []Message) (int, error)
	ModelName() string
}

type IEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	ModelName() string
}

// IScorer scores every pair in one call. Output order matches input order.
type IScorer interface {
	ScoreBatch(ctx context.Context, pairs []Pair) ([]float64, error)
}

type ChatModelConfig struct {
	Model       string
	Temperature float32
	Timeout     time.Duration
}

type chatModel struct {
	provider IChatProvider
	cfg      ChatModelConfig
}

func NewChatModel(p IChatProvider, cfg ChatModelConfig) IChatModel {
	return &chatModel{provider: p, cfg: cfg}
}

func (m *chatModel) Chat(ctx context.Context, messages []Message) (string, error) {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}
	resp, err := m.provider.Chat(ctx, ChatRequest{
		Model:       m.cfg.Model,
		Messages:    messages,
		Temperature: m.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return "", fmt.Errorf("empty ai response")
	}
	return text, nil
}

func (m *chatModel) CountTokens(ctx context.Context, messages []Message) (int, error) {
	return m.provider.CountTokens(ctx, m.cfg.Model, messages)
}

func (m *chatModel) ModelName() string {
	return m.cfg.Model
}

type embedder struct {
	provider IEmbedProvider
	model    string
	timeout  time.Duration
}

func NewEmbedder(p IEmbedProvider, model string, timeout time.Duration) IEmbedder {
	return &embedder{provider: p, model: model, timeout: timeout}
}

func (e *embedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.provider.Embed(ctx, e.model, text, taskType)
}

func (e *embedder) ModelName() string {
	return e.model
}

type scorer struct {
	provider IScoreProvider
	model    string
}

func NewScorer(p IScoreProvider, model string) IScorer {
	return &scorer{provider: p, model: model}
}

// ScoreBatch groups pairs by query, since rerank endpoints take one query and
// many passages, then scatters the scores back to the input positions.
func (s *scorer) ScoreBatch(ctx context.Context, pairs []Pair) ([]float64, error) {
	out := make([]float64, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}
	var order []string
	groups := make(map[string][]int)
	for i, p := range pairs {
		if _, ok := groups[p.Query]; !ok {
			order = append(order, p.Query)
		}
		groups[p.Query] = append(groups[p.Query], i)
	}
	for _, query := range order {
		idx := groups[query]
		texts := make([]string, 0, len(idx))
		for _, i := range idx {
			texts = append(texts, pairs[i].Text)
		}
		scores, err := s.provider.Score(ctx, s.model, query, texts)
		if err != nil {
			return nil, err
		}
		if len(scores) != len(texts) {
			return nil, fmt.Errorf("scorer returned %d scores for %d passages", len(scores), len(texts))
		}
		for j, i := range idx {
			out[i] = scores[j]
		}
	}
	return out, nil
}

type ChatProviderFactory func(args interface{}) (IChatProvider, error)
type EmbedProviderFactory func(args interface{}) (IEmbedProvider, error)
type ScoreProviderFactory func(args interface{}) (IScoreProvider, error)

var (
	chatRegistry  = map[string]ChatProviderFactory{}
	embedRegistry = map[string]EmbedProviderFactory{}
	scoreRegistry = map[string]ScoreProviderFactory{}
)

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func Register(name string, factory ChatProviderFactory) {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return
	}
	chatRegistry[key] = factory
}

func RegisterEmbed(name string, factory EmbedProviderFactory) {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return
	}
	embedRegistry[key] = factory
}

func RegisterScore(name string, factory ScoreProviderFactory) {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return
	}
	scoreRegistry[key] = factory
}

func NewProvider(name string, args interface{}) (IChatProvider, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("llm.provider is required")
	}
	factory := chatRegistry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported llm provider: %s", name)
	}
	return factory(args)
}

func NewEmbedProvider(name string, args interface{}) (IEmbedProvider, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("embedding.provider is required")
	}
	factory := embedRegistry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported embedding provider: %s", name)
	}
	return factory(args)
}

func NewScoreProvider(name string, args interface{}) (IScoreProvider, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("reranker provider is required")
	}
	factory := scoreRegistry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported reranker provider: %s", name)
	}
	return factory(args)
}
