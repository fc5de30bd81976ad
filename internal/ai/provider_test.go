package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeScoreProvider struct {
	calls  []string
	scores map[string][]float64
	err    error
}

func (f *fakeScoreProvider) Name() string { return "fake" }

func (f *fakeScoreProvider) Score(ctx context.Context, model string, query string, texts []string) ([]float64, error) {
	f.calls = append(f.calls, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.scores[query], nil
}

func TestScorerKeepsInputOrderAcrossQueries(t *testing.T) {
	p := &fakeScoreProvider{scores: map[string][]float64{
		"q1": {0.9, 0.1},
		"q2": {0.5},
	}}
	s := NewScorer(p, "m")
	out, err := s.ScoreBatch(context.Background(), []Pair{
		{Query: "q1", Text: "a"},
		{Query: "q2", Text: "b"},
		{Query: "q1", Text: "c"},
	})
	require.NoError(t, err)
	require.Equal(t, []float64{0.9, 0.5, 0.1}, out)
	require.Equal(t, []string{"q1", "q2"}, p.calls)
}

func TestScorerRejectsShortScoreList(t *testing.T) {
	p := &fakeScoreProvider{scores: map[string][]float64{"q": {0.1}}}
	_, err := NewScorer(p, "m").ScoreBatch(context.Background(), []Pair{{Query: "q", Text: "a"}, {Query: "q", Text: "b"}})
	require.Error(t, err)
}

func TestScorerEmptyInput(t *testing.T) {
	p := &fakeScoreProvider{}
	out, err := NewScorer(p, "m").ScoreBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Empty(t, p.calls)
}

func TestGroupScorerFallsBack(t *testing.T) {
	bad := NewScorer(&fakeScoreProvider{err: errors.New("down")}, "m")
	good := NewScorer(&fakeScoreProvider{scores: map[string][]float64{"q": {0.3}}}, "m")
	g := NewGroupScorer([]ScorerEntry{{Name: "bad", Scorer: bad}, {Name: "good", Scorer: good}})
	out, err := g.ScoreBatch(context.Background(), []Pair{{Query: "q", Text: "a"}})
	require.NoError(t, err)
	require.Equal(t, []float64{0.3}, out)
}

func TestGroupScorerReturnsLastError(t *testing.T) {
	g := NewGroupScorer([]ScorerEntry{
		{Name: "a", Scorer: NewScorer(&fakeScoreProvider{err: errors.New("a down")}, "m")},
		{Name: "b", Scorer: NewScorer(&fakeScoreProvider{err: errors.New("b down")}, "m")},
	})
	_, err := g.ScoreBatch(context.Background(), []Pair{{Query: "q", Text: "a"}})
	require.EqualError(t, err, "b down")
}

func TestTEIRerankMapsScoresByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)
		var req teiRerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "quem pode aderir?", req.Query)
		require.Len(t, req.Texts, 3)
		_ = json.NewEncoder(w).Encode([]teiRerankItem{{Index: 2, Score: 4.1}, {Index: 0, Score: 1.2}, {Index: 1, Score: -3}})
	}))
	defer srv.Close()

	p, err := NewScoreProvider("tei", map[string]interface{}{"base_url": srv.URL + "/"})
	require.NoError(t, err)
	scores, err := p.Score(context.Background(), "m", "quem pode aderir?", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, []float64{1.2, -3, 4.1}, scores)
}

func TestTEIRerankRejectsMissingScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]teiRerankItem{{Index: 0, Score: 1}})
	}))
	defer srv.Close()

	p, err := NewScoreProvider("tei", map[string]interface{}{"base_url": srv.URL})
	require.NoError(t, err)
	_, err = p.Score(context.Background(), "m", "q", []string{"a", "b"})
	require.Error(t, err)
}

func TestCohereRerank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var req cohereRerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "rerank-model", req.Model)
		require.Equal(t, 2, req.TopN)
		_, _ = w.Write([]byte(`{"results":[{"index":1,"relevance_score":0.8},{"index":0,"relevance_score":0.2}]}`))
	}))
	defer srv.Close()

	p, err := NewScoreProvider("cohere", map[string]interface{}{"base_url": srv.URL, "api_key": "k"})
	require.NoError(t, err)
	scores, err := p.Score(context.Background(), "rerank-model", "q", []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, []float64{0.2, 0.8}, scores)
}

func TestRerankHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewScoreProvider("tei", map[string]interface{}{"base_url": srv.URL})
	require.NoError(t, err)
	_, err = p.Score(context.Background(), "m", "q", []string{"a"})
	require.ErrorContains(t, err, "503")
}

func TestRerankRequiresBaseURL(t *testing.T) {
	_, err := NewScoreProvider("tei", map[string]interface{}{})
	require.Error(t, err)
}

func TestOpenAIChatSendsMessagesAndTemperature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "gpt-test", req.Model)
		require.Equal(t, float32(0), req.Temperature)
		require.Len(t, req.Messages, 3)
		require.Equal(t, "system", req.Messages[0].Role)
		require.Equal(t, "assistant", req.Messages[1].Role)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  resposta  "}}]}`))
	}))
	defer srv.Close()

	p, err := NewProvider("openai", map[string]interface{}{"api_key": "k", "base_url": srv.URL})
	require.NoError(t, err)
	m := NewChatModel(p, ChatModelConfig{Model: "gpt-test"})
	out, err := m.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleAssistant, Content: "prev"},
		{Role: RoleUser, Content: "q"},
	})
	require.NoError(t, err)
	require.Equal(t, "resposta", out)

	_, err = m.CountTokens(context.Background(), nil)
	require.Error(t, err)
}

func TestOpenAIWithoutKeyIsUnavailable(t *testing.T) {
	p, err := NewEmbedProvider("openai", map[string]interface{}{})
	require.NoError(t, err)
	_, err = p.Embed(context.Background(), "m", "x", TaskRetrievalQuery)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestChatModelRejectsEmptyAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"   "}}]}`))
	}))
	defer srv.Close()

	p, err := NewProvider("openrouter", map[string]interface{}{"api_key": "k", "base_url": srv.URL})
	require.NoError(t, err)
	_, err = NewChatModel(p, ChatModelConfig{Model: "m"}).Chat(context.Background(), []Message{{Role: RoleUser, Content: "q"}})
	require.Error(t, err)
}

func TestUnknownProviders(t *testing.T) {
	_, err := NewProvider("nope", nil)
	require.Error(t, err)
	_, err = NewEmbedProvider("", nil)
	require.Error(t, err)
	_, err = NewScoreProvider("nope", nil)
	require.Error(t, err)
}

func TestGeminiContentsSplitSystemPrompt(t *testing.T) {
	system, contents := toGeminiContents([]Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleUser, Content: "oi"},
		{Role: RoleAssistant, Content: "olá"},
		{Role: RoleUser, Content: "prazo?"},
	})
	require.Equal(t, "persona", system)
	require.Len(t, contents, 3)
	require.Equal(t, "user", contents[0].Role)
	require.Equal(t, "model", contents[1].Role)
	require.Equal(t, "prazo?", contents[2].Parts[0].Text)
}
