package retrieval

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/quitachat/internal/ai"
	"github.com/xxxsen/quitachat/internal/model"
	appErr "github.com/xxxsen/quitachat/internal/pkg/errors"
)

type storedChunk struct {
	chunk    model.Chunk
	distance float64
}

type fakeStore struct {
	items     []storedChunk
	info      *model.IndexInfo
	infoErr   error
	searchErr error
	lastK     int
}

func (s *fakeStore) SearchByVector(ctx context.Context, vec []float32, k int) ([]model.ScoredChunk[model.DistanceScore], error) {
	s.lastK = k
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	items := slices.Clone(s.items)
	slices.SortStableFunc(items, func(a, b storedChunk) int {
		switch {
		case a.distance < b.distance:
			return -1
		case a.distance > b.distance:
			return 1
		}
		return 0
	})
	if len(items) > k {
		items = items[:k]
	}
	out := make([]model.ScoredChunk[model.DistanceScore], 0, len(items))
	for i, it := range items {
		out = append(out, model.ScoredChunk[model.DistanceScore]{Chunk: it.chunk, Score: model.DistanceScore(it.distance), Rank: i + 1})
	}
	return out, nil
}

func (s *fakeStore) ListAll(ctx context.Context) ([]model.Chunk, error) {
	out := make([]model.Chunk, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.chunk)
	}
	return out, nil
}

func (s *fakeStore) IndexInfo(ctx context.Context) (*model.IndexInfo, error) {
	if s.infoErr != nil {
		return nil, s.infoErr
	}
	return s.info, nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) ModelName() string { return "embed-v1" }

type fakeScorer struct {
	scores map[string]float64
	err    error
	short  bool
	delay  time.Duration
	calls  int
	pairs  []ai.Pair
}

func (f *fakeScorer) ScoreBatch(ctx context.Context, pairs []ai.Pair) ([]float64, error) {
	f.calls++
	f.pairs = pairs
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, f.scores[p.Text])
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func chunk(id string) model.Chunk {
	return model.Chunk{ID: id, Content: "text-" + id, Metadata: map[string]string{}}
}

func fiveChunkStore() *fakeStore {
	return &fakeStore{
		info: &model.IndexInfo{EmbeddingModel: "embed-v1", ChunkCount: 5},
		items: []storedChunk{
			{chunk("a"), 0.10},
			{chunk("b"), 0.20},
			{chunk("c"), 0.30},
			{chunk("d"), 0.40},
			{chunk("e"), 0.50},
		},
	}
}

func newEngine(t *testing.T, store *fakeStore, scorer *fakeScorer, cfg Config) *Engine {
	t.Helper()
	e, err := New(context.Background(), store, &fakeEmbedder{}, scorer, cfg)
	require.NoError(t, err)
	return e
}

func chunkIDs(chunks []model.Chunk) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.ID)
	}
	return out
}

func TestEmptyStoreReturnsEmpty(t *testing.T) {
	store := &fakeStore{info: &model.IndexInfo{EmbeddingModel: "embed-v1"}}
	scorer := &fakeScorer{}
	e := newEngine(t, store, scorer, Config{})

	res, err := e.RetrieveWithScores(context.Background(), "anything")
	require.NoError(t, err)
	require.Empty(t, res)
	require.Zero(t, scorer.calls)
}

func TestRerankKeepsTopThree(t *testing.T) {
	store := fiveChunkStore()
	scorer := &fakeScorer{scores: map[string]float64{
		"text-a": 0.1, "text-b": 5.0, "text-c": -2, "text-d": 3.3, "text-e": 4.0,
	}}
	e := newEngine(t, store, scorer, Config{KRaw: 20, KFinal: 3})

	res, err := e.RetrieveWithScores(context.Background(), "quem pode aderir?")
	require.NoError(t, err)
	require.Len(t, res, 3)
	require.Equal(t, 20, store.lastK)
	require.Equal(t, 1, scorer.calls)
	require.Len(t, scorer.pairs, 5)
	require.Equal(t, "text-a", scorer.pairs[0].Text)
	require.Equal(t, []string{"b", "e", "d"}, []string{res[0].Chunk.ID, res[1].Chunk.ID, res[2].Chunk.ID})
	for i, r := range res {
		require.Equal(t, i+1, r.Rank)
		require.Equal(t, model.ScoreKindRelevance, r.Score.Kind())
	}
	require.GreaterOrEqual(t, float64(res[0].Score), float64(res[1].Score))
	require.GreaterOrEqual(t, float64(res[1].Score), float64(res[2].Score))
}

func TestRerankTiesKeepRecallOrder(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{
		"text-a": 1, "text-b": 2, "text-c": 2, "text-d": 2, "text-e": 0,
	}}
	e := newEngine(t, fiveChunkStore(), scorer, Config{})

	res, err := e.RetrieveWithScores(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "d"}, chunkIDs(model.Chunks(res)))
}

func TestRetrievalIsIdempotent(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"text-a": 1, "text-b": 3, "text-c": 2}}
	e := newEngine(t, fiveChunkStore(), scorer, Config{})

	first, err := e.RetrieveWithScores(context.Background(), "q")
	require.NoError(t, err)
	second, err := e.RetrieveWithScores(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestScorerFailureYieldsEmpty(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("cross-encoder down")}
	e := newEngine(t, fiveChunkStore(), scorer, Config{})

	res, err := e.RetrieveWithScores(context.Background(), "q")
	require.NoError(t, err)
	require.Empty(t, res)

	ctxChunks, err := e.RetrieveContext(context.Background(), "q")
	require.NoError(t, err)
	require.Empty(t, ctxChunks)
}

func TestScorerWrongCountIsFailure(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{}, short: true}
	e := newEngine(t, fiveChunkStore(), scorer, Config{})

	res, err := e.RetrieveWithScores(context.Background(), "q")
	require.NoError(t, err)
	require.Empty(t, res)
}

func TestScorerTimeoutIsFailure(t *testing.T) {
	scorer := &fakeScorer{delay: time.Second}
	e := newEngine(t, fiveChunkStore(), scorer, Config{RerankTimeout: 20 * time.Millisecond})

	res, err := e.RetrieveWithScores(context.Background(), "q")
	require.NoError(t, err)
	require.Empty(t, res)
}

func TestRetrieveRankedReportsScorerFailure(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("cross-encoder down")}
	e := newEngine(t, fiveChunkStore(), scorer, Config{})

	res, err := e.RetrieveRanked(context.Background(), "q")
	require.ErrorIs(t, err, ErrRerankFailed)
	require.ErrorIs(t, err, appErr.ErrUnavailable)
	require.Nil(t, res)

	plain, err := e.RetrieveWithScores(context.Background(), "q")
	require.NoError(t, err)
	require.Empty(t, plain)
}

func TestRetrieveRankedEmptyStoreIsNotFailure(t *testing.T) {
	store := &fakeStore{info: &model.IndexInfo{EmbeddingModel: "embed-v1"}}
	e := newEngine(t, store, &fakeScorer{}, Config{})

	res, err := e.RetrieveRanked(context.Background(), "q")
	require.NoError(t, err)
	require.Empty(t, res)
}

func TestRecallFallbackUsesDistanceOrder(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("down")}
	e := newEngine(t, fiveChunkStore(), scorer, Config{Fallback: FallbackRecall})

	res, err := e.RetrieveContext(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, chunkIDs(res))
}

func TestRetrieveContextUsesRerankedOrder(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"text-e": 9, "text-d": 8, "text-a": 7}}
	e := newEngine(t, fiveChunkStore(), scorer, Config{Fallback: FallbackRecall})

	res, err := e.RetrieveContext(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, []string{"e", "d", "a"}, chunkIDs(res))
}

func TestVectorOnlyAscendingDistance(t *testing.T) {
	store := fiveChunkStore()
	scorer := &fakeScorer{}
	e := newEngine(t, store, scorer, Config{KRaw: 20, KFinal: 3})

	res, err := e.RetrieveVectorOnly(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, 3, store.lastK)
	require.Len(t, res, 3)
	require.Zero(t, scorer.calls)
	for i := 1; i < len(res); i++ {
		require.LessOrEqual(t, float64(res[i-1].Score), float64(res[i].Score))
	}
	require.Equal(t, model.ScoreKindDistance, res[0].Score.Kind())
}

func TestKRawSmallerThanKFinalClamps(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"text-a": 1, "text-b": 2}}
	store := fiveChunkStore()
	e := newEngine(t, store, scorer, Config{KRaw: 2, KFinal: 3})

	res, err := e.RetrieveWithScores(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, "b", res[0].Chunk.ID)
}

func TestDefaultsApplied(t *testing.T) {
	e := newEngine(t, fiveChunkStore(), &fakeScorer{}, Config{KRaw: -1, KFinal: 0})
	require.Equal(t, DefaultKRaw, e.Config().KRaw)
	require.Equal(t, DefaultKFinal, e.Config().KFinal)
	require.Equal(t, FallbackEmpty, e.Config().Fallback)
}

func TestMissingIndex(t *testing.T) {
	store := &fakeStore{infoErr: appErr.ErrNotFound}
	_, err := New(context.Background(), store, &fakeEmbedder{}, &fakeScorer{}, Config{})
	require.ErrorIs(t, err, ErrIndexMissing)
	require.ErrorContains(t, err, "quitachat ingest")
}

func TestEmbeddingModelMismatch(t *testing.T) {
	store := &fakeStore{info: &model.IndexInfo{EmbeddingModel: "other-model"}}
	_, err := New(context.Background(), store, &fakeEmbedder{}, &fakeScorer{}, Config{})
	require.ErrorContains(t, err, "other-model")
}

func TestUnknownFallback(t *testing.T) {
	_, err := New(context.Background(), fiveChunkStore(), &fakeEmbedder{}, &fakeScorer{}, Config{Fallback: "maybe"})
	require.Error(t, err)
}

func TestBlankQueryIsInvalid(t *testing.T) {
	e := newEngine(t, fiveChunkStore(), &fakeScorer{}, Config{})
	_, err := e.RetrieveWithScores(context.Background(), "   ")
	require.ErrorIs(t, err, appErr.ErrInvalid)
	_, err = e.RetrieveVectorOnly(context.Background(), "")
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestStoreFailureIsReturned(t *testing.T) {
	store := fiveChunkStore()
	store.searchErr = errors.New("connection reset")
	e := newEngine(t, store, &fakeScorer{}, Config{})
	_, err := e.RetrieveWithScores(context.Background(), "q")
	require.ErrorContains(t, err, "connection reset")
}

func TestListAllChunks(t *testing.T) {
	e := newEngine(t, fiveChunkStore(), &fakeScorer{}, Config{})
	all, err := e.ListAllChunks(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 5)
}
