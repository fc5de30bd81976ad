package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/quitachat/internal/ai"
	"github.com/xxxsen/quitachat/internal/model"
	appErr "github.com/xxxsen/quitachat/internal/pkg/errors"
)

const (
	DefaultKRaw   = 20
	DefaultKFinal = 3

	FallbackEmpty  = "empty"
	FallbackRecall = "recall"
)

var (
	ErrIndexMissing = errors.New("vector index not found, run `quitachat ingest` first")
	ErrRerankFailed = fmt.Errorf("rerank failed: %w", appErr.ErrUnavailable)
)

type VectorStore interface {
	SearchByVector(ctx context.Context, vec []float32, k int) ([]model.ScoredChunk[model.DistanceScore], error)
	ListAll(ctx context.Context) ([]model.Chunk, error)
	IndexInfo(ctx context.Context) (*model.IndexInfo, error)
}

type Config struct {
	KRaw          int
	KFinal        int
	RerankTimeout time.Duration
	// Fallback decides what RetrieveContext returns when re-ranking fails.
	Fallback string
}

// Engine does two-stage retrieval: vector recall of KRaw candidates, then a
// single cross-encoder pass that keeps the KFinal most relevant.
type Engine struct {
	store    VectorStore
	embedder ai.IEmbedder
	scorer   ai.IScorer
	cfg      Config
}

func New(ctx context.Context, store VectorStore, embedder ai.IEmbedder, scorer ai.IScorer, cfg Config) (*Engine, error) {
	if store == nil || embedder == nil || scorer == nil {
		return nil, fmt.Errorf("retrieval engine requires store, embedder and scorer")
	}
	logger := logutil.GetLogger(ctx)
	if cfg.KRaw <= 0 {
		cfg.KRaw = DefaultKRaw
	}
	if cfg.KFinal <= 0 {
		cfg.KFinal = DefaultKFinal
	}
	if cfg.KRaw < cfg.KFinal {
		logger.Warn("k_raw is smaller than k_final, results will be truncated to k_raw",
			zap.Int("k_raw", cfg.KRaw), zap.Int("k_final", cfg.KFinal))
	}
	if cfg.Fallback == "" {
		cfg.Fallback = FallbackEmpty
	}
	if cfg.Fallback != FallbackEmpty && cfg.Fallback != FallbackRecall {
		return nil, fmt.Errorf("unknown rerank fallback %q", cfg.Fallback)
	}
	info, err := store.IndexInfo(ctx)
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrIndexMissing, err)
		}
		return nil, fmt.Errorf("read index info: %w", err)
	}
	if info.EmbeddingModel != embedder.ModelName() {
		return nil, fmt.Errorf("index was built with embedding model %q but %q is configured, re-run ingest with --reset",
			info.EmbeddingModel, embedder.ModelName())
	}
	logger.Info("retrieval engine ready",
		zap.Int("chunks", info.ChunkCount),
		zap.Int("k_raw", cfg.KRaw),
		zap.Int("k_final", cfg.KFinal),
		zap.String("rerank_fallback", cfg.Fallback),
	)
	return &Engine{store: store, embedder: embedder, scorer: scorer, cfg: cfg}, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// RetrieveWithScores returns up to KFinal chunks ordered by cross-encoder
// relevance, best first. A re-ranking failure yields an empty result and no
// error. Embedding and store failures are returned.
func (e *Engine) RetrieveWithScores(ctx context.Context, query string) ([]model.ScoredChunk[model.RelevanceScore], error) {
	ranked, _, err := e.retrieve(ctx, query)
	if err != nil && !errors.Is(err, ErrRerankFailed) {
		return nil, err
	}
	return ranked, nil
}

// RetrieveRanked behaves like RetrieveWithScores but reports a re-ranking
// failure as ErrRerankFailed instead of an empty result.
func (e *Engine) RetrieveRanked(ctx context.Context, query string) ([]model.ScoredChunk[model.RelevanceScore], error) {
	ranked, _, err := e.retrieve(ctx, query)
	if err != nil {
		return nil, err
	}
	return ranked, nil
}

// RetrieveVectorOnly skips re-ranking and returns the KFinal nearest chunks,
// smallest distance first.
func (e *Engine) RetrieveVectorOnly(ctx context.Context, query string) ([]model.ScoredChunk[model.DistanceScore], error) {
	candidates, err := e.recall(ctx, query, e.cfg.KFinal)
	if err != nil {
		return nil, err
	}
	return model.RankScored(candidates, e.cfg.KFinal), nil
}

// RetrieveContext returns the chunks to ground an answer on. When re-ranking
// fails the configured fallback applies.
func (e *Engine) RetrieveContext(ctx context.Context, query string) ([]model.Chunk, error) {
	ranked, candidates, err := e.retrieve(ctx, query)
	if err != nil && !errors.Is(err, ErrRerankFailed) {
		return nil, err
	}
	if ranked == nil && len(candidates) > 0 && e.cfg.Fallback == FallbackRecall {
		logutil.GetLogger(ctx).Info("using recall order as context", zap.Int("count", min(e.cfg.KFinal, len(candidates))))
		return model.Chunks(model.RankScored(candidates, e.cfg.KFinal)), nil
	}
	return model.Chunks(ranked), nil
}

func (e *Engine) ListAllChunks(ctx context.Context) ([]model.Chunk, error) {
	return e.store.ListAll(ctx)
}

// retrieve returns a nil ranked slice and ErrRerankFailed when re-ranking
// failed, and an empty non-nil one when it succeeded over zero candidates.
func (e *Engine) retrieve(ctx context.Context, query string) ([]model.ScoredChunk[model.RelevanceScore], []model.ScoredChunk[model.DistanceScore], error) {
	candidates, err := e.recall(ctx, query, e.cfg.KRaw)
	if err != nil {
		return nil, nil, err
	}
	if len(candidates) == 0 {
		return []model.ScoredChunk[model.RelevanceScore]{}, candidates, nil
	}
	ranked, err := e.rerank(ctx, query, candidates)
	if err != nil {
		logutil.GetLogger(ctx).Error("rerank failed", zap.Int("candidates", len(candidates)), zap.Error(err))
		return nil, candidates, fmt.Errorf("%w: %w", ErrRerankFailed, err)
	}
	return ranked, candidates, nil
}

func (e *Engine) recall(ctx context.Context, query string, k int) ([]model.ScoredChunk[model.DistanceScore], error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query: %w", appErr.ErrInvalid)
	}
	vec, err := e.embedder.Embed(ctx, query, ai.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	candidates, err := e.store.SearchByVector(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	logutil.GetLogger(ctx).Debug("vector recall done", zap.Int("k", k), zap.Int("found", len(candidates)))
	return candidates, nil
}

func (e *Engine) rerank(ctx context.Context, query string, candidates []model.ScoredChunk[model.DistanceScore]) ([]model.ScoredChunk[model.RelevanceScore], error) {
	if e.cfg.RerankTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RerankTimeout)
		defer cancel()
	}
	pairs := make([]ai.Pair, 0, len(candidates))
	for _, c := range candidates {
		pairs = append(pairs, ai.Pair{Query: query, Text: c.Chunk.Content})
	}
	scores, err := e.scorer.ScoreBatch(ctx, pairs)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("scorer returned %d scores for %d candidates", len(scores), len(candidates))
	}
	scored := make([]model.ScoredChunk[model.RelevanceScore], 0, len(candidates))
	for i, c := range candidates {
		scored = append(scored, model.ScoredChunk[model.RelevanceScore]{
			Chunk: c.Chunk,
			Score: model.RelevanceScore(scores[i]),
		})
	}
	return model.RankScored(scored, e.cfg.KFinal), nil
}
