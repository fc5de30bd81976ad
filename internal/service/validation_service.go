package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/quitachat/internal/model"
	appErr "github.com/xxxsen/quitachat/internal/pkg/errors"
)

type ScoredRetriever interface {
	RetrieveRanked(ctx context.Context, query string) ([]model.ScoredChunk[model.RelevanceScore], error)
	RetrieveVectorOnly(ctx context.Context, query string) ([]model.ScoredChunk[model.DistanceScore], error)
}

type ValidationStore interface {
	Create(ctx context.Context, run *model.ValidationRun, chunks []model.ValidationChunk) (int64, error)
	Summary(ctx context.Context) ([]model.ValidationSummary, error)
}

// EvaluationInput is a human judgement of one retrieval: RelevantRanks lists
// the 1-based ranks the reviewer marked as correct.
type EvaluationInput struct {
	Query         string `json:"query"`
	SearchType    string `json:"search_type"`
	RelevantRanks []int  `json:"relevant_ranks"`
}

type EvaluationResult struct {
	Run    model.ValidationRun     `json:"run"`
	Chunks []model.ValidationChunk `json:"chunks"`
}

type ValidationService struct {
	retriever ScoredRetriever
	store     ValidationStore
	now       func() time.Time
}

func NewValidationService(retriever ScoredRetriever, store ValidationStore) *ValidationService {
	return &ValidationService{retriever: retriever, store: store, now: time.Now}
}

// Evaluate re-runs the retrieval being judged, scores it against the
// reviewer's marks and stores the run with every returned chunk.
func (s *ValidationService) Evaluate(ctx context.Context, in EvaluationInput) (*EvaluationResult, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("empty query: %w", appErr.ErrInvalid)
	}
	chunks, err := s.judgedChunks(ctx, in.Query, in.SearchType)
	if err != nil {
		return nil, err
	}
	relevant := make(map[int]bool, len(in.RelevantRanks))
	for _, r := range in.RelevantRanks {
		if r < 1 || r > len(chunks) {
			return nil, fmt.Errorf("rank %d outside returned results (1..%d): %w", r, len(chunks), appErr.ErrInvalid)
		}
		relevant[r] = true
	}
	for i := range chunks {
		chunks[i].IsCorrect = relevant[chunks[i].Rank]
	}
	run := model.ValidationRun{
		Timestamp:  s.now(),
		Query:      in.Query,
		SearchType: in.SearchType,
	}
	run.HitRate, run.MRR, run.PrecisionAtK = evaluationMetrics(chunks)
	id, err := s.store.Create(ctx, &run, chunks)
	if err != nil {
		return nil, fmt.Errorf("save validation run: %w", err)
	}
	run.ID = id
	for i := range chunks {
		chunks[i].RunID = id
	}
	logutil.GetLogger(ctx).Info("validation run saved",
		zap.Int64("run_id", id),
		zap.String("search_type", in.SearchType),
		zap.Int("hit_rate", run.HitRate),
		zap.Float64("mrr", run.MRR),
		zap.Float64("precision_at_k", run.PrecisionAtK),
	)
	return &EvaluationResult{Run: run, Chunks: chunks}, nil
}

func (s *ValidationService) Summary(ctx context.Context) ([]model.ValidationSummary, error) {
	return s.store.Summary(ctx)
}

func (s *ValidationService) judgedChunks(ctx context.Context, query, searchType string) ([]model.ValidationChunk, error) {
	switch searchType {
	case model.SearchTypeReranked:
		res, err := s.retriever.RetrieveRanked(ctx, query)
		if err != nil {
			return nil, err
		}
		return toValidationChunks(res), nil
	case model.SearchTypeVectorOnly:
		res, err := s.retriever.RetrieveVectorOnly(ctx, query)
		if err != nil {
			return nil, err
		}
		return toValidationChunks(res), nil
	default:
		return nil, fmt.Errorf("unknown search type %q: %w", searchType, appErr.ErrInvalid)
	}
}

func toValidationChunks[S model.Score[S]](items []model.ScoredChunk[S]) []model.ValidationChunk {
	out := make([]model.ValidationChunk, 0, len(items))
	for _, item := range items {
		vc := model.ValidationChunk{
			Rank:         item.Rank,
			ChunkContent: item.Chunk.Content,
			Source:       item.Chunk.Source(),
			Score:        float64(item.Score),
			ScoreKind:    item.Score.Kind(),
		}
		if page, ok := item.Chunk.Page(); ok {
			vc.Page = &page
		}
		out = append(out, vc)
	}
	return out
}

// evaluationMetrics returns hit rate (1 when any chunk is correct), MRR
// (reciprocal of the best correct rank) and precision over the returned list.
func evaluationMetrics(chunks []model.ValidationChunk) (int, float64, float64) {
	sorted := slices.Clone(chunks)
	slices.SortFunc(sorted, func(a, b model.ValidationChunk) int { return a.Rank - b.Rank })
	correct := 0
	mrr := 0.0
	for _, c := range sorted {
		if !c.IsCorrect {
			continue
		}
		if correct == 0 {
			mrr = 1.0 / float64(c.Rank)
		}
		correct++
	}
	hit := 0
	if correct > 0 {
		hit = 1
	}
	precision := 0.0
	if len(chunks) > 0 {
		precision = float64(correct) / float64(len(chunks))
	}
	return hit, mrr, precision
}
