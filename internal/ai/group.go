package ai

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type ScorerEntry struct {
	Name   string
	Scorer IScorer
}

type groupScorer struct {
	items []ScorerEntry
}

// NewGroupScorer tries each scorer in order and returns the first success.
// A whole batch is always scored by a single scorer, relevance values from
// different models are never mixed.
func NewGroupScorer(items []ScorerEntry) IScorer {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 {
		return items[0].Scorer
	}
	return &groupScorer{items: items}
}

func (g *groupScorer) ScoreBatch(ctx context.Context, pairs []Pair) ([]float64, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Scorer == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := item.Scorer.ScoreBatch(ctx, pairs)
		if err == nil {
			return res, nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("scorer failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return nil, fmt.Errorf("scorer not configured")
	}
	return nil, lastErr
}
