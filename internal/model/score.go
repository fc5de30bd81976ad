package model

import "slices"

type ScoreKind string

const (
	ScoreKindDistance  ScoreKind = "distance"
	ScoreKindRelevance ScoreKind = "relevance"
)

// DistanceScore comes from the vector index. Lower is closer.
type DistanceScore float64

func (s DistanceScore) Better(other DistanceScore) bool { return s < other }

func (s DistanceScore) Kind() ScoreKind { return ScoreKindDistance }

// RelevanceScore comes from the cross-encoder. Higher is more relevant and
// values are only comparable within one scoring call.
type RelevanceScore float64

func (s RelevanceScore) Better(other RelevanceScore) bool { return s > other }

func (s RelevanceScore) Kind() ScoreKind { return ScoreKindRelevance }

// Score is implemented by the two score kinds. The sort direction lives in Better.
type Score[S any] interface {
	~float64
	Better(other S) bool
	Kind() ScoreKind
}

type ScoredChunk[S Score[S]] struct {
	Chunk Chunk `json:"chunk"`
	Score S     `json:"score"`
	Rank  int   `json:"rank"`
}

// RankScored stable-sorts items best-first by their own score direction,
// truncates to limit (limit <= 0 keeps everything) and assigns ranks from 1.
func RankScored[S Score[S]](items []ScoredChunk[S], limit int) []ScoredChunk[S] {
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b ScoredChunk[S]) int {
		switch {
		case a.Score.Better(b.Score):
			return -1
		case b.Score.Better(a.Score):
			return 1
		}
		return 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func Chunks[S Score[S]](items []ScoredChunk[S]) []Chunk {
	out := make([]Chunk, 0, len(items))
	for _, item := range items {
		out = append(out, item.Chunk)
	}
	return out
}
