package model

import "time"

const (
	SearchTypeReranked   = "reranked"
	SearchTypeVectorOnly = "vector_only"
)

// ValidationRun records one human judgement of a retrieval result list.
type ValidationRun struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Query        string    `json:"query"`
	SearchType   string    `json:"search_type"`
	HitRate      int       `json:"hit_rate"`
	MRR          float64   `json:"mrr"`
	PrecisionAtK float64   `json:"precision_at_k"`
}

type ValidationChunk struct {
	ID           int64     `json:"id"`
	RunID        int64     `json:"run_id"`
	Rank         int       `json:"rank"`
	ChunkContent string    `json:"chunk_content"`
	Source       string    `json:"source"`
	Page         *int      `json:"page"`
	Score        float64   `json:"score"`
	ScoreKind    ScoreKind `json:"score_kind"`
	IsCorrect    bool      `json:"is_correct"`
}

type ValidationSummary struct {
	SearchType      string  `json:"search_type"`
	Runs            int     `json:"runs"`
	AvgHitRate      float64 `json:"avg_hit_rate"`
	AvgMRR          float64 `json:"avg_mrr"`
	AvgPrecisionAtK float64 `json:"avg_precision_at_k"`
}
