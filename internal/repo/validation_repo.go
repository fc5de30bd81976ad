package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/quitachat/internal/model"
	"github.com/xxxsen/quitachat/internal/pkg/dbutil"
)

type ValidationRepo struct {
	db *sql.DB
}

func NewValidationRepo(db *sql.DB) *ValidationRepo {
	return &ValidationRepo{db: db}
}

// Create stores a run and its judged chunks atomically and returns the run id.
func (r *ValidationRepo) Create(ctx context.Context, run *model.ValidationRun, chunks []model.ValidationChunk) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	sqlStr, args, err := builder.BuildInsert("validation_runs", []map[string]interface{}{{
		"timestamp":      run.Timestamp,
		"query":          run.Query,
		"search_type":    run.SearchType,
		"hit_rate":       run.HitRate,
		"mrr":            run.MRR,
		"precision_at_k": run.PrecisionAtK,
	}})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr+" RETURNING id", args)
	var runID int64
	if err := tx.QueryRowContext(ctx, sqlStr, args...).Scan(&runID); err != nil {
		return 0, fmt.Errorf("insert validation run: %w", err)
	}

	if len(chunks) > 0 {
		rows := make([]map[string]interface{}, 0, len(chunks))
		for _, c := range chunks {
			rows = append(rows, map[string]interface{}{
				"run_id":     runID,
				"rank":       c.Rank,
				"content":    c.ChunkContent,
				"source":     c.Source,
				"page":       c.Page,
				"score":      c.Score,
				"score_kind": string(c.ScoreKind),
				"is_correct": c.IsCorrect,
			})
		}
		sqlStr, args, err = builder.BuildInsert("validation_retrieved_chunks", rows)
		if err != nil {
			return 0, err
		}
		sqlStr, args = dbutil.Finalize(sqlStr, args)
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return 0, fmt.Errorf("insert validation chunks: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return runID, nil
}

func (r *ValidationRepo) Summary(ctx context.Context) ([]model.ValidationSummary, error) {
	const query = `
		SELECT search_type, COUNT(*), AVG(hit_rate), AVG(mrr), AVG(precision_at_k)
		FROM validation_runs
		GROUP BY search_type
		ORDER BY search_type ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.ValidationSummary, 0)
	for rows.Next() {
		var s model.ValidationSummary
		if err := rows.Scan(&s.SearchType, &s.Runs, &s.AvgHitRate, &s.AvgMRR, &s.AvgPrecisionAtK); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
