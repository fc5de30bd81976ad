package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/quitachat/internal/model"
	"github.com/xxxsen/quitachat/internal/pkg/dbutil"
	appErr "github.com/xxxsen/quitachat/internal/pkg/errors"
)

const indexMetaID = 1

// ChunkRepo is the pgvector-backed store of document chunks.
type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// SearchByVector returns the k chunks nearest to vec by cosine distance,
// closest first. Equal distances are ordered by id so results are repeatable.
func (r *ChunkRepo) SearchByVector(ctx context.Context, vec []float32, k int) ([]model.ScoredChunk[model.DistanceScore], error) {
	if k <= 0 {
		return nil, nil
	}
	const query = `
		SELECT id, content, metadata, embedding <=> $1 AS distance
		FROM document_chunks
		ORDER BY distance ASC, id ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := make([]model.ScoredChunk[model.DistanceScore], 0, k)
	for rows.Next() {
		var (
			chunk    model.Chunk
			meta     []byte
			distance float64
		)
		if err := rows.Scan(&chunk.ID, &chunk.Content, &meta, &distance); err != nil {
			return nil, err
		}
		if chunk.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		results = append(results, model.ScoredChunk[model.DistanceScore]{
			Chunk: chunk,
			Score: model.DistanceScore(distance),
			Rank:  len(results) + 1,
		})
	}
	return results, rows.Err()
}

// Add inserts records, silently skipping content that is already indexed.
// It returns the number of rows actually inserted.
func (r *ChunkRepo) Add(ctx context.Context, records []model.ChunkRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	rows := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return 0, err
		}
		rows = append(rows, map[string]interface{}{
			"id":           rec.ID,
			"content":      rec.Content,
			"content_hash": rec.ContentHash,
			"metadata":     string(meta),
			"embedding":    pgvector.NewVector(rec.Embedding),
			"ctime":        rec.Ctime,
		})
	}
	sqlStr, args, err := builder.BuildInsert("document_chunks", rows)
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr+" ON CONFLICT (content_hash) DO NOTHING", args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// hashLookupBatch keeps each IN list well under the postgres bind parameter limit.
const hashLookupBatch = 1000

// ExistingHashes reports which of hashes are already stored.
func (r *ChunkRepo) ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	found := make(map[string]bool, len(hashes))
	for batch := range slices.Chunk(hashes, hashLookupBatch) {
		if err := r.existingHashBatch(ctx, batch, found); err != nil {
			return nil, err
		}
	}
	return found, nil
}

func (r *ChunkRepo) existingHashBatch(ctx context.Context, hashes []string, found map[string]bool) error {
	in := make([]interface{}, 0, len(hashes))
	for _, h := range hashes {
		in = append(in, h)
	}
	sqlStr, args, err := builder.BuildSelect("document_chunks", map[string]interface{}{"content_hash in": in}, []string{"content_hash"})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return err
		}
		found[h] = true
	}
	return rows.Err()
}

func (r *ChunkRepo) ListAll(ctx context.Context) ([]model.Chunk, error) {
	where := map[string]interface{}{"_orderby": "ctime asc, id asc"}
	sqlStr, args, err := builder.BuildSelect("document_chunks", where, []string{"id", "content", "metadata"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	chunks := make([]model.Chunk, 0)
	for rows.Next() {
		var (
			chunk model.Chunk
			meta  []byte
		)
		if err := rows.Scan(&chunk.ID, &chunk.Content, &meta); err != nil {
			return nil, err
		}
		if chunk.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (r *ChunkRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM document_chunks").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// IndexInfo returns appErr.ErrNotFound when no ingestion has run yet.
func (r *ChunkRepo) IndexInfo(ctx context.Context) (*model.IndexInfo, error) {
	sqlStr, args, err := builder.BuildSelect("vector_index_meta", map[string]interface{}{"id": indexMetaID},
		[]string{"embedding_model", "dimension", "chunk_count", "mtime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var info model.IndexInfo
	err = r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&info.EmbeddingModel, &info.Dimension, &info.ChunkCount, &info.Mtime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &info, nil
}

func (r *ChunkRepo) SaveIndexInfo(ctx context.Context, info *model.IndexInfo) error {
	const query = `
		INSERT INTO vector_index_meta (id, embedding_model, dimension, chunk_count, mtime)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			embedding_model = EXCLUDED.embedding_model,
			dimension = EXCLUDED.dimension,
			chunk_count = EXCLUDED.chunk_count,
			mtime = EXCLUDED.mtime
	`
	_, err := r.db.ExecContext(ctx, query, indexMetaID, info.EmbeddingModel, info.Dimension, info.ChunkCount, info.Mtime)
	return err
}

// Reset drops every chunk and the index metadata in one transaction.
func (r *ChunkRepo) Reset(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{"DELETE FROM document_chunks", "DELETE FROM vector_index_meta"} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("reset index: %w", err)
		}
	}
	return tx.Commit()
}

func decodeMetadata(raw []byte) (map[string]string, error) {
	meta := map[string]string{}
	if len(raw) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode chunk metadata: %w", err)
	}
	return meta, nil
}
