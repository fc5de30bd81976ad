package model

import (
	"strconv"
	"strings"
)

const (
	MetaSource = "source"
	MetaPage   = "page"
)

// Chunk is one retrievable passage of an ingested program document.
type Chunk struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

func (c Chunk) Source() string {
	if v := strings.TrimSpace(c.Metadata[MetaSource]); v != "" {
		return v
	}
	return "N/A"
}

func (c Chunk) Page() (int, bool) {
	raw := strings.TrimSpace(c.Metadata[MetaPage])
	if raw == "" {
		return 0, false
	}
	page, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return page, true
}

// ChunkRecord is a chunk as stored in the vector index.
type ChunkRecord struct {
	Chunk
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"-"`
	Ctime       int64     `json:"ctime"`
}

// IndexInfo describes the vector index produced by the last ingestion run.
type IndexInfo struct {
	EmbeddingModel string `json:"embedding_model"`
	Dimension      int    `json:"dimension"`
	ChunkCount     int    `json:"chunk_count"`
	Mtime          int64  `json:"mtime"`
}
