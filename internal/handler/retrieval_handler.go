package handler

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/quitachat/internal/model"
	"github.com/xxxsen/quitachat/internal/pkg/errcode"
	"github.com/xxxsen/quitachat/internal/pkg/response"
)

// SearchEngine is the read side of the retrieval engine exposed over HTTP.
type SearchEngine interface {
	RetrieveWithScores(ctx context.Context, query string) ([]model.ScoredChunk[model.RelevanceScore], error)
	RetrieveVectorOnly(ctx context.Context, query string) ([]model.ScoredChunk[model.DistanceScore], error)
	ListAllChunks(ctx context.Context) ([]model.Chunk, error)
}

type RetrievalHandler struct {
	engine SearchEngine
}

func NewRetrievalHandler(engine SearchEngine) *RetrievalHandler {
	return &RetrievalHandler{engine: engine}
}

func (h *RetrievalHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		response.Error(c, errcode.ErrInvalid, "q required")
		return
	}
	ctx := c.Request.Context()
	switch mode := c.DefaultQuery("mode", model.SearchTypeReranked); mode {
	case model.SearchTypeReranked:
		items, err := h.engine.RetrieveWithScores(ctx, query)
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, gin.H{"mode": mode, "score_kind": model.ScoreKindRelevance, "items": nonNil(items)})
	case model.SearchTypeVectorOnly:
		items, err := h.engine.RetrieveVectorOnly(ctx, query)
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, gin.H{"mode": mode, "score_kind": model.ScoreKindDistance, "items": nonNil(items)})
	default:
		response.Error(c, errcode.ErrInvalid, "mode must be reranked or vector_only")
	}
}

func (h *RetrievalHandler) ListChunks(c *gin.Context) {
	chunks, err := h.engine.ListAllChunks(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	total := len(chunks)
	if value := c.Query("limit"); value != "" {
		if limit, err := strconv.Atoi(value); err == nil && limit > 0 && limit < len(chunks) {
			chunks = chunks[:limit]
		}
	}
	response.Success(c, gin.H{"total": total, "chunks": nonNil(chunks)})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
