package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/quitachat/internal/middleware"
)

type RouterDeps struct {
	Chat          *ChatHandler
	Feedback      *FeedbackHandler
	Retrieval     *RetrievalHandler
	Validation    *ValidationHandler
	ChatRateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/chat/sessions", deps.Chat.CreateSession)
	api.POST("/chat/sessions/:session_id/messages", middleware.RateLimit(deps.ChatRateLimit), deps.Chat.SendMessage)
	api.GET("/chat/sessions/:session_id/messages", deps.Chat.History)
	api.POST("/chat/messages/:id/feedback", deps.Feedback.Save)

	api.GET("/retrieval/search", deps.Retrieval.Search)
	api.GET("/retrieval/chunks", deps.Retrieval.ListChunks)

	api.POST("/validation/runs", deps.Validation.CreateRun)
	api.GET("/validation/summary", deps.Validation.Summary)
}
