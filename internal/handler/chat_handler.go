package handler

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/quitachat/internal/pkg/errcode"
	"github.com/xxxsen/quitachat/internal/pkg/response"
	"github.com/xxxsen/quitachat/internal/service"
)

type ChatHandler struct {
	chat *service.ChatService
}

func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type chatMessageRequest struct {
	Question    string `json:"question"`
	IsSynthetic bool   `json:"is_synthetic"`
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	response.Success(c, gin.H{"session_id": service.NewSessionID()})
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req chatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		response.Error(c, errcode.ErrInvalid, "question required")
		return
	}
	resp, err := h.chat.Session(c.Param("session_id")).GenerateResponse(c.Request.Context(), req.Question, req.IsSynthetic)
	if err != nil {
		if errors.Is(err, service.ErrPersistFailed) && resp != nil {
			response.Partial(c, errcode.ErrPersistFailed, "answer generated but not saved", gin.H{
				"answer":     resp.Answer,
				"message_id": nil,
				"saved":      false,
			})
			return
		}
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"answer":     resp.Answer,
		"message_id": resp.MessageID,
		"saved":      resp.MessageID != nil,
	})
}

func (h *ChatHandler) History(c *gin.Context) {
	sessionID := c.Param("session_id")
	turns, err := h.chat.Session(sessionID).HistoryForDisplay(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"session_id": sessionID, "messages": turns})
}
