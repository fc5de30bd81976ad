package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/quitachat/internal/pkg/errcode"
	"github.com/xxxsen/quitachat/internal/pkg/response"
	"github.com/xxxsen/quitachat/internal/service"
)

type FeedbackHandler struct {
	feedback *service.FeedbackService
}

func NewFeedbackHandler(feedback *service.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback}
}

type feedbackRequest struct {
	Rating  string `json:"rating"`
	Comment string `json:"comment"`
}

func (h *FeedbackHandler) Save(c *gin.Context) {
	messageID, ok := int64Param(c, "id")
	if !ok {
		response.Error(c, errcode.ErrInvalid, "invalid message id")
		return
	}
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	fb, err := h.feedback.Save(c.Request.Context(), messageID, req.Rating, req.Comment)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, fb)
}
