package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/quitachat/internal/pkg/errcode"
	"github.com/xxxsen/quitachat/internal/pkg/response"
	"github.com/xxxsen/quitachat/internal/service"
)

type ValidationHandler struct {
	validation *service.ValidationService
}

func NewValidationHandler(validation *service.ValidationService) *ValidationHandler {
	return &ValidationHandler{validation: validation}
}

func (h *ValidationHandler) CreateRun(c *gin.Context) {
	var req service.EvaluationInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	res, err := h.validation.Evaluate(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *ValidationHandler) Summary(c *gin.Context) {
	summary, err := h.validation.Summary(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"summary": nonNil(summary)})
}
