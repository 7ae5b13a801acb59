package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"story-text-worker/internal/model"
)

// ErrorResponse тело ответа с ошибкой.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func handleError(c *gin.Context, logger *zap.Logger, err error) {
	var status int
	var resp ErrorResponse

	switch {
	case errors.Is(err, model.ErrNothingToReconcile):
		status = http.StatusNotFound
		resp = ErrorResponse{Code: "nothing_to_reconcile", Message: err.Error()}
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
		resp = ErrorResponse{Code: "not_found", Message: "Story not found"}
	case errors.Is(err, model.ErrStoryLocked):
		status = http.StatusConflict
		resp = ErrorResponse{Code: "story_locked", Message: "Story is being processed by another worker"}
	case errors.Is(err, model.ErrStoryInProgress):
		status = http.StatusConflict
		resp = ErrorResponse{Code: "story_in_progress", Message: "Story is still being processed"}
	case errors.Is(err, model.ErrGeneration), errors.Is(err, model.ErrValidation):
		status = http.StatusBadGateway
		resp = ErrorResponse{Code: "generation_failed", Message: err.Error()}
	default:
		logger.Error("Unhandled internal error", zap.String("path", c.FullPath()), zap.Error(err))
		status = http.StatusInternalServerError
		resp = ErrorResponse{Code: "internal", Message: "An unexpected internal error occurred"}
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}
