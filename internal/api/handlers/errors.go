package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/claimscope/analyzer/internal/learning"
	"github.com/claimscope/analyzer/internal/services"
	"github.com/claimscope/analyzer/internal/store"
	"github.com/claimscope/analyzer/pkg/utils"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var ve *learning.ValidationError
	var te *store.TransportError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrResultNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrResultConfirmed), store.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, services.ErrNoExtractor):
		return http.StatusServiceUnavailable
	case errors.As(err, &te):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *AnalyzerHandler) fail(c *gin.Context, message string, err error) {
	code := statusFor(err)
	entry := h.logger.WithError(err).WithField("path", c.FullPath())
	if code >= http.StatusInternalServerError {
		entry.Error(message)
	} else {
		entry.Debug(message)
	}
	utils.ErrorResponse(c, code, message, err)
}
