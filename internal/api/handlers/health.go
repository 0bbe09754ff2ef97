package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/claimscope/analyzer/internal/health"
)

const serviceName = "claim-analyzer"

type HealthHandler struct {
	checker *health.HealthChecker
}

func NewHealthHandler(checker *health.HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// HandleHealth reports dependency health. Only an unhealthy state
// answers 503.
func (h *HealthHandler) HandleHealth(c *gin.Context) {
	ctx, cancel := withTimeout(c, 5*time.Second)
	defer cancel()

	overall := h.checker.CheckAll(ctx)
	code := http.StatusOK
	if overall.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"health":    overall,
	})
}

func withTimeout(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), d)
}
