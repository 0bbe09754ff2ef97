package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/claimscope/analyzer/internal/api/handlers"
	"github.com/claimscope/analyzer/internal/health"
	"github.com/claimscope/analyzer/internal/middleware"
	"github.com/claimscope/analyzer/internal/services"
)

type RouterConfig struct {
	Service   *services.AnalyzerService
	Health    *health.HealthChecker
	RateLimit int
	Logger    *logrus.Logger
}

// NewRouter builds the HTTP surface. The rate limiter's cleanup loop
// stops when ctx is cancelled.
func NewRouter(ctx context.Context, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestLogger(cfg.Logger))

	if cfg.Health != nil {
		healthHandler := handlers.NewHealthHandler(cfg.Health)
		router.GET("/health", healthHandler.HandleHealth)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handlers.NewAnalyzerHandler(cfg.Service, cfg.Logger)
	limiter := middleware.NewRateLimiter(ctx, cfg.RateLimit)

	v1 := router.Group("/api/v1")
	v1.Use(limiter.RateLimit())
	{
		v1.POST("/analyze", h.HandleAnalyze)
		v1.POST("/analyze/url", h.HandleAnalyzeURL)
		v1.GET("/statistics", h.HandleStatistics)
		v1.GET("/taxonomy", h.HandleTaxonomy)

		results := v1.Group("/results")
		results.GET("", h.HandleListResults)
		results.DELETE("", h.HandleClearResults)
		results.GET("/:id", h.HandleGetResult)
		results.POST("/:id/confirm", h.HandleConfirm)
		results.POST("/:id/corrections", h.HandleCorrect)
		results.POST("/:id/save", h.HandleSaveCorrection)

		learning := v1.Group("/learning")
		learning.GET("", h.HandleLearningSummary)
		learning.DELETE("", h.HandleClearLearning)
		learning.GET("/keywords/:dimension", h.HandleListKeywords)
		learning.POST("/keywords", h.HandleAddKeyword)
		learning.PUT("/keywords", h.HandleEditKeyword)
		learning.DELETE("/keywords", h.HandleDeleteKeyword)
		learning.DELETE("/labels/:dimension/:label", h.HandleClearLabel)
		learning.DELETE("/dimensions/:dimension", h.HandleClearDimension)
		learning.POST("/import", h.HandleImport)
		learning.GET("/export", h.HandleExport)
		learning.POST("/save", h.HandleSaveNow)
		learning.POST("/sync", h.HandleSync)
	}

	return router
}
