package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/claimscope/analyzer/internal/classifier"
	"github.com/claimscope/analyzer/internal/learning"
	"github.com/claimscope/analyzer/internal/models"
	"github.com/claimscope/analyzer/internal/services"
	"github.com/claimscope/analyzer/pkg/utils"
)

const (
	maxTextBytes   = 64 << 10
	maxImportBytes = 8 << 20
	extractTimeout = 45 * time.Second
	saveTimeout    = 30 * time.Second
)

type AnalyzerHandler struct {
	service *services.AnalyzerService
	logger  *logrus.Logger
}

func NewAnalyzerHandler(service *services.AnalyzerService, logger *logrus.Logger) *AnalyzerHandler {
	return &AnalyzerHandler{
		service: service,
		logger:  logger,
	}
}

// HandleAnalyze classifies pasted claim text, one claim per line.
func (h *AnalyzerHandler) HandleAnalyze(c *gin.Context) {
	startTime := time.Now()

	var req models.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "Text cannot be empty", nil)
		return
	}
	if len(req.Text) > maxTextBytes {
		utils.ErrorResponse(c, http.StatusBadRequest, fmt.Sprintf("Text too long (max %d bytes)", maxTextBytes), nil)
		return
	}

	results, err := h.service.Analyze(req.Text, req.Category)
	if err != nil {
		h.fail(c, "Analysis failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Analysis completed", models.AnalyzeResponse{
		Results:      results,
		Total:        len(results),
		ResponseTime: int(time.Since(startTime).Milliseconds()),
	})
}

// HandleAnalyzeURL extracts claims from a product page and classifies them.
func (h *AnalyzerHandler) HandleAnalyzeURL(c *gin.Context) {
	startTime := time.Now()

	var req models.AnalyzeURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	ctx, cancel := withTimeout(c, extractTimeout)
	defer cancel()

	results, err := h.service.AnalyzeURL(ctx, strings.TrimSpace(req.URL), req.Selector, req.Category)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.WithError(err).WithField("url", req.URL).Warn("Claim extraction failed")
			utils.ErrorResponse(c, http.StatusBadGateway, "Failed to extract claims", err)
			return
		}
		h.fail(c, "Analysis failed", err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"url":     req.URL,
		"results": len(results),
	}).Info("Page analyzed")

	utils.SuccessResponse(c, http.StatusOK, "Analysis completed", models.AnalyzeResponse{
		Results:      results,
		Total:        len(results),
		ResponseTime: int(time.Since(startTime).Milliseconds()),
	})
}

func (h *AnalyzerHandler) HandleListResults(c *gin.Context) {
	results := h.service.Results()
	utils.SuccessResponse(c, http.StatusOK, "Results retrieved", gin.H{
		"results": results,
		"total":   len(results),
	})
}

func (h *AnalyzerHandler) HandleClearResults(c *gin.Context) {
	n := h.service.ClearResults()
	utils.SuccessResponse(c, http.StatusOK, "Results cleared", gin.H{"removed": n})
}

func (h *AnalyzerHandler) HandleGetResult(c *gin.Context) {
	result, err := h.service.Result(c.Param("id"))
	if err != nil {
		h.fail(c, "Result not available", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Result retrieved", result)
}

func (h *AnalyzerHandler) HandleConfirm(c *gin.Context) {
	result, err := h.service.Confirm(c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to confirm result", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Result confirmed", result)
}

func (h *AnalyzerHandler) HandleCorrect(c *gin.Context) {
	var req models.CorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid correction format", err)
		return
	}

	result, record, err := h.service.Correct(c.Param("id"), learning.Correction{
		Dimension: models.Dimension(req.Dimension),
		Kind:      models.CorrectionKind(req.Kind),
		Values:    req.Values,
		Keyword:   req.Keyword,
	})
	if err != nil {
		h.fail(c, "Failed to apply correction", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Correction applied", gin.H{
		"result":     result,
		"correction": record,
	})
}

func (h *AnalyzerHandler) HandleSaveCorrection(c *gin.Context) {
	result, err := h.service.SaveCorrection(c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to save correction", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Correction saved", result)
}

func (h *AnalyzerHandler) HandleStatistics(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Statistics retrieved", h.service.Statistics())
}

func (h *AnalyzerHandler) HandleTaxonomy(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Taxonomy retrieved", models.TaxonomyResponse{
		Categories: classifier.Categories(),
		Efficacy:   classifier.TaxonomyFor(models.DimensionEfficacy),
		Types:      classifier.TaxonomyFor(models.DimensionType),
		Durations:  classifier.TaxonomyFor(models.DimensionDuration),
	})
}

func (h *AnalyzerHandler) HandleLearningSummary(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Learning summary retrieved", gin.H{
		"summary":     h.service.LearningSummary(),
		"persistence": h.service.PersistenceStatus(),
	})
}

func (h *AnalyzerHandler) HandleListKeywords(c *gin.Context) {
	keywords, err := h.service.LearnedKeywords(models.Dimension(c.Param("dimension")))
	if err != nil {
		h.fail(c, "Failed to list keywords", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Keywords retrieved", keywords)
}

func (h *AnalyzerHandler) HandleAddKeyword(c *gin.Context) {
	var req models.KeywordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid keyword format", err)
		return
	}

	ctx, cancel := withTimeout(c, saveTimeout)
	defer cancel()

	added, err := h.service.AddKeyword(ctx, models.Dimension(req.Dimension), req.Label, req.Keyword)
	if err != nil {
		h.fail(c, "Failed to add keyword", err)
		return
	}
	if !added {
		utils.SuccessResponse(c, http.StatusOK, "Keyword already learned", gin.H{"added": false})
		return
	}
	utils.SuccessResponse(c, http.StatusCreated, "Keyword added", gin.H{"added": true})
}

func (h *AnalyzerHandler) HandleEditKeyword(c *gin.Context) {
	var req models.EditKeywordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid keyword format", err)
		return
	}

	changed, err := h.service.EditKeyword(models.Dimension(req.Dimension), req.Label, req.OldKeyword, req.NewKeyword)
	if err != nil {
		h.fail(c, "Failed to edit keyword", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Keyword edit processed", gin.H{"changed": changed})
}

func (h *AnalyzerHandler) HandleDeleteKeyword(c *gin.Context) {
	var req models.KeywordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid keyword format", err)
		return
	}

	removed, err := h.service.DeleteKeyword(models.Dimension(req.Dimension), req.Label, req.Keyword)
	if err != nil {
		h.fail(c, "Failed to delete keyword", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Keyword delete processed", gin.H{"removed": removed})
}

func (h *AnalyzerHandler) HandleClearLabel(c *gin.Context) {
	n, err := h.service.ClearLabel(models.Dimension(c.Param("dimension")), c.Param("label"))
	if err != nil {
		h.fail(c, "Failed to clear label", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Label cleared", gin.H{"removed": n})
}

func (h *AnalyzerHandler) HandleClearDimension(c *gin.Context) {
	n, err := h.service.ClearDimension(models.Dimension(c.Param("dimension")))
	if err != nil {
		h.fail(c, "Failed to clear dimension", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Dimension cleared", gin.H{"removed": n})
}

// HandleImport merges an uploaded learning file into the current state.
func (h *AnalyzerHandler) HandleImport(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes)
	data, err := c.GetRawData()
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Failed to read import payload", err)
		return
	}

	summary, err := h.service.Import(data)
	if err != nil {
		h.fail(c, "Import rejected", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Learning data imported", summary)
}

// HandleExport sends the learning state as a downloadable JSON file.
func (h *AnalyzerHandler) HandleExport(c *gin.Context) {
	payload, err := h.service.Export()
	if err != nil {
		h.fail(c, "Export failed", err)
		return
	}

	filename := fmt.Sprintf("claim-learning-%s.json", payload.ExportDate.Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.JSON(http.StatusOK, payload)
}

func (h *AnalyzerHandler) HandleSaveNow(c *gin.Context) {
	ctx, cancel := withTimeout(c, saveTimeout)
	defer cancel()

	if err := h.service.SaveNow(ctx); err != nil {
		h.fail(c, "Save failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Learning data saved", h.service.PersistenceStatus())
}

func (h *AnalyzerHandler) HandleSync(c *gin.Context) {
	ctx, cancel := withTimeout(c, saveTimeout)
	defer cancel()

	summary, err := h.service.Sync(ctx)
	if err != nil {
		h.fail(c, "Sync failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Learning data synchronized", summary)
}

func (h *AnalyzerHandler) HandleClearLearning(c *gin.Context) {
	ctx, cancel := withTimeout(c, saveTimeout)
	defer cancel()

	if err := h.service.ClearLearning(ctx); err != nil {
		h.fail(c, "Learning data cleared but not saved", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Learning data cleared", nil)
}
