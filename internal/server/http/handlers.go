package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"procura/internal/logging"
	"procura/internal/pipeline"
	"procura/internal/rag"
)

type handlers struct {
	engine  *pipeline.Engine
	indexer *rag.Indexer
	store   *rag.Store
	logger  logging.Logger

	llmConfigured bool
}

// handleRoot serves the service banner.
func (h *handlers) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "Purchasing Automation",
		"docs":    "/health",
	})
}

// handleHealth reports backend configuration and store counts.
func (h *handlers) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"llm_configured":  h.llmConfigured,
		"document_counts": h.store.Counts(),
	})
}

// handleRunPipeline executes the full pipeline for one supplier snapshot
// and returns the final state.
func (h *handlers) handleRunPipeline(c *gin.Context) {
	var snapshot pipeline.Snapshot
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid snapshot payload: " + err.Error()})
		return
	}
	if strings.TrimSpace(snapshot.Supplier) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "supplier is required"})
		return
	}
	if strings.TrimSpace(snapshot.SnapshotDate) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "snapshot_date is required"})
		return
	}

	state, err := h.engine.Run(c.Request.Context(), snapshot)
	if err != nil {
		var stageErr *pipeline.StageError
		detail := err.Error()
		if errors.As(err, &stageErr) {
			detail = "pipeline failed at stage " + string(stageErr.Stage) + ": " + stageErr.Err.Error()
		}
		h.logger.Error("pipeline run failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"detail": detail, "partial_state": state})
		return
	}

	c.JSON(http.StatusOK, state)
}

type ingestRequest struct {
	Documents []rag.IngestDocument `json:"documents" binding:"required"`
}

// handleIngest adds reference documents to one of the named indices.
func (h *handlers) handleIngest(c *gin.Context) {
	index := c.Param("index")
	if !isKnownIndex(index) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "unknown index: " + index})
		return
	}

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid ingest payload: " + err.Error()})
		return
	}
	if len(req.Documents) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "documents is empty"})
		return
	}

	stats, err := h.indexer.Ingest(c.Request.Context(), index, req.Documents)
	if err != nil {
		h.logger.Error("ingest into %s failed: %v", index, err)
		c.JSON(http.StatusBadGateway, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func isKnownIndex(index string) bool {
	for _, known := range rag.KnownIndices {
		if index == known {
			return true
		}
	}
	return false
}
