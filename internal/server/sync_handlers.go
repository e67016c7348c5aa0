package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/condoleads/condoleads-sub001/internal/syncer"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type submitEntityPayload struct {
	Mode string `json:"mode"`
}

type submitEntityResponse struct {
	JobID    string `json:"job_id"`
	EntityID string `json:"entity_id"`
}

type submitBatchPayload struct {
	EntityIDs   []string `json:"entity_ids"`
	Concurrency int      `json:"concurrency"`
	Mode        string   `json:"mode"`
}

func (h *httpHandler) handleSubmitEntity(c *gin.Context) {
	var request submitEntityPayload
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	mode, err := syncer.ParseMode(request.Mode)
	if err != nil {
		h.respondError(c, "submit_entity", err)
		return
	}

	entityID := c.Param("entityID")
	if _, err := h.listings.GetEntity(c.Request.Context(), entityID); err != nil {
		h.respondError(c, "submit_entity", err)
		return
	}

	batch, err := h.sync.SubmitEntity(c.Request.Context(), entityID, mode)
	if err != nil {
		h.respondError(c, "submit_entity", err)
		return
	}
	h.logger.Info("entity sync submitted",
		zap.String("entity_id", entityID),
		zap.String("job_id", batch.ID()),
		zap.String("subject", c.GetString(subjectContextKey)))
	c.JSON(http.StatusAccepted, submitEntityResponse{JobID: batch.ID(), EntityID: entityID})
}

// handleSubmitBatch starts the batch and streams its events on the same response.
func (h *httpHandler) handleSubmitBatch(c *gin.Context) {
	var request submitBatchPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.Concurrency < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_concurrency"})
		return
	}
	mode, err := syncer.ParseMode(request.Mode)
	if err != nil {
		h.respondError(c, "submit_batch", err)
		return
	}

	batch, err := h.sync.SubmitBatch(c.Request.Context(), request.EntityIDs, request.Concurrency, mode)
	if err != nil {
		h.respondError(c, "submit_batch", err)
		return
	}
	h.logger.Info("batch sync submitted",
		zap.String("batch_id", batch.ID()),
		zap.Int("entities", len(request.EntityIDs)),
		zap.String("subject", c.GetString(subjectContextKey)))
	h.streamBatchEvents(c, batch)
}

func (h *httpHandler) handleListBatches(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"batches": h.sync.Batches()})
}

func (h *httpHandler) handleGetBatch(c *gin.Context) {
	batch, ok := h.sync.Batch(c.Param("batchID"))
	if !ok {
		h.respondError(c, "get_batch", syncer.ErrBatchNotFound)
		return
	}
	c.JSON(http.StatusOK, batch.Snapshot())
}

func (h *httpHandler) handleBatchEvents(c *gin.Context) {
	batch, ok := h.sync.Batch(c.Param("batchID"))
	if !ok {
		h.respondError(c, "batch_events", syncer.ErrBatchNotFound)
		return
	}
	h.streamBatchEvents(c, batch)
}

func (h *httpHandler) handleRetryItem(c *gin.Context) {
	batchID := c.Param("batchID")
	entityID := c.Param("entityID")
	if err := h.sync.RetryItem(c.Request.Context(), batchID, entityID); err != nil {
		h.respondError(c, "retry_item", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"batch_id": batchID, "entity_id": entityID})
}

func (h *httpHandler) handleDiscardBatch(c *gin.Context) {
	if err := h.sync.Discard(c.Param("batchID")); err != nil {
		h.respondError(c, "discard_batch", err)
		return
	}
	c.Status(http.StatusNoContent)
}
