package server

import (
	"encoding/json"
	"net/http"

	"github.com/condoleads/condoleads-sub001/internal/syncer"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	batchIDHeader      = "X-Batch-ID"
	ndjsonContentType  = "application/x-ndjson"
	streamCacheControl = "no-cache"
)

// streamBatchEvents writes one JSON event per line until the batch completes or the client
// goes away. Leaving early only ends this subscription; the batch keeps running.
func (h *httpHandler) streamBatchEvents(c *gin.Context, batch *syncer.Batch) {
	c.Header("Content-Type", ndjsonContentType)
	c.Header("Cache-Control", streamCacheControl)
	c.Header("X-Accel-Buffering", "no")
	c.Header(batchIDHeader, batch.ID())
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	encoder := json.NewEncoder(c.Writer)
	events := batch.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("event stream client disconnected", zap.String("batch_id", batch.ID()))
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := encoder.Encode(event); err != nil {
				h.logger.Debug("event stream write failed", zap.String("batch_id", batch.ID()), zap.Error(err))
				return
			}
			c.Writer.Flush()
		}
	}
}
